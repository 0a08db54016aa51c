package consumers

import (
	"context"
	"fmt"

	"tenantflow/internal/domain/projection"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"

	"github.com/google/uuid"
)

// LoyaltyConsumer enqueues one notification per ledger movement.
type LoyaltyConsumer struct {
	store repository.Store
}

func NewLoyaltyConsumer(store repository.Store) *LoyaltyConsumer {
	return &LoyaltyConsumer{store: store}
}

func (c *LoyaltyConsumer) Name() string { return "loyalty" }

func (c *LoyaltyConsumer) EventTypes() []string {
	return []string{events.EventTypeLoyaltyPointsEarned, events.EventTypeLoyaltyPointsReversed}
}

// LoyaltyDedupeKey is the marker for one ledger movement.
func LoyaltyDedupeKey(ledgerID, eventType string) string {
	return fmt.Sprintf("loyalty:%s:%s", ledgerID, eventType)
}

func (c *LoyaltyConsumer) Apply(ctx context.Context, ev Event) (Result, error) {
	var (
		movement events.LoyaltyMovement
		points   int64
	)
	switch p := ev.Payload.(type) {
	case *events.LoyaltyPointsEarned:
		movement = p.LoyaltyMovement
		points = p.Points
	case *events.LoyaltyPointsReversed:
		movement = p.LoyaltyMovement
		points = -p.Points
	default:
		return Deduped(), nil
	}

	n := projection.LoyaltyNotification{
		ID:             uuid.New(),
		DedupeKey:      LoyaltyDedupeKey(movement.LedgerID, ev.Type),
		OrganizationID: movement.OrganizationID,
		LedgerID:       movement.LedgerID,
		UserRef:        movement.UserRef,
		EventType:      ev.Type,
		Points:         points,
		SourceEventID:  ev.ID,
		CreatedAt:      ev.OccurredAt,
	}

	var res Result
	err := c.store.WithTx(ctx, func(tx repository.Store) error {
		existing, err := tx.Projections().CountLoyaltyNotifications(ctx, n.DedupeKey)
		if err != nil {
			return err
		}
		if existing > 0 {
			res = Deduped()
			return nil
		}
		inserted, err := tx.Projections().InsertLoyaltyNotification(ctx, &n)
		if err != nil {
			return err
		}
		if !inserted {
			res = Deduped()
			return nil
		}
		res = Applied()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
