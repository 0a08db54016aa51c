package consumers

import (
	"context"
	"errors"

	"tenantflow/internal/domain/projection"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier publishes realtime hints after a projection commits.
type Notifier interface {
	PublishEnvelope(ctx context.Context, channel string, env events.Envelope) error
}

// ChannelFunc names the hint channel for an organization.
type ChannelFunc func(orgID uuid.UUID) string

// SupportTicketConsumer mirrors ticket status changes and sends a hint to
// connected agents once the new status is committed.
type SupportTicketConsumer struct {
	store    repository.Store
	notifier Notifier
	channel  ChannelFunc
	logger   *zap.Logger
}

func NewSupportTicketConsumer(store repository.Store, notifier Notifier, logger *zap.Logger) *SupportTicketConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupportTicketConsumer{
		store:    store,
		notifier: notifier,
		channel:  defaultSupportChannel,
		logger:   logger,
	}
}

func defaultSupportChannel(orgID uuid.UUID) string {
	return "channel:org:" + orgID.String() + ":support"
}

// WithChannel overrides the hint channel naming.
func (c *SupportTicketConsumer) WithChannel(fn ChannelFunc) *SupportTicketConsumer {
	if fn != nil {
		c.channel = fn
	}
	return c
}

func (c *SupportTicketConsumer) Name() string { return "support_ticket" }

func (c *SupportTicketConsumer) EventTypes() []string {
	return []string{events.EventTypeSupportTicketStatusChanged}
}

func (c *SupportTicketConsumer) Apply(ctx context.Context, ev Event) (Result, error) {
	p, ok := ev.Payload.(*events.SupportTicketStatusChanged)
	if !ok {
		return Deduped(), nil
	}

	var res Result
	err := c.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Projections().GetSupportTicketSync(ctx, p.TicketID)
		switch {
		case err == nil:
			if current.OrganizationID != p.OrganizationID {
				res = Rejected("TICKET_ORGANIZATION_MISMATCH")
				return nil
			}
			if r, done := markerState(current.LastEventID, current.LastEventAt, ev); done {
				res = r
				return nil
			}
		case !errors.Is(err, tenantflow_errors.ErrNotFound):
			return err
		}

		saved, err := tx.Projections().SaveSupportTicketSync(ctx, &projection.SupportTicketSync{
			TicketID:       p.TicketID,
			OrganizationID: p.OrganizationID,
			Status:         p.Status,
			LastEventID:    ev.ID,
			LastEventAt:    ev.OccurredAt,
			UpdatedAt:      ev.OccurredAt,
		})
		if err != nil {
			return err
		}
		if !saved {
			res = Stale()
			return nil
		}
		res = Applied()
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.OK && !res.Deduped && !res.Stale {
		c.notify(ctx, ev.ID, p)
	}
	return res, nil
}

// notify is best effort. The projection is already committed and a redelivery
// would be deduped, so a failed publish is logged and dropped.
func (c *SupportTicketConsumer) notify(ctx context.Context, eventID uuid.UUID, p *events.SupportTicketStatusChanged) {
	if c.notifier == nil {
		return
	}
	env, err := events.NewEnvelope(eventID.String(), p)
	if err != nil {
		c.logger.Warn("Failed to build support ticket hint", zap.Error(err))
		return
	}
	if err := c.notifier.PublishEnvelope(ctx, c.channel(p.OrganizationID), env); err != nil {
		c.logger.Warn("Failed to publish support ticket hint",
			zap.String("ticket_id", p.TicketID),
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
	}
}
