package consumers

import (
	"context"

	"tenantflow/internal/domain/projection"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"
)

// CrmConsumer keeps per-contact interaction counters. Counter updates commute,
// so there is no stale guard; the ingested-event row is the dedupe marker.
type CrmConsumer struct {
	store repository.Store
}

func NewCrmConsumer(store repository.Store) *CrmConsumer {
	return &CrmConsumer{store: store}
}

func (c *CrmConsumer) Name() string { return "crm" }

func (c *CrmConsumer) EventTypes() []string {
	return []string{
		events.EventTypeCheckoutCreated,
		events.EventTypeCheckinRecorded,
		events.EventTypeOwnershipTransferred,
	}
}

func (c *CrmConsumer) Apply(ctx context.Context, ev Event) (Result, error) {
	var deltas []projection.CrmContact
	contact := func(ref string) projection.CrmContact {
		return projection.CrmContact{
			OrganizationID:    ev.OrganizationID,
			IdentityRef:       ref,
			LastInteractionAt: ev.OccurredAt,
			UpdatedAt:         ev.OccurredAt,
		}
	}

	switch p := ev.Payload.(type) {
	case *events.CheckoutCreated:
		if p.BuyerIdentityRef == "" {
			// guest checkout, nobody to attribute it to
			return Deduped(), nil
		}
		d := contact(p.BuyerIdentityRef)
		d.CheckoutCount = 1
		d.CheckoutTotalMinor = p.Total
		deltas = append(deltas, d)
	case *events.CheckinRecorded:
		d := contact(p.HolderRef)
		d.CheckinCount = 1
		deltas = append(deltas, d)
	case *events.OwnershipTransferred:
		from := contact(p.FromRef)
		from.TransfersOut = 1
		to := contact(p.ToRef)
		to.TransfersIn = 1
		deltas = append(deltas, from, to)
	default:
		return Deduped(), nil
	}

	var res Result
	err := c.store.WithTx(ctx, func(tx repository.Store) error {
		inserted, err := tx.Projections().InsertCrmIngestedEvent(ctx, &projection.CrmIngestedEvent{
			EventID:        ev.ID,
			OrganizationID: ev.OrganizationID,
			EventType:      ev.Type,
			IngestedAt:     ev.OccurredAt,
		})
		if err != nil {
			return err
		}
		if !inserted {
			res = Deduped()
			return nil
		}
		for i := range deltas {
			if err := tx.Projections().IncrementCrmContact(ctx, &deltas[i]); err != nil {
				return err
			}
		}
		res = Applied()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
