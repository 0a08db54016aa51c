// Package consumers holds the idempotent projections fed by the outbox.
//
// Each consumer keeps its own durable marker. A redelivery of an event the
// marker already reflects is reported as deduped, and an event older than the
// marker as stale. The effect and the marker are written in one transaction.
package consumers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenantflow/internal/events"
	"tenantflow/internal/outbox"
	"tenantflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the outcome of applying one event. OK=false carries a Code and
// is never retried.
type Result struct {
	OK      bool
	Deduped bool
	Stale   bool
	Code    string
}

func Applied() Result             { return Result{OK: true} }
func Deduped() Result             { return Result{OK: true, Deduped: true} }
func Stale() Result               { return Result{OK: true, Stale: true} }
func Rejected(code string) Result { return Result{Code: code} }

// Event is a decoded delivery. ID is the event marker.
type Event struct {
	ID             uuid.UUID
	Type           string
	OrganizationID uuid.UUID
	OccurredAt     time.Time
	Payload        events.Payload
}

// Consumer applies events of the types it lists. Apply returns a plain error
// for failures worth retrying; a permanent failure is a Rejected result or
// an error wrapped with outbox.Permanent.
type Consumer interface {
	Name() string
	EventTypes() []string
	Apply(ctx context.Context, ev Event) (Result, error)
}

// Handler adapts c to the publisher. The payload is decoded into its typed
// variant here; an undecodable payload is permanent.
func Handler(c Consumer, logger *zap.Logger) outbox.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("consumer", c.Name()))

	return outbox.HandlerFunc(func(ctx context.Context, d outbox.Delivery) (outbox.Ack, error) {
		payload, err := events.Decode(d.EventType, d.Payload)
		switch {
		case errors.Is(err, events.ErrUnknownEventType):
			return outbox.AckDeduped, nil
		case err != nil:
			return outbox.AckApplied, outbox.Permanent(err)
		}
		if payload.Organization() != d.OrganizationID {
			return outbox.AckApplied, outbox.Permanent(fmt.Errorf("%s: payload organization %s does not match event organization %s",
				c.Name(), payload.Organization(), d.OrganizationID))
		}

		res, err := c.Apply(ctx, Event{
			ID:             d.EventID,
			Type:           d.EventType,
			OrganizationID: d.OrganizationID,
			OccurredAt:     payload.Timestamp(),
			Payload:        payload,
		})
		if err != nil {
			if repository.IsPermanent(err) {
				return outbox.AckApplied, outbox.Permanent(fmt.Errorf("%s: %w", c.Name(), err))
			}
			return outbox.AckApplied, fmt.Errorf("%s: %w", c.Name(), err)
		}
		if !res.OK {
			return outbox.AckApplied, outbox.Permanent(fmt.Errorf("%s rejected %s: %s", c.Name(), d.EventType, res.Code))
		}

		log.Debug("Consumer applied event",
			zap.String("event_id", d.EventID.String()),
			zap.String("event_type", d.EventType),
			zap.Bool("deduped", res.Deduped),
			zap.Bool("stale", res.Stale),
		)
		switch {
		case res.Deduped:
			return outbox.AckDeduped, nil
		case res.Stale:
			return outbox.AckStale, nil
		default:
			return outbox.AckApplied, nil
		}
	})
}

// Register wires every consumer into registry. Event types served by more
// than one consumer are fanned out.
func Register(registry *outbox.Registry, logger *zap.Logger, consumers ...Consumer) error {
	byType := map[string][]outbox.Handler{}
	var order []string
	for _, c := range consumers {
		h := Handler(c, logger)
		for _, t := range c.EventTypes() {
			if _, seen := byType[t]; !seen {
				order = append(order, t)
			}
			byType[t] = append(byType[t], h)
		}
	}
	for _, t := range order {
		handlers := byType[t]
		h := handlers[0]
		if len(handlers) > 1 {
			h = outbox.FanOut(handlers...)
		}
		if err := registry.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// markerState compares an incoming event to a consumer marker.
func markerState(lastEventID uuid.UUID, lastEventAt time.Time, ev Event) (Result, bool) {
	if lastEventID == ev.ID {
		return Deduped(), true
	}
	if lastEventAt.After(ev.OccurredAt) {
		return Stale(), true
	}
	return Result{}, false
}

// New builds the standard consumer set.
func New(store repository.Store, notifier Notifier, logger *zap.Logger) []Consumer {
	return []Consumer{
		NewSearchIndexConsumer(store),
		NewLoyaltyConsumer(store),
		NewCrmConsumer(store),
		NewSupportTicketConsumer(store, notifier, logger),
	}
}
