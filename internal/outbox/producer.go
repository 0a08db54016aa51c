package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domainoutbox "tenantflow/internal/domain/outbox"
	"tenantflow/internal/eventlog"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
)

// Record describes one outbox row. EventID is generated when zero.
type Record struct {
	EventID       uuid.UUID
	Payload       events.Payload
	DedupeKey     string
	CorrelationID string
	CreatedAt     time.Time
}

// Producer writes outbox rows through repositories bound to the caller's
// transaction. It never opens a transaction of its own.
type Producer struct {
	clock func() time.Time
}

func NewProducer() *Producer {
	return &Producer{clock: func() time.Time { return time.Now().UTC() }}
}

// Record inserts the event, or returns the id of the non-terminal row that
// already holds its dedupe key. recorded is false in the second case.
func (p *Producer) Record(ctx context.Context, repo repository.OutboxRepository, r Record) (eventID uuid.UUID, recorded bool, err error) {
	if r.Payload == nil {
		return uuid.Nil, false, &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "outbox payload is required"}
	}
	raw, err := events.Encode(r.Payload)
	if err != nil {
		return uuid.Nil, false, &tenantflow_errors.ValidationError{Code: "INVALID_PAYLOAD", Detail: err.Error()}
	}

	if r.DedupeKey != "" {
		existing, err := repo.GetPendingByDedupeKey(ctx, r.DedupeKey)
		switch {
		case err == nil:
			return existing.EventID, false, nil
		case !errors.Is(err, tenantflow_errors.ErrNotFound):
			return uuid.Nil, false, fmt.Errorf("lookup outbox dedupe key %s: %w", r.DedupeKey, err)
		}
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.clock()
	}
	ev := domainoutbox.OutboxEvent{
		EventID:        r.EventID,
		OrganizationID: r.Payload.Organization(),
		EventType:      r.Payload.EventType(),
		AggregateType:  r.Payload.AggregateType(),
		AggregateID:    r.Payload.AggregateID(),
		Payload:        string(raw),
		DedupeKey:      sql.NullString{String: r.DedupeKey, Valid: r.DedupeKey != ""},
		CorrelationID:  sql.NullString{String: r.CorrelationID, Valid: r.CorrelationID != ""},
		OccurredAt:     r.Payload.Timestamp(),
		CreatedAt:      createdAt,
	}
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}

	inserted, err := repo.InsertIfAbsent(ctx, &ev)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert outbox event %s: %w", ev.EventType, err)
	}
	if inserted {
		return ev.EventID, true, nil
	}

	// Lost a race with a concurrent producer or the id already exists.
	if r.DedupeKey != "" {
		if existing, err := repo.GetPendingByDedupeKey(ctx, r.DedupeKey); err == nil {
			return existing.EventID, false, nil
		}
	}
	existing, err := repo.GetByID(ctx, ev.EventID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load outbox event %s after conflict: %w", ev.EventID, err)
	}
	return existing.EventID, false, nil
}

// Emit appends the fact to the event log and records its outbox row with the
// same id, both through tx. A duplicate append writes nothing.
func (p *Producer) Emit(ctx context.Context, tx repository.Store, entry eventlog.NewEntry) (uuid.UUID, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.clock()
	}
	logged, duplicate, err := eventlog.Append(ctx, tx.EventLogs(), entry)
	if err != nil {
		return uuid.Nil, err
	}
	if duplicate {
		return logged.ID, nil
	}
	id, _, err := p.Record(ctx, tx.Outbox(), Record{
		EventID:       logged.ID,
		Payload:       entry.Payload,
		DedupeKey:     entry.IdempotencyKey,
		CorrelationID: entry.CorrelationID,
		CreatedAt:     logged.CreatedAt,
	})
	return id, err
}
