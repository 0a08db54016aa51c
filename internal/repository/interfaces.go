package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tenantflow/internal/domain/eventlog"
	"tenantflow/internal/domain/outbox"
	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/projection"
	"tenantflow/internal/domain/source"
)

// Store groups the repositories that share one transaction. Repositories
// obtained from the Store passed to WithTx's callback run inside that
// transaction; WithTx on a transactional Store nests inside it.
type Store interface {
	EventLogs() EventLogRepository
	Outbox() OutboxRepository
	Payments() PaymentRepository
	Sources() SourceRepository
	Projections() ProjectionRepository

	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type EventLogRepository interface {
	// InsertIfAbsent inserts e unless its idempotency key exists. It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, e *eventlog.Entry) (bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (eventlog.Entry, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]eventlog.Entry, error)
}

type OutboxStats struct {
	Pending      int64
	DeadLettered int64
	Published    int64
}

type OutboxRepository interface {
	// InsertIfAbsent skips the insert when the event id or a non-terminal dedupe key already exists.
	InsertIfAbsent(ctx context.Context, e *outbox.OutboxEvent) (bool, error)
	GetByID(ctx context.Context, eventID uuid.UUID) (outbox.OutboxEvent, error)
	GetPendingByDedupeKey(ctx context.Context, dedupeKey string) (outbox.OutboxEvent, error)

	// Claim stamps up to limit claimable rows with claimedAt=now and token in one statement.
	Claim(ctx context.Context, now time.Time, staleLease time.Duration, token string, limit int) ([]outbox.OutboxEvent, error)

	// The terminal and retry updates only touch rows still owned by token. false means the lease was lost.
	MarkPublished(ctx context.Context, eventID uuid.UUID, token string, now time.Time) (bool, error)
	Reschedule(ctx context.Context, eventID uuid.UUID, token string, attempts int, nextAttemptAt time.Time, lastError string) (bool, error)
	DeadLetter(ctx context.Context, eventID uuid.UUID, token string, attempts int, now time.Time, lastError string) (bool, error)

	CreateDelivery(ctx context.Context, d *outbox.OutboxEventDelivery) error
	ListDeliveries(ctx context.Context, eventID uuid.UUID) ([]outbox.OutboxEventDelivery, error)
	ListDeadLettered(ctx context.Context, limit int) ([]outbox.OutboxEvent, error)
	Stats(ctx context.Context) (OutboxStats, error)
}

type PaymentRepository interface {
	// InsertIfAbsent returns false when (source_type, source_id, idempotency_key) is taken.
	InsertIfAbsent(ctx context.Context, p *payment.Payment) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (payment.Payment, error)
	// LockByID reads the payment with a row lock held until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (payment.Payment, error)
	GetByIdempotency(ctx context.Context, sourceType payment.SourceType, sourceID, key string) (payment.Payment, error)

	CreateLedgerEntries(ctx context.Context, entries []payment.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, paymentID uuid.UUID) ([]payment.LedgerEntry, error)

	UpdateProcessorFees(ctx context.Context, id uuid.UUID, actual int64, now time.Time) error
	// AttachIntent sets the processor intent only while none is recorded.
	AttachIntent(ctx context.Context, id uuid.UUID, intentID string, status payment.Status, now time.Time) (bool, error)
}

type SourceRepository interface {
	GetSource(ctx context.Context, sourceType payment.SourceType, sourceID string) (source.CheckoutSource, error)
	GetFeeConfig(ctx context.Context, orgID uuid.UUID) (source.OrganizationFeeConfig, error)
	SaveSource(ctx context.Context, s *source.CheckoutSource) error
	SaveFeeConfig(ctx context.Context, c *source.OrganizationFeeConfig) error
}

type ProjectionRepository interface {
	GetSearchItem(ctx context.Context, orgID uuid.UUID, sourceType, sourceID string) (projection.SearchIndexItem, error)
	// SaveSearchItem and SaveSupportTicketSync upsert unless the stored marker is newer; false means skipped.
	SaveSearchItem(ctx context.Context, item *projection.SearchIndexItem) (bool, error)

	InsertLoyaltyNotification(ctx context.Context, n *projection.LoyaltyNotification) (bool, error)
	CountLoyaltyNotifications(ctx context.Context, dedupeKey string) (int64, error)

	InsertCrmIngestedEvent(ctx context.Context, e *projection.CrmIngestedEvent) (bool, error)
	GetCrmContact(ctx context.Context, orgID uuid.UUID, identityRef string) (projection.CrmContact, error)
	IncrementCrmContact(ctx context.Context, delta *projection.CrmContact) error

	GetSupportTicketSync(ctx context.Context, ticketID string) (projection.SupportTicketSync, error)
	SaveSupportTicketSync(ctx context.Context, s *projection.SupportTicketSync) (bool, error)
}
