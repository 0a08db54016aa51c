// Package memstore is an in-memory repository.Store for tests. It enforces the
// same unique keys, claim predicate and token guards as the Postgres store.
// Transactions are serialized and work on a copy that is swapped in on commit.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"tenantflow/internal/domain/eventlog"
	"tenantflow/internal/domain/outbox"
	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/projection"
	"tenantflow/internal/domain/source"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
)

type sourceKey struct {
	sourceType payment.SourceType
	sourceID   string
}

type searchKey struct {
	orgID      uuid.UUID
	sourceType string
	sourceID   string
}

type crmKey struct {
	orgID       uuid.UUID
	identityRef string
}

type state struct {
	eventLogs   map[string]eventlog.Entry
	outbox      map[uuid.UUID]outbox.OutboxEvent
	deliveries  []outbox.OutboxEventDelivery
	sources     map[sourceKey]source.CheckoutSource
	feeConfigs  map[uuid.UUID]source.OrganizationFeeConfig
	payments    map[uuid.UUID]payment.Payment
	ledger      []payment.LedgerEntry
	searchItems map[searchKey]projection.SearchIndexItem
	loyalty     map[string]projection.LoyaltyNotification
	crmEvents   map[uuid.UUID]projection.CrmIngestedEvent
	crmContacts map[crmKey]projection.CrmContact
	tickets     map[string]projection.SupportTicketSync
}

func newState() *state {
	return &state{
		eventLogs:   map[string]eventlog.Entry{},
		outbox:      map[uuid.UUID]outbox.OutboxEvent{},
		sources:     map[sourceKey]source.CheckoutSource{},
		feeConfigs:  map[uuid.UUID]source.OrganizationFeeConfig{},
		payments:    map[uuid.UUID]payment.Payment{},
		searchItems: map[searchKey]projection.SearchIndexItem{},
		loyalty:     map[string]projection.LoyaltyNotification{},
		crmEvents:   map[uuid.UUID]projection.CrmIngestedEvent{},
		crmContacts: map[crmKey]projection.CrmContact{},
		tickets:     map[string]projection.SupportTicketSync{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		eventLogs:   copyMap(s.eventLogs),
		outbox:      copyMap(s.outbox),
		deliveries:  append([]outbox.OutboxEventDelivery(nil), s.deliveries...),
		sources:     copyMap(s.sources),
		feeConfigs:  copyMap(s.feeConfigs),
		payments:    copyMap(s.payments),
		ledger:      append([]payment.LedgerEntry(nil), s.ledger...),
		searchItems: copyMap(s.searchItems),
		loyalty:     copyMap(s.loyalty),
		crmEvents:   copyMap(s.crmEvents),
		crmContacts: copyMap(s.crmContacts),
		tickets:     copyMap(s.tickets),
	}
}

type root struct {
	mu sync.Mutex
	st *state

	faultMu sync.Mutex
	faults  map[string]error
}

type Store struct {
	root *root
	tx   *state
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{root: &root{st: newState(), faults: map[string]error{}}}
}

// FailNext makes the next call to op return err. op names a repository
// method, e.g. "Payments.CreateLedgerEntries".
func (s *Store) FailNext(op string, err error) {
	s.root.faultMu.Lock()
	defer s.root.faultMu.Unlock()
	s.root.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.root.faultMu.Lock()
	defer s.root.faultMu.Unlock()
	if err, ok := s.root.faults[op]; ok {
		delete(s.root.faults, op)
		return err
	}
	return nil
}

func (s *Store) do(op string, fn func(st *state) error) error {
	if err := s.fault(op); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx)
	}
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return fn(s.root.st)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.tx != nil {
		nested := s.tx.clone()
		if err := fn(&Store{root: s.root, tx: nested}); err != nil {
			return err
		}
		*s.tx = *nested
		return nil
	}

	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	working := s.root.st.clone()
	if err := fn(&Store{root: s.root, tx: working}); err != nil {
		return err
	}
	s.root.st = working
	return nil
}

func (s *Store) EventLogs() repository.EventLogRepository     { return eventLogRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository          { return outboxRepo{s} }
func (s *Store) Payments() repository.PaymentRepository       { return paymentRepo{s} }
func (s *Store) Sources() repository.SourceRepository         { return sourceRepo{s} }
func (s *Store) Projections() repository.ProjectionRepository { return projectionRepo{s} }

// Inspection helpers for assertions.

func (s *Store) PaymentCount() int {
	n := 0
	_ = s.do("", func(st *state) error { n = len(st.payments); return nil })
	return n
}

func (s *Store) LedgerEntryCount() int {
	n := 0
	_ = s.do("", func(st *state) error { n = len(st.ledger); return nil })
	return n
}

func (s *Store) EventLogCount() int {
	n := 0
	_ = s.do("", func(st *state) error { n = len(st.eventLogs); return nil })
	return n
}

func (s *Store) OutboxEvents() []outbox.OutboxEvent {
	var out []outbox.OutboxEvent
	_ = s.do("", func(st *state) error {
		for _, e := range st.outbox {
			out = append(out, e)
		}
		return nil
	})
	sortEvents(out)
	return out
}

// PutOutboxEvent stores e as is. Used to set up rows in specific states.
func (s *Store) PutOutboxEvent(e outbox.OutboxEvent) {
	_ = s.do("", func(st *state) error { st.outbox[e.EventID] = e; return nil })
}

func (s *Store) LoyaltyNotifications() []projection.LoyaltyNotification {
	var out []projection.LoyaltyNotification
	_ = s.do("", func(st *state) error {
		for _, n := range st.loyalty {
			out = append(out, n)
		}
		return nil
	})
	return out
}

func sortEvents(events []outbox.OutboxEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].EventID.String() < events[j].EventID.String()
	})
}

type eventLogRepo struct{ s *Store }

func (r eventLogRepo) InsertIfAbsent(ctx context.Context, e *eventlog.Entry) (bool, error) {
	inserted := false
	err := r.s.do("EventLogs.InsertIfAbsent", func(st *state) error {
		if _, ok := st.eventLogs[e.IdempotencyKey]; ok {
			return nil
		}
		st.eventLogs[e.IdempotencyKey] = *e
		inserted = true
		return nil
	})
	return inserted, err
}

func (r eventLogRepo) GetByIdempotencyKey(ctx context.Context, key string) (eventlog.Entry, error) {
	var out eventlog.Entry
	err := r.s.do("EventLogs.GetByIdempotencyKey", func(st *state) error {
		e, ok := st.eventLogs[key]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = e
		return nil
	})
	return out, err
}

func (r eventLogRepo) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]eventlog.Entry, error) {
	var out []eventlog.Entry
	err := r.s.do("EventLogs.ListByOrganization", func(st *state) error {
		for _, e := range st.eventLogs {
			if e.OrganizationID == orgID {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) InsertIfAbsent(ctx context.Context, e *outbox.OutboxEvent) (bool, error) {
	inserted := false
	err := r.s.do("Outbox.InsertIfAbsent", func(st *state) error {
		if _, ok := st.outbox[e.EventID]; ok {
			return nil
		}
		if e.DedupeKey.Valid {
			for _, existing := range st.outbox {
				if existing.DedupeKey == e.DedupeKey && !existing.Terminal() {
					return nil
				}
			}
		}
		st.outbox[e.EventID] = *e
		inserted = true
		return nil
	})
	return inserted, err
}

func (r outboxRepo) GetByID(ctx context.Context, eventID uuid.UUID) (outbox.OutboxEvent, error) {
	var out outbox.OutboxEvent
	err := r.s.do("Outbox.GetByID", func(st *state) error {
		e, ok := st.outbox[eventID]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = e
		return nil
	})
	return out, err
}

func (r outboxRepo) GetPendingByDedupeKey(ctx context.Context, dedupeKey string) (outbox.OutboxEvent, error) {
	var out outbox.OutboxEvent
	err := r.s.do("Outbox.GetPendingByDedupeKey", func(st *state) error {
		for _, e := range st.outbox {
			if e.DedupeKey.Valid && e.DedupeKey.String == dedupeKey && !e.Terminal() {
				out = e
				return nil
			}
		}
		return tenantflow_errors.ErrNotFound
	})
	return out, err
}

func (r outboxRepo) Claim(ctx context.Context, now time.Time, staleLease time.Duration, token string, limit int) ([]outbox.OutboxEvent, error) {
	var claimed []outbox.OutboxEvent
	err := r.s.do("Outbox.Claim", func(st *state) error {
		var candidates []outbox.OutboxEvent
		for _, e := range st.outbox {
			if e.Claimable(now, staleLease) {
				candidates = append(candidates, e)
			}
		}
		sortEvents(candidates)
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
		for _, e := range candidates {
			e.ClaimedAt = sql.NullTime{Time: now, Valid: true}
			e.ProcessingToken = sql.NullString{String: token, Valid: true}
			st.outbox[e.EventID] = e
			claimed = append(claimed, e)
		}
		return nil
	})
	return claimed, err
}

func (r outboxRepo) updateOwned(op string, eventID uuid.UUID, token string, apply func(e *outbox.OutboxEvent)) (bool, error) {
	updated := false
	err := r.s.do(op, func(st *state) error {
		e, ok := st.outbox[eventID]
		if !ok || !e.ProcessingToken.Valid || e.ProcessingToken.String != token {
			return nil
		}
		apply(&e)
		st.outbox[eventID] = e
		updated = true
		return nil
	})
	return updated, err
}

func (r outboxRepo) MarkPublished(ctx context.Context, eventID uuid.UUID, token string, now time.Time) (bool, error) {
	return r.updateOwned("Outbox.MarkPublished", eventID, token, func(e *outbox.OutboxEvent) {
		e.PublishedAt = sql.NullTime{Time: now, Valid: true}
		e.ClaimedAt = sql.NullTime{}
		e.ProcessingToken = sql.NullString{}
		e.NextAttemptAt = sql.NullTime{}
		e.LastError = sql.NullString{}
	})
}

func (r outboxRepo) Reschedule(ctx context.Context, eventID uuid.UUID, token string, attempts int, nextAttemptAt time.Time, lastError string) (bool, error) {
	return r.updateOwned("Outbox.Reschedule", eventID, token, func(e *outbox.OutboxEvent) {
		e.Attempts = attempts
		e.NextAttemptAt = sql.NullTime{Time: nextAttemptAt, Valid: true}
		e.ClaimedAt = sql.NullTime{}
		e.ProcessingToken = sql.NullString{}
		e.LastError = sql.NullString{String: lastError, Valid: true}
	})
}

func (r outboxRepo) DeadLetter(ctx context.Context, eventID uuid.UUID, token string, attempts int, now time.Time, lastError string) (bool, error) {
	return r.updateOwned("Outbox.DeadLetter", eventID, token, func(e *outbox.OutboxEvent) {
		e.Attempts = attempts
		e.DeadLetteredAt = sql.NullTime{Time: now, Valid: true}
		e.NextAttemptAt = sql.NullTime{}
		e.ClaimedAt = sql.NullTime{}
		e.ProcessingToken = sql.NullString{}
		e.LastError = sql.NullString{String: lastError, Valid: true}
	})
}

func (r outboxRepo) CreateDelivery(ctx context.Context, d *outbox.OutboxEventDelivery) error {
	return r.s.do("Outbox.CreateDelivery", func(st *state) error {
		st.deliveries = append(st.deliveries, *d)
		return nil
	})
}

func (r outboxRepo) ListDeliveries(ctx context.Context, eventID uuid.UUID) ([]outbox.OutboxEventDelivery, error) {
	var out []outbox.OutboxEventDelivery
	err := r.s.do("Outbox.ListDeliveries", func(st *state) error {
		for _, d := range st.deliveries {
			if d.EventID == eventID {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, err
}

func (r outboxRepo) ListDeadLettered(ctx context.Context, limit int) ([]outbox.OutboxEvent, error) {
	var out []outbox.OutboxEvent
	err := r.s.do("Outbox.ListDeadLettered", func(st *state) error {
		for _, e := range st.outbox {
			if e.DeadLetteredAt.Valid {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeadLetteredAt.Time.After(out[j].DeadLetteredAt.Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r outboxRepo) Stats(ctx context.Context) (repository.OutboxStats, error) {
	var stats repository.OutboxStats
	err := r.s.do("Outbox.Stats", func(st *state) error {
		for _, e := range st.outbox {
			switch {
			case e.PublishedAt.Valid:
				stats.Published++
			case e.DeadLetteredAt.Valid:
				stats.DeadLettered++
			default:
				stats.Pending++
			}
		}
		return nil
	})
	return stats, err
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) InsertIfAbsent(ctx context.Context, p *payment.Payment) (bool, error) {
	inserted := false
	err := r.s.do("Payments.InsertIfAbsent", func(st *state) error {
		for _, existing := range st.payments {
			if existing.SourceType == p.SourceType && existing.SourceID == p.SourceID && existing.IdempotencyKey == p.IdempotencyKey {
				return nil
			}
		}
		st.payments[p.ID] = *p
		inserted = true
		return nil
	})
	return inserted, err
}

func (r paymentRepo) GetByID(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	var out payment.Payment
	err := r.s.do("Payments.GetByID", func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = p
		return nil
	})
	return out, err
}

// LockByID needs no lock here; transactions are already serialized.
func (r paymentRepo) LockByID(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r paymentRepo) GetByIdempotency(ctx context.Context, sourceType payment.SourceType, sourceID, key string) (payment.Payment, error) {
	var out payment.Payment
	err := r.s.do("Payments.GetByIdempotency", func(st *state) error {
		for _, p := range st.payments {
			if p.SourceType == sourceType && p.SourceID == sourceID && p.IdempotencyKey == key {
				out = p
				return nil
			}
		}
		return tenantflow_errors.ErrNotFound
	})
	return out, err
}

func (r paymentRepo) CreateLedgerEntries(ctx context.Context, entries []payment.LedgerEntry) error {
	return r.s.do("Payments.CreateLedgerEntries", func(st *state) error {
		for _, e := range entries {
			if _, ok := st.payments[e.PaymentID]; !ok {
				return tenantflow_errors.ErrNotFound
			}
		}
		st.ledger = append(st.ledger, entries...)
		return nil
	})
}

func (r paymentRepo) ListLedgerEntries(ctx context.Context, paymentID uuid.UUID) ([]payment.LedgerEntry, error) {
	var out []payment.LedgerEntry
	err := r.s.do("Payments.ListLedgerEntries", func(st *state) error {
		for _, e := range st.ledger {
			if e.PaymentID == paymentID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r paymentRepo) UpdateProcessorFees(ctx context.Context, id uuid.UUID, actual int64, now time.Time) error {
	return r.s.do("Payments.UpdateProcessorFees", func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		p.ProcessorFeesStatus = payment.ProcessorFeesFinal
		p.ProcessorFeesActual = sql.NullInt64{Int64: actual, Valid: true}
		p.UpdatedAt = now
		st.payments[id] = p
		return nil
	})
}

func (r paymentRepo) AttachIntent(ctx context.Context, id uuid.UUID, intentID string, status payment.Status, now time.Time) (bool, error) {
	attached := false
	err := r.s.do("Payments.AttachIntent", func(st *state) error {
		p, ok := st.payments[id]
		if !ok || p.ProcessorIntentID.Valid {
			return nil
		}
		p.ProcessorIntentID = sql.NullString{String: intentID, Valid: true}
		p.Status = status
		p.UpdatedAt = now
		st.payments[id] = p
		attached = true
		return nil
	})
	return attached, err
}

type sourceRepo struct{ s *Store }

func (r sourceRepo) GetSource(ctx context.Context, sourceType payment.SourceType, sourceID string) (source.CheckoutSource, error) {
	var out source.CheckoutSource
	err := r.s.do("Sources.GetSource", func(st *state) error {
		src, ok := st.sources[sourceKey{sourceType, sourceID}]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = src
		return nil
	})
	return out, err
}

func (r sourceRepo) GetFeeConfig(ctx context.Context, orgID uuid.UUID) (source.OrganizationFeeConfig, error) {
	var out source.OrganizationFeeConfig
	err := r.s.do("Sources.GetFeeConfig", func(st *state) error {
		c, ok := st.feeConfigs[orgID]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = c
		return nil
	})
	return out, err
}

func (r sourceRepo) SaveSource(ctx context.Context, src *source.CheckoutSource) error {
	return r.s.do("Sources.SaveSource", func(st *state) error {
		st.sources[sourceKey{src.SourceType, src.SourceID}] = *src
		return nil
	})
}

func (r sourceRepo) SaveFeeConfig(ctx context.Context, c *source.OrganizationFeeConfig) error {
	return r.s.do("Sources.SaveFeeConfig", func(st *state) error {
		st.feeConfigs[c.OrganizationID] = *c
		return nil
	})
}

type projectionRepo struct{ s *Store }

func (r projectionRepo) GetSearchItem(ctx context.Context, orgID uuid.UUID, sourceType, sourceID string) (projection.SearchIndexItem, error) {
	var out projection.SearchIndexItem
	err := r.s.do("Projections.GetSearchItem", func(st *state) error {
		item, ok := st.searchItems[searchKey{orgID, sourceType, sourceID}]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = item
		return nil
	})
	return out, err
}

func (r projectionRepo) SaveSearchItem(ctx context.Context, item *projection.SearchIndexItem) (bool, error) {
	saved := false
	err := r.s.do("Projections.SaveSearchItem", func(st *state) error {
		key := searchKey{item.OrganizationID, item.SourceType, item.SourceID}
		if existing, ok := st.searchItems[key]; ok && existing.LastEventAt.After(item.LastEventAt) {
			return nil
		}
		st.searchItems[key] = *item
		saved = true
		return nil
	})
	return saved, err
}

func (r projectionRepo) InsertLoyaltyNotification(ctx context.Context, n *projection.LoyaltyNotification) (bool, error) {
	inserted := false
	err := r.s.do("Projections.InsertLoyaltyNotification", func(st *state) error {
		if _, ok := st.loyalty[n.DedupeKey]; ok {
			return nil
		}
		st.loyalty[n.DedupeKey] = *n
		inserted = true
		return nil
	})
	return inserted, err
}

func (r projectionRepo) CountLoyaltyNotifications(ctx context.Context, dedupeKey string) (int64, error) {
	var n int64
	err := r.s.do("Projections.CountLoyaltyNotifications", func(st *state) error {
		if _, ok := st.loyalty[dedupeKey]; ok {
			n = 1
		}
		return nil
	})
	return n, err
}

func (r projectionRepo) InsertCrmIngestedEvent(ctx context.Context, e *projection.CrmIngestedEvent) (bool, error) {
	inserted := false
	err := r.s.do("Projections.InsertCrmIngestedEvent", func(st *state) error {
		if _, ok := st.crmEvents[e.EventID]; ok {
			return nil
		}
		st.crmEvents[e.EventID] = *e
		inserted = true
		return nil
	})
	return inserted, err
}

func (r projectionRepo) GetCrmContact(ctx context.Context, orgID uuid.UUID, identityRef string) (projection.CrmContact, error) {
	var out projection.CrmContact
	err := r.s.do("Projections.GetCrmContact", func(st *state) error {
		c, ok := st.crmContacts[crmKey{orgID, identityRef}]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = c
		return nil
	})
	return out, err
}

func (r projectionRepo) IncrementCrmContact(ctx context.Context, delta *projection.CrmContact) error {
	return r.s.do("Projections.IncrementCrmContact", func(st *state) error {
		key := crmKey{delta.OrganizationID, delta.IdentityRef}
		c, ok := st.crmContacts[key]
		if !ok {
			st.crmContacts[key] = *delta
			return nil
		}
		c.CheckoutCount += delta.CheckoutCount
		c.CheckoutTotalMinor += delta.CheckoutTotalMinor
		c.CheckinCount += delta.CheckinCount
		c.TransfersIn += delta.TransfersIn
		c.TransfersOut += delta.TransfersOut
		if delta.LastInteractionAt.After(c.LastInteractionAt) {
			c.LastInteractionAt = delta.LastInteractionAt
		}
		c.UpdatedAt = delta.UpdatedAt
		st.crmContacts[key] = c
		return nil
	})
}

func (r projectionRepo) GetSupportTicketSync(ctx context.Context, ticketID string) (projection.SupportTicketSync, error) {
	var out projection.SupportTicketSync
	err := r.s.do("Projections.GetSupportTicketSync", func(st *state) error {
		t, ok := st.tickets[ticketID]
		if !ok {
			return tenantflow_errors.ErrNotFound
		}
		out = t
		return nil
	})
	return out, err
}

func (r projectionRepo) SaveSupportTicketSync(ctx context.Context, t *projection.SupportTicketSync) (bool, error) {
	saved := false
	err := r.s.do("Projections.SaveSupportTicketSync", func(st *state) error {
		if existing, ok := st.tickets[t.TicketID]; ok && existing.LastEventAt.After(t.LastEventAt) {
			return nil
		}
		st.tickets[t.TicketID] = *t
		saved = true
		return nil
	})
	return saved, err
}
