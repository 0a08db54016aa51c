package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tenantflow/config"
	domainoutbox "tenantflow/internal/domain/outbox"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetried
	outcomeDeadLettered
)

// BatchResult summarizes one publish cycle.
type BatchResult struct {
	Claimed      int
	Published    int
	Deduped      int
	Stale        int
	Retried      int
	DeadLettered int
	// LeaseLost counts events whose row was reclaimed by another worker
	// before the outcome could be written. The other worker owns them now.
	LeaseLost int
	// SettleFailed counts events whose outcome write failed. They are picked
	// up again once the lease goes stale.
	SettleFailed int
}

// Publisher claims due outbox events and dispatches them to the registry.
type Publisher struct {
	store    repository.Store
	registry *Registry
	cfg      config.OutboxConfig
	logger   *zap.Logger
	metrics  publisherMetrics
	newToken func() string
	clock    func() time.Time
}

type Option func(*Publisher)

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Publisher) {
		if m, err := newPublisherMetrics(mp); err == nil {
			p.metrics = m
		}
	}
}

// WithTokenSource replaces the processing token generator.
func WithTokenSource(fn func() string) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.newToken = fn
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.clock = fn
		}
	}
}

func NewPublisher(store repository.Store, registry *Registry, cfg config.OutboxConfig, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("outbox publisher requires a store")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	m, err := newPublisherMetrics(nil)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		store:    store,
		registry: registry,
		cfg:      normalize(cfg),
		logger:   zap.NewNop(),
		metrics:  m,
		newToken: func() string { return uuid.NewString() },
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func normalize(cfg config.OutboxConfig) config.OutboxConfig {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.StaleLease <= 0 {
		cfg.StaleLease = 15 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	return cfg
}

// Config returns the effective settings after defaults were applied.
func (p *Publisher) Config() config.OutboxConfig {
	return p.cfg
}

// PublishBatch claims up to batchSize events due at now and settles each one.
// Only a failed claim is returned as an error; per-event failures are
// recorded on the row and reported in the result.
func (p *Publisher) PublishBatch(ctx context.Context, now time.Time, batchSize int) (BatchResult, error) {
	if batchSize <= 0 {
		batchSize = p.cfg.BatchSize
	}
	token := p.newToken()

	claimed, err := p.store.Outbox().Claim(ctx, now, p.cfg.StaleLease, token, batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("claim outbox batch: %w", err)
	}
	result := BatchResult{Claimed: len(claimed)}
	p.metrics.claimed.Record(ctx, int64(len(claimed)))
	if len(claimed) == 0 {
		return result, nil
	}

	for _, ev := range claimed {
		if ctx.Err() != nil {
			// Unprocessed rows keep their claim and become claimable after the lease.
			break
		}
		p.process(ctx, now, token, ev, &result)
	}

	p.logger.Info("Outbox batch processed",
		zap.Int("claimed", result.Claimed),
		zap.Int("published", result.Published),
		zap.Int("retried", result.Retried),
		zap.Int("dead_lettered", result.DeadLettered),
		zap.Int("lease_lost", result.LeaseLost),
	)
	return result, nil
}

func (p *Publisher) process(ctx context.Context, now time.Time, token string, ev domainoutbox.OutboxEvent, result *BatchResult) {
	log := p.logger.With(
		zap.String("event_id", ev.EventID.String()),
		zap.String("event_type", ev.EventType),
		zap.String("organization_id", ev.OrganizationID.String()),
		zap.Int("attempts", ev.Attempts),
	)

	started := time.Now()
	ack, handlerErr := p.dispatch(ctx, ev)
	elapsed := time.Since(started)
	p.metrics.latency.Record(ctx, elapsed.Seconds(), eventTypeAttr(ev.EventType))

	s := settlement{
		event:    ev,
		token:    token,
		now:      now,
		elapsed:  elapsed,
		attempts: ev.Attempts,
	}
	switch {
	case handlerErr == nil:
		s.outcome = outcomePublished
		s.ack = ack
	case IsPermanent(handlerErr):
		s.outcome = outcomeDeadLettered
		s.attempts = ev.Attempts + 1
		s.lastError = sanitizeError(handlerErr)
	default:
		s.attempts = ev.Attempts + 1
		s.lastError = sanitizeError(handlerErr)
		if s.attempts >= p.cfg.MaxAttempts {
			s.outcome = outcomeDeadLettered
		} else {
			s.outcome = outcomeRetried
			s.nextAttemptAt = now.Add(Backoff(p.cfg.BackoffBase, p.cfg.BackoffCap, s.attempts))
		}
	}

	err := p.settle(ctx, s)
	switch {
	case errors.Is(err, tenantflow_errors.ErrLeaseLost):
		result.LeaseLost++
		p.metrics.leaseLost.Add(ctx, 1, eventTypeAttr(ev.EventType))
		log.Warn("Outbox lease lost before settling, leaving event to its new owner")
		return
	case err != nil:
		result.SettleFailed++
		log.Error("Failed to settle outbox event", zap.Error(err))
		return
	}

	p.metrics.recordOutcome(ctx, ev.EventType, s.outcome)
	switch s.outcome {
	case outcomePublished:
		result.Published++
		switch s.ack {
		case AckDeduped:
			result.Deduped++
		case AckStale:
			result.Stale++
		}
		log.Debug("Outbox event published", zap.String("ack", s.ack.String()), zap.Duration("elapsed", elapsed))
	case outcomeRetried:
		result.Retried++
		log.Warn("Outbox handler failed, retry scheduled",
			zap.Int("attempt", s.attempts),
			zap.Time("next_attempt_at", s.nextAttemptAt),
			zap.String("error", s.lastError),
		)
	case outcomeDeadLettered:
		result.DeadLettered++
		log.Error("Outbox event dead-lettered",
			zap.Int("attempt", s.attempts),
			zap.Bool("permanent", IsPermanent(handlerErr)),
			zap.String("error", s.lastError),
		)
	}
}

// dispatch runs the handler with a per-event deadline. A panic is reported as
// a retryable failure.
func (p *Publisher) dispatch(ctx context.Context, ev domainoutbox.OutboxEvent) (ack Ack, err error) {
	h, ok := p.registry.Lookup(ev.EventType)
	if !ok {
		// Nobody subscribes to this type; there is nothing to deliver.
		return AckDeduped, nil
	}

	hctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			ack = AckApplied
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(hctx, Delivery{
		EventID:        ev.EventID,
		EventType:      ev.EventType,
		OrganizationID: ev.OrganizationID,
		AggregateType:  ev.AggregateType,
		AggregateID:    ev.AggregateID,
		Payload:        []byte(ev.Payload),
		CorrelationID:  ev.CorrelationID.String,
		OccurredAt:     ev.OccurredAt,
		Attempt:        ev.Attempts + 1,
	})
}

type settlement struct {
	event         domainoutbox.OutboxEvent
	token         string
	now           time.Time
	elapsed       time.Duration
	outcome       outcome
	ack           Ack
	attempts      int
	nextAttemptAt time.Time
	lastError     string
}

// settle writes the outcome and its delivery row in one transaction. Every
// update is guarded by the processing token; a miss rolls back and reports
// ErrLeaseLost.
func (p *Publisher) settle(ctx context.Context, s settlement) error {
	return p.store.WithTx(ctx, func(tx repository.Store) error {
		var (
			owned  bool
			err    error
			status string
		)
		switch s.outcome {
		case outcomePublished:
			status = domainoutbox.DeliveryDelivered
			owned, err = tx.Outbox().MarkPublished(ctx, s.event.EventID, s.token, s.now)
		case outcomeRetried:
			status = domainoutbox.DeliveryRetry
			owned, err = tx.Outbox().Reschedule(ctx, s.event.EventID, s.token, s.attempts, s.nextAttemptAt, s.lastError)
		default:
			status = domainoutbox.DeliveryDeadLettered
			owned, err = tx.Outbox().DeadLetter(ctx, s.event.EventID, s.token, s.attempts, s.now, s.lastError)
		}
		if err != nil {
			return err
		}
		if !owned {
			return tenantflow_errors.ErrLeaseLost
		}

		attempt := s.attempts
		if s.outcome == outcomePublished {
			attempt = s.event.Attempts + 1
		}
		delivery := domainoutbox.OutboxEventDelivery{
			ID:            uuid.New(),
			EventID:       s.event.EventID,
			AttemptNumber: attempt,
			Status:        status,
			DurationMs:    s.elapsed.Milliseconds(),
			CreatedAt:     s.now,
		}
		if s.outcome == outcomePublished {
			delivery.Outcome = s.ack.String()
		}
		if s.lastError != "" {
			delivery.ErrorMessage = sql.NullString{String: s.lastError, Valid: true}
		}
		return tx.Outbox().CreateDelivery(ctx, &delivery)
	})
}

// Tick runs one cycle at the current time and logs claim failures.
func (p *Publisher) Tick(ctx context.Context) {
	if _, err := p.PublishBatch(ctx, p.clock(), p.cfg.BatchSize); err != nil {
		p.logger.Error("Outbox publish cycle failed", zap.Error(err))
	}
}

// DeadLetters returns the most recent dead-lettered events with their state counts.
func (p *Publisher) DeadLetters(ctx context.Context, limit int) ([]domainoutbox.OutboxEvent, repository.OutboxStats, error) {
	events, err := p.store.Outbox().ListDeadLettered(ctx, limit)
	if err != nil {
		return nil, repository.OutboxStats{}, fmt.Errorf("list dead-lettered events: %w", err)
	}
	stats, err := p.store.Outbox().Stats(ctx)
	if err != nil {
		return nil, repository.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	return events, stats, nil
}

// ReportBacklog records the pending and dead-lettered gauges and logs the
// outbox state counts. Dead-lettered rows need an operator and are logged at
// warn level.
func (p *Publisher) ReportBacklog(ctx context.Context) {
	stats, err := p.store.Outbox().Stats(ctx)
	if err != nil {
		p.logger.Error("Failed to read outbox stats", zap.Error(err))
		return
	}
	p.metrics.pending.Record(ctx, stats.Pending)
	p.metrics.backlogDeadLettered.Record(ctx, stats.DeadLettered)
	fields := []zap.Field{
		zap.Int64("pending", stats.Pending),
		zap.Int64("published", stats.Published),
		zap.Int64("dead_lettered", stats.DeadLettered),
	}
	if stats.DeadLettered > 0 {
		p.logger.Warn("Outbox has dead-lettered events", fields...)
		return
	}
	p.logger.Info("Outbox backlog", fields...)
}
