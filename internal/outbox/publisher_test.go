package outbox

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tenantflow/config"
	domainoutbox "tenantflow/internal/domain/outbox"
	"tenantflow/internal/events"
	"tenantflow/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.OutboxConfig {
	return config.OutboxConfig{
		BatchSize:      10,
		MaxAttempts:    3,
		StaleLease:     15 * time.Minute,
		BackoffBase:    30 * time.Second,
		BackoffCap:     time.Hour,
		HandlerTimeout: time.Second,
	}
}

func newTestPublisher(t *testing.T, store *memstore.Store, h Handler, opts ...Option) *Publisher {
	t.Helper()
	registry := NewRegistry()
	if h != nil {
		require.NoError(t, registry.Register(events.EventTypeCheckinRecorded, h))
	}
	p, err := NewPublisher(store, registry, testConfig(), opts...)
	require.NoError(t, err)
	return p
}

func seedEvent(t *testing.T, store *memstore.Store, ticketID string, createdAt time.Time) uuid.UUID {
	t.Helper()
	id, recorded, err := NewProducer().Record(context.Background(), store.Outbox(), Record{
		Payload:   checkin(ticketID, createdAt),
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	require.True(t, recorded)
	return id
}

func loadEvent(t *testing.T, store *memstore.Store, id uuid.UUID) domainoutbox.OutboxEvent {
	t.Helper()
	ev, err := store.Outbox().GetByID(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func TestNewPublisher_Defaults(t *testing.T) {
	t.Parallel()

	p, err := NewPublisher(memstore.New(), nil, config.OutboxConfig{})
	require.NoError(t, err)

	cfg := p.Config()
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 8, cfg.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.StaleLease)
	assert.Equal(t, 30*time.Second, cfg.BackoffBase)
	assert.Equal(t, time.Hour, cfg.BackoffCap)

	_, err = NewPublisher(nil, nil, config.OutboxConfig{})
	assert.Error(t, err)
}

func TestPublishBatch_Success(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)

	var got Delivery
	p := newTestPublisher(t, store, HandlerFunc(func(_ context.Context, d Delivery) (Ack, error) {
		got = d
		return AckApplied, nil
	}))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, Published: 1}, res)

	assert.Equal(t, id, got.EventID)
	assert.Equal(t, testOrg, got.OrganizationID)
	assert.Equal(t, 1, got.Attempt)
	decoded, err := events.Decode(got.EventType, got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "T-1", decoded.AggregateID())

	ev := loadEvent(t, store, id)
	assert.True(t, ev.PublishedAt.Valid)
	assert.Equal(t, t0, ev.PublishedAt.Time)
	assert.False(t, ev.ClaimedAt.Valid)
	assert.False(t, ev.ProcessingToken.Valid)
	assert.Zero(t, ev.Attempts)

	deliveries, err := store.Outbox().ListDeliveries(ctx, id)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 1, deliveries[0].AttemptNumber)
	assert.Equal(t, domainoutbox.DeliveryDelivered, deliveries[0].Status)
	assert.Equal(t, "applied", deliveries[0].Outcome)

	res, err = p.PublishBatch(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed, "published events are never claimed again")
}

func TestPublishBatch_RetryWithBackoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)
	p := newTestPublisher(t, store, ackWith(AckApplied, errors.New("search cluster unavailable")))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	ev := loadEvent(t, store, id)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, t0.Add(30*time.Second), ev.NextAttemptAt.Time)
	assert.Equal(t, "search cluster unavailable", ev.LastError.String)
	assert.False(t, ev.ClaimedAt.Valid)
	assert.False(t, ev.Terminal())

	res, err = p.PublishBatch(ctx, t0.Add(10*time.Second), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed, "not due before nextAttemptAt")

	second := t0.Add(30 * time.Second)
	res, err = p.PublishBatch(ctx, second, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	ev = loadEvent(t, store, id)
	assert.Equal(t, 2, ev.Attempts)
	assert.Equal(t, second.Add(time.Minute), ev.NextAttemptAt.Time)

	deliveries, err := store.Outbox().ListDeliveries(ctx, id)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, []int{1, 2}, []int{deliveries[0].AttemptNumber, deliveries[1].AttemptNumber})
	assert.Equal(t, domainoutbox.DeliveryRetry, deliveries[1].Status)
}

func TestPublishBatch_DeadLettersAtMaxAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := uuid.New()
	store.PutOutboxEvent(domainoutbox.OutboxEvent{
		EventID:        id,
		OrganizationID: testOrg,
		EventType:      events.EventTypeCheckinRecorded,
		AggregateType:  events.AggregateTicket,
		AggregateID:    "T-1",
		Payload:        `{"organizationId":"` + testOrg.String() + `","ticketId":"T-1","holderRef":"user-1","occurredAt":"2025-03-01T12:00:00Z"}`,
		OccurredAt:     t0,
		CreatedAt:      t0,
		Attempts:       2,
		NextAttemptAt:  sql.NullTime{Time: t0, Valid: true},
		LastError:      sql.NullString{String: "previous", Valid: true},
	})
	p := newTestPublisher(t, store, ackWith(AckApplied, errors.New("still down")))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	ev := loadEvent(t, store, id)
	assert.Equal(t, 3, ev.Attempts)
	assert.True(t, ev.DeadLetteredAt.Valid)
	assert.False(t, ev.NextAttemptAt.Valid)
	assert.False(t, ev.ProcessingToken.Valid)
	assert.Equal(t, "still down", ev.LastError.String)

	res, err = p.PublishBatch(ctx, t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	dead, stats, err := p.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].EventID)
	assert.Equal(t, int64(1), stats.DeadLettered)
}

func TestPublishBatch_PermanentFailureDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)
	p := newTestPublisher(t, store, ackWith(AckApplied, Permanent(errors.New("ticket organization mismatch"))))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	ev := loadEvent(t, store, id)
	assert.Equal(t, 1, ev.Attempts)
	assert.True(t, ev.DeadLetteredAt.Valid)
	assert.Contains(t, ev.LastError.String, "ticket organization mismatch")

	deliveries, err := store.Outbox().ListDeliveries(ctx, id)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, domainoutbox.DeliveryDeadLettered, deliveries[0].Status)
}

func TestPublishBatch_UnknownTypeIsAcknowledged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)
	p := newTestPublisher(t, store, nil)

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, Published: 1, Deduped: 1}, res)
	assert.True(t, loadEvent(t, store, id).PublishedAt.Valid)
}

func TestPublishBatch_AckCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	seedEvent(t, store, "T-1", t0)
	seedEvent(t, store, "T-2", t0.Add(time.Second))

	var calls int32
	p := newTestPublisher(t, store, HandlerFunc(func(context.Context, Delivery) (Ack, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return AckDeduped, nil
		}
		return AckStale, nil
	}))

	res, err := p.PublishBatch(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 2, Published: 2, Deduped: 1, Stale: 1}, res)
}

func TestPublishBatch_RespectsBatchSizeAndOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	first := seedEvent(t, store, "T-1", t0)
	second := seedEvent(t, store, "T-2", t0.Add(time.Second))
	third := seedEvent(t, store, "T-3", t0.Add(2*time.Second))

	var seen []uuid.UUID
	p := newTestPublisher(t, store, HandlerFunc(func(_ context.Context, d Delivery) (Ack, error) {
		seen = append(seen, d.EventID)
		return AckApplied, nil
	}))

	res, err := p.PublishBatch(ctx, t0.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.Equal(t, []uuid.UUID{first, second}, seen)

	res, err = p.PublishBatch(ctx, t0.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, third, seen[2])
}

func TestPublishBatch_StaleLeaseIsReclaimed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	fresh := seedEvent(t, store, "T-1", t0)
	stale := seedEvent(t, store, "T-2", t0)

	freshEv := loadEvent(t, store, fresh)
	freshEv.ClaimedAt = sql.NullTime{Time: t0.Add(-5 * time.Minute), Valid: true}
	freshEv.ProcessingToken = sql.NullString{String: "other-worker", Valid: true}
	store.PutOutboxEvent(freshEv)

	staleEv := loadEvent(t, store, stale)
	staleEv.ClaimedAt = sql.NullTime{Time: t0.Add(-16 * time.Minute), Valid: true}
	staleEv.ProcessingToken = sql.NullString{String: "crashed-worker", Valid: true}
	store.PutOutboxEvent(staleEv)

	p := newTestPublisher(t, store, ackWith(AckApplied, nil))
	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Published)

	assert.True(t, loadEvent(t, store, stale).PublishedAt.Valid)
	assert.Equal(t, "other-worker", loadEvent(t, store, fresh).ProcessingToken.String)
}

func TestPublishBatch_LeaseLostDuringHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)

	p := newTestPublisher(t, store, HandlerFunc(func(context.Context, Delivery) (Ack, error) {
		// another worker reclaims the row while this handler runs
		ev, err := store.Outbox().GetByID(context.Background(), id)
		if err != nil {
			return AckApplied, err
		}
		ev.ProcessingToken = sql.NullString{String: "new-owner", Valid: true}
		store.PutOutboxEvent(ev)
		return AckApplied, nil
	}), WithTokenSource(func() string { return "first-owner" }))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, LeaseLost: 1}, res)

	ev := loadEvent(t, store, id)
	assert.False(t, ev.PublishedAt.Valid)
	assert.Equal(t, "new-owner", ev.ProcessingToken.String)

	deliveries, err := store.Outbox().ListDeliveries(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, deliveries, "a lost lease writes no delivery row")
}

func TestPublishBatch_HandlerPanicIsRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)
	p := newTestPublisher(t, store, HandlerFunc(func(context.Context, Delivery) (Ack, error) {
		panic("nil map write")
	}))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	ev := loadEvent(t, store, id)
	assert.Equal(t, 1, ev.Attempts)
	assert.Contains(t, ev.LastError.String, "handler panic: nil map write")
}

func TestPublishBatch_HandlerTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)

	registry := NewRegistry()
	require.NoError(t, registry.Register(events.EventTypeCheckinRecorded, HandlerFunc(func(ctx context.Context, _ Delivery) (Ack, error) {
		<-ctx.Done()
		return AckApplied, ctx.Err()
	})))
	cfg := testConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	p, err := NewPublisher(store, registry, cfg)
	require.NoError(t, err)

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Contains(t, loadEvent(t, store, id).LastError.String, "deadline exceeded")
}

func TestPublishBatch_ClaimFailure(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	seedEvent(t, store, "T-1", t0)
	store.FailNext("Outbox.Claim", errors.New("connection reset"))
	p := newTestPublisher(t, store, ackWith(AckApplied, nil))

	_, err := p.PublishBatch(context.Background(), t0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim outbox batch")
}

func TestPublishBatch_SettleFailureKeepsClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)
	store.FailNext("Outbox.CreateDelivery", errors.New("disk full"))
	p := newTestPublisher(t, store, ackWith(AckApplied, nil))

	res, err := p.PublishBatch(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, SettleFailed: 1}, res)

	ev := loadEvent(t, store, id)
	assert.False(t, ev.PublishedAt.Valid, "the publish is rolled back with the delivery row")
	assert.True(t, ev.ClaimedAt.Valid)

	res, err = p.PublishBatch(ctx, t0.Add(16*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published, "picked up again after the lease goes stale")
}

func TestPublishBatch_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	store := memstore.New()
	seedEvent(t, store, "T-1", t0)
	p := newTestPublisher(t, store, ackWith(AckApplied, nil), WithMeterProvider(provider))

	_, err := p.PublishBatch(context.Background(), t0, 10)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var dispatched int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "outbox.events.dispatched" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				dispatched += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), dispatched)
}

func gaugeValue(t *testing.T, reader *sdkmetric.ManualReader, name string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			require.Len(t, gauge.DataPoints, 1)
			return gauge.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestReportBacklog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	seedEvent(t, store, "T-1", t0)
	seedEvent(t, store, "T-2", t0)

	reader := sdkmetric.NewManualReader()
	core, logs := observer.New(zap.InfoLevel)
	p := newTestPublisher(t, store, nil,
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		WithLogger(zap.New(core)))

	p.ReportBacklog(ctx)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "Outbox backlog", entries[0].Message)
	assert.Equal(t, map[string]interface{}{"pending": int64(2), "published": int64(0), "dead_lettered": int64(0)}, entries[0].ContextMap())

	pending, ok := gaugeValue(t, reader, "outbox.backlog.pending")
	require.True(t, ok)
	assert.Equal(t, int64(2), pending)
	dead, ok := gaugeValue(t, reader, "outbox.backlog.dead_lettered")
	require.True(t, ok)
	assert.Zero(t, dead)

	store.PutOutboxEvent(domainoutbox.OutboxEvent{
		EventID:        uuid.New(),
		OrganizationID: testOrg,
		EventType:      events.EventTypeCheckinRecorded,
		AggregateType:  events.AggregateTicket,
		AggregateID:    "T-3",
		Payload:        `{}`,
		OccurredAt:     t0,
		CreatedAt:      t0,
		Attempts:       3,
		DeadLetteredAt: sql.NullTime{Time: t0, Valid: true},
		LastError:      sql.NullString{String: "still down", Valid: true},
	})

	p.ReportBacklog(ctx)

	entries = logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "Outbox has dead-lettered events", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].ContextMap()["dead_lettered"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["pending"])

	dead, ok = gaugeValue(t, reader, "outbox.backlog.dead_lettered")
	require.True(t, ok)
	assert.Equal(t, int64(1), dead)
}

func TestReportBacklog_StatsError(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	reader := sdkmetric.NewManualReader()
	core, logs := observer.New(zap.InfoLevel)
	p := newTestPublisher(t, store, nil,
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		WithLogger(zap.New(core)))

	store.FailNext("Outbox.Stats", errors.New("timeout"))
	p.ReportBacklog(context.Background())

	entries := logs.FilterMessage("Failed to read outbox stats").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "timeout", entries[0].ContextMap()["error"])

	_, ok := gaugeValue(t, reader, "outbox.backlog.pending")
	assert.False(t, ok)
}

func TestTick_PublishesAtClockTime(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	id := seedEvent(t, store, "T-1", t0)
	core, logs := observer.New(zap.InfoLevel)
	p := newTestPublisher(t, store, ackWith(AckApplied, nil),
		WithClock(func() time.Time { return t0.Add(time.Second) }),
		WithLogger(zap.New(core)))

	p.Tick(context.Background())

	ev := loadEvent(t, store, id)
	assert.True(t, ev.PublishedAt.Valid)
	assert.Equal(t, t0.Add(time.Second), ev.PublishedAt.Time)
	assert.Zero(t, logs.FilterMessage("Outbox publish cycle failed").Len())

	store.FailNext("Outbox.Claim", errors.New("connection reset"))
	p.Tick(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("Outbox publish cycle failed").Len())
}
