package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tenantflow/config"
	"tenantflow/internal/checkout"
	domainoutbox "tenantflow/internal/domain/outbox"
	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/source"
	"tenantflow/internal/handler"
	"tenantflow/internal/middleware"
	"tenantflow/internal/outbox"
	"tenantflow/internal/repository/memstore"
	"tenantflow/internal/server"
	"tenantflow/internal/transport/httpdto"
	"tenantflow/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const opsToken = "ops-token"

var orgID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

type env struct {
	store  *memstore.Store
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	require.NoError(t, store.Sources().SaveFeeConfig(ctx, &source.OrganizationFeeConfig{
		OrganizationID: orgID,
		FeeMode:        sql.NullString{String: "ADDED", Valid: true},
		FeeBps:         sql.NullInt64{Int64: 2000, Valid: true},
		UpdatedAt:      time.Now().UTC(),
	}))
	require.NoError(t, store.Sources().SaveSource(ctx, &source.CheckoutSource{
		SourceType:           payment.SourceTicketOrder,
		SourceID:             "order-1",
		OrganizationID:       orgID,
		Status:               source.StatusOpen,
		Title:                "Summer Festival GA",
		Currency:             "USD",
		LineItems:            `[{"sku":"GA","description":"General admission","unitAmount":500,"quantity":2}]`,
		AccessMode:           source.AccessPublic,
		GuestCheckoutAllowed: true,
		UpdatedAt:            time.Now().UTC(),
	}))

	engine := checkout.NewEngine(store, config.FeeConfig{
		DefaultBps:          500,
		DefaultMode:         "ADDED",
		PolicyVersion:       "2024-01",
		SupportedCurrencies: []string{"USD"},
	})
	publisher, err := outbox.NewPublisher(store, outbox.NewRegistry(), config.OutboxConfig{
		BatchSize:      10,
		MaxAttempts:    3,
		StaleLease:     15 * time.Minute,
		BackoffBase:    30 * time.Second,
		BackoffCap:     time.Hour,
		HandlerTimeout: time.Second,
	})
	require.NoError(t, err)

	srv := server.New(&config.Config{AppMode: server.TestMode, InternalAPIToken: opsToken}, logger.Nop())
	srv.SetupRoutes(&server.Handlers{
		Checkout: handler.NewCheckoutHandler(engine),
		Outbox:   handler.NewOutboxHandler(publisher),
	}, server.Dependencies{})
	return &env{store: store, router: srv.Engine()}
}

type call struct {
	method string
	path   string
	body   any
	org    uuid.UUID
	key    string
	bearer string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := c.body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.org != uuid.Nil {
		req.Header.Set(middleware.OrganizationHeader, c.org.String())
	}
	if c.key != "" {
		req.Header.Set(handler.IdempotencyKeyHeader, c.key)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) httpdto.Response[T] {
	t.Helper()
	var body httpdto.Response[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func (e *env) checkout(t *testing.T, key string) httpdto.CheckoutResponse {
	t.Helper()
	rec := e.do(t, call{
		method: http.MethodPost,
		path:   "/v1/checkouts",
		body:   map[string]string{"source_type": "ticket_order", "source_id": "order-1", "buyer_identity_ref": "buyer-1"},
		org:    orgID,
		key:    key,
	})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, rec.Code, rec.Body.String())
	return decode[httpdto.CheckoutResponse](t, rec).Data
}

func TestCheckoutHandler_Create(t *testing.T) {
	e := newEnv(t)

	body := map[string]string{"source_type": "ticket_order", "source_id": "order-1", "buyer_identity_ref": "buyer-1"}
	rec := e.do(t, call{method: http.MethodPost, path: "/v1/checkouts", body: body, org: orgID, key: "k-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[httpdto.CheckoutResponse](t, rec)
	assert.True(t, first.Success)
	assert.False(t, first.Data.Replayed)
	assert.Equal(t, string(payment.StatusCreated), first.Data.Status)
	assert.Len(t, first.Data.PricingSnapshotHash, 64)

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/checkouts", body: body, org: orgID, key: "k-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[httpdto.CheckoutResponse](t, rec).Data
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Data.PaymentID, replay.PaymentID)
	assert.Equal(t, first.Data.PricingSnapshotHash, replay.PricingSnapshotHash)

	assert.Equal(t, 1, e.store.PaymentCount())
	assert.Equal(t, 2, e.store.LedgerEntryCount())
	assert.Len(t, e.store.OutboxEvents(), 1)
}

func TestCheckoutHandler_CreateKeyInBody(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, call{
		method: http.MethodPost,
		path:   "/v1/checkouts",
		body:   map[string]string{"source_type": "TICKET_ORDER", "source_id": "order-1", "idempotency_key": "body-key"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, e.store.PaymentCount())
}

func TestCheckoutHandler_CreateRejections(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name       string
		body       any
		org        uuid.UUID
		key        string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       `{"source_type":`,
			key:        "k",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "missing source id",
			body:       map[string]string{"source_type": "ticket_order"},
			key:        "k",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "missing idempotency key",
			body:       map[string]string{"source_type": "ticket_order", "source_id": "order-1"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown source type",
			body:       map[string]string{"source_type": "gadget", "source_id": "order-1"},
			key:        "k",
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown source",
			body:       map[string]string{"source_type": "ticket_order", "source_id": "order-404"},
			key:        "k",
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "other tenant",
			body:       map[string]string{"source_type": "ticket_order", "source_id": "order-1"},
			org:        uuid.New(),
			key:        "k",
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, call{method: http.MethodPost, path: "/v1/checkouts", body: tt.body, org: tt.org, key: tt.key})
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[any](t, rec).Code)
		})
	}
	assert.Zero(t, e.store.PaymentCount())
}

func TestCheckoutHandler_FinalizeProcessorFees(t *testing.T) {
	e := newEnv(t)
	created := e.checkout(t, "k-fees")
	path := "/v1/payments/" + created.PaymentID + "/processor-fees"

	rec := e.do(t, call{method: http.MethodPost, path: path, body: map[string]int64{"amount": 65}, org: orgID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[httpdto.FinalizeFeesResponse](t, rec).Data
	assert.True(t, res.Changed)
	assert.Equal(t, string(payment.ProcessorFeesFinal), res.ProcessorFeesStatus)
	assert.Equal(t, int64(65), res.ProcessorFeesActual)
	require.NotNil(t, res.Entry)
	assert.Equal(t, string(payment.EntryProcessorFeesFinal), res.Entry.EntryType)
	assert.Equal(t, int64(-65), res.Entry.Amount)

	rec = e.do(t, call{method: http.MethodPost, path: path, body: map[string]int64{"amount": 65}, org: orgID})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[httpdto.FinalizeFeesResponse](t, rec).Data
	assert.False(t, again.Changed)
	assert.Nil(t, again.Entry)
	assert.Equal(t, 3, e.store.LedgerEntryCount())

	tests := []struct {
		name       string
		path       string
		body       any
		org        uuid.UUID
		wantStatus int
		wantCode   string
	}{
		{name: "no organization", path: path, body: map[string]int64{"amount": 70}, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "invalid payment id", path: "/v1/payments/nope/processor-fees", body: map[string]int64{"amount": 70}, org: orgID, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "missing amount", path: path, body: map[string]string{}, org: orgID, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "negative amount", path: path, body: map[string]int64{"amount": -1}, org: orgID, wantStatus: http.StatusUnprocessableEntity, wantCode: "INVALID_AMOUNT"},
		{name: "other tenant", path: path, body: map[string]int64{"amount": 70}, org: uuid.New(), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "unknown payment", path: "/v1/payments/" + uuid.NewString() + "/processor-fees", body: map[string]int64{"amount": 70}, org: orgID, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, call{method: http.MethodPost, path: tt.path, body: tt.body, org: tt.org})
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[any](t, rec).Code)
		})
	}
}

func TestOutboxHandler_Publish(t *testing.T) {
	e := newEnv(t)
	e.checkout(t, "k-publish")

	rec := e.do(t, call{method: http.MethodPost, path: "/internal/outbox/publish"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/internal/outbox/publish", body: map[string]int{"batch_size": 5000}, bearer: opsToken})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/internal/outbox/publish", bearer: opsToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[httpdto.PublishBatchResponse](t, rec).Data
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Published)
	// no handler is registered for checkout.created here
	assert.Equal(t, 1, res.Deduped)

	events := e.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].PublishedAt.Valid)

	rec = e.do(t, call{method: http.MethodPost, path: "/internal/outbox/publish", body: map[string]int{"batch_size": 10}, bearer: opsToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[httpdto.PublishBatchResponse](t, rec).Data.Claimed)
}

func TestOutboxHandler_DeadLetters(t *testing.T) {
	e := newEnv(t)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	dead := domainoutbox.OutboxEvent{
		EventID:        uuid.New(),
		OrganizationID: orgID,
		EventType:      "checkin.recorded",
		AggregateType:  "ticket",
		AggregateID:    "T-1",
		Payload:        `{}`,
		OccurredAt:     at,
		CreatedAt:      at,
		Attempts:       3,
		DeadLetteredAt: sql.NullTime{Time: at.Add(time.Hour), Valid: true},
		LastError:      sql.NullString{String: "crm unavailable", Valid: true},
	}
	e.store.PutOutboxEvent(dead)

	rec := e.do(t, call{method: http.MethodGet, path: "/v1/outbox/dead-letters"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/outbox/dead-letters?limit=abc", bearer: opsToken})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/outbox/dead-letters?limit=10", bearer: opsToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[httpdto.DeadLettersResponse](t, rec).Data
	require.Len(t, res.Events, 1)
	assert.Equal(t, dead.EventID.String(), res.Events[0].EventID)
	assert.Equal(t, 3, res.Events[0].Attempts)
	assert.Equal(t, "crm unavailable", res.Events[0].LastError)
	assert.Equal(t, int64(1), res.DeadLettered)
	assert.Zero(t, res.Pending)
}

func TestServer_PingAndHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, call{method: http.MethodGet, path: "/ping"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
