// Package checkout turns a payable source into a Payment with its pricing
// snapshot, ledger entries and checkout.created event, exactly once per
// idempotency key.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenantflow/config"
	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/source"
	"tenantflow/internal/eventlog"
	"tenantflow/internal/events"
	"tenantflow/internal/outbox"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutRequest carries tenant and actor explicitly. OrganizationID, when
// set, must own the source.
type CheckoutRequest struct {
	OrganizationID   uuid.UUID
	ActorUserID      uuid.NullUUID
	SourceType       payment.SourceType
	SourceID         string
	IdempotencyKey   string
	BuyerIdentityRef string
	InviteToken      string
	CorrelationID    string
}

type CheckoutResult struct {
	PaymentID           uuid.UUID
	PricingSnapshotHash string
	Status              payment.Status
	// Replayed is true when an earlier call with the same key created the payment.
	Replayed bool
}

type Engine struct {
	store      repository.Store
	producer   *outbox.Producer
	fees       config.FeeConfig
	currencies map[string]struct{}
	gateway    Gateway
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Engine)

func WithGateway(g Gateway) Option {
	return func(e *Engine) { e.gateway = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

func NewEngine(store repository.Store, fees config.FeeConfig, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		producer:   outbox.NewProducer(),
		fees:       fees,
		currencies: map[string]struct{}{},
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, c := range fees.SupportedCurrencies {
		e.currencies[strings.ToUpper(c)] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (r CheckoutRequest) validate() error {
	switch {
	case !r.SourceType.Valid():
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: fmt.Sprintf("unknown source type %q", r.SourceType)}
	case strings.TrimSpace(r.SourceID) == "":
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "sourceId is required"}
	case strings.TrimSpace(r.IdempotencyKey) == "":
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "idempotencyKey is required"}
	case len(r.IdempotencyKey) > 255:
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "idempotencyKey is too long"}
	}
	return nil
}

// CreateCheckout prices the source and records the payment. A repeated key
// returns the original payment unchanged and writes nothing, before the source
// is loaded or priced again.
//
// When a gateway is configured and the processor call fails, the committed
// result is returned together with an error wrapping ErrServiceUnavailable;
// retrying with the same key retries only the processor call.
func (e *Engine) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	if err := req.validate(); err != nil {
		return CheckoutResult{}, err
	}
	log := e.logger.With(
		zap.String("source_type", string(req.SourceType)),
		zap.String("source_id", req.SourceID),
	)

	// A stored payment answers the retry even if the source has since changed.
	existing, err := e.store.Payments().GetByIdempotency(ctx, req.SourceType, req.SourceID, req.IdempotencyKey)
	switch {
	case err == nil:
		if req.OrganizationID != uuid.Nil && req.OrganizationID != existing.OrganizationID {
			return CheckoutResult{}, fmt.Errorf("source %s/%s: %w", req.SourceType, req.SourceID, tenantflow_errors.ErrNotFound)
		}
		return e.replay(ctx, existing)
	case !errors.Is(err, tenantflow_errors.ErrNotFound):
		return CheckoutResult{}, fmt.Errorf("lookup payment: %w", err)
	}

	src, override, err := e.loadSource(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := checkAccess(src, req.BuyerIdentityRef, req.InviteToken); err != nil {
		log.Info("Checkout denied", zap.Error(err))
		return CheckoutResult{}, err
	}
	if _, ok := e.currencies[strings.ToUpper(src.Currency)]; !ok {
		return CheckoutResult{}, &tenantflow_errors.ValidationError{Code: "UNSUPPORTED_CURRENCY", Detail: src.Currency}
	}

	snapshot, err := ComputePricing(src, ResolveFeePolicy(e.fees, override))
	if err != nil {
		return CheckoutResult{}, err
	}
	snapshotJSON, hash, err := snapshot.Encode()
	if err != nil {
		return CheckoutResult{}, err
	}

	now := e.now()
	p := payment.Payment{
		ID:                  uuid.New(),
		OrganizationID:      src.OrganizationID,
		SourceType:          req.SourceType,
		SourceID:            req.SourceID,
		IdempotencyKey:      req.IdempotencyKey,
		BuyerIdentityRef:    sql.NullString{String: req.BuyerIdentityRef, Valid: req.BuyerIdentityRef != ""},
		Status:              payment.StatusCreated,
		Currency:            snapshot.Currency,
		Total:               snapshot.Total,
		PricingSnapshotJSON: snapshotJSON,
		PricingSnapshotHash: hash,
		ProcessorFeesStatus: payment.ProcessorFeesPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var (
		winner  payment.Payment
		created bool
	)
	err = e.store.WithTx(ctx, func(tx repository.Store) error {
		inserted, err := tx.Payments().InsertIfAbsent(ctx, &p)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if !inserted {
			// A concurrent request with the same key committed first.
			winner, err = tx.Payments().GetByIdempotency(ctx, req.SourceType, req.SourceID, req.IdempotencyKey)
			return err
		}

		entries := []payment.LedgerEntry{
			{ID: uuid.New(), PaymentID: p.ID, EntryType: payment.EntryGross, Amount: snapshot.Total, Currency: p.Currency, CreatedAt: now},
			{ID: uuid.New(), PaymentID: p.ID, EntryType: payment.EntryPlatformFee, Amount: -snapshot.PlatformFee, Currency: p.Currency, CreatedAt: now},
		}
		if err := tx.Payments().CreateLedgerEntries(ctx, entries); err != nil {
			return fmt.Errorf("insert ledger entries: %w", err)
		}

		_, err = e.producer.Emit(ctx, tx, eventlog.NewEntry{
			OrganizationID: p.OrganizationID,
			ActorUserID:    req.ActorUserID,
			Payload: events.CheckoutCreated{
				PaymentID:           p.ID,
				OrganizationID:      p.OrganizationID,
				SourceType:          string(p.SourceType),
				SourceID:            p.SourceID,
				BuyerIdentityRef:    req.BuyerIdentityRef,
				Currency:            p.Currency,
				Total:               snapshot.Total,
				PlatformFee:         snapshot.PlatformFee,
				PricingSnapshotHash: hash,
				OccurredAt:          now,
			},
			IdempotencyKey: "checkout.created:" + p.ID.String(),
			CorrelationID:  req.CorrelationID,
			CreatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("emit checkout.created: %w", err)
		}
		winner = p
		created = true
		return nil
	})
	if err != nil {
		log.Error("Checkout transaction failed", zap.Error(err))
		return CheckoutResult{}, err
	}
	if !created {
		return e.replay(ctx, winner)
	}

	log.Info("Checkout created",
		zap.String("payment_id", p.ID.String()),
		zap.String("organization_id", p.OrganizationID.String()),
		zap.Int64("total", p.Total),
		zap.String("currency", p.Currency),
	)
	return e.attachIntent(ctx, p, false)
}

func (e *Engine) loadSource(ctx context.Context, req CheckoutRequest) (source.CheckoutSource, *source.OrganizationFeeConfig, error) {
	src, err := e.store.Sources().GetSource(ctx, req.SourceType, req.SourceID)
	if err != nil {
		if errors.Is(err, tenantflow_errors.ErrNotFound) {
			return source.CheckoutSource{}, nil, fmt.Errorf("source %s/%s: %w", req.SourceType, req.SourceID, tenantflow_errors.ErrNotFound)
		}
		return source.CheckoutSource{}, nil, fmt.Errorf("load source: %w", err)
	}
	if req.OrganizationID != uuid.Nil && req.OrganizationID != src.OrganizationID {
		// another tenant's source is reported as missing
		return source.CheckoutSource{}, nil, fmt.Errorf("source %s/%s: %w", req.SourceType, req.SourceID, tenantflow_errors.ErrNotFound)
	}

	cfg, err := e.store.Sources().GetFeeConfig(ctx, src.OrganizationID)
	switch {
	case err == nil:
		return src, &cfg, nil
	case errors.Is(err, tenantflow_errors.ErrNotFound):
		return src, nil, nil
	default:
		return source.CheckoutSource{}, nil, fmt.Errorf("load fee config: %w", err)
	}
}

func (e *Engine) replay(ctx context.Context, p payment.Payment) (CheckoutResult, error) {
	if e.gateway != nil && !p.ProcessorIntentID.Valid {
		return e.attachIntent(ctx, p, true)
	}
	return CheckoutResult{
		PaymentID:           p.ID,
		PricingSnapshotHash: p.PricingSnapshotHash,
		Status:              p.Status,
		Replayed:            true,
	}, nil
}

// attachIntent creates the processor intent after commit. Only the first
// intent is kept; a lost race re-reads the stored status.
func (e *Engine) attachIntent(ctx context.Context, p payment.Payment, replayed bool) (CheckoutResult, error) {
	result := CheckoutResult{
		PaymentID:           p.ID,
		PricingSnapshotHash: p.PricingSnapshotHash,
		Status:              p.Status,
		Replayed:            replayed,
	}
	if e.gateway == nil {
		return result, nil
	}

	intent, err := e.gateway.CreateIntent(ctx, IntentRequest{
		PaymentID:      p.ID,
		OrganizationID: p.OrganizationID,
		Currency:       p.Currency,
		Amount:         p.Total,
		IdempotencyKey: p.ID.String(),
	})
	if err != nil {
		e.logger.Warn("Payment intent creation failed",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err),
		)
		return result, fmt.Errorf("create payment intent: %w: %v", tenantflow_errors.ErrServiceUnavailable, err)
	}

	status := intentStatus(intent.Status)
	attached, err := e.store.Payments().AttachIntent(ctx, p.ID, intent.ID, status, e.now())
	if err != nil {
		return result, fmt.Errorf("attach payment intent: %w", err)
	}
	if !attached {
		current, err := e.store.Payments().GetByID(ctx, p.ID)
		if err != nil {
			return result, fmt.Errorf("reload payment: %w", err)
		}
		result.Status = current.Status
		return result, nil
	}
	result.Status = status
	return result, nil
}
