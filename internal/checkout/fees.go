package checkout

import (
	"context"
	"errors"
	"fmt"

	"tenantflow/internal/domain/payment"
	"tenantflow/internal/eventlog"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FinalizeFeesRequest struct {
	OrganizationID uuid.UUID
	ActorUserID    uuid.NullUUID
	PaymentID      uuid.UUID
	// Actual is the processor fee in minor units, as a positive amount.
	Actual int64
	// IdempotencyKey is optional. Without it the key is derived from the
	// payment's fee history.
	IdempotencyKey string
	CorrelationID  string
}

type FinalizeFeesResult struct {
	PaymentID           uuid.UUID
	ProcessorFeesStatus payment.ProcessorFeesStatus
	ProcessorFeesActual int64
	// Changed is false when the reported amount was already recorded.
	Changed bool
	Entry   *payment.LedgerEntry
}

// FinalizeProcessorFees records the processor's actual fee on the ledger.
// The first report posts PROCESSOR_FEES_FINAL; a later different amount posts
// the difference as PROCESSOR_FEES_ADJUSTMENT. Reporting the stored amount
// again writes nothing.
func (e *Engine) FinalizeProcessorFees(ctx context.Context, req FinalizeFeesRequest) (FinalizeFeesResult, error) {
	if req.PaymentID == uuid.Nil {
		return FinalizeFeesResult{}, &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "paymentId is required"}
	}
	if req.Actual < 0 {
		return FinalizeFeesResult{}, &tenantflow_errors.ValidationError{Code: "INVALID_AMOUNT", Detail: "processor fees must not be negative"}
	}

	var result FinalizeFeesResult
	err := e.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.Payments().LockByID(ctx, req.PaymentID)
		if err != nil {
			if errors.Is(err, tenantflow_errors.ErrNotFound) {
				return fmt.Errorf("payment %s: %w", req.PaymentID, tenantflow_errors.ErrNotFound)
			}
			return err
		}
		if req.OrganizationID != uuid.Nil && req.OrganizationID != p.OrganizationID {
			return fmt.Errorf("payment %s: %w", req.PaymentID, tenantflow_errors.ErrNotFound)
		}

		result = FinalizeFeesResult{
			PaymentID:           p.ID,
			ProcessorFeesStatus: p.ProcessorFeesStatus,
			ProcessorFeesActual: p.ProcessorFeesActual.Int64,
		}
		if p.ProcessorFeesActual.Valid && p.ProcessorFeesActual.Int64 == req.Actual {
			return nil
		}

		entries, err := tx.Payments().ListLedgerEntries(ctx, p.ID)
		if err != nil {
			return err
		}
		revision := 1
		for _, le := range entries {
			if le.EntryType == payment.EntryProcessorFeesFinal || le.EntryType == payment.EntryProcessorFeesAdjustment {
				revision++
			}
		}

		now := e.now()
		entry := payment.LedgerEntry{
			ID:        uuid.New(),
			PaymentID: p.ID,
			Currency:  p.Currency,
			CreatedAt: now,
		}
		delta := req.Actual
		if p.ProcessorFeesActual.Valid {
			delta = req.Actual - p.ProcessorFeesActual.Int64
			entry.EntryType = payment.EntryProcessorFeesAdjustment
		} else {
			entry.EntryType = payment.EntryProcessorFeesFinal
		}
		entry.Amount = -delta

		if err := tx.Payments().CreateLedgerEntries(ctx, []payment.LedgerEntry{entry}); err != nil {
			return fmt.Errorf("insert processor fee entry: %w", err)
		}
		if err := tx.Payments().UpdateProcessorFees(ctx, p.ID, req.Actual, now); err != nil {
			return fmt.Errorf("update processor fees: %w", err)
		}

		key := req.IdempotencyKey
		if key == "" {
			key = fmt.Sprintf("payment.fees_finalized:%s:%d", p.ID, revision)
		}
		_, err = e.producer.Emit(ctx, tx, eventlog.NewEntry{
			OrganizationID: p.OrganizationID,
			ActorUserID:    req.ActorUserID,
			Payload: events.PaymentFeesFinalized{
				PaymentID:        p.ID,
				OrganizationID:   p.OrganizationID,
				BuyerIdentityRef: p.BuyerIdentityRef.String,
				Currency:         p.Currency,
				ProcessorFees:    req.Actual,
				Delta:            delta,
				OccurredAt:       now,
			},
			IdempotencyKey: key,
			CorrelationID:  req.CorrelationID,
			CreatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("emit payment.fees_finalized: %w", err)
		}

		result.ProcessorFeesStatus = payment.ProcessorFeesFinal
		result.ProcessorFeesActual = req.Actual
		result.Changed = true
		result.Entry = &entry
		return nil
	})
	if err != nil {
		return FinalizeFeesResult{}, err
	}

	if result.Changed {
		e.logger.Info("Processor fees recorded",
			zap.String("payment_id", result.PaymentID.String()),
			zap.Int64("processor_fees", result.ProcessorFeesActual),
			zap.String("entry_type", string(result.Entry.EntryType)),
			zap.Int64("amount", result.Entry.Amount),
		)
	}
	return result, nil
}
