package httpdto

import (
	"tenantflow/internal/checkout"
	"tenantflow/internal/domain/payment"
)

type CreateCheckoutRequest struct {
	SourceType       string `json:"source_type" binding:"required"`
	SourceID         string `json:"source_id" binding:"required"`
	IdempotencyKey   string `json:"idempotency_key"`
	BuyerIdentityRef string `json:"buyer_identity_ref"`
	InviteToken      string `json:"invite_token"`
}

type CheckoutResponse struct {
	PaymentID           string `json:"payment_id"`
	PricingSnapshotHash string `json:"pricing_snapshot_hash"`
	Status              string `json:"status"`
	Replayed            bool   `json:"replayed"`
}

func FromCheckoutResult(r checkout.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{
		PaymentID:           r.PaymentID.String(),
		PricingSnapshotHash: r.PricingSnapshotHash,
		Status:              string(r.Status),
		Replayed:            r.Replayed,
	}
}

type FinalizeFeesRequest struct {
	// Amount is the processor fee in minor units.
	Amount         *int64 `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

type LedgerEntryDTO struct {
	ID        string `json:"id"`
	EntryType string `json:"entry_type"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type FinalizeFeesResponse struct {
	PaymentID           string          `json:"payment_id"`
	ProcessorFeesStatus string          `json:"processor_fees_status"`
	ProcessorFeesActual int64           `json:"processor_fees_actual"`
	Changed             bool            `json:"changed"`
	Entry               *LedgerEntryDTO `json:"entry,omitempty"`
}

func FromFinalizeFeesResult(r checkout.FinalizeFeesResult) FinalizeFeesResponse {
	resp := FinalizeFeesResponse{
		PaymentID:           r.PaymentID.String(),
		ProcessorFeesStatus: string(r.ProcessorFeesStatus),
		ProcessorFeesActual: r.ProcessorFeesActual,
		Changed:             r.Changed,
	}
	if r.Entry != nil {
		resp.Entry = fromLedgerEntry(*r.Entry)
	}
	return resp
}

func fromLedgerEntry(e payment.LedgerEntry) *LedgerEntryDTO {
	return &LedgerEntryDTO{
		ID:        e.ID.String(),
		EntryType: string(e.EntryType),
		Amount:    e.Amount,
		Currency:  e.Currency,
	}
}
