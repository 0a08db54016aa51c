package checkout

import (
	"context"

	"tenantflow/internal/domain/payment"

	"github.com/google/uuid"
)

// IntentRequest asks the processor for a payment intent. IdempotencyKey is
// the payment id, so retries reach the same intent.
type IntentRequest struct {
	PaymentID      uuid.UUID
	OrganizationID uuid.UUID
	Currency       string
	Amount         int64
	IdempotencyKey string
}

type Intent struct {
	ID string
	// Status is the processor's raw status, e.g. "succeeded".
	Status string
}

// Gateway is the payment processor boundary.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// intentStatus maps a processor status onto the payment status.
func intentStatus(raw string) payment.Status {
	switch raw {
	case "succeeded":
		return payment.StatusSucceeded
	case "requires_action":
		return payment.StatusRequiresAction
	case "failed":
		return payment.StatusFailed
	default:
		return payment.StatusCreated
	}
}
