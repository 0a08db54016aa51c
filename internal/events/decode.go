package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

func newPayload(eventType string) (Payload, error) {
	switch eventType {
	case EventTypeCheckoutCreated:
		return &CheckoutCreated{}, nil
	case EventTypePaymentFeesFinalized:
		return &PaymentFeesFinalized{}, nil
	case EventTypeCheckinRecorded:
		return &CheckinRecorded{}, nil
	case EventTypeOwnershipTransferred:
		return &OwnershipTransferred{}, nil
	case EventTypeSupportTicketStatusChanged:
		return &SupportTicketStatusChanged{}, nil
	case EventTypeCatalogItemUpserted:
		return &CatalogItemUpserted{}, nil
	case EventTypeCatalogItemRemoved:
		return &CatalogItemRemoved{}, nil
	case EventTypeLoyaltyPointsEarned:
		return &LoyaltyPointsEarned{}, nil
	case EventTypeLoyaltyPointsReversed:
		return &LoyaltyPointsReversed{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

// Decode validates a stored JSON payload into the variant registered for
// eventType. The returned value is always a pointer to the variant struct.
func Decode(eventType string, raw []byte) (Payload, error) {
	p, err := newPayload(eventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	return p, nil
}

// Encode validates p and returns its storage form.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.EventType(), err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.EventType(), err)
	}
	return raw, nil
}
