package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload is implemented by every typed event variant. The stored form is
// JSON; Decode turns it back into the variant for its event type.
type Payload interface {
	EventType() string
	AggregateType() string
	AggregateID() string
	Organization() uuid.UUID
	Timestamp() time.Time
	Validate() error
}

func requireBase(orgID uuid.UUID, occurredAt time.Time) error {
	if orgID == uuid.Nil {
		return errors.New("organizationId is required")
	}
	if occurredAt.IsZero() {
		return errors.New("occurredAt is required")
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// CheckoutCreated is emitted once per Payment, in the checkout transaction.
type CheckoutCreated struct {
	PaymentID           uuid.UUID `json:"paymentId"`
	OrganizationID      uuid.UUID `json:"organizationId"`
	SourceType          string    `json:"sourceType"`
	SourceID            string    `json:"sourceId"`
	BuyerIdentityRef    string    `json:"buyerIdentityRef,omitempty"`
	Currency            string    `json:"currency"`
	Total               int64     `json:"total"`
	PlatformFee         int64     `json:"platformFee"`
	PricingSnapshotHash string    `json:"pricingSnapshotHash"`
	OccurredAt          time.Time `json:"occurredAt"`
}

func (CheckoutCreated) EventType() string         { return EventTypeCheckoutCreated }
func (CheckoutCreated) AggregateType() string     { return AggregatePayment }
func (e CheckoutCreated) AggregateID() string     { return e.PaymentID.String() }
func (e CheckoutCreated) Organization() uuid.UUID { return e.OrganizationID }
func (e CheckoutCreated) Timestamp() time.Time    { return e.OccurredAt }

func (e CheckoutCreated) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if e.PaymentID == uuid.Nil {
		return errors.New("paymentId is required")
	}
	if e.Total < 0 {
		return errors.New("total must not be negative")
	}
	return requireField("currency", e.Currency)
}

// PaymentFeesFinalized is emitted when the processor reports actual fees.
type PaymentFeesFinalized struct {
	PaymentID        uuid.UUID `json:"paymentId"`
	OrganizationID   uuid.UUID `json:"organizationId"`
	BuyerIdentityRef string    `json:"buyerIdentityRef,omitempty"`
	Currency         string    `json:"currency"`
	ProcessorFees    int64     `json:"processorFees"`
	Delta            int64     `json:"delta"`
	OccurredAt       time.Time `json:"occurredAt"`
}

func (PaymentFeesFinalized) EventType() string         { return EventTypePaymentFeesFinalized }
func (PaymentFeesFinalized) AggregateType() string     { return AggregatePayment }
func (e PaymentFeesFinalized) AggregateID() string     { return e.PaymentID.String() }
func (e PaymentFeesFinalized) Organization() uuid.UUID { return e.OrganizationID }
func (e PaymentFeesFinalized) Timestamp() time.Time    { return e.OccurredAt }

func (e PaymentFeesFinalized) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if e.PaymentID == uuid.Nil {
		return errors.New("paymentId is required")
	}
	if e.ProcessorFees < 0 {
		return errors.New("processorFees must not be negative")
	}
	return nil
}

type CheckinRecorded struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	TicketID       string    `json:"ticketId"`
	HolderRef      string    `json:"holderRef"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (CheckinRecorded) EventType() string         { return EventTypeCheckinRecorded }
func (CheckinRecorded) AggregateType() string     { return AggregateTicket }
func (e CheckinRecorded) AggregateID() string     { return e.TicketID }
func (e CheckinRecorded) Organization() uuid.UUID { return e.OrganizationID }
func (e CheckinRecorded) Timestamp() time.Time    { return e.OccurredAt }

func (e CheckinRecorded) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if err := requireField("ticketId", e.TicketID); err != nil {
		return err
	}
	return requireField("holderRef", e.HolderRef)
}

type OwnershipTransferred struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	TicketID       string    `json:"ticketId"`
	FromRef        string    `json:"fromRef"`
	ToRef          string    `json:"toRef"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (OwnershipTransferred) EventType() string         { return EventTypeOwnershipTransferred }
func (OwnershipTransferred) AggregateType() string     { return AggregateTicket }
func (e OwnershipTransferred) AggregateID() string     { return e.TicketID }
func (e OwnershipTransferred) Organization() uuid.UUID { return e.OrganizationID }
func (e OwnershipTransferred) Timestamp() time.Time    { return e.OccurredAt }

func (e OwnershipTransferred) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if err := requireField("ticketId", e.TicketID); err != nil {
		return err
	}
	if err := requireField("fromRef", e.FromRef); err != nil {
		return err
	}
	if err := requireField("toRef", e.ToRef); err != nil {
		return err
	}
	if e.FromRef == e.ToRef {
		return errors.New("fromRef and toRef must differ")
	}
	return nil
}

type SupportTicketStatusChanged struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	TicketID       string    `json:"ticketId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (SupportTicketStatusChanged) EventType() string         { return EventTypeSupportTicketStatusChanged }
func (SupportTicketStatusChanged) AggregateType() string     { return AggregateSupportTicket }
func (e SupportTicketStatusChanged) AggregateID() string     { return e.TicketID }
func (e SupportTicketStatusChanged) Organization() uuid.UUID { return e.OrganizationID }
func (e SupportTicketStatusChanged) Timestamp() time.Time    { return e.OccurredAt }

func (e SupportTicketStatusChanged) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if err := requireField("ticketId", e.TicketID); err != nil {
		return err
	}
	return requireField("status", e.Status)
}

type CatalogItemUpserted struct {
	OrganizationID uuid.UUID  `json:"organizationId"`
	SourceType     string     `json:"sourceType"`
	SourceID       string     `json:"sourceId"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	StartsAt       *time.Time `json:"startsAt,omitempty"`
	OccurredAt     time.Time  `json:"occurredAt"`
}

func (CatalogItemUpserted) EventType() string         { return EventTypeCatalogItemUpserted }
func (CatalogItemUpserted) AggregateType() string     { return AggregateCatalogItem }
func (e CatalogItemUpserted) AggregateID() string     { return e.SourceType + ":" + e.SourceID }
func (e CatalogItemUpserted) Organization() uuid.UUID { return e.OrganizationID }
func (e CatalogItemUpserted) Timestamp() time.Time    { return e.OccurredAt }

func (e CatalogItemUpserted) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if err := requireField("sourceType", e.SourceType); err != nil {
		return err
	}
	if err := requireField("sourceId", e.SourceID); err != nil {
		return err
	}
	return requireField("title", e.Title)
}

type CatalogItemRemoved struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	SourceType     string    `json:"sourceType"`
	SourceID       string    `json:"sourceId"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (CatalogItemRemoved) EventType() string         { return EventTypeCatalogItemRemoved }
func (CatalogItemRemoved) AggregateType() string     { return AggregateCatalogItem }
func (e CatalogItemRemoved) AggregateID() string     { return e.SourceType + ":" + e.SourceID }
func (e CatalogItemRemoved) Organization() uuid.UUID { return e.OrganizationID }
func (e CatalogItemRemoved) Timestamp() time.Time    { return e.OccurredAt }

func (e CatalogItemRemoved) Validate() error {
	if err := requireBase(e.OrganizationID, e.OccurredAt); err != nil {
		return err
	}
	if err := requireField("sourceType", e.SourceType); err != nil {
		return err
	}
	return requireField("sourceId", e.SourceID)
}

// LoyaltyMovement is shared by the earned and reversed variants.
type LoyaltyMovement struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	LedgerID       string    `json:"ledgerId"`
	UserRef        string    `json:"userRef"`
	Points         int64     `json:"points"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (m LoyaltyMovement) AggregateType() string   { return AggregateLoyaltyLedger }
func (m LoyaltyMovement) AggregateID() string     { return m.LedgerID }
func (m LoyaltyMovement) Organization() uuid.UUID { return m.OrganizationID }
func (m LoyaltyMovement) Timestamp() time.Time    { return m.OccurredAt }

func (m LoyaltyMovement) Validate() error {
	if err := requireBase(m.OrganizationID, m.OccurredAt); err != nil {
		return err
	}
	if err := requireField("ledgerId", m.LedgerID); err != nil {
		return err
	}
	if err := requireField("userRef", m.UserRef); err != nil {
		return err
	}
	if m.Points <= 0 {
		return errors.New("points must be positive")
	}
	return nil
}

type LoyaltyPointsEarned struct {
	LoyaltyMovement
}

func (LoyaltyPointsEarned) EventType() string { return EventTypeLoyaltyPointsEarned }

type LoyaltyPointsReversed struct {
	LoyaltyMovement
}

func (LoyaltyPointsReversed) EventType() string { return EventTypeLoyaltyPointsReversed }
