package events

// Event type constants follow the format domain.action

// Checkout and payment events
const (
	EventTypeCheckoutCreated      = "checkout.created"
	EventTypePaymentFeesFinalized = "payment.fees_finalized"
)

// Ticket lifecycle events
const (
	EventTypeCheckinRecorded      = "checkin.recorded"
	EventTypeOwnershipTransferred = "ownership.transferred"
)

// Support events
const (
	EventTypeSupportTicketStatusChanged = "support_ticket.status_changed"
)

// Catalog events feed the search index
const (
	EventTypeCatalogItemUpserted = "catalog.item_upserted"
	EventTypeCatalogItemRemoved  = "catalog.item_removed"
)

// Loyalty events
const (
	EventTypeLoyaltyPointsEarned   = "loyalty.points_earned"
	EventTypeLoyaltyPointsReversed = "loyalty.points_reversed"
)

// Aggregate types used on outbox rows
const (
	AggregatePayment       = "payment"
	AggregateTicket        = "ticket"
	AggregateSupportTicket = "support_ticket"
	AggregateCatalogItem   = "catalog_item"
	AggregateLoyaltyLedger = "loyalty_ledger"
)

// KnownEventTypes lists every type Decode understands.
var KnownEventTypes = []string{
	EventTypeCheckoutCreated,
	EventTypePaymentFeesFinalized,
	EventTypeCheckinRecorded,
	EventTypeOwnershipTransferred,
	EventTypeSupportTicketStatusChanged,
	EventTypeCatalogItemUpserted,
	EventTypeCatalogItemRemoved,
	EventTypeLoyaltyPointsEarned,
	EventTypeLoyaltyPointsReversed,
}
