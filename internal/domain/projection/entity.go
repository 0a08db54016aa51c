package projection

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SearchIndexItem is the search projection of a catalog item. LastEventID and
// LastEventAt double as the consumer marker.
type SearchIndexItem struct {
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	SourceType     string    `gorm:"type:varchar(32);primaryKey"`
	SourceID       string    `gorm:"type:varchar(100);primaryKey"`
	Title          string    `gorm:"type:varchar(255)"`
	Status         string    `gorm:"type:varchar(20)"`
	StartsAt       sql.NullTime
	Removed        bool      `gorm:"not null;default:false"`
	LastEventID    uuid.UUID `gorm:"type:uuid;not null"`
	LastEventAt    time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (SearchIndexItem) TableName() string {
	return "search_index_items"
}

// LoyaltyNotification is a queued downstream notification, unique per dedupe key.
type LoyaltyNotification struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	DedupeKey      string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null"`
	LedgerID       string    `gorm:"type:varchar(100);not null"`
	UserRef        string    `gorm:"type:varchar(255);not null"`
	EventType      string    `gorm:"type:varchar(100);not null"`
	Points         int64     `gorm:"not null"`
	SourceEventID  uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	SentAt         sql.NullTime
}

func (LoyaltyNotification) TableName() string {
	return "loyalty_notifications"
}

type CrmContact struct {
	OrganizationID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdentityRef        string    `gorm:"type:varchar(255);primaryKey"`
	CheckoutCount      int64     `gorm:"not null;default:0"`
	CheckoutTotalMinor int64     `gorm:"not null;default:0"`
	CheckinCount       int64     `gorm:"not null;default:0"`
	TransfersIn        int64     `gorm:"not null;default:0"`
	TransfersOut       int64     `gorm:"not null;default:0"`
	LastInteractionAt  time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (CrmContact) TableName() string {
	return "crm_contacts"
}

// CrmIngestedEvent marks an event as applied to CRM counters.
type CrmIngestedEvent struct {
	EventID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null"`
	EventType      string    `gorm:"type:varchar(100);not null"`
	IngestedAt     time.Time `gorm:"not null"`
}

func (CrmIngestedEvent) TableName() string {
	return "crm_ingested_events"
}

type SupportTicketSync struct {
	TicketID       string    `gorm:"type:varchar(100);primaryKey"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Status         string    `gorm:"type:varchar(32);not null"`
	LastEventID    uuid.UUID `gorm:"type:uuid;not null"`
	LastEventAt    time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (SupportTicketSync) TableName() string {
	return "support_ticket_syncs"
}
