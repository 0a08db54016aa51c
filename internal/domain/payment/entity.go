package payment

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceTicketOrder       SourceType = "TICKET_ORDER"
	SourceBooking           SourceType = "BOOKING"
	SourcePadelRegistration SourceType = "PADEL_REGISTRATION"
	SourceStoreOrder        SourceType = "STORE_ORDER"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceTicketOrder, SourceBooking, SourcePadelRegistration, SourceStoreOrder:
		return true
	}
	return false
}

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusRequiresAction Status = "REQUIRES_ACTION"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusFailed         Status = "FAILED"
)

type ProcessorFeesStatus string

const (
	ProcessorFeesPending ProcessorFeesStatus = "PENDING"
	ProcessorFeesFinal   ProcessorFeesStatus = "FINAL"
)

// Payment is one record per checkout attempt family, unique per
// (source_type, source_id, idempotency_key).
type Payment struct {
	ID                  uuid.UUID           `gorm:"type:uuid;primaryKey"`
	OrganizationID      uuid.UUID           `gorm:"type:uuid;not null;index"`
	SourceType          SourceType          `gorm:"type:varchar(32);not null;uniqueIndex:uq_payments_source_idem,priority:1"`
	SourceID            string              `gorm:"type:varchar(100);not null;uniqueIndex:uq_payments_source_idem,priority:2"`
	IdempotencyKey      string              `gorm:"type:varchar(255);not null;uniqueIndex:uq_payments_source_idem,priority:3"`
	BuyerIdentityRef    sql.NullString      `gorm:"type:varchar(255)"`
	Status              Status              `gorm:"type:varchar(32);not null"`
	Currency            string              `gorm:"type:char(3);not null"`
	Total               int64               `gorm:"not null"`
	PricingSnapshotJSON string              `gorm:"column:pricing_snapshot_json;type:jsonb;not null"`
	PricingSnapshotHash string              `gorm:"type:char(64);not null"`
	ProcessorFeesStatus ProcessorFeesStatus `gorm:"type:varchar(16);not null"`
	ProcessorFeesActual sql.NullInt64
	ProcessorIntentID   sql.NullString `gorm:"type:varchar(255)"`
	CreatedAt           time.Time      `gorm:"not null"`
	UpdatedAt           time.Time      `gorm:"not null"`
}

func (Payment) TableName() string {
	return "payments"
}

type EntryType string

const (
	EntryGross                   EntryType = "GROSS"
	EntryPlatformFee             EntryType = "PLATFORM_FEE"
	EntryProcessorFeesFinal      EntryType = "PROCESSOR_FEES_FINAL"
	EntryProcessorFeesAdjustment EntryType = "PROCESSOR_FEES_ADJUSTMENT"
)

// LedgerEntry is a signed amount in minor currency units.
type LedgerEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID uuid.UUID `gorm:"type:uuid;not null;index"`
	EntryType EntryType `gorm:"type:varchar(32);not null"`
	Amount    int64     `gorm:"not null"`
	Currency  string    `gorm:"type:char(3);not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// Balance sums signed amounts.
func Balance(entries []LedgerEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}
