package source

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tenantflow/internal/domain/payment"

	"github.com/google/uuid"
)

type AccessMode string

const (
	AccessPublic     AccessMode = "PUBLIC"
	AccessInviteOnly AccessMode = "INVITE_ONLY"
)

const StatusOpen = "OPEN"

type LineItem struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	UnitAmount  int64  `json:"unitAmount"`
	Quantity    int64  `json:"quantity"`
}

// CheckoutSource is the payable view of an order, booking or registration.
// Feature modules own the row; checkout only reads it.
type CheckoutSource struct {
	SourceType           payment.SourceType `gorm:"type:varchar(32);primaryKey"`
	SourceID             string             `gorm:"type:varchar(100);primaryKey"`
	OrganizationID       uuid.UUID          `gorm:"type:uuid;not null;index"`
	Status               string             `gorm:"type:varchar(20);not null"`
	Title                string             `gorm:"type:varchar(255)"`
	Currency             string             `gorm:"type:char(3);not null"`
	LineItems            string             `gorm:"type:jsonb;not null"`
	DiscountTotal        int64              `gorm:"not null;default:0"`
	TaxTotal             int64              `gorm:"not null;default:0"`
	AccessMode           AccessMode         `gorm:"type:varchar(20);not null"`
	InviteTokenHash      sql.NullString
	GuestCheckoutAllowed bool      `gorm:"not null;default:false"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (CheckoutSource) TableName() string {
	return "checkout_sources"
}

func (s CheckoutSource) Lines() ([]LineItem, error) {
	var lines []LineItem
	if err := json.Unmarshal([]byte(s.LineItems), &lines); err != nil {
		return nil, fmt.Errorf("decode line items for %s/%s: %w", s.SourceType, s.SourceID, err)
	}
	return lines, nil
}

// OrganizationFeeConfig overrides the platform default fee policy. Null columns fall back to the default.
type OrganizationFeeConfig struct {
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	FeeMode        sql.NullString
	FeeBps         sql.NullInt64
	FeeFixed       sql.NullInt64
	PolicyVersion  sql.NullString
	UpdatedAt      time.Time `gorm:"not null"`
}

func (OrganizationFeeConfig) TableName() string {
	return "organization_fee_configs"
}
