package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/source"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	OrganizationID uuid.UUID
	FeeBps         int64
	InviteToken    string
}

// DefaultSeedConfig returns a fixed organization so repeated seeds are idempotent.
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		OrganizationID: uuid.MustParse("00000000-0000-4000-8000-000000000001"),
		FeeBps:         2000,
		InviteToken:    "dev-invite-token",
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	FeeConfig *source.OrganizationFeeConfig
	Sources   []*source.CheckoutSource
}

// SeedDevelopment inserts one organization fee override and a few open
// checkout sources. Existing rows are left untouched.
func SeedDevelopment(db *gorm.DB, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	now := time.Now().UTC()
	result := &SeedResult{}

	log.Println("Starting database seeding...")

	err := db.Transaction(func(tx *gorm.DB) error {
		feeConfig := &source.OrganizationFeeConfig{
			OrganizationID: cfg.OrganizationID,
			FeeMode:        sql.NullString{String: "ADDED", Valid: true},
			FeeBps:         sql.NullInt64{Int64: cfg.FeeBps, Valid: true},
			FeeFixed:       sql.NullInt64{Int64: 0, Valid: true},
			UpdatedAt:      now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(feeConfig).Error; err != nil {
			return fmt.Errorf("seed fee config: %w", err)
		}
		result.FeeConfig = feeConfig

		sources := []*source.CheckoutSource{
			seedSource(cfg.OrganizationID, payment.SourceTicketOrder, "order-1", "Summer Festival GA", []source.LineItem{
				{SKU: "GA", Description: "General admission", UnitAmount: 500, Quantity: 2},
			}, now),
			seedSource(cfg.OrganizationID, payment.SourceBooking, "booking-1", "Court 3, Saturday 10:00", []source.LineItem{
				{SKU: "COURT-60", Description: "60 minute court booking", UnitAmount: 2400, Quantity: 1},
			}, now),
			seedSource(cfg.OrganizationID, payment.SourcePadelRegistration, "padel-open-1", "Club Open doubles", []source.LineItem{
				{SKU: "PAIR", Description: "Pair registration", UnitAmount: 3000, Quantity: 1},
			}, now),
		}
		sources[2].AccessMode = source.AccessInviteOnly
		sum := sha256.Sum256([]byte(cfg.InviteToken))
		sources[2].InviteTokenHash = sql.NullString{String: hex.EncodeToString(sum[:]), Valid: true}

		for _, s := range sources {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(s).Error; err != nil {
				return fmt.Errorf("seed source %s/%s: %w", s.SourceType, s.SourceID, err)
			}
		}
		result.Sources = sources
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Seeded organization %s with %d checkout sources", cfg.OrganizationID, len(result.Sources))
	return result, nil
}

func seedSource(orgID uuid.UUID, st payment.SourceType, id, title string, lines []source.LineItem, now time.Time) *source.CheckoutSource {
	raw, _ := json.Marshal(lines)
	return &source.CheckoutSource{
		SourceType:           st,
		SourceID:             id,
		OrganizationID:       orgID,
		Status:               source.StatusOpen,
		Title:                title,
		Currency:             "USD",
		LineItems:            string(raw),
		AccessMode:           source.AccessPublic,
		GuestCheckoutAllowed: true,
		UpdatedAt:            now,
	}
}
