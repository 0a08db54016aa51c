package repository

import (
	"fmt"

	"tenantflow/internal/domain/eventlog"
	"tenantflow/internal/domain/outbox"
	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/projection"
	"tenantflow/internal/domain/source"

	"gorm.io/gorm"
)

// Models lists every table owned by this module, in creation order.
func Models() []interface{} {
	return []interface{}{
		&eventlog.Entry{},
		&outbox.OutboxEvent{},
		&outbox.OutboxEventDelivery{},
		&source.CheckoutSource{},
		&source.OrganizationFeeConfig{},
		&payment.Payment{},
		&payment.LedgerEntry{},
		&projection.SearchIndexItem{},
		&projection.LoyaltyNotification{},
		&projection.CrmContact{},
		&projection.CrmIngestedEvent{},
		&projection.SupportTicketSync{},
	}
}

// InitSchema creates extensions, runs the Gorm auto-migration and adds the
// indexes Gorm tags cannot express.
func InitSchema(db *gorm.DB) error {
	// Note: Creating extensions usually requires superuser privileges.
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`).Error; err != nil {
		return fmt.Errorf("failed to create extension: %w", err)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	indexes := []string{
		// A dedupe key may be reused only once the earlier row is terminal.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_outbox_events_pending_dedupe
			ON outbox_events (dedupe_key)
			WHERE dedupe_key IS NOT NULL AND published_at IS NULL AND dead_lettered_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_events_claimable
			ON outbox_events (created_at, event_id)
			WHERE published_at IS NULL AND dead_lettered_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_events_dead_lettered
			ON outbox_events (dead_lettered_at DESC)
			WHERE dead_lettered_at IS NOT NULL;`,
		`DO $$ BEGIN
			ALTER TABLE ledger_entries ADD CONSTRAINT fk_ledger_entries_payment
				FOREIGN KEY (payment_id) REFERENCES payments (id);
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
		`DO $$ BEGIN
			ALTER TABLE ledger_entries ADD CONSTRAINT chk_ledger_entries_sign CHECK (
				(entry_type = 'GROSS' AND amount >= 0)
				OR (entry_type IN ('PLATFORM_FEE', 'PROCESSOR_FEES_FINAL') AND amount <= 0)
				OR entry_type = 'PROCESSOR_FEES_ADJUSTMENT'
			);
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
