package repository

import (
	"context"
	"errors"

	"tenantflow/internal/domain/projection"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresProjectionRepository struct {
	db *gorm.DB
}

func NewProjectionRepository(db *gorm.DB) ProjectionRepository {
	return &PostgresProjectionRepository{db: db}
}

func (r *PostgresProjectionRepository) GetSearchItem(ctx context.Context, orgID uuid.UUID, sourceType, sourceID string) (projection.SearchIndexItem, error) {
	var item projection.SearchIndexItem
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND source_type = ? AND source_id = ?", orgID, sourceType, sourceID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return projection.SearchIndexItem{}, tenantflow_errors.ErrNotFound
		}
		return projection.SearchIndexItem{}, err
	}
	return item, nil
}

// SaveSearchItem upserts item unless the stored row already reflects a newer event.
func (r *PostgresProjectionRepository) SaveSearchItem(ctx context.Context, item *projection.SearchIndexItem) (bool, error) {
	return r.upsertIfNewer(ctx, item, "search_index_items")
}

func (r *PostgresProjectionRepository) upsertIfNewer(ctx context.Context, row interface{}, table string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			UpdateAll: true,
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: table + ".last_event_at <= EXCLUDED.last_event_at"},
			}},
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresProjectionRepository) InsertLoyaltyNotification(ctx context.Context, n *projection.LoyaltyNotification) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresProjectionRepository) CountLoyaltyNotifications(ctx context.Context, dedupeKey string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&projection.LoyaltyNotification{}).
		Where("dedupe_key = ?", dedupeKey).
		Count(&count).Error
	return count, err
}

func (r *PostgresProjectionRepository) InsertCrmIngestedEvent(ctx context.Context, e *projection.CrmIngestedEvent) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresProjectionRepository) GetCrmContact(ctx context.Context, orgID uuid.UUID, identityRef string) (projection.CrmContact, error) {
	var c projection.CrmContact
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND identity_ref = ?", orgID, identityRef).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return projection.CrmContact{}, tenantflow_errors.ErrNotFound
		}
		return projection.CrmContact{}, err
	}
	return c, nil
}

// IncrementCrmContact adds the counters in delta to the stored contact, creating it when missing.
func (r *PostgresProjectionRepository) IncrementCrmContact(ctx context.Context, delta *projection.CrmContact) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}, {Name: "identity_ref"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"checkout_count":       gorm.Expr("crm_contacts.checkout_count + EXCLUDED.checkout_count"),
				"checkout_total_minor": gorm.Expr("crm_contacts.checkout_total_minor + EXCLUDED.checkout_total_minor"),
				"checkin_count":        gorm.Expr("crm_contacts.checkin_count + EXCLUDED.checkin_count"),
				"transfers_in":         gorm.Expr("crm_contacts.transfers_in + EXCLUDED.transfers_in"),
				"transfers_out":        gorm.Expr("crm_contacts.transfers_out + EXCLUDED.transfers_out"),
				"last_interaction_at":  gorm.Expr("GREATEST(crm_contacts.last_interaction_at, EXCLUDED.last_interaction_at)"),
				"updated_at":           gorm.Expr("EXCLUDED.updated_at"),
			}),
		}).
		Create(delta).Error
}

func (r *PostgresProjectionRepository) GetSupportTicketSync(ctx context.Context, ticketID string) (projection.SupportTicketSync, error) {
	var s projection.SupportTicketSync
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("ticket_id = ?", ticketID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return projection.SupportTicketSync{}, tenantflow_errors.ErrNotFound
		}
		return projection.SupportTicketSync{}, err
	}
	return s, nil
}

func (r *PostgresProjectionRepository) SaveSupportTicketSync(ctx context.Context, s *projection.SupportTicketSync) (bool, error) {
	return r.upsertIfNewer(ctx, s, "support_ticket_syncs")
}
