package repository

import (
	"context"
	"errors"

	"tenantflow/internal/domain/eventlog"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresEventLogRepository struct {
	db *gorm.DB
}

func NewEventLogRepository(db *gorm.DB) EventLogRepository {
	return &PostgresEventLogRepository{db: db}
}

func (r *PostgresEventLogRepository) InsertIfAbsent(ctx context.Context, e *eventlog.Entry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresEventLogRepository) GetByIdempotencyKey(ctx context.Context, key string) (eventlog.Entry, error) {
	var e eventlog.Entry
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return eventlog.Entry{}, tenantflow_errors.ErrNotFound
		}
		return eventlog.Entry{}, err
	}
	return e, nil
}

func (r *PostgresEventLogRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]eventlog.Entry, error) {
	var entries []eventlog.Entry
	q := r.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("created_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
