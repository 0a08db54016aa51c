package repository

import (
	"context"
	"errors"

	"tenantflow/internal/domain/payment"
	"tenantflow/internal/domain/source"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresSourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &PostgresSourceRepository{db: db}
}

func (r *PostgresSourceRepository) GetSource(ctx context.Context, sourceType payment.SourceType, sourceID string) (source.CheckoutSource, error) {
	var s source.CheckoutSource
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return source.CheckoutSource{}, tenantflow_errors.ErrNotFound
		}
		return source.CheckoutSource{}, err
	}
	return s, nil
}

func (r *PostgresSourceRepository) GetFeeConfig(ctx context.Context, orgID uuid.UUID) (source.OrganizationFeeConfig, error) {
	var c source.OrganizationFeeConfig
	err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return source.OrganizationFeeConfig{}, tenantflow_errors.ErrNotFound
		}
		return source.OrganizationFeeConfig{}, err
	}
	return c, nil
}

func (r *PostgresSourceRepository) SaveSource(ctx context.Context, s *source.CheckoutSource) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
}

func (r *PostgresSourceRepository) SaveFeeConfig(ctx context.Context, c *source.OrganizationFeeConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error
}
