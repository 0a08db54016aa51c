package repository

import (
	"context"
	"errors"
	"time"

	"tenantflow/internal/domain/payment"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresPaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func (r *PostgresPaymentRepository) InsertIfAbsent(ctx context.Context, p *payment.Payment) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_type"}, {Name: "source_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payment.Payment{}, tenantflow_errors.ErrNotFound
		}
		return payment.Payment{}, err
	}
	return p, nil
}

func (r *PostgresPaymentRepository) LockByID(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payment.Payment{}, tenantflow_errors.ErrNotFound
		}
		return payment.Payment{}, err
	}
	return p, nil
}

func (r *PostgresPaymentRepository) GetByIdempotency(ctx context.Context, sourceType payment.SourceType, sourceID, key string) (payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ? AND idempotency_key = ?", sourceType, sourceID, key).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payment.Payment{}, tenantflow_errors.ErrNotFound
		}
		return payment.Payment{}, err
	}
	return p, nil
}

func (r *PostgresPaymentRepository) CreateLedgerEntries(ctx context.Context, entries []payment.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *PostgresPaymentRepository) ListLedgerEntries(ctx context.Context, paymentID uuid.UUID) ([]payment.LedgerEntry, error) {
	var entries []payment.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *PostgresPaymentRepository) UpdateProcessorFees(ctx context.Context, id uuid.UUID, actual int64, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&payment.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processor_fees_status": payment.ProcessorFeesFinal,
			"processor_fees_actual": actual,
			"updated_at":            now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tenantflow_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) AttachIntent(ctx context.Context, id uuid.UUID, intentID string, status payment.Status, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&payment.Payment{}).
		Where("id = ? AND processor_intent_id IS NULL", id).
		Updates(map[string]interface{}{
			"processor_intent_id": intentID,
			"status":              status,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
