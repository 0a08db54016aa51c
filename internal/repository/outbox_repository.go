package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"tenantflow/internal/domain/outbox"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimSQL selects claimable rows oldest first and stamps them in the same
// statement. SKIP LOCKED lets concurrent publishers take disjoint batches.
const claimSQL = `
UPDATE outbox_events
SET claimed_at = @now, processing_token = @token
WHERE event_id IN (
	SELECT event_id FROM outbox_events
	WHERE published_at IS NULL
	  AND dead_lettered_at IS NULL
	  AND (next_attempt_at IS NULL OR next_attempt_at <= @now)
	  AND (claimed_at IS NULL OR claimed_at <= @stale)
	ORDER BY created_at ASC, event_id ASC
	LIMIT @limit
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

type PostgresOutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

func (r *PostgresOutboxRepository) InsertIfAbsent(ctx context.Context, e *outbox.OutboxEvent) (bool, error) {
	// No conflict target: covers both the primary key and the partial dedupe index.
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresOutboxRepository) GetByID(ctx context.Context, eventID uuid.UUID) (outbox.OutboxEvent, error) {
	var e outbox.OutboxEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outbox.OutboxEvent{}, tenantflow_errors.ErrNotFound
		}
		return outbox.OutboxEvent{}, err
	}
	return e, nil
}

func (r *PostgresOutboxRepository) GetPendingByDedupeKey(ctx context.Context, dedupeKey string) (outbox.OutboxEvent, error) {
	var e outbox.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ? AND published_at IS NULL AND dead_lettered_at IS NULL", dedupeKey).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outbox.OutboxEvent{}, tenantflow_errors.ErrNotFound
		}
		return outbox.OutboxEvent{}, err
	}
	return e, nil
}

func (r *PostgresOutboxRepository) Claim(ctx context.Context, now time.Time, staleLease time.Duration, token string, limit int) ([]outbox.OutboxEvent, error) {
	var claimed []outbox.OutboxEvent
	err := r.db.WithContext(ctx).Raw(claimSQL,
		sql.Named("now", now),
		sql.Named("token", token),
		sql.Named("stale", now.Add(-staleLease)),
		sql.Named("limit", limit),
	).Scan(&claimed).Error
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
		}
		return claimed[i].EventID.String() < claimed[j].EventID.String()
	})
	return claimed, nil
}

func (r *PostgresOutboxRepository) updateOwned(ctx context.Context, eventID uuid.UUID, token string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("event_id = ? AND processing_token = ?", eventID, token).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresOutboxRepository) MarkPublished(ctx context.Context, eventID uuid.UUID, token string, now time.Time) (bool, error) {
	return r.updateOwned(ctx, eventID, token, map[string]interface{}{
		"published_at":     now,
		"claimed_at":       nil,
		"processing_token": nil,
		"next_attempt_at":  nil,
		"last_error":       nil,
	})
}

func (r *PostgresOutboxRepository) Reschedule(ctx context.Context, eventID uuid.UUID, token string, attempts int, nextAttemptAt time.Time, lastError string) (bool, error) {
	return r.updateOwned(ctx, eventID, token, map[string]interface{}{
		"attempts":         attempts,
		"next_attempt_at":  nextAttemptAt,
		"claimed_at":       nil,
		"processing_token": nil,
		"last_error":       lastError,
	})
}

func (r *PostgresOutboxRepository) DeadLetter(ctx context.Context, eventID uuid.UUID, token string, attempts int, now time.Time, lastError string) (bool, error) {
	return r.updateOwned(ctx, eventID, token, map[string]interface{}{
		"attempts":         attempts,
		"dead_lettered_at": now,
		"next_attempt_at":  nil,
		"claimed_at":       nil,
		"processing_token": nil,
		"last_error":       lastError,
	})
}

func (r *PostgresOutboxRepository) CreateDelivery(ctx context.Context, d *outbox.OutboxEventDelivery) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *PostgresOutboxRepository) ListDeliveries(ctx context.Context, eventID uuid.UUID) ([]outbox.OutboxEventDelivery, error) {
	var deliveries []outbox.OutboxEventDelivery
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("attempt_number ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *PostgresOutboxRepository) ListDeadLettered(ctx context.Context, limit int) ([]outbox.OutboxEvent, error) {
	var dead []outbox.OutboxEvent
	q := r.db.WithContext(ctx).Where("dead_lettered_at IS NOT NULL")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("dead_lettered_at DESC").Find(&dead).Error; err != nil {
		return nil, err
	}
	return dead, nil
}

func (r *PostgresOutboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	base := r.db.WithContext(ctx).Model(&outbox.OutboxEvent{})
	if err := base.Session(&gorm.Session{}).
		Where("published_at IS NULL AND dead_lettered_at IS NULL").
		Count(&stats.Pending).Error; err != nil {
		return OutboxStats{}, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("dead_lettered_at IS NOT NULL").
		Count(&stats.DeadLettered).Error; err != nil {
		return OutboxStats{}, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("published_at IS NOT NULL").
		Count(&stats.Published).Error; err != nil {
		return OutboxStats{}, err
	}
	return stats, nil
}
