package repository

import (
	"context"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) EventLogs() EventLogRepository     { return NewEventLogRepository(s.db) }
func (s *GormStore) Outbox() OutboxRepository          { return NewOutboxRepository(s.db) }
func (s *GormStore) Payments() PaymentRepository       { return NewPaymentRepository(s.db) }
func (s *GormStore) Sources() SourceRepository         { return NewSourceRepository(s.db) }
func (s *GormStore) Projections() ProjectionRepository { return NewProjectionRepository(s.db) }

// WithTx runs fn in a database transaction. Called on a Store that is already
// transactional, gorm nests it under a savepoint.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
