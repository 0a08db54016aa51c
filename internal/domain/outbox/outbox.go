package outbox

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// State is derived from the nullable timestamps, never stored.
type State string

const (
	StatePending      State = "PENDING"
	StateClaimed      State = "CLAIMED"
	StatePublished    State = "PUBLISHED"
	StateDeadLettered State = "DEAD_LETTERED"
)

// OutboxEvent is a unit of asynchronous delivery, written in the same
// transaction as the mutation it announces.
type OutboxEvent struct {
	EventID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizationID  uuid.UUID `gorm:"type:uuid;not null"`
	EventType       string    `gorm:"type:varchar(100);not null"`
	AggregateType   string    `gorm:"type:varchar(50);not null"`
	AggregateID     string    `gorm:"type:varchar(100);not null"`
	Payload         string    `gorm:"type:jsonb;not null"`
	DedupeKey       sql.NullString
	CorrelationID   sql.NullString
	OccurredAt      time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	Attempts        int       `gorm:"not null;default:0"`
	ClaimedAt       sql.NullTime
	ProcessingToken sql.NullString `gorm:"type:varchar(64)"`
	NextAttemptAt   sql.NullTime
	PublishedAt     sql.NullTime
	DeadLetteredAt  sql.NullTime
	LastError       sql.NullString `gorm:"type:varchar(512)"`
}

// TableName returns the database table name
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// Terminal reports whether the event was published or dead-lettered.
func (e OutboxEvent) Terminal() bool {
	return e.PublishedAt.Valid || e.DeadLetteredAt.Valid
}

// Claimable mirrors the SQL claim predicate.
func (e OutboxEvent) Claimable(now time.Time, staleLease time.Duration) bool {
	if e.Terminal() {
		return false
	}
	if e.NextAttemptAt.Valid && e.NextAttemptAt.Time.After(now) {
		return false
	}
	if e.ClaimedAt.Valid && e.ClaimedAt.Time.After(now.Add(-staleLease)) {
		return false
	}
	return true
}

func (e OutboxEvent) State(now time.Time, staleLease time.Duration) State {
	switch {
	case e.PublishedAt.Valid:
		return StatePublished
	case e.DeadLetteredAt.Valid:
		return StateDeadLettered
	case e.ClaimedAt.Valid && e.ClaimedAt.Time.After(now.Add(-staleLease)):
		return StateClaimed
	default:
		return StatePending
	}
}
