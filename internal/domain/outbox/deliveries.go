package outbox

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryDelivered    = "DELIVERED"
	DeliveryRetry        = "RETRY"
	DeliveryDeadLettered = "DEAD_LETTERED"
)

// OutboxEventDelivery represents outbox_event_deliveries, one row per handler invocation.
type OutboxEventDelivery struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AttemptNumber int       `gorm:"not null"`
	Status        string    `gorm:"type:varchar(20);not null"`
	Outcome       string    `gorm:"type:varchar(20)"`
	ErrorMessage  sql.NullString
	DurationMs    int64
	CreatedAt     time.Time `gorm:"not null"`
}

func (OutboxEventDelivery) TableName() string {
	return "outbox_event_deliveries"
}
