package eventlog

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry represents event_logs. Rows are inserted once and never updated or deleted.
type Entry struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID     `gorm:"type:uuid;not null;index:idx_event_logs_org_created"`
	EventType      string        `gorm:"type:varchar(100);not null"`
	Payload        string        `gorm:"type:jsonb;not null"`
	IdempotencyKey string        `gorm:"type:varchar(255);not null;uniqueIndex"`
	ActorUserID    uuid.NullUUID `gorm:"type:uuid"`
	CorrelationID  sql.NullString
	CausationID    sql.NullString
	CreatedAt      time.Time `gorm:"not null;index:idx_event_logs_org_created"`
}

func (Entry) TableName() string {
	return "event_logs"
}
