package httpdto

import (
	"time"

	"tenantflow/internal/domain/outbox"
	publisher "tenantflow/internal/outbox"
	"tenantflow/internal/repository"
)

type PublishBatchRequest struct {
	BatchSize int `json:"batch_size"`
}

type PublishBatchResponse struct {
	Claimed      int `json:"claimed"`
	Published    int `json:"published"`
	Deduped      int `json:"deduped"`
	Stale        int `json:"stale"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
	LeaseLost    int `json:"lease_lost"`
	SettleFailed int `json:"settle_failed"`
}

func FromBatchResult(r publisher.BatchResult) PublishBatchResponse {
	return PublishBatchResponse{
		Claimed:      r.Claimed,
		Published:    r.Published,
		Deduped:      r.Deduped,
		Stale:        r.Stale,
		Retried:      r.Retried,
		DeadLettered: r.DeadLettered,
		LeaseLost:    r.LeaseLost,
		SettleFailed: r.SettleFailed,
	}
}

type DeadLetterDTO struct {
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	EventType      string    `json:"event_type"`
	AggregateType  string    `json:"aggregate_type"`
	AggregateID    string    `json:"aggregate_id"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

type DeadLettersResponse struct {
	Events       []DeadLetterDTO `json:"events"`
	Pending      int64           `json:"pending"`
	Published    int64           `json:"published"`
	DeadLettered int64           `json:"dead_lettered"`
}

func FromDeadLetters(events []outbox.OutboxEvent, stats repository.OutboxStats) DeadLettersResponse {
	out := make([]DeadLetterDTO, 0, len(events))
	for _, e := range events {
		out = append(out, DeadLetterDTO{
			EventID:        e.EventID.String(),
			OrganizationID: e.OrganizationID.String(),
			EventType:      e.EventType,
			AggregateType:  e.AggregateType,
			AggregateID:    e.AggregateID,
			Attempts:       e.Attempts,
			LastError:      e.LastError.String,
			CreatedAt:      e.CreatedAt,
			DeadLetteredAt: e.DeadLetteredAt.Time,
		})
	}
	return DeadLettersResponse{
		Events:       out,
		Pending:      stats.Pending,
		Published:    stats.Published,
		DeadLettered: stats.DeadLettered,
	}
}
