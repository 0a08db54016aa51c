package events

import (
	"encoding/json"
	"time"
)

// Envelope is the wire shape of realtime hints published after a consumer commits.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OrganizationID string          `json:"organization_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}

func NewEnvelope(eventID string, p Payload) (Envelope, error) {
	raw, err := Encode(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:        eventID,
		EventType:      p.EventType(),
		OrganizationID: p.Organization().String(),
		AggregateType:  p.AggregateType(),
		AggregateID:    p.AggregateID(),
		OccurredAt:     p.Timestamp().UTC(),
		Payload:        raw,
	}, nil
}
