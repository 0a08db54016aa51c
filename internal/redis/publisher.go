package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tenantflow/internal/events"
)

// Channel patterns:
// - channel:org:{org_id}:support - support ticket status hints

func SupportChannel(orgID uuid.UUID) string {
	return fmt.Sprintf("channel:org:%s:support", orgID.String())
}

// Publisher sends realtime hints. Hints are advisory; subscribers re-read the
// projection, so a lost message only delays a refresh.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// PublishEnvelope marshals env and publishes it on channel.
func (p *Publisher) PublishEnvelope(ctx context.Context, channel string, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}
	return p.Publish(ctx, channel, data)
}
