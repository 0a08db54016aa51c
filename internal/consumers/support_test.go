package consumers

import (
	"context"
	"errors"
	"testing"
	"time"

	"tenantflow/internal/domain/projection"
	"tenantflow/internal/events"
	"tenantflow/internal/outbox"
	"tenantflow/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticketStatus(org uuid.UUID, status string, at time.Time) events.SupportTicketStatusChanged {
	return events.SupportTicketStatusChanged{OrganizationID: org, TicketID: "TCK-1", Status: status, OccurredAt: at}
}

func TestSupportTicketConsumer_AppliesAndNotifies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	notifier := &recordingNotifier{}
	c := NewSupportTicketConsumer(store, notifier, nil)
	id := uuid.New()

	res, err := c.Apply(ctx, eventFor(t, id, ticketStatus(orgA, "OPEN", base)))
	require.NoError(t, err)
	assert.Equal(t, Applied(), res)

	synced, err := store.Projections().GetSupportTicketSync(ctx, "TCK-1")
	require.NoError(t, err)
	assert.Equal(t, "OPEN", synced.Status)
	assert.Equal(t, id, synced.LastEventID)

	require.Len(t, notifier.envs, 1)
	assert.Equal(t, "channel:org:"+orgA.String()+":support", notifier.channels[0])
	assert.Equal(t, id.String(), notifier.envs[0].EventID)
	assert.Equal(t, events.EventTypeSupportTicketStatusChanged, notifier.envs[0].EventType)
}

func TestSupportTicketConsumer_DedupedAndStaleDoNotNotify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	notifier := &recordingNotifier{}
	c := NewSupportTicketConsumer(store, notifier, nil)

	current := eventFor(t, uuid.New(), ticketStatus(orgA, "CLOSED", base.Add(time.Hour)))
	_, err := c.Apply(ctx, current)
	require.NoError(t, err)

	res, err := c.Apply(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, Deduped(), res)

	res, err = c.Apply(ctx, eventFor(t, uuid.New(), ticketStatus(orgA, "OPEN", base)))
	require.NoError(t, err)
	assert.Equal(t, Stale(), res)

	synced, err := store.Projections().GetSupportTicketSync(ctx, "TCK-1")
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", synced.Status)
	assert.Len(t, notifier.envs, 1)
}

func TestSupportTicketConsumer_OrganizationMismatchIsRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	_, err := store.Projections().SaveSupportTicketSync(ctx, &projection.SupportTicketSync{
		TicketID:       "TCK-1",
		OrganizationID: orgA,
		Status:         "OPEN",
		LastEventID:    uuid.New(),
		LastEventAt:    base,
		UpdatedAt:      base,
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	c := NewSupportTicketConsumer(store, notifier, nil)

	res, err := c.Apply(ctx, eventFor(t, uuid.New(), ticketStatus(orgB, "CLOSED", base.Add(time.Hour))))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "TICKET_ORGANIZATION_MISMATCH", res.Code)
	assert.Empty(t, notifier.envs)

	_, err = Handler(c, nil).Handle(ctx, deliveryFor(t, uuid.New(), ticketStatus(orgB, "CLOSED", base.Add(2*time.Hour))))
	require.Error(t, err)
	assert.True(t, outbox.IsPermanent(err))
}

func TestSupportTicketConsumer_NotifyFailureIsIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	notifier := &recordingNotifier{err: errors.New("redis unavailable")}
	c := NewSupportTicketConsumer(store, notifier, nil).
		WithChannel(func(org uuid.UUID) string { return "hints:" + org.String() })

	res, err := c.Apply(ctx, eventFor(t, uuid.New(), ticketStatus(orgA, "OPEN", base)))
	require.NoError(t, err)
	assert.Equal(t, Applied(), res)
	assert.Equal(t, []string{"hints:" + orgA.String()}, notifier.channels)
}

func TestSupportTicketConsumer_WithoutNotifier(t *testing.T) {
	t.Parallel()

	c := NewSupportTicketConsumer(memstore.New(), nil, nil)
	res, err := c.Apply(context.Background(), eventFor(t, uuid.New(), ticketStatus(orgA, "OPEN", base)))
	require.NoError(t, err)
	assert.Equal(t, Applied(), res)
}
