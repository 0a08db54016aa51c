package consumers

import (
	"context"
	"testing"
	"time"

	"tenantflow/internal/events"
	"tenantflow/internal/repository/memstore"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutCreated(buyer string, total int64) events.CheckoutCreated {
	return events.CheckoutCreated{
		PaymentID:           uuid.New(),
		OrganizationID:      orgA,
		SourceType:          "TICKET_ORDER",
		SourceID:            "order-1",
		BuyerIdentityRef:    buyer,
		Currency:            "USD",
		Total:               total,
		PlatformFee:         200,
		PricingSnapshotHash: "abc",
		OccurredAt:          base,
	}
}

func TestCrmConsumer_Checkout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	c := NewCrmConsumer(store)

	res, err := c.Apply(ctx, eventFor(t, uuid.New(), checkoutCreated("buyer-1", 1200)))
	require.NoError(t, err)
	assert.Equal(t, Applied(), res)

	second := checkoutCreated("buyer-1", 800)
	second.OccurredAt = base.Add(time.Hour)
	_, err = c.Apply(ctx, eventFor(t, uuid.New(), second))
	require.NoError(t, err)

	contact, err := store.Projections().GetCrmContact(ctx, orgA, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), contact.CheckoutCount)
	assert.Equal(t, int64(2000), contact.CheckoutTotalMinor)
	assert.True(t, base.Add(time.Hour).Equal(contact.LastInteractionAt))
}

func TestCrmConsumer_RedeliveryIsDeduped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	c := NewCrmConsumer(store)
	ev := eventFor(t, uuid.New(), checkoutCreated("buyer-1", 1200))

	_, err := c.Apply(ctx, ev)
	require.NoError(t, err)
	res, err := c.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Deduped(), res)

	contact, err := store.Projections().GetCrmContact(ctx, orgA, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), contact.CheckoutCount)
	assert.Equal(t, int64(1200), contact.CheckoutTotalMinor)
}

func TestCrmConsumer_GuestCheckoutHasNoContact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	c := NewCrmConsumer(store)

	res, err := c.Apply(ctx, eventFor(t, uuid.New(), checkoutCreated("", 1200)))
	require.NoError(t, err)
	assert.Equal(t, Deduped(), res)

	_, err = store.Projections().GetCrmContact(ctx, orgA, "")
	assert.ErrorIs(t, err, tenantflow_errors.ErrNotFound)
}

func TestCrmConsumer_CheckinAndTransfer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	c := NewCrmConsumer(store)

	_, err := c.Apply(ctx, eventFor(t, uuid.New(), events.CheckinRecorded{OrganizationID: orgA, TicketID: "T-1", HolderRef: "alice", OccurredAt: base}))
	require.NoError(t, err)
	res, err := c.Apply(ctx, eventFor(t, uuid.New(), events.OwnershipTransferred{OrganizationID: orgA, TicketID: "T-1", FromRef: "alice", ToRef: "bob", OccurredAt: base.Add(time.Minute)}))
	require.NoError(t, err)
	assert.Equal(t, Applied(), res)

	alice, err := store.Projections().GetCrmContact(ctx, orgA, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), alice.CheckinCount)
	assert.Equal(t, int64(1), alice.TransfersOut)
	assert.Zero(t, alice.TransfersIn)

	bob, err := store.Projections().GetCrmContact(ctx, orgA, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bob.TransfersIn)
	assert.Zero(t, bob.CheckinCount)
}

func TestCrmConsumer_OutOfOrderEventsCommute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	c := NewCrmConsumer(store)

	late := checkoutCreated("buyer-1", 500)
	late.OccurredAt = base.Add(time.Hour)
	early := checkoutCreated("buyer-1", 700)

	_, err := c.Apply(ctx, eventFor(t, uuid.New(), late))
	require.NoError(t, err)
	res, err := c.Apply(ctx, eventFor(t, uuid.New(), early))
	require.NoError(t, err)
	assert.Equal(t, Applied(), res)

	contact, err := store.Projections().GetCrmContact(ctx, orgA, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), contact.CheckoutTotalMinor)
	assert.True(t, late.OccurredAt.Equal(contact.LastInteractionAt))
}
