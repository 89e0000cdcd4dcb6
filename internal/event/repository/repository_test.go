package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/event/domain"
	"github.com/smallbiznis/txledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

func newEvent(node *snowflake.Node, externalID string, rt domain.ResourceType, eventType string, at time.Time, payload domain.Payload) *domain.Event {
	return &domain.Event{
		ID:                 node.Generate(),
		ResourceExternalID: externalID,
		ResourceType:       rt,
		EventType:          eventType,
		EventDate:          at,
		Payload:            payload,
		ReceivedAt:         base,
	}
}

func TestInsertDeduplicatesDeliveries(t *testing.T) {
	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()

	first := newEvent(node, "pay_1", domain.ResourceTypePayment, "PAYMENT_CREATED", base, domain.Payload{"amount": "100"})
	inserted, err := repo.Insert(ctx, db, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, first.PayloadHash)

	redelivery := newEvent(node, "pay_1", domain.ResourceTypePayment, "PAYMENT_CREATED", base, domain.Payload{"amount": "100"})
	inserted, err = repo.Insert(ctx, db, redelivery)
	require.NoError(t, err)
	assert.False(t, inserted)

	changed := newEvent(node, "pay_1", domain.ResourceTypePayment, "PAYMENT_CREATED", base, domain.Payload{"amount": "200"})
	inserted, err = repo.Insert(ctx, db, changed)
	require.NoError(t, err)
	assert.True(t, inserted)

	items, err := repo.ListByResource(ctx, db, "pay_1", domain.ResourceTypePayment)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestListOrdersByEventDateThenArrival(t *testing.T) {
	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()

	late := newEvent(node, "pay_1", domain.ResourceTypePayment, "CAPTURE_CONFIRMED", base.Add(time.Minute), nil)
	early := newEvent(node, "pay_1", domain.ResourceTypePayment, "PAYMENT_CREATED", base, nil)
	tie := newEvent(node, "pay_1", domain.ResourceTypePayment, "AUTHORISATION_SUCCEEDED", base, nil)
	other := newEvent(node, "pay_1", domain.ResourceTypeRefund, "REFUND_CREATED", base, nil)
	for _, ev := range []*domain.Event{late, early, tie, other} {
		_, err := repo.Insert(ctx, db, ev)
		require.NoError(t, err)
	}

	items, err := repo.ListByResource(ctx, db, "pay_1", domain.ResourceTypePayment)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"PAYMENT_CREATED", "AUTHORISATION_SUCCEEDED", "CAPTURE_CONFIRMED"},
		[]string{items[0].EventType, items[1].EventType, items[2].EventType})
	assert.True(t, items[0].EventDate.Equal(base))

	all, err := repo.ListByExternalID(ctx, db, "pay_1")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := repo.ListByExternalID(ctx, db, "pay_404")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdatePayloadKeepsHash(t *testing.T) {
	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()

	ev := newEvent(node, "pay_1", domain.ResourceTypePayment, "PAYMENT_CREATED", base, domain.Payload{"email": "a@example.com", "amount": "100"})
	_, err = repo.Insert(ctx, db, ev)
	require.NoError(t, err)
	originalHash := ev.PayloadHash

	require.NoError(t, repo.UpdatePayload(ctx, db, ev.ID, domain.Payload{"amount": "100"}))

	items, err := repo.ListByResource(ctx, db, "pay_1", domain.ResourceTypePayment)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Payload.Has("email"))
	assert.Equal(t, originalHash, items[0].PayloadHash)

	redelivery := newEvent(node, "pay_1", domain.ResourceTypePayment, "PAYMENT_CREATED", base, domain.Payload{"email": "a@example.com", "amount": "100"})
	inserted, err := repo.Insert(ctx, db, redelivery)
	require.NoError(t, err)
	assert.False(t, inserted)
}
