package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

func TestNotificationAppendAndList(t *testing.T) {
	ctx := context.Background()
	n := NewNotificationStore(store.NewMemoryStore(), zaptest.NewLogger(t), 10)

	require.NoError(t, n.Append(ctx, "seller-1", model.Notification{
		Type:             model.NotificationSale,
		TradeID:          "trade-1",
		ItemName:         "scrap_metal",
		Quantity:         3,
		Price:            500,
		CounterpartyName: "Buyer One",
	}))
	require.NoError(t, n.Append(ctx, "seller-1", model.Notification{
		Type:    model.NotificationSale,
		TradeID: "trade-2",
	}))

	got, err := n.List(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, "trade-2", got[0].TradeID)
	assert.Equal(t, "trade-1", got[1].TradeID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Read)

	// Other players see nothing.
	other, err := n.List(ctx, "seller-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestNotificationAppendIdempotentPerTrade(t *testing.T) {
	ctx := context.Background()
	n := NewNotificationStore(store.NewMemoryStore(), zaptest.NewLogger(t), 10)

	notif := model.Notification{Type: model.NotificationSale, TradeID: "trade-1"}
	require.NoError(t, n.Append(ctx, "seller-1", notif))
	require.NoError(t, n.Append(ctx, "seller-1", notif))

	got, err := n.List(ctx, "seller-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNotificationCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	n := NewNotificationStore(store.NewMemoryStore(), zaptest.NewLogger(t), 3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, n.Append(ctx, "seller-1", model.Notification{
			Type:    model.NotificationSale,
			TradeID: fmt.Sprintf("trade-%d", i),
		}))
	}

	got, err := n.List(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "trade-5", got[0].TradeID)
	assert.Equal(t, "trade-3", got[2].TradeID)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	n := NewNotificationStore(store.NewMemoryStore(), zaptest.NewLogger(t), 10)

	require.NoError(t, n.Append(ctx, "seller-1", model.Notification{
		Type:    model.NotificationSale,
		TradeID: "trade-1",
	}))
	got, err := n.List(ctx, "seller-1")
	require.NoError(t, err)

	require.NoError(t, n.MarkRead(ctx, "seller-1", got[0].ID))
	// Marking twice stays settled.
	require.NoError(t, n.MarkRead(ctx, "seller-1", got[0].ID))

	got, err = n.List(ctx, "seller-1")
	require.NoError(t, err)
	assert.True(t, got[0].Read)

	err = n.MarkRead(ctx, "seller-1", "no-such-id")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}
