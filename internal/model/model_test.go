package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTotal(t *testing.T) {
	t.Parallel()

	order := Order{Items: []OrderItem{
		{UnitPrice: 10, Units: 2},
		{UnitPrice: 25, Units: 1},
	}}
	assert.Equal(t, float64(45), order.Total())

	withDiscount := Order{Items: []OrderItem{
		{UnitPrice: 10, Units: 3, Discount: 5},
	}}
	assert.Equal(t, float64(25), withDiscount.Total())

	assert.Zero(t, Order{}.Total())
}

func TestParseOrderStatus(t *testing.T) {
	t.Parallel()

	st, ok := ParseOrderStatus("  Awaiting_Validation ")
	assert.True(t, ok)
	assert.Equal(t, StatusAwaitingValidation, st)

	_, ok = ParseOrderStatus("delivered")
	assert.False(t, ok)
}

func TestFollowsFromPropagatesCorrelation(t *testing.T) {
	t.Parallel()

	root := NewEvent("basket.checkout", nil)
	second := FollowsFrom(root, "order.submitted", nil)
	third := FollowsFrom(second, "order.awaiting_validation", nil)

	require.NotNil(t, second.Metadata)
	assert.Equal(t, root.ID, second.Metadata.CorrelationID)
	assert.Equal(t, root.ID, second.Metadata.CausationID)

	// correlation sticks to the first event of the flow, causation moves
	require.NotNil(t, third.Metadata)
	assert.Equal(t, root.ID, third.Metadata.CorrelationID)
	assert.Equal(t, second.ID, third.Metadata.CausationID)
}

func TestNewEventAssignsUniqueIDs(t *testing.T) {
	t.Parallel()

	a := NewEvent("order.submitted", nil)
	b := NewEvent("order.submitted", nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	event := NewEvent("stock.rejected", StockRejectedPayload{
		OrderID: 5,
		RejectedItems: []RejectedItem{
			{ProductID: 20, Available: 2, Requested: 10},
		},
	})

	var decoded StockRejectedPayload
	require.NoError(t, event.DecodePayload(&decoded))
	assert.Equal(t, int64(5), decoded.OrderID)
	require.Len(t, decoded.RejectedItems, 1)
	assert.Equal(t, 2, decoded.RejectedItems[0].Available)
}
