package saga

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/model"
)

type fakeOrders struct {
	orders map[int64]*model.Order
	nextID int64

	created []model.Order
	updates []model.OrderStatus
}

func newFakeOrders(existing ...*model.Order) *fakeOrders {
	f := &fakeOrders{orders: map[int64]*model.Order{}, nextID: 100}
	for _, o := range existing {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) Create(ctx context.Context, tx *sqlx.Tx, buyerID int64, in model.CreateOrderInput) (*model.Order, error) {
	f.nextID++
	order := &model.Order{
		ID:      f.nextID,
		BuyerID: buyerID,
		Status:  model.StatusSubmitted,
		Street:  in.Street,
		City:    in.City,
		Items:   in.Items,
	}
	f.orders[order.ID] = order
	f.created = append(f.created, *order)
	return order, nil
}

func (f *fakeOrders) FindByID(ctx context.Context, id int64) (*model.Order, error) {
	return f.orders[id], nil
}

func (f *fakeOrders) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Order, error) {
	return f.orders[id], nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.OrderStatus) (*model.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	order.Status = status
	f.updates = append(f.updates, status)
	return order, nil
}

func (f *fakeOrders) ListByBuyer(ctx context.Context, buyerID int64, status string, page, pageSize int) ([]model.Order, int, error) {
	return nil, 0, nil
}

type fakeOutbox struct {
	saved []model.IntegrationEvent
}

func (f *fakeOutbox) Save(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error {
	f.saved = append(f.saved, event)
	return nil
}

func newTestOrchestrator(orders *fakeOrders) (*Orchestrator, *fakeOutbox) {
	outbox := &fakeOutbox{}
	return NewOrchestrator(nil, orders, outbox, zap.NewNop()), outbox
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	legal := []struct{ from, to model.OrderStatus }{
		{model.StatusSubmitted, model.StatusAwaitingValidation},
		{model.StatusSubmitted, model.StatusCancelled},
		{model.StatusAwaitingValidation, model.StatusConfirmed},
		{model.StatusAwaitingValidation, model.StatusCancelled},
		{model.StatusConfirmed, model.StatusPaid},
		{model.StatusConfirmed, model.StatusCancelled},
		{model.StatusPaid, model.StatusShipped},
		{model.StatusPaid, model.StatusCancelled},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s must be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to model.OrderStatus }{
		{model.StatusSubmitted, model.StatusConfirmed},
		{model.StatusSubmitted, model.StatusPaid},
		{model.StatusAwaitingValidation, model.StatusPaid},
		{model.StatusConfirmed, model.StatusShipped},
		{model.StatusShipped, model.StatusCancelled},
		{model.StatusShipped, model.StatusPaid},
		{model.StatusCancelled, model.StatusSubmitted},
		{model.StatusCancelled, model.StatusCancelled},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s must be illegal", tc.from, tc.to)
	}
}

func TestHandleBasketCheckoutCreatesOrderAndEmitsSubmitted(t *testing.T) {
	t.Parallel()

	orders := newFakeOrders()
	orch, outbox := newTestOrchestrator(orders)

	checkout := model.NewEvent(model.EventBasketCheckout, model.BasketCheckoutPayload{
		BuyerID: 42,
		Items: []model.BasketItem{
			{ProductID: 1, UnitPrice: 10, Quantity: 2},
			{ProductID: 2, UnitPrice: 25, Quantity: 1},
		},
	})

	require.NoError(t, orch.HandleBasketCheckout(context.Background(), nil, checkout))

	require.Len(t, orders.created, 1)
	created := orders.created[0]
	assert.Equal(t, model.StatusSubmitted, created.Status)
	assert.Equal(t, int64(42), created.BuyerID)
	assert.Equal(t, float64(45), created.Total())

	require.Len(t, outbox.saved, 1)
	out := outbox.saved[0]
	assert.Equal(t, model.EventOrderSubmitted, out.Type)

	var payload model.OrderSubmittedPayload
	require.NoError(t, out.DecodePayload(&payload))
	assert.Equal(t, created.ID, payload.OrderID)
	assert.Equal(t, int64(42), payload.BuyerID)
	assert.Equal(t, float64(45), payload.Total)
	assert.Equal(t, 2, payload.ItemCount)

	// causation chain starts at the checkout event
	require.NotNil(t, out.Metadata)
	assert.Equal(t, checkout.ID, out.Metadata.CorrelationID)
	assert.Equal(t, checkout.ID, out.Metadata.CausationID)
}

func TestHandleBasketCheckoutEmptyBasketAcked(t *testing.T) {
	t.Parallel()

	orders := newFakeOrders()
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventBasketCheckout, model.BasketCheckoutPayload{BuyerID: 42})

	require.NoError(t, orch.HandleBasketCheckout(context.Background(), nil, event))
	assert.Empty(t, orders.created)
	assert.Empty(t, outbox.saved)
}

func TestHandleOrderSubmittedRequestsStockValidation(t *testing.T) {
	t.Parallel()

	order := &model.Order{
		ID: 7, BuyerID: 3, Status: model.StatusSubmitted,
		Items: []model.OrderItem{
			{ProductID: 1, Units: 2, UnitPrice: 10},
			{ProductID: 2, Units: 1, UnitPrice: 25},
		},
	}
	orders := newFakeOrders(order)
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventOrderSubmitted, model.OrderSubmittedPayload{OrderID: 7, BuyerID: 3})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Equal(t, model.StatusAwaitingValidation, order.Status)

	require.Len(t, outbox.saved, 1)
	out := outbox.saved[0]
	assert.Equal(t, model.EventOrderAwaitingValidation, out.Type)

	var payload model.OrderAwaitingValidationPayload
	require.NoError(t, out.DecodePayload(&payload))
	assert.Equal(t, []model.OrderStockItem{
		{ProductID: 1, Units: 2},
		{ProductID: 2, Units: 1},
	}, payload.Items)
}

func TestHandleStockRejectedCancelsWithReason(t *testing.T) {
	t.Parallel()

	order := &model.Order{ID: 7, BuyerID: 3, Status: model.StatusAwaitingValidation}
	orders := newFakeOrders(order)
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventStockRejected, model.StockRejectedPayload{
		OrderID: 7,
		BuyerID: 3,
		RejectedItems: []model.RejectedItem{
			{ProductID: 20, Available: 2, Requested: 10},
		},
	})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Equal(t, model.StatusCancelled, order.Status)

	require.Len(t, outbox.saved, 1)
	out := outbox.saved[0]
	assert.Equal(t, model.EventOrderCancelled, out.Type)

	var payload model.OrderStatusChangedPayload
	require.NoError(t, out.DecodePayload(&payload))
	assert.Equal(t, model.StatusAwaitingValidation.String(), payload.PreviousStatus)
	assert.Contains(t, payload.CancellationReason, "product 20")
	assert.Contains(t, payload.CancellationReason, "need 10")
	assert.Contains(t, payload.CancellationReason, "have 2")
}

func TestHandlePaymentFailedCancelsWithReason(t *testing.T) {
	t.Parallel()

	order := &model.Order{ID: 7, BuyerID: 3, Status: model.StatusConfirmed}
	orders := newFakeOrders(order)
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventPaymentFailed, model.PaymentFailedPayload{
		OrderID: 7, BuyerID: 3, Reason: "card expired",
	})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Equal(t, model.StatusCancelled, order.Status)

	var payload model.OrderStatusChangedPayload
	require.NoError(t, outbox.saved[0].DecodePayload(&payload))
	assert.Equal(t, "Payment failed: card expired", payload.CancellationReason)
}

func TestHandlePaymentSucceededEmitsPaidWithItems(t *testing.T) {
	t.Parallel()

	order := &model.Order{
		ID: 7, BuyerID: 3, Status: model.StatusConfirmed,
		Items: []model.OrderItem{{ProductID: 9, Units: 4}},
	}
	orders := newFakeOrders(order)
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventPaymentSucceeded, model.PaymentSucceededPayload{OrderID: 7, BuyerID: 3})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Equal(t, model.StatusPaid, order.Status)

	var payload model.OrderStatusChangedPayload
	require.NoError(t, outbox.saved[0].DecodePayload(&payload))
	assert.Equal(t, model.EventOrderPaid, outbox.saved[0].Type)
	assert.Equal(t, []model.OrderStockItem{{ProductID: 9, Units: 4}}, payload.Items)
}

func TestHandleIllegalTransitionSkipsAndAcks(t *testing.T) {
	t.Parallel()

	// a shipped order is terminal; stock.confirmed against it must be a no-op
	order := &model.Order{ID: 7, BuyerID: 3, Status: model.StatusShipped}
	orders := newFakeOrders(order)
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventStockConfirmed, model.StockConfirmedPayload{OrderID: 7})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Equal(t, model.StatusShipped, order.Status)
	assert.Empty(t, orders.updates)
	assert.Empty(t, outbox.saved)
}

func TestHandleUnknownOrderAcks(t *testing.T) {
	t.Parallel()

	orders := newFakeOrders()
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent(model.EventStockConfirmed, model.StockConfirmedPayload{OrderID: 999})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Empty(t, outbox.saved)
}

func TestHandleUnknownEventTypeAcks(t *testing.T) {
	t.Parallel()

	orders := newFakeOrders()
	orch, outbox := newTestOrchestrator(orders)

	event := model.NewEvent("something.else", map[string]any{"orderId": 1})
	require.NoError(t, orch.Handle(context.Background(), nil, event))

	assert.Empty(t, outbox.saved)
}

func TestStockRejectionReason(t *testing.T) {
	t.Parallel()

	reason := stockRejectionReason([]model.RejectedItem{
		{ProductID: 20, Available: 2, Requested: 10},
		{ProductID: 4, Available: 0, Requested: 1},
	})

	assert.Equal(t, "Insufficient stock: product 20 (need 10, have 2), product 4 (need 1, have 0)", reason)
	assert.Equal(t, "Insufficient stock", stockRejectionReason(nil))
}
