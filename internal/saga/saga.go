// Package saga drives the order lifecycle. Every inbound event maps to one
// step: a status write plus exactly one outbound event staged in the outbox,
// both inside the caller's transaction.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/repository"
)

var (
	// ErrOrderNotFound reports a status update against an unknown order.
	ErrOrderNotFound = errors.New("saga: order not found")
	// ErrIllegalTransition reports a (from, to) pair absent from the legal
	// transition table.
	ErrIllegalTransition = errors.New("saga: illegal status transition")
)

// legalTransitions is the only authority on which status moves are allowed.
// Both the event-driven path and the manual HTTP path consult it.
var legalTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.StatusSubmitted:          {model.StatusAwaitingValidation, model.StatusCancelled},
	model.StatusAwaitingValidation: {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:          {model.StatusPaid, model.StatusCancelled},
	model.StatusPaid:               {model.StatusShipped, model.StatusCancelled},
}

// CanTransition reports whether from → to is a legal status move.
// Terminal statuses (shipped, cancelled) allow nothing.
func CanTransition(from, to model.OrderStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventStore stages outbound events inside the saga's transaction.
type EventStore interface {
	Save(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error
}

// step binds an inbound event type to its status move and outbound event.
// The precondition is CanTransition(current, nextStatus); orders repo does
// no legality checks of its own.
type step struct {
	nextStatus model.OrderStatus
	outbound   func(order *model.Order, prev model.OrderStatus, cause model.IntegrationEvent) (model.IntegrationEvent, error)
}

// Orchestrator advances orders through the state machine. Its handlers are
// transactional: they expect to run inside an idempotency wrapper that owns
// the tx and commits only when the handler returns nil.
type Orchestrator struct {
	db     *sqlx.DB
	orders repository.OrdersRepository
	outbox EventStore
	logger *zap.Logger

	steps map[string]step
}

func NewOrchestrator(db *sqlx.DB, orders repository.OrdersRepository, outbox EventStore, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		db:     db,
		orders: orders,
		outbox: outbox,
		logger: logger,
	}

	o.steps = map[string]step{
		model.EventOrderSubmitted: {
			nextStatus: model.StatusAwaitingValidation,
			outbound:   o.buildAwaitingValidation,
		},
		model.EventStockConfirmed: {
			nextStatus: model.StatusConfirmed,
			outbound:   o.buildConfirmed,
		},
		model.EventStockRejected: {
			nextStatus: model.StatusCancelled,
			outbound:   o.buildStockRejectedCancellation,
		},
		model.EventPaymentSucceeded: {
			nextStatus: model.StatusPaid,
			outbound:   o.buildPaid,
		},
		model.EventPaymentFailed: {
			nextStatus: model.StatusCancelled,
			outbound:   o.buildPaymentFailedCancellation,
		},
	}

	return o
}

// EventTypes lists the inbound event types Handle understands, in no
// particular order. Checkout is separate: it creates the order.
func (o *Orchestrator) EventTypes() []string {
	types := make([]string, 0, len(o.steps))
	for t := range o.steps {
		types = append(types, t)
	}
	return types
}

// HandleBasketCheckout creates the order from a drained basket and stages
// order.submitted. It is the saga's entry point.
func (o *Orchestrator) HandleBasketCheckout(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error {
	var payload model.BasketCheckoutPayload
	if err := event.DecodePayload(&payload); err != nil {
		o.logger.Warn("checkout payload undecodable, dropping",
			zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	if payload.BuyerID == 0 || len(payload.Items) == 0 {
		o.logger.Warn("checkout missing buyer or items, dropping",
			zap.String("event_id", event.ID), zap.Int64("buyer_id", payload.BuyerID))
		return nil
	}

	in := model.CreateOrderInput{
		Description: fmt.Sprintf("Order for buyer %d", payload.BuyerID),
		Street:      payload.Street,
		City:        payload.City,
		State:       payload.State,
		Country:     payload.Country,
		ZipCode:     payload.ZipCode,
	}
	for _, item := range payload.Items {
		in.Items = append(in.Items, model.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Units:       item.Quantity,
			PictureURL:  item.PictureURL,
		})
	}

	order, err := o.orders.Create(ctx, tx, payload.BuyerID, in)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	out := model.FollowsFrom(event, model.EventOrderSubmitted, model.OrderSubmittedPayload{
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Total:     order.Total(),
		ItemCount: len(order.Items),
	})

	o.logger.Info("order created from checkout",
		zap.Int64("order_id", order.ID), zap.Int64("buyer_id", order.BuyerID))

	return o.outbox.Save(ctx, tx, out)
}

// Handle is the table-driven step executor for every post-creation event.
// Unknown orders and illegal transitions are logged and acknowledged: a
// retry cannot make them valid.
func (o *Orchestrator) Handle(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error {
	st, ok := o.steps[event.Type]
	if !ok {
		o.logger.Warn("no saga step for event type", zap.String("type", event.Type))
		return nil
	}

	var ref struct {
		OrderID int64 `json:"orderId"`
	}
	if err := event.DecodePayload(&ref); err != nil || ref.OrderID == 0 {
		o.logger.Warn("saga event without order reference, dropping",
			zap.String("type", event.Type), zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	order, err := o.orders.FindByIDForUpdate(ctx, tx, ref.OrderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", ref.OrderID, err)
	}
	if order == nil {
		o.logger.Warn("saga event references unknown order",
			zap.String("type", event.Type), zap.Int64("order_id", ref.OrderID))
		return nil
	}

	if !CanTransition(order.Status, st.nextStatus) {
		o.logger.Warn("illegal status transition, skipping",
			zap.Int64("order_id", order.ID),
			zap.String("from", order.Status.String()),
			zap.String("to", st.nextStatus.String()),
			zap.String("type", event.Type))
		return nil
	}

	prev := order.Status
	updated, err := o.orders.UpdateStatus(ctx, tx, order.ID, st.nextStatus)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", order.ID, err)
	}

	out, err := st.outbound(updated, prev, event)
	if err != nil {
		return err
	}

	o.logger.Info("order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("from", prev.String()),
		zap.String("to", updated.Status.String()))

	return o.outbox.Save(ctx, tx, out)
}

// ApplyStatus is the synchronous path used by the HTTP API. It shares the
// legality table with the event path, so operators cannot bypass the state
// machine. It owns its transaction and stages the matching outbound event.
func (o *Orchestrator) ApplyStatus(ctx context.Context, orderID int64, target model.OrderStatus, reason string) (*model.Order, error) {
	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := o.orders.FindByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if !CanTransition(order.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, target)
	}

	prev := order.Status
	updated, err := o.orders.UpdateStatus(ctx, tx, orderID, target)
	if err != nil {
		return nil, err
	}

	payload := model.OrderStatusChangedPayload{
		OrderID:        updated.ID,
		BuyerID:        updated.BuyerID,
		PreviousStatus: prev.String(),
		NewStatus:      target.String(),
	}
	if target == model.StatusCancelled {
		payload.CancellationReason = reason
	}

	out := model.NewEvent("order."+target.String(), payload)
	if err := o.outbox.Save(ctx, tx, out); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	o.logger.Info("order status updated via api",
		zap.Int64("order_id", orderID),
		zap.String("from", prev.String()),
		zap.String("to", target.String()))

	return updated, nil
}

func (o *Orchestrator) buildAwaitingValidation(order *model.Order, _ model.OrderStatus, cause model.IntegrationEvent) (model.IntegrationEvent, error) {
	return model.FollowsFrom(cause, model.EventOrderAwaitingValidation, model.OrderAwaitingValidationPayload{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Items:   stockItems(order),
	}), nil
}

func (o *Orchestrator) buildConfirmed(order *model.Order, prev model.OrderStatus, cause model.IntegrationEvent) (model.IntegrationEvent, error) {
	return model.FollowsFrom(cause, model.EventOrderConfirmed, model.OrderStatusChangedPayload{
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: prev.String(),
		NewStatus:      model.StatusConfirmed.String(),
		Total:          order.Total(),
	}), nil
}

func (o *Orchestrator) buildPaid(order *model.Order, prev model.OrderStatus, cause model.IntegrationEvent) (model.IntegrationEvent, error) {
	return model.FollowsFrom(cause, model.EventOrderPaid, model.OrderStatusChangedPayload{
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: prev.String(),
		NewStatus:      model.StatusPaid.String(),
		Items:          stockItems(order),
	}), nil
}

func (o *Orchestrator) buildStockRejectedCancellation(order *model.Order, prev model.OrderStatus, cause model.IntegrationEvent) (model.IntegrationEvent, error) {
	var payload model.StockRejectedPayload
	if err := cause.DecodePayload(&payload); err != nil {
		return model.IntegrationEvent{}, fmt.Errorf("decode stock.rejected payload: %w", err)
	}

	return model.FollowsFrom(cause, model.EventOrderCancelled, model.OrderStatusChangedPayload{
		OrderID:            order.ID,
		BuyerID:            order.BuyerID,
		PreviousStatus:     prev.String(),
		NewStatus:          model.StatusCancelled.String(),
		CancellationReason: stockRejectionReason(payload.RejectedItems),
	}), nil
}

func (o *Orchestrator) buildPaymentFailedCancellation(order *model.Order, prev model.OrderStatus, cause model.IntegrationEvent) (model.IntegrationEvent, error) {
	var payload model.PaymentFailedPayload
	if err := cause.DecodePayload(&payload); err != nil {
		return model.IntegrationEvent{}, fmt.Errorf("decode payment.failed payload: %w", err)
	}

	return model.FollowsFrom(cause, model.EventOrderCancelled, model.OrderStatusChangedPayload{
		OrderID:            order.ID,
		BuyerID:            order.BuyerID,
		PreviousStatus:     prev.String(),
		NewStatus:          model.StatusCancelled.String(),
		CancellationReason: "Payment failed: " + payload.Reason,
	}), nil
}

func stockItems(order *model.Order) []model.OrderStockItem {
	items := make([]model.OrderStockItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, model.OrderStockItem{ProductID: it.ProductID, Units: it.Units})
	}
	return items
}

// stockRejectionReason enumerates each rejected product's requested versus
// available quantity, e.g. "Insufficient stock: product 20 (need 10, have 2)".
func stockRejectionReason(rejected []model.RejectedItem) string {
	if len(rejected) == 0 {
		return "Insufficient stock"
	}

	parts := make([]string, 0, len(rejected))
	for _, r := range rejected {
		parts = append(parts, fmt.Sprintf("product %d (need %d, have %d)", r.ProductID, r.Requested, r.Available))
	}

	return "Insufficient stock: " + strings.Join(parts, ", ")
}
