package saga

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/repository"
)

// ProjectedEventTypes are the status-changing events the projector follows.
var ProjectedEventTypes = []string{
	model.EventOrderSubmitted,
	model.EventOrderAwaitingValidation,
	model.EventOrderConfirmed,
	model.EventOrderPaid,
	model.EventOrderShipped,
	model.EventOrderCancelled,
}

// Projector maintains the order_summaries read model from the order.* event
// stream. It is naturally idempotent: the full upsert and the status patch
// both converge on redelivery, so it needs no idempotency wrapper.
type Projector struct {
	summaries repository.SummariesRepository
	logger    *zap.Logger
}

func NewProjector(summaries repository.SummariesRepository, logger *zap.Logger) *Projector {
	return &Projector{summaries: summaries, logger: logger}
}

// Handle applies one event to the read model. order.submitted writes the
// whole row; every later event patches only the status.
func (p *Projector) Handle(ctx context.Context, event model.IntegrationEvent) error {
	if event.Type == model.EventOrderSubmitted {
		var payload model.OrderSubmittedPayload
		if err := event.DecodePayload(&payload); err != nil {
			p.logger.Warn("projector: undecodable order.submitted payload, dropping",
				zap.String("event_id", event.ID), zap.Error(err))
			return nil
		}

		return p.summaries.Upsert(ctx, model.OrderSummary{
			OrderID:   payload.OrderID,
			BuyerID:   payload.BuyerID,
			Status:    model.StatusSubmitted.String(),
			Total:     payload.Total,
			ItemCount: payload.ItemCount,
		})
	}

	var payload model.OrderStatusChangedPayload
	if err := event.DecodePayload(&payload); err != nil || payload.OrderID == 0 {
		p.logger.Warn("projector: undecodable status payload, dropping",
			zap.String("type", event.Type), zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	status := payload.NewStatus
	if status == "" {
		status = statusFromEventType(event.Type)
	}
	if _, ok := model.ParseOrderStatus(status); !ok {
		p.logger.Warn("projector: cannot derive status, dropping",
			zap.String("type", event.Type), zap.Int64("order_id", payload.OrderID))
		return nil
	}

	return p.summaries.PatchStatus(ctx, payload.OrderID, status)
}

// statusFromEventType derives the status from an order.* type suffix,
// e.g. "order.awaiting_validation" → "awaiting_validation".
func statusFromEventType(eventType string) string {
	return strings.TrimPrefix(eventType, "order.")
}
