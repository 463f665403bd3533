package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Integration event types exchanged over the bus.
const (
	EventBasketCheckout          = "basket.checkout"
	EventOrderSubmitted          = "order.submitted"
	EventOrderAwaitingValidation = "order.awaiting_validation"
	EventOrderConfirmed          = "order.confirmed"
	EventOrderPaid               = "order.paid"
	EventOrderShipped            = "order.shipped"
	EventOrderCancelled          = "order.cancelled"
	EventStockConfirmed          = "stock.confirmed"
	EventStockRejected           = "stock.rejected"
	EventPaymentSucceeded        = "payment.succeeded"
	EventPaymentFailed           = "payment.failed"
)

// EventMetadata carries optional trace/correlation fields across service
// boundaries. All fields are omitted from the wire when empty.
type EventMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	SpanID        string `json:"spanId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

// IntegrationEvent is the wire format published to the broker. It is created
// once by a producer and never mutated afterwards.
type IntegrationEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  *EventMetadata  `json:"metadata,omitempty"`
}

// NewEvent builds an IntegrationEvent with a fresh UUID and the given payload.
// Marshal errors are impossible for the payload structs used in this module,
// so they surface as an empty payload rather than an error return.
func NewEvent(eventType string, payload any) IntegrationEvent {
	raw, _ := json.Marshal(payload)

	return IntegrationEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
}

// FollowsFrom builds an event caused by a prior one, propagating the
// correlation chain: correlationId sticks to the first event of the flow,
// causationId always points at the direct parent.
func FollowsFrom(cause IntegrationEvent, eventType string, payload any) IntegrationEvent {
	e := NewEvent(eventType, payload)

	correlationID := cause.ID
	if cause.Metadata != nil && cause.Metadata.CorrelationID != "" {
		correlationID = cause.Metadata.CorrelationID
	}

	e.Metadata = &EventMetadata{
		CorrelationID: correlationID,
		CausationID:   cause.ID,
	}

	return e
}

// DecodePayload unmarshals the opaque payload into a typed struct.
func (e IntegrationEvent) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}
