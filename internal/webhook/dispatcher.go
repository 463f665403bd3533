package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/metrics"
	"github.com/shopmesh/ordering-service/internal/model"
)

const defaultAttemptTimeout = 10 * time.Second

// SubscriptionSource looks up the endpoints registered for an event type.
type SubscriptionSource interface {
	FindByEventType(ctx context.Context, eventType string) ([]model.WebhookSubscription, error)
}

// Dispatcher fans an event out to every registered webhook endpoint. Each
// destination URL gets its own circuit breaker so one bad endpoint cannot
// exhaust resources meant for others.
type Dispatcher struct {
	subs       SubscriptionSource
	client     *http.Client
	breakerCfg BreakerConfig
	log        *zap.Logger

	mu       sync.Mutex
	circuits map[string]*CircuitBreaker
}

func NewDispatcher(subs SubscriptionSource, breakerCfg BreakerConfig, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		subs:       subs,
		client:     &http.Client{Timeout: timeout},
		breakerCfg: breakerCfg,
		log:        log,
		circuits:   make(map[string]*CircuitBreaker),
	}
}

func (d *Dispatcher) circuit(url string) *CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.circuits[url]
	if !ok {
		cb = NewCircuitBreaker(url, d.breakerCfg)
		d.circuits[url] = cb
	}

	return cb
}

// Dispatch posts the event to every subscription for its type. Delivery
// failures are logged and counted but never propagate: a broken endpoint is
// the endpoint owner's problem, not a reason to redeliver to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.IntegrationEvent) {
	subs, err := d.subs.FindByEventType(ctx, event.Type)
	if err != nil {
		d.log.Error("webhook: subscription lookup failed",
			zap.String("event_type", event.Type), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub model.WebhookSubscription) {
			defer wg.Done()
			d.deliver(ctx, sub, event)
		}(sub)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sub model.WebhookSubscription, event model.IntegrationEvent) {
	cb := d.circuit(sub.URL)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return d.post(ctx, sub, event)
	})
	if err == nil {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		d.log.Info("webhook delivered",
			zap.Int64("subscription_id", sub.ID), zap.String("event_id", event.ID))
		return
	}

	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		metrics.WebhookDeliveries.WithLabelValues("circuit_open").Inc()
		d.log.Warn("webhook skipped, circuit breaker is open",
			zap.Int64("subscription_id", sub.ID), zap.String("url", sub.URL))
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	d.log.Error("webhook delivery error",
		zap.Int64("subscription_id", sub.ID), zap.Error(err))
}

func (d *Dispatcher) post(ctx context.Context, sub model.WebhookSubscription, event model.IntegrationEvent) error {
	body, _ := json.Marshal(event)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Token", sub.Token)
	req.Header.Set("X-Event-Type", event.Type)
	req.Header.Set("X-Event-Id", event.ID)

	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("webhook url=%s status=%d", sub.URL, res.StatusCode)
	}

	return nil
}

// Handler adapts the dispatcher to an event bus handler. It always returns
// nil: webhook delivery is fire-and-forget from the bus's point of view.
func (d *Dispatcher) Handler() func(ctx context.Context, event model.IntegrationEvent) error {
	return func(ctx context.Context, event model.IntegrationEvent) error {
		d.Dispatch(ctx, event)
		return nil
	}
}
