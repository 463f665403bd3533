package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/metrics"
	"github.com/shopmesh/ordering-service/internal/model"
)

var (
	ErrNotConnected  = errors.New("eventbus: not connected")
	ErrPublishNacked = errors.New("eventbus: publish nacked by broker")
)

// Handler processes one integration event. Returning an error sends the
// delivery through the retry topology.
type Handler func(ctx context.Context, event model.IntegrationEvent) error

type Options struct {
	Exchange       string        // default "ecommerce_events"
	MaxRetries     int           // default 3
	RetryDelay     time.Duration // default 1s
	Prefetch       int           // default 10
	ReconnectDelay time.Duration // default 5s
}

// EventBus is a pub/sub abstraction over a RabbitMQ topic exchange with a
// retry-TTL and DLQ topology. Delivery is at-least-once; consumers are
// expected to be wrapped for idempotency.
//
// Per subscription queue Q the bus declares:
//
//	Q        dead-letters into <exchange>.retry on nack
//	Q.retry  TTL = RetryDelay, dead-letters back into <exchange> on expiry
//	Q.dlq    terminal sink bound to <exchange>.dlq
type EventBus struct {
	url            string
	exchange       string
	maxRetries     int
	retryDelay     time.Duration
	prefetch       int
	reconnectDelay time.Duration
	log            *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	handlers map[string][]Handler
	subs     []subscription
	closed   bool

	// seams for tests
	dial       func(url string) (*amqp.Connection, error)
	publishRaw func(exchange, routingKey string, msg amqp.Publishing) error
}

type subscription struct {
	eventType string
	queue     string
}

func New(url string, opts Options, log *zap.Logger) *EventBus {
	if opts.Exchange == "" {
		opts.Exchange = "ecommerce_events"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &EventBus{
		url:            url,
		exchange:       opts.Exchange,
		maxRetries:     opts.MaxRetries,
		retryDelay:     opts.RetryDelay,
		prefetch:       opts.Prefetch,
		reconnectDelay: opts.ReconnectDelay,
		log:            log,
		handlers:       make(map[string][]Handler),
		dial:           amqp.Dial,
	}
	b.publishRaw = b.channelPublish

	return b
}

// Connect dials the broker, opens a confirm-mode channel and declares the
// exchange topology. A close watcher keeps reconnecting until Close is called.
func (b *EventBus) Connect() error {
	if err := b.connect(); err != nil {
		return err
	}

	b.log.Info("eventbus: connected", zap.String("exchange", b.exchange))

	return nil
}

// ConnectWithRetry attempts Connect up to maxAttempts with a fixed delay
// between attempts. Used only at process startup; a service that exhausts the
// budget is expected to keep serving HTTP traffic without event capability.
func (b *EventBus) ConnectWithRetry(ctx context.Context, maxAttempts int, delay time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if last = b.Connect(); last == nil {
			return nil
		}

		b.log.Warn("eventbus: connect attempt failed",
			zap.Int("attempt", attempt), zap.Int("max", maxAttempts), zap.Error(last))

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("eventbus: connect failed after %d attempts: %w", maxAttempts, last)
}

func (b *EventBus) connect() error {
	conn, err := b.dial(b.url)
	if err != nil {
		return fmt.Errorf("eventbus dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("eventbus open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("eventbus confirm mode: %w", err)
	}

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("eventbus qos: %w", err)
	}

	for _, ex := range []string{b.exchange, b.exchange + ".retry", b.exchange + ".dlq"} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return fmt.Errorf("eventbus declare exchange %s: %w", ex, err)
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()

	go b.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	return nil
}

// watchClose waits for an unexpected connection close and then reconnects
// with a fixed delay, indefinitely, re-declaring topology and resuming every
// recorded subscription.
func (b *EventBus) watchClose(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || b.isClosed() {
		return
	}

	b.log.Warn("eventbus: connection lost, reconnecting", zap.Error(amqpErr))

	for {
		time.Sleep(b.reconnectDelay)

		if b.isClosed() {
			return
		}

		if err := b.connect(); err != nil {
			b.log.Warn("eventbus: reconnect failed", zap.Error(err))
			continue
		}

		if err := b.resubscribeAll(); err != nil {
			b.log.Error("eventbus: resubscribe failed", zap.Error(err))
			continue
		}

		b.log.Info("eventbus: reconnected")

		return
	}
}

func (b *EventBus) resubscribeAll() error {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if err := b.declareQueues(s.eventType, s.queue); err != nil {
			return err
		}
		if err := b.startConsumer(s.eventType, s.queue); err != nil {
			return err
		}
	}

	return nil
}

func (b *EventBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Queues returns the names of all subscribed queues, one per Subscribe call.
func (b *EventBus) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		names = append(names, s.queue)
	}
	return names
}

func (b *EventBus) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil {
		return nil, ErrNotConnected
	}

	return b.ch, nil
}

// Publish serializes the event and publishes it persistent to the topic
// exchange, routing key = event type. It returns only after the broker
// confirms receipt.
func (b *EventBus) Publish(ctx context.Context, event model.IntegrationEvent) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus marshal event: %w", err)
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.exchange, event.Type, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("eventbus publish %s: %w", event.Type, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("eventbus confirm %s: %w", event.Type, err)
	}
	if !acked {
		return ErrPublishNacked
	}

	metrics.EventsPublished.WithLabelValues(event.Type).Inc()

	return nil
}

// Subscribe registers a handler for an event type and starts consuming the
// named queue. All handlers registered for a type run in registration order
// as one unit per delivery.
func (b *EventBus) Subscribe(eventType string, handler Handler, queue string) error {
	b.mu.Lock()
	if b.ch == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.subs = append(b.subs, subscription{eventType: eventType, queue: queue})
	b.mu.Unlock()

	if err := b.declareQueues(eventType, queue); err != nil {
		return err
	}

	return b.startConsumer(eventType, queue)
}

func (b *EventBus) declareQueues(eventType, queue string) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.exchange + ".retry",
		"x-dead-letter-routing-key": eventType,
	}); err != nil {
		return fmt.Errorf("eventbus declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, eventType, b.exchange, false, nil); err != nil {
		return fmt.Errorf("eventbus bind queue %s: %w", queue, err)
	}

	retryQueue := queue + ".retry"
	if _, err := ch.QueueDeclare(retryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.exchange,
		"x-dead-letter-routing-key": eventType,
		"x-message-ttl":             b.retryDelay.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("eventbus declare queue %s: %w", retryQueue, err)
	}
	if err := ch.QueueBind(retryQueue, eventType, b.exchange+".retry", false, nil); err != nil {
		return fmt.Errorf("eventbus bind queue %s: %w", retryQueue, err)
	}

	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("eventbus declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, eventType, b.exchange+".dlq", false, nil); err != nil {
		return fmt.Errorf("eventbus bind queue %s: %w", dlq, err)
	}

	return nil
}

func (b *EventBus) startConsumer(eventType, queue string) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("eventbus consume %s: %w", queue, err)
	}

	go func() {
		for d := range deliveries {
			b.handleDelivery(context.Background(), d, eventType)
		}
		// channel closed; the reconnect path restarts this consumer
	}()

	return nil
}

// handleDelivery applies the full delivery policy for one message: poison
// pills go straight to the DLQ, handler errors consult the broker-maintained
// death count, success acks once every handler for the type has run.
func (b *EventBus) handleDelivery(ctx context.Context, d amqp.Delivery, eventType string) {
	var event model.IntegrationEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		headers := cloneTable(d.Headers)
		headers["x-final-error"] = "Failed to parse message JSON"

		// ack only once the message is safely parked; otherwise let the
		// broker redeliver so it is not lost during a reconnect window
		if err := b.routeToDLQ(eventType, d.Body, headers); err != nil {
			_ = d.Nack(false, true)
			return
		}

		_ = d.Ack(false)
		metrics.EventsConsumed.WithLabelValues(eventType, "malformed").Inc()

		return
	}

	var handlerErr error
	for _, h := range b.handlersFor(event.Type) {
		if handlerErr = h(ctx, event); handlerErr != nil {
			break
		}
	}

	if handlerErr != nil {
		retries := retryCountFromDeaths(d.Headers)
		if retries >= b.maxRetries {
			headers := cloneTable(d.Headers)
			headers["x-final-error"] = handlerErr.Error()
			headers["x-retry-count"] = int32(retries)

			if err := b.routeToDLQ(eventType, d.Body, headers); err != nil {
				_ = d.Nack(false, true)
				return
			}

			_ = d.Ack(false)
			metrics.EventsConsumed.WithLabelValues(eventType, "dead_lettered").Inc()

			b.log.Error("eventbus: retries exhausted, dead-lettered",
				zap.String("event_type", eventType),
				zap.String("event_id", event.ID),
				zap.Int("retries", retries),
				zap.Error(handlerErr))
		} else {
			// nack without requeue; the broker routes through the retry
			// exchange and re-delivers after the TTL
			_ = d.Nack(false, false)
			metrics.EventsConsumed.WithLabelValues(eventType, "retried").Inc()
		}

		return
	}

	_ = d.Ack(false)
	metrics.EventsConsumed.WithLabelValues(eventType, "ok").Inc()
}

func (b *EventBus) handlersFor(eventType string) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs := b.handlers[eventType]
	out := make([]Handler, len(hs))
	copy(out, hs)

	return out
}

func (b *EventBus) routeToDLQ(routingKey string, body []byte, headers amqp.Table) error {
	err := b.publishRaw(b.exchange+".dlq", routingKey, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		b.log.Error("eventbus: failed to publish to dlq",
			zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}

	metrics.DLQMessages.WithLabelValues(routingKey).Inc()

	return nil
}

func (b *EventBus) channelPublish(exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	return ch.PublishWithContext(context.Background(), exchange, routingKey, false, false, msg)
}

// retryCountFromDeaths sums all broker-recorded x-death entries. The sum
// spans every queue that ever dead-lettered the message, so queue names must
// not be reused across unrelated topologies.
func retryCountFromDeaths(headers amqp.Table) int {
	deaths, ok := headers["x-death"].([]any)
	if !ok {
		return 0
	}

	total := 0
	for _, entry := range deaths {
		t, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if count, ok := t["count"].(int64); ok {
			total += int(count)
		}
	}

	return total
}

func cloneTable(t amqp.Table) amqp.Table {
	out := make(amqp.Table, len(t)+2)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Close shuts the bus down for good; the close watcher will not reconnect.
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	ch := b.ch
	conn := b.conn
	b.ch = nil
	b.conn = nil
	b.mu.Unlock()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
