package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/metrics"
	"github.com/shopmesh/ordering-service/internal/model"
)

// MessageStore is the slice of Store the processor needs.
type MessageStore interface {
	ClaimUnpublished(ctx context.Context, limit int, fn func(msgs []Message) []string) error
}

// Publisher hands an event to the broker. Satisfied by *eventbus.EventBus.
type Publisher interface {
	Publish(ctx context.Context, event model.IntegrationEvent) error
}

// Processor polls the outbox on a fixed interval and relays unpublished rows
// to the broker in creation order.
type Processor struct {
	store     MessageStore
	publisher Publisher
	log       *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewProcessor(store MessageStore, publisher Publisher, log *zap.Logger, interval time.Duration, batchSize int) *Processor {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Processor{
		store:     store,
		publisher: publisher,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. A failing poll is logged and retried on
// the next tick; it never stops the loop.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("outbox processor started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("outbox processor stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll relays one batch under the store's claim transaction, so the rows stay
// locked against other processor instances until they are marked. Messages are
// published sequentially; on the first publish failure the remainder of the
// batch is left unpublished for the next tick, preserving relative ordering
// instead of skipping ahead. Only the successfully published prefix is marked.
func (p *Processor) Poll(ctx context.Context) {
	var count int
	err := p.store.ClaimUnpublished(ctx, p.batchSize, func(msgs []Message) []string {
		published := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			var event model.IntegrationEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				p.log.Error("outbox: malformed payload, batch halted",
					zap.String("message_id", msg.ID), zap.Error(err))
				break
			}

			if err := p.publisher.Publish(ctx, event); err != nil {
				p.log.Error("outbox: publish failed, batch halted",
					zap.String("message_id", msg.ID), zap.Error(err))
				break
			}

			published = append(published, msg.ID)
		}

		count = len(published)
		return published
	})
	if err != nil {
		p.log.Error("outbox: claim batch failed", zap.Error(err))
		return
	}

	if count > 0 {
		metrics.OutboxPublished.Add(float64(count))
		p.log.Debug("outbox: published batch", zap.Int("count", count))
	}
}
