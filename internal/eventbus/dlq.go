package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopmesh/ordering-service/internal/model"
)

// DLQInfo reports the backlog of one dead-letter queue. A count of -1 means
// the queue could not be inspected (it may not exist yet).
type DLQInfo struct {
	Queue        string `json:"queue"`
	MessageCount int    `json:"messageCount"`
}

// DLQCounts inspects the `.dlq` companion of every given queue.
func (b *EventBus) DLQCounts(queues []string) ([]DLQInfo, error) {
	ch, err := b.channel()
	if err != nil {
		return nil, err
	}

	out := make([]DLQInfo, 0, len(queues))
	for _, q := range queues {
		dlq := q + ".dlq"

		state, err := ch.QueueDeclarePassive(dlq, true, false, false, false, nil)
		if err != nil {
			out = append(out, DLQInfo{Queue: dlq, MessageCount: -1})
			// a failed passive declare closes the channel
			if ch, err = b.channel(); err != nil {
				return out, err
			}
			continue
		}

		out = append(out, DLQInfo{Queue: dlq, MessageCount: state.Messages})
	}

	return out, nil
}

// ReplayDLQ drains the named queue's DLQ and republishes each message to the
// main exchange. Broker retry bookkeeping headers are stripped so every
// replayed message starts with a fresh retry clock.
func (b *EventBus) ReplayDLQ(ctx context.Context, queue string) (int, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}

	dlq := queue + ".dlq"
	replayed := 0

	for {
		d, ok, err := ch.Get(dlq, false)
		if err != nil {
			return replayed, fmt.Errorf("eventbus get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}

		var event model.IntegrationEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			// unparseable DLQ entries cannot be replayed; leave them queued
			_ = d.Nack(false, true)
			return replayed, fmt.Errorf("eventbus replay %s: malformed message: %w", dlq, err)
		}

		if err := b.Publish(ctx, event); err != nil {
			_ = d.Nack(false, true)
			return replayed, err
		}

		_ = d.Ack(false)
		replayed++
	}

	return replayed, nil
}

// PurgeDLQ discards every message in the named queue's DLQ and returns the
// number removed.
func (b *EventBus) PurgeDLQ(queue string) (int, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}

	purged, err := ch.QueuePurge(queue+".dlq", false)
	if err != nil {
		return 0, fmt.Errorf("eventbus purge %s.dlq: %w", queue, err)
	}

	return purged, nil
}
