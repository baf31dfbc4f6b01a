package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

// Consumer reads one queue on a dedicated channel with a bounded
// prefetch window. Unacked deliveries return to the queue when the
// channel closes, which is what makes shutdown drains safe.
type Consumer struct {
	queue    string
	prefetch int
	ch       *amqp.Channel
}

// NewConsumer opens a channel on the queue with the given prefetch.
func NewConsumer(b *Broker, queue string, prefetch int) (*Consumer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	return &Consumer{queue: queue, prefetch: prefetch, ch: ch}, nil
}

// Consume yields deliveries until ctx is cancelled. Bodies that fail to
// decode are rejected straight to the DLQ; they can never succeed.
func (c *Consumer) Consume(ctx context.Context) (<-chan ports.Delivery, error) {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	out := make(chan ports.Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			env, err := domain.DecodeEnvelope(d.Body)
			if err != nil {
				_ = d.Reject(false)
				continue
			}
			pd := ports.Delivery{
				Envelope:      env,
				CorrelationID: d.CorrelationId,
				Priority:      d.Priority,
				Attempt:       deathCount(d),
				Ack:           func() error { return d.Ack(false) },
				Reject:        func(requeue bool) error { return d.Reject(requeue) },
			}
			select {
			case out <- pd:
			case <-ctx.Done():
				_ = d.Reject(true)
				return
			}
		}
	}()
	return out, nil
}

// Close stops the channel; in-flight unacked messages requeue.
func (c *Consumer) Close() error {
	return c.ch.Close()
}

// deathCount reads the broker-maintained x-death redelivery count.
func deathCount(d amqp.Delivery) int64 {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	count, _ := entry["count"].(int64)
	return count
}
