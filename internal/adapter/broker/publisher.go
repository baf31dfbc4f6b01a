package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// Header keys carried end-to-end on every message.
const (
	HeaderAlertID = "alert_id"
	HeaderStageTS = "stage_ts"
	HeaderAttempt = "attempt_count"
)

// Publisher publishes envelopes with publisher confirms on a single
// channel per process. Publish blocks until the broker acks the message
// or ctx expires.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher opens the process's confirm channel.
func NewPublisher(b *Broker) (*Publisher, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

// Publish emits the envelope onto the topic exchange with persistent
// delivery and the given priority.
func (p *Publisher) Publish(ctx context.Context, routingKey string, env *domain.Envelope, priority uint8, correlationID string) error {
	body, err := domain.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      priority,
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
		Headers: amqp.Table{
			HeaderAlertID: env.Alert.ID.String(),
			HeaderStageTS: time.Now().UTC().Format(time.RFC3339Nano),
			HeaderAttempt: int64(0),
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", routingKey, err)
	}
	if !ok {
		return fmt.Errorf("publish %s: broker nacked message", routingKey)
	}
	return nil
}

// Close releases the confirm channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
