// Package broker implements the durable AMQP topology connecting the
// pipeline stages: one topic exchange, one primary queue per routing
// key, and a paired dead-letter queue for each.
package broker

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange    = "alerts"
	DLXExchange = "alerts.dlx"

	QueueRaw            = "alert.raw"
	QueueNormalized     = "alert.normalized"
	QueueEnriched       = "alert.enriched"
	QueueContextualized = "alert.contextualized"
	QueueResult         = "alert.result"

	// Queue policy shared by every primary queue.
	maxPriority   = 10
	maxQueueLen   = 100_000
	messageTTLMS  = int64(24 * time.Hour / time.Millisecond)
	dlqSuffix     = ".dlq"
)

// Queues lists every primary queue in pipeline order.
var Queues = []string{
	QueueRaw, QueueNormalized, QueueEnriched, QueueContextualized, QueueResult,
}

// DLQName returns the paired dead-letter queue of a primary queue.
func DLQName(queue string) string {
	return queue + dlqSuffix
}

// Broker holds one AMQP connection shared by a process.
type Broker struct {
	conn *amqp.Connection
}

// Dial connects to the broker, retrying with exponential backoff so
// services survive a broker that is still starting.
func Dial(url string) (*Broker, error) {
	var conn *amqp.Connection

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	return &Broker{conn: conn}, nil
}

// Close tears down the connection and every channel built on it.
func (b *Broker) Close() error {
	return b.conn.Close()
}

// Healthy reports whether the connection is still usable.
func (b *Broker) Healthy() bool {
	return b.conn != nil && !b.conn.IsClosed()
}

// DeclareTopology declares the exchange, all primary queues and their
// DLQs. Declarations are idempotent; every process declares on startup.
func (b *Broker) DeclareTopology() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	if err := ch.ExchangeDeclare(DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DLXExchange, err)
	}

	for _, queue := range Queues {
		dlq := DLQName(queue)

		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, dlq, DLXExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", dlq, err)
		}

		args := amqp.Table{
			"x-max-priority":            int32(maxPriority),
			"x-max-length":              int32(maxQueueLen),
			"x-message-ttl":             messageTTLMS,
			"x-dead-letter-exchange":    DLXExchange,
			"x-dead-letter-routing-key": dlq,
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, queue, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}
