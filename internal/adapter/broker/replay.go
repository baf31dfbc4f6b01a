package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DLQMessage is one dead-lettered message as seen by the maintenance
// tool, with the x-death metadata the broker attached.
type DLQMessage struct {
	Queue         string `json:"queue"`
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
	Count         int64  `json:"count"`
	Body          []byte `json:"body"`
}

// PeekDLQ reads up to limit messages from a DLQ without consuming them
// (they are requeued after inspection).
func (b *Broker) PeekDLQ(ctx context.Context, queue string, limit int) ([]DLQMessage, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	dlq := DLQName(queue)
	var out []DLQMessage
	for i := 0; i < limit; i++ {
		d, ok, err := ch.Get(dlq, false)
		if err != nil {
			return nil, fmt.Errorf("get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}
		out = append(out, dlqMessage(queue, d))
		// Leave the message in place.
		if err := d.Reject(true); err != nil {
			return out, fmt.Errorf("requeue %s: %w", dlq, err)
		}
	}
	return out, nil
}

// ReplayDLQ moves up to limit messages from the DLQ back onto the
// primary queue, preserving bodies and correlation ids. Returns the
// number replayed.
func (b *Broker) ReplayDLQ(ctx context.Context, queue string, limit int) (int, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return 0, fmt.Errorf("enable confirms: %w", err)
	}

	dlq := DLQName(queue)
	replayed := 0
	for replayed < limit {
		d, ok, err := ch.Get(dlq, false)
		if err != nil {
			return replayed, fmt.Errorf("get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}

		headers := amqp.Table{}
		for k, v := range d.Headers {
			if k == "x-death" {
				continue
			}
			headers[k] = v
		}
		attempt, _ := headers[HeaderAttempt].(int64)
		headers[HeaderAttempt] = attempt + 1

		conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, queue, false, false, amqp.Publishing{
			ContentType:   d.ContentType,
			DeliveryMode:  amqp.Persistent,
			Priority:      d.Priority,
			CorrelationId: d.CorrelationId,
			Headers:       headers,
			Body:          d.Body,
		})
		if err != nil {
			_ = d.Reject(true)
			return replayed, fmt.Errorf("republish to %s: %w", queue, err)
		}
		if ok, err := conf.WaitContext(ctx); err != nil || !ok {
			_ = d.Reject(true)
			return replayed, fmt.Errorf("confirm republish to %s failed", queue)
		}
		if err := d.Ack(false); err != nil {
			return replayed, fmt.Errorf("ack %s: %w", dlq, err)
		}
		replayed++
	}
	return replayed, nil
}

func dlqMessage(queue string, d amqp.Delivery) DLQMessage {
	msg := DLQMessage{
		Queue:         queue,
		CorrelationID: d.CorrelationId,
		Body:          d.Body,
	}
	if deaths, ok := d.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if entry, ok := deaths[0].(amqp.Table); ok {
			msg.Reason, _ = entry["reason"].(string)
			msg.Count, _ = entry["count"].(int64)
		}
	}
	return msg
}
