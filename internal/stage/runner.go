// Package stage holds the pipeline worker services: one Runner per
// queue driving a stage handler under the shared retry, deadline, and
// dead-letter policy.
package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// ErrDrop tells the runner to acknowledge the message without treating
// it as an error. Duplicates use it.
var ErrDrop = errors.New("message dropped")

// Handler processes one delivery. Returning nil acks; a permanent error
// rejects straight to the DLQ; anything else retries up to MaxAttempts
// before dead-lettering.
type Handler interface {
	Handle(ctx context.Context, d ports.Delivery) error
}

// Runner drives one stage: it consumes deliveries and dispatches them
// to the handler on up to Concurrency goroutines, each under the
// per-message SLA deadline.
type Runner struct {
	Name        string
	Consumer    ports.Consumer
	Handler     Handler
	Logger      *slog.Logger
	Concurrency int
	SLA         time.Duration
	MaxAttempts int
	DrainGrace  time.Duration
}

func (r *Runner) concurrency() int {
	if r.Concurrency <= 0 {
		return 10
	}
	return r.Concurrency
}

func (r *Runner) maxAttempts() uint64 {
	if r.MaxAttempts <= 0 {
		return 3
	}
	return uint64(r.MaxAttempts)
}

func (r *Runner) drainGrace() time.Duration {
	if r.DrainGrace <= 0 {
		return 30 * time.Second
	}
	return r.DrainGrace
}

// Run consumes until ctx is cancelled, then drains in-flight work
// before returning. Cancellation is a clean shutdown and returns nil;
// the delivery channel closing while ctx is still live means the
// broker connection dropped, which is an error.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.Consumer.Consume(ctx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, r.concurrency())
	var wg sync.WaitGroup

dispatch:
	for d := range deliveries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Stop dispatching; unacked deliveries return to the queue.
			break dispatch
		}
		wg.Add(1)
		go func(d ports.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			r.process(ctx, d)
		}(d)
	}

	r.drain(&wg)
	if ctx.Err() == nil {
		return errors.New("delivery channel closed")
	}
	return nil
}

// drain waits for in-flight handlers, bounded by the drain grace so a
// wedged handler cannot hold shutdown past the supervisor's patience.
func (r *Runner) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drainGrace()):
		r.Logger.Warn("drain grace expired with handlers still in flight", "stage", r.Name)
	}
}

func (r *Runner) process(ctx context.Context, d ports.Delivery) {
	timer := metrics.StartTimer(r.Name)
	defer timer.ObserveDuration()

	mctx := ctx
	var cancel context.CancelFunc
	if r.SLA > 0 {
		mctx, cancel = context.WithTimeout(ctx, r.SLA)
		defer cancel()
	}

	err := r.handleWithRetry(mctx, d)
	switch {
	case err == nil:
		metrics.RecordMessage(r.Name, "ok")
		if ackErr := d.Ack(); ackErr != nil {
			r.Logger.Error("ack failed", "correlation_id", d.CorrelationID, "error", ackErr)
		}
	case errors.Is(err, ErrDrop):
		metrics.RecordMessage(r.Name, "dropped")
		if ackErr := d.Ack(); ackErr != nil {
			r.Logger.Error("ack failed", "correlation_id", d.CorrelationID, "error", ackErr)
		}
	default:
		reason := "error"
		if mctx.Err() != nil && ctx.Err() == nil {
			reason = "timeout"
		} else if domain.Permanent(err) {
			reason = "permanent"
		}
		metrics.RecordMessage(r.Name, "failed")
		metrics.RecordDLQ(r.Name, reason)
		r.Logger.Error("message dead-lettered",
			"stage", r.Name,
			"correlation_id", d.CorrelationID,
			"alert_id", alertIDOf(d),
			"reason", reason,
			"attempt", d.Attempt,
			"error", err)
		if rejErr := d.Reject(false); rejErr != nil {
			r.Logger.Error("reject failed", "correlation_id", d.CorrelationID, "error", rejErr)
		}
	}
}

// handleWithRetry retries transient failures inline with exponential
// backoff (1s, 2s, 4s... capped at 60s, ±20% jitter). Permanent errors
// and ErrDrop short-circuit.
func (r *Runner) handleWithRetry(ctx context.Context, d ports.Delivery) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = 60 * time.Second
	expBackoff.Multiplier = 2.0
	expBackoff.RandomizationFactor = 0.2
	expBackoff.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, r.maxAttempts()-1), ctx)

	operation := func() error {
		err := r.Handler.Handle(ctx, d)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDrop) || domain.Permanent(err) {
			return backoff.Permanent(err)
		}
		metrics.RecordError(r.Name, "transient")
		r.Logger.Warn("stage attempt failed",
			"stage", r.Name, "correlation_id", d.CorrelationID, "error", err)
		return err
	}

	err := backoff.Retry(operation, policy)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func alertIDOf(d ports.Delivery) string {
	if d.Envelope == nil {
		return ""
	}
	return d.Envelope.Alert.AlertID
}
