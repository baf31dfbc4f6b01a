package stage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

type scriptedHandler struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (h *scriptedHandler) Handle(_ context.Context, _ ports.Delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	if h.calls < len(h.errs) {
		err = h.errs[h.calls]
	}
	h.calls++
	return err
}

func (h *scriptedHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type chanConsumer struct {
	ch chan ports.Delivery
}

func (c *chanConsumer) Consume(context.Context) (<-chan ports.Delivery, error) {
	return c.ch, nil
}

type ackState struct {
	acked    atomic.Bool
	rejected atomic.Bool
	requeue  atomic.Bool
}

func trackedDelivery(state *ackState) ports.Delivery {
	return ports.Delivery{
		Envelope:      &domain.Envelope{Alert: domain.Alert{AlertID: "T-1"}},
		CorrelationID: "corr-1",
		Ack: func() error {
			state.acked.Store(true)
			return nil
		},
		Reject: func(requeue bool) error {
			state.rejected.Store(true)
			state.requeue.Store(requeue)
			return nil
		},
	}
}

func runOne(t *testing.T, r *Runner, d ports.Delivery) {
	t.Helper()
	consumer := &chanConsumer{ch: make(chan ports.Delivery, 1)}
	consumer.ch <- d
	close(consumer.ch)
	r.Consumer = consumer

	done := make(chan struct{})
	go func() {
		_ = r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("runner did not drain")
	}
}

func TestRunnerAcksOnSuccess(t *testing.T) {
	handler := &scriptedHandler{}
	state := &ackState{}
	r := &Runner{Name: "test", Handler: handler, Logger: testLogger()}

	runOne(t, r, trackedDelivery(state))

	if handler.callCount() != 1 {
		t.Errorf("calls = %d, want 1", handler.callCount())
	}
	if !state.acked.Load() || state.rejected.Load() {
		t.Error("successful message must be acked, not rejected")
	}
}

func TestRunnerRetriesTransientThenSucceeds(t *testing.T) {
	handler := &scriptedHandler{errs: []error{
		fmt.Errorf("connection reset"),
		fmt.Errorf("connection reset"),
		nil,
	}}
	state := &ackState{}
	r := &Runner{Name: "test", Handler: handler, Logger: testLogger(), MaxAttempts: 3}

	runOne(t, r, trackedDelivery(state))

	if handler.callCount() != 3 {
		t.Errorf("calls = %d, want 3", handler.callCount())
	}
	if !state.acked.Load() {
		t.Error("message must be acked after a successful retry")
	}
}

func TestRunnerDeadLettersAfterMaxAttempts(t *testing.T) {
	handler := &scriptedHandler{errs: []error{
		fmt.Errorf("boom"), fmt.Errorf("boom"), fmt.Errorf("boom"),
	}}
	state := &ackState{}
	r := &Runner{Name: "test", Handler: handler, Logger: testLogger(), MaxAttempts: 3}

	runOne(t, r, trackedDelivery(state))

	if handler.callCount() != 3 {
		t.Errorf("calls = %d, want 3", handler.callCount())
	}
	if !state.rejected.Load() {
		t.Fatal("exhausted message must be rejected")
	}
	if state.requeue.Load() {
		t.Error("reject must use requeue=false so the broker dead-letters it")
	}
}

func TestRunnerPermanentErrorSkipsRetries(t *testing.T) {
	verr := &domain.ValidationError{Field: "alert_type", Reason: "unknown"}
	handler := &scriptedHandler{errs: []error{verr, verr, verr}}
	state := &ackState{}
	r := &Runner{Name: "test", Handler: handler, Logger: testLogger(), MaxAttempts: 3}

	runOne(t, r, trackedDelivery(state))

	if handler.callCount() != 1 {
		t.Errorf("calls = %d, want 1: permanent errors must not retry", handler.callCount())
	}
	if !state.rejected.Load() || state.requeue.Load() {
		t.Error("permanent failure must dead-letter immediately")
	}
}

func TestRunnerDropAcksWithoutForward(t *testing.T) {
	handler := &scriptedHandler{errs: []error{ErrDrop}}
	state := &ackState{}
	r := &Runner{Name: "test", Handler: handler, Logger: testLogger(), MaxAttempts: 3}

	runOne(t, r, trackedDelivery(state))

	if handler.callCount() != 1 {
		t.Errorf("calls = %d, want 1", handler.callCount())
	}
	if !state.acked.Load() || state.rejected.Load() {
		t.Error("dropped message must be acked, never dead-lettered")
	}
}

func TestRunnerDrainsInFlightOnShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	handler := handlerFunc(func(context.Context, ports.Delivery) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})

	consumer := &chanConsumer{ch: make(chan ports.Delivery, 1)}
	state := &ackState{}
	consumer.ch <- trackedDelivery(state)

	r := &Runner{Name: "test", Consumer: consumer, Handler: handler, Logger: testLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	close(consumer.ch)
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not drain in-flight work")
	}
	if !finished.Load() {
		t.Error("in-flight handler must run to completion during shutdown")
	}
}

func TestRunnerCleanShutdownReturnsNil(t *testing.T) {
	consumer := &chanConsumer{ch: make(chan ports.Delivery)}
	r := &Runner{Name: "test", Consumer: consumer, Handler: &scriptedHandler{}, Logger: testLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	cancel()
	close(consumer.ch)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("clean shutdown returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRunnerReportsBrokerChannelClosed(t *testing.T) {
	consumer := &chanConsumer{ch: make(chan ports.Delivery)}
	close(consumer.ch)
	r := &Runner{Name: "test", Consumer: consumer, Handler: &scriptedHandler{}, Logger: testLogger()}

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("delivery channel closing without cancellation must be an error")
	}
}

func TestRunnerDrainGraceBoundsWedgedHandler(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	handler := handlerFunc(func(context.Context, ports.Delivery) error {
		<-release
		return nil
	})

	consumer := &chanConsumer{ch: make(chan ports.Delivery, 1)}
	consumer.ch <- trackedDelivery(&ackState{})
	close(consumer.ch)

	r := &Runner{
		Name:       "test",
		Consumer:   consumer,
		Handler:    handler,
		Logger:     testLogger(),
		DrainGrace: 100 * time.Millisecond,
	}

	done := make(chan struct{})
	go func() {
		_ = r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain grace did not bound shutdown with a wedged handler")
	}
}

type handlerFunc func(ctx context.Context, d ports.Delivery) error

func (f handlerFunc) Handle(ctx context.Context, d ports.Delivery) error { return f(ctx, d) }
