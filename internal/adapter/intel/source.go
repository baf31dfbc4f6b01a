package intel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// ResilientSource wraps a ThreatSource with a local token bucket and a
// circuit breaker: three consecutive hard errors open the circuit for
// the cooldown period.
type ResilientSource struct {
	inner   ports.ThreatSource
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// ResilientSourceConfig tunes the wrapper.
type ResilientSourceConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxFailures       uint32
	Cooldown          time.Duration
	Timeout           time.Duration
}

// DefaultResilientSourceConfig matches the stage policy: 60s cooldown
// after 3 consecutive failures, 4 requests/s per source.
func DefaultResilientSourceConfig() ResilientSourceConfig {
	return ResilientSourceConfig{
		RequestsPerSecond: 4,
		Burst:             8,
		MaxFailures:       3,
		Cooldown:          60 * time.Second,
		Timeout:           5 * time.Second,
	}
}

func NewResilientSource(inner ports.ThreatSource, cfg ResilientSourceConfig) *ResilientSource {
	settings := gobreaker.Settings{
		Name:     inner.Name(),
		Interval: 60 * time.Second,
		Timeout:  cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.RecordThreatSource(name, "circuit_open")
			}
		},
	}
	return &ResilientSource{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.Timeout,
	}
}

func (s *ResilientSource) Name() string    { return s.inner.Name() }
func (s *ResilientSource) Weight() float64 { return s.inner.Weight() }

func (s *ResilientSource) Query(ctx context.Context, ioc domain.IOC) (*domain.SourceVerdict, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := s.breaker.Execute(func() (any, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.inner.Query(qctx, ioc)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoProvider, s.inner.Name())
		}
		return nil, err
	}
	return result.(*domain.SourceVerdict), nil
}
