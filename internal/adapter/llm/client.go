package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/hive-corporation/aegis/internal/metrics"
)

// ResilientClient wraps an HTTP client with a circuit breaker and
// exponential-backoff retries. Retries fire on connection errors and
// retryable status codes; 4xx responses are permanent.
type ResilientClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	config  ResilientClientConfig
}

type ResilientClientConfig struct {
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration

	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultResilientClientConfig() ResilientClientConfig {
	return ResilientClientConfig{
		EnableCircuitBreaker: true,
		MaxFailures:          5,
		CircuitTimeout:       30 * time.Second,
		MaxRetries:           3,
		InitialInterval:      500 * time.Millisecond,
		MaxInterval:          5 * time.Second,
	}
}

func NewResilientClient(name string, timeout time.Duration, config ResilientClientConfig) *ResilientClient {
	var breaker *gobreaker.CircuitBreaker
	if config.EnableCircuitBreaker {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     config.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					metrics.RecordError("llm", "circuit_open")
				}
			},
		}
		breaker = gobreaker.NewCircuitBreaker(settings)
	}

	return &ResilientClient{
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		config:  config,
	}
}

// Do executes the request through the breaker and retry policy. The
// returned response always has a 2xx or 3xx status; everything else
// surfaces as an error.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.doWithRetry(req)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doWithRetry(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.RecordError("llm", "circuit_open")
			return nil, fmt.Errorf("circuit breaker is open: %w", err)
		}
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *ResilientClient) doWithRetry(req *http.Request) (*http.Response, error) {
	// The body must be replayable across attempts.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitialInterval
	expBackoff.MaxInterval = c.config.MaxInterval
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0

	retryBackoff := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(c.config.MaxRetries)),
		req.Context())

	var resp *http.Response
	var lastErr error
	operation := func() error {
		if len(bodyBytes) > 0 {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			lastErr = err
			metrics.RecordError("llm", "connection")
			if retryableNetErr(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			recordStatusError(resp.StatusCode)
			resp.Body.Close()
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			recordStatusError(resp.StatusCode)
			resp.Body.Close()
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	if err := backoff.Retry(operation, retryBackoff); err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", lastErr)
	}
	return resp, nil
}

func retryableNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func recordStatusError(code int) {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		metrics.RecordError("llm", "auth")
	case http.StatusTooManyRequests:
		metrics.RecordError("llm", "rate_limit")
	case http.StatusRequestTimeout:
		metrics.RecordError("llm", "timeout")
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		metrics.RecordError("llm", "server_error")
	default:
		metrics.RecordError("llm", "http_error")
	}
}
