package router

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Prober checks each registered model's endpoint on an interval and
// feeds the results back into the registry health state.
type Prober struct {
	registry *Registry
	client   *http.Client
	interval time.Duration
}

func NewProber(registry *Registry, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		registry: registry,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
	}
}

// Start probes until ctx is cancelled. The first round runs
// immediately so a dead provider is noticed before the first route.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		p.probeAll(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probeAll(ctx)
			}
		}
	}()
}

func (p *Prober) probeAll(ctx context.Context) {
	now := time.Now().UTC()
	for _, status := range p.registry.List() {
		m := status.Model
		if err := p.probe(ctx, m.Endpoint); err != nil {
			p.registry.ReportFailure(m.ID)
		} else {
			p.registry.ReportSuccess(m.ID)
		}
		p.registry.markProbed(m.ID, now)
	}
}

// probe issues a GET against the provider's models listing, derived
// from the chat completions endpoint. Any response at all counts as
// alive; auth errors still prove reachability.
func (p *Prober) probe(ctx context.Context, endpoint string) error {
	probeURL := strings.TrimSuffix(endpoint, "/chat/completions") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
