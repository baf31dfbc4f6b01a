package intel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// Aggregator fans an alert's IOC set out to every configured threat
// source under a joint deadline and folds the verdicts into per-IOC
// records plus an alert-level summary. Slow sources forfeit their
// weight; the remaining verdicts are renormalized.
type Aggregator struct {
	sources  []ports.ThreatSource
	cache    ports.Cache
	repo     ports.ThreatIntelRepository
	logger   *slog.Logger
	deadline time.Duration
	cacheTTL time.Duration
}

type AggregatorConfig struct {
	Deadline time.Duration
	CacheTTL time.Duration
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Deadline: 10 * time.Second,
		CacheTTL: 24 * time.Hour,
	}
}

func NewAggregator(sources []ports.ThreatSource, cache ports.Cache, repo ports.ThreatIntelRepository, logger *slog.Logger, cfg AggregatorConfig) *Aggregator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultAggregatorConfig().Deadline
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultAggregatorConfig().CacheTTL
	}
	return &Aggregator{
		sources:  sources,
		cache:    cache,
		repo:     repo,
		logger:   logger,
		deadline: cfg.Deadline,
		cacheTTL: cfg.CacheTTL,
	}
}

// persistTimeout bounds the record upserts, which run on their own
// context so a lookup that consumed the whole joint deadline cannot
// drop them.
const persistTimeout = 5 * time.Second

func verdictKey(source string, ioc domain.IOC) string {
	return fmt.Sprintf("ti:%s:%s:%s", source, ioc.Type, ioc.Value)
}

// Lookup queries every source for every IOC concurrently and returns
// the alert-level summary. A fully timed-out run yields a zero-score
// summary with confidence 0; the caller forwards regardless.
func (a *Aggregator) Lookup(ctx context.Context, iocs []domain.IOC) domain.ThreatSummary {
	queried := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		queried = append(queried, s.Name())
	}
	if len(iocs) == 0 || len(a.sources) == 0 {
		return domain.SummarizeThreat(queried, nil, nil)
	}

	lctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	var mu sync.Mutex
	verdicts := make(map[string][]domain.SourceVerdict, len(iocs))

	g, gctx := errgroup.WithContext(lctx)
	for _, ioc := range iocs {
		for _, src := range a.sources {
			ioc, src := ioc, src
			g.Go(func() error {
				v, err := a.queryOne(gctx, src, ioc)
				if err != nil || v == nil {
					return nil
				}
				mu.Lock()
				verdicts[ioc.Value] = append(verdicts[ioc.Value], *v)
				mu.Unlock()
				return nil
			})
		}
	}
	// Workers swallow their errors so one slow vendor never cancels the
	// rest; Wait only synchronizes.
	_ = g.Wait()

	// Persistence gets its own window; the lookup deadline may already
	// be fully spent by slow sources.
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer pcancel()

	now := time.Now().UTC()
	records := make([]domain.ThreatIntelRecord, 0, len(iocs))
	confidences := make([]float64, 0, len(iocs))
	for _, ioc := range iocs {
		rec, conf := domain.AggregateVerdicts(ioc, queried, verdicts[ioc.Value], now)
		records = append(records, rec)
		confidences = append(confidences, conf)
		if a.repo != nil {
			if err := a.repo.UpsertRecord(pctx, rec); err != nil {
				a.logger.Warn("threat intel upsert failed", "ioc", ioc.Value, "error", err)
			}
		}
	}
	return domain.SummarizeThreat(queried, records, confidences)
}

// queryOne consults the per-(source, ioc) cache before going to the
// vendor. Cache inserts are best effort.
func (a *Aggregator) queryOne(ctx context.Context, src ports.ThreatSource, ioc domain.IOC) (*domain.SourceVerdict, error) {
	key := verdictKey(src.Name(), ioc)
	if a.cache != nil {
		var cached domain.SourceVerdict
		if found, err := a.cache.GetJSON(ctx, key, &cached); err == nil && found {
			metrics.RecordThreatSource(src.Name(), "cache_hit")
			return &cached, nil
		}
	}

	v, err := src.Query(ctx, ioc)
	if err != nil {
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "timeout"
		}
		metrics.RecordThreatSource(src.Name(), outcome)
		a.logger.Debug("threat source query failed",
			"source", src.Name(), "ioc", ioc.Value, "error", err)
		return nil, err
	}
	if v.Detected {
		metrics.RecordThreatSource(src.Name(), "hit")
	} else {
		metrics.RecordThreatSource(src.Name(), "clean")
	}
	if a.cache != nil {
		if err := a.cache.SetJSON(ctx, key, v, a.cacheTTL); err != nil {
			a.logger.Debug("threat verdict cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}
