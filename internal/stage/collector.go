package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

// Collector is the S3 handler: network, asset, and user enrichment
// gathered concurrently under a joint timeout. A timed-out or failed
// sub-collector degrades to a partial row instead of failing the stage.
type Collector struct {
	GeoIP     ports.GeoIPProvider
	Assets    ports.AssetProvider
	Users     ports.UserProvider
	Contexts  ports.ContextRepository
	Cache     ports.Cache
	Publisher ports.Publisher
	Logger    *slog.Logger

	Timeout       time.Duration
	CacheTTL      time.Duration
	InternalCIDRs []*net.IPNet
}

// ParseCIDRs parses operator-configured internal ranges, on top of the
// RFC1918 defaults the classifier always applies.
func ParseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("parse internal CIDR %q: %w", c, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func (c *Collector) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 3 * time.Second
	}
	return c.Timeout
}

func (c *Collector) cacheTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return time.Hour
	}
	return c.CacheTTL
}

func (c *Collector) Handle(ctx context.Context, d ports.Delivery) error {
	env := d.Envelope
	alert := &env.Alert

	set := &domain.EnrichmentSet{}
	now := time.Now().UTC()

	gctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	g.Go(func() error {
		set.Network = c.collectNetwork(gctx, alert)
		return nil
	})
	g.Go(func() error {
		set.Asset = c.collectAsset(gctx, alert)
		return nil
	})
	g.Go(func() error {
		set.User = c.collectUser(gctx, alert)
		return nil
	})
	_ = g.Wait()

	// Record which sub-collectors came back empty for a keyed alert.
	if set.Network == nil && (alert.SourceIP != "" || alert.TargetIP != "") {
		set.Partial = append(set.Partial, string(domain.ContextNetwork))
	}
	if set.Asset == nil && alert.AssetID != "" {
		set.Partial = append(set.Partial, string(domain.ContextAsset))
	}
	if set.User == nil && alert.UserID != "" {
		set.Partial = append(set.Partial, string(domain.ContextUser))
	}

	if err := c.persist(ctx, alert, set, now); err != nil {
		return err
	}

	env.Enrichment = set
	if err := c.Publisher.Publish(ctx, broker.QueueEnriched, env, d.Priority, d.CorrelationID); err != nil {
		return fmt.Errorf("publish enriched: %w", err)
	}
	return nil
}

func (c *Collector) collectNetwork(ctx context.Context, alert *domain.Alert) *domain.NetworkContext {
	var obs []domain.IPObservation
	for _, pair := range []struct{ ip, direction string }{
		{alert.SourceIP, "source"},
		{alert.TargetIP, "target"},
	} {
		if pair.ip == "" {
			continue
		}
		o := c.classifyIP(ctx, pair.ip, pair.direction)
		if o != nil {
			obs = append(obs, *o)
		}
	}
	if len(obs) == 0 {
		return nil
	}
	return &domain.NetworkContext{Observations: obs}
}

func (c *Collector) classifyIP(ctx context.Context, ipStr, direction string) *domain.IPObservation {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil
	}

	o := domain.IPObservation{
		IP:        ipStr,
		Direction: direction,
		Internal:  c.isInternal(ip),
	}
	if v4 := ip.To4(); v4 != nil {
		o.Subnet = fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	if o.Internal || c.GeoIP == nil {
		return &o
	}

	geo, err := c.lookupGeo(ctx, ipStr)
	if err != nil {
		c.Logger.Debug("geoip lookup failed", "ip", ipStr, "error", err)
		return &o
	}
	o.Country = geo.Country
	o.ASN = geo.ASN
	o.Reputation = geo.Reputation
	return &o
}

func (c *Collector) isInternal(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() {
		return true
	}
	for _, n := range c.InternalCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (c *Collector) lookupGeo(ctx context.Context, ip string) (*domain.IPObservation, error) {
	var cached domain.IPObservation
	key := "ctx:" + c.GeoIP.Name() + ":" + ip
	if found, err := c.Cache.GetJSON(ctx, key, &cached); err == nil && found {
		return &cached, nil
	}
	got, err := c.GeoIP.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.SetJSON(ctx, key, got, c.cacheTTL()); err != nil {
		c.Logger.Debug("enrichment cache write failed", "key", key, "error", err)
	}
	return got, nil
}

func (c *Collector) collectAsset(ctx context.Context, alert *domain.Alert) *domain.AssetContext {
	if alert.AssetID == "" || c.Assets == nil {
		return nil
	}
	var cached domain.AssetContext
	key := "ctx:" + c.Assets.Name() + ":" + alert.AssetID
	if found, err := c.Cache.GetJSON(ctx, key, &cached); err == nil && found {
		return &cached
	}
	got, err := c.Assets.Lookup(ctx, alert.AssetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.Logger.Debug("asset lookup failed", "asset_id", alert.AssetID, "error", err)
		}
		return nil
	}
	if err := c.Cache.SetJSON(ctx, key, got, c.cacheTTL()); err != nil {
		c.Logger.Debug("enrichment cache write failed", "key", key, "error", err)
	}
	return got
}

func (c *Collector) collectUser(ctx context.Context, alert *domain.Alert) *domain.UserContext {
	if alert.UserID == "" || c.Users == nil {
		return nil
	}
	var cached domain.UserContext
	key := "ctx:" + c.Users.Name() + ":" + alert.UserID
	if found, err := c.Cache.GetJSON(ctx, key, &cached); err == nil && found {
		return &cached
	}
	got, err := c.Users.Lookup(ctx, alert.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.Logger.Debug("user lookup failed", "user_id", alert.UserID, "error", err)
		}
		return nil
	}
	if err := c.Cache.SetJSON(ctx, key, got, c.cacheTTL()); err != nil {
		c.Logger.Debug("enrichment cache write failed", "key", key, "error", err)
	}
	return got
}

// persist writes one row per context kind: populated kinds as status=ok
// with data, keyed-but-missing kinds as status=partial with null data.
func (c *Collector) persist(ctx context.Context, alert *domain.Alert, set *domain.EnrichmentSet, now time.Time) error {
	partial := make(map[string]bool, len(set.Partial))
	for _, p := range set.Partial {
		partial[p] = true
	}

	var geoName, assetName, userName string
	if c.GeoIP != nil {
		geoName = c.GeoIP.Name()
	}
	if c.Assets != nil {
		assetName = c.Assets.Name()
	}
	if c.Users != nil {
		userName = c.Users.Name()
	}

	if set.Network != nil || partial[string(domain.ContextNetwork)] {
		if err := c.upsertRow(ctx, alert, domain.ContextNetwork, geoName, set.Network, now); err != nil {
			return err
		}
	}
	if set.Asset != nil || partial[string(domain.ContextAsset)] {
		if err := c.upsertRow(ctx, alert, domain.ContextAsset, assetName, set.Asset, now); err != nil {
			return err
		}
	}
	if set.User != nil || partial[string(domain.ContextUser)] {
		if err := c.upsertRow(ctx, alert, domain.ContextUser, userName, set.User, now); err != nil {
			return err
		}
	}
	return nil
}

// upsertRow persists one context kind. data must be a typed pointer or
// nil; nil data marks the row partial.
func (c *Collector) upsertRow(ctx context.Context, alert *domain.Alert, kind domain.ContextType, source string, data any, now time.Time) error {
	ec := domain.EnrichmentContext{
		AlertID:     alert.ID,
		ContextType: kind,
		Source:      source,
		Status:      "partial",
		CollectedAt: now,
		TTLHint:     c.cacheTTL(),
	}
	switch d := data.(type) {
	case *domain.NetworkContext:
		if d != nil {
			b, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal network context: %w", err)
			}
			ec.Status, ec.Data = "ok", b
		}
	case *domain.AssetContext:
		if d != nil {
			b, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal asset context: %w", err)
			}
			ec.Status, ec.Data = "ok", b
		}
	case *domain.UserContext:
		if d != nil {
			b, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal user context: %w", err)
			}
			ec.Status, ec.Data = "ok", b
		}
	}
	if err := c.Contexts.UpsertContext(ctx, ec); err != nil {
		return fmt.Errorf("upsert %s context: %w", kind, err)
	}
	return nil
}
