package stage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/adapter/provider"
	"github.com/hive-corporation/aegis/internal/core/domain"
)

type slowAssetProvider struct {
	delay time.Duration
}

func (slowAssetProvider) Name() string { return "cmdb" }

func (p slowAssetProvider) Lookup(ctx context.Context, _ string) (*domain.AssetContext, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.delay):
		return &domain.AssetContext{AssetID: "too-late"}, nil
	}
}

func testCollector(contexts *fakeContextRepo, pub *fakePublisher) *Collector {
	return &Collector{
		GeoIP: &provider.StaticGeoIP{Entries: map[string]domain.IPObservation{
			"203.0.113.9": {Country: "NL", ASN: "AS64500", Reputation: 80},
		}},
		Assets: &provider.StaticCMDB{Assets: map[string]domain.AssetContext{
			"SRV-001": {AssetType: "server", Criticality: domain.CriticalityCritical},
		}},
		Users: &provider.StaticDirectory{Users: map[string]domain.UserContext{
			"jdoe": {Department: "finance", PrivilegeLevel: "standard"},
		}},
		Contexts:  contexts,
		Cache:     newFakeCache(),
		Publisher: pub,
		Logger:    testLogger(),
		Timeout:   time.Second,
	}
}

func enrichedInput() *domain.Envelope {
	return &domain.Envelope{
		Alert: domain.Alert{
			ID:          uuid.New(),
			AlertID:     "ALT-001",
			Source:      "splunk",
			AlertType:   domain.TypeMalware,
			Severity:    domain.SeverityHigh,
			Description: "EICAR detected",
			SourceIP:    "192.168.1.100",
			TargetIP:    "203.0.113.9",
			AssetID:     "SRV-001",
			UserID:      "jdoe",
		},
	}
}

func TestCollectorEnrichesAllKinds(t *testing.T) {
	contexts, pub := &fakeContextRepo{}, &fakePublisher{}
	c := testCollector(contexts, pub)

	env := enrichedInput()
	if err := c.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	set := env.Enrichment
	if set == nil {
		t.Fatal("enrichment not attached")
	}
	if set.Network == nil || len(set.Network.Observations) != 2 {
		t.Fatalf("network observations = %+v", set.Network)
	}
	var internal, external *domain.IPObservation
	for i := range set.Network.Observations {
		o := &set.Network.Observations[i]
		if o.Internal {
			internal = o
		} else {
			external = o
		}
	}
	if internal == nil || internal.IP != "192.168.1.100" || internal.Subnet != "192.168.1.0/24" {
		t.Errorf("internal observation = %+v", internal)
	}
	if external == nil || external.Country != "NL" || external.Reputation != 80 {
		t.Errorf("external observation = %+v", external)
	}
	if set.Asset == nil || set.Asset.Criticality != domain.CriticalityCritical {
		t.Errorf("asset = %+v", set.Asset)
	}
	if set.User == nil || set.User.Department != "finance" {
		t.Errorf("user = %+v", set.User)
	}
	if len(set.Partial) != 0 {
		t.Errorf("partial = %v, want none", set.Partial)
	}

	if len(contexts.rows) != 3 {
		t.Errorf("persisted %d context rows, want 3", len(contexts.rows))
	}
	if len(pub.published) != 1 || pub.published[0].routingKey != broker.QueueEnriched {
		t.Errorf("published = %+v", pub.published)
	}
}

func TestCollectorTimeoutProducesPartial(t *testing.T) {
	contexts, pub := &fakeContextRepo{}, &fakePublisher{}
	c := testCollector(contexts, pub)
	c.Timeout = 50 * time.Millisecond
	c.Assets = slowAssetProvider{delay: time.Second}

	env := enrichedInput()
	if err := c.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("stage must not fail on a slow provider: %v", err)
	}

	set := env.Enrichment
	if set.Asset != nil {
		t.Errorf("asset should be missing, got %+v", set.Asset)
	}
	if len(set.Partial) != 1 || set.Partial[0] != string(domain.ContextAsset) {
		t.Errorf("partial = %v, want [asset]", set.Partial)
	}

	var partialRow *domain.EnrichmentContext
	for i := range contexts.rows {
		if contexts.rows[i].ContextType == domain.ContextAsset {
			partialRow = &contexts.rows[i]
		}
	}
	if partialRow == nil {
		t.Fatal("no asset row persisted")
	}
	if partialRow.Status != "partial" || partialRow.Data != nil {
		t.Errorf("asset row = %+v, want status=partial with null data", partialRow)
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d, want 1", len(pub.published))
	}
}

func TestCollectorUnkeyedAlertSkipsLookups(t *testing.T) {
	contexts, pub := &fakeContextRepo{}, &fakePublisher{}
	c := testCollector(contexts, pub)

	env := enrichedInput()
	env.Alert.SourceIP = ""
	env.Alert.TargetIP = ""
	env.Alert.AssetID = ""
	env.Alert.UserID = ""

	if err := c.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Enrichment.Partial) != 0 {
		t.Errorf("partial = %v, want none for unkeyed alert", env.Enrichment.Partial)
	}
	if len(contexts.rows) != 0 {
		t.Errorf("persisted %d rows, want 0", len(contexts.rows))
	}
}

func TestCollectorInternalCIDRs(t *testing.T) {
	nets, err := ParseCIDRs([]string{"100.64.0.0/10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := testCollector(&fakeContextRepo{}, &fakePublisher{})
	c.InternalCIDRs = nets

	obs := c.classifyIP(context.Background(), "100.64.1.2", "source")
	if obs == nil || !obs.Internal {
		t.Errorf("observation = %+v, want internal via configured CIDR", obs)
	}
}
