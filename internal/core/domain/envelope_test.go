package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Alert: Alert{
			ID:          uuid.New(),
			AlertID:     "SIEM-42",
			Source:      "splunk",
			AlertType:   TypeMalware,
			Severity:    SeverityHigh,
			Description: "trojan",
		},
		IOCs: []IOC{{Value: "198.51.100.7", Type: IOCTypeIP}},
	}

	b, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Alert.AlertID != "SIEM-42" || len(got.IOCs) != 1 {
		t.Errorf("round trip lost data: %+v", got)
	}
	if got.Enrichment != nil || got.ThreatSummary != nil || got.Triage != nil {
		t.Errorf("absent sections must stay nil: %+v", got)
	}
}

func TestEnvelopePreservesUnknownSections(t *testing.T) {
	// A newer producer added a section this consumer does not know.
	raw := []byte(`{
		"alert": {"alert_id": "SIEM-43", "source": "qradar", "alert_type": "phishing",
			"severity": "low", "status": "new", "description": "x",
			"id": "00000000-0000-0000-0000-000000000000",
			"timestamp": "2026-08-26T12:00:00Z"},
		"soar_hints": {"playbook": "pb-7", "auto": true},
		"trace": "abc-123"
	}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Extra) != 2 {
		t.Fatalf("extra sections = %d, want 2: %v", len(env.Extra), env.Extra)
	}

	// The consumer appends its own section and re-encodes.
	env.IOCs = []IOC{{Value: "198.51.100.7", Type: IOCTypeIP}}
	out, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(out, &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"alert", "iocs", "soar_hints", "trace"} {
		if _, ok := all[key]; !ok {
			t.Errorf("section %q missing after re-encode", key)
		}
	}

	var hints struct {
		Playbook string `json:"playbook"`
		Auto     bool   `json:"auto"`
	}
	if err := json.Unmarshal(all["soar_hints"], &hints); err != nil {
		t.Fatalf("unmarshal soar_hints: %v", err)
	}
	if hints.Playbook != "pb-7" || !hints.Auto {
		t.Errorf("unknown section mutated: %+v", hints)
	}
}

func TestEnvelopeKnownKeysWinOverExtra(t *testing.T) {
	env := &Envelope{
		Alert: Alert{AlertID: "SIEM-44", Source: "cef", AlertType: TypeOther,
			Severity: SeverityInfo, Description: "y"},
		Extra: map[string]json.RawMessage{
			"alert": []byte(`{"alert_id":"SPOOFED"}`),
			"vendor_blob": []byte(`{"k":1}`),
		},
	}
	out, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEnvelope(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Alert.AlertID != "SIEM-44" {
		t.Errorf("alert section overwritten by Extra: %s", got.Alert.AlertID)
	}
	if _, ok := got.Extra["vendor_blob"]; !ok {
		t.Error("vendor_blob not preserved")
	}
}
