package domain

import (
	"errors"
	"testing"
	"time"
)

func validTestAlert() Alert {
	return Alert{
		AlertID:     "SIEM-1001",
		Source:      "splunk",
		AlertType:   TypeBruteForce,
		Severity:    SeverityMedium,
		Description: "20 failed logins in 60s",
		SourceIP:    "203.0.113.50",
		Timestamp:   time.Now().UTC().Add(-time.Minute),
	}
}

func TestAlertValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name      string
		mutate    func(*Alert)
		wantField string
	}{
		{"valid", func(a *Alert) {}, ""},
		{"zero timestamp is allowed", func(a *Alert) { a.Timestamp = time.Time{} }, ""},
		{"missing alert_id", func(a *Alert) { a.AlertID = "" }, "alert_id"},
		{"missing type", func(a *Alert) { a.AlertType = "" }, "alert_type"},
		{"unknown type", func(a *Alert) { a.AlertType = "nonsense" }, "alert_type"},
		{"unknown severity", func(a *Alert) { a.Severity = "urgent" }, "severity"},
		{"missing description", func(a *Alert) { a.Description = "" }, "description"},
		{"malformed source ip", func(a *Alert) { a.SourceIP = "300.1.1.1" }, "source_ip"},
		{"malformed target ip", func(a *Alert) { a.TargetIP = "not-an-ip" }, "target_ip"},
		{"malformed hash", func(a *Alert) { a.FileHash = "xyz" }, "file_hash"},
		{"too old", func(a *Alert) { a.Timestamp = now.Add(-31 * 24 * time.Hour) }, "timestamp"},
		{"future beyond skew", func(a *Alert) { a.Timestamp = now.Add(10 * time.Minute) }, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validTestAlert()
			tt.mutate(&a)
			err := a.Validate(now)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %s, want %s", verr.Field, tt.wantField)
			}
		})
	}
}

func TestAlertValidateAcceptsClockSkew(t *testing.T) {
	now := time.Now().UTC()
	a := validTestAlert()
	a.Timestamp = now.Add(4 * time.Minute)
	if err := a.Validate(now); err != nil {
		t.Errorf("timestamp within the 5m skew must validate: %v", err)
	}
}

func TestAlertObservables(t *testing.T) {
	a := validTestAlert()
	a.TargetIP = a.SourceIP // duplicate observable
	a.FileHash = "d41d8cd98f00b204e9800998ecf8427e"
	a.URL = "https://evil.example.com/x"

	obs := a.Observables()
	if len(obs) != 3 {
		t.Fatalf("observables = %v, want deduplicated 3", obs)
	}
	types := map[IOCType]int{}
	for _, o := range obs {
		types[o.Type]++
	}
	if types[IOCTypeIP] != 1 || types[IOCTypeFileHash] != 1 || types[IOCTypeURL] != 1 {
		t.Errorf("type distribution = %v", types)
	}
}

func TestSeverityPriority(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Priority() <= order[i-1].Priority() {
			t.Errorf("priority of %s (%d) must exceed %s (%d)",
				order[i], order[i].Priority(), order[i-1], order[i-1].Priority())
		}
	}
	if SeverityCritical.Priority() != 10 {
		t.Errorf("critical priority = %d, want 10", SeverityCritical.Priority())
	}
}
