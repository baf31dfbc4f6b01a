package domain

import (
	"testing"
	"time"
)

func fpAlert(ts time.Time) *Alert {
	return &Alert{
		AlertType: TypeBruteForce,
		SourceIP:  "203.0.113.7",
		TargetIP:  "10.1.2.3",
		Timestamp: ts,
	}
}

func TestFingerprintSameBucket(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	a := fpAlert(base)
	b := fpAlert(base.Add(3 * time.Minute)) // still inside the 12:00 bucket

	if Fingerprint(a, 5*time.Minute) != Fingerprint(b, 5*time.Minute) {
		t.Error("alerts with identical observables in one window bucket must collide")
	}
}

func TestFingerprintDifferentBucket(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	a := fpAlert(base)
	b := fpAlert(base.Add(6 * time.Minute))

	if Fingerprint(a, 5*time.Minute) == Fingerprint(b, 5*time.Minute) {
		t.Error("alerts in different window buckets must not collide")
	}
}

func TestFingerprintObservableSensitivity(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	a := fpAlert(base)

	b := fpAlert(base)
	b.SourceIP = "203.0.113.8"
	if Fingerprint(a, 0) == Fingerprint(b, 0) {
		t.Error("different source IPs must produce different fingerprints")
	}

	c := fpAlert(base)
	c.AlertType = TypeMalware
	if Fingerprint(a, 0) == Fingerprint(c, 0) {
		t.Error("different alert types must produce different fingerprints")
	}
}

func TestFingerprintCaseInsensitiveHashAndURL(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	a := fpAlert(base)
	a.FileHash = "DEADBEEFDEADBEEFDEADBEEFDEADBEEF"
	a.URL = "https://Evil.Example.com/x/"

	b := fpAlert(base)
	b.FileHash = "deadbeefdeadbeefdeadbeefdeadbeef"
	b.URL = "https://evil.example.com/x"

	if Fingerprint(a, 0) != Fingerprint(b, 0) {
		t.Error("hash case and URL normalization must not change the fingerprint")
	}
}
