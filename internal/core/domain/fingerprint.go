package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultDedupWindow is the sliding window for fingerprint deduplication.
const DefaultDedupWindow = 5 * time.Minute

// Fingerprint derives the dedup fingerprint for an alert:
// SHA256(alert_type ‖ source_ip ‖ target_ip ‖ file_hash ‖ url ‖ bucket)
// where bucket is the alert timestamp floored to the window. Two alerts
// with the same observables landing in the same bucket collide.
func Fingerprint(a *Alert, window time.Duration) string {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	bucket := a.Timestamp.UTC().Truncate(window).Unix()
	parts := []string{
		string(a.AlertType),
		a.SourceIP,
		a.TargetIP,
		strings.ToLower(a.FileHash),
		NormalizeIOC(a.URL, IOCTypeURL),
		timeBucket(bucket),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func timeBucket(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
