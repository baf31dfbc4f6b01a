package domain

import "errors"

// Error kinds shared across stages. Permanent errors are never retried;
// everything else follows the transient backoff policy.
var (
	ErrDuplicate        = errors.New("duplicate alert within dedup window")
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrNoModelAvailable = errors.New("no model available")
	ErrNoProvider       = errors.New("provider circuit open")
	ErrUnparseable      = errors.New("unparseable payload")
)

// Permanent reports whether err must not be retried (schema validation
// and malformed payloads go straight to the DLQ).
func Permanent(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrUnparseable)
}
