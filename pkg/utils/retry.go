package utils

import (
	"math/rand"
	"time"
)

const maxBackoff = 30 * time.Second

// Backoff returns the wait before retry attempt n (1-based): base doubled per attempt,
// capped at 30s, with up to ±25% jitter. Attempt 0 or less returns 0.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	quarter := int64(d) / 4
	if quarter == 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(2*quarter)) - time.Duration(quarter)
	return d + jitter
}
