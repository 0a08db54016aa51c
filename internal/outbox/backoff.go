package outbox

import "time"

// Backoff returns base * 2^(attempts-1), capped. attempts counts failures so far.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		if max > 0 && d >= max {
			return max
		}
		if d > (1<<62)/2 {
			// overflow guard
			if max > 0 {
				return max
			}
			return d
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
