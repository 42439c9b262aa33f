package watcher

import "time"

// backoff computes bounded exponential retry delays: base = pollInterval,
// cap = 30x pollInterval (spec.md §4.3 "Loop" step 2).
type backoff struct {
	base       time.Duration
	cap        time.Duration
	maxRetries int
}

func newBackoff(pollInterval time.Duration, maxRetries int) backoff {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return backoff{base: pollInterval, cap: 30 * pollInterval, maxRetries: maxRetries}
}

// delay returns the sleep duration before retry attempt n (0-indexed).
func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.cap {
			return b.cap
		}
	}
	if d > b.cap {
		return b.cap
	}
	return d
}

func (b backoff) exhausted(attempt int) bool {
	return attempt >= b.maxRetries
}
