package control

import (
	"sync"
	"time"
)

// RateLimiter throttles authentication failures per peer. Max failures per
// sliding window; in-memory only since the endpoint is local.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	mu          sync.Mutex
	attempts    map[string][]time.Time
}

func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		attempts:    make(map[string][]time.Time),
	}
}

// Blocked reports whether peer used up its failures in the current window.
func (r *RateLimiter) Blocked(peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(peer)) >= r.maxAttempts
}

// Fail records a failure for peer.
func (r *RateLimiter) Fail(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[peer] = append(r.prune(peer), r.now())
}

func (r *RateLimiter) prune(peer string) []time.Time {
	cutoff := r.now().Add(-r.window)
	existing := r.attempts[peer]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	if len(pruned) == 0 {
		delete(r.attempts, peer)
		return nil
	}
	r.attempts[peer] = pruned
	return pruned
}
