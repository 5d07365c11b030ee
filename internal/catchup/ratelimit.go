package catchup

import (
	"sync"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
)

// RateLimitConfig controls how often a helper will answer repeated
// Catchup_Requests from the same source (spec §4.7: "a helper rate-limits
// per source using next_catchup_time[r]").
type RateLimitConfig struct {
	MinInterval time.Duration
}

// DefaultRateLimitConfig returns the interval this repository ships.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MinInterval: 200 * time.Millisecond}
}

// RateLimiter tracks next_catchup_time[r] per requesting replica. Unlike
// the control-plane's HTTP-facing, Redis-backed rate limiter this
// repository's teacher shipped, a helper replica answers a fixed, known
// membership rather than arbitrary API clients, so an in-memory
// map keyed by membership.ReplicaID replaces the Redis counter — there is
// no multi-process state to share, and the whole table is already
// recreated on every process restart as part of PR_STARTUP.
type RateLimiter struct {
	cfg RateLimitConfig

	mu   sync.Mutex
	next map[membership.ReplicaID]time.Time
}

// NewRateLimiter constructs an empty per-source rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, next: make(map[membership.ReplicaID]time.Time)}
}

// Allow reports whether a Catchup_Request from sender at time now may be
// answered, advancing next_catchup_time[sender] if so.
func (r *RateLimiter) Allow(sender membership.ReplicaID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gate, ok := r.next[sender]; ok && now.Before(gate) {
		return false
	}
	r.next[sender] = now.Add(r.cfg.MinInterval)
	return true
}
