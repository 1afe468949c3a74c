// Package ratelimit bounds per-user request rates at the API gateway with
// lazily refilled token buckets. No background goroutines; refill and
// expiry both happen inside Allow.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a user has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Buckets idle this long are dropped so the user map cannot grow without
// bound across many short-lived API keys.
const idleExpiry = 15 * time.Minute

// How many Allow calls between expiry sweeps.
const sweepEvery = 1024

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in a bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter tracks one token bucket per user ID. Buckets are independent;
// one user cannot exhaust another's quota.
type Limiter struct {
	mu     sync.Mutex
	users  map[string]*bucket
	rate   float64 // tokens per second
	burst  float64
	allows int // calls since the last expiry sweep
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// refill credits tokens for the time elapsed since the last fill,
// capped at burst.
func (b *bucket) refill(now time.Time, rate, burst float64) {
	b.tokens += now.Sub(b.lastFill).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastFill = now
}

// NewLimiter creates a limiter from cfg. A zero or negative
// RequestsPerMinute disables limiting entirely.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		users: make(map[string]*bucket),
		rate:  float64(cfg.RequestsPerMinute) / 60.0,
		burst: float64(burst),
	}
}

// Allow consumes one token from the user's bucket, returning ErrRateLimited
// when the bucket is empty. A user's first request starts with a full
// bucket.
func (l *Limiter) Allow(userID string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.allows++
	if l.allows >= sweepEvery {
		l.allows = 0
		l.sweep(now)
	}

	b, ok := l.users[userID]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.users[userID] = b
	}
	b.refill(now, l.rate, l.burst)

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// sweep drops buckets that have been idle past expiry. An expired bucket
// would refill to burst anyway, so dropping it never grants fewer tokens.
func (l *Limiter) sweep(now time.Time) {
	for id, b := range l.users {
		if now.Sub(b.lastFill) > idleExpiry {
			delete(l.users, id)
		}
	}
}
