package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Actions with their own buckets.
const (
	ActionSendMessage = "send_message"
	ActionCreateRoom  = "create_room"
	ActionCreateOffer = "create_offer"
)

// Limit is a bucket shape: Burst tokens, refilled one per Interval.
type Limit struct {
	Burst    int
	Interval time.Duration
}

// PerMinute spreads n tokens evenly over a minute.
func PerMinute(n int) Limit {
	if n <= 0 {
		n = 1
	}
	return Limit{Burst: n, Interval: time.Minute / time.Duration(n)}
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// allow takes a token at now, or reports the delay until one frees up
// without consuming it.
func (b *bucket) allow(now time.Time) (bool, time.Duration) {
	b.lastUsed = now
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	limits       map[string]Limit
	defaultLimit Limit
	buckets      map[string]*bucket
	mutex        sync.Mutex
	now          func() time.Time
}

func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	return &RateLimiter{
		limits:       limits,
		defaultLimit: PerMinute(20),
		buckets:      make(map[string]*bucket),
		now:          time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Allow checks if a user action is allowed
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		limit, found := rl.limits[action]
		if !found {
			limit = rl.defaultLimit
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(limit.Interval), limit.Burst)}
		rl.buckets[key] = b
	}
	return b.allow(now)
}

// Cleanup drops buckets idle for longer than an hour.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUsed) > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup every 30 minutes until done is closed.
func (rl *RateLimiter) StartCleanupRoutine(done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()
}
