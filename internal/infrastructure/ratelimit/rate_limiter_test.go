package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstThenRefill(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(map[string]Limit{ActionSendMessage: PerMinute(2)}).
		WithClock(func() time.Time { return now })

	ok, _ := rl.Allow("u1", ActionSendMessage)
	assert.True(t, ok)
	ok, _ = rl.Allow("u1", ActionSendMessage)
	assert.True(t, ok)

	ok, wait := rl.Allow("u1", ActionSendMessage)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	// other users and actions have separate buckets
	ok, _ = rl.Allow("u2", ActionSendMessage)
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = rl.Allow("u1", ActionSendMessage)
	assert.True(t, ok)
}

func TestRateLimiterCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil).WithClock(func() time.Time { return now })

	rl.Allow("u1", ActionCreateRoom)
	now = now.Add(2 * time.Hour)
	rl.Cleanup()

	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	assert.Empty(t, rl.buckets)
}

func TestRateLimiterRejectionDoesNotConsume(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(map[string]Limit{ActionCreateOffer: {Burst: 1, Interval: time.Minute}}).
		WithClock(func() time.Time { return now })

	ok, _ := rl.Allow("u1", ActionCreateOffer)
	assert.True(t, ok)

	// repeated rejections must not push the next token further out
	for i := 0; i < 3; i++ {
		ok, wait := rl.Allow("u1", ActionCreateOffer)
		assert.False(t, ok)
		assert.Equal(t, time.Minute, wait)
	}

	now = now.Add(time.Minute)
	ok, _ = rl.Allow("u1", ActionCreateOffer)
	assert.True(t, ok)
}
