package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_FirstAlwaysAllowed(t *testing.T) {
	limiter := New(200 * time.Millisecond)
	assert.True(t, limiter.Allow(time.Now()))
}

func TestLimiter_EnforcesMinimumInterval(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(200 * time.Millisecond)

	assert.True(t, limiter.Allow(base))
	assert.False(t, limiter.Allow(base.Add(100*time.Millisecond)))
	assert.False(t, limiter.Allow(base.Add(199*time.Millisecond)))
	assert.True(t, limiter.Allow(base.Add(200*time.Millisecond)))
}

func TestLimiter_RejectionsDoNotResetWindow(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(200 * time.Millisecond)

	assert.True(t, limiter.Allow(base))

	// A burst of rejected messages must not push the next acceptance
	// further out.
	for i := 1; i <= 3; i++ {
		assert.False(t, limiter.Allow(base.Add(time.Duration(i)*50*time.Millisecond)))
	}
	assert.True(t, limiter.Allow(base.Add(200*time.Millisecond)))
}

func TestLimiter_BurstAcceptance(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(200 * time.Millisecond)

	// 10 messages 50ms apart span 450ms: at most 3 can be accepted.
	accepted := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow(base.Add(time.Duration(i) * 50 * time.Millisecond)) {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
}

func TestNew_DefaultInterval(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(0)

	assert.True(t, limiter.Allow(base))
	assert.False(t, limiter.Allow(base.Add(DefaultMinInterval-time.Millisecond)))
}
