package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiterPerKey(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	l := NewKeyedLimiter(1, 2)
	l.now = clock.Now

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "other keys are independent")

	clock.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestKeyedLimiterSweepsIdleKeys(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	l := NewKeyedLimiter(1, 1)
	l.now = clock.Now

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	clock.Advance(11 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}
