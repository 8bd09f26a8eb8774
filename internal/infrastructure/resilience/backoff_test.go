package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{500, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffDegenerate(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))
	assert.Equal(t, 100*time.Millisecond, Backoff{Initial: 100 * time.Millisecond}.Delay(7))
}

func TestBackoffWindow(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Multiplier: 2, Max: 50 * time.Millisecond}
	// 10 + 20 + 40 + 50
	assert.Equal(t, 120*time.Millisecond, b.Window(4))
}
