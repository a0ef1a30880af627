package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(true, 0, 100*time.Millisecond, 1*time.Second, 2)
	assert.Equal(t, 100*time.Millisecond, b.Current())

	assert.Equal(t, 200*time.Millisecond, b.Empty())
	assert.Equal(t, 400*time.Millisecond, b.Empty())
	assert.Equal(t, 800*time.Millisecond, b.Empty())
	assert.Equal(t, 1*time.Second, b.Empty())
	assert.Equal(t, 1*time.Second, b.Empty())
}

func TestBackoffResetReturnsToInitial(t *testing.T) {
	b := NewBackoff(true, 0, 100*time.Millisecond, 1*time.Second, 2)
	b.Empty()
	b.Empty()
	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestBackoffDefaultsFactorWhenInvalid(t *testing.T) {
	b := NewBackoff(true, 0, 100*time.Millisecond, 1*time.Second, 0)
	assert.Equal(t, 200*time.Millisecond, b.Empty())
}

func TestBackoffDisabledNeverGrows(t *testing.T) {
	b := NewBackoff(false, 0, 100*time.Millisecond, 1*time.Second, 2)
	assert.Equal(t, 100*time.Millisecond, b.Empty())
	assert.Equal(t, 100*time.Millisecond, b.Empty())
	assert.Equal(t, 100*time.Millisecond, b.Empty())
}

// TestBackoffHoldsThresholdThenGrows reproduces spec.md §8 scenario 4:
// threshold=3, multiplier=2, max=60s, polling=1s. Five empty cycles —
// the first three run at the normal interval, the fourth and fifth
// back off with a growing delay. A Reset (standing in for "append one
// matching event; next tick delivers it") brings the next empty poll
// straight back to the normal interval.
func TestBackoffHoldsThresholdThenGrows(t *testing.T) {
	b := NewBackoff(true, 3, time.Second, 60*time.Second, 2)

	assert.Equal(t, time.Second, b.Empty())
	assert.Equal(t, time.Second, b.Empty())
	assert.Equal(t, time.Second, b.Empty())
	assert.Equal(t, 2*time.Second, b.Empty())
	assert.Equal(t, 4*time.Second, b.Empty())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Equal(t, time.Second, b.Empty())
}
