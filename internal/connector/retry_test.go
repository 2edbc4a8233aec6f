package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpBackoff_MonotonicUpToCeiling(t *testing.T) {
	b := newExpBackoff(5*time.Second, 60*time.Second)

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := b.next()
		assert.GreaterOrEqual(t, d, prev, "delay must not shrink across consecutive failures")
		assert.LessOrEqual(t, d, 60*time.Second)
		prev = d
	}
	assert.Equal(t, 60*time.Second, prev, "delay saturates at the ceiling")
}

func TestExpBackoff_Sequence(t *testing.T) {
	b := newExpBackoff(5*time.Second, 60*time.Second)

	assert.Equal(t, 5*time.Second, b.next())
	assert.Equal(t, 10*time.Second, b.next())
	assert.Equal(t, 20*time.Second, b.next())
	assert.Equal(t, 40*time.Second, b.next())
	assert.Equal(t, 60*time.Second, b.next())
	assert.Equal(t, 60*time.Second, b.next())
}

func TestExpBackoff_ResetReturnsToFloor(t *testing.T) {
	b := newExpBackoff(5*time.Second, 60*time.Second)

	b.next()
	b.next()
	b.next()
	b.reset()

	assert.Equal(t, 5*time.Second, b.next(), "first delay after a success is the floor")
}

func TestFixedRetry_NeverGrows(t *testing.T) {
	f := newFixedRetry(3 * time.Second)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 3*time.Second, f.next())
	}
	f.reset()
	assert.Equal(t, 3*time.Second, f.next())
}
