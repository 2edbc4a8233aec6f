package connector

import "time"

// retryPolicy yields the delay before the next reconnection attempt.
//
// The primary feed uses a fixed short delay: its disconnects are transient
// network blips on a push channel and growing the delay just adds latency.
// The regional feeds use true exponential backoff because their outages tend
// to last. The asymmetry is deliberate.
type retryPolicy interface {
	// next advances the policy by one failure and returns the delay to wait.
	next() time.Duration

	// reset restores the policy after a success.
	reset()
}

type fixedRetry struct {
	delay time.Duration
}

// newFixedRetry returns a policy that always waits the same delay.
func newFixedRetry(delay time.Duration) retryPolicy {
	return &fixedRetry{delay: delay}
}

func (f *fixedRetry) next() time.Duration { return f.delay }
func (f *fixedRetry) reset()              {}

type expBackoff struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

// newExpBackoff returns a policy that starts at floor, doubles per
// consecutive failure, and caps at ceiling. reset drops it back to the floor.
func newExpBackoff(floor, ceiling time.Duration) retryPolicy {
	return &expBackoff{floor: floor, ceiling: ceiling}
}

func (b *expBackoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.floor
		return b.current
	}
	b.current *= 2
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return b.current
}

func (b *expBackoff) reset() {
	b.current = 0
}
