// Package connector owns one upstream connection or poll loop per feed,
// applies that feed's reconnect policy, and emits normalized envelopes into
// the reconciliation mailbox.
//
// Failure isolation is mandatory: a malformed payload drops that one record,
// a transport error reconnects that one source, and nothing here may block or
// crash the reconciliation path.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
)

// Emitter delivers a normalized envelope to the reconciliation engine.
// Implementations must never block; the engine drops on a full mailbox.
type Emitter func(domain.Envelope)

// Connector is one upstream feed's connection owner.
type Connector interface {
	// Run drives the connection or poll loop until ctx is cancelled.
	Run(ctx context.Context)

	// Source identifies the upstream feed.
	Source() domain.SourceID

	// State returns the current externally visible connection state.
	State() domain.ConnectionState
}

// Gate reports whether a connector may hold its connection open right now.
// Regional push connectors are gated on leader ownership so multiple
// processes per origin do not open redundant sockets.
type Gate func() bool

// gatePollInterval is how often a gated connector re-checks its gate while
// suppressed.
const gatePollInterval = time.Second

// connState is a thread-safe holder for a connector's ConnectionState.
type connState struct {
	mu    sync.Mutex
	clock clockwork.Clock
	st    domain.ConnectionState
}

func newConnState(clock clockwork.Clock) *connState {
	return &connState{
		clock: clock,
		st:    domain.ConnectionState{Status: domain.StatusDisconnected},
	}
}

func (s *connState) get() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *connState) connecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Status = domain.StatusConnecting
}

func (s *connState) connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Status = domain.StatusConnected
	s.st.ConsecutiveFailures = 0
}

// success records a successful receipt without changing status.
func (s *connState) success() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastSuccess = s.clock.Now()
	s.st.ConsecutiveFailures = 0
}

func (s *connState) disconnected(nextRetry time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Status = domain.StatusDisconnected
	s.st.ConsecutiveFailures++
	s.st.NextRetryDelay = nextRetry
}

func (s *connState) blocked(cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Status = domain.StatusBlocked
	s.st.NextRetryDelay = cooldown
}

// sleepCtx waits d on the given clock, returning false if ctx was cancelled
// first.
func sleepCtx(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}
