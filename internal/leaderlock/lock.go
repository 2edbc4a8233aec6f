// Package leaderlock elects the single process per origin that may hold the
// regional push connections open, using a heartbeat lease in a shared store.
//
// The lease is advisory: the store offers plain read-modify-write, not an
// atomic compare-and-swap, so two processes racing the same stale record can
// both believe they own it for one heartbeat interval. That window is
// tolerated by design — the worst case is a briefly duplicated upstream
// connection, not data corruption — and is bounded by the short staleness
// threshold.
package leaderlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Record is the shared lease record.
type Record struct {
	OwnerID   string    `json:"owner_id"`
	Heartbeat time.Time `json:"heartbeat"`
}

// Store is the shared persistent store the lease lives in. Get returns
// (nil, nil) when no record exists.
type Store interface {
	Get(ctx context.Context) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Del(ctx context.Context) error
}

// Lease is one process's handle on the leader lease.
type Lease struct {
	store      Store
	selfID     string
	staleAfter time.Duration
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	held       atomic.Bool
}

// New creates a lease handle. staleAfter is how old another owner's heartbeat
// must be before it can be taken over; interval is the heartbeat period.
func New(store Store, selfID string, staleAfter, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Lease {
	return &Lease{
		store:      store,
		selfID:     selfID,
		staleAfter: staleAfter,
		interval:   interval,
		clock:      clock,
		logger:     logger,
	}
}

// Held reports whether this process currently believes it owns the lease.
// Safe to call from any goroutine; used as the connector gate.
func (l *Lease) Held() bool { return l.held.Load() }

// TryAcquire attempts to take or refresh the lease. It succeeds when no
// record exists, the existing record is stale, or this process already owns
// it (re-acquisition by the same owner is idempotent).
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	rec, err := l.store.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("read lease: %w", err)
	}

	now := l.clock.Now()
	if rec != nil && rec.OwnerID != l.selfID && now.Sub(rec.Heartbeat) < l.staleAfter {
		l.held.Store(false)
		return false, nil
	}

	if err := l.store.Put(ctx, Record{OwnerID: l.selfID, Heartbeat: now}); err != nil {
		l.held.Store(false)
		return false, fmt.Errorf("write lease: %w", err)
	}

	if !l.held.Swap(true) {
		l.logger.Info("leader lease acquired", "owner", l.selfID)
	}
	return true, nil
}

// Run drives acquisition and heartbeating until ctx is cancelled, then
// releases the lease.
func (l *Lease) Run(ctx context.Context) {
	for {
		if _, err := l.TryAcquire(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn("lease store error", "error", err)
		}
		select {
		case <-ctx.Done():
			l.release()
			return
		case <-l.clock.After(l.interval):
		}
	}
}

// release removes the record on teardown if still owned by this process.
// Uses a fresh short-lived context because the run context is already done.
func (l *Lease) release() {
	if !l.held.Swap(false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := l.store.Get(ctx)
	if err != nil || rec == nil || rec.OwnerID != l.selfID {
		return
	}
	if err := l.store.Del(ctx); err != nil {
		l.logger.Warn("lease release failed", "error", err)
		return
	}
	l.logger.Info("leader lease released", "owner", l.selfID)
}
