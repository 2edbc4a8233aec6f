// Package engine runs the reconciliation loop: every connector emits into one
// buffered mailbox, a single goroutine applies events to the store, and the
// resulting display state fans out to subscribers and an optional publisher.
// Keeping all mutation on one goroutine is what makes the store lock-free.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/connector"
	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
	"github.com/couchcryptid/seismic-feed-hub/internal/store"
)

// synthesisWindow is how close in time a real quake report must be to a
// tsunami bulletin for the bulletin to count as already explained. Bulletins
// with no matching quake get a synthetic placeholder so the display never
// shows a tsunami warning with an empty event panel.
const synthesisWindow = 10 * time.Minute

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this loses changes rather than stalling the loop.
const subscriberBuffer = 8

// Trigger values for changes not caused by an upstream envelope.
const (
	TriggerOverride = "override"
	TriggerExpiry   = "override_expired"
	TriggerDismiss  = "dismiss"
)

// Change describes one externally visible state transition: what triggered it
// and the resulting current state (display record, alert, tsunami bulletin).
type Change struct {
	Trigger string               `json:"trigger"`
	Source  domain.SourceID      `json:"source,omitempty"`
	Display domain.DisplayRecord `json:"display"`
	Alert   *domain.EewAlert     `json:"alert,omitempty"`
	Tsunami *domain.TsunamiEvent `json:"tsunami,omitempty"`
	At      time.Time            `json:"at"`
}

// Publisher receives every change, typically to forward it to a message
// broker. Publish errors are logged and never stop the loop.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Engine is the single consumer of the connector mailbox.
type Engine struct {
	store     *store.EventStore
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	publisher Publisher

	mailbox chan domain.Envelope
	cmds    chan func()

	// Armed while an override session runs; nil otherwise, which blocks
	// that select arm.
	overrideDone <-chan time.Time

	display  atomic.Pointer[domain.DisplayRecord]
	stations atomic.Pointer[[]domain.StationReading]
	ready    atomic.Bool

	subMu sync.Mutex
	subs  map[chan Change]struct{}

	connMu     sync.Mutex
	connectors map[domain.SourceID]connector.Connector
}

// New creates an engine with a mailbox of the given size. publisher may be nil.
func New(st *store.EventStore, mailboxSize int, publisher Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	e := &Engine{
		store:      st,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		publisher:  publisher,
		mailbox:    make(chan domain.Envelope, mailboxSize),
		cmds:       make(chan func()),
		subs:       make(map[chan Change]struct{}),
		connectors: make(map[domain.SourceID]connector.Connector),
	}
	e.display.Store(&domain.DisplayRecord{TsunamiGrade: domain.GradeNone})
	return e
}

// Inject delivers an envelope to the mailbox without blocking: connectors must
// never stall on a slow engine, so a full mailbox drops the event.
func (e *Engine) Inject(env domain.Envelope) {
	select {
	case e.mailbox <- env:
		e.metrics.MailboxDepth.Set(float64(len(e.mailbox)))
	default:
		e.metrics.EventsDropped.Inc()
		e.logger.Warn("mailbox full, event dropped", "source", env.Source, "kind", env.Kind)
	}
}

// Register adds a connector to the status registry.
func (e *Engine) Register(c connector.Connector) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	e.connectors[c.Source()] = c
}

// ConnectionStatus returns the current state of every registered connector.
func (e *Engine) ConnectionStatus() map[domain.SourceID]domain.ConnectionState {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	out := make(map[domain.SourceID]domain.ConnectionState, len(e.connectors))
	for id, c := range e.connectors {
		out[id] = c.State()
	}
	return out
}

// Display returns the current display record snapshot. Safe from any goroutine.
func (e *Engine) Display() domain.DisplayRecord {
	return *e.display.Load()
}

// Stations returns the latest station snapshot, or nil before the first one.
func (e *Engine) Stations() []domain.StationReading {
	if p := e.stations.Load(); p != nil {
		return *p
	}
	return nil
}

// CheckReadiness returns nil once the engine has applied at least one event.
func (e *Engine) CheckReadiness(_ context.Context) error {
	if !e.ready.Load() {
		return errors.New("engine has not processed any events yet")
	}
	return nil
}

// Subscribe registers a change listener. Changes a slow subscriber cannot
// keep up with are dropped, never queued unbounded.
func (e *Engine) Subscribe() <-chan Change {
	ch := make(chan Change, subscriberBuffer)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Engine) Unsubscribe(ch <-chan Change) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for sub := range e.subs {
		if sub == ch {
			delete(e.subs, sub)
			close(sub)
			return
		}
	}
}

// Alert returns the current early-warning alert, or nil.
func (e *Engine) Alert(ctx context.Context) (*domain.EewAlert, error) {
	var a *domain.EewAlert
	err := e.do(ctx, func() { a = e.store.Alert() })
	return a, err
}

// Events returns the combined display list.
func (e *Engine) Events(ctx context.Context) ([]domain.QuakeEvent, error) {
	var list []domain.QuakeEvent
	err := e.do(ctx, func() { list = e.store.DisplayList() })
	return list, err
}

// Select begins an override session pinning the given historical event.
func (e *Engine) Select(ctx context.Context, q domain.QuakeEvent) error {
	return e.do(ctx, func() {
		deadline := e.store.SelectHistorical(q)
		e.overrideDone = e.clock.After(deadline.Sub(e.clock.Now()))
		e.metrics.OverrideSessions.Inc()
		e.publish(ctx, Change{Trigger: TriggerOverride, At: e.clock.Now()})
	})
}

// Dismiss clears the current alert. Dismissal is always explicit.
func (e *Engine) Dismiss(ctx context.Context) error {
	return e.do(ctx, func() {
		e.store.DismissAlert()
		e.publish(ctx, Change{Trigger: TriggerDismiss, At: e.clock.Now()})
	})
}

// do runs fn on the engine goroutine and waits for it to complete.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the mailbox until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started", "mailbox_size", cap(e.mailbox))
	e.metrics.EngineRunning.Set(1)
	defer e.metrics.EngineRunning.Set(0)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", ctx.Err())
			return nil
		case env := <-e.mailbox:
			e.metrics.MailboxDepth.Set(float64(len(e.mailbox)))
			e.apply(ctx, env)
		case fn := <-e.cmds:
			fn()
		case <-e.overrideDone:
			e.overrideDone = nil
			if e.store.ExpireOverride() {
				e.publish(ctx, Change{Trigger: TriggerExpiry, At: e.clock.Now()})
			}
		}
	}
}

// apply folds one envelope into the store. A malformed envelope is counted
// and skipped; one bad event must never take the loop down.
func (e *Engine) apply(ctx context.Context, env domain.Envelope) {
	switch env.Kind {
	case domain.KindQuake:
		if env.Quake == nil {
			e.reject(env)
			return
		}
		e.store.InsertQuake(*env.Quake)
	case domain.KindAlert:
		if env.Alert == nil {
			e.reject(env)
			return
		}
		if !e.store.ApplyAlert(env.Alert) {
			return
		}
	case domain.KindTsunami:
		if env.Tsunami == nil {
			e.reject(env)
			return
		}
		e.store.ApplyTsunami(env.Tsunami)
		e.synthesize(env.Tsunami)
	case domain.KindStations:
		readings := env.Stations
		e.store.SetStations(readings)
		e.stations.Store(&readings)
	default:
		e.reject(env)
		return
	}

	e.ready.Store(true)
	e.publish(ctx, Change{Trigger: string(env.Kind), Source: env.Source, At: e.clock.Now()})
}

func (e *Engine) reject(env domain.Envelope) {
	e.metrics.ProtocolErrors.WithLabelValues(string(env.Source)).Inc()
	e.logger.Warn("invalid envelope, skipping", "source", env.Source, "kind", env.Kind)
}

// SeedHistory performs the one-time bulk load of historical events through
// the engine goroutine.
func (e *Engine) SeedHistory(ctx context.Context, events []domain.QuakeEvent) error {
	return e.do(ctx, func() {
		e.store.SeedHistory(events)
		e.publish(ctx, Change{Trigger: string(domain.KindQuake), Source: domain.SourceHistory, At: e.clock.Now()})
	})
}

// synthesize inserts a placeholder quake when a live tsunami bulletin arrives
// with no quake report near its time. The placeholder carries low-impact
// defaults and is marked so downstream consumers can suppress duplicates.
func (e *Engine) synthesize(t *domain.TsunamiEvent) {
	if t.Cancelled || t.EffectiveGrade() == domain.GradeNone {
		return
	}
	for _, q := range e.store.DisplayList() {
		if q.Synthetic {
			continue
		}
		gap := q.Time.Sub(t.Time)
		if gap < 0 {
			gap = -gap
		}
		if gap <= synthesisWindow {
			return
		}
	}

	place := ""
	if len(t.Areas) > 0 {
		place = t.Areas[0].Name
	}
	e.store.InsertQuake(domain.QuakeEvent{
		Source:       t.Source,
		Time:         t.Time,
		Place:        place,
		Magnitude:    1.0,
		DepthKm:      10,
		MaxIntensity: domain.IntensityUnknown,
		TsunamiFlag:  true,
		Comment:      "derived from tsunami bulletin",
		Synthetic:    true,
	})
	e.metrics.SyntheticQuakes.Inc()
}

// publish refreshes the display snapshot and notifies subscribers and the
// publisher. Every applied state change goes out; alert and tsunami updates
// matter to consumers even when they do not move the display record.
func (e *Engine) publish(ctx context.Context, c Change) {
	rec := e.store.Display()
	prev := e.display.Load()
	e.display.Store(&rec)
	if prev == nil || !displayEqual(*prev, rec) {
		e.metrics.DisplayUpdates.Inc()
	}

	c.Display = rec
	c.Alert = e.store.Alert()
	c.Tsunami = e.store.Tsunami()
	e.broadcast(c)
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, c); err != nil {
			e.logger.Warn("change publish failed", "error", err, "trigger", c.Trigger)
		}
	}
}

func (e *Engine) broadcast(c Change) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- c:
		default:
			e.metrics.SubscriberDrops.Inc()
		}
	}
}

func displayEqual(a, b domain.DisplayRecord) bool {
	if a.TsunamiGrade != b.TsunamiGrade || a.Pinned != b.Pinned || !a.PinExpiresAt.Equal(b.PinExpiresAt) {
		return false
	}
	if (a.Quake == nil) != (b.Quake == nil) {
		return false
	}
	if a.Quake == nil {
		return true
	}
	return a.Quake.Source == b.Quake.Source && a.Quake.Time.Equal(b.Quake.Time) && a.Quake.Place == b.Quake.Place
}
