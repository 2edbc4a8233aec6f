// Package store holds the authoritative in-memory state the display layer
// renders from. The store is logically owned by the reconciliation engine:
// every method is called from the engine goroutine only, which is what lets
// it stay lock-free. Other goroutines see state through the snapshots the
// engine publishes.
package store

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
)

const (
	// Live quake window: rolling 2 days, newest first, capped.
	quakeWindow = 48 * time.Hour
	quakeCap    = 50

	// History seed window, applied once at bulk load.
	historyWindow = 15 * 24 * time.Hour
	historyCap    = 15

	// Combined multi-source display list cap.
	displayCap = 30

	// OverrideTTL is how long a selected historical event stays pinned.
	OverrideTTL = 15 * time.Second
)

// EventStore is the single current-state record set: the recent-quake window,
// the current alert and tsunami records, and the display override session.
type EventStore struct {
	clock clockwork.Clock

	quakes  []domain.QuakeEvent // newest first
	history []domain.QuakeEvent // newest first, seeded once

	alert   *domain.EewAlert
	tsunami *domain.TsunamiEvent

	stations []domain.StationReading

	override *overrideSession
}

type overrideSession struct {
	quake     domain.QuakeEvent
	expiresAt time.Time
}

// New creates an empty store on the given clock.
func New(clock clockwork.Clock) *EventStore {
	return &EventStore{clock: clock}
}

// InsertQuake adds a live quake event to the rolling window: anything older
// than the window is dropped, the new event is prepended, and the list is
// capped newest-first. Duplicate-time events collapse in DisplayList.
func (s *EventStore) InsertQuake(q domain.QuakeEvent) {
	cutoff := s.clock.Now().Add(-quakeWindow)

	kept := make([]domain.QuakeEvent, 0, len(s.quakes)+1)
	kept = append(kept, q)
	for _, old := range s.quakes {
		if old.Time.Before(cutoff) {
			continue
		}
		kept = append(kept, old)
	}
	if len(kept) > quakeCap {
		kept = kept[:quakeCap]
	}
	s.quakes = kept
}

// SeedHistory performs the one-time bulk load of historical events, filtered
// to the history window and capped.
func (s *EventStore) SeedHistory(events []domain.QuakeEvent) {
	cutoff := s.clock.Now().Add(-historyWindow)

	kept := make([]domain.QuakeEvent, 0, len(events))
	for _, e := range events {
		if e.Time.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Time.After(kept[j].Time) })
	if len(kept) > historyCap {
		kept = kept[:historyCap]
	}
	s.history = kept
}

// DisplayList merges live and seeded events into the combined display list:
// sorted by time descending, duplicate times collapsed (last write wins), and
// capped. Only fields shared by every source shape participate in ordering.
func (s *EventStore) DisplayList() []domain.QuakeEvent {
	merged := make([]domain.QuakeEvent, 0, len(s.quakes)+len(s.history))
	seen := make(map[int64]bool, len(s.quakes)+len(s.history))

	// Live events take precedence over history at the same timestamp, so
	// they are merged first.
	for _, list := range [][]domain.QuakeEvent{s.quakes, s.history} {
		for _, e := range list {
			key := e.Time.UnixNano()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Time.After(merged[j].Time) })
	if len(merged) > displayCap {
		merged = merged[:displayCap]
	}
	return merged
}

// ApplyAlert installs a new alert if it supersedes the current one.
// Returns true when the record changed.
func (s *EventStore) ApplyAlert(a *domain.EewAlert) bool {
	if !a.Supersedes(s.alert) {
		return false
	}
	s.alert = a
	return true
}

// DismissAlert clears the current alert; dismissal is an explicit external
// action, never automatic expiry.
func (s *EventStore) DismissAlert() {
	s.alert = nil
}

// Alert returns the current alert, or nil.
func (s *EventStore) Alert() *domain.EewAlert { return s.alert }

// ApplyTsunami replaces the current tsunami bulletin wholesale.
func (s *EventStore) ApplyTsunami(t *domain.TsunamiEvent) {
	s.tsunami = t
}

// Tsunami returns the current tsunami bulletin, or nil.
func (s *EventStore) Tsunami() *domain.TsunamiEvent { return s.tsunami }

// SetStations replaces the station snapshot wholesale.
func (s *EventStore) SetStations(readings []domain.StationReading) {
	s.stations = readings
}

// Stations returns the latest station snapshot.
func (s *EventStore) Stations() []domain.StationReading { return s.stations }

// SelectHistorical pins a historical event as the display record for
// OverrideTTL. Selecting again while pinned starts a fresh session. Returns
// the session deadline the caller should arm its timer with.
func (s *EventStore) SelectHistorical(q domain.QuakeEvent) time.Time {
	deadline := s.clock.Now().Add(OverrideTTL)
	s.override = &overrideSession{quake: q, expiresAt: deadline}
	return deadline
}

// ExpireOverride ends the override session if its deadline has passed.
// Returns true when a session actually ended.
func (s *EventStore) ExpireOverride() bool {
	if s.override == nil || s.clock.Now().Before(s.override.expiresAt) {
		return false
	}
	s.override = nil
	return true
}

// OverrideActive reports whether a pinned session is in effect.
func (s *EventStore) OverrideActive() bool { return s.override != nil }

// Display derives the single active display record: the pinned historical
// event while an override session runs, otherwise the latest event from the
// combined list paired with the effective tsunami grade.
func (s *EventStore) Display() domain.DisplayRecord {
	if s.override != nil {
		q := s.override.quake
		return domain.DisplayRecord{
			Quake:        &q,
			TsunamiGrade: s.tsunami.EffectiveGrade(),
			Pinned:       true,
			PinExpiresAt: s.override.expiresAt,
		}
	}

	rec := domain.DisplayRecord{TsunamiGrade: s.tsunami.EffectiveGrade()}
	if list := s.DisplayList(); len(list) > 0 {
		rec.Quake = &list[0]
	}
	return rec
}
