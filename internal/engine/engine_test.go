package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
	"github.com/couchcryptid/seismic-feed-hub/internal/store"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
}

func (p *recordingPublisher) Publish(_ context.Context, c Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.changes)
}

func (p *recordingPublisher) last() Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes[len(p.changes)-1]
}

// startEngine runs an engine on a fake clock and returns it with its clock
// and publisher. Shutdown is registered on t.Cleanup.
func startEngine(t *testing.T) (*Engine, *clockwork.FakeClock, *recordingPublisher) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}
	e := New(store.New(clock), 16, pub, clock, slog.Default(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, clock, pub
}

func quakeEnvelope(source domain.SourceID, at time.Time, place string) domain.Envelope {
	return domain.Envelope{
		Source: source,
		Kind:   domain.KindQuake,
		Quake: &domain.QuakeEvent{
			Source:    source,
			Time:      at,
			Place:     place,
			Magnitude: 5.2,
		},
	}
}

func TestEngine_QuakeUpdatesDisplay(t *testing.T) {
	e, clock, _ := startEngine(t)

	require.Error(t, e.CheckReadiness(context.Background()))

	e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now(), "offshore"))

	assert.Eventually(t, func() bool {
		rec := e.Display()
		return rec.Quake != nil && rec.Quake.Place == "offshore"
	}, time.Second, time.Millisecond)
	assert.NoError(t, e.CheckReadiness(context.Background()))
}

func TestEngine_InvalidEnvelopeDoesNotStopLoop(t *testing.T) {
	e, clock, _ := startEngine(t)

	// Kind says quake but the payload is missing.
	e.Inject(domain.Envelope{Source: domain.SourcePrimary, Kind: domain.KindQuake})
	e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now(), "after-bad"))

	assert.Eventually(t, func() bool {
		rec := e.Display()
		return rec.Quake != nil && rec.Quake.Place == "after-bad"
	}, time.Second, time.Millisecond)
}

func TestEngine_CancelledTsunamiResolvesToNone(t *testing.T) {
	e, clock, _ := startEngine(t)

	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindTsunami,
		Tsunami: &domain.TsunamiEvent{
			Source: domain.SourcePrimary,
			Time:   clock.Now(),
			Areas:  []domain.TsunamiArea{{Name: "East Coast", Grade: domain.GradeWarning}},
		},
	})
	assert.Eventually(t, func() bool {
		return e.Display().TsunamiGrade == domain.GradeWarning
	}, time.Second, time.Millisecond)

	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindTsunami,
		Tsunami: &domain.TsunamiEvent{
			Source:    domain.SourcePrimary,
			Time:      clock.Now(),
			Cancelled: true,
			Areas:     []domain.TsunamiArea{{Name: "East Coast", Grade: domain.GradeWarning}},
		},
	})
	assert.Eventually(t, func() bool {
		return e.Display().TsunamiGrade == domain.GradeNone
	}, time.Second, time.Millisecond)
}

func TestEngine_TsunamiOnlySynthesizesPlaceholderQuake(t *testing.T) {
	e, clock, _ := startEngine(t)

	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindTsunami,
		Tsunami: &domain.TsunamiEvent{
			Source: domain.SourcePrimary,
			Time:   clock.Now(),
			Areas:  []domain.TsunamiArea{{Name: "North Bay", Grade: domain.GradeWatch}},
		},
	})

	assert.Eventually(t, func() bool {
		rec := e.Display()
		return rec.Quake != nil && rec.Quake.Synthetic
	}, time.Second, time.Millisecond)

	rec := e.Display()
	assert.Equal(t, "North Bay", rec.Quake.Place, "first area names the placeholder")
	assert.Equal(t, 1.0, rec.Quake.Magnitude)
	assert.Equal(t, 10.0, rec.Quake.DepthKm)
	assert.True(t, rec.Quake.TsunamiFlag)
	assert.Equal(t, domain.GradeWatch, rec.TsunamiGrade)
}

func TestEngine_NoSynthesisWhenQuakeIsNearby(t *testing.T) {
	e, clock, _ := startEngine(t)

	e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now().Add(-5*time.Minute), "real event"))
	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindTsunami,
		Tsunami: &domain.TsunamiEvent{
			Source: domain.SourcePrimary,
			Time:   clock.Now(),
			Areas:  []domain.TsunamiArea{{Name: "North Bay", Grade: domain.GradeWatch}},
		},
	})

	assert.Eventually(t, func() bool {
		return e.Display().TsunamiGrade == domain.GradeWatch
	}, time.Second, time.Millisecond)

	events, err := e.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Synthetic)
}

func TestEngine_OverrideSessionExpires(t *testing.T) {
	e, clock, _ := startEngine(t)

	e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now(), "current"))
	assert.Eventually(t, func() bool { return e.Display().Quake != nil }, time.Second, time.Millisecond)

	historical := domain.QuakeEvent{
		Source:    domain.SourceHistory,
		Time:      clock.Now().Add(-20 * time.Hour),
		Place:     "pinned",
		Magnitude: 6.1,
	}
	require.NoError(t, e.Select(context.Background(), historical))

	rec := e.Display()
	assert.True(t, rec.Pinned)
	assert.Equal(t, "pinned", rec.Quake.Place)

	clock.Advance(store.OverrideTTL + time.Second)
	assert.Eventually(t, func() bool {
		rec := e.Display()
		return !rec.Pinned && rec.Quake.Place == "current"
	}, time.Second, time.Millisecond)
}

func TestEngine_DismissClearsAlert(t *testing.T) {
	e, clock, _ := startEngine(t)

	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindAlert,
		Alert: &domain.EewAlert{
			Source:  domain.SourcePrimary,
			EventID: "evt",
			Serial:  1,
			Time:    clock.Now(),
		},
	})
	assert.Eventually(t, func() bool {
		a, err := e.Alert(context.Background())
		return err == nil && a != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, e.Dismiss(context.Background()))
	a, err := e.Alert(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestEngine_SubscribeReceivesChanges(t *testing.T) {
	e, clock, _ := startEngine(t)

	ch := e.Subscribe()
	e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now(), "notify me"))

	select {
	case c := <-ch:
		assert.Equal(t, string(domain.KindQuake), c.Trigger)
		assert.Equal(t, domain.SourcePrimary, c.Source)
		require.NotNil(t, c.Display.Quake)
		assert.Equal(t, "notify me", c.Display.Quake.Place)
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}

	e.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open, "unsubscribed channel is closed")
}

func TestEngine_PublisherReceivesAppliedChanges(t *testing.T) {
	e, clock, pub := startEngine(t)

	at := clock.Now()
	e.Inject(quakeEnvelope(domain.SourcePrimary, at, "first"))
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)

	e.Inject(quakeEnvelope(domain.SourcePrimary, at.Add(time.Minute), "newer"))
	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "newer", pub.last().Display.Quake.Place)
}

func TestEngine_StaleAlertPublishesNothing(t *testing.T) {
	e, clock, pub := startEngine(t)

	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindAlert,
		Alert:  &domain.EewAlert{Source: domain.SourcePrimary, EventID: "evt", Serial: 3, Time: clock.Now()},
	})
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
	require.NotNil(t, pub.last().Alert)
	assert.Equal(t, 3, pub.last().Alert.Serial)

	// An out-of-date serial for the same event is discarded silently. The
	// quake injected after it confirms the mailbox drained past the stale
	// alert without publishing it.
	e.Inject(domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindAlert,
		Alert:  &domain.EewAlert{Source: domain.SourcePrimary, EventID: "evt", Serial: 2, Time: clock.Now()},
	})
	e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now(), "marker"))
	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, time.Millisecond)

	a, err := e.Alert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, a.Serial)
}

func TestEngine_SeedHistoryFillsEventList(t *testing.T) {
	e, clock, _ := startEngine(t)

	require.NoError(t, e.SeedHistory(context.Background(), []domain.QuakeEvent{
		{Source: domain.SourceHistory, Time: clock.Now().Add(-24 * time.Hour), Place: "yesterday"},
		{Source: domain.SourceHistory, Time: clock.Now().Add(-48 * time.Hour), Place: "two days ago"},
	}))

	events, err := e.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "yesterday", events[0].Place)
}

func TestEngine_MailboxOverflowDrops(t *testing.T) {
	// Engine deliberately not running: the mailbox fills and overflow drops.
	clock := clockwork.NewFakeClock()
	e := New(store.New(clock), 2, nil, clock, slog.Default(), observability.NewMetricsForTesting())

	for i := 0; i < 5; i++ {
		e.Inject(quakeEnvelope(domain.SourcePrimary, clock.Now(), "flood"))
	}
	assert.Len(t, e.mailbox, 2, "extra events dropped, Inject never blocks")
}
