package connector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
	"github.com/couchcryptid/seismic-feed-hub/internal/telemetry"
)

// PollFunc performs one poll cycle and returns the envelopes to emit.
// Returning telemetry.ErrBlocked moves the connector into the Blocked state
// for the configured cool-down.
type PollFunc func(ctx context.Context) ([]domain.Envelope, error)

// PollConnector polls a source on a fixed interval. Each poll is independent;
// no backoff state is carried between polls. The only stateful failure mode
// is the Blocked cool-down after a rate-limit response.
type PollConnector struct {
	source   domain.SourceID
	interval time.Duration
	cooldown time.Duration
	poll     PollFunc
	emit     Emitter
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	st       *connState
}

// NewPollConnector creates a poll-style connector. cooldown only matters for
// sources whose PollFunc can report telemetry.ErrBlocked.
func NewPollConnector(
	source domain.SourceID,
	interval, cooldown time.Duration,
	poll PollFunc,
	emit Emitter,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *PollConnector {
	return &PollConnector{
		source:   source,
		interval: interval,
		cooldown: cooldown,
		poll:     poll,
		emit:     emit,
		clock:    clock,
		logger:   logger.With("source", source),
		metrics:  metrics,
		st:       newConnState(clock),
	}
}

func (c *PollConnector) Source() domain.SourceID       { return c.source }
func (c *PollConnector) State() domain.ConnectionState { return c.st.get() }

// Run polls immediately, then on every interval tick until ctx is cancelled.
func (c *PollConnector) Run(ctx context.Context) {
	for {
		c.pollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, c.clock, c.interval) {
			return
		}
	}
}

func (c *PollConnector) pollOnce(ctx context.Context) {
	envs, err := c.poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, telemetry.ErrBlocked) {
			c.coolDown(ctx)
			return
		}
		// Availability flag only; the next poll starts fresh.
		c.st.disconnected(c.interval)
		c.logger.Warn("poll failed", "error", err)
		return
	}

	c.st.connected()
	c.st.success()
	for _, env := range envs {
		c.metrics.EventsIngested.WithLabelValues(string(c.source), string(env.Kind)).Inc()
		c.emit(env)
	}
}

// coolDown suppresses polling for the blocked window. Not surfaced as a hard
// error, only as the Blocked availability status.
func (c *PollConnector) coolDown(ctx context.Context) {
	c.st.blocked(c.cooldown)
	c.metrics.SourceBlocked.WithLabelValues(string(c.source)).Set(1)
	c.logger.Warn("source is rate-limiting, cooling down", "cooldown", c.cooldown)

	sleepCtx(ctx, c.clock, c.cooldown)

	c.metrics.SourceBlocked.WithLabelValues(string(c.source)).Set(0)
	c.st.disconnected(0)
}
