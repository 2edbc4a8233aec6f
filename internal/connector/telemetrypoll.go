package connector

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
	"github.com/couchcryptid/seismic-feed-hub/internal/telemetry"
)

// Snapshots publish with a short upstream lag; polling the current second
// would always miss, so polls target now minus this offset.
const snapshotLag = 2 * time.Second

// NewTelemetryPoll creates the station-telemetry poll connector. It fetches
// the paired binary snapshot for each tick and enters the Blocked cool-down
// when the endpoint answers with its HTML rate-limit page.
func NewTelemetryPoll(
	client *telemetry.Client,
	interval, cooldown time.Duration,
	emit Emitter,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *PollConnector {
	poll := func(ctx context.Context) ([]domain.Envelope, error) {
		start := clock.Now()
		snap, err := client.Fetch(ctx, start.Add(-snapshotLag))
		if err != nil {
			return nil, err
		}
		metrics.SnapshotDuration.Observe(clock.Since(start).Seconds())
		if snap.Delayed {
			metrics.SnapshotDelayed.Inc()
		}
		return []domain.Envelope{{
			Source:   domain.SourceKmoni,
			Kind:     domain.KindStations,
			Stations: snap.Stations,
		}}, nil
	}
	return NewPollConnector(domain.SourceKmoni, interval, cooldown, poll, emit, clock, logger, metrics)
}
