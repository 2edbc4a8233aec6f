package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
)

// ErrBlocked is returned when an endpoint answers with HTML instead of the
// binary payload, which the upstream does when it is rate-limiting scripted
// access. Callers should cool down rather than retry.
var ErrBlocked = errors.New("telemetry: endpoint returned HTML, likely rate-limited")

// Snapshot is one decoded station snapshot.
type Snapshot struct {
	Time     time.Time
	Stations []domain.StationReading

	// Delayed is set when the current timestamp failed and the snapshot was
	// fetched from the 1-minute-delayed fallback instead.
	Delayed bool
}

// Client fetches and decodes station snapshots from the two timestamped
// binary endpoints.
type Client struct {
	coordURL     string // base URL; "<yyyyMMddHHmmss>" path segment appended
	intensityURL string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates a snapshot client. URLs are bases to which the
// timestamp-formatted path is appended.
func NewClient(coordURL, intensityURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		coordURL:     coordURL,
		intensityURL: intensityURL,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Fetch retrieves the snapshot for t (UTC, second precision). If the
// coordinate fetch for t fails it retries once against t-60s before giving
// up. A failed intensity fetch never fails the snapshot; intensities default
// to zero. Returns ErrBlocked when the endpoint is serving HTML.
func (c *Client) Fetch(ctx context.Context, t time.Time) (Snapshot, error) {
	snap, err := c.fetchAt(ctx, t)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, ErrBlocked) {
		return Snapshot{}, err
	}

	delayed := t.Add(-60 * time.Second)
	c.logger.Debug("snapshot fetch failed, retrying 1min delayed",
		"ts", timestampPath(t), "error", err)

	snap, err2 := c.fetchAt(ctx, delayed)
	if err2 != nil {
		return Snapshot{}, fmt.Errorf("fetch snapshot (current and 1min-delayed): %w", err)
	}
	snap.Delayed = true
	return snap, nil
}

func (c *Client) fetchAt(ctx context.Context, t time.Time) (Snapshot, error) {
	ts := timestampPath(t)

	coord, err := c.get(ctx, c.coordURL+"/"+ts)
	if err != nil {
		return Snapshot{}, fmt.Errorf("coordinate payload: %w", err)
	}
	if looksLikeHTML(coord) {
		return Snapshot{}, ErrBlocked
	}

	// Intensity is best-effort: stations decode with intensity 0 on failure.
	intensity, err := c.get(ctx, c.intensityURL+"/"+ts)
	if err != nil {
		c.logger.Debug("intensity payload fetch failed, defaulting to zero", "ts", ts, "error", err)
		intensity = nil
	} else if looksLikeHTML(intensity) {
		intensity = nil
	}

	stations, err := DecodeStations(coord, intensity)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", ts, err)
	}
	return Snapshot{Time: t, Stations: stations}, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// timestampPath formats t as the yyyyMMddHHmmss UTC path segment the
// endpoints key snapshots by.
func timestampPath(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

var htmlMarkers = [][]byte{[]byte("<html"), []byte("<!doctype")}

// looksLikeHTML reports whether the body starts like an HTML document. The
// endpoints serve an HTML block page instead of an error status when they
// rate-limit, so this is the only blocked signal available.
func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(head)
	for _, m := range htmlMarkers {
		if bytes.Contains(head, m) {
			return true
		}
	}
	return false
}
