package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testStations() []domain.StationReading {
	return []domain.StationReading{
		{ID: 1, Lat: 35.75, Lon: 129.75, Intensity: 3},
		{ID: 2, Lat: 34.25, Lon: 125.5, Intensity: 0},
	}
}

func newSnapshotServer(t *testing.T, coord, intensity map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/coord/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := coord[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body) //nolint:errcheck
	})
	mux.HandleFunc("/intensity/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := intensity[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body) //nolint:errcheck
	})
	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(srv.URL+"/coord", srv.URL+"/intensity", 2*time.Second, slog.Default())
}

func TestClient_Fetch(t *testing.T) {
	stations := testStations()
	srv := newSnapshotServer(t,
		map[string][]byte{"/coord/20260314092653": encodeCoords(stations)},
		map[string][]byte{"/intensity/20260314092653": encodeIntensities(stations)},
	)
	defer srv.Close()

	snap, err := newTestClient(srv).Fetch(context.Background(), snapTime)
	require.NoError(t, err)
	assert.False(t, snap.Delayed)
	require.Len(t, snap.Stations, 2)
	assert.Equal(t, 3, snap.Stations[0].Intensity)
}

func TestClient_Fetch_FallsBackOneMinute(t *testing.T) {
	stations := testStations()
	srv := newSnapshotServer(t,
		// Only the T-60s snapshot exists.
		map[string][]byte{"/coord/20260314092553": encodeCoords(stations)},
		map[string][]byte{"/intensity/20260314092553": encodeIntensities(stations)},
	)
	defer srv.Close()

	snap, err := newTestClient(srv).Fetch(context.Background(), snapTime)
	require.NoError(t, err)
	assert.True(t, snap.Delayed)
	require.Len(t, snap.Stations, 2)
}

func TestClient_Fetch_BothTimestampsMissing(t *testing.T) {
	srv := newSnapshotServer(t, map[string][]byte{}, map[string][]byte{})
	defer srv.Close()

	_, err := newTestClient(srv).Fetch(context.Background(), snapTime)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlocked)
}

func TestClient_Fetch_HTMLBodyMeansBlocked(t *testing.T) {
	blockPage := []byte("<!DOCTYPE html><html><body>429 Too Many Requests</body></html>")
	srv := newSnapshotServer(t,
		map[string][]byte{"/coord/20260314092653": blockPage},
		map[string][]byte{},
	)
	defer srv.Close()

	_, err := newTestClient(srv).Fetch(context.Background(), snapTime)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestClient_Fetch_IntensityFailureDefaultsToZero(t *testing.T) {
	stations := testStations()
	srv := newSnapshotServer(t,
		map[string][]byte{"/coord/20260314092653": encodeCoords(stations)},
		map[string][]byte{}, // intensity endpoint 404s
	)
	defer srv.Close()

	snap, err := newTestClient(srv).Fetch(context.Background(), snapTime)
	require.NoError(t, err)
	require.Len(t, snap.Stations, 2)
	assert.Zero(t, snap.Stations[0].Intensity)
	assert.Zero(t, snap.Stations[1].Intensity)
}
