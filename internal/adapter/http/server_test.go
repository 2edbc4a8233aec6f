package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/seismic-feed-hub/internal/adapter/http"
	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/engine"
)

type fakeHub struct {
	readyErr error
	display  domain.DisplayRecord
	stations []domain.StationReading
	status   map[domain.SourceID]domain.ConnectionState
	alert    *domain.EewAlert
	events   []domain.QuakeEvent

	selected  *domain.QuakeEvent
	dismissed bool
	changes   chan engine.Change
}

func (h *fakeHub) CheckReadiness(context.Context) error { return h.readyErr }
func (h *fakeHub) Display() domain.DisplayRecord        { return h.display }
func (h *fakeHub) Stations() []domain.StationReading    { return h.stations }

func (h *fakeHub) ConnectionStatus() map[domain.SourceID]domain.ConnectionState {
	return h.status
}

func (h *fakeHub) Alert(context.Context) (*domain.EewAlert, error) { return h.alert, nil }

func (h *fakeHub) Events(context.Context) ([]domain.QuakeEvent, error) { return h.events, nil }

func (h *fakeHub) Select(_ context.Context, q domain.QuakeEvent) error {
	h.selected = &q
	return nil
}

func (h *fakeHub) Dismiss(context.Context) error {
	h.dismissed = true
	return nil
}

func (h *fakeHub) Subscribe() <-chan engine.Change { return h.changes }

func (h *fakeHub) Unsubscribe(<-chan engine.Change) {}

func newTestServer(hub *fakeHub) *httpadapter.Server {
	return httpadapter.NewServer(":0", hub, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(&fakeHub{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReflectsEngineState(t *testing.T) {
	srv := newTestServer(&fakeHub{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(&fakeHub{readyErr: fmt.Errorf("no events yet")})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "no events yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeHub{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusListsConnectionStates(t *testing.T) {
	srv := newTestServer(&fakeHub{status: map[domain.SourceID]domain.ConnectionState{
		domain.SourcePrimary: {Status: domain.StatusConnected},
		domain.SourceKmoni:   {Status: domain.StatusBlocked},
	}})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]domain.ConnectionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.StatusConnected, body["primary"].Status)
	assert.Equal(t, domain.StatusBlocked, body["kmoni"].Status)
}

func TestCurrentReturnsDisplayRecord(t *testing.T) {
	srv := newTestServer(&fakeHub{display: domain.DisplayRecord{
		TsunamiGrade: domain.GradeWatch,
		Quake:        &domain.QuakeEvent{Place: "offshore", Magnitude: 5.5},
	}})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/current", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body domain.DisplayRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.GradeWatch, body.TsunamiGrade)
	require.NotNil(t, body.Quake)
	assert.Equal(t, "offshore", body.Quake.Place)
}

func TestAlertEndpoint(t *testing.T) {
	srv := newTestServer(&fakeHub{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alert", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alert":null}`, rec.Body.String())

	srv = newTestServer(&fakeHub{alert: &domain.EewAlert{EventID: "evt-1", Serial: 3}})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alert", nil))
	assert.Contains(t, rec.Body.String(), `"event_id":"evt-1"`)
}

func TestStationsReturnsEmptyListBeforeFirstSnapshot(t *testing.T) {
	srv := newTestServer(&fakeHub{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stations", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSelectStartsOverride(t *testing.T) {
	hub := &fakeHub{}
	srv := newTestServer(hub)

	payload := `{"source":"history","time":"2026-03-10T12:00:00Z","place":"old event","magnitude":6.0}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/select", strings.NewReader(payload)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, hub.selected)
	assert.Equal(t, "old event", hub.selected.Place)
}

func TestSelectRejectsMissingTime(t *testing.T) {
	hub := &fakeHub{}
	srv := newTestServer(hub)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/select", strings.NewReader(`{"place":"no time"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, hub.selected)
}

func TestDismissClearsAlert(t *testing.T) {
	hub := &fakeHub{}
	srv := newTestServer(hub)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dismiss", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hub.dismissed)
}

func TestEventsStreamsChanges(t *testing.T) {
	hub := &fakeHub{changes: make(chan engine.Change, 1)}
	srv := newTestServer(hub)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	hub.changes <- engine.Change{
		Trigger: "quake",
		Source:  domain.SourcePrimary,
		Display: domain.DisplayRecord{Quake: &domain.QuakeEvent{Place: "streamed"}},
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: quake\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var c engine.Change
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &c))
	assert.Equal(t, "streamed", c.Display.Quake.Place)
}
