package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
)

const regionalEewJSON = `{"jma_eew": {
	"event_id": "evt-9",
	"serial": 2,
	"origin_time": "2026-03-14 09:26:53",
	"hypocenter": "Off the coast",
	"magnitude": 6.8,
	"depth": 30,
	"max_intensity": 5,
	"is_final": true,
	"is_cancel": false,
	"is_training": false
}}`

func TestDecodeRegional_MatchingSchemaKey(t *testing.T) {
	env, err := decodeRegional(domain.SourceRegionalJMA)([]byte(regionalEewJSON))
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, domain.KindAlert, env.Kind)

	a := env.Alert
	assert.Equal(t, domain.SourceRegionalJMA, a.Source)
	assert.Equal(t, "evt-9", a.EventID)
	assert.Equal(t, 2, a.Serial)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC), a.Time)
	assert.True(t, a.Final)
}

func TestDecodeRegional_OtherFeedsSchemaKeySkipped(t *testing.T) {
	// The same payload on the SC connector carries nothing for it.
	env, err := decodeRegional(domain.SourceRegionalSC)([]byte(regionalEewJSON))
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestDecodeRegional_HeartbeatSkipped(t *testing.T) {
	env, err := decodeRegional(domain.SourceRegionalJMA)([]byte(`{"heartbeat": "2026-03-14 09:00:00"}`))
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestDecodeRegional_Malformed(t *testing.T) {
	_, err := decodeRegional(domain.SourceRegionalJMA)([]byte(`{`))
	assert.Error(t, err)
}

func TestPollRegional_ArrayUsesFirstElement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[
			{"time": "2026-03-14 08:00:00", "location": "Taiwan region", "magnitude": 5.1, "depth": 12, "intensity": 4, "latitude": 23.9, "longitude": 121.5},
			{"time": "2026-03-13 21:00:00", "location": "older", "magnitude": 3.0, "depth": 8, "intensity": 1, "latitude": 30.0, "longitude": 120.0}
		]`)) //nolint:errcheck
	}))
	defer srv.Close()

	envs, err := pollRegional(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "Taiwan region", envs[0].Quake.Place)
	assert.Equal(t, 5.1, envs[0].Quake.Magnitude)
}

func TestPollRegional_SingleObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"time": "2026-03-14 08:00:00", "location": "Sichuan", "magnitude": 4.2, "depth": 10, "intensity": 3, "latitude": 30.6, "longitude": 104.0}`)) //nolint:errcheck
	}))
	defer srv.Close()

	envs, err := pollRegional(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "Sichuan", envs[0].Quake.Place)
}

func TestPollRegional_EmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`)) //nolint:errcheck
	}))
	defer srv.Close()

	envs, err := pollRegional(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, envs)
}
