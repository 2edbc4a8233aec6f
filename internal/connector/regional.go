package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
)

// Regional push messages carry no type field; each message is discriminated
// by which schema key is present.
type regionalMessage struct {
	Heartbeat json.RawMessage `json:"heartbeat"`
	JmaEew    *regionalEew    `json:"jma_eew"`
	ScEew     *regionalEew    `json:"sc_eew"`
	FjEew     *regionalEew    `json:"fj_eew"`
}

type regionalEew struct {
	EventID      string  `json:"event_id"`
	Serial       int     `json:"serial"`
	OriginTime   string  `json:"origin_time"`
	Hypocenter   string  `json:"hypocenter"`
	Magnitude    float64 `json:"magnitude"`
	Depth        float64 `json:"depth"`
	MaxIntensity int     `json:"max_intensity"`
	IsFinal      bool    `json:"is_final"`
	IsCancel     bool    `json:"is_cancel"`
	IsTraining   bool    `json:"is_training"`
}

const regionalTimeLayout = "2006-01-02 15:04:05"

// NewRegionalPush creates one of the regional early-warning push connectors.
// These apply exponential backoff on close and are gated on leader ownership.
func NewRegionalPush(
	source domain.SourceID,
	url string,
	floor, ceiling time.Duration,
	emit Emitter,
	gate Gate,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *WSConnector {
	return NewWSConnector(source, url, decodeRegional(source),
		newExpBackoff(floor, ceiling), emit, gate, clock, logger, metrics)
}

// decodeRegional builds the DecodeFunc for one regional source. Heartbeats
// and schema keys belonging to other feeds decode to nil.
func decodeRegional(source domain.SourceID) DecodeFunc {
	return func(data []byte) (*domain.Envelope, error) {
		var msg regionalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("regional message: %w", err)
		}
		if msg.Heartbeat != nil {
			return nil, nil
		}

		var eew *regionalEew
		switch source {
		case domain.SourceRegionalJMA:
			eew = msg.JmaEew
		case domain.SourceRegionalSC:
			eew = msg.ScEew
		case domain.SourceRegionalFJ:
			eew = msg.FjEew
		}
		if eew == nil {
			return nil, nil
		}

		t, err := time.Parse(regionalTimeLayout, eew.OriginTime)
		if err != nil {
			return nil, fmt.Errorf("regional origin time: %w", err)
		}

		return &domain.Envelope{
			Source: source,
			Kind:   domain.KindAlert,
			Alert: &domain.EewAlert{
				Source:       source,
				EventID:      eew.EventID,
				Serial:       eew.Serial,
				Time:         t,
				Hypocenter:   eew.Hypocenter,
				Magnitude:    eew.Magnitude,
				DepthKm:      eew.Depth,
				MaxIntensity: eew.MaxIntensity,
				Final:        eew.IsFinal,
				Cancelled:    eew.IsCancel,
				Training:     eew.IsTraining,
			},
		}, nil
	}
}

// Regional poll feed: quake reports fetched on a fixed interval. The response
// is either a single object or an array whose first element is used.

type regionalPollRecord struct {
	Time      string  `json:"time"`
	Location  string  `json:"location"`
	Magnitude float64 `json:"magnitude"`
	Depth     float64 `json:"depth"`
	Intensity int     `json:"intensity"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewRegionalPoll creates the fixed-interval JSON poll connector.
func NewRegionalPoll(
	url string,
	interval time.Duration,
	emit Emitter,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *PollConnector {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	poll := func(ctx context.Context) ([]domain.Envelope, error) {
		return pollRegional(ctx, httpClient, url)
	}
	return NewPollConnector(domain.SourceCENC, interval, 0, poll, emit, clock, logger, metrics)
}

func pollRegional(ctx context.Context, client *http.Client, url string) ([]domain.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("regional poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("regional poll: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("regional poll body: %w", err)
	}

	rec, err := firstRegionalRecord(body)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	t, err := time.Parse(regionalTimeLayout, rec.Time)
	if err != nil {
		return nil, fmt.Errorf("regional poll time: %w", err)
	}

	return []domain.Envelope{{
		Source: domain.SourceCENC,
		Kind:   domain.KindQuake,
		Quake: &domain.QuakeEvent{
			Source:       domain.SourceCENC,
			Time:         t,
			Place:        rec.Location,
			Lat:          rec.Latitude,
			Lon:          rec.Longitude,
			DepthKm:      rec.Depth,
			Magnitude:    rec.Magnitude,
			MaxIntensity: rec.Intensity,
		},
	}}, nil
}

// firstRegionalRecord handles the object-or-array response shape.
func firstRegionalRecord(body []byte) (*regionalPollRecord, error) {
	var list []regionalPollRecord
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}

	var rec regionalPollRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("regional poll record: %w", err)
	}
	return &rec, nil
}
