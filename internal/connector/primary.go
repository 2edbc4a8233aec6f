package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
)

// Primary feed message codes.
const (
	codeQuakeReport     = 551
	codeTsunamiBulletin = 552
	codeEarlyWarning    = 556
)

const primaryTimeLayout = "2006/01/02 15:04:05"

// NewPrimary creates the connector for the primary push feed. Disconnects are
// assumed to be transient blips, so it retries on a fixed short delay instead
// of backing off.
func NewPrimary(url string, retryDelay time.Duration, emit Emitter, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *WSConnector {
	return NewWSConnector(domain.SourcePrimary, url, DecodePrimary,
		newFixedRetry(retryDelay), emit, nil, clock, logger, metrics)
}

// Primary feed wire types. Messages share an envelope discriminated by the
// integer code field.

type primaryMessage struct {
	Code       int                `json:"code"`
	Time       string             `json:"time"`
	Cancelled  bool               `json:"cancelled"`
	Test       bool               `json:"test"`
	Issue      *primaryIssue      `json:"issue"`
	Earthquake *primaryEarthquake `json:"earthquake"`
	Points     []primaryPoint     `json:"points"`
	Areas      json.RawMessage    `json:"areas"`
}

type primaryIssue struct {
	EventID string `json:"eventId"`
	Serial  int    `json:"serial"`
}

type primaryEarthquake struct {
	Time            string            `json:"time"`
	MaxScale        int               `json:"maxScale"`
	DomesticTsunami string            `json:"domesticTsunami"`
	Hypocenter      primaryHypocenter `json:"hypocenter"`
}

type primaryHypocenter struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     float64 `json:"depth"`
	Magnitude float64 `json:"magnitude"`
}

type primaryPoint struct {
	Addr  string `json:"addr"`
	Pref  string `json:"pref"`
	Scale int    `json:"scale"`
}

type primaryWarnArea struct {
	Name        string `json:"name"`
	ScaleTo     int    `json:"scaleTo"`
	ArrivalTime string `json:"arrivalTime"`
	Arrived     bool   `json:"arrived"`
}

type primaryTsunamiArea struct {
	Name      string `json:"name"`
	Grade     string `json:"grade"`
	MaxHeight *struct {
		Value float64 `json:"value"`
	} `json:"maxHeight"`
}

// DecodePrimary normalizes one primary-feed message. Unknown codes decode to
// a nil envelope and are skipped without error.
func DecodePrimary(data []byte) (*domain.Envelope, error) {
	var msg primaryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("primary message: %w", err)
	}

	switch msg.Code {
	case codeQuakeReport:
		return decodePrimaryQuake(msg)
	case codeTsunamiBulletin:
		return decodePrimaryTsunami(msg)
	case codeEarlyWarning:
		return decodePrimaryAlert(msg)
	default:
		return nil, nil
	}
}

func decodePrimaryQuake(msg primaryMessage) (*domain.Envelope, error) {
	if msg.Earthquake == nil {
		return nil, fmt.Errorf("quake report without earthquake body")
	}
	t, err := parsePrimaryTime(msg.Earthquake.Time)
	if err != nil {
		return nil, fmt.Errorf("quake report time: %w", err)
	}

	points := make([]domain.AffectedPoint, 0, len(msg.Points))
	for _, p := range msg.Points {
		points = append(points, domain.AffectedPoint{
			Addr:      p.Addr,
			Pref:      p.Pref,
			Intensity: p.Scale,
		})
	}

	hypo := msg.Earthquake.Hypocenter
	return &domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindQuake,
		Quake: &domain.QuakeEvent{
			Source:       domain.SourcePrimary,
			Time:         t,
			Place:        hypo.Name,
			Lat:          hypo.Latitude,
			Lon:          hypo.Longitude,
			DepthKm:      hypo.Depth,
			Magnitude:    hypo.Magnitude,
			MaxIntensity: msg.Earthquake.MaxScale,
			TsunamiFlag:  msg.Earthquake.DomesticTsunami == "Warning" || msg.Earthquake.DomesticTsunami == "Watch",
			Points:       points,
		},
	}, nil
}

func decodePrimaryTsunami(msg primaryMessage) (*domain.Envelope, error) {
	t, err := parsePrimaryTime(msg.Time)
	if err != nil {
		return nil, fmt.Errorf("tsunami bulletin time: %w", err)
	}

	var rawAreas []primaryTsunamiArea
	if len(msg.Areas) > 0 {
		if err := json.Unmarshal(msg.Areas, &rawAreas); err != nil {
			return nil, fmt.Errorf("tsunami areas: %w", err)
		}
	}

	areas := make([]domain.TsunamiArea, 0, len(rawAreas))
	for _, a := range rawAreas {
		area := domain.TsunamiArea{Name: a.Name, Grade: tsunamiGrade(a.Grade)}
		if a.MaxHeight != nil {
			area.HeightM = a.MaxHeight.Value
		}
		areas = append(areas, area)
	}

	return &domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindTsunami,
		Tsunami: &domain.TsunamiEvent{
			Source:    domain.SourcePrimary,
			Time:      t,
			Cancelled: msg.Cancelled,
			Areas:     areas,
		},
	}, nil
}

func decodePrimaryAlert(msg primaryMessage) (*domain.Envelope, error) {
	if msg.Issue == nil || msg.Earthquake == nil {
		return nil, fmt.Errorf("early warning without issue or earthquake body")
	}
	t, err := parsePrimaryTime(msg.Earthquake.Time)
	if err != nil {
		return nil, fmt.Errorf("early warning time: %w", err)
	}

	var rawAreas []primaryWarnArea
	if len(msg.Areas) > 0 {
		if err := json.Unmarshal(msg.Areas, &rawAreas); err != nil {
			return nil, fmt.Errorf("warn areas: %w", err)
		}
	}

	areas := make([]domain.WarnArea, 0, len(rawAreas))
	maxIntensity := 0
	for _, a := range rawAreas {
		wa := domain.WarnArea{
			Name:      a.Name,
			Arrived:   a.Arrived,
			Intensity: a.ScaleTo,
		}
		if a.ArrivalTime != "" {
			if at, err := parsePrimaryTime(a.ArrivalTime); err == nil {
				wa.ArrivalTime = at
			}
		}
		if a.ScaleTo > maxIntensity {
			maxIntensity = a.ScaleTo
		}
		areas = append(areas, wa)
	}

	hypo := msg.Earthquake.Hypocenter
	return &domain.Envelope{
		Source: domain.SourcePrimary,
		Kind:   domain.KindAlert,
		Alert: &domain.EewAlert{
			Source:       domain.SourcePrimary,
			EventID:      msg.Issue.EventID,
			Serial:       msg.Issue.Serial,
			Time:         t,
			Hypocenter:   hypo.Name,
			Magnitude:    hypo.Magnitude,
			DepthKm:      hypo.Depth,
			MaxIntensity: maxIntensity,
			WarnAreas:    areas,
			Cancelled:    msg.Cancelled,
			Training:     msg.Test,
		},
	}, nil
}

func parsePrimaryTime(s string) (time.Time, error) {
	return time.Parse(primaryTimeLayout, s)
}

func tsunamiGrade(s string) domain.TsunamiGrade {
	switch s {
	case "MajorWarning":
		return domain.GradeMajorWarning
	case "Warning":
		return domain.GradeWarning
	case "Watch":
		return domain.GradeWatch
	default:
		return domain.GradeNone
	}
}
