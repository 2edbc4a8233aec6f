package domain

import "time"

// SourceID identifies an upstream feed.
type SourceID string

const (
	SourcePrimary     SourceID = "primary"
	SourceRegionalJMA SourceID = "regional-jma"
	SourceRegionalSC  SourceID = "regional-sc"
	SourceRegionalFJ  SourceID = "regional-fj"
	SourceCENC        SourceID = "cenc"
	SourceKmoni       SourceID = "kmoni"
	SourceCEIC        SourceID = "ceic"
	SourceHistory     SourceID = "history"
)

// IntensityUnknown marks events whose upstream reports no numeric intensity
// code (the scraped table reports a textual scale instead).
const IntensityUnknown = -1

// StationReading is one decoded telemetry station. Readings are recreated
// wholesale on every snapshot; ID is the 1-based position in the coordinate
// table and carries no identity across snapshots.
type StationReading struct {
	ID        int     `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Intensity int     `json:"intensity"` // 0-14 intensity code
}

// AffectedPoint is one observation point attached to a quake report.
// Lat/Lon are zero when the upstream omits coordinates.
type AffectedPoint struct {
	Addr      string  `json:"addr"`
	Pref      string  `json:"pref"`
	Intensity int     `json:"intensity"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
}

// QuakeEvent describes an occurred earthquake. Immutable once created;
// duplicates collapse by exact Time in the store's merge step.
type QuakeEvent struct {
	Source       SourceID        `json:"source"`
	Time         time.Time       `json:"time"`
	Place        string          `json:"place"`
	Lat          float64         `json:"lat"`
	Lon          float64         `json:"lon"`
	DepthKm      float64         `json:"depth_km"`
	Magnitude    float64         `json:"magnitude"`
	MaxIntensity int             `json:"max_intensity"` // IntensityUnknown when textual only
	TsunamiFlag  bool            `json:"tsunami_flag"`
	Comment      string          `json:"comment,omitempty"`
	Points       []AffectedPoint `json:"points,omitempty"`

	// Synthetic marks a placeholder generated from a tsunami-only bulletin
	// so the notification layer can suppress a duplicate announcement.
	Synthetic bool `json:"synthetic,omitempty"`
}

// WarnArea is one forecast area inside an early-warning alert.
type WarnArea struct {
	Name        string    `json:"name"`
	Arrived     bool      `json:"arrived"`
	ArrivalTime time.Time `json:"arrival_time,omitempty"`
	Intensity   int       `json:"intensity"`
}

// EewAlert is a time-critical early-warning forecast, revised over time via
// serial numbers. A later serial for the same (Source, EventID) replaces the
// record wholesale.
type EewAlert struct {
	Source       SourceID   `json:"source"`
	EventID      string     `json:"event_id"`
	Serial       int        `json:"serial"`
	Time         time.Time  `json:"time"`
	Hypocenter   string     `json:"hypocenter"`
	Magnitude    float64    `json:"magnitude"`
	DepthKm      float64    `json:"depth_km"`
	MaxIntensity int        `json:"max_intensity"` // forecast maximum
	WarnAreas    []WarnArea `json:"warn_areas,omitempty"`
	Final        bool       `json:"final"`
	Cancelled    bool       `json:"cancelled"`
	Training     bool       `json:"training"`
}

// Supersedes reports whether a replaces the current alert b.
// A nil current record is always superseded; a different event ID is a new
// event and replaces outright; within one event ID only a newer serial wins.
func (a *EewAlert) Supersedes(b *EewAlert) bool {
	if b == nil {
		return true
	}
	if a.Source != b.Source || a.EventID != b.EventID {
		return true
	}
	return a.Serial > b.Serial
}

// TsunamiGrade is the warning level of one coastal area.
type TsunamiGrade string

const (
	GradeNone         TsunamiGrade = "none"
	GradeWatch        TsunamiGrade = "watch"
	GradeWarning      TsunamiGrade = "warning"
	GradeMajorWarning TsunamiGrade = "major_warning"
)

// TsunamiArea is one coastal area in a tsunami bulletin.
type TsunamiArea struct {
	Name    string       `json:"name"`
	Grade   TsunamiGrade `json:"grade"`
	HeightM float64      `json:"height_m,omitempty"`
}

// TsunamiEvent is a tsunami bulletin. Each receipt replaces the previous
// bulletin wholesale; there is no per-area merge.
type TsunamiEvent struct {
	Source    SourceID      `json:"source"`
	Time      time.Time     `json:"time"`
	Cancelled bool          `json:"cancelled"`
	Areas     []TsunamiArea `json:"areas,omitempty"`
}

// EffectiveGrade resolves the single display-level warning grade from a
// bulletin's areas: the most severe grade present wins. A nil or cancelled
// bulletin resolves to GradeNone.
func (t *TsunamiEvent) EffectiveGrade() TsunamiGrade {
	if t == nil || t.Cancelled {
		return GradeNone
	}
	grade := GradeNone
	for _, a := range t.Areas {
		switch a.Grade {
		case GradeMajorWarning:
			return GradeMajorWarning
		case GradeWarning:
			grade = GradeWarning
		case GradeWatch:
			if grade != GradeWarning {
				grade = GradeWatch
			}
		}
	}
	return grade
}

// DisplayRecord is the single record the display layer renders: either the
// latest quake/tsunami combination, or a temporarily pinned historical quake
// with a countdown. Exactly one DisplayRecord is active at any instant.
type DisplayRecord struct {
	Quake        *QuakeEvent  `json:"quake,omitempty"`
	TsunamiGrade TsunamiGrade `json:"tsunami_grade"`
	Pinned       bool         `json:"pinned"`
	PinExpiresAt time.Time    `json:"pin_expires_at,omitempty"`
}

// ConnStatus is a connector's lifecycle state.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusBlocked      ConnStatus = "blocked"
)

// ConnectionState is the externally visible availability of one connector.
// NextRetryDelay is monotonically non-decreasing across consecutive failures
// up to the policy ceiling and resets to the floor on any success.
type ConnectionState struct {
	Status              ConnStatus    `json:"status"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NextRetryDelay      time.Duration `json:"next_retry_delay"`
}

// Kind tags the payload variant carried by an Envelope.
type Kind string

const (
	KindQuake    Kind = "quake"
	KindAlert    Kind = "alert"
	KindTsunami  Kind = "tsunami"
	KindStations Kind = "stations"
)

// Envelope is the tagged union every connector emits. Exactly the field
// matching Kind is non-nil.
type Envelope struct {
	Source   SourceID
	Kind     Kind
	Quake    *QuakeEvent
	Alert    *EewAlert
	Tsunami  *TsunamiEvent
	Stations []StationReading
}
