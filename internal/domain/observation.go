package domain

import (
	"context"
	"strings"
	"time"
)

// RawEvent represents an unprocessed message from a source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Format    string // "post", "agency" or "geojson"
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// SourceKind discriminates the two families of observation sources.
type SourceKind string

const (
	SourceUnofficialPost SourceKind = "unofficial_post"
	SourceOfficialReport SourceKind = "official_report"
)

// AlertLevel is the agency-assigned impact level. The zero value means none.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertGreen
	AlertYellow
	AlertAmber
	AlertRed
)

// ParseAlertLevel maps feed vocabulary onto an AlertLevel. Unknown values map
// to AlertNone.
func ParseAlertLevel(s string) AlertLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return AlertGreen
	case "yellow":
		return AlertYellow
	case "amber", "orange":
		return AlertAmber
	case "red":
		return AlertRed
	default:
		return AlertNone
	}
}

func (l AlertLevel) String() string {
	switch l {
	case AlertGreen:
		return "green"
	case AlertYellow:
		return "yellow"
	case AlertAmber:
		return "amber"
	case AlertRed:
		return "red"
	default:
		return ""
	}
}

// MarshalText encodes the level by name.
func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LocationKind names the location signal a coordinate was resolved from.
type LocationKind string

const (
	LocationNone     LocationKind = ""
	LocationExplicit LocationKind = "explicit"
	LocationProfile  LocationKind = "profile"
	LocationToponyms LocationKind = "toponyms"
)

// Location carries every location signal a source could state. The geolocator
// uses the first available one in preference order: explicit coordinate,
// declared profile location, then text toponym candidates.
type Location struct {
	Explicit *Coordinate `json:"explicit,omitempty"`
	Profile  string      `json:"profile,omitempty"`
	Toponyms []string    `json:"toponyms,omitempty"`
}

// Kind reports the highest-preference signal present.
func (l Location) Kind() LocationKind {
	switch {
	case l.Explicit != nil:
		return LocationExplicit
	case strings.TrimSpace(l.Profile) != "":
		return LocationProfile
	case len(l.Toponyms) > 0:
		return LocationToponyms
	default:
		return LocationNone
	}
}

// ExplicitQuake holds parameters stated authoritatively by the source.
type ExplicitQuake struct {
	Time       time.Time  `json:"time"`
	Coordinate Coordinate `json:"coordinate"`
	DepthKm    float64    `json:"depth_km"`
	Magnitude  float64    `json:"magnitude"`
}

// Observation is one unit of raw evidence about a possible earthquake.
type Observation struct {
	ID          string         `json:"id"`
	SourceKind  SourceKind     `json:"source_kind"`
	Source      string         `json:"source"`            // feed or agency name
	Account     string         `json:"account,omitempty"` // post author handle
	ReceivedAt  time.Time      `json:"received_at"`
	ClaimedTime *time.Time     `json:"claimed_time,omitempty"`
	Text        string         `json:"text,omitempty"`
	Language    string         `json:"language,omitempty"`
	Location    Location       `json:"location"`
	Quake       *ExplicitQuake `json:"explicit_quake,omitempty"`
	AlertLevel  AlertLevel     `json:"alert_level,omitempty"`

	// Retraction marks an authoritative withdrawal of a previously reported quake.
	Retraction bool `json:"retraction,omitempty"`
	// TsunamiFlag is the source's own tsunami indicator, when it has one.
	TsunamiFlag bool `json:"tsunami_flag,omitempty"`
}

// EvidenceTime is the time the observation speaks for: the claimed time when
// present, otherwise the time it was received.
func (o Observation) EvidenceTime() time.Time {
	if o.ClaimedTime != nil {
		return *o.ClaimedTime
	}
	return o.ReceivedAt
}

// IntensityLevel is the qualitative shaking strength described in a post.
type IntensityLevel int

const (
	IntensityUnknown IntensityLevel = iota
	IntensityWeak
	IntensityStrong
	IntensitySevere
	IntensityDestructive
)

// MagnitudeGuess returns the coarse magnitude stand-in used only to size the
// felt radius of unofficial events.
func (l IntensityLevel) MagnitudeGuess() float64 {
	switch l {
	case IntensityWeak:
		return 4.5
	case IntensityStrong:
		return 6.0
	case IntensitySevere:
		return 6.5
	case IntensityDestructive:
		return 7.0
	default:
		return 5.0
	}
}

func (l IntensityLevel) String() string {
	switch l {
	case IntensityWeak:
		return "weak"
	case IntensityStrong:
		return "strong"
	case IntensitySevere:
		return "severe"
	case IntensityDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// Resolution is the geolocator's answer for one observation.
type Resolution struct {
	Coordinate Coordinate   `json:"coordinate"`
	Toponym    string       `json:"toponym,omitempty"`
	Region     string       `json:"region,omitempty"`
	Source     LocationKind `json:"source"`
	Confidence float64      `json:"confidence"`
}

// ResolvedObservation is an observation with a resolved location and, for
// unofficial posts, a credibility assessment.
type ResolvedObservation struct {
	Observation
	Coordinate    Coordinate     `json:"coordinate"`
	Toponym       string         `json:"toponym,omitempty"`
	Region        string         `json:"region,omitempty"`
	LocatedBy     LocationKind   `json:"located_by"`
	Credibility   float64        `json:"credibility_score"`
	LanguageMatch bool           `json:"language_match"`
	Intensity     IntensityLevel `json:"intensity,omitempty"`
	// Authoritative is set for official reports and for posts from monitored
	// known-format accounts whose quake parameters were extracted.
	Authoritative bool `json:"authoritative"`
	// SeaBased reports whether the epicenter lies offshore. Only resolved for
	// authoritative observations.
	SeaBased bool `json:"sea_based,omitempty"`
}
