package domain

import (
	"maps"
	"slices"
	"time"
)

// EventState is the hypothesis state of an Event.
type EventState string

const (
	EventCandidate EventState = "candidate"
	EventConfirmed EventState = "confirmed"
	EventRetracted EventState = "retracted"
)

// DisseminationState is the public tier already reached by an Event.
type DisseminationState int

const (
	DisseminationNotSent DisseminationState = iota
	DisseminationPreliminary
	DisseminationConfirmed
	DisseminationWarningIssued
)

func (s DisseminationState) String() string {
	switch s {
	case DisseminationPreliminary:
		return "preliminary"
	case DisseminationConfirmed:
		return "confirmed"
	case DisseminationWarningIssued:
		return "warning_issued"
	default:
		return "not_sent"
	}
}

// MarshalText encodes the state by name.
func (s DisseminationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Advance returns the later of s and next. Dissemination never regresses.
func (s DisseminationState) Advance(next DisseminationState) DisseminationState {
	if next > s {
		return next
	}
	return s
}

// Facility is a sensitive installation near an epicenter.
type Facility struct {
	Name       string     `json:"name" yaml:"name"`
	Kind       string     `json:"kind" yaml:"kind"`
	Coordinate Coordinate `json:"coordinate" yaml:"coordinate"`
	DistanceKm float64    `json:"distance_km" yaml:"-"`
}

// ImagerySource is a live camera or imagery feed near an epicenter.
type ImagerySource struct {
	Name       string     `json:"name" yaml:"name"`
	URL        string     `json:"url" yaml:"url"`
	Coordinate Coordinate `json:"coordinate" yaml:"coordinate"`
	DistanceKm float64    `json:"distance_km" yaml:"-"`
}

// Region is the answer of a reverse toponym lookup.
type Region struct {
	Toponym string `json:"toponym,omitempty"`
	Name    string `json:"name,omitempty"`
	Sea     bool   `json:"sea,omitempty"`
}

// Place is a gazetteer entry.
type Place struct {
	Name        string     `json:"name"`
	Region      string     `json:"region,omitempty"`
	Coordinate  Coordinate `json:"coordinate"`
	Population  int64      `json:"population,omitempty"`
	Specificity int        `json:"specificity"` // 1 country, 2 region, 3 city, 4 locality
}

// Enrichment holds derived facts attached to a confirmed Event. Nil fields
// were unavailable.
type Enrichment struct {
	Region     *Region         `json:"region,omitempty"`
	Population *int64          `json:"population,omitempty"`
	Reactors   []Facility      `json:"reactors,omitempty"`
	Imagery    []ImagerySource `json:"imagery,omitempty"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// Recipient is a known-location party eligible for personalized alerts.
type Recipient struct {
	ID         string     `json:"id" yaml:"id"`
	Coordinate Coordinate `json:"coordinate" yaml:"coordinate"`
}

// PersonalAlert is a pending personalized notification for one recipient.
type PersonalAlert struct {
	RecipientID string    `json:"recipient_id"`
	DistanceKm  float64   `json:"distance_km"`
	ArrivalAt   time.Time `json:"arrival_at"`
}

// Event is a clustered hypothesis of one physical earthquake.
type Event struct {
	ID    string     `json:"id"`
	State EventState `json:"state"`

	Epicenter    Coordinate `json:"epicenter"`
	OriginTime   time.Time  `json:"origin_time"`
	Magnitude    *float64   `json:"magnitude,omitempty"`
	DepthKm      *float64   `json:"depth_km,omitempty"`
	FeltRadiusKm float64    `json:"felt_radius_km"`
	Score        float64    `json:"accumulated_score"`
	Toponym      string     `json:"toponym,omitempty"`
	Region       string     `json:"region,omitempty"`

	Contributors  []string           `json:"contributing_observations"`
	Sources       []string           `json:"sources,omitempty"`
	AlertLevel    AlertLevel         `json:"last_alert_level,omitempty"`
	Dissemination DisseminationState `json:"dissemination_state"`
	Tsunami       bool               `json:"tsunami"`
	Revision      int                `json:"revision"`

	// Official is set once an authoritative report anchors the event.
	Official    bool `json:"official"`
	SeaBased    bool `json:"sea_based,omitempty"`
	TsunamiFlag bool `json:"tsunami_flag,omitempty"`

	FirstEvidenceAt time.Time `json:"first_evidence_at"`
	LastEvidenceAt  time.Time `json:"last_evidence_at"`
	CreatedAt       time.Time `json:"created_at"`

	// Weight is the credibility mass behind the unofficial centroid.
	Weight float64 `json:"-"`
	// MaxIntensity is the strongest qualitative intensity reported so far.
	MaxIntensity IntensityLevel `json:"-"`
	// WitnessSpreadKm is the farthest unofficial contributor from the epicenter.
	WitnessSpreadKm float64 `json:"-"`

	NotifiedRecipients  map[string]struct{} `json:"-"`
	PendingPersonal     []PersonalAlert     `json:"-"`
	EnrichmentRequested bool                `json:"-"`
	Enrichment          *Enrichment         `json:"enrichment,omitempty"`
}

// Live reports whether the event can still take evidence.
func (e *Event) Live() bool {
	return e.State != EventRetracted
}

// Clone returns a deep copy safe to hand to other goroutines.
func (e *Event) Clone() Event {
	c := *e
	c.Contributors = slices.Clone(e.Contributors)
	c.Sources = slices.Clone(e.Sources)
	c.NotifiedRecipients = maps.Clone(e.NotifiedRecipients)
	c.PendingPersonal = slices.Clone(e.PendingPersonal)
	if e.Magnitude != nil {
		m := *e.Magnitude
		c.Magnitude = &m
	}
	if e.DepthKm != nil {
		d := *e.DepthKm
		c.DepthKm = &d
	}
	if e.Enrichment != nil {
		en := *e.Enrichment
		en.Reactors = slices.Clone(e.Enrichment.Reactors)
		en.Imagery = slices.Clone(e.Enrichment.Imagery)
		c.Enrichment = &en
	}
	return c
}

// Depth returns the reported depth or the default depth.
func (e *Event) Depth() float64 {
	if e.DepthKm != nil {
		return *e.DepthKm
	}
	return DefaultDepthKm
}

// AddSource records the source name once.
func (e *Event) AddSource(name string) {
	if name == "" || slices.Contains(e.Sources, name) {
		return
	}
	e.Sources = append(e.Sources, name)
}
