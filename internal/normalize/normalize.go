// Package normalize maps the wire records of every source topic onto the
// canonical domain.Observation.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Wire formats, selected by topic or overridden by a "format" header.
const (
	FormatPost    = "post"
	FormatAgency  = "agency"
	FormatGeoJSON = "geojson"
)

// HeaderFormat overrides the topic's format for a single message.
const HeaderFormat = "format"

const (
	// maxMagnitude rejects feed placeholders such as 9.9 or 10.
	maxMagnitude = 9.7
	// futureTolerance absorbs clock skew between agencies and this service.
	futureTolerance = time.Minute
)

// Normalizer parses raw records into observations.
type Normalizer struct {
	maxEventAge time.Duration
}

// New creates a Normalizer that rejects official records whose origin is
// older than maxEventAge.
func New(maxEventAge time.Duration) *Normalizer {
	return &Normalizer{maxEventAge: maxEventAge}
}

// Normalize parses raw according to its format.
func (n *Normalizer) Normalize(ctx context.Context, raw domain.RawEvent) (domain.Observation, error) {
	format := raw.Format
	if h := raw.Headers[HeaderFormat]; h != "" {
		format = h
	}
	switch strings.ToLower(format) {
	case FormatPost:
		return n.post(raw)
	case FormatAgency:
		return n.agency(raw)
	case FormatGeoJSON:
		return n.geoJSON(raw)
	default:
		return domain.Observation{}, fmt.Errorf("normalize %s/%d: format %q: %w",
			raw.Topic, raw.Offset, format, domain.ErrUnsupportedFormat)
	}
}

// PostRecord is the wire shape of a social media post.
type PostRecord struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Lang        string    `json:"lang,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Retweet     bool      `json:"retweet,omitempty"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	User        PostUser  `json:"user"`
	Coordinates []float64 `json:"coordinates,omitempty"` // [lon, lat]
}

// PostUser is the author block of a PostRecord.
type PostUser struct {
	Handle   string `json:"handle"`
	Location string `json:"location,omitempty"`
}

func (n *Normalizer) post(raw domain.RawEvent) (domain.Observation, error) {
	var rec PostRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return domain.Observation{}, fmt.Errorf("parse post: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	switch {
	case rec.ID == "":
		return domain.Observation{}, fmt.Errorf("parse post: missing id: %w", domain.ErrUnsupportedFormat)
	case rec.Retweet:
		return domain.Observation{}, fmt.Errorf("post %s: retweet: %w", rec.ID, domain.ErrUnsupportedFormat)
	case rec.ReplyTo != "":
		return domain.Observation{}, fmt.Errorf("post %s: reply: %w", rec.ID, domain.ErrUnsupportedFormat)
	case strings.TrimSpace(rec.Text) == "":
		return domain.Observation{}, fmt.Errorf("post %s: empty text: %w", rec.ID, domain.ErrUnsupportedFormat)
	}

	obs := domain.Observation{
		ID:         domain.HashID(FormatPost, rec.ID),
		SourceKind: domain.SourceUnofficialPost,
		Source:     sourceName(raw, FormatPost),
		Account:    rec.User.Handle,
		ReceivedAt: receivedAt(raw),
		Text:       rec.Text,
		Language:   rec.Lang,
		Location: domain.Location{
			Profile:  strings.TrimSpace(rec.User.Location),
			Toponyms: ToponymCandidates(rec.Text),
		},
	}
	if !rec.CreatedAt.IsZero() {
		t := rec.CreatedAt.UTC()
		obs.ClaimedTime = &t
	}
	if len(rec.Coordinates) >= 2 {
		c := domain.Coordinate{Lat: rec.Coordinates[1], Lon: rec.Coordinates[0]}
		if c.Valid() {
			obs.Location.Explicit = &c
		}
	}
	return obs, nil
}

// AgencyRecord is the wire shape of a seismological agency report.
type AgencyRecord struct {
	ID        string     `json:"id"`
	Source    string     `json:"source,omitempty"`
	Time      time.Time  `json:"time"`
	Updated   *time.Time `json:"updated,omitempty"`
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	DepthKm   *float64   `json:"depth_km,omitempty"`
	Magnitude *float64   `json:"magnitude,omitempty"`
	Alert     string     `json:"alert,omitempty"`
	Status    string     `json:"status,omitempty"`
	Tsunami   bool       `json:"tsunami,omitempty"`
}

func (n *Normalizer) agency(raw domain.RawEvent) (domain.Observation, error) {
	var rec AgencyRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return domain.Observation{}, fmt.Errorf("parse agency report: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	if rec.ID == "" {
		return domain.Observation{}, fmt.Errorf("parse agency report: missing id: %w", domain.ErrUnsupportedFormat)
	}
	source := rec.Source
	if source == "" {
		source = sourceName(raw, FormatAgency)
	}

	version := ""
	if rec.Updated != nil {
		version = rec.Updated.UTC().Format(time.RFC3339Nano)
	}
	return n.official(raw, officialFields{
		source:    source,
		nativeID:  rec.ID,
		version:   version,
		origin:    rec.Time,
		lat:       rec.Latitude,
		lon:       rec.Longitude,
		depth:     rec.DepthKm,
		magnitude: rec.Magnitude,
		alert:     rec.Alert,
		status:    rec.Status,
		tsunami:   rec.Tsunami,
	})
}

type geoJSONFeature struct {
	ID       string `json:"id"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
	} `json:"geometry"`
	Properties struct {
		Mag     *float64 `json:"mag"`
		Time    int64    `json:"time"`    // ms since epoch
		Updated int64    `json:"updated"` // ms since epoch
		Alert   string   `json:"alert"`
		Status  string   `json:"status"`
		Tsunami int      `json:"tsunami"`
		Place   string   `json:"place"`
		Net     string   `json:"net"`
		Code    string   `json:"code"`
	} `json:"properties"`
}

func (n *Normalizer) geoJSON(raw domain.RawEvent) (domain.Observation, error) {
	var f geoJSONFeature
	if err := json.Unmarshal(raw.Value, &f); err != nil {
		return domain.Observation{}, fmt.Errorf("parse geojson feature: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	p := f.Properties
	id := f.ID
	if id == "" {
		id = p.Net + p.Code
	}
	if id == "" {
		return domain.Observation{}, fmt.Errorf("parse geojson feature: missing id: %w", domain.ErrUnsupportedFormat)
	}
	source := p.Net
	if source == "" {
		source = sourceName(raw, FormatGeoJSON)
	}

	fields := officialFields{
		source:    source,
		nativeID:  id,
		magnitude: p.Mag,
		alert:     p.Alert,
		status:    p.Status,
		tsunami:   p.Tsunami != 0,
		place:     p.Place,
	}
	if p.Time != 0 {
		fields.origin = time.UnixMilli(p.Time)
	}
	if p.Updated != 0 {
		fields.version = time.UnixMilli(p.Updated).UTC().Format(time.RFC3339Nano)
	}
	if c := f.Geometry.Coordinates; len(c) >= 2 {
		fields.lon, fields.lat = &c[0], &c[1]
		if len(c) >= 3 {
			fields.depth = &c[2]
		}
	}
	return n.official(raw, fields)
}

type officialFields struct {
	source    string
	nativeID  string
	version   string
	origin    time.Time
	lat, lon  *float64
	depth     *float64
	magnitude *float64
	alert     string
	status    string
	tsunami   bool
	place     string
}

// official validates the fields shared by every agency format. Retractions
// only need a time and a position to find the event they withdraw.
func (n *Normalizer) official(raw domain.RawEvent, f officialFields) (domain.Observation, error) {
	id := domain.HashID(f.source, f.nativeID, f.version)
	retraction := isRetraction(f.status)
	fail := func(format string, args ...any) (domain.Observation, error) {
		return domain.Observation{}, fmt.Errorf("report %s/%s: %s: %w",
			f.source, f.nativeID, fmt.Sprintf(format, args...), domain.ErrMalformedExplicitQuake)
	}

	if f.origin.IsZero() {
		return fail("missing origin time")
	}
	if f.lat == nil || f.lon == nil {
		return fail("missing coordinates")
	}
	c := domain.Coordinate{Lat: *f.lat, Lon: *f.lon}
	if !c.Valid() {
		return fail("coordinate %v out of range", c)
	}

	now := domain.Now()
	if f.origin.After(now.Add(futureTolerance)) {
		return fail("origin %s is in the future", f.origin.UTC())
	}
	if n.maxEventAge > 0 && now.Sub(f.origin) > n.maxEventAge {
		return domain.Observation{}, fmt.Errorf("report %s/%s: origin %s older than %s: %w",
			f.source, f.nativeID, f.origin.UTC(), n.maxEventAge, domain.ErrStaleEvent)
	}

	depth := domain.DefaultDepthKm
	if f.depth != nil {
		depth = *f.depth
	}
	if depth < 0 {
		return fail("negative depth %.1f", depth)
	}

	var mag float64
	switch {
	case f.magnitude != nil:
		mag = *f.magnitude
	case !retraction:
		return fail("missing magnitude")
	}
	if !retraction && (mag < 0 || mag >= maxMagnitude) {
		return fail("magnitude %.1f out of range", mag)
	}

	origin := f.origin.UTC()
	return domain.Observation{
		ID:          id,
		SourceKind:  domain.SourceOfficialReport,
		Source:      f.source,
		ReceivedAt:  receivedAt(raw),
		ClaimedTime: &origin,
		Text:        f.place,
		Location:    domain.Location{Explicit: &c},
		Quake: &domain.ExplicitQuake{
			Time:       origin,
			Coordinate: c,
			DepthKm:    depth,
			Magnitude:  mag,
		},
		AlertLevel:  domain.ParseAlertLevel(f.alert),
		Retraction:  retraction,
		TsunamiFlag: f.tsunami,
	}, nil
}

func isRetraction(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "deleted", "rejected":
		return true
	}
	return false
}

func sourceName(raw domain.RawEvent, format string) string {
	if raw.Topic != "" {
		return raw.Topic
	}
	return format
}

func receivedAt(raw domain.RawEvent) time.Time {
	if !raw.Timestamp.IsZero() {
		return raw.Timestamp.UTC()
	}
	return domain.Now()
}
