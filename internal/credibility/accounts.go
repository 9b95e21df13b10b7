package credibility

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// MonitoredAccount is an account whose posts follow a known bulletin format.
type MonitoredAccount struct {
	Handle   string
	Patterns []*regexp.Regexp
	Location *time.Location
}

// DefaultPatterns cover the two common bulletin shapes: explicit coordinates,
// or a region name followed by the origin time.
var DefaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bM(?:ag(?:nitude)?)?\s*(?P<mag>\d+(?:[.,]\d+)?)\b.*?\b(?P<date>\d{4}-\d{2}-\d{2})[ T](?P<time>\d{2}:\d{2}(?::\d{2})?)\b.*?\blat(?:itude)?\s*[:=]?\s*(?P<lat>-?\d+(?:[.,]\d+)?).*?\blon(?:gitude)?\s*[:=]?\s*(?P<lon>-?\d+(?:[.,]\d+)?)(?:.*?\bdepth\s*[:=]?\s*(?P<depth>\d+(?:[.,]\d+)?))?`),
	regexp.MustCompile(`(?i)\bM(?:ag(?:nitude)?)?\s*(?P<mag>\d+(?:[.,]\d+)?)\s*[-–,]\s*(?P<area>[^\d\n][^\n]*?)\s*[-–,]\s*(?P<date>\d{4}-\d{2}-\d{2})[ T](?P<time>\d{2}:\d{2}(?::\d{2})?)`),
}

// postLatency is subtracted from the post time when a bulletin states no time.
const postLatency = 5 * time.Second

// maxFeedMagnitude marks placeholder magnitudes some bulletins emit.
const maxFeedMagnitude = 9.7

// Bulletin is the result of parsing a monitored account's post.
type Bulletin struct {
	Quake domain.ExplicitQuake
	// Area is set when the bulletin named a region instead of coordinates.
	// The caller must geolocate it and fill Quake.Coordinate.
	Area string
}

// Monitored reports whether handle belongs to a monitored account.
func (s *Scorer) Monitored(handle string) bool {
	_, ok := s.accounts[normalizeHandle(handle)]
	return ok
}

// ExtractQuake parses a monitored account's post deterministically. Errors
// wrap domain.ErrMalformedExplicitQuake or domain.ErrStaleEvent.
func (s *Scorer) ExtractQuake(obs domain.Observation, now time.Time, maxAge time.Duration, defaultDepthKm float64) (Bulletin, error) {
	acct, ok := s.accounts[normalizeHandle(obs.Account)]
	if !ok {
		return Bulletin{}, fmt.Errorf("extract %s: %q is not monitored: %w", obs.ID, obs.Account, domain.ErrMalformedExplicitQuake)
	}
	patterns := acct.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	loc := acct.Location
	if loc == nil {
		loc = time.UTC
	}

	for _, re := range patterns {
		groups := namedGroups(re, obs.Text)
		if groups == nil {
			continue
		}
		b, err := bulletinFromGroups(groups, obs.ReceivedAt, loc, defaultDepthKm)
		if err != nil {
			return Bulletin{}, fmt.Errorf("extract %s: %w", obs.ID, err)
		}
		if b.Quake.Time.After(now) {
			return Bulletin{}, fmt.Errorf("extract %s: time %s is in the future: %w", obs.ID, b.Quake.Time, domain.ErrMalformedExplicitQuake)
		}
		if now.Sub(b.Quake.Time) > maxAge {
			return Bulletin{}, fmt.Errorf("extract %s: time %s is obsolete: %w", obs.ID, b.Quake.Time, domain.ErrStaleEvent)
		}
		return b, nil
	}
	return Bulletin{}, fmt.Errorf("extract %s: no pattern matched: %w", obs.ID, domain.ErrMalformedExplicitQuake)
}

func bulletinFromGroups(g map[string]string, postedAt time.Time, loc *time.Location, defaultDepthKm float64) (Bulletin, error) {
	var b Bulletin

	mag, err := parseDecimal(g["mag"])
	if err != nil || mag <= 0 || mag >= maxFeedMagnitude {
		return b, fmt.Errorf("magnitude %q: %w", g["mag"], domain.ErrMalformedExplicitQuake)
	}
	b.Quake.Magnitude = mag

	b.Quake.DepthKm = defaultDepthKm
	if d := g["depth"]; d != "" {
		depth, err := parseDecimal(d)
		if err != nil || depth < 0 {
			return b, fmt.Errorf("depth %q: %w", d, domain.ErrMalformedExplicitQuake)
		}
		b.Quake.DepthKm = depth
	}

	t, err := parseBulletinTime(g["date"], g["time"], postedAt, loc)
	if err != nil {
		return b, err
	}
	b.Quake.Time = t

	if g["lat"] != "" && g["lon"] != "" {
		lat, errLat := parseDecimal(g["lat"])
		lon, errLon := parseDecimal(g["lon"])
		c := domain.Coordinate{Lat: lat, Lon: lon}
		if errLat != nil || errLon != nil || !c.Valid() {
			return b, fmt.Errorf("coordinates %q %q: %w", g["lat"], g["lon"], domain.ErrMalformedExplicitQuake)
		}
		b.Quake.Coordinate = c
		return b, nil
	}

	area := splitCamelCase(strings.TrimLeft(strings.TrimSpace(g["area"]), "#"))
	if area == "" {
		return b, fmt.Errorf("no coordinates or area: %w", domain.ErrMalformedExplicitQuake)
	}
	b.Area = area
	return b, nil
}

var bulletinLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseBulletinTime(date, clock string, postedAt time.Time, loc *time.Location) (time.Time, error) {
	if date == "" && clock == "" {
		return postedAt.Add(-postLatency).UTC(), nil
	}
	if date == "" {
		date = postedAt.In(loc).Format("2006-01-02")
	}
	value := strings.TrimSpace(date + " " + clock)
	for _, layout := range bulletinLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("time %q: %w", value, domain.ErrMalformedExplicitQuake)
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

var camelRe = regexp.MustCompile(`([a-z])([A-Z])`)

// splitCamelCase turns hashtag place names such as "NewZealand" into words.
func splitCamelCase(s string) string {
	return camelRe.ReplaceAllString(s, "$1 $2")
}

func namedGroups(re *regexp.Regexp, text string) map[string]string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	groups := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return groups
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
