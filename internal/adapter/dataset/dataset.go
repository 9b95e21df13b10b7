// Package dataset serves the static lookup data (gazetteer, regions, reactors,
// webcams, recipients and monitored accounts) from a YAML file.
package dataset

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // account timezones must resolve in minimal images

	"github.com/couchcryptid/quake-alert-service/internal/credibility"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Place specificity levels.
const (
	SpecificityCountry  = 1
	SpecificityRegion   = 2
	SpecificityCity     = 3
	SpecificityLocality = 4
)

// maxToponymDistanceKm bounds how far a city can be from a coordinate and
// still be used as its toponym.
const maxToponymDistanceKm = 100.0

// Region names containing one of these words are offshore. Names are padded
// with spaces before matching.
var seaMarkers = []string{" OFF COAST ", " OCEAN ", " SEA "}

// City is a gazetteer entry in the dataset file.
type City struct {
	Name        string            `yaml:"name"`
	Aliases     []string          `yaml:"aliases,omitempty"`
	Region      string            `yaml:"region,omitempty"`
	Coordinate  domain.Coordinate `yaml:"coordinate"`
	Population  int64             `yaml:"population,omitempty"`
	Specificity int               `yaml:"specificity,omitempty"`
}

// Area is a named bounding box. Sea areas mark offshore epicenters.
type Area struct {
	Name string     `yaml:"name"`
	Sea  bool       `yaml:"sea,omitempty"`
	BBox [4]float64 `yaml:"bbox"` // min lat, min lon, max lat, max lon
}

// Account is a monitored known-format account.
type Account struct {
	Handle   string   `yaml:"handle"`
	Timezone string   `yaml:"timezone,omitempty"`
	Patterns []string `yaml:"patterns,omitempty"`
}

// File is the on-disk layout.
type File struct {
	Cities     []City                 `yaml:"cities"`
	Regions    []Area                 `yaml:"regions"`
	Reactors   []domain.Facility      `yaml:"reactors"`
	Webcams    []domain.ImagerySource `yaml:"webcams"`
	Recipients []domain.Recipient     `yaml:"recipients"`
	Accounts   []Account              `yaml:"accounts"`
}

// Summary counts the entries of a loaded dataset.
type Summary struct {
	Cities     int `yaml:"cities" json:"cities"`
	Names      int `yaml:"names" json:"names"`
	Regions    int `yaml:"regions" json:"regions"`
	Reactors   int `yaml:"reactors" json:"reactors"`
	Webcams    int `yaml:"webcams" json:"webcams"`
	Recipients int `yaml:"recipients" json:"recipients"`
	Accounts   int `yaml:"accounts" json:"accounts"`
}

// Dataset is an immutable in-memory index over a File. It is safe for
// concurrent use.
type Dataset struct {
	file     File
	names    map[string][]domain.Place
	accounts []credibility.MonitoredAccount
}

// Load reads and indexes the dataset at path.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, nil
}

// Parse decodes and validates a dataset. Every problem found is reported.
func Parse(data []byte) (*Dataset, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return New(f)
}

// New validates and indexes f.
func New(f File) (*Dataset, error) {
	ds := &Dataset{file: f, names: make(map[string][]domain.Place)}
	var errs []error

	for i, c := range f.Cities {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("cities[%d]: name is required", i))
			continue
		}
		if !c.Coordinate.Valid() {
			errs = append(errs, fmt.Errorf("cities[%d] %q: coordinate %v out of range", i, c.Name, c.Coordinate))
			continue
		}
		spec := c.Specificity
		if spec == 0 {
			spec = SpecificityCity
		}
		place := domain.Place{
			Name:        c.Name,
			Region:      c.Region,
			Coordinate:  c.Coordinate,
			Population:  c.Population,
			Specificity: spec,
		}
		for _, name := range append([]string{c.Name}, c.Aliases...) {
			ds.index(name, place)
		}
	}

	for i, a := range f.Regions {
		if err := validateArea(a); err != nil {
			errs = append(errs, fmt.Errorf("regions[%d] %q: %w", i, a.Name, err))
			continue
		}
		ds.index(a.Name, domain.Place{
			Name:        a.Name,
			Region:      a.Name,
			Coordinate:  a.center(),
			Specificity: SpecificityRegion,
		})
	}

	for i, r := range f.Reactors {
		if r.Name == "" || !r.Coordinate.Valid() {
			errs = append(errs, fmt.Errorf("reactors[%d] %q: name and a valid coordinate are required", i, r.Name))
		}
	}
	for i, w := range f.Webcams {
		if w.URL == "" || !w.Coordinate.Valid() {
			errs = append(errs, fmt.Errorf("webcams[%d] %q: url and a valid coordinate are required", i, w.Name))
		}
	}

	seen := make(map[string]struct{}, len(f.Recipients))
	for i, r := range f.Recipients {
		switch _, dup := seen[r.ID]; {
		case r.ID == "":
			errs = append(errs, fmt.Errorf("recipients[%d]: id is required", i))
		case dup:
			errs = append(errs, fmt.Errorf("recipients[%d]: duplicate id %q", i, r.ID))
		case !r.Coordinate.Valid():
			errs = append(errs, fmt.Errorf("recipients[%d] %q: coordinate %v out of range", i, r.ID, r.Coordinate))
		}
		seen[r.ID] = struct{}{}
	}

	for i, a := range f.Accounts {
		acct, err := compileAccount(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("accounts[%d] %q: %w", i, a.Handle, err))
			continue
		}
		ds.accounts = append(ds.accounts, acct)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ds, nil
}

func (d *Dataset) index(name string, p domain.Place) {
	k := key(name)
	if k == "" {
		return
	}
	d.names[k] = append(d.names[k], p)
}

// Summary returns entry counts.
func (d *Dataset) Summary() Summary {
	return Summary{
		Cities:     len(d.file.Cities),
		Names:      len(d.names),
		Regions:    len(d.file.Regions),
		Reactors:   len(d.file.Reactors),
		Webcams:    len(d.file.Webcams),
		Recipients: len(d.file.Recipients),
		Accounts:   len(d.accounts),
	}
}

// Lookup resolves a place name, city alias or region name. Ambiguous names
// resolve to the most specific, then most populous, entry.
func (d *Dataset) Lookup(_ context.Context, name string) (domain.Place, bool, error) {
	places := d.names[key(name)]
	if len(places) == 0 {
		return domain.Place{}, false, nil
	}
	return slices.MaxFunc(places, func(a, b domain.Place) int {
		return cmp.Or(
			cmp.Compare(a.Specificity, b.Specificity),
			cmp.Compare(a.Population, b.Population),
		)
	}), true, nil
}

// ResolveToponym names the nearest city within range and the smallest region
// containing c.
func (d *Dataset) ResolveToponym(_ context.Context, c domain.Coordinate) (domain.Region, error) {
	var out domain.Region

	best := maxToponymDistanceKm
	for _, city := range d.file.Cities {
		if dist := domain.DistanceKm(c, city.Coordinate); dist <= best {
			best = dist
			out.Toponym = city.Name
		}
	}

	var area *Area
	for i := range d.file.Regions {
		a := &d.file.Regions[i]
		if a.contains(c) && (area == nil || a.size() < area.size()) {
			area = a
		}
	}
	if area != nil {
		out.Name = area.Name
		out.Sea = area.offshore()
	}
	return out, nil
}

// SeaBased reports whether c lies in an offshore region.
func (d *Dataset) SeaBased(ctx context.Context, c domain.Coordinate) (bool, error) {
	r, err := d.ResolveToponym(ctx, c)
	return r.Sea, err
}

// PopulationNear sums the population of every city within radiusKm.
func (d *Dataset) PopulationNear(_ context.Context, c domain.Coordinate, radiusKm float64) (int64, error) {
	var total int64
	for _, city := range d.file.Cities {
		if domain.DistanceKm(c, city.Coordinate) <= radiusKm {
			total += city.Population
		}
	}
	return total, nil
}

// ReactorsNear lists reactors within radiusKm, nearest first.
func (d *Dataset) ReactorsNear(_ context.Context, c domain.Coordinate, radiusKm float64) ([]domain.Facility, error) {
	var out []domain.Facility
	for _, r := range d.file.Reactors {
		if dist := domain.DistanceKm(c, r.Coordinate); dist <= radiusKm {
			r.DistanceKm = dist
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.Facility) int { return cmp.Compare(a.DistanceKm, b.DistanceKm) })
	return out, nil
}

// ImageryNear lists webcams within radiusKm, nearest first.
func (d *Dataset) ImageryNear(_ context.Context, c domain.Coordinate, radiusKm float64) ([]domain.ImagerySource, error) {
	var out []domain.ImagerySource
	for _, w := range d.file.Webcams {
		if dist := domain.DistanceKm(c, w.Coordinate); dist <= radiusKm {
			w.DistanceKm = dist
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b domain.ImagerySource) int { return cmp.Compare(a.DistanceKm, b.DistanceKm) })
	return out, nil
}

// Recipients returns the recipients eligible for personalized alerts.
func (d *Dataset) Recipients() []domain.Recipient {
	return d.file.Recipients
}

// Accounts returns the monitored accounts with compiled patterns.
func (d *Dataset) Accounts() []credibility.MonitoredAccount {
	return d.accounts
}

func compileAccount(a Account) (credibility.MonitoredAccount, error) {
	if strings.TrimSpace(a.Handle) == "" {
		return credibility.MonitoredAccount{}, errors.New("handle is required")
	}
	acct := credibility.MonitoredAccount{Handle: a.Handle, Location: time.UTC}
	if a.Timezone != "" {
		loc, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return credibility.MonitoredAccount{}, fmt.Errorf("timezone: %w", err)
		}
		acct.Location = loc
	}
	for _, p := range a.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return credibility.MonitoredAccount{}, fmt.Errorf("pattern %q: %w", p, err)
		}
		if !slices.Contains(re.SubexpNames(), "mag") {
			return credibility.MonitoredAccount{}, fmt.Errorf("pattern %q: missing (?P<mag>...) group", p)
		}
		acct.Patterns = append(acct.Patterns, re)
	}
	return acct, nil
}

func validateArea(a Area) error {
	minC := domain.Coordinate{Lat: a.BBox[0], Lon: a.BBox[1]}
	maxC := domain.Coordinate{Lat: a.BBox[2], Lon: a.BBox[3]}
	switch {
	case strings.TrimSpace(a.Name) == "":
		return errors.New("name is required")
	case !minC.Valid() || !maxC.Valid():
		return fmt.Errorf("bbox %v out of range", a.BBox)
	case minC.Lat > maxC.Lat || minC.Lon > maxC.Lon:
		return fmt.Errorf("bbox %v: min must not exceed max", a.BBox)
	}
	return nil
}

func (a *Area) contains(c domain.Coordinate) bool {
	return c.Lat >= a.BBox[0] && c.Lon >= a.BBox[1] && c.Lat <= a.BBox[2] && c.Lon <= a.BBox[3]
}

func (a *Area) size() float64 {
	return (a.BBox[2] - a.BBox[0]) * (a.BBox[3] - a.BBox[1])
}

func (a *Area) center() domain.Coordinate {
	return domain.Coordinate{Lat: (a.BBox[0] + a.BBox[2]) / 2, Lon: (a.BBox[1] + a.BBox[3]) / 2}
}

func (a *Area) offshore() bool {
	if a.Sea {
		return true
	}
	name := " " + strings.ToUpper(strings.ReplaceAll(a.Name, ",", " ")) + " "
	for _, m := range seaMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

func key(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}
