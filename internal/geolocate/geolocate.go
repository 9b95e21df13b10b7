// Package geolocate resolves one coordinate for an observation from the best
// location signal it carries.
package geolocate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Confidence assigned per location source. Toponym confidence is further
// divided by the number of equally specific matches.
const (
	explicitConfidence = 1.0
	profileConfidence  = 0.8
	toponymConfidence  = 0.7
)

// Gazetteer resolves a place name or free-form declared location.
type Gazetteer interface {
	Lookup(ctx context.Context, name string) (domain.Place, bool, error)
}

// ToponymResolver names the place and region around a coordinate.
type ToponymResolver interface {
	ResolveToponym(ctx context.Context, c domain.Coordinate) (domain.Region, error)
}

// Geolocator applies the fixed preference order explicit, profile, toponyms.
// The first signal that resolves wins; signals are never blended.
type Geolocator struct {
	gazetteer Gazetteer
	toponyms  ToponymResolver
	logger    *slog.Logger
}

// New creates a Geolocator. toponyms may be nil, in which case explicit
// coordinates are returned without a place name.
func New(g Gazetteer, toponyms ToponymResolver, logger *slog.Logger) *Geolocator {
	return &Geolocator{gazetteer: g, toponyms: toponyms, logger: logger}
}

// Locate returns the resolved location or an error wrapping
// domain.ErrUnresolvableLocation.
func (g *Geolocator) Locate(ctx context.Context, obs domain.Observation) (domain.Resolution, error) {
	loc := obs.Location

	if loc.Explicit != nil && loc.Explicit.Valid() {
		res := domain.Resolution{
			Coordinate: *loc.Explicit,
			Source:     domain.LocationExplicit,
			Confidence: explicitConfidence,
		}
		g.nameCoordinate(ctx, &res)
		return res, nil
	}

	if profile := strings.TrimSpace(loc.Profile); profile != "" {
		if place, ok := g.lookupProfile(ctx, profile); ok {
			return domain.Resolution{
				Coordinate: place.Coordinate,
				Toponym:    place.Name,
				Region:     place.Region,
				Source:     domain.LocationProfile,
				Confidence: profileConfidence,
			}, nil
		}
	}

	if len(loc.Toponyms) > 0 {
		if res, ok := g.resolveToponyms(ctx, loc.Toponyms); ok {
			return res, nil
		}
	}

	return domain.Resolution{}, fmt.Errorf("locate observation %s: %w", obs.ID, domain.ErrUnresolvableLocation)
}

func (g *Geolocator) nameCoordinate(ctx context.Context, res *domain.Resolution) {
	if g.toponyms == nil {
		return
	}
	region, err := g.toponyms.ResolveToponym(ctx, res.Coordinate)
	if err != nil {
		g.logger.Debug("reverse toponym lookup failed", "error", err,
			"lat", res.Coordinate.Lat, "lon", res.Coordinate.Lon)
		return
	}
	res.Toponym = region.Toponym
	res.Region = region.Name
}

// lookupProfile tries the whole declared location first, then each
// comma-separated part, so "Bornova, Izmir, Turkey" still resolves when only
// "Izmir" is known.
func (g *Geolocator) lookupProfile(ctx context.Context, profile string) (domain.Place, bool) {
	candidates := []string{profile}
	if strings.Contains(profile, ",") {
		for part := range strings.SplitSeq(profile, ",") {
			if part = strings.TrimSpace(part); part != "" {
				candidates = append(candidates, part)
			}
		}
	}
	for _, name := range candidates {
		if place, ok := g.lookup(ctx, name); ok {
			return place, true
		}
	}
	return domain.Place{}, false
}

func (g *Geolocator) resolveToponyms(ctx context.Context, names []string) (domain.Resolution, bool) {
	seen := make(map[string]struct{}, len(names))
	var matches []domain.Place
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if place, ok := g.lookup(ctx, name); ok {
			matches = append(matches, place)
		}
	}
	if len(matches) == 0 {
		return domain.Resolution{}, false
	}

	best := BestPlace(matches)
	ties := 0
	for _, m := range matches {
		if m.Specificity == best.Specificity {
			ties++
		}
	}
	return domain.Resolution{
		Coordinate: best.Coordinate,
		Toponym:    best.Name,
		Region:     best.Region,
		Source:     domain.LocationToponyms,
		Confidence: toponymConfidence / float64(ties),
	}, true
}

func (g *Geolocator) lookup(ctx context.Context, name string) (domain.Place, bool) {
	place, ok, err := g.gazetteer.Lookup(ctx, name)
	if err != nil {
		g.logger.Debug("gazetteer lookup failed", "name", name, "error", err)
		return domain.Place{}, false
	}
	return place, ok && place.Coordinate.Valid()
}

// BestPlace picks the most specific match, then the most populous, then the
// longest name.
func BestPlace(places []domain.Place) domain.Place {
	return slices.MaxFunc(places, func(a, b domain.Place) int {
		return cmp.Or(
			cmp.Compare(a.Specificity, b.Specificity),
			cmp.Compare(a.Population, b.Population),
			cmp.Compare(len(a.Name), len(b.Name)),
		)
	})
}

// Chain queries gazetteers in order and returns the first match. Errors are
// only reported when no gazetteer produced an answer.
type Chain []Gazetteer

func (c Chain) Lookup(ctx context.Context, name string) (domain.Place, bool, error) {
	var errs []error
	for _, g := range c {
		place, ok, err := g.Lookup(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return place, true, nil
		}
	}
	return domain.Place{}, false, errors.Join(errs...)
}

// ToponymChain queries resolvers in order and returns the first non-empty
// region.
type ToponymChain []ToponymResolver

func (c ToponymChain) ResolveToponym(ctx context.Context, coord domain.Coordinate) (domain.Region, error) {
	var errs []error
	for _, r := range c {
		region, err := r.ResolveToponym(ctx, coord)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if region != (domain.Region{}) {
			return region, nil
		}
	}
	return domain.Region{}, errors.Join(errs...)
}
