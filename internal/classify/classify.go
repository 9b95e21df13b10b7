// Package classify decides the public dissemination tier of an event, its
// tsunami flag, and which known-location recipients are due a personalized
// alert.
package classify

import (
	"math"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// maxDepthKm bounds depth estimates used in travel-time computations.
const maxDepthKm = 700.0

// RecipientDirectory lists recipients eligible for personalized alerts.
type RecipientDirectory interface {
	Recipients() []domain.Recipient
}

// Config holds the classification policy.
type Config struct {
	ReactionLatency        time.Duration
	SWaveSpeedKmS          float64
	DefaultDepthKm         float64
	WarningMagnitude       float64
	WarningAreaFraction    float64
	TsunamiMinMagnitude    float64
	TsunamiMaxDepthKm      float64
	PersonalLeadWindow     time.Duration
	PersonalTrailingWindow time.Duration
}

// ConfigFromPolicy extracts the classification settings from the policy.
func ConfigFromPolicy(p config.Policy) Config {
	return Config{
		ReactionLatency:        p.ReactionLatency,
		SWaveSpeedKmS:          p.SWaveSpeedKmS,
		DefaultDepthKm:         p.DefaultDepthKm,
		WarningMagnitude:       p.WarningMagnitude,
		WarningAreaFraction:    p.WarningAreaFraction,
		TsunamiMinMagnitude:    p.TsunamiMinMagnitude,
		TsunamiMaxDepthKm:      p.TsunamiMaxDepthKm,
		PersonalLeadWindow:     p.PersonalLeadWindow,
		PersonalTrailingWindow: p.PersonalTrailingWindow,
	}
}

// Decision is the outcome of classifying one event.
type Decision struct {
	Tier     domain.DisseminationState
	Raised   bool // tier advanced during this call
	Tsunami  bool // tsunami flag raised during this call
	Personal []domain.PersonalAlert
}

// Classifier mutates the dissemination fields of events. It is not safe for
// concurrent use.
type Classifier struct {
	cfg        Config
	recipients RecipientDirectory
}

// New creates a Classifier. recipients may be nil, which disables
// personalized alerts.
func New(cfg Config, recipients RecipientDirectory) *Classifier {
	if cfg.DefaultDepthKm <= 0 {
		cfg.DefaultDepthKm = domain.DefaultDepthKm
	}
	return &Classifier{cfg: cfg, recipients: recipients}
}

// OriginTime estimates when the event happened: the authoritative origin for
// official events, otherwise the earliest evidence minus the reaction latency.
func (c *Classifier) OriginTime(ev *domain.Event) time.Time {
	if ev.Official {
		return ev.OriginTime
	}
	return ev.FirstEvidenceAt.Add(-c.cfg.ReactionLatency)
}

// SWaveArrival estimates when the S wave reaches point. Depth only lengthens
// the hypocentral path; it never alters the wave speed.
func SWaveArrival(origin time.Time, epicenter domain.Coordinate, depthKm float64, point domain.Coordinate, speedKmS float64) time.Time {
	depthKm = math.Min(maxDepthKm, math.Max(0, depthKm))
	surface := domain.DistanceKm(epicenter, point)
	path := math.Hypot(surface, depthKm)
	return origin.Add(time.Duration(path / speedKmS * float64(time.Second)))
}

// UnreachedFraction returns the share of the felt area the S wave has not
// yet swept at now.
func (c *Classifier) UnreachedFraction(ev *domain.Event, now time.Time) float64 {
	if ev.FeltRadiusKm <= 0 {
		return 0
	}
	elapsed := now.Sub(c.OriginTime(ev)).Seconds()
	if elapsed <= 0 {
		return 1
	}
	depth := c.depth(ev)
	front := elapsed * c.cfg.SWaveSpeedKmS
	reached := math.Sqrt(math.Max(0, front*front-depth*depth))
	frac := 1 - (reached*reached)/(ev.FeltRadiusKm*ev.FeltRadiusKm)
	return math.Max(0, frac)
}

// Classify updates ev's dissemination tier and tsunami flag and selects the
// recipients due a personalized alert now. Selected recipients are recorded
// in ev.NotifiedRecipients so each is chosen at most once per event.
func (c *Classifier) Classify(ev *domain.Event, now time.Time) Decision {
	if ev.State == domain.EventRetracted {
		return Decision{Tier: ev.Dissemination}
	}

	prev := ev.Dissemination
	ev.Dissemination = prev.Advance(c.tier(ev, now))
	d := Decision{Tier: ev.Dissemination, Raised: ev.Dissemination > prev}

	if !ev.Tsunami && c.tsunamiRisk(ev) {
		ev.Tsunami = true
		d.Tsunami = true
	}

	if ev.Dissemination >= domain.DisseminationPreliminary {
		d.Personal = c.personalize(ev, now)
	}
	return d
}

func (c *Classifier) tier(ev *domain.Event, now time.Time) domain.DisseminationState {
	if ev.State == domain.EventCandidate {
		return domain.DisseminationNotSent
	}
	if ev.Magnitude != nil && *ev.Magnitude >= c.cfg.WarningMagnitude &&
		c.UnreachedFraction(ev, now) >= c.cfg.WarningAreaFraction {
		return domain.DisseminationWarningIssued
	}
	if ev.Official {
		return domain.DisseminationConfirmed
	}
	return domain.DisseminationPreliminary
}

func (c *Classifier) tsunamiRisk(ev *domain.Event) bool {
	if !ev.Official || ev.Magnitude == nil {
		return false
	}
	if !ev.SeaBased && !ev.TsunamiFlag {
		return false
	}
	return *ev.Magnitude >= c.cfg.TsunamiMinMagnitude && c.depth(ev) <= c.cfg.TsunamiMaxDepthKm
}

func (c *Classifier) personalize(ev *domain.Event, now time.Time) []domain.PersonalAlert {
	if c.recipients == nil {
		return nil
	}
	origin := c.OriginTime(ev)
	depth := c.depth(ev)

	var due []domain.PersonalAlert
	for _, r := range c.recipients.Recipients() {
		if _, done := ev.NotifiedRecipients[r.ID]; done {
			continue
		}
		dist := domain.DistanceKm(ev.Epicenter, r.Coordinate)
		if dist > ev.FeltRadiusKm {
			continue
		}
		arrival := SWaveArrival(origin, ev.Epicenter, depth, r.Coordinate, c.cfg.SWaveSpeedKmS)
		if now.Before(arrival.Add(-c.cfg.PersonalLeadWindow)) || now.After(arrival.Add(c.cfg.PersonalTrailingWindow)) {
			continue
		}
		if ev.NotifiedRecipients == nil {
			ev.NotifiedRecipients = make(map[string]struct{})
		}
		ev.NotifiedRecipients[r.ID] = struct{}{}
		due = append(due, domain.PersonalAlert{
			RecipientID: r.ID,
			DistanceKm:  dist,
			ArrivalAt:   arrival,
		})
	}
	ev.PendingPersonal = append(ev.PendingPersonal, due...)
	return due
}

func (c *Classifier) depth(ev *domain.Event) float64 {
	if ev.DepthKm != nil {
		return *ev.DepthKm
	}
	return c.cfg.DefaultDepthKm
}
