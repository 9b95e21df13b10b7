// Package credibility scores unofficial posts and extracts quake parameters
// from monitored known-format accounts.
package credibility

import (
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"golang.org/x/text/language"
)

// Assessment is the scorer's verdict on one post.
type Assessment struct {
	Score         float64
	LanguageMatch bool
	Intensity     domain.IntensityLevel
	Matched       []string // names of the rules that fired
}

// Scorer evaluates the weighted rule list over a post.
type Scorer struct {
	rules    []Rule
	baseline float64
	floor    float64
	accounts map[string]MonitoredAccount
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithRules replaces the default rule list.
func WithRules(rules []Rule) Option {
	return func(s *Scorer) { s.rules = rules }
}

// WithAccounts registers monitored known-format accounts.
func WithAccounts(accounts []MonitoredAccount) Option {
	return func(s *Scorer) {
		for _, a := range accounts {
			s.accounts[normalizeHandle(a.Handle)] = a
		}
	}
}

// NewScorer creates a Scorer. floor must be positive so accepted posts always
// contribute a strictly positive score. Scores below floor decay towards zero
// instead of being clamped, so every negative rule still lowers the result.
func NewScorer(baseline, floor float64, opts ...Option) *Scorer {
	s := &Scorer{
		rules:    DefaultRules(),
		baseline: baseline,
		floor:    floor,
		accounts: make(map[string]MonitoredAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score checks language consistency and computes the credibility of a post
// whose location resolved with the given confidence. It returns an error
// wrapping domain.ErrLanguageMismatch when the post must be rejected.
func (s *Scorer) Score(obs domain.Observation, locationConfidence float64) (Assessment, error) {
	folded := fold(obs.Text)
	m := newMatcher(folded, words(folded))

	langs := m.quakeLanguages()
	if len(langs) == 0 {
		return Assessment{}, fmt.Errorf("score %s: no earthquake keyword: %w", obs.ID, domain.ErrLanguageMismatch)
	}

	stated, known := baseLanguage(obs.Language)
	match := false
	if known {
		if _, ok := langs[stated]; !ok {
			return Assessment{}, fmt.Errorf("score %s: keyword language does not match %q: %w",
				obs.ID, obs.Language, domain.ErrLanguageMismatch)
		}
		match = true
		// Only the stated language's vocabulary describes the post.
		langs = map[string]struct{}{stated: {}}
	}

	f := ExtractFeatures(obs.Text)
	f.Intensity = m.intensity(langs)
	f.Intensifier = m.anyIn(langs, func(v *vocabulary) []string { return v.intensifiers })
	f.Laughter = m.anyIn(langs, func(v *vocabulary) []string { return v.laughter })
	f.Simulation = m.anyIn(langs, func(v *vocabulary) []string { return v.simulation })
	f.UnknownLanguage = !known

	sum := s.baseline
	var matched []string
	for _, r := range s.rules {
		if r.Match(f) {
			sum += r.Weight
			matched = append(matched, r.Name)
		}
	}

	score := sum * locationConfidence
	if score < s.floor {
		score = s.floor * math.Exp(score-s.floor)
	}
	return Assessment{
		Score:         score,
		LanguageMatch: match,
		Intensity:     f.Intensity,
		Matched:       matched,
	}, nil
}

// baseLanguage returns the ISO 639 base of a language tag when it is one the
// vocabularies cover.
func baseLanguage(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", false
	}
	base, conf := t.Base()
	if conf == language.No {
		return "", false
	}
	b := base.String()
	if _, ok := vocabularies[b]; !ok {
		return "", false
	}
	return b, true
}
