package normalize

import (
	"strings"
	"unicode"
)

const maxToponymCandidates = 24

// ToponymCandidates returns the unigrams and bigrams of text that could name
// a place, in order of appearance. Links, mentions, numbers and short words
// are skipped; hashtags contribute their word.
func ToponymCandidates(text string) []string {
	var words []string
	for _, tok := range strings.Fields(text) {
		lower := strings.ToLower(tok)
		if strings.HasPrefix(lower, "http") || strings.HasPrefix(lower, "www.") || strings.HasPrefix(tok, "@") {
			words = append(words, "") // breaks bigrams
			continue
		}
		w := strings.TrimFunc(strings.TrimPrefix(tok, "#"), func(r rune) bool {
			return !unicode.IsLetter(r) && r != '-' && r != '\''
		})
		if len([]rune(w)) < 3 || !hasLetter(w) {
			words = append(words, "")
			continue
		}
		words = append(words, w)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok || len(out) >= maxToponymCandidates {
			return
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	for i, w := range words {
		if w == "" {
			continue
		}
		if i+1 < len(words) && words[i+1] != "" {
			add(w + " " + words[i+1])
		}
		add(w)
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
