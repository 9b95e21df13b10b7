package credibility

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

var (
	urlRe = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)

	// magnitudeRe matches "M5.4", "mag 4,8", "magnitude: 6" or a bare "5.4".
	magnitudeRe = regexp.MustCompile(`(?i)\b(?:m|mag|magnitude|mw|ml|mb|richter)\s*[:=]?\s*\d+(?:[.,]\d+)?\b|\b\d[.,]\d\b`)

	mentionRe = regexp.MustCompile(`(?:^|\s)@\w+`)
	hashtagRe = regexp.MustCompile(`(?:^|\s)#\w+`)
)

// Features are the textual signals the scoring rules look at.
type Features struct {
	Length       int // runes, URLs excluded
	Letters      int
	Upper        int
	Exclamations int
	Questions    int
	DoubleExcl   bool
	DoubleQuest  bool
	HasURL       bool
	HasMagnitude bool
	Mentions     int
	Hashtags     int
	Emoji        int
	WorriedEmoji bool

	// Filled from keyword matching once the languages are known.
	Intensity       domain.IntensityLevel
	Intensifier     bool
	Laughter        bool
	Simulation      bool
	UnknownLanguage bool
}

// UppercaseRatio is the share of letters written in upper case.
func (f Features) UppercaseRatio() float64 {
	if f.Letters == 0 {
		return 0
	}
	return float64(f.Upper) / float64(f.Letters)
}

// worried lists emoji that accompany genuine alarm.
var worried = map[rune]struct{}{
	'😱': {}, '😨': {}, '😰': {}, '😧': {}, '😳': {}, '🙏': {}, '😮': {}, '😲': {},
}

// ExtractFeatures computes the surface features of a post.
func ExtractFeatures(text string) Features {
	stripped := urlRe.ReplaceAllString(text, "")
	f := Features{
		Length:       utf8.RuneCountInString(strings.TrimSpace(stripped)),
		HasURL:       urlRe.MatchString(text),
		HasMagnitude: magnitudeRe.MatchString(stripped),
		Mentions:     len(mentionRe.FindAllString(text, -1)),
		Hashtags:     len(hashtagRe.FindAllString(text, -1)),
		DoubleExcl:   strings.Contains(text, "!!"),
		DoubleQuest:  strings.Contains(text, "??"),
	}
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r):
			f.Letters++
			if unicode.IsUpper(r) {
				f.Upper++
			}
		case r == '!' || r == '¡':
			f.Exclamations++
		case r == '?' || r == '¿':
			f.Questions++
		case isEmoji(r):
			f.Emoji++
			if _, ok := worried[r]; ok {
				f.WorriedEmoji = true
			}
		}
	}
	return f
}

func isEmoji(r rune) bool {
	return (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF)
}

// words splits folded text into letter/digit runs.
func words(folded string) []string {
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.Is(unicode.Mn, r)
	})
}
