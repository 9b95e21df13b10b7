package credibility

import (
	"strings"
	"unicode"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// vocabulary lists the keywords of one language. Entries are folded at init.
type vocabulary struct {
	quake        []string
	weak         []string
	strong       []string
	severe       []string
	destructive  []string
	intensifiers []string
	laughter     []string
	simulation   []string
}

// vocabularies are keyed by ISO 639 base language.
var vocabularies = map[string]*vocabulary{
	"en": {
		quake:        []string{"earthquake", "earthquakes", "quake", "tremor"},
		weak:         []string{"small", "light", "minor", "weak", "slight"},
		strong:       []string{"strong", "big", "huge", "massive", "violent"},
		severe:       []string{"very strong", "terrifying", "so strong"},
		destructive:  []string{"destroyed", "collapsed", "rubble", "buildings down"},
		intensifiers: []string{"very", "really", "omg", "wow", "scary"},
		laughter:     []string{"lol", "lmao", "haha", "hahaha"},
		simulation:   []string{"drill", "simulation", "exercise"},
	},
	"es": {
		quake:        []string{"terremoto", "sismo", "temblor", "temblando", "está temblando"},
		weak:         []string{"leve", "pequeño", "suave"},
		strong:       []string{"fuerte", "grande"},
		severe:       []string{"muy fuerte", "fortísimo"},
		destructive:  []string{"derrumbe", "destruido", "se cayó"},
		intensifiers: []string{"muy", "dios mio", "dios mío"},
		laughter:     []string{"jaja", "jajaja", "jajajaja"},
		simulation:   []string{"simulacro"},
	},
	"it": {
		quake:        []string{"terremoto", "scossa", "sisma"},
		weak:         []string{"lieve", "leggera", "piccola"},
		strong:       []string{"forte", "grande"},
		severe:       []string{"fortissima", "molto forte"},
		destructive:  []string{"crollato", "crolli", "macerie"},
		intensifiers: []string{"molto", "paura"},
		laughter:     []string{"ahah", "ahahah"},
		simulation:   []string{"esercitazione"},
	},
	"pt": {
		quake:        []string{"terremoto", "sismo", "tremor de terra"},
		weak:         []string{"fraco", "leve"},
		strong:       []string{"forte"},
		severe:       []string{"muito forte"},
		destructive:  []string{"destruído", "desabou"},
		intensifiers: []string{"muito", "meu deus"},
		laughter:     []string{"kkk", "kkkk", "rsrs"},
		simulation:   []string{"simulado"},
	},
	"fr": {
		quake:        []string{"séisme", "seisme", "tremblement de terre"},
		weak:         []string{"léger", "faible"},
		strong:       []string{"fort", "gros"},
		severe:       []string{"très fort"},
		destructive:  []string{"détruit", "effondré"},
		intensifiers: []string{"très", "vraiment"},
		laughter:     []string{"mdr", "ptdr"},
		simulation:   []string{"exercice"},
	},
	"de": {
		quake:        []string{"erdbeben", "beben"},
		weak:         []string{"leicht", "schwach"},
		strong:       []string{"stark", "heftig"},
		severe:       []string{"sehr stark"},
		destructive:  []string{"eingestürzt", "zerstört"},
		intensifiers: []string{"sehr", "krass"},
		laughter:     []string{"haha"},
		simulation:   []string{"übung"},
	},
	"tr": {
		quake:        []string{"deprem"},
		weak:         []string{"hafif", "küçük"},
		strong:       []string{"şiddetli", "büyük", "sert"},
		severe:       []string{"çok şiddetli", "çok büyük"},
		destructive:  []string{"yıkıldı", "enkaz", "çöktü"},
		intensifiers: []string{"çok", "allahım"},
		laughter:     []string{"jsjsjs", "asdfasdf"},
		simulation:   []string{"tatbikat"},
	},
	"el": {
		quake:        []string{"σεισμός", "σεισμος", "σεισμό", "σεισμο"},
		weak:         []string{"ελαφρύς", "μικρός"},
		strong:       []string{"δυνατός", "ισχυρός"},
		severe:       []string{"πολύ δυνατός"},
		destructive:  []string{"κατέρρευσε", "ζημιές"},
		intensifiers: []string{"πολύ"},
		laughter:     []string{"χαχα"},
		simulation:   []string{"άσκηση"},
	},
	"id": {
		quake:        []string{"gempa", "gempa bumi"},
		weak:         []string{"lemah", "kecil"},
		strong:       []string{"kuat", "besar", "kencang"},
		severe:       []string{"sangat kuat"},
		destructive:  []string{"roboh", "hancur"},
		intensifiers: []string{"sangat", "banget"},
		laughter:     []string{"wkwk", "wkwkwk"},
		simulation:   []string{"simulasi"},
	},
	"ja": {
		quake:        []string{"地震", "揺れ", "ゆれ"},
		weak:         []string{"小さい", "弱い"},
		strong:       []string{"強い", "大きい", "でかい"},
		severe:       []string{"震度6", "震度６"},
		destructive:  []string{"倒壊", "震度7", "震度７"},
		intensifiers: []string{"めっちゃ", "すごい"},
		laughter:     []string{"笑", "www"},
		simulation:   []string{"訓練"},
	},
}

// fold normalizes text for keyword matching. A Caser holds state, so each
// call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func init() {
	for _, v := range vocabularies {
		for _, list := range []*[]string{&v.quake, &v.weak, &v.strong, &v.severe, &v.destructive, &v.intensifiers, &v.laughter, &v.simulation} {
			for i, kw := range *list {
				(*list)[i] = fold(kw)
			}
		}
	}
}

// matcher answers keyword questions over one folded text.
type matcher struct {
	folded string
	padded string // folded words joined by single spaces, padded at both ends
}

func newMatcher(folded string, words []string) matcher {
	return matcher{folded: folded, padded: " " + strings.Join(words, " ") + " "}
}

// has reports whether kw occurs as a whole word or phrase. Keywords in scripts
// written without spaces are matched as substrings.
func (m matcher) has(kw string) bool {
	if spaceless(kw) {
		return strings.Contains(m.folded, kw)
	}
	return strings.Contains(m.padded, " "+kw+" ")
}

func (m matcher) any(kws []string) bool {
	for _, kw := range kws {
		if m.has(kw) {
			return true
		}
	}
	return false
}

func spaceless(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Thai) {
			return true
		}
	}
	return false
}

// quakeLanguages returns the base languages whose earthquake keywords occur.
func (m matcher) quakeLanguages() map[string]struct{} {
	found := make(map[string]struct{})
	for lang, v := range vocabularies {
		if m.any(v.quake) {
			found[lang] = struct{}{}
		}
	}
	return found
}

// intensity returns the strongest intensity described in any of langs.
func (m matcher) intensity(langs map[string]struct{}) domain.IntensityLevel {
	level := domain.IntensityUnknown
	for lang := range langs {
		v := vocabularies[lang]
		switch {
		case m.any(v.destructive):
			level = max(level, domain.IntensityDestructive)
		case m.any(v.severe):
			level = max(level, domain.IntensitySevere)
		case m.any(v.strong):
			level = max(level, domain.IntensityStrong)
		case m.any(v.weak):
			level = max(level, domain.IntensityWeak)
		}
	}
	return level
}

func (m matcher) anyIn(langs map[string]struct{}, pick func(*vocabulary) []string) bool {
	for lang := range langs {
		if m.any(pick(vocabularies[lang])) {
			return true
		}
	}
	return false
}
