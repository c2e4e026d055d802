package docpipe

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// DefaultLanguages is the candidate set used when Config.Languages is empty.
var DefaultLanguages = []string{"en", "fr", "de", "es", "it", "nl", "pt"}

// languageSample bounds how much text is handed to the detector.
const languageSample = 4000

// buildLanguageDetector builds a lingua detector restricted to the given
// ISO 639-1 codes. Unknown codes are skipped; lingua needs at least two
// candidates, so a shorter list falls back to DefaultLanguages. Low accuracy
// mode keeps only trigram models in memory; document bodies are long enough
// for it.
func buildLanguageDetector(codes []string) lingua.LanguageDetector {
	langs := resolveLanguages(codes)
	if len(langs) < 2 {
		langs = resolveLanguages(DefaultLanguages)
	}
	return lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithLowAccuracyMode().
		WithPreloadedLanguageModels().
		Build()
}

func resolveLanguages(codes []string) []lingua.Language {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	var out []lingua.Language
	for _, l := range lingua.AllLanguages() {
		if want[l.IsoCode639_1().String()] {
			out = append(out, l)
		}
	}
	return out
}

// detectLanguage returns the lowercase ISO 639-1 code of text, or "".
func detectLanguage(det lingua.LanguageDetector, text string) string {
	if det == nil {
		return ""
	}
	if r := []rune(text); len(r) > languageSample {
		text = string(r[:languageSample])
	}
	if len(strings.Fields(text)) < 3 {
		return ""
	}
	lang, ok := det.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
