// Package language guesses the content language of a fetched page.
package language

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
)

const (
	// declaredConfidence is reported when the page declares its language.
	declaredConfidence = 0.99
	minTextLength      = 50
	maxTextLength      = 10_000
)

// codes maps the languages the extraction catalogs support to their
// two-letter codes. Detection is restricted to these.
var codes = map[whatlanggo.Lang]string{
	whatlanggo.Ces: "cs",
	whatlanggo.Slk: "sk",
	whatlanggo.Deu: "de",
	whatlanggo.Eng: "en",
	whatlanggo.Nld: "nl",
	whatlanggo.Fra: "fr",
	whatlanggo.Ron: "ro",
}

// Detector reads the html lang attribute and falls back to trigram detection
// over visible text.
type Detector struct {
	options whatlanggo.Options
}

// NewDetector builds a detector limited to the supported languages.
func NewDetector() *Detector {
	whitelist := make(map[whatlanggo.Lang]bool, len(codes))
	for lang := range codes {
		whitelist[lang] = true
	}
	return &Detector{options: whatlanggo.Options{Whitelist: whitelist}}
}

// Detect returns a two-letter language code and a confidence in [0,1]. An
// empty code means the language could not be determined.
func (d *Detector) Detect(html string) (string, float64) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", 0
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		if code := declared(lang); code != "" {
			return code, declaredConfidence
		}
	}

	doc.Find("script,style,noscript").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	if len(text) < minTextLength {
		return "", 0
	}

	info := whatlanggo.DetectWithOptions(text, d.options)
	code, ok := codes[info.Lang]
	if !ok {
		return "", 0
	}
	return code, info.Confidence
}

func declared(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) < 2 {
		return ""
	}
	return lang[:2]
}
