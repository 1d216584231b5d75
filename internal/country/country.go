// Package country maps URLs and content languages to the countries whose
// extraction catalogs apply to them.
package country

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Unknown is returned when neither the TLD nor the language identifies a country.
const Unknown = "unknown"

var languagesByCountry = map[string][]string{
	"cz": {"cs"},
	"sk": {"sk", "cs", "hu"},
	"be": {"nl", "fr", "de", "en"},
	"nl": {"nl", "en"},
	"fr": {"fr"},
	"ro": {"ro"},
	"gb": {"en"},
	"de": {"de"},
}

var defaultCountryByLanguage = map[string]string{
	"cs": "cz",
	"sk": "sk",
	"ro": "ro",
	"nl": "nl",
	"fr": "fr",
	"de": "de",
	"en": "gb",
}

// Languages returns the languages spoken in a country, or nil.
func Languages(country string) []string {
	langs := languagesByCountry[strings.ToLower(country)]
	if len(langs) == 0 {
		return nil
	}
	return append([]string(nil), langs...)
}

// Known reports whether country has a language mapping.
func Known(country string) bool {
	_, ok := languagesByCountry[strings.ToLower(country)]
	return ok
}

// DefaultForLanguage returns the fallback country for a language code.
func DefaultForLanguage(lang string) (string, bool) {
	c, ok := defaultCountryByLanguage[strings.ToLower(lang)]
	return c, ok
}

// Detect picks a country for a page. The public suffix of the host wins when it
// is a known country code; otherwise the language default applies.
func Detect(rawURL, lang string) string {
	if suffix := suffixOf(rawURL); suffix != "" && Known(suffix) {
		return suffix
	}
	if c, ok := DefaultForLanguage(lang); ok {
		return c
	}
	return Unknown
}

func suffixOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	return suffix
}
