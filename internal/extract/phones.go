package extract

import (
	"regexp"
	"strings"
)

// fallbackPhoneCountry is used when a country has no dedicated pattern.
const fallbackPhoneCountry = "cz"

var phonePatterns = map[string]*regexp.Regexp{
	"cz": regexp.MustCompile(`\+?420\s?\d{3}\s?\d{3}\s?\d{3}`),
	"sk": regexp.MustCompile(`\+?421\s?\d{3}\s?\d{3}\s?\d{3}`),
	"de": regexp.MustCompile(`\+?49\s?\d{3,4}\s?\d{3,8}`),
	"nl": regexp.MustCompile(`\+?31\s?\d{2,3}\s?\d{6,7}`),
	"fr": regexp.MustCompile(`\+?33\s?\d{1}\s?\d{2}\s?\d{2}\s?\d{2}\s?\d{2}`),
	"gb": regexp.MustCompile(`\+?44\s?\d{4}\s?\d{6}`),
	// Belgian numbers appear with a 0032, +32 or trunk 0 prefix, a one or two
	// digit area code or a 4xx mobile prefix, and free use of / . - separators.
	"be": regexp.MustCompile(`(?:0032|\+32|0)[\s\-.]?(?:[1-9][\s\-./]?[0-9]|4[5-9][0-9])(?:[\s\-./]*\d){6,8}`),
}

// Phones returns the distinct phone numbers in text using the pattern for
// country. Numbers are normalized to their digits, keeping a leading plus.
func Phones(text, country string) []string {
	pattern, ok := phonePatterns[strings.ToLower(country)]
	if !ok {
		pattern = phonePatterns[fallbackPhoneCountry]
	}
	matches := pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		phone := NormalizePhone(m)
		if phone == "" {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, phone)
	}
	return out
}

// NormalizePhone strips separators from a matched number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
