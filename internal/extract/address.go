package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Membership is the read side of a bloom filter.
type Membership interface {
	TestString(item string) bool
}

// AddressFilters holds the gazetteer filters the address scanner consults.
// A nil filter never matches.
type AddressFilters struct {
	PostCodes      Membership
	Municipalities Membership
	Streets        Membership
}

// Loaded reports whether any gazetteer is available.
func (f AddressFilters) Loaded() bool {
	return f.PostCodes != nil || f.Municipalities != nil || f.Streets != nil
}

// Token tags assigned by the scanner.
const (
	TagExtra        = "EXTRA"
	TagPostCode     = "POST_CODE"
	TagMunicipality = "MUNICIPALITY"
	TagStreet       = "STREET"
	TagNumber       = "NUMBER"
)

const (
	emitThreshold  = 4
	slideThreshold = 10
	slideBy        = 3
	maxNumberRun   = 3
)

var (
	tokenSplit   = regexp.MustCompile(`[;,\s]+`)
	phoneLead    = regexp.MustCompile(`^[0-9.()/-]{9,20}`)
	houseNumber  = regexp.MustCompile(`^[0-9]+[/-]?[0-9]*[a-zA-Z]?$`)
	acceptWords  = wordSet("ROUTE", "RUE", "AVENUE")
	skipWords    = wordSet("BELGIUM", "BELGIE", "-", ",", "DU", "DE", "BUSINESS", "CENTER")
	resetWords   = wordSet("ADRESSE")
	addressLangs = wordSet("be", "fr", "nl", "de", "unknown", "")
	nonASCII     = runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// AddressesEnabled reports whether the scanner supports a content language.
func AddressesEnabled(lang string) bool {
	_, ok := addressLangs[strings.ToLower(lang)]
	return ok
}

// Addresses scans text for address candidates. It returns nil when lang is not
// supported or no gazetteer filter is loaded.
func Addresses(text, lang string, filters AddressFilters) []string {
	if !AddressesEnabled(lang) || !filters.Loaded() {
		return nil
	}
	s := &addressScanner{filters: filters, seen: make(map[string]struct{})}
	for _, word := range tokenSplit.Split(text, -1) {
		s.feed(word)
	}
	return s.out
}

// Fold upper-cases a word and strips diacritics and any remaining non-ASCII
// characters, matching how gazetteer entries are stored.
func Fold(word string) string {
	// Chained transformers carry state, so each call builds its own.
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(nonASCII))
	folded, _, err := transform.String(fold, strings.ToUpper(word))
	if err != nil {
		return ""
	}
	return folded
}

type addressScanner struct {
	filters AddressFilters

	words      []string
	tags       []string
	found      int
	acceptErr  bool
	numCounter int

	seen map[string]struct{}
	out  []string
}

func (s *addressScanner) feed(word string) {
	term := Fold(word)
	if term != "" {
		s.classify(term)
	}

	if s.numCounter > maxNumberRun {
		s.reset()
	}

	if s.found < emitThreshold {
		return
	}
	if s.complete() {
		s.emit(strings.Join(s.words, " "))
		s.reset()
		return
	}
	if s.found >= slideThreshold {
		s.words = s.words[slideBy:]
		s.tags = s.tags[slideBy:]
		s.found -= slideBy
	}
}

func (s *addressScanner) classify(term string) {
	if _, ok := acceptWords[term]; ok {
		s.push(term, TagExtra)
		return
	}
	if _, ok := skipWords[term]; ok {
		return
	}
	if _, ok := resetWords[term]; ok {
		s.reset()
		return
	}
	switch {
	case member(s.filters.PostCodes, term):
		s.push(term, TagPostCode)
		s.numCounter++
	case member(s.filters.Municipalities, term):
		s.push(term, TagMunicipality)
		s.numCounter = 0
	case member(s.filters.Streets, term):
		s.push(term, TagStreet)
		s.numCounter = 0
	case phoneLead.MatchString(term):
		s.reset()
	case houseNumber.MatchString(term):
		s.push(term, TagNumber)
		s.numCounter++
	case !s.acceptErr:
		// One unrecognized word is tolerated until the next reset.
		s.acceptErr = true
	default:
		s.reset()
	}
}

func (s *addressScanner) push(term, tag string) {
	s.words = append(s.words, term)
	s.tags = append(s.tags, tag)
	s.found++
}

func (s *addressScanner) complete() bool {
	var post, muni, num bool
	for _, t := range s.tags {
		switch t {
		case TagPostCode:
			post = true
		case TagMunicipality:
			muni = true
		case TagNumber:
			num = true
		}
	}
	return post && muni && num
}

func (s *addressScanner) emit(address string) {
	if _, ok := s.seen[address]; ok {
		return
	}
	s.seen[address] = struct{}{}
	s.out = append(s.out, address)
}

func (s *addressScanner) reset() {
	s.words = s.words[:0]
	s.tags = s.tags[:0]
	s.found = 0
	s.acceptErr = false
	s.numCounter = 0
}

func member(set Membership, term string) bool {
	return set != nil && set.TestString(term)
}
