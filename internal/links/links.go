// Package links finds same-site sub-pages worth crawling for a listing, such
// as contact or about pages, using per-language URL path catalogs.
package links

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-crawler/internal/country"
)

// MaxCandidates bounds how many links FindLinks returns.
const MaxCandidates = 5

// Category labels a discovered link.
type Category string

// Link categories, in match priority order.
const (
	CategoryContact   Category = "contact"
	CategoryAbout     Category = "about"
	CategoryServices  Category = "services"
	CategoryProducts  Category = "products"
	CategoryLocations Category = "locations"
)

// Candidate is a ranked sub-page.
type Candidate struct {
	URL      string
	Category Category
}

type categoryPattern struct {
	category Category
	pattern  *regexp.Regexp
}

func catalog(contact, about, services, products, locations string) []categoryPattern {
	compile := func(alts string) *regexp.Regexp {
		return regexp.MustCompile(`(?i)/(` + alts + `)`)
	}
	return []categoryPattern{
		{CategoryContact, compile(contact)},
		{CategoryAbout, compile(about)},
		{CategoryServices, compile(services)},
		{CategoryProducts, compile(products)},
		{CategoryLocations, compile(locations)},
	}
}

var catalogs = map[string][]categoryPattern{
	"cs": catalog("kontakt|kontakty|spojeni", "o-nas|o-firme|profil", "sluzby|nabidka|co-delame|reseni",
		"produkty|vyrobky|sortiment", "pobocky|kde-nas-najdete|provozovny"),
	"sk": catalog("kontakt|kontakty", "o-nas|profil", "sluzby|ponuka|riesenia",
		"produkty|vyrobky", "pobocky|kde-nas-najdete"),
	"de": catalog("kontakt|kontaktieren", "uber-uns|unternehmen|profil", "leistungen|dienstleistungen|angebot|losungen",
		"produkte", "standorte|filialen"),
	"en": catalog("contact|contact-us|get-in-touch", "about|about-us|company", "services|what-we-do|solutions",
		"products|our-products", "locations|branches|find-us"),
	"nl": catalog("contact|contacteer|contact-us|neem-contact-op", "over-ons|bedrijf|wie-zijn-wij", "diensten|aanbod|oplossingen",
		"producten", "locaties|vestigingen"),
	"fr": catalog("contact|contactez", "a-propos|entreprise|qui-sommes-nous", "services|prestations|solutions",
		"produits", "emplacements|agences"),
}

// Languages returns the catalog languages to check for a page: the detected
// language first, then every language spoken in the country. English is used
// when none of them has a catalog.
func Languages(lang, countryCode string) []string {
	var out []string
	add := func(l string) {
		if _, ok := catalogs[l]; !ok {
			return
		}
		for _, existing := range out {
			if existing == l {
				return
			}
		}
		out = append(out, l)
	}
	add(strings.ToLower(lang))
	for _, l := range country.Languages(countryCode) {
		add(l)
	}
	if len(out) == 0 {
		out = append(out, "en")
	}
	return out
}

// FindLinks returns up to MaxCandidates same-host links from html whose path
// matches a category pattern, shallowest and shortest paths first.
func FindLinks(html, baseURL, lang, countryCode string) ([]Candidate, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return rank(doc, base, Languages(lang, countryCode)), nil
}

// FindLinksInDocument is FindLinks over an already parsed document.
func FindLinksInDocument(doc *goquery.Document, base *url.URL, lang, countryCode string) []Candidate {
	return rank(doc, base, Languages(lang, countryCode))
}

func rank(doc *goquery.Document, base *url.URL, langs []string) []Candidate {
	host := strings.ToLower(base.Host)
	seen := make(map[string]struct{})
	var candidates []Candidate

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if strings.ToLower(abs.Host) != host {
			return
		}
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		if category, ok := classify(abs.Path, langs); ok {
			seen[link] = struct{}{}
			candidates = append(candidates, Candidate{URL: link, Category: category})
		}
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		di, li := pathRank(candidates[i].URL)
		dj, lj := pathRank(candidates[j].URL)
		if di != dj {
			return di < dj
		}
		return li < lj
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates
}

// classify matches the URL path only, so a host like contact-shop.be does not
// qualify every link on the site.
func classify(path string, langs []string) (Category, bool) {
	for _, lang := range langs {
		for _, p := range catalogs[lang] {
			if p.pattern.MatchString(path) {
				return p.category, true
			}
		}
	}
	return "", false
}

// pathRank returns the number of non-empty path segments and the path length.
func pathRank(link string) (int, int) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, len(link)
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth, len(u.Path)
}
