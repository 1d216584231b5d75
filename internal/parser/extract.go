// Package parser turns fetched pages into listing snapshots: it extracts
// contact facts and structured metadata, scores the result and feeds
// discovered sub-pages back into the queue.
package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/listing-crawler/internal/country"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/extract"
	"github.com/JakeFAU/listing-crawler/internal/links"
)

// Page is the input of one extraction.
type Page struct {
	URL      string
	HTML     string
	Language string
}

// Extraction is what one page yields.
type Extraction struct {
	Data  crawler.SnapshotData
	Links []links.Candidate
}

// boilerplate is removed before text extraction. Anchors and metadata are
// read first, so navigation links still reach the social and link scanners.
const boilerplate = "script, style, noscript, template, nav, footer"

// ExtractPage parses html and runs every extractor over it. It fails only
// when the URL or document cannot be parsed; a broken JSON-LD block is
// skipped.
func ExtractPage(page Page, filters extract.AddressFilters) (Extraction, error) {
	base, err := url.Parse(page.URL)
	if err != nil {
		return Extraction{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	lang := strings.ToLower(page.Language)
	cc := country.Detect(page.URL, lang)

	hrefs := doc.Find("a[href]").Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.AttrOr("href", ""))
	})
	structured, ld := structuredData(doc)
	title := strings.TrimSpace(doc.Find("title").First().Text())
	candidates := links.FindLinksInDocument(doc, base, lang, cc)

	doc.Find(boilerplate).Remove()
	text := visibleText(doc.Nodes)

	contacts := extract.ExtractContacts(text, cc)
	data := crawler.SnapshotData{
		URL:          page.URL,
		Language:     lang,
		Country:      cc,
		CompanyName:  companyName(ld, structured, title),
		Emails:       nonNil(contacts.Emails),
		Phones:       nonNil(contacts.Phones),
		OrgNum:       optional(contacts.OrgNum),
		Addresses:    nonNil(extract.Addresses(text, cc, filters)),
		OpeningHours: openingHours(ld),
		SocialMedia:  extract.SocialMedia(hrefs),
	}
	if !structured.Empty() {
		data.Structured = structured
	}
	return Extraction{Data: data, Links: candidates}, nil
}

// ldNode is the JSON-LD fields the parser reads.
type ldNode struct {
	Name         string          `json:"name"`
	OpeningHours json.RawMessage `json:"openingHours"`
}

func structuredData(doc *goquery.Document) (*crawler.StructuredData, *ldNode) {
	sd := &crawler.StructuredData{}

	if og := openGraph(doc); len(og) > 0 {
		sd.OpenGraph = og
	}

	script := doc.Find(`script[type="application/ld+json"]`).First()
	if script.Length() == 0 {
		return sd, nil
	}
	raw, node, ok := pickLDNode([]byte(strings.TrimSpace(script.Text())))
	if !ok {
		return sd, nil
	}
	sd.JSONLD = raw
	return sd, node
}

// pickLDNode accepts a JSON-LD object, or an array whose first object has a
// name.
func pickLDNode(payload []byte) (json.RawMessage, *ldNode, bool) {
	if len(payload) == 0 {
		return nil, nil, false
	}
	if payload[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, nil, false
		}
		for _, item := range items {
			var node ldNode
			if json.Unmarshal(item, &node) == nil && node.Name != "" {
				return item, &node, true
			}
		}
		return nil, nil, false
	}
	var node ldNode
	if err := json.Unmarshal(payload, &node); err != nil {
		return nil, nil, false
	}
	return json.RawMessage(payload), &node, true
}

func openGraph(doc *goquery.Document) map[string]string {
	og := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop := strings.TrimPrefix(s.AttrOr("property", ""), "og:")
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if prop == "" || content == "" {
			return
		}
		if _, seen := og[prop]; !seen {
			og[prop] = content
		}
	})
	return og
}

// companyName prefers the JSON-LD name, then og:site_name, then the title.
func companyName(ld *ldNode, sd *crawler.StructuredData, title string) *string {
	if ld != nil {
		if name := strings.TrimSpace(ld.Name); name != "" {
			return &name
		}
	}
	if name := sd.OpenGraph["site_name"]; name != "" {
		return &name
	}
	return optional(title)
}

func openingHours(ld *ldNode) []string {
	if ld == nil || len(ld.OpeningHours) == 0 {
		return nil
	}
	var single string
	if json.Unmarshal(ld.OpeningHours, &single) == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
		return nil
	}
	var many []string
	if json.Unmarshal(ld.OpeningHours, &many) != nil {
		return nil
	}
	out := many[:0]
	for _, h := range many {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// visibleText joins every text node with single spaces so that adjacent
// block elements never glue two values together.
func visibleText(nodes []*html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
