// Package detector decides when a probe fetch should be re-done in a headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Config tunes the promotion rules.
type Config struct {
	// BodyLengthThreshold bounds the size of bodies checked for script density.
	BodyLengthThreshold int
	// MinTextChars is the visible text below which a scripted page counts as a shell.
	MinTextChars int
	// Always promotes every successful probe.
	Always bool
}

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	cfg Config
}

// NewHeuristic creates a detector, filling zero thresholds with defaults.
func NewHeuristic(cfg Config) *Heuristic {
	if cfg.BodyLengthThreshold <= 0 {
		cfg.BodyLengthThreshold = 2048
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 200
	}
	return &Heuristic{cfg: cfg}
}

// Site builders whose pages render contact details client-side.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("static.wixstatic.com"),
}

// ShouldPromote decides whether a headless fetch is required. Only 2xx probes
// are promoted; an error status from the probe is final.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if h.cfg.Always {
		return true
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.cfg.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return h.scriptedShell(body)
}

// scriptedShell reports a page that loads scripts but shows almost no text.
func (h *Heuristic) scriptedShell(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find("script[src]").Length() == 0 {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return len(text) < h.cfg.MinTextChars
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// A malformed tag swallows the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
