package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{BodyLengthThreshold: 100})
	require.True(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 200, Body: []byte("  \n")}))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{BodyLengthThreshold: 100})
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<div id="__next"></div>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{BodyLengthThreshold: 1000})
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptedShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{BodyLengthThreshold: 10})
	body := `<html><head><script src="/bundle.js"></script></head><body><div class="loading">Načítám…</div></body></html>`
	require.True(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 200, Body: []byte(body)}))
}

func TestHeuristic_ShouldPromote_StaticPageStays(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{})
	text := strings.Repeat("Firma s.r.o., Hlavní 12, 110 00 Praha. Kontaktujte nás na info@firma.cz. ", 10)
	body := `<html><head><script src="/analytics.js"></script></head><body><p>` + text + `</p></body></html>`
	require.False(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 200, Body: []byte(body)}))
}

func TestHeuristic_ShouldPromote_Always(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{Always: true})
	require.True(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 200, Body: []byte("<p>static</p>")}))
	require.False(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 500}))
}

func TestHeuristic_ShouldPromote_DisabledForErrors(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{BodyLengthThreshold: 100})
	resp := crawler.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}
