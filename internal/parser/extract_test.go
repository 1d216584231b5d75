package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/extract"
	"github.com/JakeFAU/listing-crawler/internal/links"
)

const bakeryPage = `<!doctype html>
<html lang="cs"><head>
<title> Pekárna Novák </title>
<meta property="og:site_name" content="Pekárna Novák - web">
<meta property="og:type" content="website">
<script type="application/ld+json">{"@type":"Bakery","name":"Pekárna Novák s.r.o.","openingHours":["Mo-Fr 07:00-18:00"," "]}</script>
</head><body>
<nav><a href="/kontakt">Kontakt</a><a href="https://www.facebook.com/pekarnanovak">Facebook</a></nav>
<p>Email: info@pekarna-novak.cz</p><p>Tel: +420 603 123 456</p><p>IČO: 25596641</p>
<script>var tracking = "spam@tracker.cz";</script>
<footer>archiv@footer.cz</footer>
</body></html>`

func TestExtractPage_CzechListing(t *testing.T) {
	t.Parallel()

	ext, err := ExtractPage(Page{URL: "https://www.pekarna-novak.cz/", HTML: bakeryPage, Language: "cs"}, extract.AddressFilters{})
	require.NoError(t, err)

	d := ext.Data
	require.Equal(t, "cz", d.Country)
	require.Equal(t, "cs", d.Language)
	require.NotNil(t, d.CompanyName)
	require.Equal(t, "Pekárna Novák s.r.o.", *d.CompanyName)
	require.Equal(t, []string{"info@pekarna-novak.cz"}, d.Emails)
	require.Equal(t, []string{"+420603123456"}, d.Phones)
	require.NotNil(t, d.OrgNum)
	require.Equal(t, "25596641", *d.OrgNum)
	require.Equal(t, []string{"Mo-Fr 07:00-18:00"}, d.OpeningHours)
	require.Equal(t, map[string]string{"facebook": "https://www.facebook.com/pekarnanovak"}, d.SocialMedia)
	require.Empty(t, d.Addresses)
	require.NotNil(t, d.Addresses)

	require.NotNil(t, d.Structured)
	require.Equal(t, "website", d.Structured.OpenGraph["type"])
	require.Contains(t, string(d.Structured.JSONLD), "Bakery")

	require.Equal(t, []links.Candidate{{URL: "https://www.pekarna-novak.cz/kontakt", Category: links.CategoryContact}}, ext.Links)
}

func TestExtractPage_CompanyNameFallbacks(t *testing.T) {
	t.Parallel()

	og := `<html><head><title>Title</title><meta property="og:site_name" content="OG Name"></head><body></body></html>`
	ext, err := ExtractPage(Page{URL: "https://firma.cz/", HTML: og}, extract.AddressFilters{})
	require.NoError(t, err)
	require.Equal(t, "OG Name", *ext.Data.CompanyName)

	title := `<html><head><title>  Jen Titulek </title></head><body></body></html>`
	ext, err = ExtractPage(Page{URL: "https://firma.cz/", HTML: title}, extract.AddressFilters{})
	require.NoError(t, err)
	require.Equal(t, "Jen Titulek", *ext.Data.CompanyName)
	require.Nil(t, ext.Data.Structured)

	none := `<html><body><p>nic</p></body></html>`
	ext, err = ExtractPage(Page{URL: "https://firma.cz/", HTML: none}, extract.AddressFilters{})
	require.NoError(t, err)
	require.Nil(t, ext.Data.CompanyName)
}

func TestExtractPage_BrokenJSONLDIsSkipped(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Firma</title><script type="application/ld+json">{"name": </script></head></html>`
	ext, err := ExtractPage(Page{URL: "https://firma.cz/", HTML: page}, extract.AddressFilters{})
	require.NoError(t, err)
	require.Equal(t, "Firma", *ext.Data.CompanyName)
	require.Nil(t, ext.Data.Structured)
}

func TestExtractPage_BadURL(t *testing.T) {
	t.Parallel()

	_, err := ExtractPage(Page{URL: "http://[::1", HTML: "<p></p>"}, extract.AddressFilters{})
	require.ErrorContains(t, err, "parse page url")
}

func TestExtractPage_BelgianAddress(t *testing.T) {
	t.Parallel()

	filters := extract.AddressFilters{
		PostCodes:      setMembership{"1000": {}},
		Municipalities: setMembership{"BRUXELLES": {}},
		Streets:        setMembership{"LOI": {}},
	}
	page := `<html><body><p>Adres: Rue de la Loi 16, 1000 Bruxelles</p></body></html>`
	ext, err := ExtractPage(Page{URL: "https://firma.be/", HTML: page, Language: "fr"}, filters)
	require.NoError(t, err)
	require.Equal(t, "be", ext.Data.Country)
	require.Len(t, ext.Data.Addresses, 1)
}

func TestPickLDNode(t *testing.T) {
	t.Parallel()

	raw, node, ok := pickLDNode([]byte(`[{"@type":"WebSite"},{"@type":"Organization","name":"Acme BV"}]`))
	require.True(t, ok)
	require.Equal(t, "Acme BV", node.Name)
	require.JSONEq(t, `{"@type":"Organization","name":"Acme BV"}`, string(raw))

	_, _, ok = pickLDNode([]byte(`[{"@type":"WebSite"}]`))
	require.False(t, ok)

	_, _, ok = pickLDNode(nil)
	require.False(t, ok)
}

func TestOpeningHoursShapes(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"Mo-Su"}, openingHours(&ldNode{OpeningHours: []byte(`"Mo-Su"`)}))
	require.Equal(t, []string{"Mo", "Tu"}, openingHours(&ldNode{OpeningHours: []byte(`["Mo","Tu"]`)}))
	require.Nil(t, openingHours(&ldNode{OpeningHours: []byte(`{"day":"Mo"}`)}))
	require.Nil(t, openingHours(nil))
}

func TestVisibleTextSeparatesBlocks(t *testing.T) {
	t.Parallel()

	ext, err := ExtractPage(Page{
		URL:  "https://firma.cz/",
		HTML: `<div><span>obchod@firma.cz</span><span>+420 111 222 333</span></div>`,
	}, extract.AddressFilters{})
	require.NoError(t, err)
	require.Equal(t, []string{"obchod@firma.cz"}, ext.Data.Emails)
	require.Equal(t, []string{"+420111222333"}, ext.Data.Phones)
}

type setMembership map[string]struct{}

func (s setMembership) TestString(item string) bool {
	_, ok := s[item]
	return ok
}
