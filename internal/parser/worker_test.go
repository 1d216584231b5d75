package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestWorker_RunOnce_StoresSnapshotAndEnqueuesLinks(t *testing.T) {
	t.Parallel()

	claim := newFakeClaim(crawler.ClaimedResult{
		URL:       "https://www.pekarna-novak.cz/",
		HTML:      bakeryPage,
		Language:  "cs",
		ListingID: "L-42",
		Depth:     0,
	})
	enq := &fakeEnqueuer{}
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{claim}},
		Depths:   fakeDepths{depth: 2},
		Enqueuer: enq,
	}, Config{DefaultMaxDepth: 2})

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NotNil(t, claim.completed)
	snap := *claim.completed
	require.Equal(t, "L-42", snap.ListingID)
	require.Equal(t, claim.result.ResultID, snap.ResultID)
	require.Equal(t, "cs", snap.Language)
	// emails, phones, company name, org number, social and structured data
	require.Equal(t, 90, snap.QualityScore)
	require.True(t, claim.released)

	require.Equal(t, []string{"https://www.pekarna-novak.cz/kontakt"}, enq.urls)
	require.Equal(t, 0, enq.depth)
	require.Equal(t, "L-42", enq.listingID)
	require.Equal(t, claim.result.ResultID, enq.parent)
}

func TestWorker_RunOnce_NoWork(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, Deps{Results: &fakeSource{}, Depths: fakeDepths{}, Enqueuer: &fakeEnqueuer{}}, Config{})
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWorker_RunOnce_ParseErrorMarksFailed(t *testing.T) {
	t.Parallel()

	claim := newFakeClaim(crawler.ClaimedResult{URL: "http://[::1", HTML: "<p>x</p>", ListingID: "L-1"})
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{claim}},
		Depths:   fakeDepths{},
		Enqueuer: &fakeEnqueuer{},
	}, Config{})

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Nil(t, claim.completed)
	require.Contains(t, claim.failReason, "parse page url")
}

func TestWorker_RunOnce_CompleteErrorIsReturned(t *testing.T) {
	t.Parallel()

	claim := newFakeClaim(crawler.ClaimedResult{URL: "https://firma.cz/", HTML: "<p>x</p>"})
	claim.completeErr = errors.New("insert snapshot: conn closed")
	enq := &fakeEnqueuer{}
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{claim}},
		Depths:   fakeDepths{},
		Enqueuer: enq,
	}, Config{})

	_, err := w.RunOnce(context.Background())
	require.ErrorContains(t, err, "complete result")
	require.True(t, claim.released)
	require.Nil(t, enq.urls)
}

func TestWorker_RunOnce_DepthLimitStopsDiscovery(t *testing.T) {
	t.Parallel()

	claim := newFakeClaim(crawler.ClaimedResult{
		URL:       "https://www.pekarna-novak.cz/",
		HTML:      bakeryPage,
		Language:  "cs",
		ListingID: "L-42",
		Depth:     1,
	})
	enq := &fakeEnqueuer{}
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{claim}},
		Depths:   fakeDepths{depth: 1},
		Enqueuer: enq,
	}, Config{DefaultMaxDepth: 2})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claim.completed)
	require.Nil(t, enq.urls)
}

func TestWorker_RunOnce_NoListingNoDiscovery(t *testing.T) {
	t.Parallel()

	claim := newFakeClaim(crawler.ClaimedResult{URL: "https://www.pekarna-novak.cz/", HTML: bakeryPage, Language: "cs"})
	enq := &fakeEnqueuer{}
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{claim}},
		Depths:   fakeDepths{depth: 2},
		Enqueuer: enq,
	}, Config{})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Nil(t, enq.urls)
}

func TestWorker_RunOnce_DiscoveredFilterSkipsSeenLinks(t *testing.T) {
	t.Parallel()

	claim := newFakeClaim(crawler.ClaimedResult{
		URL:       "https://www.pekarna-novak.cz/",
		HTML:      bakeryPage,
		Language:  "cs",
		ListingID: "L-42",
	})
	dedup := &fakeDeduper{seen: map[string]bool{"L-42 https://www.pekarna-novak.cz/kontakt": true}}
	enq := &fakeEnqueuer{}
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{claim}},
		Depths:   fakeDepths{depth: 2},
		Enqueuer: enq,
		Deduper:  dedup,
	}, Config{DiscoveredFilter: "discovered_links"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Nil(t, enq.urls)
	require.Nil(t, dedup.imported)
}

func TestWorker_RunOnce_FailedEnqueueLeavesFilterUntouched(t *testing.T) {
	t.Parallel()

	page := crawler.ClaimedResult{
		URL:       "https://www.pekarna-novak.cz/",
		HTML:      bakeryPage,
		Language:  "cs",
		ListingID: "L-42",
	}
	first, second := newFakeClaim(page), newFakeClaim(page)
	dedup := &fakeDeduper{seen: map[string]bool{}}
	enq := &fakeEnqueuer{err: errors.New("connection refused")}
	w := newTestWorker(t, Deps{
		Results:  &fakeSource{claims: []*fakeClaim{first, second}},
		Depths:   fakeDepths{depth: 2},
		Enqueuer: enq,
		Deduper:  dedup,
	}, Config{DiscoveredFilter: "discovered_links"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Nil(t, dedup.imported)
	require.Nil(t, enq.urls)

	enq.err = nil
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://www.pekarna-novak.cz/kontakt"}, enq.urls)
	require.Equal(t, []string{"L-42 https://www.pekarna-novak.cz/kontakt"}, dedup.imported)
	require.Equal(t, 2, enq.calls)
}

func TestNewRequiresDeduperForFilter(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{
		Results:  &fakeSource{},
		Depths:   fakeDepths{},
		Enqueuer: &fakeEnqueuer{},
		Clock:    &fakeClock{},
		IDs:      fakeIDs{},
	}, Config{DiscoveredFilter: "links"}, nil)
	require.ErrorContains(t, err, "deduper")
}

func newTestWorker(t *testing.T, deps Deps, cfg Config) *Worker {
	t.Helper()
	deps.Clock = &fakeClock{now: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)}
	deps.IDs = fakeIDs{}
	w, err := New(deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return w
}

type fakeClaim struct {
	result      crawler.ClaimedResult
	completed   *crawler.Snapshot
	completeErr error
	failReason  string
	released    bool
}

func newFakeClaim(res crawler.ClaimedResult) *fakeClaim {
	res.ResultID = uuid.New()
	res.QueueID = uuid.New()
	return &fakeClaim{result: res}
}

func (c *fakeClaim) Result() crawler.ClaimedResult { return c.result }

func (c *fakeClaim) Complete(_ context.Context, snap crawler.Snapshot) error {
	if c.completeErr != nil {
		return c.completeErr
	}
	c.completed = &snap
	return nil
}

func (c *fakeClaim) Fail(_ context.Context, reason string) error {
	c.failReason = reason
	return nil
}

func (c *fakeClaim) Release(context.Context) { c.released = true }

type fakeSource struct {
	claims []*fakeClaim
}

func (s *fakeSource) ClaimResult(context.Context) (crawler.ResultClaim, error) {
	if len(s.claims) == 0 {
		return nil, crawler.ErrNoWork
	}
	c := s.claims[0]
	s.claims = s.claims[1:]
	return c, nil
}

type fakeDepths struct {
	depth int
}

func (d fakeDepths) MaxDepth(context.Context, string, int) (int, error) {
	return d.depth, nil
}

type fakeEnqueuer struct {
	urls      []string
	depth     int
	listingID string
	parent    uuid.UUID
	calls     int
	err       error
}

func (e *fakeEnqueuer) EnqueueDiscovered(_ context.Context, urls []string, depth int, listingID string, parent uuid.UUID) (int, error) {
	e.calls++
	if e.err != nil {
		return 0, e.err
	}
	e.urls = append(e.urls, urls...)
	e.depth = depth
	e.listingID = listingID
	e.parent = parent
	return len(urls), nil
}

type fakeDeduper struct {
	seen     map[string]bool
	imported []string
}

func (d *fakeDeduper) CheckAll(_ context.Context, _ string, items []string) ([]bool, error) {
	present := make([]bool, len(items))
	for i, item := range items {
		present[i] = d.seen[item]
	}
	return present, nil
}

func (d *fakeDeduper) Import(_ context.Context, _ string, items []string, _ string) (int, error) {
	added := 0
	for _, item := range items {
		if !d.seen[item] {
			d.seen[item] = true
			d.imported = append(d.imported, item)
			added++
		}
	}
	return added, nil
}

type fakeIDs struct{}

func (fakeIDs) NewID() (uuid.UUID, error) {
	return uuid.New(), nil
}
