package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestWorker_RunOnce_SuccessFlow(t *testing.T) {
	t.Parallel()

	item := newItem("https://www.firma.cz/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{}
	archive := newFakeBlobStore()
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		item.URL: {
			URL:        item.URL,
			StatusCode: http.StatusOK,
			Body:       []byte("<html lang=\"cs\"><body>kontakt</body></html>"),
			IPAddress:  "10.0.0.1",
		},
	}}

	w := newTestWorker(t, Deps{
		Scheduler: sched,
		Results:   results,
		Probe:     probe,
		Language:  fakeLanguage{code: "cs", confidence: 0.99},
		Archive:   archive,
		Hasher:    &fakeHasher{hash: "abc123"},
	}, Config{ArchivePrefix: "/pages/"})

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, results.rows, 1)
	row := results.rows[0]
	require.Equal(t, item.ID, row.QueueID)
	require.NotNil(t, row.HTML)
	require.Nil(t, row.Error)
	require.Equal(t, "cs", row.Language)
	require.Equal(t, "10.0.0.1", row.IPAddress)
	require.Equal(t, crawler.ProcessingStatusNew, row.ProcessingStatus)
	require.Equal(t, "memory://pages/www.firma.cz/abc123.html", row.ArchiveURI)

	require.Equal(t, []uuid.UUID{item.ID}, sched.succeeded)
	require.Empty(t, sched.failed)
	require.Equal(t, []uuid.UUID{item.ID}, sched.reconciled)
	require.Equal(t, 1, sched.recoverCalls)
}

func TestWorker_RunOnce_ErrorStatusTakesRetryPath(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.cz/gone")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{}
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		item.URL: {URL: item.URL, StatusCode: http.StatusNotFound, Body: []byte("missing")},
	}}

	w := newTestWorker(t, Deps{Scheduler: sched, Results: results, Probe: probe}, Config{})
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, results.rows, 1)
	row := results.rows[0]
	require.Nil(t, row.HTML)
	require.NotNil(t, row.Error)
	require.Equal(t, "http status 404", *row.Error)
	require.Equal(t, http.StatusNotFound, row.StatusCode)

	require.Len(t, sched.failed, 1)
	require.EqualError(t, sched.causes[0], "http status 404")
	require.Empty(t, sched.succeeded)
}

func TestWorker_RunOnce_FetchErrorIsRecorded(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.cz/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{}
	probe := &fakeFetcher{errors: map[string]error{item.URL: errors.New("dial tcp: timeout")}}

	w := newTestWorker(t, Deps{Scheduler: sched, Results: results, Probe: probe}, Config{})
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, results.rows, 1)
	require.Nil(t, results.rows[0].HTML)
	require.Zero(t, results.rows[0].StatusCode)
	require.Contains(t, *results.rows[0].Error, "dial tcp: timeout")
	require.Len(t, sched.failed, 1)
}

func TestWorker_RunOnce_PersistFailureRetries(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.cz/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{err: errors.New("connection reset")}
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		item.URL: {URL: item.URL, StatusCode: http.StatusOK, Body: []byte("<p>ok</p>")},
	}}

	w := newTestWorker(t, Deps{Scheduler: sched, Results: results, Probe: probe}, Config{})
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Empty(t, sched.succeeded)
	require.Len(t, sched.causes, 1)
	require.ErrorContains(t, sched.causes[0], "persist fetch result")
}

func TestWorker_RunOnce_HeadlessPromotion(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.be/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{}
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		item.URL: {URL: item.URL, StatusCode: http.StatusOK, Body: []byte("<div id=\"__next\"></div>"), IPAddress: "10.0.0.2"},
	}}
	headless := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		item.URL: {URL: item.URL, StatusCode: http.StatusOK, Body: []byte("<html>rendered</html>")},
	}}

	w := newTestWorker(t, Deps{
		Scheduler: sched,
		Results:   results,
		Probe:     probe,
		Headless:  headless,
		Detector:  &fakeDetector{promotions: map[string]bool{item.URL: true}},
	}, Config{})
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, results.rows, 1)
	require.Equal(t, "<html>rendered</html>", *results.rows[0].HTML)
	require.Equal(t, "10.0.0.2", results.rows[0].IPAddress)
	require.Len(t, sched.succeeded, 1)
}

func TestWorker_RunOnce_HeadlessFailureKeepsProbe(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.be/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{}
	probe := &fakeFetcher{responses: map[string]crawler.FetchResponse{
		item.URL: {URL: item.URL, StatusCode: http.StatusOK, Body: []byte("<div id=\"root\"></div>")},
	}}
	headless := &fakeFetcher{errors: map[string]error{item.URL: errors.New("chrome crashed")}}

	w := newTestWorker(t, Deps{
		Scheduler: sched,
		Results:   results,
		Probe:     probe,
		Headless:  headless,
		Detector:  &fakeDetector{promotions: map[string]bool{item.URL: true}},
	}, Config{})
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, "<div id=\"root\"></div>", *results.rows[0].HTML)
	require.Len(t, sched.succeeded, 1)
}

func TestWorker_RunOnce_EmptyBatch(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	w := newTestWorker(t, Deps{Scheduler: sched, Results: &fakeResults{}, Probe: &fakeFetcher{}}, Config{})

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Nil(t, sched.reconciled)
}

func TestWorker_RunOnce_ClaimError(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{batchErr: errors.New("db down")}
	w := newTestWorker(t, Deps{Scheduler: sched, Results: &fakeResults{}, Probe: &fakeFetcher{}}, Config{})

	_, err := w.RunOnce(context.Background())
	require.ErrorContains(t, err, "fetch batch")
}

func TestWorker_RunOnce_ShutdownReleasesUnstartedItems(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.cz/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	results := &fakeResults{}
	w := newTestWorker(t, Deps{
		Scheduler: sched,
		Results:   results,
		Probe:     &fakeFetcher{},
		Limiter:   blockingLimiter{},
	}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.RunOnce(ctx)
	require.NoError(t, err)

	require.Empty(t, results.rows)
	require.Empty(t, sched.failed)
	require.Equal(t, []uuid.UUID{item.ID}, sched.released)
	// Reconciliation still runs; released rows are no longer in processing.
	require.Equal(t, []uuid.UUID{item.ID}, sched.reconciled)
}

func TestWorker_RunOnce_LimiterErrorTakesRetryPath(t *testing.T) {
	t.Parallel()

	item := newItem("https://firma.cz/")
	sched := &fakeScheduler{batch: []crawler.QueueItem{item}}
	w := newTestWorker(t, Deps{
		Scheduler: sched,
		Results:   &fakeResults{},
		Probe:     &fakeFetcher{},
		Limiter:   failingLimiter{},
	}, Config{})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, sched.released)
	require.Equal(t, []uuid.UUID{item.ID}, sched.failed)
	require.ErrorContains(t, sched.causes[0], "politeness wait")
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.ErrorContains(t, err, "scheduler")

	_, err = New(Deps{
		Scheduler: &fakeScheduler{},
		Results:   &fakeResults{},
		Probe:     &fakeFetcher{},
		Clock:     &fakeClock{},
		IDs:       &fakeIDs{},
		Archive:   newFakeBlobStore(),
	}, Config{}, nil)
	require.ErrorContains(t, err, "hasher")
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pages/www.firma.cz/ab.html", archivePath("/pages/", "https://www.firma.cz/kontakt", "ab"))
	require.Equal(t, "firma.cz/ab.html", archivePath("", "https://firma.cz", "ab"))
	require.Equal(t, "unknown/ab.html", archivePath("", "::", "ab"))
}

func TestFailedStatus(t *testing.T) {
	t.Parallel()

	require.True(t, failedStatus(0))
	require.True(t, failedStatus(http.StatusBadRequest))
	require.True(t, failedStatus(http.StatusBadGateway))
	require.False(t, failedStatus(http.StatusOK))
	require.False(t, failedStatus(http.StatusFound))
}

func newTestWorker(t *testing.T, deps Deps, cfg Config) *Worker {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	}
	if deps.IDs == nil {
		deps.IDs = &fakeIDs{}
	}
	w, err := New(deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return w
}

func newItem(url string) crawler.QueueItem {
	return crawler.QueueItem{
		ID:        uuid.New(),
		URL:       url,
		ListingID: "L-1",
		Status:    crawler.QueueStatusProcessing,
	}
}

// --- fakes ---

type fakeScheduler struct {
	mu           sync.Mutex
	batch        []crawler.QueueItem
	batchErr     error
	succeeded    []uuid.UUID
	failed       []uuid.UUID
	causes       []error
	reconciled   []uuid.UUID
	released     []uuid.UUID
	recoverCalls int
}

func (s *fakeScheduler) FetchBatch(context.Context, int) ([]crawler.QueueItem, error) {
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	batch := s.batch
	s.batch = nil
	return batch, nil
}

func (s *fakeScheduler) ReportSuccess(_ context.Context, item crawler.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = append(s.succeeded, item.ID)
	return nil
}

func (s *fakeScheduler) ReportFailure(_ context.Context, item crawler.QueueItem, cause error) (crawler.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, item.ID)
	s.causes = append(s.causes, cause)
	return crawler.QueueStatusPending, nil
}

func (s *fakeScheduler) ReconcileOrphans(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciled = append(s.reconciled, ids...)
	return 0, nil
}

func (s *fakeScheduler) Release(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, ids...)
	return int64(len(ids)), nil
}

func (s *fakeScheduler) RecoverStale(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoverCalls++
	return 0, nil
}

type fakeResults struct {
	mu   sync.Mutex
	rows []crawler.FetchResult
	err  error
}

func (r *fakeResults) InsertFetchResult(_ context.Context, res crawler.FetchResult) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, res)
	return nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	return "memory://" + path, nil
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	errors    map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errors[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return crawler.FetchResponse{}, errors.New("not found")
}

type fakeDetector struct {
	promotions map[string]bool
}

func (d *fakeDetector) ShouldPromote(resp crawler.FetchResponse) bool {
	return d.promotions[resp.URL]
}

type fakeLanguage struct {
	code       string
	confidence float64
}

func (l fakeLanguage) Detect(string) (string, float64) {
	return l.code, l.confidence
}

type blockingLimiter struct{}

func (blockingLimiter) Wait(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingLimiter struct{}

func (failingLimiter) Wait(context.Context, string) error {
	return errors.New("rate: Wait(n=1) would exceed context deadline")
}

type fakeHasher struct {
	hash string
}

func (h *fakeHasher) Hash([]byte) (string, error) {
	return h.hash, nil
}

type fakeIDs struct{}

func (fakeIDs) NewID() (uuid.UUID, error) {
	return uuid.New(), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
