// Package worker implements the scrape pass: claim a batch of queue items,
// fetch each page, persist the outcome and report it back to the scheduler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Scheduler is the slice of the queue state machine the worker drives.
type Scheduler interface {
	FetchBatch(ctx context.Context, n int) ([]crawler.QueueItem, error)
	ReportSuccess(ctx context.Context, item crawler.QueueItem) error
	ReportFailure(ctx context.Context, item crawler.QueueItem, cause error) (crawler.QueueStatus, error)
	ReconcileOrphans(ctx context.Context, ids []uuid.UUID) (int64, error)
	Release(ctx context.Context, ids []uuid.UUID) (int64, error)
	RecoverStale(ctx context.Context) (int64, error)
}

// ResultStore persists fetch outcomes.
type ResultStore interface {
	InsertFetchResult(ctx context.Context, res crawler.FetchResult) error
}

// Limiter spaces requests to the same domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	BatchSize     int
	Concurrency   int
	FetchTimeout  time.Duration
	ArchivePrefix string
	ContentType   string
}

// Deps are the collaborators of a Worker. Headless, Detector, Archive,
// Hasher, Language and Limiter are optional.
type Deps struct {
	Scheduler Scheduler
	Results   ResultStore
	Probe     crawler.Fetcher
	Headless  crawler.Fetcher
	Detector  crawler.HeadlessDetector
	Language  crawler.LanguageDetector
	Archive   crawler.BlobStore
	Hasher    crawler.Hasher
	Limiter   Limiter
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Worker runs scrape passes.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	case deps.Results == nil:
		return nil, errors.New("result store is required")
	case deps.Probe == nil:
		return nil, errors.New("probe fetcher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("hasher is required when archiving")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// RunOnce performs one scrape pass and returns the number of items claimed.
// Items shutdown reached before their fetch began go back to pending. Any
// other item the pass could not transition is failed before it returns, even
// when ctx is canceled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if n, err := w.deps.Scheduler.RecoverStale(ctx); err != nil {
		w.logger.Warn("stale recovery failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("recovered stale items", zap.Int64("count", n))
	}

	items, err := w.deps.Scheduler.FetchBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch batch: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	defer w.reconcile(context.WithoutCancel(ctx), ids)

	var (
		g         errgroup.Group
		mu        sync.Mutex
		unstarted []uuid.UUID
	)
	g.SetLimit(w.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			if !w.process(ctx, item) {
				mu.Lock()
				unstarted = append(unstarted, item.ID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	w.release(context.WithoutCancel(ctx), unstarted)
	return len(items), nil
}

func (w *Worker) release(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	n, err := w.deps.Scheduler.Release(ctx, ids)
	if err != nil {
		w.logger.Error("release unstarted items failed", zap.Int("count", len(ids)), zap.Error(err))
		return
	}
	w.logger.Info("released unstarted items", zap.Int64("count", n))
}

func (w *Worker) reconcile(ctx context.Context, ids []uuid.UUID) {
	n, err := w.deps.Scheduler.ReconcileOrphans(ctx, ids)
	if err != nil {
		w.logger.Error("orphan reconciliation failed", zap.Int("batch", len(ids)), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Warn("failed orphaned items", zap.Int64("count", n))
	}
}

// process fetches one item and reports its outcome. It returns false when
// ctx ended before the fetch began, leaving the item untouched.
func (w *Worker) process(ctx context.Context, item crawler.QueueItem) bool {
	logger := w.logger.With(zap.String("queue_id", item.ID.String()), zap.String("url", item.URL))

	if ctx.Err() != nil {
		return false
	}
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, item.URL); err != nil {
			logger.Debug("politeness wait aborted", zap.Error(err))
			if ctx.Err() != nil {
				return false
			}
			w.reportFailure(context.WithoutCancel(ctx), item, fmt.Errorf("politeness wait: %w", err), logger)
			return true
		}
	}

	start := time.Now()
	resp, fetchErr := w.fetch(ctx, item.URL, logger)
	fetcherName := "colly"
	if resp.UsedHeadless {
		fetcherName = "chromedp"
	}

	// The outcome is recorded even when shutdown canceled the fetch.
	persistCtx := context.WithoutCancel(ctx)
	id, err := w.deps.IDs.NewID()
	if err != nil {
		logger.Error("generate result id", zap.Error(err))
		w.reportFailure(persistCtx, item, fmt.Errorf("generate result id: %w", err), logger)
		return true
	}
	result, cause := w.buildResult(persistCtx, id, item, resp, fetchErr, logger)
	metrics.ObserveFetch(fetcherName, outcome(fetchErr, cause), time.Since(start))

	if err := w.deps.Results.InsertFetchResult(persistCtx, result); err != nil {
		logger.Error("persist fetch result failed", zap.Error(err))
		if cause == nil {
			cause = fmt.Errorf("persist fetch result: %w", err)
		}
	}

	if cause != nil {
		w.reportFailure(persistCtx, item, cause, logger)
		return true
	}
	if err := w.deps.Scheduler.ReportSuccess(persistCtx, item); err != nil {
		logger.Error("report success", zap.Error(err))
		return true
	}
	logger.Debug("page fetched",
		zap.Int("status", result.StatusCode),
		zap.String("language", result.Language),
		zap.Bool("headless", resp.UsedHeadless),
	)
	return true
}

func (w *Worker) reportFailure(ctx context.Context, item crawler.QueueItem, cause error, logger *zap.Logger) {
	status, err := w.deps.Scheduler.ReportFailure(ctx, item, cause)
	if err != nil {
		logger.Error("report failure", zap.Error(err))
		return
	}
	logger.Info("fetch failed", zap.String("status", string(status)), zap.Error(cause))
}

func (w *Worker) fetch(ctx context.Context, url string, logger *zap.Logger) (crawler.FetchResponse, error) {
	req := crawler.FetchRequest{URL: url, Timeout: w.cfg.FetchTimeout}

	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	resp, err := w.deps.Probe.Fetch(probeCtx, req)
	cancel()
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}

	if w.deps.Headless == nil || w.deps.Detector == nil || !w.deps.Detector.ShouldPromote(resp) {
		return resp, nil
	}

	headlessCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	rendered, err := w.deps.Headless.Fetch(headlessCtx, req)
	if err != nil {
		logger.Warn("headless promotion failed, keeping probe", zap.Error(err))
		return resp, nil
	}
	rendered.UsedHeadless = true
	if rendered.IPAddress == "" {
		rendered.IPAddress = resp.IPAddress
	}
	if rendered.RedirectedFrom == "" {
		rendered.RedirectedFrom = resp.RedirectedFrom
	}
	return rendered, nil
}

// buildResult turns a fetch outcome into a FetchResult row. The returned
// cause is non-nil when the item should take the retry path.
func (w *Worker) buildResult(
	ctx context.Context,
	id uuid.UUID,
	item crawler.QueueItem,
	resp crawler.FetchResponse,
	fetchErr error,
	logger *zap.Logger,
) (crawler.FetchResult, error) {
	result := crawler.FetchResult{
		ID:               id,
		QueueID:          item.ID,
		URL:              item.URL,
		ProcessingStatus: crawler.ProcessingStatusNew,
		ScrapedAt:        w.deps.Clock.Now(),
	}
	if fetchErr != nil {
		msg := fetchErr.Error()
		result.Error = &msg
		return result, fetchErr
	}

	result.StatusCode = resp.StatusCode
	result.Headers = resp.Headers
	result.IPAddress = resp.IPAddress
	result.RedirectedFrom = resp.RedirectedFrom

	if failedStatus(resp.StatusCode) {
		msg := fmt.Sprintf("http status %d", resp.StatusCode)
		result.Error = &msg
		return result, errors.New(msg)
	}

	html := string(resp.Body)
	result.HTML = &html
	if w.deps.Language != nil {
		result.Language, result.LanguageConfidence = w.deps.Language.Detect(html)
	}
	if w.deps.Archive != nil {
		uri, err := w.archive(ctx, item.URL, resp.Body)
		if err != nil {
			logger.Warn("archive page failed", zap.Error(err))
		}
		result.ArchiveURI = uri
	}
	return result, nil
}

func (w *Worker) archive(ctx context.Context, url string, body []byte) (string, error) {
	sum, err := w.deps.Hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	uri, err := w.deps.Archive.PutObject(ctx, archivePath(w.cfg.ArchivePrefix, url, sum), w.cfg.ContentType, body)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

// archivePath lays pages out as <prefix>/<domain>/<digest>.html.
func archivePath(prefix, url, digest string) string {
	domain := crawler.ExtractDomain(url)
	if domain == "" {
		domain = "unknown"
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", domain, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, domain, digest)
}

func failedStatus(code int) bool {
	return code == 0 || code >= http.StatusBadRequest
}

func outcome(fetchErr, cause error) string {
	switch {
	case fetchErr != nil:
		return "error"
	case cause != nil:
		return "http_error"
	default:
		return "success"
	}
}
