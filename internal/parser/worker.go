package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// ResultSource hands out locked fetch results.
type ResultSource interface {
	ClaimResult(ctx context.Context) (crawler.ResultClaim, error)
}

// DepthPolicy resolves the sub-page depth limit of a domain.
type DepthPolicy interface {
	MaxDepth(ctx context.Context, domain string, fallback int) (int, error)
}

// Enqueuer accepts discovered sub-pages.
type Enqueuer interface {
	EnqueueDiscovered(ctx context.Context, urls []string, depth int, listingID string, parentResultID uuid.UUID) (int, error)
}

// Deduper is the bloom dedup store used for discovered links.
type Deduper interface {
	CheckAll(ctx context.Context, name string, items []string) ([]bool, error)
	Import(ctx context.Context, name string, items []string, source string) (int, error)
}

// Config controls the extraction worker.
type Config struct {
	DefaultMaxDepth  int
	DiscoveredFilter string
	Weights          Weights
}

// Deps are the worker's collaborators. Gazetteer and Deduper are optional.
type Deps struct {
	Results   ResultSource
	Depths    DepthPolicy
	Enqueuer  Enqueuer
	Gazetteer *Gazetteer
	Deduper   Deduper
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Worker runs the extraction step.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Results == nil:
		return nil, errors.New("result source is required")
	case deps.Depths == nil:
		return nil, errors.New("depth policy is required")
	case deps.Enqueuer == nil:
		return nil, errors.New("enqueuer is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case cfg.DiscoveredFilter != "" && deps.Deduper == nil:
		return nil, errors.New("deduper is required when a discovered filter is set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// RunOnce claims and processes one fetch result. It returns 0 when nothing
// was waiting. A page that fails to parse is marked failed and counts as
// processed; only store errors are returned.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	claim, err := w.deps.Results.ClaimResult(ctx)
	if errors.Is(err, crawler.ErrNoWork) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("claim result: %w", err)
	}
	defer claim.Release(context.WithoutCancel(ctx))

	res := claim.Result()
	logger := w.logger.With(zap.String("result_id", res.ResultID.String()), zap.String("url", res.URL))

	ext, err := ExtractPage(Page{URL: res.URL, HTML: res.HTML, Language: res.Language}, w.deps.Gazetteer.Filters(ctx))
	if err != nil {
		metrics.ObserveExtraction("parse_error", 0)
		logger.Warn("extraction failed", zap.Error(err))
		if failErr := claim.Fail(ctx, err.Error()); failErr != nil {
			return 0, fmt.Errorf("mark result failed: %w", failErr)
		}
		return 1, nil
	}

	snap, err := w.snapshot(res, ext)
	if err != nil {
		return 0, err
	}
	if err := claim.Complete(ctx, snap); err != nil {
		metrics.ObserveExtraction("store_error", 0)
		return 0, fmt.Errorf("complete result: %w", err)
	}
	metrics.ObserveExtraction("success", snap.QualityScore)
	logger.Debug("snapshot stored",
		zap.String("listing_id", res.ListingID),
		zap.Int("quality", snap.QualityScore),
		zap.Int("links", len(ext.Links)),
	)

	w.enqueueLinks(ctx, res, ext, logger)
	return 1, nil
}

func (w *Worker) snapshot(res crawler.ClaimedResult, ext Extraction) (crawler.Snapshot, error) {
	id, err := w.deps.IDs.NewID()
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	return crawler.Snapshot{
		ID:           id,
		ResultID:     res.ResultID,
		ListingID:    res.ListingID,
		Language:     ext.Data.Language,
		Data:         ext.Data,
		QualityScore: w.cfg.Weights.Score(ext.Data),
		ExtractedAt:  w.deps.Clock.Now(),
	}, nil
}

// enqueueLinks feeds discovered sub-pages back to the scheduler. The snapshot
// is already committed, so failures here are logged and not retried.
func (w *Worker) enqueueLinks(ctx context.Context, res crawler.ClaimedResult, ext Extraction, logger *zap.Logger) {
	if res.ListingID == "" || len(ext.Links) == 0 {
		return
	}
	maxDepth, err := w.deps.Depths.MaxDepth(ctx, crawler.ExtractDomain(res.URL), w.cfg.DefaultMaxDepth)
	if err != nil {
		logger.Warn("resolve max depth", zap.Error(err))
		return
	}
	if res.Depth >= maxDepth {
		return
	}

	urls := make([]string, 0, len(ext.Links))
	for _, link := range ext.Links {
		urls = append(urls, link.URL)
	}
	urls = w.unseen(ctx, res.ListingID, urls, logger)
	if len(urls) == 0 {
		return
	}
	n, err := w.deps.Enqueuer.EnqueueDiscovered(ctx, urls, res.Depth, res.ListingID, res.ResultID)
	if err != nil {
		logger.Warn("enqueue discovered links", zap.Error(err))
		return
	}
	logger.Debug("enqueued sub-pages", zap.Int("count", n), zap.Int("depth", res.Depth+1))
	w.remember(ctx, res.ListingID, urls, logger)
}

func discoveredKey(listingID, url string) string {
	return listingID + " " + url
}

// unseen drops links the discovered filter already holds. When the filter
// cannot be read every link is kept and the queue constraint deduplicates.
func (w *Worker) unseen(ctx context.Context, listingID string, urls []string, logger *zap.Logger) []string {
	if w.cfg.DiscoveredFilter == "" {
		return urls
	}
	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = discoveredKey(listingID, u)
	}
	present, err := w.deps.Deduper.CheckAll(ctx, w.cfg.DiscoveredFilter, keys)
	if err != nil {
		logger.Warn("discovered filter check", zap.Error(err))
		return urls
	}
	out := urls[:0:0]
	for i, u := range urls {
		if present[i] {
			metrics.ObserveBloomAdd(w.cfg.DiscoveredFilter, false)
			continue
		}
		out = append(out, u)
	}
	return out
}

// remember records enqueued links in the discovered filter. It runs only
// after the enqueue succeeded, since filter entries cannot be removed.
func (w *Worker) remember(ctx context.Context, listingID string, urls []string, logger *zap.Logger) {
	if w.cfg.DiscoveredFilter == "" {
		return
	}
	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = discoveredKey(listingID, u)
	}
	added, err := w.deps.Deduper.Import(ctx, w.cfg.DiscoveredFilter, keys, "parser")
	if err != nil {
		logger.Warn("discovered filter import", zap.Error(err))
		return
	}
	for i := 0; i < added; i++ {
		metrics.ObserveBloomAdd(w.cfg.DiscoveredFilter, true)
	}
}
