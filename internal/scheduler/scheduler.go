// Package scheduler drives the crawl queue state machine:
//
//	pending -> processing -> completed | pending (retry) | failed
//
// Completed and failed items stay put until Requeue returns them to pending.
// The store is the only source of truth; nothing here survives a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Store is the durable queue. ClaimBatch must hand a row to at most one caller.
type Store interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]crawler.QueueItem, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, nextEligible, now time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, nextEligible, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error
	UpsertQueueItems(ctx context.Context, items []crawler.QueueItem) (int, error)
	InsertQueueItems(ctx context.Context, items []crawler.QueueItem) (int, error)
	FailProcessing(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	ReleaseProcessing(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error)
	QueueStats(ctx context.Context, now time.Time) (crawler.QueueStats, error)
}

// Policy holds the scheduling constants.
type Policy struct {
	RevisitInterval    time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	StaleAfter         time.Duration
	DiscoveredPriority int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		RevisitInterval:    90 * 24 * time.Hour,
		MaxRetries:         3,
		RetryBackoff:       time.Hour,
		StaleAfter:         time.Hour,
		DiscoveredPriority: 5,
	}
}

// Seed is a root URL submitted for a listing.
type Seed struct {
	URL       string
	ListingID string
	Priority  int
}

// Scheduler owns every queue transition.
type Scheduler struct {
	store  Store
	policy Policy
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// New constructs a Scheduler.
func New(store Store, policy Policy, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if policy.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", policy.MaxRetries)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, policy: policy, clock: clock, ids: ids, logger: logger}, nil
}

// Policy returns the scheduling constants in effect.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// FetchBatch claims up to n due items, ordered by priority then age.
func (s *Scheduler) FetchBatch(ctx context.Context, n int) ([]crawler.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.store.ClaimBatch(ctx, n, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	if len(items) > 0 {
		metrics.ObserveClaimed(len(items))
		s.logger.Debug("claimed batch", zap.Int("count", len(items)))
	}
	return items, nil
}

// ReportSuccess completes item and schedules its revisit.
func (s *Scheduler) ReportSuccess(ctx context.Context, item crawler.QueueItem) error {
	now := s.clock.Now()
	if err := s.store.MarkCompleted(ctx, item.ID, now.Add(s.policy.RevisitInterval), now); err != nil {
		return fmt.Errorf("report success: %w", err)
	}
	metrics.ObserveTransition(string(crawler.QueueStatusCompleted))
	return nil
}

// ReportFailure either schedules a retry after the fixed backoff or, once
// retries are exhausted, fails the item for good. It returns the new status.
func (s *Scheduler) ReportFailure(ctx context.Context, item crawler.QueueItem, cause error) (crawler.QueueStatus, error) {
	now := s.clock.Now()
	fields := []zap.Field{
		zap.String("queue_id", item.ID.String()),
		zap.String("url", item.URL),
		zap.Int("retry_count", item.RetryCount),
		zap.Error(cause),
	}

	if item.RetryCount >= s.policy.MaxRetries {
		if err := s.store.MarkFailed(ctx, item.ID, now); err != nil {
			return "", fmt.Errorf("report failure: %w", err)
		}
		metrics.ObserveTransition(string(crawler.QueueStatusFailed))
		s.logger.Warn("queue item failed permanently", fields...)
		return crawler.QueueStatusFailed, nil
	}

	if err := s.store.MarkRetry(ctx, item.ID, item.RetryCount+1, now.Add(s.policy.RetryBackoff), now); err != nil {
		return "", fmt.Errorf("report failure: %w", err)
	}
	metrics.ObserveTransition(string(crawler.QueueStatusPending))
	s.logger.Info("queue item scheduled for retry", fields...)
	return crawler.QueueStatusPending, nil
}

// Enqueue upserts root URLs. Re-adding a known (url, listing) pair resets it
// to pending with the new priority instead of creating a second row.
func (s *Scheduler) Enqueue(ctx context.Context, seeds []Seed) (int, error) {
	now := s.clock.Now()
	items := make([]crawler.QueueItem, 0, len(seeds))
	for _, seed := range seeds {
		item, err := s.newItem(seed.URL, seed.ListingID, nil, 0, seed.Priority, now)
		if err != nil {
			return 0, err
		}
		items = append(items, item)
	}
	n, err := s.store.UpsertQueueItems(ctx, dedupe(items))
	if err != nil {
		return n, fmt.Errorf("enqueue: %w", err)
	}
	return n, nil
}

// EnqueueDiscovered inserts sub-pages found on a page at depth+1, ignoring
// pairs already queued. Unparseable URLs are skipped.
func (s *Scheduler) EnqueueDiscovered(
	ctx context.Context,
	urls []string,
	depth int,
	listingID string,
	parentResultID uuid.UUID,
) (int, error) {
	now := s.clock.Now()
	parent := parentResultID
	items := make([]crawler.QueueItem, 0, len(urls))
	for _, raw := range urls {
		item, err := s.newItem(raw, listingID, &parent, depth+1, s.policy.DiscoveredPriority, now)
		if err != nil {
			s.logger.Debug("skip discovered url", zap.String("url", raw), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	n, err := s.store.InsertQueueItems(ctx, dedupe(items))
	if err != nil {
		return n, fmt.Errorf("enqueue discovered: %w", err)
	}
	return n, nil
}

// Requeue returns previously crawled pages to pending, eligible immediately
// with a fresh retry budget.
func (s *Scheduler) Requeue(ctx context.Context, pages []crawler.PageRef, priority int) (int, error) {
	now := s.clock.Now()
	items := make([]crawler.QueueItem, 0, len(pages))
	for _, page := range pages {
		item, err := s.newItem(page.URL, page.ListingID, nil, 0, priority, now)
		if err != nil {
			s.logger.Warn("skip requeue candidate", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	n, err := s.store.UpsertQueueItems(ctx, dedupe(items))
	if err != nil {
		return n, fmt.Errorf("requeue: %w", err)
	}
	metrics.ObserveRequeued(n)
	return n, nil
}

// ReconcileOrphans fails any of ids still in processing. It runs after every
// batch so an item can never stay in flight past its batch.
func (s *Scheduler) ReconcileOrphans(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := s.store.FailProcessing(ctx, ids, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reconcile orphans: %w", err)
	}
	if n > 0 {
		s.logger.Warn("orphaned queue items failed", zap.Int64("count", n))
		for range n {
			metrics.ObserveTransition(string(crawler.QueueStatusFailed))
		}
	}
	return n, nil
}

// Release hands claimed items that were never attempted back to pending, so
// a shutdown neither spends a retry nor fails them.
func (s *Scheduler) Release(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := s.store.ReleaseProcessing(ctx, ids, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("release items: %w", err)
	}
	for range n {
		metrics.ObserveTransition(string(crawler.QueueStatusPending))
	}
	return n, nil
}

// RecoverStale resets rows left in processing by a crashed process.
func (s *Scheduler) RecoverStale(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	n, err := s.store.ResetStale(ctx, now.Add(-s.policy.StaleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	if n > 0 {
		s.logger.Info("stale queue items reset", zap.Int64("count", n))
	}
	return n, nil
}

// Stats summarizes the queue.
func (s *Scheduler) Stats(ctx context.Context) (crawler.QueueStats, error) {
	st, err := s.store.QueueStats(ctx, s.clock.Now())
	if err != nil {
		return crawler.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func (s *Scheduler) newItem(
	rawURL, listingID string,
	parent *uuid.UUID,
	depth, priority int,
	now time.Time,
) (crawler.QueueItem, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.QueueItem{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("new queue id: %w", err)
	}
	return crawler.QueueItem{
		ID:             id,
		URL:            normalized,
		ListingID:      listingID,
		ParentResultID: parent,
		Depth:          depth,
		Priority:       priority,
		Status:         crawler.QueueStatusPending,
		NextEligibleAt: now,
		CreatedAt:      now,
	}, nil
}

// dedupe keeps the first item per (url, listing).
func dedupe(items []crawler.QueueItem) []crawler.QueueItem {
	seen := make(map[crawler.PageRef]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		key := crawler.PageRef{URL: item.URL, ListingID: item.ListingID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
