package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const queueColumns = `id, url, listing_id, parent_result_id, depth, priority, status, retry_count, next_eligible_at, created_at`

const claimBatchSQL = `
UPDATE crawl_queue q
SET status = 'processing', updated_at = $2
WHERE q.id IN (
	SELECT c.id
	FROM crawl_queue c
	WHERE c.status = 'pending'
	  AND c.next_eligible_at <= $2
	  AND NOT EXISTS (
		SELECT 1 FROM domain_blacklist b
		WHERE c.url LIKE '%' || b.domain || '%'
	  )
	ORDER BY c.priority DESC, c.created_at ASC
	LIMIT $1
	FOR UPDATE OF c SKIP LOCKED
)
RETURNING q.id, q.url, q.listing_id, q.parent_result_id, q.depth, q.priority, q.status, q.retry_count, q.next_eligible_at, q.created_at`

const upsertQueueSQL = `
INSERT INTO crawl_queue (` + queueColumns + `, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT ON CONSTRAINT crawl_queue_url_listing_key DO UPDATE
SET priority = EXCLUDED.priority,
	status = EXCLUDED.status,
	retry_count = EXCLUDED.retry_count,
	next_eligible_at = EXCLUDED.next_eligible_at,
	updated_at = EXCLUDED.updated_at
WHERE crawl_queue.status <> 'processing'`

const insertQueueSQL = `
INSERT INTO crawl_queue (` + queueColumns + `, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT ON CONSTRAINT crawl_queue_url_listing_key DO NOTHING`

// Store persists queue items, fetch results, snapshots, change records and
// domain policy.
type Store struct {
	pool pool
}

// NewStore wraps an open pool. *pgxpool.Pool and pgxmock pools both work.
func NewStore(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ClaimBatch flips up to limit eligible pending items to processing and
// returns them by priority, then age. Rows locked by another claimer are skipped.
func (s *Store) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]crawler.QueueItem, error) {
	rows, err := s.pool.Query(ctx, claimBatchSQL, limit, now)
	if err != nil {
		return nil, fmt.Errorf("claim queue batch: %w", err)
	}
	defer rows.Close()

	var items []crawler.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim queue batch: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// MarkCompleted records a successful fetch and schedules the revisit.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, nextEligible, now time.Time) error {
	return s.transition(ctx, "complete", `
UPDATE crawl_queue
SET status = 'completed', next_eligible_at = $2, updated_at = $3
WHERE id = $1`, id, nextEligible, now)
}

// MarkRetry returns an item to pending with a new retry count and eligibility time.
func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, nextEligible, now time.Time) error {
	return s.transition(ctx, "retry", `
UPDATE crawl_queue
SET status = 'pending', retry_count = $2, next_eligible_at = $3, updated_at = $4
WHERE id = $1`, id, retryCount, nextEligible, now)
}

// MarkFailed moves an item to the terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.transition(ctx, "fail", `
UPDATE crawl_queue
SET status = 'failed', updated_at = $2
WHERE id = $1`, id, now)
}

func (s *Store) transition(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s queue item: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s queue item %v: %w", op, args[0], crawler.ErrNotFound)
	}
	return nil
}

// UpsertQueueItems inserts items, or resets priority, status, retries and
// eligibility of an existing (url, listing) row that is not in flight.
func (s *Store) UpsertQueueItems(ctx context.Context, items []crawler.QueueItem) (int, error) {
	return s.batchQueue(ctx, "upsert", upsertQueueSQL, items)
}

// InsertQueueItems inserts items and silently skips existing (url, listing) pairs.
// It returns how many rows were created.
func (s *Store) InsertQueueItems(ctx context.Context, items []crawler.QueueItem) (int, error) {
	return s.batchQueue(ctx, "insert", insertQueueSQL, items)
}

func (s *Store) batchQueue(ctx context.Context, op, sql string, items []crawler.QueueItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(sql, queueArgs(item)...)
	}
	br := s.pool.SendBatch(ctx, batch)
	affected := 0
	for range items {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close() //nolint:errcheck // first error wins
			return affected, fmt.Errorf("%s queue items: %w", op, err)
		}
		affected += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return affected, fmt.Errorf("%s queue items: %w", op, err)
	}
	return affected, nil
}

func queueArgs(item crawler.QueueItem) []any {
	var parent any
	if item.ParentResultID != nil {
		parent = item.ParentResultID.String()
	}
	return []any{
		item.ID,
		item.URL,
		nullable(item.ListingID),
		parent,
		item.Depth,
		item.Priority,
		string(item.Status),
		item.RetryCount,
		item.NextEligibleAt,
		item.CreatedAt,
	}
}

// FailProcessing forces any of ids still in processing to failed.
func (s *Store) FailProcessing(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_queue
SET status = 'failed', updated_at = $2
WHERE id = ANY($1::uuid[]) AND status = 'processing'`, uuidStrings(ids), now)
	if err != nil {
		return 0, fmt.Errorf("reconcile orphans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseProcessing returns the given in-flight rows to pending without
// touching their retry count or eligibility.
func (s *Store) ReleaseProcessing(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_queue
SET status = 'pending', updated_at = $2
WHERE id = ANY($1::uuid[]) AND status = 'processing'`, uuidStrings(ids), now)
	if err != nil {
		return 0, fmt.Errorf("release items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetStale returns rows stuck in processing since before olderThan to pending.
func (s *Store) ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_queue
SET status = 'pending', updated_at = $2
WHERE status = 'processing' AND updated_at < $1`, olderThan, now)
	if err != nil {
		return 0, fmt.Errorf("reset stale items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueueStats counts queue rows by status, plus pending rows already due.
func (s *Store) QueueStats(ctx context.Context, now time.Time) (crawler.QueueStats, error) {
	var st crawler.QueueStats
	err := s.pool.QueryRow(ctx, `
SELECT
	count(*) FILTER (WHERE status = 'pending'),
	count(*) FILTER (WHERE status = 'processing'),
	count(*) FILTER (WHERE status = 'completed'),
	count(*) FILTER (WHERE status = 'failed'),
	count(*) FILTER (WHERE status = 'pending' AND next_eligible_at <= $1)
FROM crawl_queue`, now).Scan(&st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.Due)
	if err != nil {
		return crawler.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func scanQueueItem(row pgx.Row) (crawler.QueueItem, error) {
	var (
		item      crawler.QueueItem
		listingID *string
		parent    uuid.NullUUID
		status    string
	)
	if err := row.Scan(
		&item.ID,
		&item.URL,
		&listingID,
		&parent,
		&item.Depth,
		&item.Priority,
		&status,
		&item.RetryCount,
		&item.NextEligibleAt,
		&item.CreatedAt,
	); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("scan queue item: %w", err)
	}
	item.ListingID = deref(listingID)
	item.Status = crawler.QueueStatus(status)
	if parent.Valid {
		id := parent.UUID
		item.ParentResultID = &id
	}
	return item, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
