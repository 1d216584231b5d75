package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const claimResultSQL = `
SELECT r.id, r.queue_id, r.url, r.html, r.detected_language, q.listing_id, q.depth
FROM fetch_results r
JOIN crawl_queue q ON q.id = r.queue_id
WHERE r.processing_status = 'new' AND r.html IS NOT NULL
ORDER BY r.scraped_at ASC
LIMIT 1
FOR UPDATE OF r SKIP LOCKED`

// InsertFetchResult stores one fetch attempt.
func (s *Store) InsertFetchResult(ctx context.Context, res crawler.FetchResult) error {
	headers, err := json.Marshal(normalizeHeaders(res.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	status := res.ProcessingStatus
	if status == "" {
		status = crawler.ProcessingStatusNew
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO fetch_results (
	id, queue_id, url, html, status_code, headers, ip_address, redirected_from,
	detected_language, language_confidence, error_message, processing_status, archive_uri, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.ID,
		res.QueueID,
		res.URL,
		res.HTML,
		res.StatusCode,
		headers,
		nullable(res.IPAddress),
		nullable(res.RedirectedFrom),
		nullable(res.Language),
		res.LanguageConfidence,
		res.Error,
		string(status),
		nullable(res.ArchiveURI),
		res.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fetch result: %w", err)
	}
	return nil
}

// ClaimResult locks the oldest unprocessed fetch result with HTML. The lock is
// held by an open transaction until the claim is completed, failed or released.
// It returns crawler.ErrNoWork when nothing is waiting.
func (s *Store) ClaimResult(ctx context.Context) (crawler.ResultClaim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}

	var (
		res       crawler.ClaimedResult
		html      *string
		lang      *string
		listingID *string
	)
	err = tx.QueryRow(ctx, claimResultSQL).Scan(
		&res.ResultID, &res.QueueID, &res.URL, &html, &lang, &listingID, &res.Depth,
	)
	if err != nil {
		rollback(ctx, tx)
		if isNoRows(err) {
			return nil, crawler.ErrNoWork
		}
		return nil, fmt.Errorf("claim fetch result: %w", err)
	}
	res.HTML = deref(html)
	res.Language = deref(lang)
	res.ListingID = deref(listingID)
	return &resultClaim{tx: tx, result: res}, nil
}

type resultClaim struct {
	tx     pgx.Tx
	result crawler.ClaimedResult
}

func (c *resultClaim) Result() crawler.ClaimedResult {
	return c.result
}

// Complete inserts the snapshot and marks the result processed in the claim transaction.
func (c *resultClaim) Complete(ctx context.Context, snap crawler.Snapshot) error {
	defer rollback(ctx, c.tx)

	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := c.tx.Exec(ctx, `
INSERT INTO snapshots (id, result_id, listing_id, content_language, data, quality_score, extracted_at, change_checked)
VALUES ($1, $2, $3, $4, $5, $6, $7, false)`,
		snap.ID,
		c.result.ResultID,
		nullable(snap.ListingID),
		nullable(snap.Language),
		data,
		snap.QualityScore,
		snap.ExtractedAt,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := c.tx.Exec(ctx, `
UPDATE fetch_results SET processing_status = 'processed', error_message = NULL WHERE id = $1`,
		c.result.ResultID); err != nil {
		return fmt.Errorf("mark result processed: %w", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Fail marks the result failed with reason. The HTML stays for reprocessing.
func (c *resultClaim) Fail(ctx context.Context, reason string) error {
	defer rollback(ctx, c.tx)

	if _, err := c.tx.Exec(ctx, `
UPDATE fetch_results SET processing_status = 'failed', error_message = $2 WHERE id = $1`,
		c.result.ResultID, reason); err != nil {
		return fmt.Errorf("mark result failed: %w", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result failure: %w", err)
	}
	return nil
}

func (c *resultClaim) Release(ctx context.Context) {
	rollback(ctx, c.tx)
}
