package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const requeueCandidatesSQL = `
SELECT latest.url, latest.listing_id
FROM (
	SELECT DISTINCT ON (q.url, q.listing_id)
		q.url, q.listing_id, s.quality_score, s.extracted_at
	FROM snapshots s
	JOIN fetch_results r ON r.id = s.result_id
	JOIN crawl_queue q ON q.id = r.queue_id
	ORDER BY q.url, q.listing_id, s.extracted_at DESC
) latest
WHERE latest.quality_score > $1
  AND latest.extracted_at < $2
  AND NOT EXISTS (
	SELECT 1 FROM domain_blacklist b
	WHERE b.auto_added = true AND latest.url LIKE '%' || b.domain || '%'
  )
  AND NOT EXISTS (
	SELECT 1 FROM crawl_queue p
	WHERE p.url = latest.url
	  AND p.listing_id IS NOT DISTINCT FROM latest.listing_id
	  AND p.status IN ('pending', 'processing')
  )`

// RequeueCandidates lists pages whose newest snapshot scored above minQuality
// and was extracted before cutoff, excluding auto-blacklisted domains and
// pages already waiting in the queue.
func (s *Store) RequeueCandidates(ctx context.Context, minQuality int, cutoff time.Time) ([]crawler.PageRef, error) {
	rows, err := s.pool.Query(ctx, requeueCandidatesSQL, minQuality, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select requeue candidates: %w", err)
	}
	defer rows.Close()

	var out []crawler.PageRef
	for rows.Next() {
		var (
			c         crawler.PageRef
			listingID *string
		)
		if err := rows.Scan(&c.URL, &listingID); err != nil {
			return nil, fmt.Errorf("scan requeue candidate: %w", err)
		}
		c.ListingID = deref(listingID)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select requeue candidates: %w", err)
	}
	return out, nil
}
