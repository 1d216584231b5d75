package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// A snapshot is diffed against the newest earlier snapshot of the same
// listing, whichever of the listing's pages either one came from.
const claimSnapshotSQL = `
SELECT s.id, s.result_id, s.listing_id, s.content_language, s.data, s.quality_score, s.extracted_at
FROM snapshots s
WHERE s.change_checked = false
  AND s.listing_id IS NOT NULL
  AND EXISTS (
	SELECT 1
	FROM snapshots p
	WHERE p.listing_id = s.listing_id
	  AND p.id <> s.id
	  AND p.extracted_at <= s.extracted_at
  )
ORDER BY s.extracted_at ASC
LIMIT 1
FOR UPDATE OF s SKIP LOCKED`

const previousSnapshotSQL = `
SELECT p.id, p.result_id, p.listing_id, p.content_language, p.data, p.quality_score, p.extracted_at
FROM snapshots p
WHERE p.listing_id = $1
  AND p.id <> $2
  AND p.extracted_at <= $3
ORDER BY p.extracted_at DESC, p.id DESC
LIMIT 1`

// ClaimUncheckedSnapshot locks the oldest snapshot not yet diffed that has a
// predecessor for the same listing. It returns crawler.ErrNoWork when none exists.
func (s *Store) ClaimUncheckedSnapshot(ctx context.Context) (crawler.SnapshotClaim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot claim: %w", err)
	}

	latest, err := scanSnapshot(tx.QueryRow(ctx, claimSnapshotSQL))
	if err != nil {
		rollback(ctx, tx)
		if isNoRows(err) {
			return nil, crawler.ErrNoWork
		}
		return nil, fmt.Errorf("claim snapshot: %w", err)
	}

	previous, err := scanSnapshot(tx.QueryRow(ctx, previousSnapshotSQL, latest.ListingID, latest.ID, latest.ExtractedAt))
	if err != nil {
		rollback(ctx, tx)
		if isNoRows(err) {
			return nil, crawler.ErrNoWork
		}
		return nil, fmt.Errorf("load previous snapshot: %w", err)
	}

	return &snapshotClaim{tx: tx, latest: latest, previous: previous}, nil
}

func scanSnapshot(row pgx.Row) (crawler.Snapshot, error) {
	var (
		snap      crawler.Snapshot
		listingID *string
		lang      *string
		data      []byte
	)
	if err := row.Scan(&snap.ID, &snap.ResultID, &listingID, &lang, &data, &snap.QualityScore, &snap.ExtractedAt); err != nil {
		return crawler.Snapshot{}, err
	}
	snap.ListingID = deref(listingID)
	snap.Language = deref(lang)
	if err := json.Unmarshal(data, &snap.Data); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	return snap, nil
}

type snapshotClaim struct {
	tx       pgx.Tx
	latest   crawler.Snapshot
	previous crawler.Snapshot
}

func (c *snapshotClaim) ListingID() string          { return c.latest.ListingID }
func (c *snapshotClaim) Latest() crawler.Snapshot   { return c.latest }
func (c *snapshotClaim) Previous() crawler.Snapshot { return c.previous }

// Commit appends the change records and marks the latest snapshot checked.
func (c *snapshotClaim) Commit(ctx context.Context, records []crawler.ChangeRecord) error {
	defer rollback(ctx, c.tx)

	for _, rec := range records {
		if _, err := c.tx.Exec(ctx, `
INSERT INTO change_history (id, listing_id, field_name, old_value, new_value, detected_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, rec.ListingID, rec.Field, rec.OldValue, rec.NewValue, rec.DetectedAt,
		); err != nil {
			return fmt.Errorf("insert change record: %w", err)
		}
	}
	if _, err := c.tx.Exec(ctx, `UPDATE snapshots SET change_checked = true WHERE id = $1`, c.latest.ID); err != nil {
		return fmt.Errorf("mark snapshot checked: %w", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit change records: %w", err)
	}
	return nil
}

func (c *snapshotClaim) Release(ctx context.Context) {
	rollback(ctx, c.tx)
}

// ListChanges returns the newest change records of a listing.
func (s *Store) ListChanges(ctx context.Context, listingID string, limit int) ([]crawler.ChangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, listing_id, field_name, old_value, new_value, detected_at
FROM change_history
WHERE listing_id = $1
ORDER BY detected_at DESC
LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	records := []crawler.ChangeRecord{}
	for rows.Next() {
		var rec crawler.ChangeRecord
		if err := rows.Scan(&rec.ID, &rec.ListingID, &rec.Field, &rec.OldValue, &rec.NewValue, &rec.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return records, nil
}
