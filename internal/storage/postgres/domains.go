package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// MaxDepth returns the sub-page depth limit for domain. An enabled multipage
// rule overrides fallback.
func (s *Store) MaxDepth(ctx context.Context, domain string, fallback int) (int, error) {
	var depth int
	err := s.pool.QueryRow(ctx, `
SELECT max_depth FROM domain_multipage_rules WHERE domain = $1 AND enabled = true`,
		strings.ToLower(domain)).Scan(&depth)
	if err != nil {
		if isNoRows(err) {
			return fallback, nil
		}
		return 0, fmt.Errorf("load multipage rule: %w", err)
	}
	return depth, nil
}

// SetMultipageRule creates or replaces the depth rule of a domain.
func (s *Store) SetMultipageRule(ctx context.Context, rule crawler.MultipageRule) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO domain_multipage_rules (domain, max_depth, enabled)
VALUES ($1, $2, $3)
ON CONFLICT (domain) DO UPDATE SET max_depth = EXCLUDED.max_depth, enabled = EXCLUDED.enabled`,
		strings.ToLower(rule.Domain), rule.MaxDepth, rule.Enabled)
	if err != nil {
		return fmt.Errorf("save multipage rule: %w", err)
	}
	return nil
}

// AddBlacklist excludes a domain from dispatch. Re-adding updates the reason.
func (s *Store) AddBlacklist(ctx context.Context, entry crawler.BlacklistEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO domain_blacklist (domain, reason, auto_added, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE SET reason = EXCLUDED.reason, auto_added = EXCLUDED.auto_added`,
		strings.ToLower(entry.Domain), nullable(entry.Reason), entry.AutoAdded, created)
	if err != nil {
		return fmt.Errorf("add blacklist entry: %w", err)
	}
	return nil
}

// ListBlacklist returns every blacklisted domain.
func (s *Store) ListBlacklist(ctx context.Context) ([]crawler.BlacklistEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT domain, reason, auto_added, created_at FROM domain_blacklist ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	entries := []crawler.BlacklistEntry{}
	for rows.Next() {
		var (
			e      crawler.BlacklistEntry
			reason *string
		)
		if err := rows.Scan(&e.Domain, &reason, &e.AutoAdded, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		e.Reason = deref(reason)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	return entries, nil
}
