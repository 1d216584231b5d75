package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-crawler/internal/bloom"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// BloomDefaults sizes filters that are created on first reference.
type BloomDefaults struct {
	Capacity  uint
	ErrorRate float64
}

// BloomStore persists named bloom filters with an exact log of every item added.
type BloomStore struct {
	pool     pool
	defaults BloomDefaults
	now      func() time.Time
}

// NewBloomStore builds a BloomStore over pool.
func NewBloomStore(p pool, defaults BloomDefaults) (*BloomStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if defaults.Capacity == 0 {
		defaults.Capacity = bloom.DefaultCapacity
	}
	if defaults.ErrorRate == 0 {
		defaults.ErrorRate = bloom.DefaultErrorRate
	}
	if err := bloom.ValidateParams(defaults.Capacity, defaults.ErrorRate); err != nil {
		return nil, fmt.Errorf("bloom defaults: %w", err)
	}
	return &BloomStore{pool: p, defaults: defaults, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Add inserts item into the named filter. It returns false when the item is
// probably present already, in which case nothing is written.
func (s *BloomStore) Add(ctx context.Context, name, item, source string) (bool, error) {
	added, err := s.addAll(ctx, name, []string{item}, source)
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

// Import adds every item of items not already present and returns how many
// were new. The filter row is rewritten once.
func (s *BloomStore) Import(ctx context.Context, name string, items []string, source string) (int, error) {
	return s.addAll(ctx, name, items, source)
}

func (s *BloomStore) addAll(ctx context.Context, name string, items []string, source string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("filter name is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin bloom add: %w", err)
	}
	defer rollback(ctx, tx)

	filter, err := s.lockFilter(ctx, tx, name)
	if err != nil {
		return 0, err
	}

	now := s.now()
	added, logged := 0, int64(0)
	for _, item := range items {
		if item == "" || filter.TestString(item) {
			continue
		}
		filter.AddString(item)
		added++
		tag, err := tx.Exec(ctx, `
INSERT INTO bloom_filter_items (filter_name, item, source, added_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (filter_name, item) DO NOTHING`, name, item, nullable(source), now)
		if err != nil {
			return 0, fmt.Errorf("log bloom item: %w", err)
		}
		logged += tag.RowsAffected()
	}
	if added == 0 {
		return 0, nil
	}

	data, err := filter.Encode()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
UPDATE bloom_filters
SET filter_data = $2, item_count = item_count + $3, last_updated = $4
WHERE name = $1`, name, data, logged, now); err != nil {
		return 0, fmt.Errorf("update bloom filter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit bloom add: %w", err)
	}
	return added, nil
}

// lockFilter loads the filter row under FOR UPDATE, creating it with the
// default sizing when it does not exist yet.
func (s *BloomStore) lockFilter(ctx context.Context, tx pgx.Tx, name string) (*bloom.Filter, error) {
	const selectSQL = `SELECT filter_data FROM bloom_filters WHERE name = $1 FOR UPDATE`

	var data []byte
	err := tx.QueryRow(ctx, selectSQL, name).Scan(&data)
	if isNoRows(err) {
		if _, err := s.insertFilter(ctx, tx, name, s.defaults.Capacity, s.defaults.ErrorRate); err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, selectSQL, name).Scan(&data)
	}
	if err != nil {
		return nil, fmt.Errorf("lock bloom filter %q: %w", name, err)
	}
	return bloom.Decode(data)
}

// insertFilter creates an empty filter row. An existing row is left untouched
// and reported through the returned flag.
func (s *BloomStore) insertFilter(ctx context.Context, q execer, name string, capacity uint, errorRate float64) (bool, error) {
	filter, err := bloom.New(capacity, errorRate)
	if err != nil {
		return false, err
	}
	data, err := filter.Encode()
	if err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
INSERT INTO bloom_filters (name, filter_data, capacity, item_count, false_positive_rate, last_updated)
VALUES ($1, $2, $3, 0, $4, $5)
ON CONFLICT (name) DO NOTHING`, name, data, int64(capacity), errorRate, s.now())
	if err != nil {
		return false, fmt.Errorf("create bloom filter %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Create makes an empty filter. It returns false when the name is taken.
func (s *BloomStore) Create(ctx context.Context, name string, capacity uint, errorRate float64) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("filter name is required")
	}
	if capacity == 0 {
		capacity = s.defaults.Capacity
	}
	if errorRate == 0 {
		errorRate = s.defaults.ErrorRate
	}
	return s.insertFilter(ctx, s.pool, name, capacity, errorRate)
}

// Check tests membership without writing. A missing filter holds nothing.
func (s *BloomStore) Check(ctx context.Context, name, item string) (bool, error) {
	present, err := s.CheckAll(ctx, name, []string{item})
	if err != nil {
		return false, err
	}
	return present[0], nil
}

// CheckAll tests every item against one load of the filter. A missing filter
// contains nothing.
func (s *BloomStore) CheckAll(ctx context.Context, name string, items []string) ([]bool, error) {
	present := make([]bool, len(items))
	filter, err := s.Load(ctx, name)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return present, nil
		}
		return nil, err
	}
	for i, item := range items {
		present[i] = filter.TestString(item)
	}
	return present, nil
}

// Load returns the current filter value, or crawler.ErrNotFound.
func (s *BloomStore) Load(ctx context.Context, name string) (*bloom.Filter, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT filter_data FROM bloom_filters WHERE name = $1`, name).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("bloom filter %q: %w", name, crawler.ErrNotFound)
		}
		return nil, fmt.Errorf("load bloom filter %q: %w", name, err)
	}
	return bloom.Decode(data)
}

// Rebuild replaces a filter with one rebuilt from its item log, sized at twice
// the logged item count with a floor of bloom.MinRebuildCapacity.
func (s *BloomStore) Rebuild(ctx context.Context, name string) (bloom.Stats, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return bloom.Stats{}, fmt.Errorf("begin bloom rebuild: %w", err)
	}
	defer rollback(ctx, tx)

	var errorRate float64
	err = tx.QueryRow(ctx, `SELECT false_positive_rate FROM bloom_filters WHERE name = $1 FOR UPDATE`, name).Scan(&errorRate)
	if err != nil {
		if isNoRows(err) {
			return bloom.Stats{}, fmt.Errorf("bloom filter %q: %w", name, crawler.ErrNotFound)
		}
		return bloom.Stats{}, fmt.Errorf("lock bloom filter %q: %w", name, err)
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = s.defaults.ErrorRate
	}

	var count int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM bloom_filter_items WHERE filter_name = $1`, name).Scan(&count); err != nil {
		return bloom.Stats{}, fmt.Errorf("count bloom items: %w", err)
	}
	capacity := bloom.RebuildCapacity(int(count))
	filter, err := bloom.New(capacity, errorRate)
	if err != nil {
		return bloom.Stats{}, err
	}

	rows, err := tx.Query(ctx, `SELECT item FROM bloom_filter_items WHERE filter_name = $1`, name)
	if err != nil {
		return bloom.Stats{}, fmt.Errorf("read bloom items: %w", err)
	}
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			rows.Close()
			return bloom.Stats{}, fmt.Errorf("scan bloom item: %w", err)
		}
		filter.AddString(item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return bloom.Stats{}, fmt.Errorf("read bloom items: %w", err)
	}

	data, err := filter.Encode()
	if err != nil {
		return bloom.Stats{}, err
	}
	now := s.now()
	if _, err := tx.Exec(ctx, `
UPDATE bloom_filters
SET filter_data = $2, capacity = $3, item_count = $4, false_positive_rate = $5, last_updated = $6
WHERE name = $1`, name, data, int64(capacity), count, errorRate, now); err != nil {
		return bloom.Stats{}, fmt.Errorf("store rebuilt filter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return bloom.Stats{}, fmt.Errorf("commit bloom rebuild: %w", err)
	}
	return bloom.Stats{
		Name:        name,
		Capacity:    int64(capacity),
		ItemCount:   count,
		ErrorRate:   errorRate,
		SizeBytes:   int64(len(data)),
		LastUpdated: now,
	}, nil
}

const bloomStatsColumns = `name, capacity, item_count, false_positive_rate, octet_length(filter_data)::bigint, last_updated`

// Stats describes one filter.
func (s *BloomStore) Stats(ctx context.Context, name string) (bloom.Stats, error) {
	st, err := scanBloomStats(s.pool.QueryRow(ctx, `SELECT `+bloomStatsColumns+` FROM bloom_filters WHERE name = $1`, name))
	if err != nil {
		if isNoRows(err) {
			return bloom.Stats{}, fmt.Errorf("bloom filter %q: %w", name, crawler.ErrNotFound)
		}
		return bloom.Stats{}, fmt.Errorf("bloom stats: %w", err)
	}
	return st, nil
}

// List describes every filter, ordered by name.
func (s *BloomStore) List(ctx context.Context) ([]bloom.Stats, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bloomStatsColumns+` FROM bloom_filters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list bloom filters: %w", err)
	}
	defer rows.Close()

	out := []bloom.Stats{}
	for rows.Next() {
		st, err := scanBloomStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bloom stats: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bloom filters: %w", err)
	}
	return out, nil
}

func scanBloomStats(row pgx.Row) (bloom.Stats, error) {
	var st bloom.Stats
	err := row.Scan(&st.Name, &st.Capacity, &st.ItemCount, &st.ErrorRate, &st.SizeBytes, &st.LastUpdated)
	return st, err
}
