package parser

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/bloom"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/extract"
)

// FilterLoader reads a persisted bloom filter.
type FilterLoader interface {
	Load(ctx context.Context, name string) (*bloom.Filter, error)
}

// FilterNames names the gazetteer filters. An empty name disables that slot.
type FilterNames struct {
	PostCodes      string
	Municipalities string
	Streets        string
}

// Gazetteer caches the address filters for one worker and reloads them once
// they are older than the refresh interval.
type Gazetteer struct {
	loader  FilterLoader
	names   FilterNames
	refresh time.Duration
	clock   crawler.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	loadedAt time.Time
	filters  extract.AddressFilters
}

// NewGazetteer builds a cache. A non-positive refresh loads the filters once.
func NewGazetteer(loader FilterLoader, names FilterNames, refresh time.Duration, clock crawler.Clock, logger *zap.Logger) *Gazetteer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gazetteer{
		loader:  loader,
		names:   names,
		refresh: refresh,
		clock:   clock,
		logger:  logger,
	}
}

// Filters returns the cached filters, reloading them when stale. A failed
// reload keeps the previous generation.
func (g *Gazetteer) Filters(ctx context.Context) extract.AddressFilters {
	if g == nil || g.loader == nil {
		return extract.AddressFilters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !g.loadedAt.IsZero() && (g.refresh <= 0 || now.Sub(g.loadedAt) < g.refresh) {
		return g.filters
	}

	var next extract.AddressFilters
	var failed bool
	load := func(name string, slot *extract.Membership) {
		if name == "" {
			return
		}
		f, err := g.loader.Load(ctx, name)
		switch {
		case errors.Is(err, crawler.ErrNotFound):
			g.logger.Debug("gazetteer filter missing", zap.String("filter", name))
		case err != nil:
			failed = true
			g.logger.Warn("load gazetteer filter", zap.String("filter", name), zap.Error(err))
		default:
			*slot = f
		}
	}
	load(g.names.PostCodes, &next.PostCodes)
	load(g.names.Municipalities, &next.Municipalities)
	load(g.names.Streets, &next.Streets)

	if failed && !g.loadedAt.IsZero() {
		return g.filters
	}
	g.filters = next
	g.loadedAt = now
	return g.filters
}
