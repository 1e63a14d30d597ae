package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/fetcher"
	"coinwatcher/internal/market"
	"coinwatcher/internal/realtime"
)

// Options tune the resolver's freshness and backoff behaviour.
type Options struct {
	FreshnessWindow time.Duration // realtime entries younger than this win outright
	CacheDuration   time.Duration // TTL for cold-fetched entries
	BackoffDuration time.Duration // global cold-fetch suppression after a 429
}

type cacheEntry struct {
	record   market.PriceRecord
	cachedAt time.Time
}

// Resolver serves the best available price for a symbol, balancing recency
// against redundant or rate-limited upstream calls. Cache entries are retained
// past their TTL so they can back stale reads during backoff. The rate-limit
// gate is a single timestamp shared across all symbols: one 429 suppresses
// cold fetches for every symbol until the backoff window passes.
type Resolver struct {
	opts   Options
	table  *realtime.Table
	quotes fetcher.QuoteFetcher
	logger zerolog.Logger

	mu              sync.Mutex
	cache           map[string]cacheEntry
	lastRateLimitAt time.Time

	now func() time.Time
}

// New constructs a resolver.
func New(opts Options, table *realtime.Table, quotes fetcher.QuoteFetcher, logger zerolog.Logger) *Resolver {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 15 * time.Second
	}
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = 120 * time.Second
	}
	if opts.BackoffDuration <= 0 {
		opts.BackoffDuration = 120 * time.Second
	}
	return &Resolver{
		opts:   opts,
		table:  table,
		quotes: quotes,
		logger: logger.With().Str("component", "resolver").Logger(),
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// GetPrice returns the best available record for symbol, or nil when no source
// knows it. forceRefresh treats the cache as stale but still honours a fresh
// realtime entry and an active backoff window. Rate limits are absorbed into
// the stale-fallback chain; any other cold-fetch error propagates.
func (r *Resolver) GetPrice(ctx context.Context, symbol string, forceRefresh bool) (*market.PriceRecord, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, nil
	}
	key := strings.ToLower(sym)
	now := r.now()

	// Realtime fast path: fresher than anything the cache could hold.
	if record, ok := r.table.Get(sym); ok && record.Age(now) < r.opts.FreshnessWindow {
		return &record, nil
	}

	r.mu.Lock()
	if r.inBackoff(now) {
		record := r.fallbackLocked(sym, key)
		r.mu.Unlock()
		r.logger.Debug().Str("symbol", sym).Bool("have_stale", record != nil).Msg("cold fetch suppressed by backoff gate")
		return record, nil
	}
	if !forceRefresh {
		if entry, ok := r.cache[key]; ok && now.Sub(entry.cachedAt) < r.opts.CacheDuration {
			record := entry.record
			r.mu.Unlock()
			return &record, nil
		}
	}
	r.mu.Unlock()

	record, err := r.quotes.FetchQuote(ctx, sym)
	switch {
	case err == nil:
		r.mu.Lock()
		r.cache[key] = cacheEntry{record: record, cachedAt: r.now()}
		r.mu.Unlock()
		return &record, nil
	case errors.Is(err, fetcher.ErrRateLimited):
		r.mu.Lock()
		r.lastRateLimitAt = r.now()
		fallback := r.fallbackLocked(sym, key)
		r.mu.Unlock()
		r.logger.Warn().Str("symbol", sym).Msg("rate limited, backoff gate armed for all symbols")
		return fallback, nil
	case errors.Is(err, fetcher.ErrNoData):
		return nil, nil
	default:
		return nil, err
	}
}

// Snapshot exposes a read-only copy of the realtime table.
func (r *Resolver) Snapshot() map[string]market.PriceRecord {
	return r.table.Snapshot()
}

func (r *Resolver) inBackoff(now time.Time) bool {
	return !r.lastRateLimitAt.IsZero() && now.Sub(r.lastRateLimitAt) < r.opts.BackoffDuration
}

// fallbackLocked returns the preferred stale source: cache entry regardless of
// TTL, then realtime entry regardless of age, then nothing. Caller holds r.mu.
func (r *Resolver) fallbackLocked(sym, key string) *market.PriceRecord {
	if entry, ok := r.cache[key]; ok {
		record := entry.record
		return &record
	}
	if record, ok := r.table.Get(sym); ok {
		return &record
	}
	return nil
}
