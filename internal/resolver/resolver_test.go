package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/fetcher"
	"coinwatcher/internal/market"
	"coinwatcher/internal/realtime"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type scriptedQuotes struct {
	calls   int
	price   float64
	err     error
	bySym   map[string]float64
	lastSym string
}

func (s *scriptedQuotes) FetchQuote(ctx context.Context, symbol string) (market.PriceRecord, error) {
	s.calls++
	s.lastSym = symbol
	if s.err != nil {
		return market.PriceRecord{}, s.err
	}
	price := s.price
	if p, ok := s.bySym[symbol]; ok {
		price = p
	}
	return market.PriceRecord{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Now().UTC(),
		Source:     market.SourceCoinGecko,
	}, nil
}

func newTestResolver(table *realtime.Table, quotes fetcher.QuoteFetcher, clock *fakeClock) *Resolver {
	r := New(Options{
		FreshnessWindow: 15 * time.Second,
		CacheDuration:   120 * time.Second,
		BackoffDuration: 120 * time.Second,
	}, table, quotes, zerolog.Nop())
	r.now = clock.Now
	return r
}

func TestFreshRealtimeSkipsColdFetch(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	table := realtime.NewTable()
	table.Set(market.PriceRecord{Symbol: "BTC", Price: 49000, ObservedAt: clock.Now().Add(-5 * time.Second), Source: market.SourceBinance})

	quotes := &scriptedQuotes{price: 50000}
	r := newTestResolver(table, quotes, clock)

	for _, force := range []bool{false, true} {
		record, err := r.GetPrice(context.Background(), "BTC", force)
		if err != nil {
			t.Fatalf("force=%v: %v", force, err)
		}
		if record == nil || record.Price != 49000 {
			t.Fatalf("force=%v: fresh realtime entry must win, got %+v", force, record)
		}
	}
	if quotes.calls != 0 {
		t.Fatalf("realtime fast path must not cold fetch, calls=%d", quotes.calls)
	}
}

func TestCacheTTLScenario(t *testing.T) {
	// cacheDuration=120s, freshnessWindow=15s; cold fetch at t=0, cached read
	// at t=10s, refetch at t=130s.
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	quotes := &scriptedQuotes{price: 50000}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	record, err := r.GetPrice(context.Background(), "BTC", false)
	if err != nil || record == nil || record.Price != 50000 {
		t.Fatalf("cold fetch failed: %+v %v", record, err)
	}
	if quotes.calls != 1 {
		t.Fatalf("expected one cold fetch, got %d", quotes.calls)
	}

	clock.Advance(10 * time.Second)
	quotes.price = 51000
	record, err = r.GetPrice(context.Background(), "BTC", false)
	if err != nil || record == nil || record.Price != 50000 {
		t.Fatalf("warm cache should serve original price: %+v %v", record, err)
	}
	if quotes.calls != 1 {
		t.Fatalf("warm cache must not refetch, calls=%d", quotes.calls)
	}

	clock.Advance(120 * time.Second) // t=130s
	record, err = r.GetPrice(context.Background(), "BTC", false)
	if err != nil || record == nil || record.Price != 51000 {
		t.Fatalf("expired cache must trigger cold fetch: %+v %v", record, err)
	}
	if quotes.calls != 2 {
		t.Fatalf("expected second cold fetch, calls=%d", quotes.calls)
	}
}

func TestForceRefreshSkipsWarmCache(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	quotes := &scriptedQuotes{price: 50000}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	if _, err := r.GetPrice(context.Background(), "BTC", false); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	quotes.price = 50500

	record, err := r.GetPrice(context.Background(), "BTC", true)
	if err != nil || record == nil || record.Price != 50500 {
		t.Fatalf("forced refresh must bypass a fresh cache entry: %+v %v", record, err)
	}
	if quotes.calls != 2 {
		t.Fatalf("expected a second fetch, calls=%d", quotes.calls)
	}
}

func TestBackoffGateIsGlobal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	quotes := &scriptedQuotes{err: fmt.Errorf("coingecko: %w", fetcher.ErrRateLimited)}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	// Rate limit on symbol A.
	record, err := r.GetPrice(context.Background(), "BTC", false)
	if err != nil {
		t.Fatalf("rate limit must not surface as an error: %v", err)
	}
	if record != nil {
		t.Fatalf("no fallback data exists, expected nil, got %+v", record)
	}
	if quotes.calls != 1 {
		t.Fatalf("calls=%d", quotes.calls)
	}

	// Symbol B with no rate-limit history must also be suppressed.
	quotes.err = nil
	quotes.price = 3000
	clock.Advance(30 * time.Second)
	record, err = r.GetPrice(context.Background(), "ETH", false)
	if err != nil || record != nil {
		t.Fatalf("cold fetch for ETH must be suppressed under backoff: %+v %v", record, err)
	}
	if quotes.calls != 1 {
		t.Fatalf("backoff gate must block all symbols, calls=%d", quotes.calls)
	}

	// Past the window the gate disarms.
	clock.Advance(100 * time.Second)
	record, err = r.GetPrice(context.Background(), "ETH", false)
	if err != nil || record == nil || record.Price != 3000 {
		t.Fatalf("gate should disarm after backoffDuration: %+v %v", record, err)
	}
}

func TestBackoffFallbackPrefersStaleCacheThenRealtime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	table := realtime.NewTable()
	quotes := &scriptedQuotes{price: 50000}
	r := newTestResolver(table, quotes, clock)

	// Seed the cache, then expire it and arm the gate.
	if _, err := r.GetPrice(context.Background(), "BTC", false); err != nil {
		t.Fatal(err)
	}
	clock.Advance(150 * time.Second)
	table.Set(market.PriceRecord{Symbol: "BTC", Price: 48000, ObservedAt: clock.Now().Add(-time.Hour), Source: market.SourceBinance})
	quotes.err = fetcher.ErrRateLimited
	record, err := r.GetPrice(context.Background(), "BTC", false)
	if err != nil || record == nil || record.Price != 50000 {
		t.Fatalf("stale cache beats stale realtime under backoff: %+v %v", record, err)
	}

	// A symbol with no cache entry falls back to the aged realtime record.
	table.Set(market.PriceRecord{Symbol: "ETH", Price: 2900, ObservedAt: clock.Now().Add(-time.Hour), Source: market.SourceBinance})
	record, err = r.GetPrice(context.Background(), "ETH", false)
	if err != nil || record == nil || record.Price != 2900 {
		t.Fatalf("aged realtime entry should back the fallback chain: %+v %v", record, err)
	}
}

func TestForceRefreshHonoursBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	quotes := &scriptedQuotes{err: fetcher.ErrRateLimited}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	if _, err := r.GetPrice(context.Background(), "BTC", true); err != nil {
		t.Fatal(err)
	}
	calls := quotes.calls

	clock.Advance(10 * time.Second)
	if _, err := r.GetPrice(context.Background(), "BTC", true); err != nil {
		t.Fatal(err)
	}
	if quotes.calls != calls {
		t.Fatalf("forced refresh must still honour the backoff gate, calls=%d", quotes.calls)
	}
}

func TestUnexpectedErrorPropagates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	boom := errors.New("tls handshake failed")
	quotes := &scriptedQuotes{err: boom}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	if _, err := r.GetPrice(context.Background(), "BTC", false); !errors.Is(err, boom) {
		t.Fatalf("non-rate-limit errors must propagate, got %v", err)
	}
}

func TestNoDataReturnsNil(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	quotes := &scriptedQuotes{err: fmt.Errorf("coingecko %q: %w", "NOPE", fetcher.ErrNoData)}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	record, err := r.GetPrice(context.Background(), "NOPE", false)
	if err != nil || record != nil {
		t.Fatalf("unknown symbol is a defined null result: %+v %v", record, err)
	}
}

func TestSymbolNormalization(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	quotes := &scriptedQuotes{price: 50000}
	r := newTestResolver(realtime.NewTable(), quotes, clock)

	if _, err := r.GetPrice(context.Background(), " btc ", false); err != nil {
		t.Fatal(err)
	}
	if quotes.lastSym != "BTC" {
		t.Fatalf("symbol should be normalized before fetch: %q", quotes.lastSym)
	}
	// The cached entry must serve the differently-cased lookup.
	record, err := r.GetPrice(context.Background(), "BTC", false)
	if err != nil || record == nil {
		t.Fatalf("cache key should be case-insensitive: %+v %v", record, err)
	}
	if quotes.calls != 1 {
		t.Fatalf("second lookup should hit the cache, calls=%d", quotes.calls)
	}
}
