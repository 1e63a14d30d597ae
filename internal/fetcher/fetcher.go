package fetcher

import (
	"context"

	"coinwatcher/internal/market"
)

// BatchFetcher retrieves quotes for a set of symbols in one upstream call.
type BatchFetcher interface {
	Name() string
	FetchBatch(ctx context.Context, symbols []string) (map[string]market.PriceRecord, error)
}

// QuoteFetcher retrieves a single-symbol quote.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (market.PriceRecord, error)
}

// ContextFetcher retrieves best-effort market context for notification text.
type ContextFetcher interface {
	FetchContext(ctx context.Context, symbol string) (*market.Context, error)
}
