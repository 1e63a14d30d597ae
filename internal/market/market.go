package market

import "time"

// Source identifies the upstream that produced a price record.
type Source string

const (
	SourceBinance   Source = "binance"
	SourceCoinCap   Source = "coincap"
	SourceCoinGecko Source = "coingecko"
)

// PriceRecord is the normalized quote shape returned by every source.
// Records are immutable once constructed; a refresh replaces the whole value.
type PriceRecord struct {
	Symbol       string
	Price        float64
	Change24hPct float64
	MarketCapUSD float64
	Volume24hUSD float64
	ObservedAt   time.Time
	Source       Source
}

// Age reports how old the record is relative to now.
func (r PriceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.ObservedAt)
}

// Context carries the best-effort enrichment attached to alert notifications.
type Context struct {
	MarketCapUSD float64
	Volume24hUSD float64
	Change24hPct float64
	Change7dPct  float64
	Change30dPct float64
}
