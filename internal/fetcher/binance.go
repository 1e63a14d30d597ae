package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/market"
)

const binanceTickerPath = "/api/v3/ticker/24hr"

// BinanceOptions parameterise the primary batch fetcher.
type BinanceOptions struct {
	BaseURL   string
	Pairs     map[string]string // symbol -> trading pair, e.g. BTC -> BTCUSDT
	Timeout   time.Duration
	UserAgent string
}

// Binance fetches 24h ticker batches from the Binance spot API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	symbols map[string]string // trading pair -> symbol
}

// NewBinance constructs the primary batch fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	reverse := make(map[string]string, len(opts.Pairs))
	for symbol, pair := range opts.Pairs {
		reverse[strings.ToUpper(pair)] = strings.ToUpper(symbol)
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		symbols: reverse,
	}
}

// Name identifies the source tier in poller logs.
func (b *Binance) Name() string { return string(market.SourceBinance) }

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
}

// FetchBatch retrieves the 24h tickers for every mapped symbol in one call.
func (b *Binance) FetchBatch(ctx context.Context, symbols []string) (map[string]market.PriceRecord, error) {
	pairs := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if pair, ok := b.opts.Pairs[strings.ToUpper(symbol)]; ok {
			pairs = append(pairs, strings.ToUpper(pair))
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("binance: %w", ErrNoData)
	}

	encoded, err := json.Marshal(pairs)
	if err != nil {
		return nil, err
	}

	endpoint := b.baseURL + binanceTickerPath + "?symbols=" + url.QueryEscape(string(encoded))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("binance", resp.StatusCode, payload)
	}

	var tickers []binanceTicker
	if err := json.Unmarshal(payload, &tickers); err != nil {
		return nil, fmt.Errorf("decode binance tickers: %w", err)
	}

	observed := time.Now().UTC()
	records := make(map[string]market.PriceRecord, len(tickers))
	for _, ticker := range tickers {
		symbol, ok := b.symbols[strings.ToUpper(ticker.Symbol)]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(ticker.LastPrice, 64)
		if err != nil || price <= 0 {
			b.logger.Warn().Str("pair", ticker.Symbol).Str("last_price", ticker.LastPrice).Msg("skipping unparsable ticker")
			continue
		}
		change, _ := strconv.ParseFloat(ticker.PriceChangePercent, 64)
		volume, _ := strconv.ParseFloat(ticker.QuoteVolume, 64)

		// Binance carries no market cap; the field stays zero.
		records[symbol] = market.PriceRecord{
			Symbol:       symbol,
			Price:        price,
			Change24hPct: change,
			Volume24hUSD: volume,
			ObservedAt:   observed,
			Source:       market.SourceBinance,
		}
	}

	return records, nil
}

var _ BatchFetcher = (*Binance)(nil)
