package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/market"
)

const (
	geckoSimplePricePath = "/api/v3/simple/price"
	geckoCoinsPath       = "/api/v3/coins/"
)

// CoinGeckoOptions parameterise the tertiary single-symbol fetcher.
type CoinGeckoOptions struct {
	BaseURL   string
	IDs       map[string]string // symbol -> coingecko id, e.g. BTC -> bitcoin
	Timeout   time.Duration
	UserAgent string
}

// CoinGecko fetches per-symbol quotes and market context from the CoinGecko
// public API. This is the rate-limited tier: a 429 surfaces as ErrRateLimited.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs the tertiary fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (g *CoinGecko) id(symbol string) (string, bool) {
	id, ok := g.opts.IDs[strings.ToUpper(strings.TrimSpace(symbol))]
	return id, ok
}

func (g *CoinGecko) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("coingecko", resp.StatusCode, payload)
	}
	return payload, nil
}

type geckoSimplePrice struct {
	USD          float64 `json:"usd"`
	USDMarketCap float64 `json:"usd_market_cap"`
	USD24hVol    float64 `json:"usd_24h_vol"`
	USD24hChange float64 `json:"usd_24h_change"`
}

// FetchQuote retrieves a single symbol's quote.
func (g *CoinGecko) FetchQuote(ctx context.Context, symbol string) (market.PriceRecord, error) {
	id, ok := g.id(symbol)
	if !ok {
		return market.PriceRecord{}, fmt.Errorf("coingecko %q: %w", symbol, ErrNoData)
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")
	query.Set("include_market_cap", "true")
	query.Set("include_24hr_vol", "true")
	query.Set("include_24hr_change", "true")

	payload, err := g.get(ctx, g.baseURL+geckoSimplePricePath+"?"+query.Encode())
	if err != nil {
		return market.PriceRecord{}, err
	}

	var body map[string]geckoSimplePrice
	if err := json.Unmarshal(payload, &body); err != nil {
		return market.PriceRecord{}, fmt.Errorf("decode coingecko price: %w", err)
	}

	entry, ok := body[id]
	if !ok || entry.USD <= 0 {
		return market.PriceRecord{}, fmt.Errorf("coingecko %q: %w", symbol, ErrNoData)
	}

	return market.PriceRecord{
		Symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
		Price:        entry.USD,
		Change24hPct: entry.USD24hChange,
		MarketCapUSD: entry.USDMarketCap,
		Volume24hUSD: entry.USD24hVol,
		ObservedAt:   time.Now().UTC(),
		Source:       market.SourceCoinGecko,
	}, nil
}

type geckoCoinDetail struct {
	MarketData struct {
		MarketCap struct {
			USD float64 `json:"usd"`
		} `json:"market_cap"`
		TotalVolume struct {
			USD float64 `json:"usd"`
		} `json:"total_volume"`
		PriceChange24h float64 `json:"price_change_percentage_24h"`
		PriceChange7d  float64 `json:"price_change_percentage_7d"`
		PriceChange30d float64 `json:"price_change_percentage_30d"`
	} `json:"market_data"`
}

// FetchContext retrieves enrichment data for alert messages. Callers treat any
// failure as "no context", so errors here only degrade notification text.
func (g *CoinGecko) FetchContext(ctx context.Context, symbol string) (*market.Context, error) {
	id, ok := g.id(symbol)
	if !ok {
		return nil, fmt.Errorf("coingecko %q: %w", symbol, ErrNoData)
	}

	query := url.Values{}
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("community_data", "false")
	query.Set("developer_data", "false")

	payload, err := g.get(ctx, g.baseURL+geckoCoinsPath+url.PathEscape(id)+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var detail geckoCoinDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		return nil, fmt.Errorf("decode coingecko coin detail: %w", err)
	}

	return &market.Context{
		MarketCapUSD: detail.MarketData.MarketCap.USD,
		Volume24hUSD: detail.MarketData.TotalVolume.USD,
		Change24hPct: detail.MarketData.PriceChange24h,
		Change7dPct:  detail.MarketData.PriceChange7d,
		Change30dPct: detail.MarketData.PriceChange30d,
	}, nil
}

var (
	_ QuoteFetcher   = (*CoinGecko)(nil)
	_ ContextFetcher = (*CoinGecko)(nil)
)
