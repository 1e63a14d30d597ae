package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/market"
)

const coincapAssetsPath = "/v2/assets"

// CoinCapOptions parameterise the secondary batch fetcher.
type CoinCapOptions struct {
	BaseURL string
	IDs     map[string]string // symbol -> coincap asset id, e.g. BTC -> bitcoin
	Timeout time.Duration
	APIKey  string
}

// CoinCap fetches asset batches from the CoinCap REST API.
type CoinCap struct {
	opts    CoinCapOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	symbols map[string]string // asset id -> symbol
}

// NewCoinCap constructs the secondary batch fetcher.
func NewCoinCap(opts CoinCapOptions, logger zerolog.Logger) *CoinCap {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coincap.io"
	}

	reverse := make(map[string]string, len(opts.IDs))
	for symbol, id := range opts.IDs {
		reverse[strings.ToLower(id)] = strings.ToUpper(symbol)
	}

	return &CoinCap{
		opts:    opts,
		logger:  logger.With().Str("component", "coincap_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		symbols: reverse,
	}
}

// Name identifies the source tier in poller logs.
func (c *CoinCap) Name() string { return string(market.SourceCoinCap) }

type coincapAsset struct {
	ID                string `json:"id"`
	PriceUSD          string `json:"priceUsd"`
	ChangePercent24Hr string `json:"changePercent24Hr"`
	MarketCapUSD      string `json:"marketCapUsd"`
	VolumeUSD24Hr     string `json:"volumeUsd24Hr"`
}

// FetchBatch retrieves every mapped asset in one call.
func (c *CoinCap) FetchBatch(ctx context.Context, symbols []string) (map[string]market.PriceRecord, error) {
	ids := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if id, ok := c.opts.IDs[strings.ToUpper(symbol)]; ok {
			ids = append(ids, strings.ToLower(id))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("coincap: %w", ErrNoData)
	}

	endpoint := c.baseURL + coincapAssetsPath + "?ids=" + strings.Join(ids, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("coincap", resp.StatusCode, payload)
	}

	var body struct {
		Data []coincapAsset `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode coincap assets: %w", err)
	}

	observed := time.Now().UTC()
	records := make(map[string]market.PriceRecord, len(body.Data))
	for _, asset := range body.Data {
		symbol, ok := c.symbols[strings.ToLower(asset.ID)]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(asset.PriceUSD, 64)
		if err != nil || price <= 0 {
			c.logger.Warn().Str("asset", asset.ID).Str("price_usd", asset.PriceUSD).Msg("skipping unparsable asset")
			continue
		}
		change, _ := strconv.ParseFloat(asset.ChangePercent24Hr, 64)
		marketCap, _ := strconv.ParseFloat(asset.MarketCapUSD, 64)
		volume, _ := strconv.ParseFloat(asset.VolumeUSD24Hr, 64)

		records[symbol] = market.PriceRecord{
			Symbol:       symbol,
			Price:        price,
			Change24hPct: change,
			MarketCapUSD: marketCap,
			Volume24hUSD: volume,
			ObservedAt:   observed,
			Source:       market.SourceCoinCap,
		}
	}

	return records, nil
}

var _ BatchFetcher = (*CoinCap)(nil)
