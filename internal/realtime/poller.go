package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/fetcher"
)

// PollerOptions tune the realtime polling loop.
type PollerOptions struct {
	Symbols     []string
	SymbolDelay time.Duration // inter-request delay on the per-symbol tier
}

// Poller keeps the realtime table populated from tiered upstream sources:
// primary batch, then secondary batch, then a per-symbol fallback loop.
type Poller struct {
	opts      PollerOptions
	primary   fetcher.BatchFetcher
	secondary fetcher.BatchFetcher
	fallback  fetcher.QuoteFetcher
	table     *Table
	logger    zerolog.Logger
}

// NewPoller constructs the poller.
func NewPoller(opts PollerOptions, primary, secondary fetcher.BatchFetcher, fallback fetcher.QuoteFetcher, table *Table, logger zerolog.Logger) *Poller {
	if opts.SymbolDelay <= 0 {
		opts.SymbolDelay = 1500 * time.Millisecond
	}
	return &Poller{
		opts:      opts,
		primary:   primary,
		secondary: secondary,
		fallback:  fallback,
		table:     table,
		logger:    logger.With().Str("component", "poller").Logger(),
	}
}

// PollOnce runs one poll cycle. A tier success short-circuits the remaining
// tiers; a tier failure (error or empty payload) falls through to the next.
// Failures are logged, never returned.
func (p *Poller) PollOnce(ctx context.Context) error {
	if p.tryBatch(ctx, p.primary) {
		return nil
	}
	if p.tryBatch(ctx, p.secondary) {
		return nil
	}
	p.pollEach(ctx)
	return nil
}

func (p *Poller) tryBatch(ctx context.Context, source fetcher.BatchFetcher) bool {
	if source == nil {
		return false
	}

	records, err := source.FetchBatch(ctx, p.opts.Symbols)
	if err != nil {
		p.logger.Warn().Err(err).Str("source", source.Name()).Msg("batch tier failed, falling through")
		return false
	}
	if len(records) == 0 {
		p.logger.Warn().Str("source", source.Name()).Msg("batch tier returned empty payload, falling through")
		return false
	}

	for _, record := range records {
		p.table.Set(record)
	}
	p.logger.Debug().Str("source", source.Name()).Int("symbols", len(records)).Msg("realtime table updated")
	return true
}

// pollEach walks the tracked set against the per-symbol source, updating
// whatever subset succeeds. The inter-request delay respects per-symbol rate
// limits on the fallback API.
func (p *Poller) pollEach(ctx context.Context) {
	if p.fallback == nil {
		return
	}

	updated := 0
	for i, symbol := range p.opts.Symbols {
		if i > 0 {
			if !sleepCtx(ctx, p.opts.SymbolDelay) {
				return
			}
		}

		record, err := p.fallback.FetchQuote(ctx, symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Warn().Err(err).Str("symbol", symbol).Msg("fallback quote failed")
			continue
		}
		p.table.Set(record)
		updated++
	}

	p.logger.Debug().Int("symbols", updated).Msg("realtime table updated via fallback tier")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
