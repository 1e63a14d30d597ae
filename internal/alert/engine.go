package alert

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/fetcher"
	"coinwatcher/internal/market"
	"coinwatcher/internal/notify"
)

// PriceSource is the resolver contract the engine consumes.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, forceRefresh bool) (*market.PriceRecord, error)
	Snapshot() map[string]market.PriceRecord
}

// EngineOptions tune the evaluation cycle.
type EngineOptions struct {
	AutoThresholdPct float64       // abs percent move that fires an auto alert
	AutoCooldown     time.Duration // min gap since the last fired move
	PacingDelay      time.Duration // load-shaping delay between alerts/symbols
}

// Engine runs one evaluation pass per tick: the auto-volatility scan first,
// then every chat's active manual alerts against force-refreshed prices.
type Engine struct {
	opts     EngineOptions
	store    *Store
	prices   PriceSource
	contexts fetcher.ContextFetcher
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine constructs the evaluation engine.
func NewEngine(opts EngineOptions, store *Store, prices PriceSource, contexts fetcher.ContextFetcher, notifier notify.Notifier, logger zerolog.Logger) *Engine {
	if opts.AutoThresholdPct <= 0 {
		opts.AutoThresholdPct = 3.0
	}
	if opts.AutoCooldown <= 0 {
		opts.AutoCooldown = time.Hour
	}
	return &Engine{
		opts:     opts,
		store:    store,
		prices:   prices,
		contexts: contexts,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_engine").Logger(),
		now:      time.Now,
	}
}

// CheckOnce runs a full evaluation cycle. Failures are logged, never returned;
// a failed resolve skips the alert for this cycle without touching its state.
func (e *Engine) CheckOnce(ctx context.Context) error {
	e.checkAutoVolatility(ctx)
	e.checkManualAlerts(ctx)
	return nil
}

func (e *Engine) checkManualAlerts(ctx context.Context) {
	for chatID, alerts := range e.store.Active() {
		for i, alert := range alerts {
			if i > 0 && e.opts.PacingDelay > 0 {
				if !sleepCtx(ctx, e.opts.PacingDelay) {
					return
				}
			}
			e.evaluateAlert(ctx, chatID, alert)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) evaluateAlert(ctx context.Context, chatID int64, alert Alert) {
	record, err := e.prices.GetPrice(ctx, alert.Symbol, true)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", alert.Symbol).Str("alert_id", alert.ID).Msg("resolve failed, skipping alert this cycle")
		return
	}
	if record == nil {
		e.logger.Debug().Str("symbol", alert.Symbol).Str("alert_id", alert.ID).Msg("no price available, skipping alert this cycle")
		return
	}

	if !alert.Crossed(record.Price) {
		return
	}

	// The one-way transition is what makes the notification at-most-once: if
	// another cycle got here first, MarkTriggered refuses and we send nothing.
	if !e.store.MarkTriggered(chatID, alert.ID, record.Price, e.now()) {
		return
	}

	mctx := e.enrich(ctx, alert.Symbol)
	text := renderTriggerMessage(alert, *record, mctx)
	if err := e.notifier.Notify(ctx, chatID, text); err != nil {
		e.logger.Error().Err(err).Int64("chat_id", chatID).Str("alert_id", alert.ID).Msg("failed to deliver alert notification")
	}
	e.logger.Info().Str("symbol", alert.Symbol).Str("alert_id", alert.ID).Float64("price", record.Price).Msg("alert triggered")
}

// enrich is best-effort: a failed context lookup degrades the message, never
// blocks delivery.
func (e *Engine) enrich(ctx context.Context, symbol string) *market.Context {
	if e.contexts == nil {
		return nil
	}
	mctx, err := e.contexts.FetchContext(ctx, symbol)
	if err != nil {
		e.logger.Debug().Err(err).Str("symbol", symbol).Msg("market context lookup failed")
		return nil
	}
	return mctx
}

func (e *Engine) checkAutoVolatility(ctx context.Context) {
	snapshot := e.prices.Snapshot()
	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for i, symbol := range symbols {
		if i > 0 && e.opts.PacingDelay > 0 {
			if !sleepCtx(ctx, e.opts.PacingDelay) {
				return
			}
		}
		e.evaluateVolatility(ctx, symbol, snapshot[symbol])
	}
}

func (e *Engine) evaluateVolatility(ctx context.Context, symbol string, record market.PriceRecord) {
	now := e.now()

	baseline, ok := e.store.Baseline(symbol)
	if !ok {
		// First sight: seed and stay quiet, there is nothing to compare against.
		e.store.Rebase(symbol, record.Price, now)
		return
	}
	if baseline.LastAlertPrice == 0 {
		e.store.Rebase(symbol, record.Price, now)
		return
	}

	pctChange := (record.Price - baseline.LastAlertPrice) / baseline.LastAlertPrice * 100
	if math.Abs(pctChange) < e.opts.AutoThresholdPct {
		return
	}
	if now.Sub(baseline.LastAlertAt) <= e.opts.AutoCooldown {
		return
	}

	text := renderVolatilityMessage(symbol, record, pctChange)
	for _, chatID := range e.store.Subscribers() {
		if err := e.notifier.Notify(ctx, chatID, text); err != nil {
			e.logger.Error().Err(err).Int64("chat_id", chatID).Str("symbol", symbol).Msg("failed to deliver volatility notification")
		}
	}

	// Rebase to the triggering price so the next firing needs a fresh move
	// relative to this one, not to any fixed reference.
	e.store.Rebase(symbol, record.Price, now)
	e.logger.Info().Str("symbol", symbol).Float64("pct_change", pctChange).Msg("volatility alert fired")
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
