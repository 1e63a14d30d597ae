package service

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"coinwatcher/internal/alert"
	"coinwatcher/internal/config"
	"coinwatcher/internal/fetcher"
	"coinwatcher/internal/market"
	"coinwatcher/internal/notify"
	"coinwatcher/internal/realtime"
	"coinwatcher/internal/resolver"
	"coinwatcher/internal/scheduler"
)

// Deps are the upstream collaborators the service is wired with.
type Deps struct {
	Primary   fetcher.BatchFetcher
	Secondary fetcher.BatchFetcher
	Quotes    fetcher.QuoteFetcher
	Contexts  fetcher.ContextFetcher
	Notifier  notify.Notifier
}

// Service owns the price pipeline and the alert engine, and exposes the
// contract consumed by the chat-command surface and the other downstream
// collaborators. All state lives in memory and is rebuilt on boot.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	table    *realtime.Table
	poller   *realtime.Poller
	resolver *resolver.Resolver
	store    *alert.Store
	engine   *alert.Engine

	pollLoop  *scheduler.Scheduler
	checkLoop *scheduler.Scheduler
}

// New wires the service from configuration and dependencies.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	table := realtime.NewTable()

	poller := realtime.NewPoller(realtime.PollerOptions{
		Symbols:     cfg.Poller.Symbols,
		SymbolDelay: cfg.Poller.SymbolDelay,
	}, deps.Primary, deps.Secondary, deps.Quotes, table, logger)

	res := resolver.New(resolver.Options{
		FreshnessWindow: cfg.Resolver.FreshnessWindow,
		CacheDuration:   cfg.Resolver.CacheDuration,
		BackoffDuration: cfg.Resolver.BackoffDuration,
	}, table, deps.Quotes, logger)

	store := alert.NewStore()

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	engine := alert.NewEngine(alert.EngineOptions{
		AutoThresholdPct: cfg.Alerting.AutoThresholdPct,
		AutoCooldown:     cfg.Alerting.AutoCooldown,
		PacingDelay:      cfg.Alerting.PacingDelay,
	}, store, res, deps.Contexts, notifier, logger)

	return &Service{
		cfg:      cfg,
		logger:   logger.With().Str("component", "service").Logger(),
		table:    table,
		poller:   poller,
		resolver: res,
		store:    store,
		engine:   engine,
		pollLoop: scheduler.New(scheduler.Options{
			Name:      "poll",
			Interval:  cfg.Poller.Interval,
			Immediate: true,
		}, logger),
		checkLoop: scheduler.New(scheduler.Options{
			Name:     "alert-check",
			Interval: cfg.Alerting.CheckInterval,
		}, logger),
	}
}

// Run drives both periodic loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("poll_interval", s.cfg.Poller.Interval).
		Dur("check_interval", s.cfg.Alerting.CheckInterval).
		Strs("symbols", s.cfg.Poller.Symbols).
		Msg("starting price pipeline and alert engine")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.pollLoop.Run(ctx, s.poller.PollOnce) })
	group.Go(func() error { return s.checkLoop.Run(ctx, s.engine.CheckOnce) })
	return group.Wait()
}

// GetPrice serves the best available price for symbol. A nil record with a nil
// error means no source knows the symbol.
func (s *Service) GetPrice(ctx context.Context, symbol string, forceRefresh bool) (*market.PriceRecord, error) {
	return s.resolver.GetPrice(ctx, symbol, forceRefresh)
}

// GetRealtimeSnapshot returns a read-only copy of the realtime table.
func (s *Service) GetRealtimeSnapshot() map[string]market.PriceRecord {
	return s.table.Snapshot()
}

// PollOnce runs a single poll cycle outside the timer cadence.
func (s *Service) PollOnce(ctx context.Context) error {
	return s.poller.PollOnce(ctx)
}

// CreateAlert registers a manual price alert for a chat.
func (s *Service) CreateAlert(chatID int64, symbol string, targetPrice, originalPrice float64) alert.Alert {
	created := s.store.Create(chatID, symbol, targetPrice, originalPrice)
	s.logger.Info().Int64("chat_id", chatID).Str("symbol", created.Symbol).
		Float64("target", targetPrice).Str("direction", string(created.Direction)).
		Msg("alert created")
	return created
}

// ListAlerts returns every alert for a chat.
func (s *Service) ListAlerts(chatID int64) []alert.Alert {
	return s.store.List(chatID)
}

// ClearAlerts removes every alert for a chat.
func (s *Service) ClearAlerts(chatID int64) {
	s.store.Clear(chatID)
	s.logger.Info().Int64("chat_id", chatID).Msg("alerts cleared")
}

// SetAutoVolatility toggles a chat's auto-volatility subscription.
func (s *Service) SetAutoVolatility(chatID int64, enabled bool) {
	s.store.SetAutoVolatility(chatID, enabled)
}
