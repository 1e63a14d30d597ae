package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"coinwatcher/internal/config"
	"coinwatcher/internal/fetcher"
	"coinwatcher/internal/notify"
	"coinwatcher/internal/service"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newService() *service.Service {
	binance := fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL:   a.Config.Sources.Binance.BaseURL,
		Pairs:     a.Config.Sources.Binance.Pairs,
		Timeout:   a.Config.Sources.Binance.RequestTimeout,
		UserAgent: a.Config.Sources.Binance.UserAgent,
	}, a.Logger)

	coincap := fetcher.NewCoinCap(fetcher.CoinCapOptions{
		BaseURL: a.Config.Sources.CoinCap.BaseURL,
		IDs:     a.Config.Sources.CoinCap.IDs,
		Timeout: a.Config.Sources.CoinCap.RequestTimeout,
		APIKey:  a.Config.Sources.CoinCap.APIKey,
	}, a.Logger)

	coingecko := fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:   a.Config.Sources.CoinGecko.BaseURL,
		IDs:       a.Config.Sources.CoinGecko.IDs,
		Timeout:   a.Config.Sources.CoinGecko.RequestTimeout,
		UserAgent: a.Config.Sources.CoinGecko.UserAgent,
	}, a.Logger)

	return service.New(a.Config, service.Deps{
		Primary:   binance,
		Secondary: coincap,
		Quotes:    coingecko,
		Contexts:  coingecko,
		Notifier:  a.newNotifier(),
	}, a.Logger)
}

func (a *App) newNotifier() notify.Notifier {
	cfg := a.Config.Telegram
	if cfg.BotToken == "" {
		a.Logger.Warn().Msg("telegram.bot_token not configured; notifications disabled")
		return notify.Nop{}
	}
	return notify.NewTelegram(cfg.BotToken, cfg.APIBase, cfg.RequestTimeout, a.Logger)
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := a.newService()

	err := svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher service stopped")
	return nil
}
