package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"coinwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SourcesConfig groups the three upstream quote sources, in priority order.
type SourcesConfig struct {
	Binance   BinanceConfig   `mapstructure:"binance"`
	CoinCap   CoinCapConfig   `mapstructure:"coincap"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
}

// BinanceConfig covers the primary batch source.
type BinanceConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Pairs          map[string]string `mapstructure:"pairs"` // symbol -> trading pair
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
}

// CoinCapConfig covers the secondary batch source.
type CoinCapConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	IDs            map[string]string `mapstructure:"ids"` // symbol -> asset id
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	APIKey         string            `mapstructure:"api_key"`
}

// CoinGeckoConfig covers the tertiary per-symbol source and market context.
type CoinGeckoConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	IDs            map[string]string `mapstructure:"ids"` // symbol -> coin id
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
}

// PollerConfig governs the realtime polling loop.
type PollerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Symbols     []string      `mapstructure:"symbols"`
	SymbolDelay time.Duration `mapstructure:"symbol_delay"`
}

// ResolverConfig tunes the cached price read path.
type ResolverConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	CacheDuration   time.Duration `mapstructure:"cache_duration"`
	BackoffDuration time.Duration `mapstructure:"backoff_duration"`
}

// AlertingConfig drives the evaluation engine.
type AlertingConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	PacingDelay      time.Duration `mapstructure:"pacing_delay"`
	AutoThresholdPct float64       `mapstructure:"auto_threshold_pct"`
	AutoCooldown     time.Duration `mapstructure:"auto_cooldown"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "coinwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("sources.binance.base_url", "https://api.binance.com")
	v.SetDefault("sources.binance.request_timeout", "4s")
	v.SetDefault("sources.binance.user_agent", "coinwatcher/1.0")
	v.SetDefault("sources.binance.pairs", map[string]string{
		"BTC": "BTCUSDT", "ETH": "ETHUSDT", "SOL": "SOLUSDT",
		"BNB": "BNBUSDT", "XRP": "XRPUSDT", "DOGE": "DOGEUSDT", "ADA": "ADAUSDT",
	})

	v.SetDefault("sources.coincap.base_url", "https://api.coincap.io")
	v.SetDefault("sources.coincap.request_timeout", "5s")
	v.SetDefault("sources.coincap.ids", map[string]string{
		"BTC": "bitcoin", "ETH": "ethereum", "SOL": "solana",
		"BNB": "binance-coin", "XRP": "xrp", "DOGE": "dogecoin", "ADA": "cardano",
	})

	v.SetDefault("sources.coingecko.base_url", "https://api.coingecko.com")
	v.SetDefault("sources.coingecko.request_timeout", "8s")
	v.SetDefault("sources.coingecko.user_agent", "coinwatcher/1.0")
	v.SetDefault("sources.coingecko.ids", map[string]string{
		"BTC": "bitcoin", "ETH": "ethereum", "SOL": "solana",
		"BNB": "binancecoin", "XRP": "ripple", "DOGE": "dogecoin", "ADA": "cardano",
	})

	v.SetDefault("poller.interval", "10s")
	v.SetDefault("poller.symbols", []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE", "ADA"})
	v.SetDefault("poller.symbol_delay", "1500ms")

	v.SetDefault("resolver.freshness_window", "15s")
	v.SetDefault("resolver.cache_duration", "120s")
	v.SetDefault("resolver.backoff_duration", "120s")

	v.SetDefault("alerting.check_interval", "30s")
	v.SetDefault("alerting.pacing_delay", "1s")
	v.SetDefault("alerting.auto_threshold_pct", 3.0)
	v.SetDefault("alerting.auto_cooldown", "1h")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	if len(c.Poller.Symbols) == 0 {
		return fmt.Errorf("poller.symbols must not be empty")
	}
	if c.Alerting.CheckInterval <= 0 {
		return fmt.Errorf("alerting.check_interval must be greater than zero")
	}
	if c.Alerting.AutoThresholdPct <= 0 {
		return fmt.Errorf("alerting.auto_threshold_pct must be greater than zero")
	}
	if c.Alerting.AutoCooldown <= 0 {
		return fmt.Errorf("alerting.auto_cooldown must be greater than zero")
	}
	if c.Resolver.FreshnessWindow <= 0 || c.Resolver.CacheDuration <= 0 || c.Resolver.BackoffDuration <= 0 {
		return fmt.Errorf("resolver durations must be greater than zero")
	}
	for _, symbol := range c.Poller.Symbols {
		upper := strings.ToUpper(symbol)
		if _, ok := c.Sources.Binance.Pairs[upper]; ok {
			continue
		}
		if _, ok := c.Sources.CoinCap.IDs[upper]; ok {
			continue
		}
		if _, ok := c.Sources.CoinGecko.IDs[upper]; ok {
			continue
		}
		return fmt.Errorf("poller symbol %q has no upstream id mapping", symbol)
	}
	return nil
}
