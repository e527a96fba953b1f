package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Exchanges  ExchangesConfig    `mapstructure:"exchanges"`
	Trading    TradingConfig      `mapstructure:"trading"`
	Thresholds ThresholdsConfig   `mapstructure:"thresholds"`
	Filtering  FilteringConfig    `mapstructure:"filtering"`
	Discovery  DiscoveryConfig    `mapstructure:"discovery"`
	Fees       map[string]FeeRate `mapstructure:"fees"`
	Overrides  []SymbolOverride   `mapstructure:"overrides"`
	Redis      RedisConfig        `mapstructure:"redis"`
	Kafka      KafkaConfig        `mapstructure:"kafka"`
	Telegram   TelegramConfig     `mapstructure:"telegram"`
	Gateway    GatewayConfig      `mapstructure:"gateway"`
	Logger     LoggerConfig       `mapstructure:"logger"`
}

type ExchangesConfig struct {
	Enabled map[string]bool `mapstructure:"enabled"`
	// PollIntervalMs overrides the per-exchange quote poll cadence.
	PollIntervalMs map[string]int `mapstructure:"poll_interval_ms"`
	HTTPTimeoutSec int            `mapstructure:"http_timeout_sec"`
}

type TradingConfig struct {
	NotionalUSDT float64 `mapstructure:"notional_usdt"`
	SlippageBps  float64 `mapstructure:"slippage_bps"`
}

type ThresholdsConfig struct {
	MinProfitUSDT float64 `mapstructure:"min_profit_usdt"`
	MinSpreadPct  float64 `mapstructure:"min_spread_pct"`
	StaleMs       int64   `mapstructure:"stale_ms"`
}

type FilteringConfig struct {
	MinPriceThreshold   float64 `mapstructure:"min_price_threshold"`
	PriceRatioThreshold float64 `mapstructure:"price_ratio_threshold"`
	StableWindowMinutes float64 `mapstructure:"stable_window_minutes"`
}

type DiscoveryConfig struct {
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec"`
}

type FeeRate struct {
	Taker float64 `mapstructure:"taker"`
	Maker float64 `mapstructure:"maker"`
}

// SymbolOverride pins one exchange's native ticker to an explicit canonical
// symbol. Known cross-listing collisions are configuration, not inference.
type SymbolOverride struct {
	Exchange     string `mapstructure:"exchange"`
	NativeSymbol string `mapstructure:"native_symbol"`
	Canonical    string `mapstructure:"canonical"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelegramConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BotToken          string  `mapstructure:"bot_token"`
	ChatID            int64   `mapstructure:"chat_id"`
	NotifyIntervalSec float64 `mapstructure:"notify_interval_sec"`
	MinProfitUSDT     float64 `mapstructure:"min_profit_usdt"`
}

type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

type LoggerConfig struct {
	Env   string `mapstructure:"env"`   // "local" uses the development logger
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// DefaultExchanges is the closed set of supported exchange identifiers.
var DefaultExchanges = []string{"bybit", "mexc", "bitget", "okx", "kucoin"}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first so viper sees those vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// Map dot-notation keys to underscore env vars (e.g. "redis.addr" -> "REDIS_ADDR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "trading.notional_usdt", "trading.slippage_bps")
	bindEnv(v, "thresholds.min_profit_usdt", "thresholds.min_spread_pct", "thresholds.stale_ms")
	bindEnv(v, "filtering.min_price_threshold", "filtering.price_ratio_threshold", "filtering.stable_window_minutes")
	bindEnv(v, "discovery.refresh_interval_sec", "exchanges.http_timeout_sec")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")
	bindEnv(v, "telegram.enabled", "telegram.bot_token", "telegram.chat_id", "telegram.notify_interval_sec", "telegram.min_profit_usdt")
	bindEnv(v, "gateway.enabled", "gateway.port")
	bindEnv(v, "logger.env", "logger.level")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Trading.NotionalUSDT <= 0 {
		return fmt.Errorf("trading notional must be positive, got %v", c.Trading.NotionalUSDT)
	}
	if c.Filtering.PriceRatioThreshold < 1.0 {
		return fmt.Errorf("price_ratio_threshold must be >= 1.0, got %v", c.Filtering.PriceRatioThreshold)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	enabled := 0
	for _, name := range DefaultExchanges {
		if c.ExchangeEnabled(name) {
			enabled++
		}
	}
	if enabled < 2 {
		return fmt.Errorf("at least 2 exchanges must be enabled, got %d", enabled)
	}
	return nil
}

// ExchangeEnabled reports whether an exchange participates in the pipeline.
// Exchanges are on by default; the enabled map only turns them off.
func (c *Config) ExchangeEnabled(name string) bool {
	if c.Exchanges.Enabled == nil {
		return true
	}
	on, ok := c.Exchanges.Enabled[strings.ToLower(name)]
	if !ok {
		return true
	}
	return on
}

// PollIntervalMs returns the quote poll cadence for one exchange.
// MEXC has strict request limits, so it defaults to a slower cycle.
func (c *Config) PollIntervalMs(name string) int {
	if ms, ok := c.Exchanges.PollIntervalMs[strings.ToLower(name)]; ok && ms > 0 {
		return ms
	}
	if strings.ToLower(name) == "mexc" {
		return 3000
	}
	return 1000
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchanges.http_timeout_sec", 10)

	v.SetDefault("trading.notional_usdt", 1000.0)
	v.SetDefault("trading.slippage_bps", 3.0)

	v.SetDefault("thresholds.min_profit_usdt", 0.5)
	v.SetDefault("thresholds.min_spread_pct", 0.05)
	v.SetDefault("thresholds.stale_ms", 1500)

	v.SetDefault("filtering.min_price_threshold", 1e-6)
	v.SetDefault("filtering.price_ratio_threshold", 1.5)
	v.SetDefault("filtering.stable_window_minutes", 5.0)

	v.SetDefault("discovery.refresh_interval_sec", 300)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "arb_opportunities")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.notify_interval_sec", 60.0)
	v.SetDefault("telegram.min_profit_usdt", 1.0)

	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.port", ":5152")

	v.SetDefault("logger.env", "local")
	v.SetDefault("logger.level", "info")
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
