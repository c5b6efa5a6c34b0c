package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Market    MarketConfig    `mapstructure:"market"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Adaptive  AdaptiveConfig  `mapstructure:"adaptive"`
	Static    StaticConfig    `mapstructure:"static"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// MarketConfig holds exchange API configuration
type MarketConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Symbols         []string      `mapstructure:"symbols"`
	Interval        string        `mapstructure:"interval"`
	Limit           int           `mapstructure:"limit"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// SentimentConfig holds news sentiment configuration
type SentimentConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Headlines      int           `mapstructure:"headlines"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	MinScore       float64       `mapstructure:"min_score"`
}

// ScanConfig holds scan loop configuration
type ScanConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// EngineConfig holds technical prefilter and signal pricing configuration
type EngineConfig struct {
	MinTechnicalScore float64 `mapstructure:"min_technical_score"`
	RSICeiling        float64 `mapstructure:"rsi_ceiling"`
	WeightTrend       float64 `mapstructure:"weight_trend"`
	WeightVolume      float64 `mapstructure:"weight_volume"`
	WeightMACD        float64 `mapstructure:"weight_macd"`
	WeightRSI         float64 `mapstructure:"weight_rsi"`
	TargetPct         float64 `mapstructure:"target_pct"`
	StopPct           float64 `mapstructure:"stop_pct"`
}

// AdaptiveConfig holds online-retrained model configuration
type AdaptiveConfig struct {
	ModelName          string  `mapstructure:"model_name"`
	MinSamples         int     `mapstructure:"min_samples"`
	RetrainThreshold   int     `mapstructure:"retrain_threshold"`
	SendThreshold      float64 `mapstructure:"send_threshold"`
	CautionThreshold   float64 `mapstructure:"caution_threshold"`
	UntrainedThreshold float64 `mapstructure:"untrained_threshold"`
	Epochs             int     `mapstructure:"epochs"`
	LearningRate       float64 `mapstructure:"learning_rate"`
}

// StaticConfig holds pretrained model configuration
type StaticConfig struct {
	ModelPath       string   `mapstructure:"model_path"`
	StrongBuy       float64  `mapstructure:"strong_buy"`
	Buy             float64  `mapstructure:"buy"`
	WeakBuy         float64  `mapstructure:"weak_buy"`
	LookaheadBars   int      `mapstructure:"lookahead_bars"`
	TargetGain      float64  `mapstructure:"target_gain"`
	TrainingSymbols []string `mapstructure:"training_symbols"`
}

// MonitorConfig holds signal lifecycle configuration
type MonitorConfig struct {
	ExpiryDays         int     `mapstructure:"expiry_days"`
	PartialCreditRatio float64 `mapstructure:"partial_credit_ratio"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional .env file, the config file and
// environment variables. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// HYBRIDSCAN_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("HYBRIDSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("market.base_url", "https://api.binance.com")
	v.SetDefault("market.symbols", []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"})
	v.SetDefault("market.interval", "1h")
	v.SetDefault("market.limit", 200)
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.requests_per_sec", 10.0)
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.breaker_failures", 5)
	v.SetDefault("market.breaker_timeout", "1m")

	v.SetDefault("sentiment.enabled", false)
	v.SetDefault("sentiment.base_url", "https://newsapi.org")
	v.SetDefault("sentiment.headlines", 5)
	v.SetDefault("sentiment.cache_ttl", "30m")
	v.SetDefault("sentiment.timeout", "10s")
	v.SetDefault("sentiment.requests_per_sec", 1.0)
	v.SetDefault("sentiment.min_score", -0.3)

	v.SetDefault("scan.interval", "15m")

	v.SetDefault("engine.min_technical_score", 70.0)
	v.SetDefault("engine.rsi_ceiling", 70.0)
	v.SetDefault("engine.weight_trend", 35.0)
	v.SetDefault("engine.weight_volume", 30.0)
	v.SetDefault("engine.weight_macd", 25.0)
	v.SetDefault("engine.weight_rsi", 10.0)
	v.SetDefault("engine.target_pct", 0.04)
	v.SetDefault("engine.stop_pct", 0.02)

	v.SetDefault("adaptive.model_name", "adaptive_model")
	v.SetDefault("adaptive.min_samples", 50)
	v.SetDefault("adaptive.retrain_threshold", 20)
	v.SetDefault("adaptive.send_threshold", 0.75)
	v.SetDefault("adaptive.caution_threshold", 0.6)
	v.SetDefault("adaptive.untrained_threshold", 0.7)
	v.SetDefault("adaptive.epochs", 500)
	v.SetDefault("adaptive.learning_rate", 0.1)

	v.SetDefault("static.model_path", "./models/static_model.json")
	v.SetDefault("static.strong_buy", 0.8)
	v.SetDefault("static.buy", 0.65)
	v.SetDefault("static.weak_buy", 0.5)
	v.SetDefault("static.lookahead_bars", 4)
	v.SetDefault("static.target_gain", 0.02)
	v.SetDefault("static.training_symbols", []string{"BTCUSDT", "ETHUSDT"})

	v.SetDefault("monitor.expiry_days", 7)
	v.SetDefault("monitor.partial_credit_ratio", 0.8)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.db_path", "./data/hybridscan.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Market.BaseURL == "" {
		return fmt.Errorf("market.base_url is required")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols must contain at least one symbol")
	}
	if c.Market.Limit < 50 || c.Market.Limit > 1000 {
		return fmt.Errorf("market.limit must be between 50 and 1000")
	}
	if c.Market.Timeout <= 0 {
		return fmt.Errorf("market.timeout must be positive")
	}
	if c.Market.RequestsPerSec <= 0 {
		return fmt.Errorf("market.requests_per_sec must be positive")
	}

	if c.Sentiment.Enabled && c.Sentiment.Headlines < 1 {
		return fmt.Errorf("sentiment.headlines must be at least 1")
	}
	if c.Sentiment.MinScore < -1 || c.Sentiment.MinScore > 1 {
		return fmt.Errorf("sentiment.min_score must be between -1 and 1")
	}

	if c.Scan.Interval < 1*time.Minute {
		return fmt.Errorf("scan.interval must be at least 1 minute")
	}

	if c.Engine.MinTechnicalScore < 0 || c.Engine.MinTechnicalScore > 100 {
		return fmt.Errorf("engine.min_technical_score must be between 0 and 100")
	}
	if c.Engine.TargetPct <= 0 || c.Engine.TargetPct >= 1 {
		return fmt.Errorf("engine.target_pct must be between 0 and 1")
	}
	if c.Engine.StopPct <= 0 || c.Engine.StopPct >= 1 {
		return fmt.Errorf("engine.stop_pct must be between 0 and 1")
	}

	if c.Adaptive.ModelName == "" {
		return fmt.Errorf("adaptive.model_name is required")
	}
	if c.Adaptive.MinSamples < 2 {
		return fmt.Errorf("adaptive.min_samples must be at least 2")
	}
	if c.Adaptive.RetrainThreshold < 1 {
		return fmt.Errorf("adaptive.retrain_threshold must be at least 1")
	}
	if c.Adaptive.CautionThreshold > c.Adaptive.SendThreshold {
		return fmt.Errorf("adaptive.caution_threshold must not exceed adaptive.send_threshold")
	}
	if c.Adaptive.Epochs < 1 || c.Adaptive.LearningRate <= 0 {
		return fmt.Errorf("adaptive.epochs and adaptive.learning_rate must be positive")
	}

	if !(c.Static.WeakBuy <= c.Static.Buy && c.Static.Buy <= c.Static.StrongBuy) {
		return fmt.Errorf("static tiers must satisfy weak_buy <= buy <= strong_buy")
	}

	if c.Monitor.ExpiryDays < 1 {
		return fmt.Errorf("monitor.expiry_days must be at least 1")
	}
	if c.Monitor.PartialCreditRatio <= 0 || c.Monitor.PartialCreditRatio > 1 {
		return fmt.Errorf("monitor.partial_credit_ratio must be in (0, 1]")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file driver")
		}
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: file, sqlite")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
