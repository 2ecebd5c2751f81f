package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds prediction tuning. The rule-inference thresholds are
// heuristics fit to one export and are meant to be tuned.
type EngineConfig struct {
	Location                  string        `mapstructure:"location"`
	OutlierIQRMultiplier      float64       `mapstructure:"outlier_iqr_multiplier"`
	WindowHorizon             time.Duration `mapstructure:"window_horizon"`
	MaxWindows                int           `mapstructure:"max_windows"`
	StrongHourShare           float64       `mapstructure:"strong_hour_share"`
	CandidateHourShare        float64       `mapstructure:"candidate_hour_share"`
	RecordPredictions         bool          `mapstructure:"record_predictions"`
	InferRules                bool          `mapstructure:"infer_rules"`
	CorrelationWindow         time.Duration `mapstructure:"correlation_window"`
	CorrelationMinProbability float64       `mapstructure:"correlation_min_probability"`
	CorrelationMinSupport     int           `mapstructure:"correlation_min_support"`
	BurstWindow               time.Duration `mapstructure:"burst_window"`
	BurstMinProbability       float64       `mapstructure:"burst_min_probability"`
}

// MonitorConfig holds monitoring behavior configuration
type MonitorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Lookahead     time.Duration `mapstructure:"lookahead"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	MaxHistory    int           `mapstructure:"max_history"`
}

// FeedConfig holds the live restock feed configuration
type FeedConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// APIConfig holds the HTTP command surface configuration
type APIConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	CORSAllowOrigins  []string      `mapstructure:"cors_allow_origins"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Storage backends understood by storage.Open.
var validBackends = map[string]bool{
	"memory": true, "file": true, "bolt": true, "badger": true, "sqlite": true, "postgres": true,
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override, e.g. RESTOCK_ORACLE_API_PORT
	v.SetEnvPrefix("RESTOCK_ORACLE")
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
	// Engine defaults
	v.SetDefault("engine.location", "UTC")
	v.SetDefault("engine.outlier_iqr_multiplier", 1.5)
	v.SetDefault("engine.window_horizon", "48h")
	v.SetDefault("engine.max_windows", 6)
	v.SetDefault("engine.strong_hour_share", 0.15)
	v.SetDefault("engine.candidate_hour_share", 0.08)
	v.SetDefault("engine.record_predictions", true)
	v.SetDefault("engine.infer_rules", true)
	v.SetDefault("engine.correlation_window", "2h")
	v.SetDefault("engine.correlation_min_probability", 0.6)
	v.SetDefault("engine.correlation_min_support", 3)
	v.SetDefault("engine.burst_window", "6h")
	v.SetDefault("engine.burst_min_probability", 0.25)

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.poll_interval", "5m")
	v.SetDefault("monitor.lookahead", "30m")
	v.SetDefault("monitor.alert_cooldown", "1h")
	v.SetDefault("monitor.max_history", 500)

	// Feed defaults
	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.poll_interval", "5m")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", "./data/restock-oracle.json")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_allow_origins", []string{"*"})
	v.SetDefault("api.rate_limit_enabled", true)
	v.SetDefault("api.rate_limit_requests", 60)
	v.SetDefault("api.rate_limit_window", "1m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Engine config
	if _, err := time.LoadLocation(c.Engine.Location); err != nil {
		return fmt.Errorf("engine.location is not a valid time zone: %w", err)
	}
	if c.Engine.OutlierIQRMultiplier <= 0 {
		return fmt.Errorf("engine.outlier_iqr_multiplier must be positive")
	}
	if c.Engine.WindowHorizon < 1*time.Hour {
		return fmt.Errorf("engine.window_horizon must be at least 1 hour")
	}
	if c.Engine.MaxWindows < 1 {
		return fmt.Errorf("engine.max_windows must be at least 1")
	}
	if c.Engine.StrongHourShare <= 0 || c.Engine.StrongHourShare > 1 {
		return fmt.Errorf("engine.strong_hour_share must be in (0, 1]")
	}
	if c.Engine.CandidateHourShare <= 0 || c.Engine.CandidateHourShare > c.Engine.StrongHourShare {
		return fmt.Errorf("engine.candidate_hour_share must be in (0, strong_hour_share]")
	}
	if c.Engine.InferRules {
		if c.Engine.CorrelationWindow <= 0 {
			return fmt.Errorf("engine.correlation_window must be positive")
		}
		if c.Engine.CorrelationMinProbability < 0 || c.Engine.CorrelationMinProbability > 1 {
			return fmt.Errorf("engine.correlation_min_probability must be between 0.0 and 1.0")
		}
		if c.Engine.CorrelationMinSupport < 1 {
			return fmt.Errorf("engine.correlation_min_support must be at least 1")
		}
		if c.Engine.BurstWindow <= 0 {
			return fmt.Errorf("engine.burst_window must be positive")
		}
		if c.Engine.BurstMinProbability < 0 || c.Engine.BurstMinProbability > 1 {
			return fmt.Errorf("engine.burst_min_probability must be between 0.0 and 1.0")
		}
	}

	// Validate Monitor config
	if c.Monitor.Enabled {
		if c.Monitor.PollInterval < 1*time.Minute {
			return fmt.Errorf("monitor.poll_interval must be at least 1 minute")
		}
		if c.Monitor.Lookahead <= 0 {
			return fmt.Errorf("monitor.lookahead must be positive")
		}
	}
	if c.Monitor.AlertCooldown < 0 {
		return fmt.Errorf("monitor.alert_cooldown must not be negative")
	}
	if c.Monitor.MaxHistory < 1 {
		return fmt.Errorf("monitor.max_history must be at least 1")
	}

	// Validate Feed config
	if c.Feed.Enabled {
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required when feed is enabled")
		}
		if c.Feed.PollInterval < 10*time.Second {
			return fmt.Errorf("feed.poll_interval must be at least 10 seconds")
		}
		if c.Feed.MaxRetries < 0 {
			return fmt.Errorf("feed.max_retries must not be negative")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend must be one of: memory, file, bolt, badger, sqlite, postgres")
	}
	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	}

	// Validate API config
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			return fmt.Errorf("api.port must be between 1 and 65535")
		}
		if c.API.RateLimitEnabled && (c.API.RateLimitRequests < 1 || c.API.RateLimitWindow <= 0) {
			return fmt.Errorf("api.rate_limit_requests and api.rate_limit_window must be positive")
		}
	}

	// Validate Logging config
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

// TimeLocation returns the location used for hour-of-day bucketing.
// Call Validate first; an invalid name falls back to UTC.
func (c *Config) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
