package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/airwatch/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ambee     AmbeeConfig     `mapstructure:"ambee"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AmbeeConfig holds data provider configuration
type AmbeeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
}

// SchedulerConfig holds check cycle configuration
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// MonitorConfig holds change detection configuration
type MonitorConfig struct {
	Thresholds map[string]float64 `mapstructure:"thresholds"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath           string `mapstructure:"db_path"`
	MaxNotifications int    `mapstructure:"max_notifications"`
}

// RedisConfig holds the cycle lock backend configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelegramConfig holds operator alert configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, a .env file and
// environment variables. An empty path uses defaults and environment only.
// Environment keys use the AIRWATCH_ prefix with dots replaced by
// underscores, e.g. AIRWATCH_AMBEE_API_KEY.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AIRWATCH")
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
	cfg.Monitor.Thresholds = canonicalThresholds(cfg.Monitor.Thresholds)

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("ambee.base_url", "https://api.ambeedata.com")
	v.SetDefault("ambee.timeout", "10s")
	v.SetDefault("ambee.requests_per_minute", 60)
	v.SetDefault("ambee.max_retries", 1) // the next cycle is the retry
	v.SetDefault("ambee.retry_delay_base", "1s")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.fetch_timeout", "10s")
	v.SetDefault("scheduler.lock_ttl", "10m")

	// one key per metric so each can be overridden from the environment
	for metric, value := range models.DefaultThresholdValues() {
		v.SetDefault("monitor.thresholds."+strings.ToLower(metric), value)
	}

	v.SetDefault("storage.db_path", "./data/airwatch.db")
	v.SetDefault("storage.max_notifications", 100)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// canonicalThresholds restores metric spelling lost to viper's
// case-insensitive keys ("windspeed" becomes "windSpeed"). Unknown keys are
// kept as-is so Validate can reject them.
func canonicalThresholds(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		name := key
		for _, m := range models.NumericMetrics {
			if strings.EqualFold(key, string(m)) {
				name = string(m)
				break
			}
		}
		out[name] = value
	}
	return out
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Ambee.BaseURL == "" {
		return fmt.Errorf("ambee.base_url is required")
	}
	if c.Ambee.Timeout <= 0 {
		return fmt.Errorf("ambee.timeout must be positive")
	}
	if c.Ambee.RequestsPerMinute < 1 {
		return fmt.Errorf("ambee.requests_per_minute must be at least 1")
	}
	if c.Ambee.MaxRetries < 1 {
		return fmt.Errorf("ambee.max_retries must be at least 1")
	}

	if c.Scheduler.Interval < 1*time.Minute {
		return fmt.Errorf("scheduler.interval must be at least 1 minute")
	}
	if c.Scheduler.Concurrency < 1 || c.Scheduler.Concurrency > 100 {
		return fmt.Errorf("scheduler.concurrency must be between 1 and 100")
	}
	if c.Scheduler.FetchTimeout <= 0 {
		return fmt.Errorf("scheduler.fetch_timeout must be positive")
	}
	if c.Redis.Enabled && c.Scheduler.LockTTL < c.Scheduler.FetchTimeout {
		return fmt.Errorf("scheduler.lock_ttl must be at least scheduler.fetch_timeout")
	}

	if _, err := models.NewThresholds(c.Monitor.Thresholds); err != nil {
		return fmt.Errorf("monitor.thresholds: %w", err)
	}

	if c.Storage.MaxNotifications < 1 {
		return fmt.Errorf("storage.max_notifications must be at least 1")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
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

// Thresholds returns the validated per-metric threshold table.
func (c *Config) Thresholds() (models.Thresholds, error) {
	return models.NewThresholds(c.Monitor.Thresholds)
}
