package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// RateLimitConfig holds the per-key window defaults applied to keys that were
// issued without explicit limits.
type RateLimitConfig struct {
	PerMinute   int           `mapstructure:"per_minute"`
	PerHour     int           `mapstructure:"per_hour"`
	PerDay      int           `mapstructure:"per_day"`
	IdleKeyTTL  time.Duration `mapstructure:"idle_key_ttl"`
	CleanupTick time.Duration `mapstructure:"cleanup_tick"`
}

// QuotaConfig holds the organization-wide window defaults used when an
// OrgQuota row is created lazily.
type QuotaConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

type WebhooksConfig struct {
	WorkerCount      int           `mapstructure:"worker_count"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	MaxResponseBytes int           `mapstructure:"max_response_bytes"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("rate_limit.per_minute", 60)
	viper.SetDefault("rate_limit.per_hour", 1000)
	viper.SetDefault("rate_limit.per_day", 10000)
	viper.SetDefault("rate_limit.idle_key_ttl", "10m")
	viper.SetDefault("rate_limit.cleanup_tick", "10m")
	viper.SetDefault("quota.per_minute", 60)
	viper.SetDefault("quota.per_hour", 1000)
	viper.SetDefault("quota.per_day", 10000)
	viper.SetDefault("webhooks.worker_count", 4)
	viper.SetDefault("webhooks.max_attempts", 3)
	viper.SetDefault("webhooks.backoff_base", "1m")
	viper.SetDefault("webhooks.backoff_cap", "30m")
	viper.SetDefault("webhooks.default_timeout", "30s")
	viper.SetDefault("webhooks.sweep_interval", "30s")
	viper.SetDefault("webhooks.sweep_batch_size", 100)
	viper.SetDefault("webhooks.max_response_bytes", 4096)
}
