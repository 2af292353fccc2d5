package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Push    PushConfig    `mapstructure:"push"`
	Polling PollingConfig `mapstructure:"polling"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Tier       string `mapstructure:"tier"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	RatePerSec int    `mapstructure:"rate_per_second"`
}

type PushConfig struct {
	URL               string `mapstructure:"url"`
	ReconnectAttempts int    `mapstructure:"reconnect_attempts"`
}

type PollingConfig struct {
	MinIntervalMs         int `mapstructure:"min_interval_ms"`
	MaxIntervalMs         int `mapstructure:"max_interval_ms"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
}

// QuotaConfig overrides the tier defaults where non-zero.
type QuotaConfig struct {
	ShortLimit     int `mapstructure:"short_limit"`
	ShortWindowSec int `mapstructure:"short_window_sec"`
	DailyLimit     int `mapstructure:"daily_limit"`
	FuseThreshold  int `mapstructure:"fuse_threshold"`
}

type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "https://opensky-network.org")
	v.SetDefault("api.tier", string(TierAnonymous))
	v.SetDefault("api.timeout_sec", 15)
	v.SetDefault("api.rate_per_second", 2)
	v.SetDefault("push.url", "wss://opensky-network.org/api/states/ws")
	v.SetDefault("push.reconnect_attempts", 5)
	v.SetDefault("polling.min_interval_ms", 10000)
	v.SetDefault("polling.max_interval_ms", 300000)
	v.SetDefault("polling.max_concurrent_requests", 3)
	v.SetDefault("quota.fuse_threshold", 3)
	v.SetDefault("cache.ttl_seconds", 30)
	v.SetDefault("store.path", "data/tracker.db")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("SKYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind credential keys to env vars
	_ = v.BindEnv("api.username", "SKYWATCH_API_USERNAME")
	_ = v.BindEnv("api.password", "SKYWATCH_API_PASSWORD")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := TierFromString(c.API.Tier); err != nil {
		return err
	}
	if c.API.Tier == string(TierAuthenticated) && c.API.Username == "" {
		return fmt.Errorf("authenticated tier requires api.username (set SKYWATCH_API_USERNAME env var)")
	}
	if c.Polling.MinIntervalMs < 1 {
		return fmt.Errorf("polling.min_interval_ms must be >= 1")
	}
	if c.Polling.MaxIntervalMs < c.Polling.MinIntervalMs {
		return fmt.Errorf("polling.max_interval_ms must be >= polling.min_interval_ms")
	}
	if c.Polling.MaxConcurrentRequests < 1 {
		return fmt.Errorf("polling.max_concurrent_requests must be >= 1")
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("cache.ttl_seconds must be >= 1")
	}
	if c.Quota.FuseThreshold < 1 {
		return fmt.Errorf("quota.fuse_threshold must be >= 1")
	}
	if c.Push.ReconnectAttempts < 1 {
		return fmt.Errorf("push.reconnect_attempts must be >= 1")
	}
	return nil
}

func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Polling.MinIntervalMs) * time.Millisecond
}

func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.Polling.MaxIntervalMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// QuotaLimits resolves the effective window sizes for the configured tier,
// applying any explicit overrides.
func (c *Config) QuotaLimits() TierLimits {
	tier, _ := TierFromString(c.API.Tier)
	limits := LimitsFor(tier)

	if c.Quota.ShortLimit > 0 {
		limits.ShortLimit = c.Quota.ShortLimit
	}
	if c.Quota.ShortWindowSec > 0 {
		limits.ShortWindow = time.Duration(c.Quota.ShortWindowSec) * time.Second
	}
	if c.Quota.DailyLimit > 0 {
		limits.DailyLimit = c.Quota.DailyLimit
	}
	return limits
}
