// Package config loads and validates listener configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Browser BrowserConfig `mapstructure:"browser"`
	DB      DBConfig      `mapstructure:"db"`
	Target  TargetConfig  `mapstructure:"target"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BrowserConfig points at the remote browser automation endpoint.
type BrowserConfig struct {
	WSEndpoint string `mapstructure:"ws_endpoint"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// TargetConfig identifies the remote application being harvested.
type TargetConfig struct {
	URL string `mapstructure:"url"`
}

// ScrapeConfig bounds a single collection cycle.
type ScrapeConfig struct {
	MaxPages          int `mapstructure:"max_pages"`
	PageSize          int `mapstructure:"page_size"`
	LookbackDays      int `mapstructure:"lookback_days"`
	DetailConcurrency int `mapstructure:"detail_concurrency"`
}

// LoopConfig governs cycle scheduling and failure backoff.
type LoopConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	RunOnce      bool          `mapstructure:"run_once"`
}

// ServerConfig controls the health HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISTENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can populate them.
	v.SetDefault("browser.ws_endpoint", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("target.url", "https://iceout.org/en/")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("scrape.max_pages", 80)
	v.SetDefault("scrape.page_size", 100)
	v.SetDefault("scrape.lookback_days", 7)
	v.SetDefault("scrape.detail_concurrency", 6)
	v.SetDefault("loop.poll_interval", "2m")
	v.SetDefault("loop.backoff_base", "2s")
	v.SetDefault("loop.backoff_max", "1m")
	v.SetDefault("loop.run_once", false)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Browser.WSEndpoint == "" {
		return fmt.Errorf("browser.ws_endpoint is required")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Target.URL == "" {
		return fmt.Errorf("target.url is required")
	}
	if c.Scrape.MaxPages <= 0 {
		return fmt.Errorf("scrape.max_pages must be > 0")
	}
	if c.Scrape.PageSize <= 0 {
		return fmt.Errorf("scrape.page_size must be > 0")
	}
	if c.Scrape.LookbackDays <= 0 {
		return fmt.Errorf("scrape.lookback_days must be > 0")
	}
	if c.Scrape.DetailConcurrency <= 0 {
		return fmt.Errorf("scrape.detail_concurrency must be > 0")
	}
	if c.Loop.PollInterval <= 0 {
		return fmt.Errorf("loop.poll_interval must be > 0")
	}
	if c.Loop.BackoffBase <= 0 || c.Loop.BackoffMax < c.Loop.BackoffBase {
		return fmt.Errorf("loop.backoff_base and loop.backoff_max must be positive with max >= base")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the health server is enabled")
	}
	return nil
}

// Lookback converts the configured lookback window into a duration.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.Scrape.LookbackDays) * 24 * time.Hour
}
