// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Delay     DelayConfig     `mapstructure:"delay"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Seeds     SeedsConfig     `mapstructure:"seeds"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Store     StoreConfig     `mapstructure:"store"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features. Level accepts the usual
// zap names; empty keeps the profile default.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the optional HTTP API server. An empty APIKey
// leaves the API unauthenticated.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs discovery and the per-site crawl pipeline.
type CrawlerConfig struct {
	UserAgent             string        `mapstructure:"user_agent"`
	MaxDepth              int           `mapstructure:"max_depth"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	WorkersPerSite        int           `mapstructure:"workers_per_site"`
	EmptyChecksBeforeExit int           `mapstructure:"empty_checks_before_exit"`
	MaxConcurrentSites    int           `mapstructure:"max_concurrent_sites"`
	SiteTimeout           time.Duration `mapstructure:"site_timeout"`
	WarmupPending         int           `mapstructure:"warmup_pending"`
	WarmupPoll            time.Duration `mapstructure:"warmup_poll"`
	WarmupTimeout         time.Duration `mapstructure:"warmup_timeout"`
	LeaseExpiry           time.Duration `mapstructure:"lease_expiry"`
}

// RateLimitConfig bounds request rates per domain and process-wide.
type RateLimitConfig struct {
	PerDomainPerMinute int     `mapstructure:"per_domain_per_minute"`
	ProbeRPS           float64 `mapstructure:"probe_rps"`
	ProbeBurst         int     `mapstructure:"probe_burst"`
}

// DelayConfig sets the random pause applied after every scrape.
type DelayConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// HTTPConfig configures the plain HTTP probe client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	PoolSize   int           `mapstructure:"pool_size"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
}

// SeedsConfig locates the CSV seed list.
type SeedsConfig struct {
	Path      string `mapstructure:"path"`
	URLColumn string `mapstructure:"url_column"`
}

// FrontierConfig selects and configures the durable URL frontier.
type FrontierConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ArtifactsConfig sets where screenshots and HTML artifacts land.
type ArtifactsConfig struct {
	Backend   string `mapstructure:"backend"`
	Root      string `mapstructure:"root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// StoreConfig controls run-history persistence. An empty DSN keeps run
// history in memory.
type StoreConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// PubSubConfig holds metadata for page completion events. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk and environment. An explicit path must
// exist; with path empty the default search locations are consulted and a
// missing file falls back to defaults plus environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("dircrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dircrawl")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; dircrawl/1.0)")
	v.SetDefault("crawler.max_depth", 100)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.workers_per_site", 5)
	v.SetDefault("crawler.empty_checks_before_exit", 10)
	v.SetDefault("crawler.max_concurrent_sites", 3)
	v.SetDefault("crawler.site_timeout", 300*time.Second)
	v.SetDefault("crawler.warmup_pending", 20)
	v.SetDefault("crawler.warmup_poll", time.Second)
	v.SetDefault("crawler.warmup_timeout", 60*time.Second)
	v.SetDefault("crawler.lease_expiry", 2*time.Minute)
	v.SetDefault("rate_limit.per_domain_per_minute", 30)
	v.SetDefault("rate_limit.probe_rps", 2.0)
	v.SetDefault("rate_limit.probe_burst", 1)
	v.SetDefault("delay.min", 2*time.Second)
	v.SetDefault("delay.max", 5*time.Second)
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("seeds.url_column", "url")
	v.SetDefault("frontier.driver", "sqlite")
	v.SetDefault("frontier.path", "dircrawl.db")
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.root", "output")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.WorkersPerSite <= 0 {
		return fmt.Errorf("crawler.workers_per_site must be > 0")
	}
	if c.Crawler.MaxConcurrentSites <= 0 {
		return fmt.Errorf("crawler.max_concurrent_sites must be > 0")
	}
	if c.RateLimit.PerDomainPerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_domain_per_minute must be > 0")
	}
	if c.RateLimit.ProbeRPS <= 0 {
		return fmt.Errorf("rate_limit.probe_rps must be > 0")
	}
	if c.Delay.Min < 0 || c.Delay.Max < c.Delay.Min {
		return fmt.Errorf("delay.max must be >= delay.min >= 0")
	}
	if c.Browser.Enabled && c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0 when the browser is enabled")
	}
	switch c.Frontier.Driver {
	case "memory":
	case "sqlite":
		if c.Frontier.Path == "" {
			return fmt.Errorf("frontier.path must be set for the sqlite driver")
		}
	case "postgres":
		if c.Frontier.PostgresDSN == "" {
			return fmt.Errorf("frontier.postgres_dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("frontier.driver must be one of sqlite, postgres, memory")
	}
	switch c.Artifacts.Backend {
	case "memory":
	case "local":
		if c.Artifacts.Root == "" {
			return fmt.Errorf("artifacts.root must be set for the local backend")
		}
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			return fmt.Errorf("artifacts.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("artifacts.backend must be one of local, gcs, memory")
	}
	return nil
}
