package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds crawler configuration.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	DryRun    DryRunConfig    `mapstructure:"dry_run"`
}

// BackendConfig locates the offer collector.
type BackendConfig struct {
	URL               string        `mapstructure:"url"`
	Endpoint          string        `mapstructure:"endpoint"`
	Timeout           time.Duration `mapstructure:"timeout"`
	AmbiguousStatuses []int         `mapstructure:"ambiguous_statuses"`
	TimeoutStatuses   []int         `mapstructure:"timeout_statuses"`
}

// TelemetryConfig configures trace export. An empty endpoint keeps tracing
// local: carriers are still produced but spans are not exported.
type TelemetryConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"` // grpc or http
	ServiceName string            `mapstructure:"service_name"`
	Headers     map[string]string `mapstructure:"headers"`
}

// CrawlConfig drives page fetching and extraction.
type CrawlConfig struct {
	Shop            string        `mapstructure:"shop"`
	Limit           int           `mapstructure:"limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxFailures     int           `mapstructure:"max_failures"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	DetailDelay     time.Duration `mapstructure:"detail_delay"`
	DetailCacheSize int           `mapstructure:"detail_cache_size"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// LoggingConfig controls slog output and optional file rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DryRunConfig replaces the backend with a JSON lines file when Output is set.
type DryRunConfig struct {
	Output string `mapstructure:"output"`
}

// DefaultConfig returns the defaults used by the original shop crawls.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:               "http://localhost:8080",
			Endpoint:          "offers",
			Timeout:           600 * time.Second,
			AmbiguousStatuses: []int{515},
			TimeoutStatuses:   []int{408},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "aragog",
		},
		Crawl: CrawlConfig{
			Shop:            "all",
			Limit:           70,
			RequestTimeout:  600 * time.Second,
			MaxFailures:     3,
			RetryDelay:      5 * time.Second,
			DetailDelay:     5 * time.Second,
			DetailCacheSize: 1024,
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from an optional file and ARAGOG_* environment
// variables on top of DefaultConfig. With an empty path it looks for
// configuration.{yaml,json,toml} in the working directory and ./configs.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("configuration")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aragog"))
		}
	}

	v.SetEnvPrefix("ARAGOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// older configuration files name the endpoint "ep"
	if ep := v.GetString("backend.ep"); ep != "" && !v.InConfig("backend.endpoint") && os.Getenv("ARAGOG_BACKEND_ENDPOINT") == "" {
		v.Set("backend.endpoint", ep)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.endpoint", d.Backend.Endpoint)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.ambiguous_statuses", d.Backend.AmbiguousStatuses)
	v.SetDefault("backend.timeout_statuses", d.Backend.TimeoutStatuses)

	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.protocol", d.Telemetry.Protocol)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	v.SetDefault("crawl.shop", d.Crawl.Shop)
	v.SetDefault("crawl.limit", d.Crawl.Limit)
	v.SetDefault("crawl.request_timeout", d.Crawl.RequestTimeout)
	v.SetDefault("crawl.max_failures", d.Crawl.MaxFailures)
	v.SetDefault("crawl.retry_delay", d.Crawl.RetryDelay)
	v.SetDefault("crawl.detail_delay", d.Crawl.DetailDelay)
	v.SetDefault("crawl.detail_cache_size", d.Crawl.DetailCacheSize)
	v.SetDefault("crawl.user_agent", d.Crawl.UserAgent)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("dry_run.output", d.DryRun.Output)
}

// Validate ensures the values needed to start a crawl are usable.
func (c *Config) Validate() error {
	if c.DryRun.Output == "" {
		if c.Backend.URL == "" {
			return fmt.Errorf("backend URL cannot be empty")
		}
		parsedURL, err := url.Parse(c.Backend.URL)
		if err != nil {
			return fmt.Errorf("invalid backend URL: %w", err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("backend URL must include a host")
		}
		if c.Backend.Timeout <= 0 {
			return fmt.Errorf("backend timeout must be positive")
		}
	}

	if c.Crawl.Limit <= 0 {
		return fmt.Errorf("crawl limit must be positive")
	}
	if c.Crawl.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Crawl.MaxFailures <= 0 {
		return fmt.Errorf("max failures must be positive")
	}
	if c.Crawl.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.Crawl.DetailDelay < 0 {
		return fmt.Errorf("detail delay cannot be negative")
	}
	if c.Crawl.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Telemetry.Endpoint != "" && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		return fmt.Errorf("telemetry protocol must be grpc or http")
	}

	return nil
}
