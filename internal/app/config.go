package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains the runtime configuration for the scanner and its HTTP
// surface. Values come from defaults, an optional vibecheck.yaml and
// VIBECHECK_-prefixed environment variables; credentials are read from the
// plain environment.
type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string `mapstructure:"listen_addr"`

	// Crawl bounds.
	MaxPages         int `mapstructure:"max_pages"`
	CrawlConcurrency int `mapstructure:"crawl_concurrency"`

	// ScanTimeout is the whole-scan deadline.
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`

	// TesterTimeout is the per-tester budget on one page.
	TesterTimeout time.Duration `mapstructure:"tester_timeout"`

	// CachePath is the prompt cache JSON file.
	CachePath string `mapstructure:"cache_path"`

	// AnalyticsPath is the analytics SQLite file.
	AnalyticsPath string `mapstructure:"analytics_path"`

	// AxeScriptURL is where the accessibility audit script is fetched from.
	AxeScriptURL string `mapstructure:"axe_script_url"`

	// OpenAIEndpoint and OpenAIModel configure the hint model; the API key
	// comes from OPENAI_API_KEY and is never read from a config file.
	OpenAIEndpoint string `mapstructure:"openai_endpoint"`
	OpenAIModel    string `mapstructure:"openai_model"`

	// Credentials, environment only.
	OpenAIAPIKey string `mapstructure:"-"`
	AdminAPIKey  string `mapstructure:"-"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       ":8080",
		MaxPages:         20,
		CrawlConcurrency: 3,
		ScanTimeout:      5 * time.Minute,
		TesterTimeout:    30 * time.Second,
		CachePath:        "data/promptcache.json",
		AnalyticsPath:    "data/analytics.db",
		OpenAIModel:      "gpt-4o-mini",
	}
}

// LoadConfig reads configuration from vibecheck.yaml (if present) and the
// environment, on top of defaults.
func LoadConfig() (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetConfigName("vibecheck")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("max_pages", def.MaxPages)
	v.SetDefault("crawl_concurrency", def.CrawlConcurrency)
	v.SetDefault("scan_timeout", def.ScanTimeout)
	v.SetDefault("tester_timeout", def.TesterTimeout)
	v.SetDefault("cache_path", def.CachePath)
	v.SetDefault("analytics_path", def.AnalyticsPath)
	v.SetDefault("axe_script_url", "")
	v.SetDefault("openai_endpoint", "")
	v.SetDefault("openai_model", def.OpenAIModel)

	v.SetEnvPrefix("VIBECHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AdminAPIKey = os.Getenv("ADMIN_API_KEY")

	return &cfg, nil
}
