package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/fhirgateway/internal/query"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FHIRBaseURL    string        `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeout    time.Duration `mapstructure:"FHIR_TIMEOUT"`
	MaxPageSize    int           `mapstructure:"FHIR_MAX_PAGE_SIZE"`
	AggregateLimit int           `mapstructure:"AGGREGATE_LIMIT"`

	CollectionsFile string `mapstructure:"COLLECTIONS_FILE"`

	SecondaryIDSystem string `mapstructure:"SECONDARY_ID_SYSTEM"`
	SecondaryIDPrefix string `mapstructure:"SECONDARY_ID_PREFIX"`
	SecondaryIDLength int    `mapstructure:"SECONDARY_ID_LENGTH"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"FHIR_BASE_URL", "FHIR_TIMEOUT", "FHIR_MAX_PAGE_SIZE", "AGGREGATE_LIMIT",
	"COLLECTIONS_FILE",
	"SECONDARY_ID_SYSTEM", "SECONDARY_ID_PREFIX", "SECONDARY_ID_LENGTH",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CORS_ORIGINS", "METRICS_ENABLED",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory when one exists.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FHIR_TIMEOUT", "30s")
	v.SetDefault("FHIR_MAX_PAGE_SIZE", 500)
	v.SetDefault("AGGREGATE_LIMIT", 5000)
	v.SetDefault("SECONDARY_ID_SYSTEM", "urn:ehr:secondary-id")
	v.SetDefault("SECONDARY_ID_PREFIX", "EHR-")
	v.SetDefault("SECONDARY_ID_LENGTH", 8)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("METRICS_ENABLED", true)

	// Unmarshal only sees env vars that are bound explicitly.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate reports the first setting the gateway cannot run with.
func (c *Config) Validate() error {
	if c.FHIRBaseURL == "" {
		return fmt.Errorf("FHIR_BASE_URL is required")
	}
	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URL must be an absolute http(s) URL, got %q", c.FHIRBaseURL)
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("FHIR_MAX_PAGE_SIZE must be positive, got %d", c.MaxPageSize)
	}
	if c.AggregateLimit <= 0 {
		return fmt.Errorf("AGGREGATE_LIMIT must be positive, got %d", c.AggregateLimit)
	}
	if c.SecondaryIDSystem == "" {
		return fmt.Errorf("SECONDARY_ID_SYSTEM is required")
	}
	if c.SecondaryIDLength < 4 || c.SecondaryIDLength > 64 {
		return fmt.Errorf("SECONDARY_ID_LENGTH must be between 4 and 64, got %d", c.SecondaryIDLength)
	}
	if c.FHIRTimeout < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Collections loads the collection registry, from COLLECTIONS_FILE when set.
// No collection may page wider than FHIR_MAX_PAGE_SIZE.
func (c *Config) Collections() (*query.Registry, error) {
	reg, err := query.LoadRegistry(c.CollectionsFile)
	if err != nil {
		return nil, err
	}
	reg.CapPageSize(c.MaxPageSize)
	return reg, nil
}
