package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func validConfig() Config {
	return Config{
		Env:               "development",
		LogLevel:          "info",
		FHIRBaseURL:       "https://fhir.example.org/fhir",
		MaxPageSize:       500,
		AggregateLimit:    5000,
		SecondaryIDSystem: "urn:ehr:secondary-id",
		SecondaryIDPrefix: "EHR-",
		SecondaryIDLength: 8,
	}
}

func TestLoad_RequiresBaseURL(t *testing.T) {
	t.Setenv("FHIR_BASE_URL", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "FHIR_BASE_URL") {
		t.Fatalf("expected FHIR_BASE_URL error, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FHIR_BASE_URL", "http://localhost:8090/fhir")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Config{
		Port:              "8080",
		Env:               "development",
		LogLevel:          "info",
		FHIRBaseURL:       "http://localhost:8090/fhir",
		FHIRTimeout:       30 * time.Second,
		MaxPageSize:       500,
		AggregateLimit:    5000,
		SecondaryIDSystem: "urn:ehr:secondary-id",
		SecondaryIDPrefix: "EHR-",
		SecondaryIDLength: 8,
		RequestTimeout:    60 * time.Second,
		BodyLimit:         "1M",
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		MetricsEnabled:    true,
	}
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FHIR_BASE_URL", "https://fhir.example.org")
	t.Setenv("FHIR_TIMEOUT", "5s")
	t.Setenv("AGGREGATE_LIMIT", "200")
	t.Setenv("SECONDARY_ID_LENGTH", "12")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FHIRTimeout != 5*time.Second || cfg.AggregateLimit != 200 || cfg.SecondaryIDLength != 12 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.MetricsEnabled {
		t.Error("expected metrics disabled")
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.CORSOrigins); diff != "" {
		t.Errorf("CORS origins mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"relative url", func(c *Config) { c.FHIRBaseURL = "/fhir" }, "absolute"},
		{"ftp url", func(c *Config) { c.FHIRBaseURL = "ftp://fhir.example.org" }, "absolute"},
		{"zero page size", func(c *Config) { c.MaxPageSize = 0 }, "FHIR_MAX_PAGE_SIZE"},
		{"zero aggregate limit", func(c *Config) { c.AggregateLimit = 0 }, "AGGREGATE_LIMIT"},
		{"short id", func(c *Config) { c.SecondaryIDLength = 3 }, "SECONDARY_ID_LENGTH"},
		{"long id", func(c *Config) { c.SecondaryIDLength = 65 }, "SECONDARY_ID_LENGTH"},
		{"no id system", func(c *Config) { c.SecondaryIDSystem = "" }, "SECONDARY_ID_SYSTEM"},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }, "timeouts"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() for development")
	}
	c.Env = "production"
	if c.IsDev() {
		t.Error("expected !IsDev() for production")
	}
}

func TestCollections_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.yaml")
	doc := `collections:
  - type: Location
    default_page_size: 20
    max_page_size: 100
    params:
      name: contains
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	c := validConfig()
	c.CollectionsFile = path
	reg, err := c.Collections()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Lookup("Location"); !ok {
		t.Error("expected Location from file")
	}
	if _, ok := reg.Lookup("Patient"); !ok {
		t.Error("expected built-in Patient to be kept")
	}
}

func TestCollections_Default(t *testing.T) {
	c := validConfig()
	reg, err := c.Collections()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"Encounter", "Organization", "Patient", "Practitioner"}, reg.Types()); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
}

func TestCollections_CappedByRemoteMax(t *testing.T) {
	c := validConfig()
	c.MaxPageSize = 50
	reg, err := c.Collections()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := reg.Lookup("Patient")
	if p.MaxPageSize != 50 || p.DefaultPageSize != 20 {
		t.Errorf("expected Patient pages 20/50, got %d/%d", p.DefaultPageSize, p.MaxPageSize)
	}
}
