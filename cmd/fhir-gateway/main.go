package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirgateway/internal/config"
	"github.com/ehr/fhirgateway/internal/dedup"
	"github.com/ehr/fhirgateway/internal/domain/admin"
	"github.com/ehr/fhirgateway/internal/domain/encounter"
	"github.com/ehr/fhirgateway/internal/domain/identity"
	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient"
	"github.com/ehr/fhirgateway/internal/platform/metrics"
	"github.com/ehr/fhirgateway/internal/platform/middleware"
	"github.com/ehr/fhirgateway/internal/query"
	"github.com/ehr/fhirgateway/internal/reference"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhir-gateway",
		Short: "Paginated, reference-resolving gateway over a FHIR server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(collectionsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func collectionsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "Print the collection registry the gateway would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := query.LoadRegistry(file)
			if err != nil {
				return err
			}
			printCollections(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", os.Getenv("COLLECTIONS_FILE"), "YAML collection registry")
	return cmd
}

func printCollections(w io.Writer, reg *query.Registry) {
	for _, t := range reg.Types() {
		c, _ := reg.Lookup(t)
		params := make([]string, 0, len(c.Params))
		for name, kind := range c.Params {
			params = append(params, name+"="+string(kind))
		}
		sort.Strings(params)
		fmt.Fprintf(w, "%s\tpage_size=%d max=%d sort=%s\n", c.Type, c.DefaultPageSize, c.MaxPageSize, strings.Join(c.DefaultSort, ","))
		for _, p := range params {
			fmt.Fprintf(w, "\t%s\n", p)
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	registry, err := cfg.Collections()
	if err != nil {
		return fmt.Errorf("load collection registry: %w", err)
	}

	client, err := fhirclient.New(fhirclient.Config{
		BaseURL:   cfg.FHIRBaseURL,
		Timeout:   cfg.FHIRTimeout,
		UserAgent: "fhir-gateway/" + version,
	}, logger)
	if err != nil {
		return fmt.Errorf("create FHIR client: %w", err)
	}
	logger.Info().Str("fhir_base_url", client.BaseURL()).Msg("remote FHIR server configured")

	e := newServer(cfg, registry, client, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the services over client and registers every route.
func newServer(cfg *config.Config, registry *query.Registry, client *fhirclient.Client, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = fhir.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if cfg.MetricsEnabled {
		e.GET("/metrics", metrics.Handler())
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RateLimitRPS > 0 {
		apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         max(cfg.RateLimitBurst, 1),
		}))
	}

	aggregator := paging.NewResultAggregator(client, cfg.MaxPageSize, cfg.AggregateLimit, logger)
	resolver := reference.NewResolver(client, logger)
	checker := dedup.NewChecker(aggregator, dedup.Config{
		SecondaryIDSystem: cfg.SecondaryIDSystem,
		SecondaryIDPrefix: cfg.SecondaryIDPrefix,
		SecondaryIDLength: cfg.SecondaryIDLength,
	}, logger)

	identitySvc := identity.NewService(client, registry, aggregator, resolver, checker, cfg.SecondaryIDSystem, logger)
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	adminSvc := admin.NewService(client, registry, aggregator, resolver, logger)
	admin.NewHandler(adminSvc).RegisterRoutes(apiV1)

	encounterSvc := encounter.NewService(client, registry, aggregator, resolver, logger)
	encounter.NewHandler(encounterSvc).RegisterRoutes(apiV1)

	return e
}
