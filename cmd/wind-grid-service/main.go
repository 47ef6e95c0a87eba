package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/wind-grid-service/internal/api/http"
	"github.com/i474232898/wind-grid-service/internal/config"
	"github.com/i474232898/wind-grid-service/internal/gridtools"
	"github.com/i474232898/wind-grid-service/internal/observability"
	"github.com/i474232898/wind-grid-service/internal/scheduler"
	"github.com/i474232898/wind-grid-service/internal/store"
	"github.com/i474232898/wind-grid-service/internal/weather"
	"github.com/i474232898/wind-grid-service/internal/weather/providers"
)

const serviceName = "wind-grid-service"

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(serviceName, observability.TracingConfig{
		Exporter: cfg.OTelExporter,
		Endpoint: cfg.OTelEndpoint,
		Insecure: cfg.OTelInsecure,
	})
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	metrics := observability.NewRegistry()

	// Artifact cache; flushed on start unless CACHE_FILES is set.
	files, err := store.NewFileStore(cfg.CacheDir, cfg.CacheFiles)
	if err != nil {
		log.Fatalf("failed to open cache dir: %v", err)
	}
	if names, err := files.List(); err == nil {
		log.Printf("INFO: caching artifacts in %s (%d present)", files.Dir(), len(names))
	}

	// Shared HTTP client for outbound vendor calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	httpCfg := providers.NewHTTPClientConfig(httpClient, cfg.AcquireMaxRetries)

	// Model adapters with resilience (circuit breaker, optional backoff).
	adapters := []weather.Adapter{
		providers.NewHRRRAdapter(httpCfg, cfg.HRRRBaseURL),
		providers.NewECMWFAdapter(httpCfg, providers.ECMWFConfig{
			BaseURL: cfg.ECMWFAPIURL,
			Key:     cfg.ECMWFAPIKey,
			Email:   cfg.ECMWFEmail,
		}),
		providers.NewGFSAdapter(httpCfg, cfg.GFSFilterURL),
	}
	userModels, err := providers.LoadUserModels(cfg.UserModelsFile, httpCfg)
	if err != nil {
		log.Fatalf("failed to load user models: %v", err)
	}
	for _, m := range userModels {
		adapters = append(adapters, m)
	}

	// Core service orchestrating adapters, grid tools and the cache.
	service := weather.NewService(weather.ServiceConfig{
		Store:        files,
		Tools:        gridtools.New(cfg.Wgrib2Path, cfg.Grib2JSONPath, cfg.Grib2JSONFillValue),
		Adapters:     adapters,
		StageTimeout: cfg.StageTimeout,
		Metrics:      metrics,
	})
	log.Printf("INFO: serving models %v", service.Models())

	// Scheduler that keeps the latest global artifacts warm.
	sched := scheduler.New(cfg.WarmModels, cfg.WarmInterval, cfg.StageTimeout*4, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration. Routing is not strict, so a trailing slash
	// resolves to the same handler.
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET",
		AllowHeaders: "Origin, Accept, Content-Type, X-Requested-With, X-CSRF-Token",
	}))

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	// API and data routes.
	httpapi.RegisterRoutes(app, service, metrics)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("error flushing traces: %v", err)
	}
}
