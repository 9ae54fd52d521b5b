package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-globe-cache/internal/api/http"
	"github.com/i474232898/weather-globe-cache/internal/cache"
	"github.com/i474232898/weather-globe-cache/internal/config"
	"github.com/i474232898/weather-globe-cache/internal/fetch"
	"github.com/i474232898/weather-globe-cache/internal/grid"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
	"github.com/i474232898/weather-globe-cache/internal/scheduler"
)

func main() {
	// Load configuration (reads .env when present).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound data fetches.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Resolve configured layer parameters against the manifest.
	params := make([]manifest.Param, 0, len(cfg.LayerParams))
	for _, name := range cfg.LayerParams {
		param, err := manifest.ParamByName(name)
		if err != nil {
			log.Fatalf("failed to resolve layer parameter: %v", err)
		}
		params = append(params, param)
	}

	builder := manifest.NewBuilder(cfg.DataBaseURL)
	fetcher := fetch.NewHTTPFetcher(httpClient)

	// The cache controller owns all layer state for the session; it is
	// constructed once here and passed to every consumer.
	controller := cache.NewController(cache.Config{
		WindowDays:             cfg.WindowDays,
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
	}, fetcher, grid.FP16Decoder{})

	// Log state transitions the way the UI progress widgets would consume them.
	controller.Subscribe(func(ev cache.Event) {
		switch ev.Type {
		case cache.EventTimestampLoaded:
			log.Printf("event %s: %s[%d] %s %s", ev.Type, ev.LayerID, ev.Index, ev.Step.Date, ev.Step.Cycle)
		case cache.EventTimestampFailed:
			log.Printf("event %s: %s[%d]: %v", ev.Type, ev.LayerID, ev.Index, ev.Err)
		}
	})

	// Scheduler that periodically rebuilds timelines as new cycles publish.
	sched := scheduler.New(controller, builder, params, cfg.HistoryDays, cfg.ForecastDays, cfg.RefreshInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Initial warm-up: register every layer and load around the current time.
	// Runs in the background so the HTTP surface is available immediately.
	go func() {
		for _, param := range params {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if err := sched.Refresh(ctx, param); err != nil {
				log.Printf("initial warm-up failed for %s: %v", param.Name, err)
			}
			cancel()
		}
	}()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-globe-cache",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-globe-cache",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, controller)

	// Start server with graceful shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
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
}
