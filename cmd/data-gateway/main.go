package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pulseboard/data-gateway/internal/aggregator"
	"github.com/pulseboard/data-gateway/internal/alerts"
	httpapi "github.com/pulseboard/data-gateway/internal/api/http"
	"github.com/pulseboard/data-gateway/internal/cache"
	"github.com/pulseboard/data-gateway/internal/config"
	"github.com/pulseboard/data-gateway/internal/proxy"
	"github.com/pulseboard/data-gateway/internal/push"
	"github.com/pulseboard/data-gateway/internal/scheduler"
	"github.com/pulseboard/data-gateway/internal/subscription"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Cache backend: Redis when configured, otherwise in-process memory.
	var store cache.Store
	if cfg.CacheRedisAddr != "" {
		redisStore, err := cache.NewRedisStore(cfg.CacheRedisAddr)
		if err != nil {
			log.Fatalf("failed to connect cache backend: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		store = cache.NewMemoryStore()
	}

	// Upstream clients, each with its own bounded HTTP client.
	weatherClient := upstream.NewWeatherClient(&http.Client{Timeout: cfg.WeatherTimeout}, cfg.WeatherAPIKey)
	stockClient := upstream.NewStockClient(&http.Client{Timeout: cfg.ProxyTimeout}, cfg.StockAPIKey)
	podcastClient := upstream.NewPodcastClient(&http.Client{Timeout: cfg.ProxyTimeout}, cfg.PodcastAPIKey, cfg.PodcastAPISecret)

	// Query-resolution layer over cache and upstreams.
	service := aggregator.NewService(store, weatherClient, stockClient, podcastClient, cfg.TTL)

	// Live weather updates, one polling timer per geographic cell.
	subs := subscription.NewManager(service, cfg.UpdateInterval, cfg.WeatherTimeout)
	defer subs.Close()

	// Alert subscription persistence.
	var alertStore alerts.Store
	if cfg.AlertsDatabaseURL != "" {
		pgStore, err := alerts.NewPostgresStore(cfg.AlertsDatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect alerts database: %v", err)
		}
		defer pgStore.Close()
		if err := pgStore.InitSchema(context.Background()); err != nil {
			log.Fatalf("failed to init alerts schema: %v", err)
		}
		alertStore = pgStore
	} else {
		log.Println("INFO: ALERTS_DATABASE_URL not set; alert subscriptions are in-memory only")
		alertStore = alerts.NewMemoryStore()
	}

	// Severe-weather scan on a fixed schedule.
	sender := push.NewHTTPSender(&http.Client{Timeout: cfg.ProxyTimeout}, cfg.PushServerKey)
	scanner := alerts.NewScanner(alertStore, weatherClient, sender, cfg.WeatherTimeout)
	sched := scheduler.New(scanner, cfg.ScanInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "data-gateway",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// No write timeout: /weather/updates holds its stream open
		// between publish intervals.
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
			"service": "data-gateway",
		})
	})

	// Query surface and the raw REST proxy.
	httpapi.RegisterRoutes(app, service, subs, alertStore)
	proxy.NewGateway(store, proxy.Config{
		StockAPIKey:      cfg.StockAPIKey,
		PodcastAPIKey:    cfg.PodcastAPIKey,
		PodcastAPISecret: cfg.PodcastAPISecret,
		Timeout:          cfg.ProxyTimeout,
		TTL:              cfg.TTL,
	}).Register(app)

	// Start server with graceful shutdown
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
}
