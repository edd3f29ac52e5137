package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all runtime configuration for the gateway.
type AppConfig struct {
	// Upstream credentials.
	WeatherAPIKey    string
	StockAPIKey      string
	PodcastAPIKey    string
	PodcastAPISecret string

	// Push delivery.
	PushServerKey string

	// Alert subscription persistence. Empty means in-memory only.
	AlertsDatabaseURL string

	// Cache backend. Empty means the in-process memory store.
	CacheRedisAddr string

	// Upstream call bounds.
	WeatherTimeout time.Duration
	ProxyTimeout   time.Duration

	// Background cadences.
	UpdateInterval time.Duration // subscription publish loop
	ScanInterval   time.Duration // alert scanner schedule

	// Cache TTLs, one class per data-volatility bucket.
	TTL TTLConfig

	Port string
}

// TTLConfig groups per-class cache lifetimes.
type TTLConfig struct {
	CurrentWeather time.Duration
	Forecast       time.Duration
	StockQuote     time.Duration
	StockCandles   time.Duration
	StockSearch    time.Duration
	StockProfile   time.Duration
	PodcastSearch  time.Duration
	PodcastTrend   time.Duration
	PodcastEpisode time.Duration
	PodcastFeed    time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		WeatherAPIKey:    os.Getenv("WEATHER_API_KEY"),
		StockAPIKey:      os.Getenv("STOCK_API_KEY"),
		PodcastAPIKey:    os.Getenv("PODCAST_API_KEY"),
		PodcastAPISecret: os.Getenv("PODCAST_API_SECRET"),
		PushServerKey:    os.Getenv("PUSH_SERVER_KEY"),

		AlertsDatabaseURL: os.Getenv("ALERTS_DATABASE_URL"),
		CacheRedisAddr:    os.Getenv("CACHE_REDIS_ADDR"),

		Port: getenvDefault("PORT", "8080"),
	}

	var err error
	if cfg.WeatherTimeout, err = getenvDuration("WEATHER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProxyTimeout, err = getenvDuration("PROXY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.UpdateInterval, err = getenvDuration("UPDATE_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScanInterval, err = getenvDuration("SCAN_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.TTL = TTLConfig{
		CurrentWeather: 10 * time.Minute,
		Forecast:       30 * time.Minute,
		StockQuote:     30 * time.Second,
		StockCandles:   5 * time.Minute,
		StockSearch:    5 * time.Minute,
		StockProfile:   time.Hour,
		PodcastSearch:  5 * time.Minute,
		PodcastTrend:   time.Hour,
		PodcastEpisode: 10 * time.Minute,
		PodcastFeed:    time.Hour,
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
