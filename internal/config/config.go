package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type AppConfig struct {
	// DataBaseURL is the root of the timestep data files, e.g. a CDN bucket.
	DataBaseURL string `validate:"required,url"`

	// LayerParams are the parameter names to register as layers on startup.
	LayerParams []string `validate:"required,min=1"`

	// WindowDays controls the prefetch window kept around the current time.
	WindowDays int `validate:"min=1"`

	// MaxConcurrentDownloads bounds in-flight timestep downloads.
	MaxConcurrentDownloads int `validate:"min=1"`

	// Timeline span: HistoryDays back and ForecastDays forward from now.
	HistoryDays  int `validate:"min=0"`
	ForecastDays int `validate:"min=0"`

	// RefreshInterval controls how often layer timelines are rebuilt as new
	// forecast cycles are published.
	RefreshInterval time.Duration

	// HTTPTimeout applies to outbound data fetches.
	HTTPTimeout time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.DataBaseURL = getenvDefault("DATA_BASE_URL", "https://weather-globe-data.s3.eu-central-1.amazonaws.com/data")
	cfg.LayerParams = splitList(getenvDefault("LAYER_PARAMS", "temp2m,wind10m"))

	cfg.WindowDays = getenvInt("WINDOW_DAYS", 2)
	cfg.MaxConcurrentDownloads = getenvInt("MAX_CONCURRENT_DOWNLOADS", 4)

	// The data pipeline keeps today +/- 7 days.
	cfg.HistoryDays = getenvInt("HISTORY_DAYS", 7)
	cfg.ForecastDays = getenvInt("FORECAST_DAYS", 7)

	// New forecast cycles are published every 6 hours.
	refreshStr := getenvDefault("REFRESH_INTERVAL", "6h")
	refresh, err := time.ParseDuration(refreshStr)
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}
	cfg.RefreshInterval = refresh

	timeoutStr := getenvDefault("HTTP_TIMEOUT", "60s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.Port = getenvDefault("PORT", "8080")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
