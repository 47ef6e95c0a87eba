package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

type AppConfig struct {
	Port string

	// Artifact cache. CacheFiles=false flushes the directory on start.
	CacheDir   string
	CacheFiles bool

	StageTimeout time.Duration
	HTTPTimeout  time.Duration

	// AcquireMaxRetries is the retry budget for vendor downloads; 0 disables retries.
	AcquireMaxRetries int

	Wgrib2Path         string
	Grib2JSONPath      string
	Grib2JSONFillValue string

	HRRRBaseURL  string
	GFSFilterURL string
	ECMWFAPIURL  string
	ECMWFAPIKey  string
	ECMWFEmail   string

	UserModelsFile string

	// Scheduled warm-up of the global converted artifact for these models.
	WarmModels   []weather.Model
	WarmInterval time.Duration

	OTelExporter string
	OTelEndpoint string
	OTelInsecure bool
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8104")
	cfg.CacheDir = getenvDefault("CACHE_DIR", "./cache")
	cfg.CacheFiles = getenvBool("CACHE_FILES", true)

	if cfg.StageTimeout, err = getenvDuration("STAGE_TIMEOUT", "5m"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	cfg.AcquireMaxRetries = getenvInt("ACQUIRE_MAX_RETRIES", 0)

	cfg.Wgrib2Path = getenvDefault("WGRIB2_PATH", "wgrib2")
	cfg.Grib2JSONPath = getenvDefault("GRIB2JSON_PATH", "grib2json")
	cfg.Grib2JSONFillValue = getenvDefault("GRIB2JSON_FILL_VALUE", "10.0")
	if _, err := strconv.ParseFloat(cfg.Grib2JSONFillValue, 64); err != nil {
		return nil, fmt.Errorf("invalid GRIB2JSON_FILL_VALUE: %w", err)
	}

	cfg.HRRRBaseURL = os.Getenv("HRRR_BASE_URL")
	cfg.GFSFilterURL = os.Getenv("GFS_FILTER_URL")
	cfg.ECMWFAPIURL = os.Getenv("ECMWF_API_URL")
	cfg.ECMWFAPIKey = os.Getenv("ECMWF_API_KEY")
	cfg.ECMWFEmail = os.Getenv("ECMWF_API_EMAIL")

	cfg.UserModelsFile = os.Getenv("USER_MODELS_FILE")

	cfg.WarmModels = parseModels(os.Getenv("WARM_MODELS"))
	if cfg.WarmInterval, err = getenvDuration("WARM_INTERVAL", "30m"); err != nil {
		return nil, err
	}
	if len(cfg.WarmModels) > 0 && cfg.WarmInterval <= 0 {
		return nil, fmt.Errorf("WARM_INTERVAL must be positive when WARM_MODELS is set")
	}

	cfg.OTelExporter = getenvDefault("OTEL_EXPORTER", "none")
	cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTelInsecure = getenvBool("OTEL_EXPORTER_OTLP_INSECURE", false)

	return cfg, nil
}

// parseModels splits a comma separated model list, dropping blanks.
func parseModels(s string) []weather.Model {
	var models []weather.Model
	for _, part := range strings.Split(s, ",") {
		if m := weather.ParseModel(part); m != "" {
			models = append(models, m)
		}
	}
	return models
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

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
