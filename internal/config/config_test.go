package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"PORT", "CACHE_DIR", "CACHE_FILES", "STAGE_TIMEOUT", "HTTP_TIMEOUT", "WARM_MODELS", "OTEL_EXPORTER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8104", cfg.Port)
	assert.Equal(t, "./cache", cfg.CacheDir)
	assert.True(t, cfg.CacheFiles)
	assert.Equal(t, 5*time.Minute, cfg.StageTimeout)
	assert.Equal(t, 2*time.Minute, cfg.HTTPTimeout)
	assert.Equal(t, 0, cfg.AcquireMaxRetries)
	assert.Equal(t, "wgrib2", cfg.Wgrib2Path)
	assert.Equal(t, "grib2json", cfg.Grib2JSONPath)
	assert.Equal(t, "10.0", cfg.Grib2JSONFillValue)
	assert.Empty(t, cfg.WarmModels)
	assert.Equal(t, 30*time.Minute, cfg.WarmInterval)
	assert.Equal(t, "none", cfg.OTelExporter)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("CACHE_FILES", "false")
	t.Setenv("STAGE_TIMEOUT", "90s")
	t.Setenv("ACQUIRE_MAX_RETRIES", "2")
	t.Setenv("WARM_MODELS", "HRRR, gfs,,")
	t.Setenv("WARM_INTERVAL", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.False(t, cfg.CacheFiles)
	assert.Equal(t, 90*time.Second, cfg.StageTimeout)
	assert.Equal(t, 2, cfg.AcquireMaxRetries)
	assert.Equal(t, []weather.Model{weather.ModelHRRR, weather.ModelGFS}, cfg.WarmModels)
	assert.Equal(t, time.Hour, cfg.WarmInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("STAGE_TIMEOUT", "five minutes")
	_, err := Load()
	assert.ErrorContains(t, err, "STAGE_TIMEOUT")

	t.Setenv("STAGE_TIMEOUT", "5m")
	t.Setenv("GRIB2JSON_FILL_VALUE", "n/a")
	_, err = Load()
	assert.ErrorContains(t, err, "GRIB2JSON_FILL_VALUE")
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
