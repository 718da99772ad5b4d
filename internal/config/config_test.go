package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	store := t.TempDir()

	t.Setenv("STORE_DIR", store)
	t.Setenv("HTTP_STORE_BASE_URL", "http://store.local")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store, ".tmp"), cfg.TempDir)
	assert.Equal(t, FetcherHTTP, cfg.Fetcher)
	assert.Equal(t, 60*time.Second, cfg.HTTPStoreTimeout)
	assert.Equal(t, "downloads.db", cfg.DBPath)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 72*time.Hour, cfg.KeepTempFor)
	assert.Zero(t, cfg.KeepDownloadedFor)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "mediafetch", cfg.Telemetry.ServiceName)
	assert.Equal(t, "0.0.0.0:9091", cfg.Web.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Web.ShutdownTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STORE_DIR", "/data/store")
	t.Setenv("TEMP_DIR", "/data/partial")
	t.Setenv("FETCHER", "PUTIO")
	t.Setenv("PUTIO_TOKEN", "secret")
	t.Setenv("KEEP_DOWNLOADED_FOR", "168h")
	t.Setenv("TELEMETRY_ENABLED", "false")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data/partial", cfg.TempDir)
	assert.Equal(t, FetcherPutio, cfg.Fetcher)
	assert.Equal(t, 168*time.Hour, cfg.KeepDownloadedFor)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing store dir", env: map[string]string{"HTTP_STORE_BASE_URL": "http://store.local"}},
		{name: "http fetcher without base url", env: map[string]string{"STORE_DIR": "/data"}},
		{name: "putio fetcher without token", env: map[string]string{"STORE_DIR": "/data", "FETCHER": "putio"}},
		{name: "bucket fetcher without url", env: map[string]string{"STORE_DIR": "/data", "FETCHER": "bucket"}},
		{name: "unknown fetcher", env: map[string]string{"STORE_DIR": "/data", "FETCHER": "ftp"}},
		{name: "zero cleanup interval", env: map[string]string{
			"STORE_DIR": "/data", "HTTP_STORE_BASE_URL": "http://store.local", "CLEANUP_INTERVAL": "0s",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DIR", "")
			t.Setenv("HTTP_STORE_BASE_URL", "")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"bogus": slog.LevelInfo,
	}

	for level, want := range tests {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}
