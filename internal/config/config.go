package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	FetcherHTTP   = "http"
	FetcherPutio  = "putio"
	FetcherBucket = "bucket"
)

// Config struct for environment variables.
type Config struct {
	StoreDir string `envconfig:"STORE_DIR" required:"true"`
	TempDir  string `envconfig:"TEMP_DIR"`

	Fetcher          string        `envconfig:"FETCHER" default:"http"`
	HTTPStoreBaseURL string        `envconfig:"HTTP_STORE_BASE_URL"`
	HTTPStoreTimeout time.Duration `envconfig:"HTTP_STORE_TIMEOUT" default:"60s"`
	PutioToken       string        `envconfig:"PUTIO_TOKEN"`
	BucketURL        string        `envconfig:"BUCKET_URL"`

	DBPath            string `envconfig:"DB_PATH" default:"downloads.db"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	KeepTempFor       time.Duration `envconfig:"KEEP_TEMP_FOR" default:"72h"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"mediafetch"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.StoreDir == "" {
		return fmt.Errorf("STORE_DIR must not be empty")
	}

	if c.TempDir == "" {
		c.TempDir = filepath.Join(c.StoreDir, ".tmp")
	}

	c.Fetcher = strings.ToLower(c.Fetcher)

	switch c.Fetcher {
	case FetcherHTTP:
		if c.HTTPStoreBaseURL == "" {
			return fmt.Errorf("HTTP_STORE_BASE_URL is required for the %s fetcher", FetcherHTTP)
		}
	case FetcherPutio:
		if c.PutioToken == "" {
			return fmt.Errorf("PUTIO_TOKEN is required for the %s fetcher", FetcherPutio)
		}
	case FetcherBucket:
		if c.BucketURL == "" {
			return fmt.Errorf("BUCKET_URL is required for the %s fetcher", FetcherBucket)
		}
	default:
		return fmt.Errorf("invalid fetcher: %s", c.Fetcher)
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
