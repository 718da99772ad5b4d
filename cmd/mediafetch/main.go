package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/mediafetch/internal/cleanup"
	"github.com/italolelis/mediafetch/internal/config"
	"github.com/italolelis/mediafetch/internal/dc/bucket"
	"github.com/italolelis/mediafetch/internal/dc/httpstore"
	"github.com/italolelis/mediafetch/internal/dc/putio"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/fileload"
	"github.com/italolelis/mediafetch/internal/http/rest"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/notifier"
	"github.com/italolelis/mediafetch/internal/storage/sqlite"
	"github.com/italolelis/mediafetch/internal/taskqueue"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"github.com/italolelis/mediafetch/internal/transfer"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("mediafetch starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	dr := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Fetcher
	fetcher, closeFetcher, err := buildFetcher(ctx, cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build fetcher: %w", err)
	}
	defer closeFetcher()

	// =========================================================================
	// Start Downloader
	queue := taskqueue.New(ctx)
	defer queue.Close()

	d := downloader.NewDownloader(cfg.StoreDir, cfg.TempDir, fetcher, queue, dr, tel)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, d, tel, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		var shutdownErr error

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				shutdownErr = fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := d.Close(); err != nil {
			logger.Error("failed to close downloader", "err", err)
		}

		return shutdownErr
	})

	// =========================================================================
	// Start Notification
	setupNotificationForDownloader(gctx, g, d, cfg)

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		runCleanup(gctx, d, tel, cfg)

		return nil
	})

	logger.Info("waiting for downloads...",
		"store_dir", cfg.StoreDir,
		"temp_dir", cfg.TempDir,
		"fetcher", cfg.Fetcher,
		"instance_id", d.InstanceID(),
		"retention", cfg.KeepDownloadedFor.String(),
	)

	return g.Wait()
}

// buildFetcher is an abstract factory for the chunk source. The returned
// func releases whatever the fetcher holds open.
func buildFetcher(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (transfer.Fetcher, func(), error) {
	noop := func() {}

	switch cfg.Fetcher {
	case config.FetcherHTTP:
		client, err := httpstore.NewClient(cfg.HTTPStoreBaseURL, cfg.HTTPStoreTimeout)
		if err != nil {
			return nil, nil, err
		}

		return transfer.NewInstrumentedFetcher(client, tel, config.FetcherHTTP), noop, nil
	case config.FetcherPutio:
		client := putio.NewClient(cfg.PutioToken, cfg.HTTPStoreTimeout)
		if err := client.Authenticate(ctx); err != nil {
			return nil, nil, fmt.Errorf("authentication error: %w", err)
		}

		return transfer.NewInstrumentedFetcher(client, tel, config.FetcherPutio), noop, nil
	case config.FetcherBucket:
		client, err := bucket.Open(ctx, cfg.BucketURL)
		if err != nil {
			return nil, nil, err
		}

		closeBucket := func() {
			if err := client.Close(); err != nil {
				logctx.LoggerFromContext(ctx).Error("failed to close bucket", "err", err)
			}
		}

		return transfer.NewInstrumentedFetcher(client, tel, config.FetcherBucket), closeBucket, nil
	}

	return nil, nil, fmt.Errorf("invalid fetcher: %s", cfg.Fetcher)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, d *downloader.Downloader, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(rest.NewDownloadsHandler(d), tel),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// setupNotificationForDownloader drains the downloader events until its
// channels are closed.
func setupNotificationForDownloader(ctx context.Context, g *errgroup.Group, d *downloader.Downloader, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	notify := func(content string, args ...any) {
		if notif == nil {
			return
		}

		// Notifications still go out while shutting down.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := notif.Notify(nctx, content); err != nil {
			logger.Error("failed to send notification", append(args, "err", err)...)
		}
	}

	g.Go(func() error {
		for event := range d.OnDownloadFailed {
			reason := "failed"
			if event.Code == fileload.FailureCancelled {
				reason = "cancelled"
			}

			logger.Warn("download did not finish", "key", event.Key, "reason", reason, "err", event.Err)
			notify(notifier.FailedMessage(event.Key, reason, event.Bytes, event.Err), "key", event.Key)
		}

		return nil
	})

	g.Go(func() error {
		for event := range d.OnDownloadFinished {
			logger.Info("download finished", "key", event.Key, "path", event.Path, "took", event.Duration.String())
			notify(notifier.FinishedMessage(event.Key, event.Path, event.Bytes, event.Duration), "key", event.Key)
		}

		return nil
	})
}

func runCleanup(ctx context.Context, d *downloader.Downloader, tel *telemetry.Telemetry, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			tracked, err := d.List()
			if err != nil {
				logger.Error("failed to get tracked downloads for cleanup", "err", err)

				continue
			}

			keep := cleanup.KeepDelivered(cfg.TempDir, tracked, d.IsActiveTemp)
			if _, err := cleanup.DeleteStaleTempFiles(ctx, cfg.TempDir, keep, cfg.KeepTempFor); err != nil {
				logger.Error("failed to delete stale temporary files", "err", err)
				tel.RecordSystemError("cleanup", "temp_files")
			}

			if _, err := cleanup.DeleteExpiredFiles(ctx, tracked, cfg.KeepDownloadedFor); err != nil {
				logger.Error("failed to delete expired tracked files", "err", err)
				tel.RecordSystemError("cleanup", "expired_files")
			}
		}
	}
}
