// Package cleanup removes files left behind by downloads: temporary files of
// abandoned operations and, optionally, finished files past their retention.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
)

// DeleteStaleTempFiles removes temporary files in tempDir that were not
// modified for keepDuration and do not belong to a running download. It
// returns the number of files removed.
func DeleteStaleTempFiles(ctx context.Context, tempDir string, active func(name string) bool, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		name := entry.Name()
		if entry.IsDir() || !location.IsTempName(name) || (active != nil && active(name)) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return removed, err
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		path := filepath.Join(tempDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete stale temp file", "file", path, "err", err)

			return removed, err
		}

		removed++

		logger.Info("deleted stale temp file",
			"file", path,
			"id_pair", location.TempIDPair(name),
			"size", humanize.Bytes(uint64(info.Size())),
			"age", humanize.RelTime(info.ModTime(), now, "old", ""),
		)
	}

	return removed, nil
}

// KeepDelivered extends active to also match temporary files that a
// downloaded record names as its final path. Those are downloads whose final
// rename kept failing, delivered from the temp directory.
func KeepDelivered(tempDir string, records []storage.DownloadRecord, active func(name string) bool) func(name string) bool {
	delivered := make(map[string]struct{})

	for _, rec := range records {
		if rec.Status == storage.StatusDownloaded && rec.FinalPath != "" {
			delivered[filepath.Clean(rec.FinalPath)] = struct{}{}
		}
	}

	return func(name string) bool {
		if _, ok := delivered[filepath.Join(tempDir, name)]; ok {
			return true
		}

		return active != nil && active(name)
	}
}

// DeleteExpiredFiles deletes finished files older than keepDuration based on
// tracked records. A zero keepDuration keeps files forever.
func DeleteExpiredFiles(ctx context.Context, records []storage.DownloadRecord, keepDuration time.Duration) (int, error) {
	if keepDuration <= 0 {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()
	removed := 0

	for _, rec := range records {
		if rec.Status != storage.StatusDownloaded || rec.FinalPath == "" {
			continue
		}

		info, err := os.Stat(rec.FinalPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			logger.Error("failed to stat file", "file", rec.FinalPath, "err", err)

			return removed, err
		}

		downloadedAt := rec.UpdatedAt
		if downloadedAt.IsZero() {
			downloadedAt = info.ModTime()
		}

		if now.Sub(downloadedAt) <= keepDuration {
			continue
		}

		if err := os.Remove(rec.FinalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete expired file", "file", rec.FinalPath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("deleted expired file", "file", rec.FinalPath, "key", rec.Key)
	}

	return removed, nil
}
