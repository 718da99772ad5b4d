package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// TrackDownload registers a download with telemetry.
func (r *InstrumentedDownloadRepository) TrackDownload(record storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "track_download", func(_ context.Context) error {
		return r.repo.TrackDownload(record)
	})
}

// ClaimDownload claims a download with telemetry.
func (r *InstrumentedDownloadRepository) ClaimDownload(key, instanceID string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "claim_download", func(_ context.Context) error {
		result, err = r.repo.ClaimDownload(key, instanceID)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// UpdateDownloadStatus updates download status with telemetry.
func (r *InstrumentedDownloadRepository) UpdateDownloadStatus(key, status, finalPath string, downloaded int64) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "update_download_status", func(_ context.Context) error {
		return r.repo.UpdateDownloadStatus(key, status, finalPath, downloaded)
	})
}

// ReleaseDownloads releases this instance's locks with telemetry.
func (r *InstrumentedDownloadRepository) ReleaseDownloads(instanceID string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "release_downloads", func(_ context.Context) error {
		return r.repo.ReleaseDownloads(instanceID)
	})
}

// GetDownload retrieves one download with telemetry.
func (r *InstrumentedDownloadRepository) GetDownload(key string) (storage.DownloadRecord, error) {
	var result storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_download", func(_ context.Context) error {
		result, err = r.repo.GetDownload(key)

		return err
	})

	if instrumentedErr != nil {
		return storage.DownloadRecord{}, instrumentedErr
	}

	return result, nil
}

// GetDownloads retrieves all downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_downloads", func(_ context.Context) error {
		result, err = r.repo.GetDownloads()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
