package storage

import (
	"errors"
	"time"
)

var (
	// ErrDownloaded is returned when claiming a record whose file was already downloaded.
	ErrDownloaded = errors.New("download already completed")
	// ErrNotFound is returned for keys that were never tracked.
	ErrNotFound = errors.New("download not found")
)

// Download statuses.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusDownloaded  = "downloaded"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// DownloadRecord represents the persisted state of one download.
type DownloadRecord struct {
	Key             string    `json:"key"`
	Kind            string    `json:"kind"`
	FinalPath       string    `json:"final_path,omitempty"`
	TempPath        string    `json:"temp_path,omitempty"`
	TotalBytes      int64     `json:"total_bytes"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	Status          string    `json:"status"`
	LockedBy        string    `json:"locked_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type DownloadReadRepository interface {
	GetDownload(key string) (DownloadRecord, error)
	GetDownloads() ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	// TrackDownload inserts a pending record or refreshes the metadata of one
	// that is not currently downloading.
	TrackDownload(record DownloadRecord) error
	// ClaimDownload atomically marks the record as downloading by instanceID.
	// It reports false when another instance holds the lock.
	ClaimDownload(key, instanceID string) (bool, error)
	// UpdateDownloadStatus records progress or a terminal status. Leaving the
	// downloading status releases the lock. An empty finalPath keeps the
	// stored one.
	UpdateDownloadStatus(key, status, finalPath string, downloaded int64) error
	// ReleaseDownloads returns records still downloading under instanceID to pending.
	ReleaseDownloads(instanceID string) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
