package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/mediafetch/internal/storage"
)

const (
	selectColumns = `download_key, kind, final_path, temp_path, total_bytes, downloaded_bytes, status, locked_by, updated_at`

	// Fixed width so that updated_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

type DownloadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, now: time.Now}
}

func (r *DownloadRepository) timestamp() string {
	return r.now().UTC().Format(timeLayout)
}

func (r *DownloadRepository) TrackDownload(record storage.DownloadRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO downloads (download_key, kind, final_path, temp_path, total_bytes, downloaded_bytes, status, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 'pending', ?)
		ON CONFLICT(download_key) DO UPDATE SET
			kind = excluded.kind,
			final_path = excluded.final_path,
			temp_path = excluded.temp_path,
			total_bytes = excluded.total_bytes,
			updated_at = excluded.updated_at
		WHERE downloads.status != 'downloading'
	`, record.Key, record.Kind, record.FinalPath, record.TempPath, record.TotalBytes, r.timestamp())
	if err != nil {
		return fmt.Errorf("failed to track download %s: %w", record.Key, err)
	}

	return nil
}

// ClaimDownload takes the lock unless another instance holds it. Claiming a
// downloaded record returns storage.ErrDownloaded.
func (r *DownloadRepository) ClaimDownload(key, instanceID string) (bool, error) {
	var (
		status   string
		lockedBy sql.NullString
	)

	err := r.db.QueryRow(`SELECT status, locked_by FROM downloads WHERE download_key = ?`, key).Scan(&status, &lockedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}

	if err != nil {
		return false, fmt.Errorf("failed to read download %s: %w", key, err)
	}

	if status == storage.StatusDownloaded {
		return false, storage.ErrDownloaded
	}

	res, err := r.db.Exec(`
		UPDATE downloads SET status = 'downloading', locked_by = ?, updated_at = ?
		WHERE download_key = ?
			AND status != 'downloaded'
			AND (status != 'downloading' OR locked_by IS NULL OR locked_by = '' OR locked_by = ?)
	`, instanceID, r.timestamp(), key, instanceID)
	if err != nil {
		return false, fmt.Errorf("failed to claim download %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *DownloadRepository) UpdateDownloadStatus(key, status, finalPath string, downloaded int64) error {
	res, err := r.db.Exec(`
		UPDATE downloads SET
			status = ?,
			final_path = COALESCE(NULLIF(?, ''), final_path),
			downloaded_bytes = ?,
			locked_by = CASE WHEN ? = 'downloading' THEN locked_by ELSE NULL END,
			updated_at = ?
		WHERE download_key = ?
	`, status, finalPath, downloaded, status, r.timestamp(), key)
	if err != nil {
		return fmt.Errorf("failed to update download %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *DownloadRepository) ReleaseDownloads(instanceID string) error {
	_, err := r.db.Exec(`
		UPDATE downloads SET status = 'pending', locked_by = NULL, updated_at = ?
		WHERE status = 'downloading' AND locked_by = ?
	`, r.timestamp(), instanceID)
	if err != nil {
		return fmt.Errorf("failed to release downloads: %w", err)
	}

	return nil
}

func (r *DownloadRepository) GetDownload(key string) (storage.DownloadRecord, error) {
	row := r.db.QueryRow(`SELECT `+selectColumns+` FROM downloads WHERE download_key = ?`, key)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DownloadRecord{}, storage.ErrNotFound
	}

	return record, err
}

func (r *DownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(`SELECT ` + selectColumns + ` FROM downloads ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.DownloadRecord, error) {
	var (
		record    storage.DownloadRecord
		finalPath sql.NullString
		tempPath  sql.NullString
		lockedBy  sql.NullString
		updatedAt sql.NullString
	)

	err := s.Scan(&record.Key, &record.Kind, &finalPath, &tempPath,
		&record.TotalBytes, &record.DownloadedBytes, &record.Status, &lockedBy, &updatedAt)
	if err != nil {
		return storage.DownloadRecord{}, err
	}

	record.FinalPath = finalPath.String
	record.TempPath = tempPath.String
	record.LockedBy = lockedBy.String

	if updatedAt.Valid {
		if ts, err := time.Parse(timeLayout, updatedAt.String); err == nil {
			record.UpdatedAt = ts
		}
	}

	return record, nil
}
