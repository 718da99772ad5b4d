package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mediafetch/internal/downloader/progress"
	"github.com/italolelis/mediafetch/internal/fileload"
	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"github.com/italolelis/mediafetch/internal/transfer"
)

const eventBuffer = 64

var (
	// ErrUnknownDownload is returned for keys without an active operation.
	ErrUnknownDownload = errors.New("no active download for key")
	// ErrLocked is returned when another instance is downloading the key.
	ErrLocked = errors.New("download locked by another instance")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("downloader closed")
)

// Event is published when a download ends.
type Event struct {
	Key      string
	Kind     location.Kind
	Path     string
	Bytes    int64
	Duration time.Duration
	Code     fileload.FailureCode
	Err      error
}

type activeDownload struct {
	op        *fileload.Operation
	tempName  string
	throttle  *progress.Throttle
	startedAt time.Time
	logger    *slog.Logger
	cancel    context.CancelFunc
	stop      func() bool
}

// Downloader owns the running operations of this process and mirrors their
// lifecycle into storage.
type Downloader struct {
	storeDir   string
	tempDir    string
	fetcher    transfer.Fetcher
	queue      fileload.Scheduler
	repo       storage.DownloadRepository
	telemetry  *telemetry.Telemetry
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*activeDownload
	closed bool

	OnDownloadFinished chan Event
	OnDownloadFailed   chan Event
}

func NewDownloader(
	storeDir, tempDir string,
	fetcher transfer.Fetcher,
	queue fileload.Scheduler,
	repo storage.DownloadRepository,
	tel *telemetry.Telemetry,
) *Downloader {
	ctx, cancel := context.WithCancel(context.Background())

	return &Downloader{
		storeDir:           storeDir,
		tempDir:            tempDir,
		fetcher:            fetcher,
		queue:              queue,
		repo:               repo,
		telemetry:          tel,
		instanceID:         GenerateInstanceID(),
		ctx:                ctx,
		cancel:             cancel,
		active:             make(map[string]*activeDownload),
		OnDownloadFinished: make(chan Event, eventBuffer),
		OnDownloadFailed:   make(chan Event, eventBuffer),
	}
}

// InstanceID identifies this process in storage locks.
func (d *Downloader) InstanceID() string {
	return d.instanceID
}

// Enqueue starts downloading the blob described by req. A key that is already
// active in this process, or already downloaded and still on disk, returns
// its record without starting anything.
func (d *Downloader) Enqueue(ctx context.Context, req Request) (*storage.DownloadRecord, error) {
	loc, err := req.Location()
	if err != nil {
		return nil, err
	}

	ext := req.extension()

	tempName, finalName, err := location.Names(loc, ext)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	rec, op, err := d.track(ctx, req, loc, tempName, finalName)
	d.mu.Unlock()

	// Start may report a failure synchronously, and the delegate takes d.mu.
	if op != nil {
		op.Start()
	}

	return rec, err
}

// track records req and registers its operation. It returns a nil operation
// when nothing has to start. Must be called with d.mu held.
func (d *Downloader) track(ctx context.Context, req Request, loc location.Location, tempName, finalName string) (*storage.DownloadRecord, *fileload.Operation, error) {
	key := loc.Key()
	logger := logctx.WithLocation(logctx.LoggerFromContext(ctx), loc)

	if d.closed {
		return nil, nil, ErrClosed
	}

	if _, ok := d.active[key]; ok {
		logger.DebugContext(ctx, "download already active")

		rec, err := d.record(key)

		return rec, nil, err
	}

	if existing, err := d.repo.GetDownload(key); err == nil && existing.Status == storage.StatusDownloaded {
		if _, statErr := os.Stat(existing.FinalPath); statErr == nil {
			logger.DebugContext(ctx, "download already completed", "path", existing.FinalPath)

			return &existing, nil, nil
		}

		logger.InfoContext(ctx, "downloaded file is missing, fetching again", "path", existing.FinalPath)

		if err := d.repo.UpdateDownloadStatus(key, storage.StatusPending, "", 0); err != nil {
			return nil, nil, fmt.Errorf("failed to reset download: %w", err)
		}
	}

	rec := storage.DownloadRecord{
		Key:        key,
		Kind:       string(loc.Kind()),
		FinalPath:  filepath.Join(d.storeDir, finalName),
		TempPath:   filepath.Join(d.tempDir, tempName),
		TotalBytes: req.Size,
	}

	if err := d.repo.TrackDownload(rec); err != nil {
		return nil, nil, fmt.Errorf("failed to track download: %w", err)
	}

	claimed, err := d.repo.ClaimDownload(key, d.instanceID)
	if errors.Is(err, storage.ErrDownloaded) {
		rec, err := d.record(key)

		return rec, nil, err
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to claim download: %w", err)
	}

	if !claimed {
		return nil, nil, ErrLocked
	}

	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.ctx, cancel)

	opts := []fileload.Option{
		fileload.WithContext(opCtx),
		fileload.WithLogger(logctx.LoggerFromContext(ctx)),
		fileload.WithTelemetry(d.telemetry),
	}

	var op *fileload.Operation

	switch l := loc.(type) {
	case location.Photo:
		op = fileload.NewPhotoOperation(l, req.Ext, req.Size, d.fetcher, d.queue, opts...)
	case location.Document:
		op = fileload.NewDocumentOperation(l, req.Size, req.FileName, req.MimeType, d.fetcher, d.queue, opts...)
	}

	op.SetPaths(d.storeDir, d.tempDir)
	op.SetForceRequest(req.Force)
	op.SetDelegate(d)

	d.active[key] = &activeDownload{
		op:        op,
		tempName:  tempName,
		throttle:  progress.NewThrottle(progress.DefaultStep),
		startedAt: time.Now(),
		logger:    logger,
		cancel:    cancel,
		stop:      stop,
	}

	logger.InfoContext(ctx, "download enqueued", "size", humanize.Bytes(uint64(req.Size)), "force", req.Force)

	rec.Status = storage.StatusDownloading
	rec.LockedBy = d.instanceID

	return &rec, op, nil
}

// Cancel asks the active operation for key to stop.
func (d *Downloader) Cancel(key string) error {
	d.mu.Lock()
	a, ok := d.active[key]
	d.mu.Unlock()

	if !ok {
		return ErrUnknownDownload
	}

	a.op.Cancel()

	return nil
}

// Get returns the stored record for key with live progress applied.
func (d *Downloader) Get(key string) (*storage.DownloadRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.record(key)
}

// List returns all stored records with live progress applied.
func (d *Downloader) List() ([]storage.DownloadRecord, error) {
	records, err := d.repo.GetDownloads()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range records {
		d.overlay(&records[i])
	}

	return records, nil
}

// IsActiveTemp reports whether a temporary file name belongs to a running download.
func (d *Downloader) IsActiveTemp(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range d.active {
		if a.tempName == name {
			return true
		}
	}

	return false
}

// Close abandons running operations, returns their storage locks and closes
// the event channels. Operations resume from their temp files next time.
func (d *Downloader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true
	d.cancel()

	for key, a := range d.active {
		a.logger.Info("abandoning download", "downloaded", humanize.Bytes(uint64(a.op.DownloadedBytes())))
		delete(d.active, key)
	}

	close(d.OnDownloadFinished)
	close(d.OnDownloadFailed)

	if err := d.repo.ReleaseDownloads(d.instanceID); err != nil {
		return fmt.Errorf("failed to release downloads: %w", err)
	}

	return nil
}

// record must be called with d.mu held.
func (d *Downloader) record(key string) (*storage.DownloadRecord, error) {
	rec, err := d.repo.GetDownload(key)
	if err != nil {
		return nil, err
	}

	d.overlay(&rec)

	return &rec, nil
}

func (d *Downloader) overlay(rec *storage.DownloadRecord) {
	if a, ok := d.active[rec.Key]; ok {
		rec.Status = storage.StatusDownloading
		rec.DownloadedBytes = a.op.DownloadedBytes()
	}
}

// OnProgress implements fileload.Delegate.
func (d *Downloader) OnProgress(op *fileload.Operation, fraction float32) {
	key := op.Location().Key()

	d.mu.Lock()
	a, ok := d.active[key]
	d.mu.Unlock()

	if !ok || !a.throttle.Update(fraction) {
		return
	}

	downloaded := op.DownloadedBytes()

	a.logger.Info("download progress",
		"percent", humanize.FtoaWithDigits(float64(fraction)*100, 1),
		"downloaded", humanize.Bytes(uint64(downloaded)),
		"total", humanize.Bytes(uint64(op.TotalBytes())),
	)

	if err := d.repo.UpdateDownloadStatus(key, storage.StatusDownloading, "", downloaded); err != nil {
		a.logger.Error("failed to store progress", "err", err)
		d.telemetry.RecordSystemError("storage", "update_progress")
	}
}

// OnFinished implements fileload.Delegate.
func (d *Downloader) OnFinished(op *fileload.Operation, finalPath string) {
	a, ok := d.release(op)
	if !ok {
		return
	}

	size := op.DownloadedBytes()
	if info, err := os.Stat(finalPath); err == nil {
		size = info.Size()
	}

	if err := d.repo.UpdateDownloadStatus(a.key, storage.StatusDownloaded, finalPath, size); err != nil {
		a.logger.Error("failed to store finished download", "err", err)
		d.telemetry.RecordSystemError("storage", "update_status")
	}

	d.publish(d.OnDownloadFinished, Event{
		Key:      a.key,
		Kind:     op.Location().Kind(),
		Path:     finalPath,
		Bytes:    size,
		Duration: time.Since(a.startedAt),
	}, a.logger)
}

// OnFailed implements fileload.Delegate.
func (d *Downloader) OnFailed(op *fileload.Operation, code fileload.FailureCode, err error) {
	a, ok := d.release(op)
	if !ok {
		return
	}

	status := storage.StatusFailed
	if code == fileload.FailureCancelled {
		status = storage.StatusCancelled
	}

	if uerr := d.repo.UpdateDownloadStatus(a.key, status, "", op.DownloadedBytes()); uerr != nil {
		a.logger.Error("failed to store failed download", "err", uerr)
		d.telemetry.RecordSystemError("storage", "update_status")
	}

	d.publish(d.OnDownloadFailed, Event{
		Key:      a.key,
		Kind:     op.Location().Kind(),
		Bytes:    op.DownloadedBytes(),
		Duration: time.Since(a.startedAt),
		Code:     code,
		Err:      err,
	}, a.logger)
}

type released struct {
	*activeDownload
	key string
}

// release forgets the operation and frees its context.
func (d *Downloader) release(op *fileload.Operation) (released, bool) {
	key := op.Location().Key()

	d.mu.Lock()
	a, ok := d.active[key]
	if ok && a.op == op {
		delete(d.active, key)
	}
	d.mu.Unlock()

	if !ok || a.op != op {
		return released{}, false
	}

	a.stop()
	a.cancel()

	return released{activeDownload: a, key: key}, true
}

// publish never blocks the scheduler: a full buffer drops the event.
func (d *Downloader) publish(ch chan Event, ev Event, logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	select {
	case ch <- ev:
	default:
		logger.Warn("event buffer full, dropping event", "key", ev.Key)
	}
}
