// Package fileload downloads a single remote blob in chunks into a temporary
// file, resuming from earlier partial runs, and promotes the finished file to
// its final name.
//
// Every state change of an Operation happens on one Scheduler. Fetches run on
// their own goroutines and post their results back to that scheduler, so the
// operation's fields need no locking. Only the state and byte counters are
// published atomically for readers on other goroutines.
package fileload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"github.com/italolelis/mediafetch/internal/transfer"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	maxRenameRetries = 3
	renameRetryDelay = 200 * time.Millisecond
)

// State is the lifecycle position of an Operation.
type State int32

const (
	StateIdle State = iota
	StateDownloading
	StateFailed
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateFailed:
		return "failed"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) terminal() bool {
	return s == StateFailed || s == StateFinished
}

// Scheduler is the serial execution context of an operation.
type Scheduler interface {
	Post(task func()) bool
	PostDelayed(task func(), delay time.Duration) bool
}

// Operation downloads one blob. Configure it with SetPaths, SetDelegate and
// SetForceRequest before calling Start.
type Operation struct {
	state      atomic.Int32
	downloaded atomic.Int64

	location   location.Location
	ext        string
	totalBytes int64

	storeDir string
	tempDir  string
	force    bool
	delegate Delegate

	fetcher   transfer.Fetcher
	queue     Scheduler
	ctx       context.Context
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	rename    func(oldPath, newPath string) error

	// Owned by the scheduler goroutine.
	chunkSize          int64
	maxRequests        int
	downloadedBytes    int64
	nextDownloadOffset int64
	inFlight           map[int64]*chunkRequest
	pending            map[int64]*chunkResult
	streamEnded        bool
	file               *os.File
	tempPath           string
	finalPath          string
	renameRetryCount   int
	startedAt          time.Time
	err                error
}

// Option customises an Operation.
type Option func(*Operation)

// WithContext sets the context passed to fetches. The operation logs with the
// logger carried by ctx unless WithLogger is also given.
func WithContext(ctx context.Context) Option {
	return func(o *Operation) {
		o.ctx = ctx
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Operation) {
		o.logger = logger
	}
}

// WithTelemetry records chunk and download metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Operation) {
		o.telemetry = t
	}
}

// WithRenameFunc replaces os.Rename for the finalize step.
func WithRenameFunc(rename func(oldPath, newPath string) error) Option {
	return func(o *Operation) {
		o.rename = rename
	}
}

// NewPhotoOperation creates an operation for a photo. An empty extension
// falls back to location.DefaultPhotoExtension.
func NewPhotoOperation(photo location.Photo, extension string, size int64, fetcher transfer.Fetcher, queue Scheduler, opts ...Option) *Operation {
	return newOperation(photo, extension, size, fetcher, queue, opts)
}

// NewDocumentOperation creates an operation for a document. The extension is
// resolved from fileName, or from mimeType when fileName has none.
func NewDocumentOperation(doc location.Document, size int64, fileName, mimeType string, fetcher transfer.Fetcher, queue Scheduler, opts ...Option) *Operation {
	return newOperation(doc, location.ResolveExtension(fileName, mimeType), size, fetcher, queue, opts)
}

func newOperation(loc location.Location, ext string, size int64, fetcher transfer.Fetcher, queue Scheduler, opts []Option) *Operation {
	o := &Operation{
		location:   loc,
		ext:        ext,
		totalBytes: size,
		fetcher:    fetcher,
		queue:      queue,
		ctx:        context.Background(),
		delegate:   DelegateFuncs{},
		rename:     os.Rename,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logctx.LoggerFromContext(o.ctx)
	}

	o.logger = logctx.WithLocation(o.logger, loc)

	return o
}

// SetPaths sets the directories for final and temporary files.
func (o *Operation) SetPaths(storeDir, tempDir string) {
	o.storeDir = storeDir
	o.tempDir = tempDir
}

// SetForceRequest passes a priority hint to the fetcher.
func (o *Operation) SetForceRequest(force bool) {
	o.force = force
}

// IsForceRequest reports the priority hint.
func (o *Operation) IsForceRequest() bool {
	return o.force
}

// SetDelegate sets the observer notified of progress and the terminal outcome.
func (o *Operation) SetDelegate(d Delegate) {
	if d == nil {
		d = DelegateFuncs{}
	}

	o.delegate = d
}

// State is safe to call from any goroutine.
func (o *Operation) State() State {
	return State(o.state.Load())
}

// Location returns the descriptor the operation was created with.
func (o *Operation) Location() location.Location {
	return o.location
}

// TotalBytes returns the expected size; zero means unknown.
func (o *Operation) TotalBytes() int64 {
	return o.totalBytes
}

// DownloadedBytes returns the bytes committed to the temporary file so far.
// It is safe to call from any goroutine.
func (o *Operation) DownloadedBytes() int64 {
	return o.downloaded.Load()
}

// Err returns the error that failed the operation. It is meaningful once
// OnFailed has been delivered and must be read from the delegate callback
// or after it.
func (o *Operation) Err() error {
	return o.err
}

// Start begins the download on the scheduler. Calls after the first are
// ignored. When the scheduler no longer accepts tasks the operation fails at
// once with ErrSchedulerClosed, on the calling goroutine.
func (o *Operation) Start() {
	if o.queue.Post(o.start) || o.State() != StateIdle {
		return
	}

	o.logger.Warn("scheduler closed, download not started")
	o.abandon(FailureGeneric, ErrSchedulerClosed)
}

// Cancel fails a running or idle operation with FailureCancelled. Fetches
// already dispatched are not aborted; their results are dropped. When the
// scheduler no longer accepts tasks the failure is delivered on the calling
// goroutine.
func (o *Operation) Cancel() {
	posted := o.queue.Post(func() {
		if o.State().terminal() {
			return
		}

		o.logger.Info("download cancelled", "downloaded", humanize.Bytes(uint64(o.downloadedBytes)))
		o.fail(FailureCancelled, ErrCancelled)
	})

	if !posted {
		o.abandon(FailureCancelled, ErrCancelled)
	}
}

// terminate moves the operation into a terminal state. It reports false when
// another path already ended the operation.
func (o *Operation) terminate(s State) bool {
	for {
		cur := o.state.Load()
		if State(cur).terminal() {
			return false
		}

		if o.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

func (o *Operation) start() {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateDownloading)) {
		return
	}

	o.chunkSize, o.maxRequests = chunkPolicy(o.totalBytes)
	o.inFlight = make(map[int64]*chunkRequest, o.maxRequests)
	o.pending = make(map[int64]*chunkResult, o.maxRequests)
	o.startedAt = time.Now()
	o.telemetry.IncrementActiveDownloads()

	tempName, finalName, err := location.Names(o.location, o.ext)
	if err != nil {
		o.fail(FailureGeneric, err)

		return
	}

	for _, dir := range []string{o.storeDir, o.tempDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			o.fail(FailureGeneric, &FileError{Op: "mkdir", Path: dir, Err: err})

			return
		}
	}

	o.finalPath = filepath.Join(o.storeDir, finalName)

	tempPath := filepath.Join(o.tempDir, tempName)

	plan, err := planResume(o.finalPath, tempPath, o.totalBytes, o.chunkSize, o.logger)
	if err != nil {
		o.fail(FailureGeneric, err)

		return
	}

	if plan.finalExists {
		o.logger.Debug("final file already present", "final", o.finalPath)
		o.finishLoading()

		return
	}

	o.tempPath = tempPath

	if err := o.openTempFile(plan.offset); err != nil {
		o.fail(FailureGeneric, err)

		return
	}

	o.downloadedBytes = plan.offset
	o.nextDownloadOffset = plan.offset
	o.downloaded.Store(plan.offset)

	if plan.offset > 0 {
		o.telemetry.RecordResume(plan.offset)
	}

	o.logger.Info("start loading file",
		"temp", o.tempPath,
		"final", o.finalPath,
		"size", humanize.Bytes(uint64(o.totalBytes)),
		"resume_offset", plan.offset,
		"chunk_size", o.chunkSize,
		"max_requests", o.maxRequests,
	)

	if o.totalBytes != 0 && o.downloadedBytes == o.totalBytes {
		o.finishLoading()

		return
	}

	o.scheduleRequests()
}

func (o *Operation) openTempFile(offset int64) error {
	f, err := os.OpenFile(o.tempPath, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return &FileError{Op: "open", Path: o.tempPath, Err: err}
	}

	if err := f.Truncate(offset); err != nil {
		f.Close()

		return &FileError{Op: "truncate", Path: o.tempPath, Err: err}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()

		return &FileError{Op: "seek", Path: o.tempPath, Err: err}
	}

	o.file = f

	return nil
}

// cleanup releases the file handle and forgets outstanding chunks. It is
// safe to call more than once.
func (o *Operation) cleanup() {
	if o.file != nil {
		if err := o.file.Close(); err != nil {
			o.logger.Error("failed to close temp file", "path", o.tempPath, "err", err)
		}

		o.file = nil
	}

	clear(o.inFlight)
	clear(o.pending)
}

func (o *Operation) fail(code FailureCode, err error) {
	if !o.terminate(StateFailed) {
		return
	}

	o.err = err
	o.cleanup()

	status := "error"
	if code == FailureCancelled {
		status = "cancelled"
	} else {
		o.logger.Error("download failed", "code", code.String(), "err", err)
	}

	// An operation cancelled before it started never counted as active.
	if !o.startedAt.IsZero() {
		o.telemetry.DecrementActiveDownloads()
		o.telemetry.RecordDownload(status, time.Since(o.startedAt))
	}

	o.delegate.OnFailed(o, code, err)
}

// abandon fails the operation from outside the scheduler once the scheduler
// stopped accepting tasks. Fields owned by the scheduler are left alone.
func (o *Operation) abandon(code FailureCode, err error) {
	if !o.terminate(StateFailed) {
		return
	}

	o.err = err
	o.logger.Warn("download abandoned", "code", code.String(), "err", err)

	o.delegate.OnFailed(o, code, err)
}

// finishLoading promotes the temporary file to its final name. A failed
// rename is retried on the scheduler; after the last retry the temporary
// file itself is reported as the result. The operation stays in
// StateDownloading while a retry is pending, so Cancel still applies.
func (o *Operation) finishLoading() {
	if o.State() != StateDownloading {
		return
	}

	o.cleanup()

	if o.tempPath != "" {
		if err := o.rename(o.tempPath, o.finalPath); err != nil {
			o.renameRetryCount++
			o.telemetry.RecordRenameRetry()

			o.logger.Warn("unable to rename temp file",
				"temp", o.tempPath, "final", o.finalPath, "retry", o.renameRetryCount, "err", err)

			if o.renameRetryCount < maxRenameRetries && o.queue.PostDelayed(o.finishLoading, renameRetryDelay) {
				return
			}

			o.finalPath = o.tempPath
		}
	}

	if !o.terminate(StateFinished) {
		return
	}

	o.telemetry.DecrementActiveDownloads()
	o.telemetry.RecordDownload("success", time.Since(o.startedAt))

	o.logger.Info("finished downloading file", "path", o.finalPath)

	o.delegate.OnFinished(o, o.finalPath)
}
