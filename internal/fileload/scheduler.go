package fileload

import (
	"fmt"
	"time"

	"github.com/italolelis/mediafetch/internal/transfer"
)

type chunkRequest struct {
	offset   int64
	length   int64
	issuedAt time.Time
}

type chunkResult struct {
	req  *chunkRequest
	data []byte
}

// outstanding counts chunks that hold a slot under maxRequests: those still
// in flight and those received ahead of the write cursor.
func (o *Operation) outstanding() int {
	return len(o.inFlight) + len(o.pending)
}

// scheduleRequests issues chunk fetches until the request bound is reached
// or every byte has been requested. With an unknown total it issues one
// request per call.
func (o *Operation) scheduleRequests() {
	if o.State() != StateDownloading || o.streamEnded ||
		(o.totalBytes > 0 && o.nextDownloadOffset >= o.totalBytes) ||
		o.outstanding() >= o.maxRequests {
		return
	}

	count := 1
	if o.totalBytes > 0 {
		count = max(0, o.maxRequests-o.outstanding())
	}

	for i := 0; i < count; i++ {
		if o.totalBytes > 0 && o.nextDownloadOffset >= o.totalBytes {
			break
		}

		req := &chunkRequest{
			offset:   o.nextDownloadOffset,
			length:   o.chunkSize,
			issuedAt: time.Now(),
		}
		if o.totalBytes > 0 && req.offset+req.length > o.totalBytes {
			req.length = o.totalBytes - req.offset
		}

		o.nextDownloadOffset += o.chunkSize
		o.inFlight[req.offset] = req

		o.dispatch(req)
	}
}

// dispatch runs the fetch off the scheduler and posts the result back.
func (o *Operation) dispatch(req *chunkRequest) {
	chunk := transfer.ChunkRequest{
		Location: o.location,
		Offset:   req.offset,
		Limit:    req.length,
		Force:    o.force,
	}

	go func() {
		data, err := o.fetcher.Fetch(o.ctx, chunk)

		if !o.queue.Post(func() { o.onChunkLoaded(req, data, err) }) {
			o.logger.Debug("scheduler closed, dropping chunk", "offset", req.offset)
			o.abandon(FailureGeneric, ErrSchedulerClosed)
		}
	}()
}

func (o *Operation) onChunkLoaded(req *chunkRequest, data []byte, err error) {
	if o.State() != StateDownloading || o.inFlight[req.offset] != req {
		o.telemetry.RecordChunk("discarded", 0, time.Since(req.issuedAt))

		return
	}

	delete(o.inFlight, req.offset)

	if err != nil {
		o.telemetry.RecordChunk("error", 0, time.Since(req.issuedAt))
		o.fail(FailureGeneric, &TransportError{Offset: req.offset, Length: req.length, Err: err})

		return
	}

	size := int64(len(data))
	o.telemetry.RecordChunk("success", size, time.Since(req.issuedAt))

	if size > req.length || (o.totalBytes > 0 && size != req.length) {
		o.fail(FailureGeneric, &TransportError{
			Offset: req.offset,
			Length: req.length,
			Err:    fmt.Errorf("%w: got %d bytes", ErrShortChunk, size),
		})

		return
	}

	if req.offset != o.downloadedBytes {
		o.pending[req.offset] = &chunkResult{req: req, data: data}

		return
	}

	if err := o.commit(req, data); err != nil {
		o.fail(FailureGeneric, err)

		return
	}

	for {
		next, ok := o.pending[o.downloadedBytes]
		if !ok {
			break
		}

		delete(o.pending, next.req.offset)

		if err := o.commit(next.req, next.data); err != nil {
			o.fail(FailureGeneric, err)

			return
		}
	}

	o.reportProgress()

	if o.streamEnded || (o.totalBytes > 0 && o.downloadedBytes >= o.totalBytes) {
		o.finishLoading()

		return
	}

	o.scheduleRequests()
}

// commit appends data at the write cursor. A short chunk of a download with
// unknown size marks the end of the stream.
func (o *Operation) commit(req *chunkRequest, data []byte) error {
	if _, err := o.file.Write(data); err != nil {
		return &FileError{Op: "write", Path: o.tempPath, Err: err}
	}

	o.downloadedBytes += int64(len(data))
	o.downloaded.Store(o.downloadedBytes)

	if o.totalBytes == 0 && int64(len(data)) < req.length {
		o.streamEnded = true
	}

	return nil
}

func (o *Operation) reportProgress() {
	if o.totalBytes <= 0 {
		return
	}

	fraction := float32(o.downloadedBytes) / float32(o.totalBytes)
	if fraction > 1 {
		fraction = 1
	}

	o.delegate.OnProgress(o, fraction)
}
