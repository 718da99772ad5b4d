package fileload

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is reported when the caller cancels an operation.
	ErrCancelled = errors.New("download cancelled")
	// ErrShortChunk is reported when a chunk of a sized download comes back
	// with a different length than requested.
	ErrShortChunk = errors.New("chunk length does not match request")
	// ErrSchedulerClosed is reported when the operation's scheduler stopped
	// accepting tasks before the download ended.
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// FailureCode is the numeric reason handed to Delegate.OnFailed.
type FailureCode int

const (
	// FailureGeneric covers invalid locations, file system and transport errors.
	FailureGeneric FailureCode = 0
	// FailureCancelled is used when the caller cancelled the operation.
	FailureCancelled FailureCode = 1
)

func (c FailureCode) String() string {
	switch c {
	case FailureGeneric:
		return "generic"
	case FailureCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FailureCode(%d)", int(c))
	}
}

// FileError represents a failure touching the temporary or final file.
type FileError struct {
	Op   string // "mkdir", "stat", "remove", "open", "truncate", "seek" or "write"
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failed chunk fetch.
type TransportError struct {
	Offset int64
	Length int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch chunk at offset %d (length %d): %v", e.Offset, e.Length, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
