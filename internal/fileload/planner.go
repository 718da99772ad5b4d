package fileload

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

const (
	chunkSizeSmall   = 32 * 1024
	chunkSizeBig     = 128 * 1024
	maxRequestsSmall = 4
	maxRequestsBig   = 2
	bigFileThreshold = 1024 * 1024
)

// chunkPolicy picks the chunk size and request bound for a download of total bytes.
func chunkPolicy(total int64) (chunkSize int64, maxRequests int) {
	if total >= bigFileThreshold {
		return chunkSizeBig, maxRequestsBig
	}

	return chunkSizeSmall, maxRequestsSmall
}

// resumeOffset floors length to a whole number of chunks.
func resumeOffset(length, chunkSize int64) int64 {
	if length <= 0 || chunkSize <= 0 {
		return 0
	}

	return length / chunkSize * chunkSize
}

type resumePlan struct {
	// finalExists means the final file is already in place and nothing needs fetching.
	finalExists bool
	offset      int64
}

// planResume inspects the final and temporary files. A final file whose size
// disagrees with a known total is removed first.
func planResume(finalPath, tempPath string, total, chunkSize int64, logger *slog.Logger) (resumePlan, error) {
	info, err := os.Stat(finalPath)

	switch {
	case err == nil:
		if total == 0 || info.Size() == total {
			return resumePlan{finalExists: true}, nil
		}

		logger.Warn("discarding final file with unexpected size",
			"path", finalPath, "size", info.Size(), "expected", total)

		if err := os.Remove(finalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return resumePlan{}, &FileError{Op: "remove", Path: finalPath, Err: err}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return resumePlan{}, &FileError{Op: "stat", Path: finalPath, Err: err}
	}

	info, err = os.Stat(tempPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return resumePlan{}, nil
		}

		return resumePlan{}, &FileError{Op: "stat", Path: tempPath, Err: err}
	}

	length := info.Size()
	if total > 0 && length > total {
		length = total
	}

	return resumePlan{offset: resumeOffset(length, chunkSize)}, nil
}
