package transfer

import (
	"context"

	"github.com/italolelis/mediafetch/internal/location"
)

// ChunkRequest describes one ranged read of a remote blob.
type ChunkRequest struct {
	Location location.Location
	Offset   int64
	Limit    int64
	// Force is a priority hint for the remote store. Fetchers may ignore it.
	Force bool
}

// Fetcher retrieves a byte range of a remote blob. Implementations block
// until the range is available; callers decide on which goroutine to call it.
// A result shorter than Limit signals the end of the blob.
type Fetcher interface {
	Fetch(ctx context.Context, req ChunkRequest) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req ChunkRequest) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, req ChunkRequest) ([]byte, error) {
	return f(ctx, req)
}
