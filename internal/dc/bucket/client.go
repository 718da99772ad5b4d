// Package bucket fetches chunks from a Go CDK blob bucket (file://, mem://)
// holding each blob under {kind}/{datacenter}/{id-pair}.
package bucket

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/transfer"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

type Client struct {
	bucket *blob.Bucket
}

// Open opens the bucket at url, for example file:///srv/blobs.
func Open(ctx context.Context, url string) (*Client, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}

	return NewClient(b), nil
}

// NewClient wraps an already opened bucket.
func NewClient(b *blob.Bucket) *Client {
	return &Client{bucket: b}
}

// ObjectKey is where the blob for loc is stored.
func ObjectKey(loc location.Location) string {
	return path.Join(string(loc.Kind()), strconv.Itoa(int(loc.Datacenter())), loc.IDPair())
}

// Fetch implements transfer.Fetcher. Offsets past the end of the object yield
// an empty chunk.
func (c *Client) Fetch(ctx context.Context, req transfer.ChunkRequest) ([]byte, error) {
	if req.Location == nil {
		return nil, &location.InvalidLocationError{Reason: "location is missing"}
	}

	key := ObjectKey(req.Location)

	r, err := c.bucket.NewRangeReader(ctx, key, req.Offset, req.Limit, nil)
	if err != nil {
		return nil, classify("open_object", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("read_object", key, err)
	}

	return data, nil
}

// Close releases the bucket.
func (c *Client) Close() error {
	return c.bucket.Close()
}

func classify(op, key string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.PermissionDenied:
		return &transfer.AuthenticationError{Operation: op, Err: err}
	case gcerrors.NotFound:
		return &transfer.NetworkError{Operation: op, APIMessage: "object " + key + " not found", Err: err}
	default:
		return &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}
}
