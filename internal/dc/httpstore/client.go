// Package httpstore fetches chunks from a plain HTTP blob store that serves
// each blob at {base}/{kind}/{datacenter}/{id-pair} and honours Range requests.
package httpstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 512

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a client for the store rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported store url scheme %q", u.Scheme)
	}

	return &Client{
		baseURL:    u,
		httpClient: NewHTTPClient(timeout),
	}, nil
}

// NewHTTPClient returns an http.Client whose requests are traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Fetch implements transfer.Fetcher.
func (c *Client) Fetch(ctx context.Context, req transfer.ChunkRequest) ([]byte, error) {
	if req.Location == nil {
		return nil, &location.InvalidLocationError{Reason: "location is missing"}
	}

	u := c.baseURL.JoinPath(
		string(req.Location.Kind()),
		strconv.Itoa(int(req.Location.Datacenter())),
		req.Location.IDPair(),
	)

	if req.Force {
		q := u.Query()
		q.Set("force", "1")
		u.RawQuery = q.Encode()
	}

	return GetRange(ctx, c.httpClient, u.String(), req.Location.Key(), req.Offset, req.Limit)
}

// GetRange reads limit bytes at offset from rawURL. Servers that ignore the
// Range header are handled by skipping to offset in the full body. A result
// shorter than limit means the blob ended.
func GetRange(ctx context.Context, client *http.Client, rawURL, key string, offset, limit int64) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+limit-1))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &transfer.NetworkError{
			Operation:  "fetch_chunk",
			APIMessage: err.Error(),
			Err:        err,
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		logger.DebugContext(ctx, "store ignored range header", "key", key, "offset", offset)

		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			if errors.Is(err, io.EOF) {
				return []byte{}, nil
			}

			return nil, readError(err)
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 {
			return []byte{}, nil
		}

		return nil, &transfer.RangeError{Key: key, Offset: offset, Limit: limit}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &transfer.AuthenticationError{
			Operation: "fetch_chunk",
			Err:       fmt.Errorf("store returned %s", resp.Status),
		}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, &transfer.NetworkError{
			Operation:  "fetch_chunk",
			StatusCode: resp.StatusCode,
			APIMessage: string(msg),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, readError(err)
	}

	return data, nil
}

func readError(err error) error {
	return &transfer.NetworkError{
		Operation:  "read_chunk",
		APIMessage: err.Error(),
		Err:        err,
	}
}
