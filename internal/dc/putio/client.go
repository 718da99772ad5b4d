// Package putio fetches document chunks from files stored on put.io. A
// document's ID is the put.io file id.
package putio

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/italolelis/mediafetch/internal/dc/httpstore"
	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/transfer"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

type Client struct {
	putioClient *putio.Client
	httpClient  *http.Client

	mu   sync.Mutex
	urls map[int64]string
}

func NewClient(token string, timeout time.Duration) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		httpClient:  httpstore.NewHTTPClient(timeout),
		urls:        make(map[int64]string),
	}
}

func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return &transfer.AuthenticationError{Operation: "account_info", Err: err}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// Fetch implements transfer.Fetcher for documents.
func (c *Client) Fetch(ctx context.Context, req transfer.ChunkRequest) ([]byte, error) {
	doc, ok := req.Location.(location.Document)
	if !ok {
		kind := location.Kind("")
		if req.Location != nil {
			kind = req.Location.Kind()
		}

		return nil, &location.InvalidLocationError{Kind: kind, Reason: "put.io only serves documents"}
	}

	url, err := c.downloadURL(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	data, err := httpstore.GetRange(ctx, c.httpClient, url, doc.Key(), req.Offset, req.Limit)
	if err != nil {
		// Download links expire; resolve a fresh one on the next attempt.
		c.forget(doc.ID)

		return nil, err
	}

	return data, nil
}

func (c *Client) downloadURL(ctx context.Context, fileID int64) (string, error) {
	c.mu.Lock()
	url, ok := c.urls[fileID]
	c.mu.Unlock()

	if ok {
		return url, nil
	}

	url, err := c.putioClient.Files.URL(ctx, fileID, false)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to get file download url", "file_id", fileID, "err", err)

		return "", &transfer.NetworkError{
			Operation:  "resolve_url",
			APIMessage: fmt.Sprintf("file %d: %v", fileID, err),
			Err:        err,
		}
	}

	c.mu.Lock()
	c.urls[fileID] = url
	c.mu.Unlock()

	return url, nil
}

func (c *Client) forget(fileID int64) {
	c.mu.Lock()
	delete(c.urls, fileID)
	c.mu.Unlock()
}
