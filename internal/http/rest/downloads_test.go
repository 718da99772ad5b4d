package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	enqueue func(ctx context.Context, req downloader.Request) (*storage.DownloadRecord, error)
	cancel  func(key string) error
	get     func(key string) (*storage.DownloadRecord, error)
	list    func() ([]storage.DownloadRecord, error)
}

func (f *fakeService) Enqueue(ctx context.Context, req downloader.Request) (*storage.DownloadRecord, error) {
	return f.enqueue(ctx, req)
}

func (f *fakeService) Cancel(key string) error { return f.cancel(key) }

func (f *fakeService) Get(key string) (*storage.DownloadRecord, error) { return f.get(key) }

func (f *fakeService) List() ([]storage.DownloadRecord, error) { return f.list() }

func newServer(t *testing.T, svc DownloadService) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(NewRouter(NewDownloadsHandler(svc), nil))
	t.Cleanup(srv.Close)

	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body.Error
}

func TestHandleEnqueue(t *testing.T) {
	var got downloader.Request

	svc := &fakeService{
		enqueue: func(_ context.Context, req downloader.Request) (*storage.DownloadRecord, error) {
			got = req

			return &storage.DownloadRecord{Key: "document:2_99", Kind: "document", Status: storage.StatusDownloading}, nil
		},
	}

	srv := newServer(t, svc)

	resp := do(t, http.MethodPost, srv.URL+"/downloads",
		`{"kind":"document","id":99,"access_hash":1234,"dc_id":2,"size":40000,"file_name":"clip.mp4","force":true}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(telemetry.RequestIDHeader))

	var rec storage.DownloadRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "document:2_99", rec.Key)
	assert.Equal(t, storage.StatusDownloading, rec.Status)

	assert.Equal(t, downloader.Request{
		Kind:         location.KindDocument,
		ID:           99,
		AccessHash:   1234,
		DatacenterID: 2,
		Size:         40000,
		FileName:     "clip.mp4",
		Force:        true,
	}, got)
}

func TestHandleEnqueue_AlreadyDownloaded(t *testing.T) {
	svc := &fakeService{
		enqueue: func(context.Context, downloader.Request) (*storage.DownloadRecord, error) {
			return &storage.DownloadRecord{Key: "photo:7_8", Status: storage.StatusDownloaded, FinalPath: "/store/7_8.jpg"}, nil
		},
	}

	resp := do(t, http.MethodPost, newServer(t, svc).URL+"/downloads", `{"kind":"photo","volume_id":7,"local_id":8,"dc_id":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed body", body: `{"kind":`, status: http.StatusBadRequest},
		{
			name:   "invalid location",
			body:   `{"kind":"document","dc_id":2}`,
			err:    &location.InvalidLocationError{Kind: location.KindDocument, Field: "id", Reason: "must be non-zero"},
			status: http.StatusBadRequest,
		},
		{name: "locked elsewhere", body: `{}`, err: downloader.ErrLocked, status: http.StatusConflict},
		{name: "closed", body: `{}`, err: downloader.ErrClosed, status: http.StatusServiceUnavailable},
		{name: "storage failure", body: `{}`, err: fmt.Errorf("failed to claim download: %w", errors.New("disk I/O error")), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				enqueue: func(context.Context, downloader.Request) (*storage.DownloadRecord, error) {
					return nil, tt.err
				},
			}

			resp := do(t, http.MethodPost, newServer(t, svc).URL+"/downloads", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp))
		})
	}
}

func TestHandleList(t *testing.T) {
	svc := &fakeService{
		list: func() ([]storage.DownloadRecord, error) {
			return []storage.DownloadRecord{
				{Key: "document:2_99", Status: storage.StatusDownloading, DownloadedBytes: 32768, TotalBytes: 40000},
				{Key: "photo:7_8", Status: storage.StatusDownloaded},
			}, nil
		},
	}

	resp := do(t, http.MethodGet, newServer(t, svc).URL+"/downloads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []storage.DownloadRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, int64(32768), records[0].DownloadedBytes)
	assert.Equal(t, "photo:7_8", records[1].Key)
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	svc := &fakeService{
		list: func() ([]storage.DownloadRecord, error) { return nil, nil },
	}

	resp := do(t, http.MethodGet, newServer(t, svc).URL+"/downloads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(raw))
}

func TestHandleList_Failure(t *testing.T) {
	svc := &fakeService{
		list: func() ([]storage.DownloadRecord, error) { return nil, errors.New("database is locked") },
	}

	resp := do(t, http.MethodGet, newServer(t, svc).URL+"/downloads", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to list downloads", decodeError(t, resp))
}

func TestHandleGet(t *testing.T) {
	svc := &fakeService{
		get: func(key string) (*storage.DownloadRecord, error) {
			if key != "document:2_99" {
				return nil, storage.ErrNotFound
			}

			return &storage.DownloadRecord{Key: key, Status: storage.StatusFailed}, nil
		},
	}

	srv := newServer(t, svc)

	resp := do(t, http.MethodGet, srv.URL+"/downloads/document:2_99", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec storage.DownloadRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, storage.StatusFailed, rec.Status)

	resp = do(t, http.MethodGet, srv.URL+"/downloads/photo:1_1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleCancel(t *testing.T) {
	var cancelled []string

	svc := &fakeService{
		cancel: func(key string) error {
			if key != "document:2_99" {
				return downloader.ErrUnknownDownload
			}

			cancelled = append(cancelled, key)

			return nil
		},
	}

	srv := newServer(t, svc)

	resp := do(t, http.MethodDelete, srv.URL+"/downloads/document:2_99", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"document:2_99"}, cancelled)

	resp = do(t, http.MethodDelete, srv.URL+"/downloads/document:2_100", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, downloader.ErrUnknownDownload.Error(), decodeError(t, resp))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newServer(t, &fakeService{})

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Telemetry is disabled, so there is nothing to scrape.
	resp = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ExposesMetricsWhenEnabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "mediafetch-test", ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	svc := &fakeService{
		get: func(string) (*storage.DownloadRecord, error) { return nil, storage.ErrNotFound },
	}

	srv := httptest.NewServer(NewRouter(NewDownloadsHandler(svc), tel))
	t.Cleanup(srv.Close)

	do(t, http.MethodGet, srv.URL+"/downloads/photo:1_1", "")

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `path="/downloads/{key}"`)
}
