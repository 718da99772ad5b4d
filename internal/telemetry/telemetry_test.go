package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func newEnabled(t *testing.T) *Telemetry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "mediafetch-test", ServiceVersion: "test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return tel
}

func TestNilTelemetry_IsSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.IncrementActiveDownloads()
		tel.DecrementActiveDownloads()
		tel.RecordDownload("success", time.Second)
		tel.RecordChunk("success", 1024, time.Millisecond)
		tel.RecordRenameRetry()
		tel.RecordResume(32768)
		tel.RecordClientOperation("http", "fetch_chunk", "error")
		tel.RecordDBOperation("claim_download", "success", time.Millisecond)
		tel.RecordSystemError("cleanup", "remove")
		tel.IncrementHTTPInFlight()
		tel.DecrementHTTPInFlight()
		tel.RecordHTTPRequest(http.MethodGet, "/downloads", "2xx", time.Millisecond)
	})

	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NotNil(t, tel.Tracer())
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	tel.RecordChunk("success", 10, time.Millisecond)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnabledTelemetry_ExportsDownloadMetrics(t *testing.T) {
	tel := newEnabled(t)

	tel.IncrementActiveDownloads()
	tel.RecordChunk("success", 32768, 5*time.Millisecond)
	tel.RecordRenameRetry()
	tel.RecordResume(32768)
	tel.RecordDownload("success", time.Second)

	body := scrape(t, tel)

	for _, name := range []string{"downloads_active", "chunks_total", "chunk_bytes", "rename_retries_total", "resumed_bytes", "download_duration_seconds"} {
		assert.Contains(t, body, name)
	}

	assert.NotContains(t, body, "_ratio")
}

func TestEnabledTelemetry_SeparateRegistries(t *testing.T) {
	first := newEnabled(t)
	second := newEnabled(t)

	first.RecordRenameRetry()

	assert.Contains(t, scrape(t, first), "rename_retries")
	assert.NotContains(t, scrape(t, second), "rename_retries")
}

func TestInstrumentClientOperation_PropagatesError(t *testing.T) {
	tel := newEnabled(t)
	boom := assert.AnError

	err := tel.InstrumentClientOperation(context.Background(), "http", "fetch_chunk", func(context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	body := scrape(t, tel)
	assert.Contains(t, body, "client_errors_total")
	assert.Contains(t, body, "client_operations_total")
	assert.NotContains(t, body, "_ratio")
}

func TestInstrumentDBOperation_NilTelemetry(t *testing.T) {
	var tel *Telemetry

	called := false
	err := tel.InstrumentDBOperation(context.Background(), "get_download", func(context.Context) error {
		called = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}
