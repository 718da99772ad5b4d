package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
)

const maxRequestBody = 64 * 1024

// DownloadService is the part of the downloader the API drives.
type DownloadService interface {
	Enqueue(ctx context.Context, req downloader.Request) (*storage.DownloadRecord, error)
	Cancel(key string) error
	Get(key string) (*storage.DownloadRecord, error)
	List() ([]storage.DownloadRecord, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	svc DownloadService
}

// NewDownloadsHandler creates the handler for the /downloads resource.
func NewDownloadsHandler(svc DownloadService) *DownloadsHandler {
	return &DownloadsHandler{svc: svc}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.HandleEnqueue)
	r.Get("/", h.HandleList)
	r.Get("/{key}", h.HandleGet)
	r.Delete("/{key}", h.HandleCancel)

	return r
}

// HandleEnqueue starts a download and answers with its record.
func (h *DownloadsHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req downloader.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	rec, err := h.svc.Enqueue(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("failed to enqueue download", "err", err)
		}

		writeError(w, status, err.Error())

		return
	}

	status := http.StatusAccepted
	if rec.Status == storage.StatusDownloaded {
		status = http.StatusOK
	}

	writeJSON(w, status, rec)
}

// HandleList returns every known download.
func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List()
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list downloads", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads")

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// HandleGet returns one download by key.
func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	rec, err := h.svc.Get(key)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logctx.LoggerFromContext(r.Context()).Error("failed to get download", "key", key, "err", err)
		}

		writeError(w, status, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// HandleCancel asks a running download to stop. The outcome is reported
// asynchronously through the record status.
func (h *DownloadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.svc.Cancel(key); err != nil {
		writeError(w, statusFor(err), err.Error())

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("download cancellation requested", "key", key)
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	var locErr *location.InvalidLocationError

	switch {
	case errors.As(err, &locErr):
		return http.StatusBadRequest
	case errors.Is(err, downloader.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, downloader.ErrUnknownDownload):
		return http.StatusNotFound
	case errors.Is(err, downloader.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
