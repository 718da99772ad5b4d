package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter assembles the control API: the downloads resource plus health and
// metrics endpoints behind the request id, logging and telemetry middlewares.
func NewRouter(downloads *DownloadsHandler, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/downloads", downloads.Routes())

	return otelhttp.NewHandler(r, "mediafetch")
}
