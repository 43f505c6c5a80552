// Package api is the external HTTP/JSON interface: function execution,
// metrics retrieval, and runtime comparison, all served from a stdlib
// http.ServeMux.
package api

import (
	"net/http"

	"github.com/oriys/serverlessd/internal/comparator"
	"github.com/oriys/serverlessd/internal/logging"
	"github.com/oriys/serverlessd/internal/metrics"
	"github.com/oriys/serverlessd/internal/observability"
	"github.com/oriys/serverlessd/internal/store"
)

// ServerConfig contains the dependencies wired into the HTTP handlers.
type ServerConfig struct {
	Functions  store.FunctionStore
	Metrics    store.MetricsStore
	Exec       Invoker
	Comparator *comparator.Comparator
}

// NewMux builds the routed HTTP handler for the daemon's external surface.
func NewMux(cfg ServerConfig) http.Handler {
	h := &Handler{
		functions:  cfg.Functions,
		metrics:    cfg.Metrics,
		exec:       cfg.Exec,
		comparator: cfg.Comparator,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /functions/execute/{name}", h.executeFunction)
	mux.HandleFunc("GET /metrics/functions/{name}", h.listFunctionMetrics)
	mux.HandleFunc("GET /metrics/aggregated", h.aggregatedMetrics)
	mux.HandleFunc("GET /runtime/compare", h.compareRuntime)
	mux.HandleFunc("GET /health", h.health)
	if promHandler := metrics.Handler(); promHandler != nil {
		mux.Handle("GET /metrics", promHandler)
	}

	return requestLoggingMiddleware(observability.Middleware(mux))
}

// Serve starts the HTTP server in a background goroutine and returns it
// immediately; the caller stops it with Shutdown. Listen errors are logged.
func Serve(addr string, cfg ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewMux(cfg),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("http server error", "err", err)
		}
	}()

	return srv
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Op().Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
