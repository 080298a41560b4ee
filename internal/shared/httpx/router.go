package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/k1networth/ugc-offers/internal/shared/logger"
)

// Route binds a ServeMux pattern ("POST /orders/{id}/activate") to a handler.
type Route struct {
	Pattern string
	Handler http.HandlerFunc
}

type RouterConfig struct {
	Log     *slog.Logger
	Metrics *Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig, routes ...Route) http.Handler {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	mux := http.NewServeMux()

	health := Route{Pattern: "GET /healthz", Handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}}

	ready := Route{Pattern: "GET /readyz", Handler: func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				cfg.Log.Warn("readiness_failed", slog.String("err", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}}

	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	for _, rt := range append([]Route{health, ready}, routes...) {
		mux.Handle(rt.Pattern, WithRoute(rt.Pattern, rt.Handler))
	}

	var h http.Handler = mux
	if cfg.Metrics != nil {
		h = cfg.Metrics.Middleware(h)
	}
	h = AccessLog(cfg.Log)(h)
	h = RequestID(h)

	return h
}
