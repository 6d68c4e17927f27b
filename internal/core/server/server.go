package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxcollombin/mapserver-proxy/internal/core/config"
	"github.com/maxcollombin/mapserver-proxy/internal/core/health"
	middleware "github.com/maxcollombin/mapserver-proxy/internal/core/middleware"
	"github.com/maxcollombin/mapserver-proxy/internal/core/router"
)

// NewRouter mounts the MapServer REST surface plus the operational
// endpoints.
func NewRouter(logger *slog.Logger, p router.Proxy, reporters ...health.ReadinessReporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(reporters...))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/{service}/MapServer", func(r chi.Router) {
		r.Get("/", router.ServiceInfo(logger, p))
		r.Get("/export", router.Export(logger, p))
		r.Get("/identify", router.Identify(logger, p))
		r.Get("/{layer}", router.LayerInfo(logger, p))
		r.Get("/{layer}/query", router.Query(logger, p))
	})
	return r
}

// sets up http and starts serving until ctx is cancelled
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, p router.Proxy, reporters ...health.ReadinessReporter) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(logger, p, reporters...),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
