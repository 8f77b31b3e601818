package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/parlock/core/logger"
)

// Route mounts an extra handler next to the metrics endpoint.
type Route struct {
	Pattern string
	Handler http.Handler
}

// NewServeMux returns the mux served by StartPromServer.
func NewServeMux(routes ...Route) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	return mux
}

// StartPromServer serves Prometheus metrics and routes on addr until ctx is
// canceled. A dedicated ServeMux is used to avoid interfering with other
// handlers.
func StartPromServer(ctx context.Context, addr string, log logger.Logger, routes ...Route) error {
	log = logger.OrNop(log)
	mux := NewServeMux(routes...)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("prom server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
