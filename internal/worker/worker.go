package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-running loop that returns once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Worker runs loops next to a metrics endpoint.
type Worker struct {
	metricsAddr string
	runners     []Runner
	logger      *slog.Logger
}

// New returns a Worker. An empty metricsAddr disables the metrics endpoint.
func New(metricsAddr string, logger *slog.Logger, runners ...Runner) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		metricsAddr: metricsAddr,
		runners:     runners,
		logger:      logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "runners", len(w.runners))

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range w.runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}

	if w.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: w.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			w.logger.Info("worker metrics listening", "addr", w.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
