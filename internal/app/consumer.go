package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/taskflow-backend/internal/config"
)

// RunConsumer drains the result queue with cfg.Queue.Workers workers,
// retries owed workflow advances every cfg.Workflow.RetryInterval and,
// when metrics are enabled, serves /metrics on cfg.Metrics.Addr. It returns
// when ctx is cancelled.
func RunConsumer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg.Log, "consumer")
	logger.Info("starting consumer", versionAttrs()...)

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close(logger)

	g, gctx := errgroup.WithContext(ctx)

	var wake <-chan struct{}
	if d.notifier != nil {
		wake, err = d.notifier.Subscribe(gctx)
		if err != nil {
			// Polling still drains the queue, only slower.
			logger.Warn("queue wakeups unavailable", slog.String("error", err.Error()))
			wake = nil
		}
	}

	g.Go(func() error {
		return d.ingestion.Run(gctx, wake)
	})
	g.Go(func() error {
		d.resumer.Run(gctx)
		return nil
	})

	if d.metrics != nil {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", d.metrics.Handler())
		r.Get("/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           r,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}
		g.Go(func() error {
			return serve(gctx, srv, cfg.Server.ShutdownTimeout, logger)
		})
	}

	return g.Wait()
}
