package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/taskflow-backend/internal/auth"
	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/transport/middleware"
	"github.com/heartmarshall/taskflow-backend/internal/transport/rest"
)

const rateLimitCleanup = time.Minute

// RunServer serves the REST API and the result webhook until ctx is
// cancelled, then drains in-flight requests within the shutdown timeout.
func RunServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg.Log, "server")
	logger.Info("starting server", versionAttrs()...)

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close(logger)

	limiter := middleware.NewRateLimiter(rateLimitCleanup)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           newRouter(cfg, d, limiter, logger),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	return serve(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}

func newRouter(cfg *config.Config, d *deps, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	health := rest.NewHealthHandler(d.pool, BuildVersion())
	if d.notifier != nil {
		health.AddComponent("redis", rest.PingFunc(d.notifier.Health))
	}

	h := rest.Handlers{
		Health:       health,
		Webhook:      rest.NewWebhookHandler(d.ingestion, logger),
		Documents:    rest.NewDocumentHandler(d.documents, logger),
		Requirements: rest.NewRequirementHandler(d.documents, logger),
		Tasks:        rest.NewTaskHandler(d.tasks, logger),
		DeadLetters:  rest.NewDeadLetterHandler(d.ingestion, logger),
		Guards:       rest.NewGuardHandler(d.guards, logger),
	}

	routerDeps := rest.RouterDeps{Limiter: limiter, Metrics: d.metrics}
	if cfg.Auth.JWTSecret != "" {
		routerDeps.Validator = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	}

	return rest.NewRouter(h, routerDeps, rest.RouterConfig{
		AuthRequired:     cfg.Auth.Enabled,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		WebhookRateLimit: cfg.Server.WebhookRateLimit,
	}, logger)
}

// serve runs srv until ctx is done and shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("http shutting down", slog.String("addr", srv.Addr))
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		return nil
	})

	return g.Wait()
}
