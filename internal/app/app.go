// Package app assembles the taskflow processes from configuration: the HTTP
// server, the queue consumer and the one-shot sweeper share one dependency
// graph built here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/heartmarshall/taskflow-backend/internal/adapter/blob"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/kafka"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/advanceoutbox"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/deadletter"
	documentrepo "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/document"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/rejectioncode"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/requirement"
	taskrepo "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/task"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/taskevent"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/taskqueue"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/redis"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/workflow"
	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/metrics"
	"github.com/heartmarshall/taskflow-backend/internal/service/document"
	"github.com/heartmarshall/taskflow-backend/internal/service/guard"
	"github.com/heartmarshall/taskflow-backend/internal/service/ingestion"
	"github.com/heartmarshall/taskflow-backend/internal/service/resume"
	"github.com/heartmarshall/taskflow-backend/internal/service/task"
)

// deps is the wired object graph. Optional adapters are nil when their
// config section is empty.
type deps struct {
	pool      *pgxpool.Pool
	metrics   *metrics.Metrics
	notifier  *redis.Notifier
	publisher *kafka.Publisher

	resumer   *resume.Resumer
	ingestion *ingestion.Service
	tasks     *task.Service
	documents *document.Service
	guards    *guard.Service
}

// build connects to every backing store named in cfg and wires the services.
// The caller must call close on success.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	d.pool = pool

	if err := d.wire(ctx, cfg, logger); err != nil {
		d.close(logger)
		return nil, err
	}
	return d, nil
}

func (d *deps) wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tx := postgres.NewTxManager(d.pool)
	tasks := taskrepo.New(d.pool)
	events := taskevent.New(d.pool)
	queue := taskqueue.New(d.pool)
	deadLetters := deadletter.New(d.pool)
	documents := documentrepo.New(d.pool)
	requirements := requirement.New(d.pool)

	codes, err := rejectioncode.New(d.pool).LoadTable(ctx)
	if err != nil {
		return fmt.Errorf("load rejection codes: %w", err)
	}

	blobs, err := blob.NewFSStore(cfg.Blob.Root)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	if cfg.Metrics.Enabled {
		d.metrics = metrics.New(prometheus.NewRegistry())
	}

	resumer := resume.NewResumer(logger, events, advanceoutbox.New(d.pool), newAdvancer(cfg.Workflow, logger), cfg.Workflow)
	resumer.SetMetrics(d.metrics)
	if cfg.Kafka.Enabled() {
		d.publisher = kafka.NewPublisher(cfg.Kafka, logger)
		resumer.SetPublisher(d.publisher)
	}
	d.resumer = resumer

	d.ingestion = ingestion.NewService(logger, tasks, events, queue, deadLetters, documents, requirements, tx, resumer, cfg.Queue)
	d.ingestion.SetMetrics(d.metrics)
	if cfg.Redis.Enabled() {
		n, err := redis.New(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		d.notifier = n
		d.ingestion.SetNotifier(n)
	}

	d.tasks = task.NewService(logger, tasks, events, requirements, d.ingestion, resumer, tx, cfg.Sweep)
	d.documents = document.NewService(logger, documents, requirements, tasks, blobs, tx, codes)
	d.guards = guard.NewService(logger, requirements)

	logger.Info("dependencies ready",
		slog.Int("rejection_codes", len(codes.Codes())),
		slog.Bool("redis", d.notifier != nil),
		slog.Bool("kafka", d.publisher != nil),
		slog.Bool("metrics", d.metrics != nil),
		slog.Bool("workflow_http", cfg.Workflow.AdvanceURL != ""),
	)
	return nil
}

func (d *deps) close(logger *slog.Logger) {
	var errs []error
	if d.publisher != nil {
		errs = append(errs, d.publisher.Close())
	}
	if d.notifier != nil {
		errs = append(errs, d.notifier.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("close adapters", slog.String("error", err.Error()))
	}
	d.pool.Close()
}

type advancer interface {
	TryAdvance(ctx context.Context, instanceID uuid.UUID) error
}

// newAdvancer calls the workflow engine over HTTP, or only logs when no
// engine URL is configured.
func newAdvancer(cfg config.WorkflowConfig, logger *slog.Logger) advancer {
	if cfg.AdvanceURL == "" {
		return workflow.NewLogAdvancer(logger)
	}
	return workflow.NewHTTPAdvancer(cfg.AdvanceURL, cfg.Timeout, logger)
}
