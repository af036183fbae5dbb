package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/service/resume"
	"github.com/heartmarshall/taskflow-backend/internal/service/task"
)

// Job is a one-shot command body run against the wired services.
type Job func(ctx context.Context, j *JobEnv) error

// JobEnv exposes what one-shot commands need.
type JobEnv struct {
	Log  *slog.Logger
	deps *deps
}

// RunJob loads configuration, wires the services and runs job once.
func RunJob(ctx context.Context, component string, job Job) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg.Log, component)

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close(logger)

	return job(ctx, &JobEnv{Log: logger, deps: d})
}

// Sweep expires overdue tasks and lapsed requirements once.
func (j *JobEnv) Sweep(ctx context.Context) (task.SweepReport, error) {
	return j.deps.tasks.SweepExpired(ctx)
}

// ResumePending retries owed workflow advances once.
func (j *JobEnv) ResumePending(ctx context.Context) (resume.ResumeReport, error) {
	return j.deps.resumer.ResumePending(ctx)
}

// ReplayDeadLetters re-queues the given dead letters. It stops at the first
// failure.
func (j *JobEnv) ReplayDeadLetters(ctx context.Context, ids []uuid.UUID) (int, error) {
	for i, id := range ids {
		row, err := j.deps.ingestion.Replay(ctx, id)
		if err != nil {
			return i, fmt.Errorf("replay %s: %w", id, err)
		}
		j.Log.InfoContext(ctx, "dead letter replayed",
			slog.String("dead_letter_id", id.String()),
			slog.String("queue_id", row.ID.String()),
			slog.String("task_id", row.TaskID.String()),
		)
	}
	return len(ids), nil
}

// ReplayAll re-queues every dead letter matching reason (all reasons when
// nil). Entries that fail to replay are logged and left in place.
func (j *JobEnv) ReplayAll(ctx context.Context, reason *domain.DeadLetterReason) (replayed, failed int, err error) {
	for {
		page, err := j.deps.ingestion.ListDeadLetters(ctx, domain.DeadLetterFilter{
			Reason: reason,
			Limit:  domain.MaxListLimit,
			Offset: failed,
		}.Normalize())
		if err != nil {
			return replayed, failed, fmt.Errorf("list dead letters: %w", err)
		}
		if len(page) == 0 {
			return replayed, failed, nil
		}

		for _, e := range page {
			if _, err := j.deps.ingestion.Replay(ctx, e.ID); err != nil {
				failed++
				j.Log.WarnContext(ctx, "dead letter not replayed",
					slog.String("dead_letter_id", e.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			replayed++
		}
	}
}
