// Package resume runs the side effects that follow a committed terminal task transition.
package resume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/metrics"
)

type eventRepo interface {
	Append(ctx context.Context, e domain.TaskEvent) error
}

type outboxRepo interface {
	Add(ctx context.Context, a domain.PendingAdvance) error
	MarkAdvanced(ctx context.Context, taskID uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, taskID uuid.UUID, lastError string) error
	ListPending(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]domain.PendingAdvance, error)
}

type advancer interface {
	TryAdvance(ctx context.Context, instanceID uuid.UUID) error
}

type eventPublisher interface {
	PublishTaskEvent(ctx context.Context, event domain.TaskEvent, task domain.PendingTask) error
}

// Resumer wakes the workflow engine after a task reaches a terminal status.
//
// Every terminal transition leaves a row in the advance outbox, written by
// Record in the same transaction as the terminal event. Resume clears it
// right after commit; ResumePending picks up whatever a crash or a failed
// advance left behind.
type Resumer struct {
	log       *slog.Logger
	events    eventRepo
	outbox    outboxRepo
	advancer  advancer
	publisher eventPublisher
	metrics   *metrics.Metrics
	cfg       config.WorkflowConfig
	clock     func() time.Time
}

// NewResumer creates a Resumer.
func NewResumer(logger *slog.Logger, events eventRepo, outbox outboxRepo, adv advancer, cfg config.WorkflowConfig) *Resumer {
	return &Resumer{
		log:      logger.With("service", "resume"),
		events:   events,
		outbox:   outbox,
		advancer: adv,
		cfg:      cfg,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher injects the optional event stream publisher.
func (r *Resumer) SetPublisher(p eventPublisher) {
	r.publisher = p
}

// SetMetrics injects the optional metrics sink.
func (r *Resumer) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Record stores the advance owed for a terminal event. It must run in the
// transaction that writes the event.
func (r *Resumer) Record(ctx context.Context, task domain.PendingTask, event domain.TaskEvent) error {
	if err := r.outbox.Add(ctx, domain.NewPendingAdvance(task, event)); err != nil {
		return fmt.Errorf("record owed advance: %w", err)
	}
	return nil
}

// Resume must be called once per terminal transition, after the transaction
// that wrote the terminal event committed. Failures are recorded, never returned:
// the task outcome is already durable and ResumePending retries the advance.
func (r *Resumer) Resume(ctx context.Context, task domain.PendingTask, event domain.TaskEvent) {
	r.metrics.TaskTerminal(task.Status)

	if err := r.advance(ctx, domain.NewPendingAdvance(task, event)); err == nil {
		r.log.InfoContext(ctx, "workflow advanced",
			slog.String("task_id", task.ID.String()),
			slog.String("instance_id", task.InstanceID.String()),
			slog.String("status", string(task.Status)),
		)
	}

	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishTaskEvent(ctx, event, task); err != nil {
		r.log.WarnContext(ctx, "publish task event failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ResumeReport summarizes one ResumePending pass.
type ResumeReport struct {
	Advanced int
	Failed   int
}

// ResumePending retries owed advances that are at least RetryAfter old and
// have attempts left. Younger rows belong to a Resume that may still be
// running. Events are not published again.
func (r *Resumer) ResumePending(ctx context.Context) (ResumeReport, error) {
	var report ResumeReport

	pending, err := r.outbox.ListPending(ctx, r.clock().Add(-r.cfg.RetryAfter), r.cfg.MaxAttempts, r.cfg.RetryBatch)
	if err != nil {
		return report, fmt.Errorf("list owed advances: %w", err)
	}

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.advance(ctx, a); err != nil {
			report.Failed++
			continue
		}
		report.Advanced++
		r.log.InfoContext(ctx, "owed workflow advance delivered",
			slog.String("task_id", a.TaskID.String()),
			slog.String("instance_id", a.InstanceID.String()),
			slog.Int("attempts", a.Attempts+1),
		)
	}
	return report, nil
}

// Run calls ResumePending every RetryInterval until ctx is cancelled.
func (r *Resumer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := r.ResumePending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WarnContext(ctx, "resume pending advances failed", slog.String("error", err.Error()))
			continue
		}
		if report.Advanced+report.Failed > 0 {
			r.log.InfoContext(ctx, "pending advances retried",
				slog.Int("advanced", report.Advanced),
				slog.Int("failed", report.Failed),
			)
		}
	}
}

// advance calls the engine once for a and records the outcome on its outbox
// row. A failure also writes an advance_failed event.
func (r *Resumer) advance(ctx context.Context, a domain.PendingAdvance) error {
	advErr := r.advancer.TryAdvance(ctx, a.InstanceID)
	if advErr == nil {
		if err := r.outbox.MarkAdvanced(ctx, a.TaskID, r.clock()); err != nil {
			// The engine was advanced; a retry would advance it again.
			r.log.WarnContext(ctx, "mark advance delivered",
				slog.String("task_id", a.TaskID.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	r.log.ErrorContext(ctx, "workflow advance failed",
		slog.String("task_id", a.TaskID.String()),
		slog.String("instance_id", a.InstanceID.String()),
		slog.String("error", advErr.Error()),
	)
	msg := advErr.Error()
	failed := domain.TaskEvent{
		ID:         uuid.Must(uuid.NewV7()),
		TaskID:     a.TaskID,
		EventType:  domain.EventAdvanceFailed,
		Error:      &msg,
		Source:     a.Source,
		OccurredAt: r.clock(),
	}
	if err := r.events.Append(ctx, failed); err != nil {
		r.log.ErrorContext(ctx, "record advance failure",
			slog.String("task_id", a.TaskID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := r.outbox.RecordFailure(ctx, a.TaskID, msg); err != nil {
		r.log.ErrorContext(ctx, "count advance attempt",
			slog.String("task_id", a.TaskID.String()),
			slog.String("error", err.Error()),
		)
	}
	return advErr
}
