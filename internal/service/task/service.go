// Package task exposes pending task reads, cancellation and the expiry sweep.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type taskRepo interface {
	Get(ctx context.Context, id uuid.UUID) (domain.PendingTask, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.PendingTask, error)
	Save(ctx context.Context, t domain.PendingTask) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PendingTask, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.PendingTask, error)
}

type eventRepo interface {
	Append(ctx context.Context, e domain.TaskEvent) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.TaskEvent, error)
}

type requirementRepo interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	Save(ctx context.Context, req domain.DocumentRequirement) error
	ListLapsedVerified(ctx context.Context, now time.Time, limit int) ([]domain.DocumentRequirement, error)
}

type submitter interface {
	Submit(ctx context.Context, bundle domain.ResultBundle) (domain.SubmitOutcome, error)
}

type resumer interface {
	Record(ctx context.Context, task domain.PendingTask, event domain.TaskEvent) error
	Resume(ctx context.Context, task domain.PendingTask, event domain.TaskEvent)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements task operations.
type Service struct {
	log          *slog.Logger
	tasks        taskRepo
	events       eventRepo
	requirements requirementRepo
	submitter    submitter
	resumer      resumer
	tx           txManager
	cfg          config.SweepConfig
	clock        func() time.Time
}

// NewService creates a new task service.
func NewService(
	logger *slog.Logger,
	tasks taskRepo,
	events eventRepo,
	requirements requirementRepo,
	submitter submitter,
	resumer resumer,
	tx txManager,
	cfg config.SweepConfig,
) *Service {
	return &Service{
		log:          logger.With("service", "task"),
		tasks:        tasks,
		events:       events,
		requirements: requirements,
		submitter:    submitter,
		resumer:      resumer,
		tx:           tx,
		cfg:          cfg,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.PendingTask, error) {
	return s.tasks.Get(ctx, id)
}

// ListByInstance returns the tasks of one workflow instance, oldest first.
func (s *Service) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.PendingTask, error) {
	tasks, err := s.tasks.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Events returns the audit trail of a task in occurrence order.
func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]domain.TaskEvent, error) {
	if _, err := s.tasks.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.events.ListByTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	return events, nil
}

// Cancel moves a live task to cancelled, writes the terminal event and
// resumes the workflow. Cancelling a terminal task is a transition error.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.PendingTask, error) {
	var (
		task  domain.PendingTask
		event domain.TaskEvent
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		task, err = s.tasks.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		now := s.clock()
		if err := task.Cancel(reason, now); err != nil {
			return err
		}
		if err := s.tasks.Save(ctx, task); err != nil {
			return fmt.Errorf("save task: %w", err)
		}

		event = domain.TaskEvent{
			ID:         uuid.Must(uuid.NewV7()),
			TaskID:     task.ID,
			EventType:  domain.EventTaskCancelled,
			Error:      task.LastError,
			Source:     domain.EventSourceAPI,
			OccurredAt: now,
		}
		if err := s.events.Append(ctx, event); err != nil {
			return fmt.Errorf("record cancel: %w", err)
		}
		return s.resumer.Record(ctx, task, event)
	})
	if err != nil {
		return domain.PendingTask{}, err
	}

	s.log.InfoContext(ctx, "task cancelled",
		slog.String("task_id", task.ID.String()),
		slog.String("reason", reason),
	)
	s.resumer.Resume(ctx, task, event)
	return task, nil
}

// SweepReport summarizes one expiry sweep.
type SweepReport struct {
	TasksExpired        int
	TasksSkipped        int
	RequirementsExpired int
}

// SweepExpired submits one synthetic expired bundle per overdue task and,
// when enabled, lapses verified requirements whose latest version is no
// longer valid. The bundles go through the ingestion queue like any result,
// so a concurrently arriving real result and the sweep cannot both apply.
func (s *Service) SweepExpired(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.clock()

	overdue, err := s.tasks.ListOverdue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list overdue tasks: %w", err)
	}

	for _, t := range overdue {
		out, err := s.submitter.Submit(ctx, domain.ExpiryBundle(t))
		if err != nil {
			return report, fmt.Errorf("submit expiry for task %s: %w", t.ID, err)
		}
		if out.Kind != domain.SubmitAccepted {
			report.TasksSkipped++
			s.log.WarnContext(ctx, "expiry bundle not accepted",
				slog.String("task_id", t.ID.String()),
				slog.String("outcome", string(out.Kind)),
				slog.String("reason", out.Reason),
			)
			continue
		}
		report.TasksExpired++
	}

	if s.cfg.CheckRequirements {
		n, err := s.expireRequirements(ctx, now)
		report.RequirementsExpired = n
		if err != nil {
			return report, err
		}
	}

	s.log.InfoContext(ctx, "expiry sweep finished",
		slog.Int("tasks_expired", report.TasksExpired),
		slog.Int("tasks_skipped", report.TasksSkipped),
		slog.Int("requirements_expired", report.RequirementsExpired),
	)
	return report, nil
}

func (s *Service) expireRequirements(ctx context.Context, now time.Time) (int, error) {
	lapsed, err := s.requirements.ListLapsedVerified(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list lapsed requirements: %w", err)
	}

	expired := 0
	for _, candidate := range lapsed {
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			req, err := s.requirements.GetForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if err := req.Expire(now); err != nil {
				return err
			}
			return s.requirements.Save(ctx, req)
		})
		// Changed since it was listed: a newer version or a waiver won.
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire requirement %s: %w", candidate.ID, err)
		}
		expired++
	}
	return expired, nil
}
