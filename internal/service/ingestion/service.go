// Package ingestion accepts result bundles from external actors and applies
// them to pending tasks exactly once.
package ingestion

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/metrics"
)

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

type taskRepo interface {
	Get(ctx context.Context, id uuid.UUID) (domain.PendingTask, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.PendingTask, error)
	Save(ctx context.Context, t domain.PendingTask) error
}

type eventRepo interface {
	Append(ctx context.Context, e domain.TaskEvent) error
	AppendReceived(ctx context.Context, e domain.TaskEvent) (bool, error)
	HasReceived(ctx context.Context, taskID uuid.UUID, key string) (bool, error)
}

type queueRepo interface {
	Enqueue(ctx context.Context, row domain.TaskResultRow) (bool, error)
	ClaimNext(ctx context.Context, now time.Time, retryAfter time.Duration) (domain.TaskResultRow, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Requeue(ctx context.Context, id uuid.UUID, lastError string, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (domain.QueueStats, error)
}

type deadLetterRepo interface {
	Insert(ctx context.Context, e domain.DeadLetterEntry) error
	Get(ctx context.Context, id uuid.UUID) (domain.DeadLetterEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error)
}

type documentRepo interface {
	GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error)
	GetVersion(ctx context.Context, id uuid.UUID) (domain.DocumentVersion, error)
	AttachTask(ctx context.Context, versionID, taskID uuid.UUID) (bool, error)
	MissingVersions(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

type requirementRepo interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	FindCurrentForUpdate(ctx context.Context, taskID uuid.UUID, docType string) (domain.DocumentRequirement, error)
	Save(ctx context.Context, req domain.DocumentRequirement) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type resumer interface {
	Record(ctx context.Context, task domain.PendingTask, event domain.TaskEvent) error
	Resume(ctx context.Context, task domain.PendingTask, event domain.TaskEvent)
}

type notifier interface {
	Notify(ctx context.Context, taskID uuid.UUID) error
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements the ingestion queue: Submit on the webhook side,
// ProcessNext on the consumer side.
type Service struct {
	log          *slog.Logger
	tasks        taskRepo
	events       eventRepo
	queue        queueRepo
	deadLetters  deadLetterRepo
	documents    documentRepo
	requirements requirementRepo
	tx           txManager
	resumer      resumer
	notifier     notifier
	metrics      *metrics.Metrics
	cfg          config.QueueConfig
	clock        func() time.Time
}

// NewService creates a new ingestion service.
func NewService(
	logger *slog.Logger,
	tasks taskRepo,
	events eventRepo,
	queue queueRepo,
	deadLetters deadLetterRepo,
	documents documentRepo,
	requirements requirementRepo,
	tx txManager,
	resumer resumer,
	cfg config.QueueConfig,
) *Service {
	return &Service{
		log:          logger.With("service", "ingestion"),
		tasks:        tasks,
		events:       events,
		queue:        queue,
		deadLetters:  deadLetters,
		documents:    documents,
		requirements: requirements,
		tx:           tx,
		resumer:      resumer,
		cfg:          cfg,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier injects the optional queue wakeup publisher.
func (s *Service) SetNotifier(n notifier) {
	s.notifier = n
}

// SetMetrics injects the optional metrics sink.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) now() time.Time {
	return s.clock()
}

func (s *Service) notify(ctx context.Context, taskID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, taskID); err != nil {
		s.log.WarnContext(ctx, "queue wakeup failed",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
	}
}
