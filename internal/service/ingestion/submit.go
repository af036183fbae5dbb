package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// Submit validates a bundle and enqueues it. Rejections are outcomes, not
// errors; an unknown task is domain.ErrNotFound. Processing failures never
// reach the caller.
func (s *Service) Submit(ctx context.Context, bundle domain.ResultBundle) (domain.SubmitOutcome, error) {
	outcome, err := s.submit(ctx, bundle)
	if err == nil {
		s.metrics.Submission(outcome.Kind)
	}
	return outcome, err
}

func (s *Service) submit(ctx context.Context, bundle domain.ResultBundle) (domain.SubmitOutcome, error) {
	if err := bundle.Validate(); err != nil {
		return rejected(err), nil
	}

	task, err := s.tasks.Get(ctx, bundle.TaskID)
	if err != nil {
		return domain.SubmitOutcome{}, fmt.Errorf("get task: %w", err)
	}

	if task.Status.IsTerminal() {
		s.log.InfoContext(ctx, "result for terminal task accepted without effect",
			slog.String("task_id", task.ID.String()),
			slog.String("status", string(task.Status)),
			slog.String("idempotency_key", bundle.IdempotencyKey),
		)
		return domain.SubmitOutcome{Kind: domain.SubmitAccepted}, nil
	}

	if reason, err := s.unresolvedRefs(ctx, bundle); err != nil {
		return domain.SubmitOutcome{}, err
	} else if reason != "" {
		return domain.SubmitOutcome{Kind: domain.SubmitRejected, Reason: reason}, nil
	}

	seen, err := s.events.HasReceived(ctx, task.ID, bundle.IdempotencyKey)
	if err != nil {
		return domain.SubmitOutcome{}, fmt.Errorf("check received: %w", err)
	}
	if seen {
		return domain.SubmitOutcome{Kind: domain.SubmitDuplicate}, nil
	}

	row, err := domain.NewTaskResultRow(uuid.Must(uuid.NewV7()), bundle, s.now())
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	if len(bundle.Items) == 1 && bundle.Items[0].CargoRef != "" {
		ref := bundle.Items[0].CargoRef
		row.CargoRef = &ref
	}

	inserted, err := s.queue.Enqueue(ctx, row)
	if err != nil {
		return domain.SubmitOutcome{}, fmt.Errorf("enqueue result: %w", err)
	}
	if !inserted {
		return domain.SubmitOutcome{Kind: domain.SubmitDuplicate}, nil
	}

	s.log.InfoContext(ctx, "result enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("queue_id", row.ID.String()),
		slog.String("status", string(bundle.Status)),
		slog.Int("items", len(bundle.Items)),
	)
	s.notify(ctx, task.ID)

	return domain.SubmitOutcome{Kind: domain.SubmitAccepted, QueueID: &row.ID}, nil
}

// unresolvedRefs returns a client-facing reason when any version ref does not exist.
func (s *Service) unresolvedRefs(ctx context.Context, bundle domain.ResultBundle) (string, error) {
	refs := bundle.VersionRefs()
	if len(refs) == 0 {
		return "", nil
	}
	ids := make([]uuid.UUID, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}

	missing, err := s.documents.MissingVersions(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("resolve cargo refs: %w", err)
	}
	if len(missing) == 0 {
		return "", nil
	}

	names := make([]string, len(missing))
	for i, id := range missing {
		names[i] = domain.NewVersionRef(domain.DefaultDocumentNamespace, id).String()
	}
	return "unresolved cargo_ref: " + strings.Join(names, ", "), nil
}

func rejected(err error) domain.SubmitOutcome {
	out := domain.SubmitOutcome{Kind: domain.SubmitRejected, Reason: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		out.Errors = verr.Errors
	}
	return out
}
