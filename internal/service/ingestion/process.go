package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// Row outcomes, used as the result label of the processed-rows metric.
const (
	resultApplied      = "applied"
	resultDuplicate    = "duplicate"
	resultLate         = "late"
	resultRequeued     = "requeued"
	resultDeadLettered = "dead_lettered"
)

var errUnknownTask = errors.New("task does not exist")

type processResult struct {
	outcome  string
	reason   domain.DeadLetterReason
	task     domain.PendingTask
	terminal *domain.TaskEvent
}

// ProcessNext claims and processes one queue row. It reports false when the
// queue had nothing claimable.
//
// The claim, the row's side effects and the ack commit in one transaction.
// Side effects run under a savepoint bounded by ClaimTimeout, so a failing or
// slow row rolls them back and still commits its retry increment or
// dead-letter copy.
func (s *Service) ProcessNext(ctx context.Context) (bool, error) {
	start := time.Now()
	var (
		row domain.TaskResultRow
		res processResult
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		row, err = s.queue.ClaimNext(ctx, s.now(), s.cfg.RetryAfter)
		if err != nil {
			return err
		}
		res, err = s.handle(ctx, row)
		return err
	})
	if errors.Is(err, domain.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("process queue row: %w", err)
	}

	s.metrics.RowProcessed(res.outcome, time.Since(start))
	if res.outcome == resultDeadLettered {
		s.metrics.DeadLettered(res.reason)
	}

	s.log.InfoContext(ctx, "queue row processed",
		slog.String("queue_id", row.ID.String()),
		slog.String("task_id", row.TaskID.String()),
		slog.String("result", res.outcome),
		slog.Int("retry_count", row.RetryCount),
	)

	if res.terminal != nil {
		s.resumer.Resume(ctx, res.task, *res.terminal)
	}
	return true, nil
}

// handle decides the fate of a claimed row inside the claiming transaction.
func (s *Service) handle(ctx context.Context, row domain.TaskResultRow) (processResult, error) {
	bundle, err := row.Bundle()
	if err == nil {
		err = bundle.Validate()
	}
	if err == nil && bundle.TaskID != row.TaskID {
		err = fmt.Errorf("payload task_id %s does not match row task_id %s", bundle.TaskID, row.TaskID)
	}
	if err != nil {
		return s.deadLetter(ctx, row, domain.DeadLetterInvalidPayload, err.Error())
	}

	res, applyErr := s.applyWithTimeout(ctx, row, bundle)

	switch {
	case applyErr == nil:
		if err := s.queue.Delete(ctx, row.ID); err != nil {
			return processResult{}, fmt.Errorf("ack row: %w", err)
		}
		return res, nil
	case errors.Is(applyErr, errUnknownTask):
		return s.deadLetter(ctx, row, domain.DeadLetterUnknownTask, applyErr.Error())
	}

	// The caller is shutting down; the claim rolls back and the row stays queued.
	if ctx.Err() != nil {
		return processResult{}, applyErr
	}

	msg := applyErr.Error()
	if row.RetryCount >= s.cfg.MaxRetries {
		row.RetryCount++
		row.LastError = &msg
		return s.deadLetter(ctx, row, domain.DeadLetterMaxRetries, "retries exhausted: "+msg)
	}

	retries, err := s.queue.Requeue(ctx, row.ID, msg, s.now())
	if err != nil {
		return processResult{}, fmt.Errorf("requeue row: %w", err)
	}
	s.log.WarnContext(ctx, "queue row failed, will retry",
		slog.String("queue_id", row.ID.String()),
		slog.String("task_id", row.TaskID.String()),
		slog.Int("retry_count", retries),
		slog.String("error", msg),
	)
	return processResult{outcome: resultRequeued}, nil
}

// applyWithTimeout runs apply in a savepoint of the claiming transaction. Only
// the savepoint is bounded by ClaimTimeout: the claim's bookkeeping and commit
// run on the caller's context so a slow row is still counted.
func (s *Service) applyWithTimeout(ctx context.Context, row domain.TaskResultRow, bundle domain.ResultBundle) (processResult, error) {
	applyCtx := ctx
	if s.cfg.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, s.cfg.ClaimTimeout)
		defer cancel()
	}

	var res processResult
	err := s.tx.RunInTx(applyCtx, func(ctx context.Context) error {
		var err error
		res, err = s.apply(ctx, row, bundle)
		return err
	})
	if err != nil && applyCtx.Err() != nil && ctx.Err() == nil {
		err = fmt.Errorf("row exceeded claim timeout %s: %w", s.cfg.ClaimTimeout, err)
	}
	return res, err
}

func (s *Service) deadLetter(ctx context.Context, row domain.TaskResultRow, reason domain.DeadLetterReason, detail string) (processResult, error) {
	entry := domain.NewDeadLetterEntry(uuid.Must(uuid.NewV7()), row, reason, detail, s.now())
	if err := s.deadLetters.Insert(ctx, entry); err != nil {
		return processResult{}, fmt.Errorf("insert dead letter: %w", err)
	}
	if err := s.queue.Delete(ctx, row.ID); err != nil {
		return processResult{}, fmt.Errorf("delete dead-lettered row: %w", err)
	}

	s.log.ErrorContext(ctx, "queue row dead-lettered",
		slog.String("queue_id", row.ID.String()),
		slog.String("task_id", row.TaskID.String()),
		slog.String("dead_letter_id", entry.ID.String()),
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)
	return processResult{outcome: resultDeadLettered, reason: reason}, nil
}

// apply runs the row's side effects. Any error rolls all of them back.
func (s *Service) apply(ctx context.Context, row domain.TaskResultRow, bundle domain.ResultBundle) (processResult, error) {
	now := s.now()

	task, err := s.tasks.GetForUpdate(ctx, bundle.TaskID)
	if errors.Is(err, domain.ErrNotFound) {
		return processResult{}, fmt.Errorf("%w: %s", errUnknownTask, bundle.TaskID)
	}
	if err != nil {
		return processResult{}, fmt.Errorf("lock task: %w", err)
	}

	source := domain.EventSourceQueue
	if bundle.IdempotencyKey == domain.ExpirySweepKey {
		source = domain.EventSourceSweeper
	}
	key := bundle.IdempotencyKey
	status := bundle.Status
	event := domain.TaskEvent{
		ID:             uuid.Must(uuid.NewV7()),
		TaskID:         task.ID,
		ResultStatus:   &status,
		CargoType:      row.CargoType,
		CargoRef:       row.CargoRef,
		Error:          bundle.Error,
		Payload:        row.Payload,
		Source:         source,
		IdempotencyKey: &key,
		OccurredAt:     now,
	}

	if task.Status.IsTerminal() {
		event.EventType = domain.EventLateResultIgnored
		if err := s.events.Append(ctx, event); err != nil {
			return processResult{}, fmt.Errorf("record late result: %w", err)
		}
		return processResult{outcome: resultLate}, nil
	}

	event.EventType = domain.EventResultReceived
	appended, err := s.events.AppendReceived(ctx, event)
	if err != nil {
		return processResult{}, fmt.Errorf("record result: %w", err)
	}
	if !appended {
		return processResult{outcome: resultDuplicate}, nil
	}

	for i, item := range bundle.Items {
		itemStatus := bundle.ItemStatus(item)
		hasCargo := item.CargoRef != ""
		if itemStatus == domain.ResultCompleted && hasCargo {
			if err := s.linkVersion(ctx, task.ID, item.CargoRef, now); err != nil {
				return processResult{}, fmt.Errorf("item %d: %w", i, err)
			}
		}

		errMsg := item.Error
		if errMsg == nil {
			errMsg = bundle.Error
		}
		if task.ApplyItem(itemStatus, hasCargo, errMsg) == domain.EffectIgnored {
			s.log.WarnContext(ctx, "completed item without cargo ref ignored",
				slog.String("task_id", task.ID.String()),
				slog.Int("item", i),
			)
		}
	}

	became := task.Settle(task.DeriveStatus(), bundle.Status, now)
	if err := s.tasks.Save(ctx, task); err != nil {
		return processResult{}, fmt.Errorf("save task: %w", err)
	}

	res := processResult{outcome: resultApplied, task: task}
	if !became {
		return res, nil
	}

	evType, _ := domain.TerminalEventType(task.Status)
	terminal := domain.TaskEvent{
		ID:         uuid.Must(uuid.NewV7()),
		TaskID:     task.ID,
		EventType:  evType,
		Error:      task.LastError,
		Source:     source,
		OccurredAt: now,
	}
	if err := s.events.Append(ctx, terminal); err != nil {
		return processResult{}, fmt.Errorf("record terminal event: %w", err)
	}
	if err := s.resumer.Record(ctx, task, terminal); err != nil {
		return processResult{}, err
	}
	res.terminal = &terminal
	return res, nil
}

// linkVersion attaches the task to the returned version and moves the
// matching requirement to received.
func (s *Service) linkVersion(ctx context.Context, taskID uuid.UUID, cargoRef string, now time.Time) error {
	ref, err := domain.ParseCargoRef(cargoRef)
	if err != nil {
		return err
	}

	version, err := s.documents.GetVersion(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("get version %s: %w", ref.ID, err)
	}

	attached, err := s.documents.AttachTask(ctx, version.ID, taskID)
	if err != nil {
		return fmt.Errorf("attach task to version: %w", err)
	}
	if !attached {
		s.log.WarnContext(ctx, "version already linked to another task",
			slog.String("version_id", version.ID.String()),
			slog.String("task_id", taskID.String()),
		)
	}

	doc, err := s.documents.GetDocument(ctx, version.DocumentID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	var req domain.DocumentRequirement
	if doc.RequirementID != nil {
		req, err = s.requirements.GetForUpdate(ctx, *doc.RequirementID)
	} else {
		req, err = s.requirements.FindCurrentForUpdate(ctx, taskID, doc.DocumentType)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock requirement: %w", err)
	}

	if !req.MarkReceived(doc.ID, version.ID, now) {
		return nil
	}
	if err := s.requirements.Save(ctx, req); err != nil {
		return fmt.Errorf("save requirement: %w", err)
	}
	return nil
}
