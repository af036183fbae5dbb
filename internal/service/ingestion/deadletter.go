package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// Replay moves a dead-lettered row back onto the queue with a fresh retry
// budget and removes the DLQ entry. A row already queued for the same task
// and idempotency key yields domain.ErrConflict.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (domain.TaskResultRow, error) {
	var row domain.TaskResultRow
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		entry, err := s.deadLetters.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get dead letter: %w", err)
		}

		row = entry.ReplayRow()
		inserted, err := s.queue.Enqueue(ctx, row)
		if err != nil {
			return fmt.Errorf("enqueue replay: %w", err)
		}
		if !inserted {
			return fmt.Errorf("result %q for task %s is already queued: %w", row.IdempotencyKey, row.TaskID, domain.ErrConflict)
		}

		if err := s.deadLetters.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete dead letter: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.TaskResultRow{}, err
	}

	s.log.InfoContext(ctx, "dead letter replayed",
		slog.String("dead_letter_id", id.String()),
		slog.String("queue_id", row.ID.String()),
		slog.String("task_id", row.TaskID.String()),
	)
	s.notify(ctx, row.TaskID)
	return row, nil
}

// ListDeadLetters returns a page of DLQ entries, newest first.
func (s *Service) ListDeadLetters(ctx context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	entries, err := s.deadLetters.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return entries, nil
}

// GetDeadLetter returns one DLQ entry.
func (s *Service) GetDeadLetter(ctx context.Context, id uuid.UUID) (domain.DeadLetterEntry, error) {
	return s.deadLetters.Get(ctx, id)
}

// Stats reports queue depth and DLQ size.
func (s *Service) Stats(ctx context.Context) (domain.QueueStats, error) {
	stats, err := s.queue.Stats(ctx, s.now())
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}
