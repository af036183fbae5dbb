// Package taskevent implements the append-only task audit log using PostgreSQL.
package taskevent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const columns = `event_id, task_id, event_type, result_status, cargo_type, cargo_ref,
	error, payload, source, idempotency_key, occurred_at`

// Repo provides task event persistence. There are no update or delete operations.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new task event repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Append inserts an event.
func (r *Repo) Append(ctx context.Context, e domain.TaskEvent) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO workflow_task_events (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		eventArgs(e)...,
	)
	if err != nil {
		return postgres.MapError(err, "task_event", e.ID)
	}
	return nil
}

// AppendReceived inserts a result_received event unless one already exists for
// the same (task_id, idempotency_key). It reports false for such a duplicate.
// The event log outlives queue rows, so this is where a re-sent callback is
// caught after its first delivery was processed and acked.
func (r *Repo) AppendReceived(ctx context.Context, e domain.TaskEvent) (bool, error) {
	if e.EventType != domain.EventResultReceived || e.IdempotencyKey == nil {
		return false, fmt.Errorf("task_event %s: append received needs a result_received event with a key: %w", e.ID, domain.ErrValidation)
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, `
		INSERT INTO workflow_task_events (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (task_id, idempotency_key) WHERE event_type = 'result_received' DO NOTHING`,
		eventArgs(e)...,
	)
	if err != nil {
		return false, postgres.MapError(err, "task_event", e.ID)
	}
	return tag.RowsAffected() == 1, nil
}

// HasReceived reports whether a callback with key was already applied to the task.
func (r *Repo) HasReceived(ctx context.Context, taskID uuid.UUID, key string) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM workflow_task_events
			WHERE task_id = $1 AND idempotency_key = $2 AND event_type = 'result_received')`,
		taskID, key,
	).Scan(&exists)
	if err != nil {
		return false, postgres.MapError(err, "pending_task", taskID)
	}
	return exists, nil
}

// ListByTask returns the audit trail of a task in the order it was written.
func (r *Repo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.TaskEvent, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT `+columns+`
		FROM workflow_task_events
		WHERE task_id = $1
		ORDER BY occurred_at, event_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task_events: %w", err)
	}
	defer rows.Close()

	var events []domain.TaskEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task_event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task_events: %w", err)
	}
	return events, nil
}

func eventArgs(e domain.TaskEvent) []any {
	var resultStatus *string
	if e.ResultStatus != nil {
		s := string(*e.ResultStatus)
		resultStatus = &s
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return []any{
		e.ID, e.TaskID, string(e.EventType), resultStatus, e.CargoType, e.CargoRef,
		e.Error, postgres.JSONArg(payload), e.Source, e.IdempotencyKey, e.OccurredAt,
	}
}

func scanEvent(row pgx.Row) (domain.TaskEvent, error) {
	var (
		e            domain.TaskEvent
		eventType    string
		resultStatus *string
		payload      []byte
	)
	err := row.Scan(
		&e.ID, &e.TaskID, &eventType, &resultStatus, &e.CargoType, &e.CargoRef,
		&e.Error, &payload, &e.Source, &e.IdempotencyKey, &e.OccurredAt,
	)
	if err != nil {
		return domain.TaskEvent{}, err
	}
	e.EventType = domain.TaskEventType(eventType)
	if resultStatus != nil {
		s := domain.ResultStatus(*resultStatus)
		e.ResultStatus = &s
	}
	e.Payload = postgres.RawJSON(payload)
	return e, nil
}
