// Package deadletter implements the dead-letter store for the ingestion queue.
package deadletter

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

var columns = []string{
	"id", "queue_id", "task_id", "status", "cargo_type", "cargo_ref", "error", "payload",
	"queued_at", "retry_count", "last_error", "idempotency_key", "reason", "failure_reason",
	"dead_lettered_at",
}

// Repo provides DLQ persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new dead-letter repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Insert stores an entry.
func (r *Repo) Insert(ctx context.Context, e domain.DeadLetterEntry) error {
	sql, args, err := postgres.Builder().
		Insert("task_result_dlq").
		Columns(columns...).
		Values(
			e.ID, e.QueueID, e.TaskID, string(e.Status), e.CargoType, e.CargoRef, e.Error,
			postgres.JSONArg(e.Payload), e.QueuedAt, e.RetryCount, e.LastError, e.IdempotencyKey,
			string(e.Reason), e.FailureReason, e.DeadLetteredAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build dlq insert: %w", err)
	}

	if _, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "dead_letter", e.ID)
	}
	return nil
}

// Delete removes an entry, typically after it was replayed.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, `DELETE FROM task_result_dlq WHERE id = $1`, id)
	if err != nil {
		return postgres.MapError(err, "dead_letter", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dead_letter %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Get returns an entry by ID.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (domain.DeadLetterEntry, error) {
	sql, args, err := postgres.Builder().
		Select(columns...).
		From("task_result_dlq").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.DeadLetterEntry{}, fmt.Errorf("build dlq get: %w", err)
	}

	e, err := scanEntry(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		return domain.DeadLetterEntry{}, postgres.MapError(err, "dead_letter", id)
	}
	return e, nil
}

// List returns entries newest first.
func (r *Repo) List(ctx context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	f = f.Normalize()

	qb := postgres.Builder().
		Select(columns...).
		From("task_result_dlq").
		OrderBy("dead_lettered_at DESC", "id").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))
	if f.TaskID != nil {
		qb = qb.Where(squirrel.Eq{"task_id": *f.TaskID})
	}
	if f.Reason != nil {
		qb = qb.Where(squirrel.Eq{"reason": string(*f.Reason)})
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build dlq list: %w", err)
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead_letters: %w", err)
	}
	defer rows.Close()

	var entries []domain.DeadLetterEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead_letter: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead_letters: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (domain.DeadLetterEntry, error) {
	var (
		e       domain.DeadLetterEntry
		status  string
		reason  string
		payload []byte
	)
	err := row.Scan(
		&e.ID, &e.QueueID, &e.TaskID, &status, &e.CargoType, &e.CargoRef, &e.Error, &payload,
		&e.QueuedAt, &e.RetryCount, &e.LastError, &e.IdempotencyKey, &reason, &e.FailureReason,
		&e.DeadLetteredAt,
	)
	if err != nil {
		return domain.DeadLetterEntry{}, err
	}
	e.Status = domain.ResultStatus(status)
	e.Reason = domain.DeadLetterReason(reason)
	e.Payload = postgres.RawJSON(payload)
	return e, nil
}
