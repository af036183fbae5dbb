// Package taskqueue implements the task result ingestion queue using PostgreSQL.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const columns = `id, task_id, status, cargo_type, cargo_ref, error, payload,
	queued_at, processed_at, retry_count, last_error, idempotency_key`

// Repo provides queue persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new queue repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Enqueue inserts row unless one with the same (task_id, idempotency_key) is
// already queued. It reports false for such a duplicate.
func (r *Repo) Enqueue(ctx context.Context, row domain.TaskResultRow) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, `
		INSERT INTO task_result_queue (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id, idempotency_key) DO NOTHING`,
		row.ID, row.TaskID, string(row.Status), row.CargoType, row.CargoRef, row.Error,
		postgres.JSONArg(row.Payload), row.QueuedAt, row.ProcessedAt, row.RetryCount,
		row.LastError, row.IdempotencyKey,
	)
	if err != nil {
		return false, postgres.MapError(err, "task_result", row.ID)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNext locks the oldest claimable row and returns it.
//
// The claim is FOR UPDATE SKIP LOCKED, so two consumers never observe the
// same row and a consumer never waits on another's lock. The lock is the
// in-progress marker and lasts until the caller's transaction ends; ctx must
// therefore carry a transaction. A requeued row becomes claimable again once
// retryAfter has passed since its last attempt.
func (r *Repo) ClaimNext(ctx context.Context, now time.Time, retryAfter time.Duration) (domain.TaskResultRow, error) {
	if !postgres.InTx(ctx) {
		return domain.TaskResultRow{}, errors.New("taskqueue.ClaimNext: must run inside a transaction")
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row, err := scanRow(q.QueryRow(ctx, `
		SELECT `+columns+`
		FROM task_result_queue
		WHERE processed_at IS NULL OR processed_at <= $1
		ORDER BY queued_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, now.Add(-retryAfter)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TaskResultRow{}, domain.ErrQueueEmpty
	}
	if err != nil {
		return domain.TaskResultRow{}, fmt.Errorf("taskqueue.ClaimNext: %w", err)
	}
	return row, nil
}

// Delete removes a processed row.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, `DELETE FROM task_result_queue WHERE id = $1`, id); err != nil {
		return postgres.MapError(err, "task_result", id)
	}
	return nil
}

// Requeue records a failed attempt. processed_at holds the time of the last
// attempt and gates the next claim.
func (r *Repo) Requeue(ctx context.Context, id uuid.UUID, lastError string, now time.Time) (int, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var retryCount int
	err := q.QueryRow(ctx, `
		UPDATE task_result_queue
		SET retry_count = retry_count + 1,
			last_error = $2,
			processed_at = $3
		WHERE id = $1
		RETURNING retry_count`, id, lastError, now,
	).Scan(&retryCount)
	if err != nil {
		return 0, postgres.MapError(err, "task_result", id)
	}
	return retryCount, nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// Stats returns queue depth figures.
func (r *Repo) Stats(ctx context.Context, now time.Time) (domain.QueueStats, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var (
		stats  domain.QueueStats
		oldest *time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE retry_count = 0),
			count(*) FILTER (WHERE retry_count > 0),
			min(queued_at),
			(SELECT count(*) FROM task_result_dlq)
		FROM task_result_queue`,
	).Scan(&stats.Pending, &stats.Retrying, &oldest, &stats.DeadLetters)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("taskqueue.Stats: %w", err)
	}
	if oldest != nil {
		stats.OldestAge = now.Sub(*oldest)
	}
	return stats, nil
}

func scanRow(row pgx.Row) (domain.TaskResultRow, error) {
	var (
		r       domain.TaskResultRow
		status  string
		payload []byte
	)
	err := row.Scan(
		&r.ID, &r.TaskID, &status, &r.CargoType, &r.CargoRef, &r.Error, &payload,
		&r.QueuedAt, &r.ProcessedAt, &r.RetryCount, &r.LastError, &r.IdempotencyKey,
	)
	if err != nil {
		return domain.TaskResultRow{}, err
	}
	r.Status = domain.ResultStatus(status)
	r.Payload = postgres.RawJSON(payload)
	return r, nil
}
