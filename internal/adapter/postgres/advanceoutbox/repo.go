// Package advanceoutbox stores the workflow advances owed for terminal tasks.
package advanceoutbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

var columns = []string{
	"task_id", "instance_id", "event_id", "source", "attempts", "last_error", "created_at", "advanced_at",
}

// Repo provides outbox persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new advance outbox repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Add records an owed advance. It is idempotent per task: a second terminal
// write for the same task keeps the first row.
func (r *Repo) Add(ctx context.Context, a domain.PendingAdvance) error {
	sql, args, err := postgres.Builder().
		Insert("workflow_advance_outbox").
		Columns("task_id", "instance_id", "event_id", "source", "created_at").
		Values(a.TaskID, a.InstanceID, a.EventID, a.Source, a.CreatedAt).
		Suffix("ON CONFLICT (task_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert: %w", err)
	}

	if _, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "advance_outbox", a.TaskID)
	}
	return nil
}

// MarkAdvanced stamps the task's advance as delivered. An already stamped
// row is left alone.
func (r *Repo) MarkAdvanced(ctx context.Context, taskID uuid.UUID, at time.Time) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, `
		UPDATE workflow_advance_outbox
		SET advanced_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE task_id = $1 AND advanced_at IS NULL`,
		taskID, at,
	)
	if err != nil {
		return postgres.MapError(err, "advance_outbox", taskID)
	}
	return nil
}

// RecordFailure counts a failed advance attempt.
func (r *Repo) RecordFailure(ctx context.Context, taskID uuid.UUID, lastError string) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, `
		UPDATE workflow_advance_outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE task_id = $1 AND advanced_at IS NULL`,
		taskID, lastError,
	)
	if err != nil {
		return postgres.MapError(err, "advance_outbox", taskID)
	}
	return nil
}

// ListPending returns undelivered advances created before createdBefore
// with fewer than maxAttempts attempts, oldest first.
func (r *Repo) ListPending(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]domain.PendingAdvance, error) {
	sql, args, err := postgres.Builder().
		Select(columns...).
		From("workflow_advance_outbox").
		Where(squirrel.Eq{"advanced_at": nil}).
		Where(squirrel.Lt{"created_at": createdBefore}).
		Where(squirrel.Lt{"attempts": maxAttempts}).
		OrderBy("created_at", "task_id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outbox list: %w", err)
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list advance_outbox: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingAdvance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan advance_outbox: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate advance_outbox: %w", err)
	}
	return out, nil
}

func scanAdvance(row pgx.Row) (domain.PendingAdvance, error) {
	var a domain.PendingAdvance
	err := row.Scan(&a.TaskID, &a.InstanceID, &a.EventID, &a.Source, &a.Attempts, &a.LastError, &a.CreatedAt, &a.AdvancedAt)
	return a, err
}
