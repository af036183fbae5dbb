// Package task implements the PendingTask repository using PostgreSQL.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const columns = `task_id, instance_id, blocker_type, blocker_key, verb, args,
	expected_cargo_count, received_cargo_count, failed_count, status,
	created_at, expires_at, completed_at, last_error`

// Repo provides PendingTask persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new task repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Create inserts a new task.
func (r *Repo) Create(ctx context.Context, t domain.PendingTask) (domain.PendingTask, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	args := t.Args
	if len(args) == 0 {
		args = []byte(`{}`)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO workflow_pending_tasks (
			task_id, instance_id, blocker_type, blocker_key, verb, args,
			expected_cargo_count, received_cargo_count, failed_count, status,
			created_at, expires_at, completed_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+columns,
		t.ID, t.InstanceID, string(t.BlockerType), t.BlockerKey, t.Verb, postgres.JSONArg(args),
		t.ExpectedCargoCount, t.ReceivedCargoCount, t.FailedCount, string(t.Status),
		t.CreatedAt, t.ExpiresAt, t.CompletedAt, t.LastError,
	)

	created, err := scanTask(row)
	if err != nil {
		return domain.PendingTask{}, postgres.MapError(err, "pending_task", t.ID)
	}
	return created, nil
}

// Save writes counters and status back. The statement only matches
// non-terminal rows, so a terminal task can never be modified through it;
// that case reports domain.ErrTaskTerminal.
func (r *Repo) Save(ctx context.Context, t domain.PendingTask) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, `
		UPDATE workflow_pending_tasks
		SET received_cargo_count = $2,
			failed_count = $3,
			status = $4,
			completed_at = $5,
			last_error = $6
		WHERE task_id = $1
		  AND status IN ('pending', 'partial')`,
		t.ID, t.ReceivedCargoCount, t.FailedCount, string(t.Status), t.CompletedAt, t.LastError,
	)
	if err != nil {
		return postgres.MapError(err, "pending_task", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending_task %s: %w", t.ID, domain.ErrTaskTerminal)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// Get returns a task by ID.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (domain.PendingTask, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	t, err := scanTask(q.QueryRow(ctx, `SELECT `+columns+` FROM workflow_pending_tasks WHERE task_id = $1`, id))
	if err != nil {
		return domain.PendingTask{}, postgres.MapError(err, "pending_task", id)
	}
	return t, nil
}

// GetForUpdate returns a task and locks its row until the surrounding
// transaction ends. Concurrent consumers applying results to the same task
// serialize here, which keeps counter updates from being lost.
func (r *Repo) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.PendingTask, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	t, err := scanTask(q.QueryRow(ctx, `SELECT `+columns+` FROM workflow_pending_tasks WHERE task_id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.PendingTask{}, postgres.MapError(err, "pending_task", id)
	}
	return t, nil
}

// ListOverdue returns live tasks whose deadline passed before now, oldest deadline first.
func (r *Repo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PendingTask, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT `+columns+`
		FROM workflow_pending_tasks
		WHERE status IN ('pending', 'partial')
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue pending_tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListByInstance returns all tasks of a workflow instance, newest first.
func (r *Repo) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.PendingTask, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT `+columns+`
		FROM workflow_pending_tasks
		WHERE instance_id = $1
		ORDER BY created_at DESC, task_id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list pending_tasks by instance: %w", err)
	}
	return collectTasks(rows)
}

// ---------------------------------------------------------------------------
// Mapping helpers
// ---------------------------------------------------------------------------

func scanTask(row pgx.Row) (domain.PendingTask, error) {
	var (
		t           domain.PendingTask
		blockerType string
		status      string
		args        []byte
	)
	err := row.Scan(
		&t.ID, &t.InstanceID, &blockerType, &t.BlockerKey, &t.Verb, &args,
		&t.ExpectedCargoCount, &t.ReceivedCargoCount, &t.FailedCount, &status,
		&t.CreatedAt, &t.ExpiresAt, &t.CompletedAt, &t.LastError,
	)
	if err != nil {
		return domain.PendingTask{}, err
	}
	t.BlockerType = domain.BlockerType(blockerType)
	t.Status = domain.TaskStatus(status)
	t.Args = postgres.RawJSON(args)
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]domain.PendingTask, error) {
	defer rows.Close()

	var tasks []domain.PendingTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending_task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending_tasks: %w", err)
	}
	return tasks, nil
}
