package taskqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/taskqueue"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

func newRepo(t *testing.T) (*taskqueue.Repo, *postgres.TxManager, *pgxpool.Pool) {
	t.Helper()
	pool := testhelper.SetupTestDB(t)
	return taskqueue.New(pool), postgres.NewTxManager(pool), pool
}

func buildRow(t *testing.T, taskID uuid.UUID, key string, queuedAt time.Time) domain.TaskResultRow {
	t.Helper()
	row, err := domain.NewTaskResultRow(uuid.New(), domain.ResultBundle{
		TaskID:         taskID,
		Status:         domain.ResultFailed,
		IdempotencyKey: key,
		Items:          []domain.BundleItem{{Status: domain.ResultFailed}},
	}, queuedAt)
	if err != nil {
		t.Fatalf("NewTaskResultRow: %v", err)
	}
	return row
}

// Claim tests need a queue holding only their own rows, so tests in this
// package run sequentially and start from an empty table.
func resetQueue(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), `DELETE FROM task_result_queue`); err != nil {
		t.Fatalf("reset queue: %v", err)
	}
}

func claim(t *testing.T, repo *taskqueue.Repo, ctx context.Context) (domain.TaskResultRow, bool) {
	t.Helper()
	row, err := repo.ClaimNext(ctx, time.Now(), time.Minute)
	if errors.Is(err, domain.ErrQueueEmpty) {
		return domain.TaskResultRow{}, false
	}
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return row, true
}

func TestRepo_Enqueue_Duplicate(t *testing.T) {
	repo, _, pool := newRepo(t)
	resetQueue(t, pool)
	ctx := context.Background()
	taskID := uuid.New()

	inserted, err := repo.Enqueue(ctx, buildRow(t, taskID, "k1", time.Now()))
	if err != nil || !inserted {
		t.Fatalf("first Enqueue: inserted=%v err=%v", inserted, err)
	}

	inserted, err = repo.Enqueue(ctx, buildRow(t, taskID, "k1", time.Now()))
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if inserted {
		t.Error("duplicate (task_id, idempotency_key) inserted twice")
	}

	// Same key on a different task is a different callback.
	inserted, err = repo.Enqueue(ctx, buildRow(t, uuid.New(), "k1", time.Now()))
	if err != nil || !inserted {
		t.Errorf("other task Enqueue: inserted=%v err=%v", inserted, err)
	}

	stats, err := repo.Stats(ctx, time.Now())
	if err != nil || stats.Pending != 2 {
		t.Errorf("Stats: pending=%d err=%v, want 2", stats.Pending, err)
	}
}

func TestRepo_ClaimNext_RequiresTx(t *testing.T) {
	repo, _, _ := newRepo(t)

	if _, err := repo.ClaimNext(context.Background(), time.Now(), 0); err == nil {
		t.Fatal("ClaimNext outside a transaction: expected error")
	}
}

func TestRepo_ClaimNext_SkipsLockedRows(t *testing.T) {
	repo, tm, pool := newRepo(t)
	resetQueue(t, pool)
	ctx := context.Background()
	taskID := uuid.New()

	base := time.Now().Add(-time.Hour)
	for i, key := range []string{"a", "b"} {
		if _, err := repo.Enqueue(ctx, buildRow(t, taskID, key, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Enqueue %s: %v", key, err)
		}
	}

	firstClaimed := make(chan domain.TaskResultRow, 1)
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- tm.RunInTx(ctx, func(ctx context.Context) error {
			row, err := repo.ClaimNext(ctx, time.Now(), time.Minute)
			if err != nil {
				close(firstClaimed)
				return err
			}
			firstClaimed <- row
			<-release
			return nil
		})
	}()

	first, ok := <-firstClaimed
	if !ok {
		t.Fatalf("first consumer: %v", <-done)
	}
	if first.IdempotencyKey != "a" {
		t.Errorf("first claim: got key %q, want oldest %q", first.IdempotencyKey, "a")
	}

	err := tm.RunInTx(ctx, func(ctx context.Context) error {
		row, ok := claim(t, repo, ctx)
		if !ok {
			return errors.New("second consumer claimed nothing")
		}
		if row.ID == first.ID {
			t.Errorf("second consumer observed the locked row %s", row.ID)
		}
		if row.IdempotencyKey != "b" {
			t.Errorf("second claim: got key %q, want %q", row.IdempotencyKey, "b")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second consumer: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first consumer: %v", err)
	}
}

func TestRepo_RequeueAndDelete(t *testing.T) {
	repo, tm, pool := newRepo(t)
	resetQueue(t, pool)
	ctx := context.Background()
	taskID := uuid.New()

	row := buildRow(t, taskID, "retry-me", time.Now().Add(-time.Hour))
	if _, err := repo.Enqueue(ctx, row); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	now := time.Now()
	count, err := repo.Requeue(ctx, row.ID, "db hiccup", now)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if count != 1 {
		t.Errorf("retry_count: got %d, want 1", count)
	}

	// Within the backoff window the row is not claimable.
	_ = tm.RunInTx(ctx, func(ctx context.Context) error {
		if _, ok := claim(t, repo, ctx); ok {
			t.Error("requeued row claimed inside its backoff window")
		}
		return nil
	})

	if err := repo.Delete(ctx, row.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM task_result_queue WHERE id = $1`, row.ID).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("row still present after Delete")
	}
}
