package ingestion

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// memState is an in-memory stand-in for the Postgres repos. fakeTx snapshots
// it on every RunInTx and restores the snapshot when the callback fails,
// which models both the outer transaction and its savepoints.
type memState struct {
	tasks    map[uuid.UUID]domain.PendingTask
	events   []domain.TaskEvent
	queue    map[uuid.UUID]domain.TaskResultRow
	dlq      map[uuid.UUID]domain.DeadLetterEntry
	docs     map[uuid.UUID]domain.Document
	versions map[uuid.UUID]domain.DocumentVersion
	reqs     map[uuid.UUID]domain.DocumentRequirement
	owed     map[uuid.UUID]domain.PendingAdvance

	saveTaskErr error
	// blockSave makes task saves wait for the context, like a stuck statement.
	blockSave bool
}

func newMemState() *memState {
	return &memState{
		tasks:    map[uuid.UUID]domain.PendingTask{},
		queue:    map[uuid.UUID]domain.TaskResultRow{},
		dlq:      map[uuid.UUID]domain.DeadLetterEntry{},
		docs:     map[uuid.UUID]domain.Document{},
		versions: map[uuid.UUID]domain.DocumentVersion{},
		reqs:     map[uuid.UUID]domain.DocumentRequirement{},
		owed:     map[uuid.UUID]domain.PendingAdvance{},
	}
}

func (s *memState) snapshot() memState {
	return memState{
		tasks:       maps.Clone(s.tasks),
		events:      slices.Clone(s.events),
		queue:       maps.Clone(s.queue),
		dlq:         maps.Clone(s.dlq),
		docs:        maps.Clone(s.docs),
		versions:    maps.Clone(s.versions),
		reqs:        maps.Clone(s.reqs),
		owed:        maps.Clone(s.owed),
		saveTaskErr: s.saveTaskErr,
		blockSave:   s.blockSave,
	}
}

func (s *memState) eventsOf(taskID uuid.UUID, typ domain.TaskEventType) []domain.TaskEvent {
	var out []domain.TaskEvent
	for _, e := range s.events {
		if e.TaskID == taskID && e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeTx struct{ st *memState }

func (f fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := f.st.snapshot()
	err := fn(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		*f.st = snap
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------

type fakeTasks struct{ st *memState }

func (f fakeTasks) Get(_ context.Context, id uuid.UUID) (domain.PendingTask, error) {
	t, ok := f.st.tasks[id]
	if !ok {
		return domain.PendingTask{}, domain.ErrNotFound
	}
	return t, nil
}

func (f fakeTasks) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.PendingTask, error) {
	return f.Get(ctx, id)
}

func (f fakeTasks) Save(ctx context.Context, t domain.PendingTask) error {
	if f.st.blockSave {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.st.saveTaskErr != nil {
		return f.st.saveTaskErr
	}
	cur, ok := f.st.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status.IsTerminal() {
		return domain.ErrTaskTerminal
	}
	f.st.tasks[t.ID] = t
	return nil
}

type fakeEvents struct{ st *memState }

func (f fakeEvents) Append(_ context.Context, e domain.TaskEvent) error {
	f.st.events = append(f.st.events, e)
	return nil
}

func (f fakeEvents) AppendReceived(ctx context.Context, e domain.TaskEvent) (bool, error) {
	seen, _ := f.HasReceived(ctx, e.TaskID, *e.IdempotencyKey)
	if seen {
		return false, nil
	}
	f.st.events = append(f.st.events, e)
	return true, nil
}

func (f fakeEvents) HasReceived(_ context.Context, taskID uuid.UUID, key string) (bool, error) {
	for _, e := range f.st.events {
		if e.TaskID == taskID && e.EventType == domain.EventResultReceived && e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}

type fakeQueue struct{ st *memState }

func (f fakeQueue) Enqueue(_ context.Context, row domain.TaskResultRow) (bool, error) {
	for _, r := range f.st.queue {
		if r.TaskID == row.TaskID && r.IdempotencyKey == row.IdempotencyKey {
			return false, nil
		}
	}
	f.st.queue[row.ID] = row
	return true, nil
}

func (f fakeQueue) ClaimNext(_ context.Context, now time.Time, retryAfter time.Duration) (domain.TaskResultRow, error) {
	rows := slices.Collect(maps.Values(f.st.queue))
	sort.Slice(rows, func(i, j int) bool { return rows[i].QueuedAt.Before(rows[j].QueuedAt) })
	for _, r := range rows {
		if r.ProcessedAt == nil || !r.ProcessedAt.After(now.Add(-retryAfter)) {
			return r, nil
		}
	}
	return domain.TaskResultRow{}, domain.ErrQueueEmpty
}

func (f fakeQueue) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.st.queue, id)
	return nil
}

func (f fakeQueue) Requeue(_ context.Context, id uuid.UUID, lastError string, now time.Time) (int, error) {
	r, ok := f.st.queue[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	r.RetryCount++
	r.LastError = &lastError
	r.ProcessedAt = &now
	f.st.queue[id] = r
	return r.RetryCount, nil
}

func (f fakeQueue) Stats(_ context.Context, now time.Time) (domain.QueueStats, error) {
	var stats domain.QueueStats
	for _, r := range f.st.queue {
		stats.Pending++
		if r.RetryCount > 0 {
			stats.Retrying++
		}
		if age := now.Sub(r.QueuedAt); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}
	stats.DeadLetters = len(f.st.dlq)
	return stats, nil
}

type fakeDLQ struct{ st *memState }

func (f fakeDLQ) Insert(_ context.Context, e domain.DeadLetterEntry) error {
	f.st.dlq[e.ID] = e
	return nil
}

func (f fakeDLQ) Get(_ context.Context, id uuid.UUID) (domain.DeadLetterEntry, error) {
	e, ok := f.st.dlq[id]
	if !ok {
		return domain.DeadLetterEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (f fakeDLQ) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.st.dlq[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.st.dlq, id)
	return nil
}

func (f fakeDLQ) List(_ context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	var out []domain.DeadLetterEntry
	for _, e := range f.st.dlq {
		if filter.TaskID != nil && e.TaskID != *filter.TaskID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type fakeDocs struct{ st *memState }

func (f fakeDocs) GetDocument(_ context.Context, id uuid.UUID) (domain.Document, error) {
	d, ok := f.st.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	return d, nil
}

func (f fakeDocs) GetVersion(_ context.Context, id uuid.UUID) (domain.DocumentVersion, error) {
	v, ok := f.st.versions[id]
	if !ok {
		return domain.DocumentVersion{}, domain.ErrNotFound
	}
	return v, nil
}

func (f fakeDocs) AttachTask(_ context.Context, versionID, taskID uuid.UUID) (bool, error) {
	v, ok := f.st.versions[versionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if v.TaskID != nil {
		return false, nil
	}
	v.TaskID = &taskID
	f.st.versions[versionID] = v
	return true, nil
}

func (f fakeDocs) MissingVersions(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := f.st.versions[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type fakeReqs struct{ st *memState }

func (f fakeReqs) GetForUpdate(_ context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	r, ok := f.st.reqs[id]
	if !ok {
		return domain.DocumentRequirement{}, domain.ErrNotFound
	}
	return r, nil
}

func (f fakeReqs) FindCurrentForUpdate(_ context.Context, taskID uuid.UUID, docType string) (domain.DocumentRequirement, error) {
	for _, r := range f.st.reqs {
		if r.CurrentTaskID != nil && *r.CurrentTaskID == taskID && r.DocType == docType {
			return r, nil
		}
	}
	return domain.DocumentRequirement{}, domain.ErrNotFound
}

func (f fakeReqs) Save(_ context.Context, r domain.DocumentRequirement) error {
	if _, ok := f.st.reqs[r.ID]; !ok {
		return domain.ErrNotFound
	}
	f.st.reqs[r.ID] = r
	return nil
}

// ---------------------------------------------------------------------------

// resumerSpy records owed advances into memState, so they roll back with
// the transaction that wrote them.
type resumerSpy struct {
	st     *memState
	mu     sync.Mutex
	events []domain.TaskEvent
}

func (r *resumerSpy) Record(_ context.Context, task domain.PendingTask, event domain.TaskEvent) error {
	if _, ok := r.st.owed[task.ID]; !ok {
		r.st.owed[task.ID] = domain.NewPendingAdvance(task, event)
	}
	return nil
}

func (r *resumerSpy) Resume(_ context.Context, _ domain.PendingTask, event domain.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *resumerSpy) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type notifierSpy struct {
	taskIDs []uuid.UUID
	err     error
}

func (n *notifierSpy) Notify(_ context.Context, taskID uuid.UUID) error {
	n.taskIDs = append(n.taskIDs, taskID)
	return n.err
}

var errStorage = errors.New("storage unavailable")
