package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the overall state of an outbound PendingTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskPartial   TaskStatus = "partial"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskExpired   TaskStatus = "expired"
	TaskCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) String() string { return string(s) }

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskPartial, TaskCompleted, TaskFailed, TaskExpired, TaskCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further queue item may change the task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskExpired, TaskCancelled:
		return true
	}
	return false
}

// ResultStatus is the status an external actor reports for a bundle or item.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultExpired   ResultStatus = "expired"
)

func (s ResultStatus) String() string { return string(s) }

func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultCompleted, ResultFailed, ResultExpired:
		return true
	}
	return false
}

// BlockerType names what a task unblocks in the workflow.
type BlockerType string

const (
	BlockerDocument    BlockerType = "document"
	BlockerDocumentSet BlockerType = "document_set"
	BlockerScreening   BlockerType = "screening"
	BlockerExternal    BlockerType = "external"
)

func (b BlockerType) IsValid() bool {
	switch b {
	case BlockerDocument, BlockerDocumentSet, BlockerScreening, BlockerExternal:
		return true
	}
	return false
}

// PendingTask tracks one unit of work dispatched to an external actor.
type PendingTask struct {
	ID                 uuid.UUID
	InstanceID         uuid.UUID
	BlockerType        BlockerType
	BlockerKey         *string
	Verb               string
	Args               json.RawMessage
	ExpectedCargoCount int
	ReceivedCargoCount int
	FailedCount        int
	Status             TaskStatus
	CreatedAt          time.Time
	ExpiresAt          *time.Time
	CompletedAt        *time.Time
	LastError          *string
}

// ItemEffect describes what one bundle item did to the counters.
type ItemEffect string

const (
	EffectReceived ItemEffect = "received"
	EffectFailed   ItemEffect = "failed"
	// EffectIgnored is a completed item without a cargo ref: logged, never counted.
	EffectIgnored ItemEffect = "ignored"
)

// ApplyItem updates the counters for one bundle item. It is commutative: the
// final counters depend only on the multiset of items applied.
// Callers must not apply items to a terminal task.
func (t *PendingTask) ApplyItem(status ResultStatus, hasCargo bool, errMsg *string) ItemEffect {
	switch status {
	case ResultCompleted:
		if !hasCargo {
			return EffectIgnored
		}
		t.ReceivedCargoCount++
		return EffectReceived
	case ResultFailed, ResultExpired:
		t.FailedCount++
		if errMsg != nil && *errMsg != "" {
			t.LastError = errMsg
		}
		return EffectFailed
	}
	return EffectIgnored
}

// DeriveStatus computes the overall status from the counters, in priority order:
// completed, failed, partial, pending.
func (t PendingTask) DeriveStatus() TaskStatus {
	switch {
	case t.ReceivedCargoCount >= t.ExpectedCargoCount:
		return TaskCompleted
	case t.FailedCount > 0 && t.ReceivedCargoCount+t.FailedCount >= t.ExpectedCargoCount:
		return TaskFailed
	case t.ReceivedCargoCount > 0:
		return TaskPartial
	default:
		return TaskPending
	}
}

// Settle persists a derived status on the task. It returns true when the task
// became terminal with this call; CompletedAt is stamped exactly once, then.
// A failure caused by expiry is recorded as expired.
func (t *PendingTask) Settle(derived TaskStatus, cause ResultStatus, now time.Time) bool {
	if t.Status.IsTerminal() {
		return false
	}
	if derived == TaskFailed && cause == ResultExpired {
		derived = TaskExpired
	}
	t.Status = derived
	if !derived.IsTerminal() {
		return false
	}
	if t.CompletedAt == nil {
		at := now
		t.CompletedAt = &at
	}
	return true
}

// Cancel stops a non-terminal task.
func (t *PendingTask) Cancel(reason string, now time.Time) error {
	if t.Status.IsTerminal() {
		return &TransitionError{Entity: "pending_task", From: string(t.Status), To: string(TaskCancelled)}
	}
	t.Status = TaskCancelled
	if reason != "" {
		t.LastError = &reason
	}
	at := now
	t.CompletedAt = &at
	return nil
}

// Outstanding is the number of expected results not yet accounted for.
func (t PendingTask) Outstanding() int {
	n := t.ExpectedCargoCount - t.ReceivedCargoCount - t.FailedCount
	if n < 0 {
		return 0
	}
	return n
}

// IsOverdue reports whether a live task has passed its deadline.
func (t PendingTask) IsOverdue(now time.Time) bool {
	return !t.Status.IsTerminal() && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
