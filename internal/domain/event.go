package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskEventType names an entry in the permanent task audit log.
type TaskEventType string

const (
	EventResultReceived    TaskEventType = "result_received"
	EventLateResultIgnored TaskEventType = "late_result_ignored"
	EventTaskCompleted     TaskEventType = "task_completed"
	EventTaskFailed        TaskEventType = "task_failed"
	EventTaskExpired       TaskEventType = "task_expired"
	EventTaskCancelled     TaskEventType = "task_cancelled"
	EventAdvanceFailed     TaskEventType = "advance_failed"
)

func (t TaskEventType) String() string { return string(t) }

// TerminalEventType maps a terminal task status to its audit event.
func TerminalEventType(s TaskStatus) (TaskEventType, bool) {
	switch s {
	case TaskCompleted:
		return EventTaskCompleted, true
	case TaskFailed:
		return EventTaskFailed, true
	case TaskExpired:
		return EventTaskExpired, true
	case TaskCancelled:
		return EventTaskCancelled, true
	case TaskPending, TaskPartial:
		return "", false
	}
	return "", false
}

// Event sources.
const (
	EventSourceQueue   = "queue"
	EventSourceAPI     = "api"
	EventSourceSweeper = "sweeper"
)

// TaskEvent is an append-only audit record. Rows are never updated or deleted.
type TaskEvent struct {
	ID             uuid.UUID
	TaskID         uuid.UUID
	EventType      TaskEventType
	ResultStatus   *ResultStatus
	CargoType      *string
	CargoRef       *string
	Error          *string
	Payload        json.RawMessage
	Source         string
	IdempotencyKey *string
	OccurredAt     time.Time
}
