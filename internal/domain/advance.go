package domain

import (
	"time"

	"github.com/google/uuid"
)

// PendingAdvance records that the workflow engine is owed one advance for a
// task that reached a terminal status. It is written in the transaction that
// writes the terminal event and cleared once TryAdvance succeeds, so a crash
// between commit and the advance leaves it behind for ResumePending.
type PendingAdvance struct {
	TaskID     uuid.UUID
	InstanceID uuid.UUID
	EventID    uuid.UUID
	Source     string
	Attempts   int
	LastError  *string
	CreatedAt  time.Time
	AdvancedAt *time.Time
}

// NewPendingAdvance builds the advance owed for a terminal event.
func NewPendingAdvance(task PendingTask, event TaskEvent) PendingAdvance {
	return PendingAdvance{
		TaskID:     task.ID,
		InstanceID: task.InstanceID,
		EventID:    event.ID,
		Source:     event.Source,
		CreatedAt:  event.OccurredAt,
	}
}
