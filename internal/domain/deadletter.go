package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterReason classifies why a queue row was removed from the queue unprocessed.
type DeadLetterReason string

const (
	DeadLetterMaxRetries     DeadLetterReason = "max_retries_exceeded"
	DeadLetterInvalidPayload DeadLetterReason = "invalid_payload"
	DeadLetterUnknownTask    DeadLetterReason = "unknown_task"
)

func (r DeadLetterReason) String() string { return string(r) }

// DeadLetterEntry is a verbatim copy of a queue row plus the reason it failed.
type DeadLetterEntry struct {
	ID             uuid.UUID
	QueueID        uuid.UUID
	TaskID         uuid.UUID
	Status         ResultStatus
	CargoType      *string
	CargoRef       *string
	Error          *string
	Payload        json.RawMessage
	QueuedAt       time.Time
	RetryCount     int
	LastError      *string
	IdempotencyKey string
	Reason         DeadLetterReason
	FailureReason  string
	DeadLetteredAt time.Time
}

// NewDeadLetterEntry copies row into a DLQ entry.
func NewDeadLetterEntry(id uuid.UUID, row TaskResultRow, reason DeadLetterReason, detail string, now time.Time) DeadLetterEntry {
	return DeadLetterEntry{
		ID:             id,
		QueueID:        row.ID,
		TaskID:         row.TaskID,
		Status:         row.Status,
		CargoType:      row.CargoType,
		CargoRef:       row.CargoRef,
		Error:          row.Error,
		Payload:        row.Payload,
		QueuedAt:       row.QueuedAt,
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		IdempotencyKey: row.IdempotencyKey,
		Reason:         reason,
		FailureReason:  detail,
		DeadLetteredAt: now,
	}
}

// ReplayRow rebuilds the original queue row with a fresh retry budget.
func (e DeadLetterEntry) ReplayRow() TaskResultRow {
	return TaskResultRow{
		ID:             e.QueueID,
		TaskID:         e.TaskID,
		Status:         e.Status,
		CargoType:      e.CargoType,
		CargoRef:       e.CargoRef,
		Error:          e.Error,
		Payload:        e.Payload,
		QueuedAt:       e.QueuedAt,
		IdempotencyKey: e.IdempotencyKey,
	}
}

// QueueStats is a point-in-time view of the ingestion queue.
type QueueStats struct {
	Pending     int
	Retrying    int
	OldestAge   time.Duration
	DeadLetters int
}
