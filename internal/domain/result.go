package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BundleItem is one result inside a callback bundle.
type BundleItem struct {
	CargoRef string       `json:"cargo_ref,omitempty"`
	DocType  string       `json:"doc_type,omitempty"`
	Status   ResultStatus `json:"status,omitempty"`
	Error    *string      `json:"error,omitempty"`
}

// ResultBundle is the callback payload an external actor posts for a task.
// Single results are sent as a bundle of one.
type ResultBundle struct {
	TaskID         uuid.UUID    `json:"task_id"`
	Status         ResultStatus `json:"status"`
	IdempotencyKey string       `json:"idempotency_key"`
	Items          []BundleItem `json:"items"`
	Error          *string      `json:"error,omitempty"`
}

// ItemStatus returns the item's own status, falling back to the bundle status.
func (b ResultBundle) ItemStatus(i BundleItem) ResultStatus {
	if i.Status != "" {
		return i.Status
	}
	return b.Status
}

// Validate checks the bundle shape. It does not touch storage; task and
// version existence are checked by the ingestion service.
func (b ResultBundle) Validate() error {
	var errs []FieldError
	if b.TaskID == uuid.Nil {
		errs = append(errs, FieldError{Field: "task_id", Message: "required"})
	}
	if !b.Status.IsValid() {
		errs = append(errs, FieldError{Field: "status", Message: "must be completed, failed or expired"})
	}
	if b.IdempotencyKey == "" {
		errs = append(errs, FieldError{Field: "idempotency_key", Message: "required"})
	}
	if len(b.Items) == 0 {
		errs = append(errs, FieldError{Field: "items", Message: "at least one item required"})
	}
	for i, item := range b.Items {
		field := fmt.Sprintf("items[%d]", i)
		status := b.ItemStatus(item)
		if !status.IsValid() {
			errs = append(errs, FieldError{Field: field + ".status", Message: "must be completed, failed or expired"})
			continue
		}
		if item.CargoRef == "" {
			if status == ResultCompleted {
				errs = append(errs, FieldError{Field: field + ".cargo_ref", Message: "required for completed items"})
			}
			continue
		}
		ref, err := ParseCargoRef(item.CargoRef)
		if err != nil {
			errs = append(errs, FieldError{Field: field + ".cargo_ref", Message: err.Error()})
			continue
		}
		if ref.Kind != CargoKindVersion {
			errs = append(errs, FieldError{Field: field + ".cargo_ref", Message: "must use the version:// scheme"})
		}
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// VersionRefs returns the parsed version refs of all items that carry one.
// It assumes Validate has passed.
func (b ResultBundle) VersionRefs() []CargoRef {
	var refs []CargoRef
	for _, item := range b.Items {
		if item.CargoRef == "" {
			continue
		}
		if ref, err := ParseCargoRef(item.CargoRef); err == nil && ref.Kind == CargoKindVersion {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ExpirySweepKey is the idempotency key of the synthetic bundle the expiry
// sweep submits for an overdue task. One sweep bundle per task is ever applied.
const ExpirySweepKey = "expiry-sweep"

// ExpiryBundle builds the synthetic expired bundle for an overdue task: one
// expired item per outstanding slot.
func ExpiryBundle(t PendingTask) ResultBundle {
	n := t.Outstanding()
	if n == 0 {
		n = 1
	}
	msg := "task expired before all results arrived"
	items := make([]BundleItem, n)
	for i := range items {
		items[i] = BundleItem{Status: ResultExpired}
	}
	return ResultBundle{
		TaskID:         t.ID,
		Status:         ResultExpired,
		IdempotencyKey: ExpirySweepKey,
		Items:          items,
		Error:          &msg,
	}
}

// CargoTypeBundle is the cargo_type stored on queue rows that carry a bundle payload.
const CargoTypeBundle = "bundle"

// TaskResultRow is an ephemeral ingestion queue row. It is deleted once processed
// and copied verbatim to the dead-letter store when retries run out.
type TaskResultRow struct {
	ID             uuid.UUID
	TaskID         uuid.UUID
	Status         ResultStatus
	CargoType      *string
	CargoRef       *string
	Error          *string
	Payload        json.RawMessage
	QueuedAt       time.Time
	ProcessedAt    *time.Time
	RetryCount     int
	LastError      *string
	IdempotencyKey string
}

// Bundle decodes the row payload.
func (r TaskResultRow) Bundle() (ResultBundle, error) {
	var b ResultBundle
	if err := json.Unmarshal(r.Payload, &b); err != nil {
		return ResultBundle{}, fmt.Errorf("decode bundle payload: %w", err)
	}
	return b, nil
}

// NewTaskResultRow builds the queue row for a validated bundle.
func NewTaskResultRow(id uuid.UUID, b ResultBundle, now time.Time) (TaskResultRow, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return TaskResultRow{}, fmt.Errorf("encode bundle payload: %w", err)
	}
	cargoType := CargoTypeBundle
	return TaskResultRow{
		ID:             id,
		TaskID:         b.TaskID,
		Status:         b.Status,
		CargoType:      &cargoType,
		Error:          b.Error,
		Payload:        payload,
		QueuedAt:       now,
		IdempotencyKey: b.IdempotencyKey,
	}, nil
}

// SubmitOutcomeKind classifies the result of a webhook submission.
type SubmitOutcomeKind string

const (
	SubmitAccepted  SubmitOutcomeKind = "accepted"
	SubmitDuplicate SubmitOutcomeKind = "duplicate"
	SubmitRejected  SubmitOutcomeKind = "rejected"
)

// SubmitOutcome is returned by the ingestion queue for every submission.
type SubmitOutcome struct {
	Kind SubmitOutcomeKind
	// Reason is client-visible and only set for rejections.
	Reason string
	// Errors carries field-level detail for rejections caused by bundle shape.
	Errors []FieldError
	// QueueID is set when a new row was enqueued.
	QueueID *uuid.UUID
}
