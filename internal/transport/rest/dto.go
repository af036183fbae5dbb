package rest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type taskResponse struct {
	ID                 uuid.UUID          `json:"id"`
	InstanceID         uuid.UUID          `json:"instance_id"`
	BlockerType        domain.BlockerType `json:"blocker_type"`
	BlockerKey         *string            `json:"blocker_key,omitempty"`
	Verb               string             `json:"verb"`
	Args               json.RawMessage    `json:"args,omitempty"`
	ExpectedCargoCount int                `json:"expected_cargo_count"`
	ReceivedCargoCount int                `json:"received_cargo_count"`
	FailedCount        int                `json:"failed_count"`
	Status             domain.TaskStatus  `json:"status"`
	CreatedAt          time.Time          `json:"created_at"`
	ExpiresAt          *time.Time         `json:"expires_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	LastError          *string            `json:"last_error,omitempty"`
}

func toTaskResponse(t domain.PendingTask) taskResponse {
	return taskResponse{
		ID:                 t.ID,
		InstanceID:         t.InstanceID,
		BlockerType:        t.BlockerType,
		BlockerKey:         t.BlockerKey,
		Verb:               t.Verb,
		Args:               t.Args,
		ExpectedCargoCount: t.ExpectedCargoCount,
		ReceivedCargoCount: t.ReceivedCargoCount,
		FailedCount:        t.FailedCount,
		Status:             t.Status,
		CreatedAt:          t.CreatedAt,
		ExpiresAt:          t.ExpiresAt,
		CompletedAt:        t.CompletedAt,
		LastError:          t.LastError,
	}
}

type taskEventResponse struct {
	ID             uuid.UUID            `json:"id"`
	EventType      domain.TaskEventType `json:"event_type"`
	ResultStatus   *domain.ResultStatus `json:"result_status,omitempty"`
	CargoType      *string              `json:"cargo_type,omitempty"`
	CargoRef       *string              `json:"cargo_ref,omitempty"`
	Error          *string              `json:"error,omitempty"`
	Payload        json.RawMessage      `json:"payload,omitempty"`
	Source         string               `json:"source"`
	IdempotencyKey *string              `json:"idempotency_key,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

func toTaskEventResponse(e domain.TaskEvent) taskEventResponse {
	return taskEventResponse{
		ID:             e.ID,
		EventType:      e.EventType,
		ResultStatus:   e.ResultStatus,
		CargoType:      e.CargoType,
		CargoRef:       e.CargoRef,
		Error:          e.Error,
		Payload:        e.Payload,
		Source:         e.Source,
		IdempotencyKey: e.IdempotencyKey,
		OccurredAt:     e.OccurredAt,
	}
}

type documentResponse struct {
	ID               uuid.UUID  `json:"id"`
	DocumentType     string     `json:"document_type"`
	SubjectEntityID  *uuid.UUID `json:"subject_entity_id,omitempty"`
	SubjectCBUID     *uuid.UUID `json:"subject_cbu_id,omitempty"`
	ParentDocumentID *uuid.UUID `json:"parent_document_id,omitempty"`
	RequirementID    *uuid.UUID `json:"requirement_id,omitempty"`
	Source           string     `json:"source"`
	SourceRef        *string    `json:"source_ref,omitempty"`
	CreatedBy        *string    `json:"created_by,omitempty"`
	CargoRef         string     `json:"cargo_ref"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toDocumentResponse(d domain.Document) documentResponse {
	return documentResponse{
		ID:               d.ID,
		DocumentType:     d.DocumentType,
		SubjectEntityID:  d.SubjectEntityID,
		SubjectCBUID:     d.SubjectCBUID,
		ParentDocumentID: d.ParentDocumentID,
		RequirementID:    d.RequirementID,
		Source:           d.Source,
		SourceRef:        d.SourceRef,
		CreatedBy:        d.CreatedBy,
		CargoRef:         d.CargoRef().String(),
		CreatedAt:        d.CreatedAt,
	}
}

// rejectionResponse is the submitter-facing view of a rejection code.
type rejectionResponse struct {
	Code          string  `json:"code"`
	Reason        *string `json:"reason,omitempty"`
	ClientMessage string  `json:"client_message,omitempty"`
	NextAction    string  `json:"next_action,omitempty"`
}

type codeLookup func(code string) (domain.RejectionCode, bool)

func toRejectionResponse(code *string, reason *string, lookup codeLookup) *rejectionResponse {
	if code == nil {
		return nil
	}
	resp := &rejectionResponse{Code: *code, Reason: reason}
	if rc, ok := lookup(*code); ok {
		resp.ClientMessage = rc.ClientMessage
		resp.NextAction = rc.NextAction
	}
	return resp
}

type versionResponse struct {
	ID                 uuid.UUID                 `json:"id"`
	DocumentID         uuid.UUID                 `json:"document_id"`
	VersionNo          int                       `json:"version_no"`
	ContentType        string                    `json:"content_type,omitempty"`
	StructuredData     json.RawMessage           `json:"structured_data,omitempty"`
	BlobRef            *string                   `json:"blob_ref,omitempty"`
	TaskID             *uuid.UUID                `json:"task_id,omitempty"`
	VerificationStatus domain.VerificationStatus `json:"verification_status"`
	Rejection          *rejectionResponse        `json:"rejection,omitempty"`
	VerifiedBy         *string                   `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time                `json:"verified_at,omitempty"`
	ValidFrom          *time.Time                `json:"valid_from,omitempty"`
	ValidTo            *time.Time                `json:"valid_to,omitempty"`
	QualityScore       *float64                  `json:"quality_score,omitempty"`
	CargoRef           string                    `json:"cargo_ref"`
	CreatedAt          time.Time                 `json:"created_at"`
}

func toVersionResponse(v domain.DocumentVersion, lookup codeLookup) versionResponse {
	return versionResponse{
		ID:                 v.ID,
		DocumentID:         v.DocumentID,
		VersionNo:          v.VersionNo,
		ContentType:        v.ContentType,
		StructuredData:     v.StructuredData,
		BlobRef:            v.BlobRef,
		TaskID:             v.TaskID,
		VerificationStatus: v.VerificationStatus,
		Rejection:          toRejectionResponse(v.RejectionCode, v.RejectionReason, lookup),
		VerifiedBy:         v.VerifiedBy,
		VerifiedAt:         v.VerifiedAt,
		ValidFrom:          v.ValidFrom,
		ValidTo:            v.ValidTo,
		QualityScore:       v.QualityScore,
		CargoRef:           v.CargoRef().String(),
		CreatedAt:          v.CreatedAt,
	}
}

type requirementResponse struct {
	ID                 uuid.UUID                `json:"id"`
	WorkflowInstanceID *uuid.UUID               `json:"workflow_instance_id,omitempty"`
	SubjectEntityID    *uuid.UUID               `json:"subject_entity_id,omitempty"`
	SubjectCBUID       *uuid.UUID               `json:"subject_cbu_id,omitempty"`
	DocType            string                   `json:"doc_type"`
	RequiredState      domain.RequirementStatus `json:"required_state"`
	Status             domain.RequirementStatus `json:"status"`
	AttemptCount       int                      `json:"attempt_count"`
	MaxAttempts        int                      `json:"max_attempts"`
	Stalled            bool                     `json:"stalled"`
	CurrentTaskID      *uuid.UUID               `json:"current_task_id,omitempty"`
	LatestDocumentID   *uuid.UUID               `json:"latest_document_id,omitempty"`
	LatestVersionID    *uuid.UUID               `json:"latest_version_id,omitempty"`
	LastRejection      *rejectionResponse       `json:"last_rejection,omitempty"`
	DueDate            *time.Time               `json:"due_date,omitempty"`
	SatisfiedAt        *time.Time               `json:"satisfied_at,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

func toRequirementResponse(req domain.DocumentRequirement, lookup codeLookup) requirementResponse {
	return requirementResponse{
		ID:                 req.ID,
		WorkflowInstanceID: req.WorkflowInstanceID,
		SubjectEntityID:    req.SubjectEntityID,
		SubjectCBUID:       req.SubjectCBUID,
		DocType:            req.DocType,
		RequiredState:      req.RequiredState,
		Status:             req.Status,
		AttemptCount:       req.AttemptCount,
		MaxAttempts:        req.MaxAttempts,
		Stalled:            req.IsStalled(),
		CurrentTaskID:      req.CurrentTaskID,
		LatestDocumentID:   req.LatestDocumentID,
		LatestVersionID:    req.LatestVersionID,
		LastRejection:      toRejectionResponse(req.LastRejectionCode, req.LastRejectionReason, lookup),
		DueDate:            req.DueDate,
		SatisfiedAt:        req.SatisfiedAt,
		CreatedAt:          req.CreatedAt,
		UpdatedAt:          req.UpdatedAt,
	}
}

// rejectionCodeResponse is the operator view and includes ops_message.
type rejectionCodeResponse struct {
	Code          string `json:"code"`
	Category      string `json:"category"`
	ClientMessage string `json:"client_message"`
	OpsMessage    string `json:"ops_message"`
	NextAction    string `json:"next_action"`
	IsRetryable   bool   `json:"is_retryable"`
}

func toRejectionCodeResponse(c domain.RejectionCode) rejectionCodeResponse {
	return rejectionCodeResponse{
		Code:          c.Code,
		Category:      c.Category,
		ClientMessage: c.ClientMessage,
		OpsMessage:    c.OpsMessage,
		NextAction:    c.NextAction,
		IsRetryable:   c.IsRetryable,
	}
}

type deadLetterResponse struct {
	ID             uuid.UUID               `json:"id"`
	QueueID        uuid.UUID               `json:"queue_id"`
	TaskID         uuid.UUID               `json:"task_id"`
	Status         domain.ResultStatus     `json:"status"`
	CargoType      *string                 `json:"cargo_type,omitempty"`
	CargoRef       *string                 `json:"cargo_ref,omitempty"`
	Error          *string                 `json:"error,omitempty"`
	Payload        json.RawMessage         `json:"payload,omitempty"`
	QueuedAt       time.Time               `json:"queued_at"`
	RetryCount     int                     `json:"retry_count"`
	LastError      *string                 `json:"last_error,omitempty"`
	IdempotencyKey string                  `json:"idempotency_key"`
	Reason         domain.DeadLetterReason `json:"reason"`
	FailureReason  string                  `json:"failure_reason"`
	DeadLetteredAt time.Time               `json:"dead_lettered_at"`
}

func toDeadLetterResponse(e domain.DeadLetterEntry) deadLetterResponse {
	return deadLetterResponse{
		ID:             e.ID,
		QueueID:        e.QueueID,
		TaskID:         e.TaskID,
		Status:         e.Status,
		CargoType:      e.CargoType,
		CargoRef:       e.CargoRef,
		Error:          e.Error,
		Payload:        e.Payload,
		QueuedAt:       e.QueuedAt,
		RetryCount:     e.RetryCount,
		LastError:      e.LastError,
		IdempotencyKey: e.IdempotencyKey,
		Reason:         e.Reason,
		FailureReason:  e.FailureReason,
		DeadLetteredAt: e.DeadLetteredAt,
	}
}

type queueStatsResponse struct {
	Pending          int     `json:"pending"`
	Retrying         int     `json:"retrying"`
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
	DeadLetters      int     `json:"dead_letters"`
}
