package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// VerificationStatus is the QA state of a single DocumentVersion.
// It only moves forward: pending -> in_qa -> verified|rejected.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationInQA     VerificationStatus = "in_qa"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

func (s VerificationStatus) String() string { return string(s) }

func (s VerificationStatus) IsValid() bool {
	switch s {
	case VerificationPending, VerificationInQA, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

// IsFinal reports whether the version already has its one QA outcome.
func (s VerificationStatus) IsFinal() bool {
	return s == VerificationVerified || s == VerificationRejected
}

// CanTransitionTo reports whether moving to next is a forward step.
// A version may be verified or rejected straight from pending.
func (s VerificationStatus) CanTransitionTo(next VerificationStatus) bool {
	switch s {
	case VerificationPending:
		return next == VerificationInQA || next == VerificationVerified || next == VerificationRejected
	case VerificationInQA:
		return next == VerificationVerified || next == VerificationRejected
	case VerificationVerified, VerificationRejected:
		return false
	}
	return false
}

// Document is the logical identity many versions attach to. It is never mutated.
type Document struct {
	ID               uuid.UUID
	DocumentType     string
	SubjectEntityID  *uuid.UUID
	SubjectCBUID     *uuid.UUID
	ParentDocumentID *uuid.UUID
	RequirementID    *uuid.UUID
	Source           string
	SourceRef        *string
	CreatedBy        *string
	CreatedAt        time.Time
}

// CargoRef returns the document:// reference for this document.
func (d Document) CargoRef() CargoRef {
	return NewDocumentRef(DefaultDocumentNamespace, d.ID)
}

// DocumentVersion is one submission of a document. Content fields are fixed at
// creation; only the verification fields change, and only forward.
type DocumentVersion struct {
	ID                 uuid.UUID
	DocumentID         uuid.UUID
	VersionNo          int
	ContentType        string
	StructuredData     json.RawMessage
	BlobRef            *string
	TaskID             *uuid.UUID
	VerificationStatus VerificationStatus
	RejectionCode      *string
	RejectionReason    *string
	VerifiedBy         *string
	VerifiedAt         *time.Time
	ValidFrom          *time.Time
	ValidTo            *time.Time
	QualityScore       *float64
	CreatedAt          time.Time
}

// CargoRef returns the version:// reference external submitters echo back in callbacks.
func (v DocumentVersion) CargoRef() CargoRef {
	return NewVersionRef(DefaultDocumentNamespace, v.ID)
}

// HasContent reports whether at least one of structured data or blob ref is present.
func (v DocumentVersion) HasContent() bool {
	return len(v.StructuredData) > 0 || (v.BlobRef != nil && *v.BlobRef != "")
}

// ValidAt reports whether the version's validity window covers t.
// Open-ended bounds are treated as unbounded.
func (v DocumentVersion) ValidAt(t time.Time) bool {
	if v.ValidFrom != nil && t.Before(*v.ValidFrom) {
		return false
	}
	if v.ValidTo != nil && t.After(*v.ValidTo) {
		return false
	}
	return true
}

// StartQA moves a pending version into QA.
func (v *DocumentVersion) StartQA() error {
	return v.moveTo(VerificationInQA)
}

// Verify records a passing QA outcome.
func (v *DocumentVersion) Verify(by string, at time.Time) error {
	if err := v.moveTo(VerificationVerified); err != nil {
		return err
	}
	v.VerifiedBy = &by
	v.VerifiedAt = &at
	return nil
}

// Reject records a failing QA outcome with a reference-data code.
func (v *DocumentVersion) Reject(code string, reason *string, by string, at time.Time) error {
	if err := v.moveTo(VerificationRejected); err != nil {
		return err
	}
	v.RejectionCode = &code
	v.RejectionReason = reason
	v.VerifiedBy = &by
	v.VerifiedAt = &at
	return nil
}

func (v *DocumentVersion) moveTo(next VerificationStatus) error {
	if !v.VerificationStatus.CanTransitionTo(next) {
		return &TransitionError{Entity: "document_version", From: string(v.VerificationStatus), To: string(next)}
	}
	v.VerificationStatus = next
	return nil
}
