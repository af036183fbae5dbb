package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequirementStatus is the lifecycle state of a DocumentRequirement.
type RequirementStatus string

const (
	RequirementMissing   RequirementStatus = "missing"
	RequirementRequested RequirementStatus = "requested"
	RequirementReceived  RequirementStatus = "received"
	RequirementInQA      RequirementStatus = "in_qa"
	RequirementVerified  RequirementStatus = "verified"
	RequirementRejected  RequirementStatus = "rejected"
	RequirementExpired   RequirementStatus = "expired"
	RequirementWaived    RequirementStatus = "waived"
)

// DefaultMaxAttempts bounds automatic re-solicitation after rejections.
const DefaultMaxAttempts = 3

func (s RequirementStatus) String() string { return string(s) }

func (s RequirementStatus) IsValid() bool {
	switch s {
	case RequirementMissing, RequirementRequested, RequirementReceived, RequirementInQA,
		RequirementVerified, RequirementRejected, RequirementExpired, RequirementWaived:
		return true
	}
	return false
}

// IsValidRequiredState reports whether s may be used as a requirement's target state.
func (s RequirementStatus) IsValidRequiredState() bool {
	return s == RequirementReceived || s == RequirementVerified
}

// ordinal places progress states on the missing < requested < received < in_qa < verified scale.
func (s RequirementStatus) ordinal() (int, bool) {
	switch s {
	case RequirementMissing:
		return 0, true
	case RequirementRequested:
		return 1, true
	case RequirementReceived:
		return 2, true
	case RequirementInQA:
		return 3, true
	case RequirementVerified:
		return 4, true
	}
	return 0, false
}

// Satisfies reports whether a requirement in state s meets threshold min.
//   - rejected and expired satisfy nothing;
//   - verified and waived satisfy any threshold;
//   - otherwise the ordinal of s must be at least the ordinal of min.
func (s RequirementStatus) Satisfies(min RequirementStatus) bool {
	switch s {
	case RequirementRejected, RequirementExpired:
		return false
	case RequirementVerified, RequirementWaived:
		return true
	}
	cur, ok := s.ordinal()
	if !ok {
		return false
	}
	want, ok := min.ordinal()
	if !ok {
		return false
	}
	return cur >= want
}

// DocumentRequirement records a document the workflow still needs.
type DocumentRequirement struct {
	ID                  uuid.UUID
	WorkflowInstanceID  *uuid.UUID
	SubjectEntityID     *uuid.UUID
	SubjectCBUID        *uuid.UUID
	DocType             string
	RequiredState       RequirementStatus
	Status              RequirementStatus
	AttemptCount        int
	MaxAttempts         int
	CurrentTaskID       *uuid.UUID
	LatestDocumentID    *uuid.UUID
	LatestVersionID     *uuid.UUID
	LastRejectionCode   *string
	LastRejectionReason *string
	DueDate             *time.Time
	SatisfiedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewDocumentRequirement builds a requirement in the missing state.
func NewDocumentRequirement(id uuid.UUID, docType string, requiredState RequirementStatus, now time.Time) DocumentRequirement {
	if !requiredState.IsValidRequiredState() {
		requiredState = RequirementVerified
	}
	return DocumentRequirement{
		ID:            id,
		DocType:       docType,
		RequiredState: requiredState,
		Status:        RequirementMissing,
		MaxAttempts:   DefaultMaxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsStalled reports a rejected requirement that used up its attempts.
// Stalled requirements are never re-solicited automatically.
func (r DocumentRequirement) IsStalled() bool {
	return r.Status == RequirementRejected && r.AttemptCount >= r.MaxAttempts
}

// IsSatisfied reports whether the current status meets the required state.
func (r DocumentRequirement) IsSatisfied() bool {
	return r.Status.Satisfies(r.RequiredState)
}

// MarkRequested records a new outreach task. Allowed from missing, requested,
// expired, and from rejected while attempts remain.
func (r *DocumentRequirement) MarkRequested(taskID uuid.UUID, now time.Time) error {
	switch r.Status {
	case RequirementMissing, RequirementRequested, RequirementExpired:
	case RequirementRejected:
		if r.IsStalled() {
			return &TransitionError{Entity: "document_requirement", From: "rejected (stalled)", To: string(RequirementRequested)}
		}
	default:
		return &TransitionError{Entity: "document_requirement", From: string(r.Status), To: string(RequirementRequested)}
	}
	r.Status = RequirementRequested
	r.CurrentTaskID = &taskID
	r.UpdatedAt = now
	return nil
}

// MarkReceived moves the requirement to received when a version arrives.
// Only missing, requested and rejected move; other states report false.
func (r *DocumentRequirement) MarkReceived(documentID, versionID uuid.UUID, now time.Time) bool {
	switch r.Status {
	case RequirementMissing, RequirementRequested, RequirementRejected:
	default:
		return false
	}
	r.Status = RequirementReceived
	r.LatestDocumentID = &documentID
	r.LatestVersionID = &versionID
	r.UpdatedAt = now
	r.markSatisfied(now)
	return true
}

// StartQA moves a received requirement into QA. Other states report false.
func (r *DocumentRequirement) StartQA(now time.Time) bool {
	if r.Status != RequirementReceived {
		return false
	}
	r.Status = RequirementInQA
	r.UpdatedAt = now
	return true
}

// MarkVerified records a passing QA outcome for versionID. Only received and
// in_qa move: a version may be verified straight from pending.
func (r *DocumentRequirement) MarkVerified(versionID uuid.UUID, now time.Time) bool {
	switch r.Status {
	case RequirementReceived, RequirementInQA:
	default:
		return false
	}
	r.Status = RequirementVerified
	r.LatestVersionID = &versionID
	r.UpdatedAt = now
	r.markSatisfied(now)
	return true
}

// MarkRejected records a failing QA outcome and counts one attempt. Only
// received and in_qa move, like MarkVerified; other states report false.
func (r *DocumentRequirement) MarkRejected(code string, reason *string, now time.Time) bool {
	switch r.Status {
	case RequirementReceived, RequirementInQA:
	default:
		return false
	}
	r.AttemptCount++
	r.Status = RequirementRejected
	r.LastRejectionCode = &code
	r.LastRejectionReason = reason
	r.UpdatedAt = now
	return true
}

// Tracks reports whether QA on versionID may move the requirement: it must be
// the latest version received, or no version was received yet.
func (r DocumentRequirement) Tracks(versionID uuid.UUID) bool {
	return r.LatestVersionID == nil || *r.LatestVersionID == versionID
}

// Waive is the manual override; it is reachable from every state but waived.
func (r *DocumentRequirement) Waive(now time.Time) error {
	if r.Status == RequirementWaived {
		return &TransitionError{Entity: "document_requirement", From: string(r.Status), To: string(RequirementWaived)}
	}
	r.Status = RequirementWaived
	r.UpdatedAt = now
	r.markSatisfied(now)
	return nil
}

// Expire lapses a verified requirement. A fresh cycle starts from requested,
// so SatisfiedAt is cleared and will be set again when the new cycle is satisfied.
func (r *DocumentRequirement) Expire(now time.Time) error {
	if r.Status != RequirementVerified {
		return &TransitionError{Entity: "document_requirement", From: string(r.Status), To: string(RequirementExpired)}
	}
	r.Status = RequirementExpired
	r.SatisfiedAt = nil
	r.UpdatedAt = now
	return nil
}

// SatisfiedWithin reports whether the requirement was satisfied no more than
// maxAgeDays before now.
func (r DocumentRequirement) SatisfiedWithin(maxAgeDays int, now time.Time) bool {
	if r.SatisfiedAt == nil {
		return false
	}
	return !r.SatisfiedAt.Before(now.AddDate(0, 0, -maxAgeDays))
}

func (r *DocumentRequirement) markSatisfied(now time.Time) {
	if r.SatisfiedAt != nil {
		return
	}
	if r.Status.Satisfies(r.RequiredState) {
		t := now
		r.SatisfiedAt = &t
	}
}
