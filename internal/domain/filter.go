package domain

import "github.com/google/uuid"

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// normalizePage applies the default page size and caps it.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// RequirementFilter contains filtering/pagination parameters for requirement listings.
type RequirementFilter struct {
	WorkflowInstanceID *uuid.UUID
	SubjectEntityID    *uuid.UUID
	DocType            *string

	// Statuses keeps requirements in any of the given states. Empty means all.
	Statuses []RequirementStatus

	// ExcludeSatisfied drops verified and waived requirements.
	ExcludeSatisfied bool

	// Stalled keeps only rejected requirements that used up their attempts.
	Stalled bool

	Limit  int
	Offset int
}

// Normalize applies paging defaults.
func (f RequirementFilter) Normalize() RequirementFilter {
	f.Limit, f.Offset = normalizePage(f.Limit, f.Offset)
	return f
}

// DeadLetterFilter narrows a DLQ listing.
type DeadLetterFilter struct {
	TaskID *uuid.UUID
	Reason *DeadLetterReason
	Limit  int
	Offset int
}

// Normalize applies paging defaults.
func (f DeadLetterFilter) Normalize() DeadLetterFilter {
	f.Limit, f.Offset = normalizePage(f.Limit, f.Offset)
	return f
}
