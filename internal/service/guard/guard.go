package guard

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// RequirementTypeDocument is the only requirement type evaluated here.
const RequirementTypeDocument = "document"

const (
	maxGuardDepth  = 8
	maxGuardChecks = 100
	maxAgeDaysCap  = 36500
)

// Resolution hints returned with a blocker.
const (
	ResolutionCreateRequirement = "requirement.create"
	ResolutionSolicit           = "document.solicit"
	ResolutionManualReview      = "manual_review"
)

// RequirementCheck asks whether the subject's requirement for DocType has
// reached MinState, and optionally whether it got there recently enough.
type RequirementCheck struct {
	RequirementType    string
	DocType            string
	SubjectEntityID    uuid.UUID
	WorkflowInstanceID *uuid.UUID
	MinState           domain.RequirementStatus
	MaxAgeDays         *int
}

// Validate checks all fields and collects all errors.
func (c *RequirementCheck) Validate() error {
	errs := c.validate(nil, "")
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

func (c *RequirementCheck) validate(errs []domain.FieldError, prefix string) []domain.FieldError {
	if c.RequirementType != "" && c.RequirementType != RequirementTypeDocument {
		errs = append(errs, domain.FieldError{Field: prefix + "requirement_type", Message: "must be document"})
	}
	if strings.TrimSpace(c.DocType) == "" {
		errs = append(errs, domain.FieldError{Field: prefix + "doc_type", Message: "required"})
	}
	if c.SubjectEntityID == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: prefix + "subject_entity_id", Message: "required"})
	}
	if c.MinState != "" && !c.MinState.IsValid() {
		errs = append(errs, domain.FieldError{Field: prefix + "min_state", Message: "unknown requirement status"})
	}
	if c.MaxAgeDays != nil && (*c.MaxAgeDays < 0 || *c.MaxAgeDays > maxAgeDaysCap) {
		errs = append(errs, domain.FieldError{Field: prefix + "max_age_days", Message: fmt.Sprintf("must be between 0 and %d", maxAgeDaysCap)})
	}
	return errs
}

// minState defaults to verified.
func (c RequirementCheck) minState() domain.RequirementStatus {
	if c.MinState == "" {
		return domain.RequirementVerified
	}
	return c.MinState
}

// Guard is a check or a composite of guards. Exactly one of Check, All and
// Any is set.
type Guard struct {
	Check *RequirementCheck
	All   []Guard
	Any   []Guard
}

// Validate checks the whole tree and collects all errors.
func (g *Guard) Validate() error {
	checks := 0
	errs := g.validate(nil, "guard", 1, &checks)
	if checks > maxGuardChecks {
		errs = append(errs, domain.FieldError{Field: "guard", Message: fmt.Sprintf("too many checks (max %d)", maxGuardChecks)})
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

func (g *Guard) validate(errs []domain.FieldError, path string, depth int, checks *int) []domain.FieldError {
	if depth > maxGuardDepth {
		return append(errs, domain.FieldError{Field: path, Message: fmt.Sprintf("nested too deep (max %d)", maxGuardDepth)})
	}

	set := 0
	if g.Check != nil {
		set++
	}
	if len(g.All) > 0 {
		set++
	}
	if len(g.Any) > 0 {
		set++
	}
	if set != 1 {
		return append(errs, domain.FieldError{Field: path, Message: "exactly one of check, all or any is required"})
	}

	switch {
	case g.Check != nil:
		*checks++
		errs = g.Check.validate(errs, path+".check.")
	case len(g.All) > 0:
		for i := range g.All {
			errs = g.All[i].validate(errs, fmt.Sprintf("%s.all[%d]", path, i), depth+1, checks)
		}
	default:
		for i := range g.Any {
			errs = g.Any[i].validate(errs, fmt.Sprintf("%s.any[%d]", path, i), depth+1, checks)
		}
	}
	return errs
}

// Blocker is one unmet check.
type Blocker struct {
	Check         RequirementCheck
	RequirementID *uuid.UUID
	// CurrentStatus is empty when no requirement exists.
	CurrentStatus domain.RequirementStatus
	Resolution    string
	Message       string
}
