package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const (
	maxDocTypeLen    = 100
	maxSolicitSet    = 20
	maxReasonLen     = 2000
	maxInlineContent = 8 << 20
)

// CreateDocumentInput holds the parameters for registering a document identity.
type CreateDocumentInput struct {
	DocumentType     string
	SubjectEntityID  *uuid.UUID
	SubjectCBUID     *uuid.UUID
	ParentDocumentID *uuid.UUID
	RequirementID    *uuid.UUID
	Source           string
	SourceRef        *string
	CreatedBy        *string
}

// Validate checks all fields and collects all errors.
func (i *CreateDocumentInput) Validate() error {
	var errs []domain.FieldError
	errs = validateDocType(errs, "document_type", i.DocumentType)
	if i.Source != "" && len(i.Source) > 50 {
		errs = append(errs, domain.FieldError{Field: "source", Message: "too long (max 50)"})
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// CreateVersionInput holds the parameters for submitting a new version.
// Exactly one of BlobRef and Content may be set; StructuredData may
// accompany either or stand alone.
type CreateVersionInput struct {
	DocumentID     uuid.UUID
	ContentType    string
	StructuredData json.RawMessage
	BlobRef        *string
	Content        []byte
	ValidFrom      *time.Time
	ValidTo        *time.Time
	QualityScore   *float64
}

// Validate checks all fields and collects all errors.
func (i *CreateVersionInput) Validate() error {
	var errs []domain.FieldError

	if i.DocumentID == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: "document_id", Message: "required"})
	}

	hasBlobRef := i.BlobRef != nil && *i.BlobRef != ""
	switch {
	case len(i.StructuredData) == 0 && !hasBlobRef && len(i.Content) == 0:
		errs = append(errs, domain.FieldError{Field: "content", Message: "one of structured_data, blob_ref or content is required"})
	case hasBlobRef && len(i.Content) > 0:
		errs = append(errs, domain.FieldError{Field: "content", Message: "blob_ref and content are mutually exclusive"})
	}
	if len(i.StructuredData) > 0 && !json.Valid(i.StructuredData) {
		errs = append(errs, domain.FieldError{Field: "structured_data", Message: "must be valid JSON"})
	}
	if len(i.Content) > maxInlineContent {
		errs = append(errs, domain.FieldError{Field: "content", Message: fmt.Sprintf("too large (max %d bytes)", maxInlineContent)})
	}
	if (hasBlobRef || len(i.Content) > 0) && i.ContentType == "" {
		errs = append(errs, domain.FieldError{Field: "content_type", Message: "required for binary content"})
	}
	if i.ValidFrom != nil && i.ValidTo != nil && i.ValidTo.Before(*i.ValidFrom) {
		errs = append(errs, domain.FieldError{Field: "valid_to", Message: "must not be before valid_from"})
	}
	if i.QualityScore != nil && (*i.QualityScore < 0 || *i.QualityScore > 1) {
		errs = append(errs, domain.FieldError{Field: "quality_score", Message: "must be between 0 and 1"})
	}

	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// VersionRef addresses one version of one document.
type VersionRef struct {
	DocumentID uuid.UUID
	VersionID  uuid.UUID
}

// VerifyInput records a passing QA outcome.
type VerifyInput struct {
	VersionRef
	VerifiedBy string
}

// Validate checks all fields and collects all errors.
func (i *VerifyInput) Validate() error {
	var errs []domain.FieldError
	if i.VerifiedBy == "" {
		errs = append(errs, domain.FieldError{Field: "verified_by", Message: "required"})
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// RejectInput records a failing QA outcome.
type RejectInput struct {
	VersionRef
	Code       string
	Reason     *string
	VerifiedBy string
}

// Validate checks all fields and collects all errors. The code itself is
// checked against the rejection code table by the service.
func (i *RejectInput) Validate() error {
	var errs []domain.FieldError
	if i.Code == "" {
		errs = append(errs, domain.FieldError{Field: "rejection_code", Message: "required"})
	}
	if i.VerifiedBy == "" {
		errs = append(errs, domain.FieldError{Field: "verified_by", Message: "required"})
	}
	if i.Reason != nil && len(*i.Reason) > maxReasonLen {
		errs = append(errs, domain.FieldError{Field: "reason", Message: fmt.Sprintf("too long (max %d)", maxReasonLen)})
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// CreateRequirementInput holds the parameters for requirement.create.
type CreateRequirementInput struct {
	WorkflowInstanceID *uuid.UUID
	SubjectEntityID    *uuid.UUID
	SubjectCBUID       *uuid.UUID
	DocType            string
	RequiredState      domain.RequirementStatus
	MaxAttempts        int
	DueDate            *time.Time
}

// Validate checks all fields and collects all errors.
func (i *CreateRequirementInput) Validate() error {
	var errs []domain.FieldError
	errs = validateDocType(errs, "doc_type", i.DocType)
	errs = validateRequiredState(errs, i.RequiredState)
	if i.MaxAttempts < 0 || i.MaxAttempts > 20 {
		errs = append(errs, domain.FieldError{Field: "max_attempts", Message: "must be between 0 (default) and 20"})
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// SolicitInput holds the parameters for document.solicit.
type SolicitInput struct {
	WorkflowInstanceID uuid.UUID
	SubjectEntityID    uuid.UUID
	DocType            string
	RequiredState      domain.RequirementStatus
	DueDate            *time.Time
}

// Validate checks all fields and collects all errors.
func (i *SolicitInput) Validate() error {
	var errs []domain.FieldError
	errs = validateSolicitTarget(errs, i.WorkflowInstanceID, i.SubjectEntityID)
	errs = validateDocType(errs, "doc_type", i.DocType)
	errs = validateRequiredState(errs, i.RequiredState)
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// SolicitSetInput holds the parameters for document.solicit-set.
type SolicitSetInput struct {
	WorkflowInstanceID uuid.UUID
	SubjectEntityID    uuid.UUID
	DocTypes           []string
	RequiredState      domain.RequirementStatus
	DueDate            *time.Time
}

// Validate checks all fields and collects all errors.
func (i *SolicitSetInput) Validate() error {
	var errs []domain.FieldError
	errs = validateSolicitTarget(errs, i.WorkflowInstanceID, i.SubjectEntityID)
	errs = validateRequiredState(errs, i.RequiredState)

	switch {
	case len(i.DocTypes) == 0:
		errs = append(errs, domain.FieldError{Field: "doc_types", Message: "at least one doc type required"})
	case len(i.DocTypes) > maxSolicitSet:
		errs = append(errs, domain.FieldError{Field: "doc_types", Message: fmt.Sprintf("too many (max %d)", maxSolicitSet)})
	}
	seen := make(map[string]bool, len(i.DocTypes))
	for idx, dt := range i.DocTypes {
		field := fmt.Sprintf("doc_types[%d]", idx)
		errs = validateDocType(errs, field, dt)
		if strings.Contains(dt, ",") {
			errs = append(errs, domain.FieldError{Field: field, Message: "must not contain a comma"})
		}
		if seen[dt] {
			errs = append(errs, domain.FieldError{Field: field, Message: "duplicate"})
		}
		seen[dt] = true
	}

	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

func validateDocType(errs []domain.FieldError, field, docType string) []domain.FieldError {
	switch {
	case strings.TrimSpace(docType) == "":
		return append(errs, domain.FieldError{Field: field, Message: "required"})
	case len(docType) > maxDocTypeLen:
		return append(errs, domain.FieldError{Field: field, Message: fmt.Sprintf("too long (max %d)", maxDocTypeLen)})
	}
	return errs
}

func validateRequiredState(errs []domain.FieldError, s domain.RequirementStatus) []domain.FieldError {
	if s != "" && !s.IsValidRequiredState() {
		return append(errs, domain.FieldError{Field: "required_state", Message: "must be received or verified"})
	}
	return errs
}

func validateSolicitTarget(errs []domain.FieldError, instanceID, subjectID uuid.UUID) []domain.FieldError {
	if instanceID == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: "workflow_instance_id", Message: "required"})
	}
	if subjectID == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: "subject_entity_id", Message: "required"})
	}
	return errs
}
