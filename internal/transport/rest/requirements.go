package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/service/document"
)

type requirementService interface {
	CreateRequirement(ctx context.Context, input document.CreateRequirementInput) (domain.DocumentRequirement, bool, error)
	GetRequirement(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	ListRequirements(ctx context.Context, f domain.RequirementFilter) ([]domain.DocumentRequirement, error)
	MissingDocuments(ctx context.Context, entityID uuid.UUID, instanceID *uuid.UUID) ([]domain.DocumentRequirement, error)
	Waive(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	Expire(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	Solicit(ctx context.Context, input document.SolicitInput) (document.SolicitResult, error)
	SolicitSet(ctx context.Context, input document.SolicitSetInput) (document.SolicitResult, error)
	RejectionCode(code string) (domain.RejectionCode, bool)
}

// RequirementHandler serves document requirements and solicitation.
type RequirementHandler struct {
	svc requirementService
	log *slog.Logger
}

// NewRequirementHandler creates a RequirementHandler.
func NewRequirementHandler(svc requirementService, logger *slog.Logger) *RequirementHandler {
	return &RequirementHandler{svc: svc, log: logger.With("handler", "requirement")}
}

type createRequirementRequest struct {
	WorkflowInstanceID *uuid.UUID `json:"workflow_instance_id"`
	SubjectEntityID    *uuid.UUID `json:"subject_entity_id"`
	SubjectCBUID       *uuid.UUID `json:"subject_cbu_id"`
	DocType            string     `json:"doc_type" validate:"required,max=100"`
	RequiredState      string     `json:"required_state" validate:"omitempty,oneof=received verified"`
	MaxAttempts        int        `json:"max_attempts" validate:"gte=0,lte=20"`
	DueDate            *time.Time `json:"due_date"`
}

type solicitRequest struct {
	WorkflowInstanceID uuid.UUID  `json:"workflow_instance_id"`
	SubjectEntityID    uuid.UUID  `json:"subject_entity_id"`
	DocType            string     `json:"doc_type" validate:"required,max=100"`
	RequiredState      string     `json:"required_state" validate:"omitempty,oneof=received verified"`
	DueDate            *time.Time `json:"due_date"`
}

type solicitSetRequest struct {
	WorkflowInstanceID uuid.UUID  `json:"workflow_instance_id"`
	SubjectEntityID    uuid.UUID  `json:"subject_entity_id"`
	DocTypes           []string   `json:"doc_types" validate:"required,min=1,max=20,dive,required,max=100"`
	RequiredState      string     `json:"required_state" validate:"omitempty,oneof=received verified"`
	DueDate            *time.Time `json:"due_date"`
}

type solicitResponse struct {
	Task         taskResponse          `json:"task"`
	Requirements []requirementResponse `json:"requirements"`
}

// Create handles POST /requirements (requirement.create).
// 201 when the requirement is new, 200 when it already existed.
func (h *RequirementHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequirementRequest
	if err := bind(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	got, created, err := h.svc.CreateRequirement(r.Context(), document.CreateRequirementInput{
		WorkflowInstanceID: req.WorkflowInstanceID,
		SubjectEntityID:    req.SubjectEntityID,
		SubjectCBUID:       req.SubjectCBUID,
		DocType:            req.DocType,
		RequiredState:      domain.RequirementStatus(req.RequiredState),
		MaxAttempts:        req.MaxAttempts,
		DueDate:            req.DueDate,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.toResponse(got))
}

// Get handles GET /requirements/{id}.
func (h *RequirementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	got, err := h.svc.GetRequirement(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(got))
}

// List handles GET /requirements.
func (h *RequirementHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := requirementFilter(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	f = f.Normalize()

	reqs, err := h.svc.ListRequirements(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[requirementResponse]{
		Items:  mapSlice(reqs, h.toResponse),
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

// MissingDocuments handles GET /entities/{id}/missing-documents.
func (h *RequirementHandler) MissingDocuments(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	instanceID, err := uuidQuery(r, "workflow_instance_id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	reqs, err := h.svc.MissingDocuments(r.Context(), entityID, instanceID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[requirementResponse]{Items: mapSlice(reqs, h.toResponse)})
}

// Waive handles POST /requirements/{id}/waive.
func (h *RequirementHandler) Waive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Waive)
}

// Expire handles POST /requirements/{id}/expire.
func (h *RequirementHandler) Expire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Expire)
}

func (h *RequirementHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (domain.DocumentRequirement, error)) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	got, err := fn(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(got))
}

// Solicit handles POST /solicitations (document.solicit).
func (h *RequirementHandler) Solicit(w http.ResponseWriter, r *http.Request) {
	var req solicitRequest
	if err := bind(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	res, err := h.svc.Solicit(r.Context(), document.SolicitInput{
		WorkflowInstanceID: req.WorkflowInstanceID,
		SubjectEntityID:    req.SubjectEntityID,
		DocType:            req.DocType,
		RequiredState:      domain.RequirementStatus(req.RequiredState),
		DueDate:            req.DueDate,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toSolicitResponse(res))
}

// SolicitSet handles POST /solicitation-sets (document.solicit-set).
func (h *RequirementHandler) SolicitSet(w http.ResponseWriter, r *http.Request) {
	var req solicitSetRequest
	if err := bind(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	res, err := h.svc.SolicitSet(r.Context(), document.SolicitSetInput{
		WorkflowInstanceID: req.WorkflowInstanceID,
		SubjectEntityID:    req.SubjectEntityID,
		DocTypes:           req.DocTypes,
		RequiredState:      domain.RequirementStatus(req.RequiredState),
		DueDate:            req.DueDate,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toSolicitResponse(res))
}

func (h *RequirementHandler) toResponse(req domain.DocumentRequirement) requirementResponse {
	return toRequirementResponse(req, h.svc.RejectionCode)
}

func (h *RequirementHandler) toSolicitResponse(res document.SolicitResult) solicitResponse {
	return solicitResponse{
		Task:         toTaskResponse(res.Task),
		Requirements: mapSlice(res.Requirements, h.toResponse),
	}
}

// requirementFilter reads the list query. status may repeat or be comma separated.
func requirementFilter(r *http.Request) (domain.RequirementFilter, error) {
	var f domain.RequirementFilter
	var err error

	if f.WorkflowInstanceID, err = uuidQuery(r, "workflow_instance_id"); err != nil {
		return f, err
	}
	if f.SubjectEntityID, err = uuidQuery(r, "subject_entity_id"); err != nil {
		return f, err
	}
	if dt := r.URL.Query().Get("doc_type"); dt != "" {
		f.DocType = &dt
	}
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			st := domain.RequirementStatus(strings.TrimSpace(s))
			if !st.IsValid() {
				return f, domain.NewValidationError("status", "unknown status "+string(st))
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if f.Stalled, err = boolQuery(r, "stalled"); err != nil {
		return f, err
	}
	p, err := pageQuery(r)
	if err != nil {
		return f, err
	}
	f.Limit, f.Offset = p.Limit, p.Offset
	return f, nil
}
