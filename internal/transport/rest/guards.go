package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/service/guard"
)

type guardService interface {
	EvaluateGuard(ctx context.Context, g guard.Guard) (bool, error)
	Blockers(ctx context.Context, g guard.Guard) ([]guard.Blocker, error)
}

// GuardHandler evaluates workflow guards against document requirements.
type GuardHandler struct {
	svc guardService
	log *slog.Logger
}

// NewGuardHandler creates a GuardHandler.
func NewGuardHandler(svc guardService, logger *slog.Logger) *GuardHandler {
	return &GuardHandler{svc: svc, log: logger.With("handler", "guard")}
}

// guardRequest mirrors guard.Guard. The tree is validated by the service,
// which reports field paths like guard.all[1].check.doc_type.
type guardRequest struct {
	Check *checkPayload  `json:"check,omitempty"`
	All   []guardRequest `json:"all,omitempty"`
	Any   []guardRequest `json:"any,omitempty"`
}

type checkPayload struct {
	RequirementType    string                   `json:"requirement_type,omitempty"`
	DocType            string                   `json:"doc_type"`
	SubjectEntityID    uuid.UUID                `json:"subject_entity_id"`
	WorkflowInstanceID *uuid.UUID               `json:"workflow_instance_id,omitempty"`
	MinState           domain.RequirementStatus `json:"min_state,omitempty"`
	MaxAgeDays         *int                     `json:"max_age_days,omitempty"`
}

type blockerPayload struct {
	Check         checkPayload             `json:"check"`
	RequirementID *uuid.UUID               `json:"requirement_id,omitempty"`
	CurrentStatus domain.RequirementStatus `json:"current_status,omitempty"`
	Resolution    string                   `json:"resolution"`
	Message       string                   `json:"message"`
}

type evaluateResponse struct {
	Satisfied bool             `json:"satisfied"`
	Blockers  []blockerPayload `json:"blockers,omitempty"`
}

// Evaluate handles POST /guards/evaluate. By default the response lists
// every blocker with a resolution hint; ?explain=false only reports the
// verdict and stops at the first deciding check.
func (h *GuardHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	explain := true
	if raw := r.URL.Query().Get("explain"); raw != "" {
		var err error
		if explain, err = boolQuery(r, "explain"); err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}
	}

	var req guardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	g := req.toGuard()

	if !explain {
		ok, err := h.svc.EvaluateGuard(r.Context(), g)
		if err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, evaluateResponse{Satisfied: ok})
		return
	}

	blockers, err := h.svc.Blockers(r.Context(), g)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Satisfied: len(blockers) == 0,
		Blockers:  mapSlice(blockers, toBlockerPayload),
	})
}

func (g guardRequest) toGuard() guard.Guard {
	out := guard.Guard{}
	if g.Check != nil {
		c := g.Check.toCheck()
		out.Check = &c
	}
	if len(g.All) > 0 {
		out.All = mapSlice(g.All, guardRequest.toGuard)
	}
	if len(g.Any) > 0 {
		out.Any = mapSlice(g.Any, guardRequest.toGuard)
	}
	return out
}

func (c checkPayload) toCheck() guard.RequirementCheck {
	return guard.RequirementCheck{
		RequirementType:    c.RequirementType,
		DocType:            c.DocType,
		SubjectEntityID:    c.SubjectEntityID,
		WorkflowInstanceID: c.WorkflowInstanceID,
		MinState:           c.MinState,
		MaxAgeDays:         c.MaxAgeDays,
	}
}

func toBlockerPayload(b guard.Blocker) blockerPayload {
	return blockerPayload{
		Check: checkPayload{
			RequirementType:    b.Check.RequirementType,
			DocType:            b.Check.DocType,
			SubjectEntityID:    b.Check.SubjectEntityID,
			WorkflowInstanceID: b.Check.WorkflowInstanceID,
			MinState:           b.Check.MinState,
			MaxAgeDays:         b.Check.MaxAgeDays,
		},
		RequirementID: b.RequirementID,
		CurrentStatus: b.CurrentStatus,
		Resolution:    b.Resolution,
		Message:       b.Message,
	}
}
