package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type taskService interface {
	Get(ctx context.Context, id uuid.UUID) (domain.PendingTask, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.PendingTask, error)
	Events(ctx context.Context, id uuid.UUID) ([]domain.TaskEvent, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.PendingTask, error)
}

// TaskHandler serves pending tasks and their audit trail.
type TaskHandler struct {
	svc taskService
	log *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(svc taskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, log: logger.With("handler", "task")}
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// Get handles GET /tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	task, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// ListByInstance handles GET /instances/{id}/tasks.
func (h *TaskHandler) ListByInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	tasks, err := h.svc.ListByInstance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[taskResponse]{Items: mapSlice(tasks, toTaskResponse)})
}

// Events handles GET /tasks/{id}/events.
func (h *TaskHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	events, err := h.svc.Events(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[taskEventResponse]{Items: mapSlice(events, toTaskEventResponse)})
}

// Cancel handles POST /tasks/{id}/cancel. The body is optional.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	var req cancelRequest
	if err := bindOptional(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	task, err := h.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}
