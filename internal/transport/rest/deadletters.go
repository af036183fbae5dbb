package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type deadLetterService interface {
	ListDeadLetters(ctx context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, id uuid.UUID) (domain.DeadLetterEntry, error)
	Replay(ctx context.Context, id uuid.UUID) (domain.TaskResultRow, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// DeadLetterHandler exposes the DLQ and queue depth to operators.
type DeadLetterHandler struct {
	svc deadLetterService
	log *slog.Logger
}

// NewDeadLetterHandler creates a DeadLetterHandler.
func NewDeadLetterHandler(svc deadLetterService, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{svc: svc, log: logger.With("handler", "dead_letter")}
}

type replayResponse struct {
	QueueID uuid.UUID `json:"queue_id"`
	TaskID  uuid.UUID `json:"task_id"`
}

// List handles GET /dead-letters.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	var f domain.DeadLetterFilter
	var err error
	if f.TaskID, err = uuidQuery(r, "task_id"); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	if raw := r.URL.Query().Get("reason"); raw != "" {
		reason := domain.DeadLetterReason(raw)
		switch reason {
		case domain.DeadLetterMaxRetries, domain.DeadLetterInvalidPayload, domain.DeadLetterUnknownTask:
			f.Reason = &reason
		default:
			writeDomainError(w, r, h.log, domain.NewValidationError("reason", "unknown reason "+raw))
			return
		}
	}
	p, err := pageQuery(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	f.Limit, f.Offset = p.Limit, p.Offset
	f = f.Normalize()

	entries, err := h.svc.ListDeadLetters(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[deadLetterResponse]{
		Items:  mapSlice(entries, toDeadLetterResponse),
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

// Get handles GET /dead-letters/{id}.
func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	entry, err := h.svc.GetDeadLetter(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeadLetterResponse(entry))
}

// Replay handles POST /dead-letters/{id}/replay.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	row, err := h.svc.Replay(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, replayResponse{QueueID: row.ID, TaskID: row.TaskID})
}

// QueueStats handles GET /queue/stats.
func (h *DeadLetterHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, queueStatsResponse{
		Pending:          stats.Pending,
		Retrying:         stats.Retrying,
		OldestAgeSeconds: stats.OldestAge.Seconds(),
		DeadLetters:      stats.DeadLetters,
	})
}
