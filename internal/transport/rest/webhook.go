package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type submitter interface {
	Submit(ctx context.Context, bundle domain.ResultBundle) (domain.SubmitOutcome, error)
}

// WebhookHandler accepts result bundles from external actors.
type WebhookHandler struct {
	svc submitter
	log *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(svc submitter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, log: logger.With("handler", "webhook")}
}

type submitResponse struct {
	Outcome domain.SubmitOutcomeKind `json:"outcome"`
	QueueID *uuid.UUID               `json:"queue_id,omitempty"`
}

// TaskResults handles POST /webhooks/task-results.
//
// The bundle is not tag-validated here: its shape is checked by the
// ingestion service so that rejections are counted like any other outcome.
// 202 means the bundle is durably queued or was already seen.
func (h *WebhookHandler) TaskResults(w http.ResponseWriter, r *http.Request) {
	var bundle domain.ResultBundle
	if err := decodeJSON(r, &bundle); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	out, err := h.svc.Submit(r.Context(), bundle)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	switch out.Kind {
	case domain.SubmitAccepted, domain.SubmitDuplicate:
		writeJSON(w, http.StatusAccepted, submitResponse{Outcome: out.Kind, QueueID: out.QueueID})
	case domain.SubmitRejected:
		if len(out.Errors) > 0 {
			writeFieldErrors(w, out.Reason, out.Errors)
			return
		}
		writeError(w, http.StatusBadRequest, out.Reason)
	default:
		h.log.ErrorContext(r.Context(), "unknown submit outcome", slog.String("outcome", string(out.Kind)))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
