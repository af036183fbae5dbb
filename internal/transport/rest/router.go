package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heartmarshall/taskflow-backend/internal/auth"
	"github.com/heartmarshall/taskflow-backend/internal/metrics"
	"github.com/heartmarshall/taskflow-backend/internal/transport/middleware"
)

type tokenValidator interface {
	Validate(token string) (auth.Principal, error)
}

// Handlers groups every REST handler the router mounts.
type Handlers struct {
	Health       *HealthHandler
	Webhook      *WebhookHandler
	Documents    *DocumentHandler
	Requirements *RequirementHandler
	Tasks        *TaskHandler
	DeadLetters  *DeadLetterHandler
	Guards       *GuardHandler
}

// RouterConfig holds the transport policy knobs.
type RouterConfig struct {
	// AuthRequired refuses requests without a bearer token.
	AuthRequired     bool
	MaxBodyBytes     int64
	WebhookRateLimit int
}

// RouterDeps are the optional collaborators of the router. A nil Validator
// disables authentication, a nil Limiter disables rate limiting and nil
// Metrics drops /metrics.
type RouterDeps struct {
	Validator tokenValidator
	Limiter   *middleware.RateLimiter
	Metrics   *metrics.Metrics
}

// NewRouter builds the HTTP surface.
//
// Submitter-scoped routes: the webhook, document and version upload and
// reads, and task reads. Everything else (QA, requirements, solicitation,
// cancellation, DLQ, guards) needs the operator scope.
func NewRouter(h Handlers, deps RouterDeps, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logger(logger, deps.Metrics),
		middleware.MaxBody(cfg.MaxBodyBytes),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/live", h.Health.Live)
	r.Get("/ready", h.Health.Ready)
	r.Get("/health", h.Health.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if deps.Validator != nil {
			r.Use(middleware.Auth(deps.Validator, cfg.AuthRequired))
		}

		webhook := r
		if deps.Limiter != nil {
			webhook = r.With(deps.Limiter.Limit(cfg.WebhookRateLimit))
		}
		webhook.Post("/webhooks/task-results", h.Webhook.TaskResults)

		r.Post("/documents", h.Documents.CreateDocument)
		r.Get("/documents/{id}", h.Documents.GetDocument)
		r.Post("/documents/{id}/versions", h.Documents.CreateVersion)
		r.Get("/documents/{id}/versions", h.Documents.ListVersions)
		r.Get("/documents/{id}/versions/{ver}", h.Documents.GetVersion)
		r.Get("/documents/{id}/versions/{ver}/content", h.Documents.VersionContent)
		r.Get("/tasks/{id}", h.Tasks.Get)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(auth.ScopeOperator))

			r.Post("/documents/{id}/versions/{ver}/qa", h.Documents.StartQA)
			r.Post("/documents/{id}/versions/{ver}/verify", h.Documents.Verify)
			r.Post("/documents/{id}/versions/{ver}/reject", h.Documents.Reject)
			r.Get("/rejection-codes", h.Documents.RejectionCodes)

			r.Post("/requirements", h.Requirements.Create)
			r.Get("/requirements", h.Requirements.List)
			r.Get("/requirements/{id}", h.Requirements.Get)
			r.Post("/requirements/{id}/waive", h.Requirements.Waive)
			r.Post("/requirements/{id}/expire", h.Requirements.Expire)
			r.Get("/entities/{id}/missing-documents", h.Requirements.MissingDocuments)
			r.Post("/solicitations", h.Requirements.Solicit)
			r.Post("/solicitation-sets", h.Requirements.SolicitSet)

			r.Get("/tasks/{id}/events", h.Tasks.Events)
			r.Post("/tasks/{id}/cancel", h.Tasks.Cancel)
			r.Get("/instances/{id}/tasks", h.Tasks.ListByInstance)

			r.Get("/dead-letters", h.DeadLetters.List)
			r.Get("/dead-letters/{id}", h.DeadLetters.Get)
			r.Post("/dead-letters/{id}/replay", h.DeadLetters.Replay)
			r.Get("/queue/stats", h.DeadLetters.QueueStats)

			r.Post("/guards/evaluate", h.Guards.Evaluate)
		})
	})

	return r
}
