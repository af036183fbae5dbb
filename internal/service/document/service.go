// Package document manages documents, their immutable versions, QA outcomes
// and the requirements that track what a workflow still needs.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

type documentRepo interface {
	CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error)
	CreateVersion(ctx context.Context, v domain.DocumentVersion) (domain.DocumentVersion, error)
	UpdateVerification(ctx context.Context, v domain.DocumentVersion, from ...domain.VerificationStatus) error
	GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error)
	GetVersion(ctx context.Context, id uuid.UUID) (domain.DocumentVersion, error)
	ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error)
}

type requirementRepo interface {
	Upsert(ctx context.Context, req domain.DocumentRequirement) (domain.DocumentRequirement, bool, error)
	Save(ctx context.Context, req domain.DocumentRequirement) error
	Get(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	FindCurrentForUpdate(ctx context.Context, taskID uuid.UUID, docType string) (domain.DocumentRequirement, error)
	List(ctx context.Context, f domain.RequirementFilter) ([]domain.DocumentRequirement, error)
}

type taskRepo interface {
	Create(ctx context.Context, t domain.PendingTask) (domain.PendingTask, error)
}

type blobStore interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements document, version, QA, requirement and solicitation operations.
type Service struct {
	log          *slog.Logger
	documents    documentRepo
	requirements requirementRepo
	tasks        taskRepo
	blobs        blobStore
	tx           txManager
	codes        *domain.RejectionCodeTable
	clock        func() time.Time
}

// NewService creates a new document service. codes is the rejection code
// table loaded at startup; it is read-only for the life of the service.
func NewService(
	logger *slog.Logger,
	documents documentRepo,
	requirements requirementRepo,
	tasks taskRepo,
	blobs blobStore,
	tx txManager,
	codes *domain.RejectionCodeTable,
) *Service {
	return &Service{
		log:          logger.With("service", "document"),
		documents:    documents,
		requirements: requirements,
		tasks:        tasks,
		blobs:        blobs,
		tx:           tx,
		codes:        codes,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// RejectionCode returns the reference data for a code.
func (s *Service) RejectionCode(code string) (domain.RejectionCode, bool) {
	return s.codes.Lookup(code)
}

// RejectionCodes returns the whole rejection code table.
func (s *Service) RejectionCodes() []domain.RejectionCode {
	return s.codes.Codes()
}

// requirementFor locks the requirement a version answers: the document's own
// requirement when it names one, otherwise the requirement whose current task
// delivered the version. The bool is false when there is none.
func (s *Service) requirementFor(ctx context.Context, doc domain.Document, v domain.DocumentVersion) (domain.DocumentRequirement, bool, error) {
	var (
		req domain.DocumentRequirement
		err error
	)
	switch {
	case doc.RequirementID != nil:
		req, err = s.requirements.GetForUpdate(ctx, *doc.RequirementID)
	case v.TaskID != nil:
		req, err = s.requirements.FindCurrentForUpdate(ctx, *v.TaskID, doc.DocumentType)
	default:
		return domain.DocumentRequirement{}, false, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DocumentRequirement{}, false, nil
	}
	if err != nil {
		return domain.DocumentRequirement{}, false, fmt.Errorf("lock requirement: %w", err)
	}
	return req, true, nil
}
