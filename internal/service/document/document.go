package document

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const defaultSource = "api"

// CreateDocument registers a document identity. When the input names a
// requirement, the requirement's latest document is pointed at it.
func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (domain.Document, error) {
	if err := input.Validate(); err != nil {
		return domain.Document{}, err
	}

	source := input.Source
	if source == "" {
		source = defaultSource
	}
	now := s.clock()
	doc := domain.Document{
		ID:               uuid.Must(uuid.NewV7()),
		DocumentType:     input.DocumentType,
		SubjectEntityID:  input.SubjectEntityID,
		SubjectCBUID:     input.SubjectCBUID,
		ParentDocumentID: input.ParentDocumentID,
		RequirementID:    input.RequirementID,
		Source:           source,
		SourceRef:        input.SourceRef,
		CreatedBy:        input.CreatedBy,
		CreatedAt:        now,
	}

	var created domain.Document
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.documents.CreateDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if input.RequirementID == nil {
			return nil
		}

		req, err := s.requirements.GetForUpdate(ctx, *input.RequirementID)
		if err != nil {
			return fmt.Errorf("lock requirement: %w", err)
		}
		if req.DocType != created.DocumentType {
			return domain.NewValidationError("document_type",
				fmt.Sprintf("requirement expects %q", req.DocType))
		}
		req.LatestDocumentID = &created.ID
		req.UpdatedAt = now
		if err := s.requirements.Save(ctx, req); err != nil {
			return fmt.Errorf("save requirement: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}

	s.log.InfoContext(ctx, "document created",
		slog.String("document_id", created.ID.String()),
		slog.String("document_type", created.DocumentType),
	)
	return created, nil
}

// GetDocument returns a document by ID.
func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	return s.documents.GetDocument(ctx, id)
}

// CreateVersion stores a new immutable version. Inline content is written
// to the blob store first; the blob is removed again if the insert fails.
// The version number is allocated by the repository under the document lock.
func (s *Service) CreateVersion(ctx context.Context, input CreateVersionInput) (domain.DocumentVersion, error) {
	if err := input.Validate(); err != nil {
		return domain.DocumentVersion{}, err
	}

	// Fail fast on an unknown document before touching the blob store.
	if _, err := s.documents.GetDocument(ctx, input.DocumentID); err != nil {
		return domain.DocumentVersion{}, err
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	v := domain.DocumentVersion{
		ID:                 uuid.Must(uuid.NewV7()),
		DocumentID:         input.DocumentID,
		ContentType:        contentType,
		StructuredData:     input.StructuredData,
		BlobRef:            input.BlobRef,
		VerificationStatus: domain.VerificationPending,
		ValidFrom:          input.ValidFrom,
		ValidTo:            input.ValidTo,
		QualityScore:       input.QualityScore,
		CreatedAt:          s.clock(),
	}

	var stored string
	if len(input.Content) > 0 {
		key := input.DocumentID.String() + "/" + v.ID.String()
		ref, err := s.blobs.Store(ctx, key, input.Content, contentType)
		if err != nil {
			return domain.DocumentVersion{}, fmt.Errorf("store content: %w", err)
		}
		stored = ref
		v.BlobRef = &ref
	}

	var created domain.DocumentVersion
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.documents.CreateVersion(ctx, v)
		return err
	})
	if err != nil {
		if stored != "" {
			if delErr := s.blobs.Delete(ctx, stored); delErr != nil {
				s.log.WarnContext(ctx, "orphaned blob",
					slog.String("blob_ref", stored),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return domain.DocumentVersion{}, fmt.Errorf("create version: %w", err)
	}

	s.log.InfoContext(ctx, "document version created",
		slog.String("document_id", created.DocumentID.String()),
		slog.String("version_id", created.ID.String()),
		slog.Int("version_no", created.VersionNo),
		slog.Bool("inline_content", stored != ""),
	)
	return created, nil
}

// GetVersion returns one version of a document. A version of another
// document is reported as not found.
func (s *Service) GetVersion(ctx context.Context, ref VersionRef) (domain.DocumentVersion, error) {
	v, err := s.documents.GetVersion(ctx, ref.VersionID)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	if v.DocumentID != ref.DocumentID {
		return domain.DocumentVersion{}, fmt.Errorf("document_version %s: %w", ref.VersionID, domain.ErrNotFound)
	}
	return v, nil
}

// ListVersions returns all versions of a document in version order.
func (s *Service) ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	if _, err := s.documents.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.documents.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// VersionContent returns the blob behind a version and its content type.
// Versions carrying only structured data have no content.
func (s *Service) VersionContent(ctx context.Context, ref VersionRef) ([]byte, string, error) {
	v, err := s.GetVersion(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	if v.BlobRef == nil || *v.BlobRef == "" {
		return nil, "", fmt.Errorf("document_version %s has no blob content: %w", v.ID, domain.ErrNotFound)
	}
	data, err := s.blobs.Fetch(ctx, *v.BlobRef)
	if err != nil {
		return nil, "", fmt.Errorf("fetch content: %w", err)
	}
	return data, v.ContentType, nil
}
