// Package document implements Document and DocumentVersion persistence using PostgreSQL.
package document

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const (
	documentColumns = `document_id, document_type, subject_entity_id, subject_cbu_id,
	parent_document_id, requirement_id, source, source_ref, created_by, created_at`

	versionColumns = `version_id, document_id, version_no, content_type, structured_data, blob_ref,
	task_id, verification_status, rejection_code, rejection_reason, verified_by, verified_at,
	valid_from, valid_to, quality_score, created_at`
)

// Repo provides document persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new document repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// CreateDocument inserts a document identity. Documents are never updated.
func (r *Repo) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row := q.QueryRow(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+documentColumns,
		d.ID, d.DocumentType, d.SubjectEntityID, d.SubjectCBUID, d.ParentDocumentID,
		d.RequirementID, d.Source, d.SourceRef, d.CreatedBy, d.CreatedAt,
	)

	created, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, postgres.MapError(err, "document", d.ID)
	}
	return created, nil
}

// CreateVersion inserts v with the next version number of its document.
// The document row is locked first so concurrent uploads get distinct
// numbers; ctx should carry a transaction for the lock to cover the insert.
// VersionNo on v is ignored.
func (r *Repo) CreateVersion(ctx context.Context, v domain.DocumentVersion) (domain.DocumentVersion, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var locked uuid.UUID
	err := q.QueryRow(ctx, `SELECT document_id FROM documents WHERE document_id = $1 FOR UPDATE`, v.DocumentID).Scan(&locked)
	if err != nil {
		return domain.DocumentVersion{}, postgres.MapError(err, "document", v.DocumentID)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO document_versions (`+versionColumns+`)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_no), 0) + 1 FROM document_versions WHERE document_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+versionColumns,
		v.ID, v.DocumentID, v.ContentType, postgres.JSONArg(v.StructuredData), v.BlobRef,
		v.TaskID, string(domain.VerificationPending), nil, nil, nil, nil,
		v.ValidFrom, v.ValidTo, v.QualityScore, v.CreatedAt,
	)

	created, err := scanVersion(row)
	if err != nil {
		return domain.DocumentVersion{}, postgres.MapError(err, "document_version", v.ID)
	}
	return created, nil
}

// AttachTask links a version to the task that delivered it, first writer wins.
// The conditional UPDATE is the whole race guard: it reports false when the
// version already carries a task (or does not exist) and changes nothing.
func (r *Repo) AttachTask(ctx context.Context, versionID, taskID uuid.UUID) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, `
		UPDATE document_versions
		SET task_id = $2
		WHERE version_id = $1 AND task_id IS NULL`, versionID, taskID)
	if err != nil {
		return false, postgres.MapError(err, "document_version", versionID)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateVerification writes the verification fields of v, provided the stored
// status is still one of from. Content columns are never part of this
// statement. A version that already moved on reports domain.ErrInvalidTransition.
func (r *Repo) UpdateVerification(ctx context.Context, v domain.DocumentVersion, from ...domain.VerificationStatus) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	tag, err := q.Exec(ctx, `
		UPDATE document_versions
		SET verification_status = $2,
			rejection_code = $3,
			rejection_reason = $4,
			verified_by = $5,
			verified_at = $6
		WHERE version_id = $1
		  AND verification_status = ANY($7)`,
		v.ID, string(v.VerificationStatus), v.RejectionCode, v.RejectionReason,
		v.VerifiedBy, v.VerifiedAt, allowed,
	)
	if err != nil {
		return postgres.MapError(err, "document_version", v.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document_version %s: %w", v.ID, domain.ErrInvalidTransition)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// GetDocument returns a document by ID.
func (r *Repo) GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	d, err := scanDocument(q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE document_id = $1`, id))
	if err != nil {
		return domain.Document{}, postgres.MapError(err, "document", id)
	}
	return d, nil
}

// GetVersion returns a version by ID.
func (r *Repo) GetVersion(ctx context.Context, id uuid.UUID) (domain.DocumentVersion, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	v, err := scanVersion(q.QueryRow(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE version_id = $1`, id))
	if err != nil {
		return domain.DocumentVersion{}, postgres.MapError(err, "document_version", id)
	}
	return v, nil
}

// ListVersions returns all versions of a document by ascending version_no.
func (r *Repo) ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_no`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document_versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document_version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document_versions: %w", err)
	}
	return versions, nil
}

// MissingVersions returns the subset of ids with no document_versions row.
func (r *Repo) MissingVersions(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT id
		FROM unnest($1::uuid[]) AS id
		WHERE NOT EXISTS (SELECT 1 FROM document_versions v WHERE v.version_id = id)`, ids)
	if err != nil {
		return nil, fmt.Errorf("check document_versions exist: %w", err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect missing document_versions: %w", err)
	}
	return missing, nil
}

// ---------------------------------------------------------------------------
// Mapping helpers
// ---------------------------------------------------------------------------

func scanDocument(row pgx.Row) (domain.Document, error) {
	var d domain.Document
	err := row.Scan(
		&d.ID, &d.DocumentType, &d.SubjectEntityID, &d.SubjectCBUID,
		&d.ParentDocumentID, &d.RequirementID, &d.Source, &d.SourceRef, &d.CreatedBy, &d.CreatedAt,
	)
	return d, err
}

func scanVersion(row pgx.Row) (domain.DocumentVersion, error) {
	var (
		v          domain.DocumentVersion
		structured []byte
		status     string
	)
	err := row.Scan(
		&v.ID, &v.DocumentID, &v.VersionNo, &v.ContentType, &structured, &v.BlobRef,
		&v.TaskID, &status, &v.RejectionCode, &v.RejectionReason, &v.VerifiedBy, &v.VerifiedAt,
		&v.ValidFrom, &v.ValidTo, &v.QualityScore, &v.CreatedAt,
	)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	v.StructuredData = postgres.RawJSON(structured)
	v.VerificationStatus = domain.VerificationStatus(status)
	return v, nil
}
