// Package requirement implements DocumentRequirement persistence using PostgreSQL.
package requirement

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

var columns = []string{
	"requirement_id", "workflow_instance_id", "subject_entity_id", "subject_cbu_id", "doc_type",
	"required_state", "status", "attempt_count", "max_attempts", "current_task_id",
	"latest_document_id", "latest_version_id", "last_rejection_code", "last_rejection_reason",
	"due_date", "satisfied_at", "created_at", "updated_at",
}

// Repo provides requirement persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new requirement repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Upsert creates the requirement for (workflow_instance_id, subject_entity_id,
// doc_type) or returns the existing one untouched. The bool reports creation.
func (r *Repo) Upsert(ctx context.Context, req domain.DocumentRequirement) (domain.DocumentRequirement, bool, error) {
	sql, args, err := postgres.Builder().
		Insert("document_requirements").
		Columns(columns...).
		Values(requirementValues(req)...).
		Suffix("ON CONFLICT ON CONSTRAINT ux_requirements_subject DO UPDATE SET updated_at = document_requirements.updated_at").
		Suffix("RETURNING " + joined() + ", (xmax = 0)").
		ToSql()
	if err != nil {
		return domain.DocumentRequirement{}, false, fmt.Errorf("build requirement upsert: %w", err)
	}

	var created bool
	got, err := scanRequirement(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...), &created)
	if err != nil {
		return domain.DocumentRequirement{}, false, postgres.MapError(err, "document_requirement", req.ID)
	}
	return got, created, nil
}

// Save writes every mutable field of req.
func (r *Repo) Save(ctx context.Context, req domain.DocumentRequirement) error {
	sql, args, err := postgres.Builder().
		Update("document_requirements").
		SetMap(map[string]any{
			"status":                string(req.Status),
			"required_state":        string(req.RequiredState),
			"attempt_count":         req.AttemptCount,
			"max_attempts":          req.MaxAttempts,
			"current_task_id":       req.CurrentTaskID,
			"latest_document_id":    req.LatestDocumentID,
			"latest_version_id":     req.LatestVersionID,
			"last_rejection_code":   req.LastRejectionCode,
			"last_rejection_reason": req.LastRejectionReason,
			"due_date":              req.DueDate,
			"satisfied_at":          req.SatisfiedAt,
			"updated_at":            req.UpdatedAt,
		}).
		Where(squirrel.Eq{"requirement_id": req.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build requirement update: %w", err)
	}

	tag, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "document_requirement", req.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document_requirement %s: %w", req.ID, domain.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// Get returns a requirement by ID.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	return r.getOne(ctx, id, squirrel.Eq{"requirement_id": id}, "")
}

// GetForUpdate returns a requirement and locks it until the transaction ends.
func (r *Repo) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	return r.getOne(ctx, id, squirrel.Eq{"requirement_id": id}, "FOR UPDATE")
}

// FindCurrentForUpdate returns the requirement a task is currently soliciting
// for docType, locked. It reports domain.ErrNotFound when there is none.
func (r *Repo) FindCurrentForUpdate(ctx context.Context, taskID uuid.UUID, docType string) (domain.DocumentRequirement, error) {
	return r.getOne(ctx, taskID, squirrel.Eq{"current_task_id": taskID, "doc_type": docType}, "FOR UPDATE")
}

// FindBySubject returns the most recently updated requirement for a subject
// and document type, optionally scoped to one workflow instance.
func (r *Repo) FindBySubject(ctx context.Context, subjectEntityID uuid.UUID, docType string, instanceID *uuid.UUID) (domain.DocumentRequirement, error) {
	where := squirrel.Eq{"subject_entity_id": subjectEntityID, "doc_type": docType}
	if instanceID != nil {
		where["workflow_instance_id"] = *instanceID
	}

	sql, args, err := postgres.Builder().
		Select(columns...).
		From("document_requirements").
		Where(where).
		OrderBy("updated_at DESC", "requirement_id").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.DocumentRequirement{}, fmt.Errorf("build requirement lookup: %w", err)
	}

	got, err := scanRequirement(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...), nil)
	if err != nil {
		return domain.DocumentRequirement{}, postgres.MapError(err, "subject_entity", subjectEntityID)
	}
	return got, nil
}

// List returns requirements matching f.
func (r *Repo) List(ctx context.Context, f domain.RequirementFilter) ([]domain.DocumentRequirement, error) {
	f = f.Normalize()

	sql, args, err := applyFilter(postgres.Builder().Select(columns...).From("document_requirements"), f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build requirement list: %w", err)
	}
	return r.query(ctx, sql, args...)
}

// ListLapsedVerified returns verified requirements whose latest version's
// validity ended before now.
func (r *Repo) ListLapsedVerified(ctx context.Context, now time.Time, limit int) ([]domain.DocumentRequirement, error) {
	qualified := make([]string, len(columns))
	for i, c := range columns {
		qualified[i] = "r." + c
	}

	sql, args, err := postgres.Builder().
		Select(qualified...).
		From("document_requirements r").
		Join("document_versions v ON v.version_id = r.latest_version_id").
		Where(squirrel.Eq{"r.status": string(domain.RequirementVerified)}).
		Where(squirrel.NotEq{"v.valid_to": nil}).
		Where(squirrel.Lt{"v.valid_to": now}).
		OrderBy("v.valid_to").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lapsed requirement list: %w", err)
	}
	return r.query(ctx, sql, args...)
}

func (r *Repo) getOne(ctx context.Context, id uuid.UUID, where squirrel.Eq, suffix string) (domain.DocumentRequirement, error) {
	qb := postgres.Builder().Select(columns...).From("document_requirements").Where(where)
	if suffix != "" {
		qb = qb.Suffix(suffix)
	}
	sql, args, err := qb.ToSql()
	if err != nil {
		return domain.DocumentRequirement{}, fmt.Errorf("build requirement get: %w", err)
	}

	got, err := scanRequirement(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...), nil)
	if err != nil {
		return domain.DocumentRequirement{}, postgres.MapError(err, "document_requirement", id)
	}
	return got, nil
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) ([]domain.DocumentRequirement, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list document_requirements: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentRequirement
	for rows.Next() {
		req, err := scanRequirement(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan document_requirement: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document_requirements: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Mapping helpers
// ---------------------------------------------------------------------------

func joined() string {
	s := columns[0]
	for _, c := range columns[1:] {
		s += ", " + c
	}
	return s
}

func requirementValues(req domain.DocumentRequirement) []any {
	return []any{
		req.ID, req.WorkflowInstanceID, req.SubjectEntityID, req.SubjectCBUID, req.DocType,
		string(req.RequiredState), string(req.Status), req.AttemptCount, req.MaxAttempts, req.CurrentTaskID,
		req.LatestDocumentID, req.LatestVersionID, req.LastRejectionCode, req.LastRejectionReason,
		req.DueDate, req.SatisfiedAt, req.CreatedAt, req.UpdatedAt,
	}
}

// scanRequirement reads one row; when created is non-nil an extra trailing
// boolean column is scanned into it.
func scanRequirement(row pgx.Row, created *bool) (domain.DocumentRequirement, error) {
	var (
		req           domain.DocumentRequirement
		requiredState string
		status        string
	)
	dest := []any{
		&req.ID, &req.WorkflowInstanceID, &req.SubjectEntityID, &req.SubjectCBUID, &req.DocType,
		&requiredState, &status, &req.AttemptCount, &req.MaxAttempts, &req.CurrentTaskID,
		&req.LatestDocumentID, &req.LatestVersionID, &req.LastRejectionCode, &req.LastRejectionReason,
		&req.DueDate, &req.SatisfiedAt, &req.CreatedAt, &req.UpdatedAt,
	}
	if created != nil {
		dest = append(dest, created)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.DocumentRequirement{}, err
	}
	req.RequiredState = domain.RequirementStatus(requiredState)
	req.Status = domain.RequirementStatus(status)
	return req, nil
}
