package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// SeedTask creates a pending task expecting the given number of results.
func SeedTask(t *testing.T, pool *pgxpool.Pool, expected int) domain.PendingTask {
	t.Helper()

	key := "PASSPORT"
	task := domain.PendingTask{
		ID:                 uuid.New(),
		InstanceID:         uuid.New(),
		BlockerType:        domain.BlockerDocument,
		BlockerKey:         &key,
		Verb:               "document.solicit",
		Args:               json.RawMessage(`{"doc_type":"PASSPORT"}`),
		ExpectedCargoCount: expected,
		Status:             domain.TaskPending,
		CreatedAt:          now(),
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO workflow_pending_tasks (task_id, instance_id, blocker_type, blocker_key, verb, args,
			expected_cargo_count, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.InstanceID, string(task.BlockerType), task.BlockerKey, task.Verb, string(task.Args),
		task.ExpectedCargoCount, string(task.Status), task.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedTask insert: %v", err)
	}
	return task
}

// SeedRequirement creates a missing requirement for a fresh instance and subject.
func SeedRequirement(t *testing.T, pool *pgxpool.Pool, docType string) domain.DocumentRequirement {
	t.Helper()

	instance, subject := uuid.New(), uuid.New()
	req := domain.NewDocumentRequirement(uuid.New(), docType, domain.RequirementVerified, now())
	req.WorkflowInstanceID = &instance
	req.SubjectEntityID = &subject

	_, err := pool.Exec(context.Background(),
		`INSERT INTO document_requirements (requirement_id, workflow_instance_id, subject_entity_id, doc_type,
			required_state, status, max_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.WorkflowInstanceID, req.SubjectEntityID, req.DocType,
		string(req.RequiredState), string(req.Status), req.MaxAttempts, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedRequirement insert: %v", err)
	}
	return req
}

// SeedDocument creates a document, optionally linked to a requirement.
func SeedDocument(t *testing.T, pool *pgxpool.Pool, docType string, requirementID *uuid.UUID) domain.Document {
	t.Helper()

	ref := "upload-" + uniqueSuffix()
	doc := domain.Document{
		ID:            uuid.New(),
		DocumentType:  docType,
		RequirementID: requirementID,
		Source:        "test",
		SourceRef:     &ref,
		CreatedAt:     now(),
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO documents (document_id, document_type, requirement_id, source, source_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.DocumentType, doc.RequirementID, doc.Source, doc.SourceRef, doc.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedDocument insert: %v", err)
	}
	return doc
}

// SeedVersion creates version 1 of a document with structured content.
func SeedVersion(t *testing.T, pool *pgxpool.Pool, documentID uuid.UUID) domain.DocumentVersion {
	t.Helper()

	v := domain.DocumentVersion{
		ID:                 uuid.New(),
		DocumentID:         documentID,
		VersionNo:          1,
		ContentType:        "application/json",
		StructuredData:     json.RawMessage(`{"number":"` + uniqueSuffix() + `"}`),
		VerificationStatus: domain.VerificationPending,
		CreatedAt:          now(),
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO document_versions (version_id, document_id, version_no, content_type, structured_data,
			verification_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.DocumentID, v.VersionNo, v.ContentType, string(v.StructuredData),
		string(v.VerificationStatus), v.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedVersion insert: %v", err)
	}
	return v
}
