package document_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/document"
	"github.com/heartmarshall/taskflow-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

func newRepo(t *testing.T) (*document.Repo, *pgxpool.Pool) {
	t.Helper()
	pool := testhelper.SetupTestDB(t)
	return document.New(pool), pool
}

func buildVersion(documentID uuid.UUID) domain.DocumentVersion {
	return domain.DocumentVersion{
		ID:             uuid.New(),
		DocumentID:     documentID,
		ContentType:    "application/json",
		StructuredData: json.RawMessage(`{"mrz":"P<GBR"}`),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

// sameJSON compares documents semantically; jsonb does not keep the input formatting.
func sameJSON(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return reflect.DeepEqual(av, bv)
}

func TestRepo_CreateDocument_HappyPath(t *testing.T) {
	t.Parallel()
	repo, _ := newRepo(t)
	ctx := context.Background()

	subject := uuid.New()
	input := domain.Document{
		ID:              uuid.New(),
		DocumentType:    "PASSPORT",
		SubjectEntityID: &subject,
		Source:          "portal",
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}

	got, err := repo.CreateDocument(ctx, input)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if got.ID != input.ID || got.DocumentType != "PASSPORT" {
		t.Errorf("document mismatch: got %+v", got)
	}
	if got.SubjectEntityID == nil || *got.SubjectEntityID != subject {
		t.Errorf("SubjectEntityID: got %v, want %s", got.SubjectEntityID, subject)
	}

	fetched, err := repo.GetDocument(ctx, input.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !fetched.CreatedAt.Equal(input.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", fetched.CreatedAt, input.CreatedAt)
	}
}

func TestRepo_GetDocument_NotFound(t *testing.T) {
	t.Parallel()
	repo, _ := newRepo(t)

	_, err := repo.GetDocument(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetDocument: got %v, want ErrNotFound", err)
	}
}

func TestRepo_CreateVersion_Numbering(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	tm := postgres.NewTxManager(pool)
	ctx := context.Background()
	doc := testhelper.SeedDocument(t, pool, "PASSPORT", nil)

	const uploads = 5
	var wg sync.WaitGroup
	errs := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tm.RunInTx(ctx, func(ctx context.Context) error {
				_, err := repo.CreateVersion(ctx, buildVersion(doc.ID))
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateVersion: %v", err)
		}
	}

	versions, err := repo.ListVersions(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != uploads {
		t.Fatalf("versions: got %d, want %d", len(versions), uploads)
	}
	for i, v := range versions {
		if v.VersionNo != i+1 {
			t.Errorf("versions[%d].VersionNo: got %d, want %d", i, v.VersionNo, i+1)
		}
		if v.VerificationStatus != domain.VerificationPending {
			t.Errorf("versions[%d] status: got %s", i, v.VerificationStatus)
		}
	}
}

func TestRepo_CreateVersion_RequiresContent(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	doc := testhelper.SeedDocument(t, pool, "PASSPORT", nil)

	v := buildVersion(doc.ID)
	v.StructuredData = nil

	_, err := repo.CreateVersion(context.Background(), v)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("CreateVersion without content: got %v, want ErrValidation", err)
	}
}

func TestRepo_AttachTask_FirstWriterWins(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	doc := testhelper.SeedDocument(t, pool, "PASSPORT", nil)
	v := testhelper.SeedVersion(t, pool, doc.ID)
	first := testhelper.SeedTask(t, pool, 1)
	second := testhelper.SeedTask(t, pool, 1)

	attached, err := repo.AttachTask(ctx, v.ID, first.ID)
	if err != nil || !attached {
		t.Fatalf("first AttachTask: attached=%v err=%v", attached, err)
	}

	attached, err = repo.AttachTask(ctx, v.ID, second.ID)
	if err != nil {
		t.Fatalf("second AttachTask: %v", err)
	}
	if attached {
		t.Error("second AttachTask overwrote task_id")
	}

	got, err := repo.GetVersion(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got.TaskID == nil || *got.TaskID != first.ID {
		t.Errorf("TaskID: got %v, want %s", got.TaskID, first.ID)
	}
}

func TestRepo_UpdateVerification_ForwardOnly(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	doc := testhelper.SeedDocument(t, pool, "PASSPORT", nil)
	seeded := testhelper.SeedVersion(t, pool, doc.ID)

	v := seeded
	if err := v.Verify("analyst", time.Now().UTC().Truncate(time.Microsecond)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := repo.UpdateVerification(ctx, v, domain.VerificationPending, domain.VerificationInQA); err != nil {
		t.Fatalf("UpdateVerification: %v", err)
	}

	// A stale copy still pending in memory cannot overwrite the outcome.
	stale := seeded
	if err := stale.Reject("UNREADABLE", nil, "other", time.Now()); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	err := repo.UpdateVerification(ctx, stale, domain.VerificationPending, domain.VerificationInQA)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second UpdateVerification: got %v, want ErrInvalidTransition", err)
	}

	got, err := repo.GetVersion(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got.VerificationStatus != domain.VerificationVerified {
		t.Errorf("status: got %s, want verified", got.VerificationStatus)
	}
	if !sameJSON(t, got.StructuredData, seeded.StructuredData) || got.ContentType != seeded.ContentType {
		t.Error("content changed by verification update")
	}
}

func TestRepo_MissingVersions(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	doc := testhelper.SeedDocument(t, pool, "PASSPORT", nil)
	v := testhelper.SeedVersion(t, pool, doc.ID)
	unknown := uuid.New()

	missing, err := repo.MissingVersions(context.Background(), []uuid.UUID{v.ID, unknown})
	if err != nil {
		t.Fatalf("MissingVersions: %v", err)
	}
	if len(missing) != 1 || missing[0] != unknown {
		t.Errorf("missing: got %v, want [%s]", missing, unknown)
	}
}
