package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/auth"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/service/document"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

var (
	docID = uuid.MustParse("0192e4a0-0000-7000-8000-00000000d0c1")
	verID = uuid.MustParse("0192e4a0-0000-7000-8000-00000000e001")
)

func issue(t *testing.T, m *auth.JWTManager, subject string, scope auth.Scope) string {
	t.Helper()
	token, err := m.Issue(subject, scope)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func withAuth(api *testAPI) *auth.JWTManager {
	m := auth.NewJWTManager(testSecret, "taskflow", time.Hour)
	api.deps.Validator = m
	api.cfg.AuthRequired = true
	return m
}

func TestCreateDocument_RecordsCaller(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	jwt := withAuth(api)

	var got document.CreateDocumentInput
	api.docs.CreateDocumentFunc = func(_ context.Context, in document.CreateDocumentInput) (domain.Document, error) {
		got = in
		return domain.Document{ID: docID, DocumentType: in.DocumentType, Source: "upload"}, nil
	}

	rec := api.do(http.MethodPost, "/documents", `{"document_type":"PASSPORT"}`, issue(t, jwt, "kyc-vendor", auth.ScopeSubmitter))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body)
	}
	if got.CreatedBy == nil || *got.CreatedBy != "kyc-vendor" {
		t.Errorf("created_by: got %v, want kyc-vendor", got.CreatedBy)
	}
	resp := decodeBody[documentResponse](t, rec)
	want := domain.Document{ID: docID}.CargoRef().String()
	if resp.CargoRef != want {
		t.Errorf("cargo_ref: got %q, want %q", resp.CargoRef, want)
	}
}

func TestCreateDocument_ValidationNamesJSONFields(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	rec := api.do(http.MethodPost, "/documents", `{"source":"upload"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "document_type" || resp.Fields[0].Message != "required" {
		t.Errorf("fields: got %+v", resp.Fields)
	}
}

func TestCreateVersion_InlineContent(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	var got document.CreateVersionInput
	api.docs.CreateVersionFunc = func(_ context.Context, in document.CreateVersionInput) (domain.DocumentVersion, error) {
		got = in
		return domain.DocumentVersion{ID: verID, DocumentID: in.DocumentID, VersionNo: 1, VerificationStatus: domain.VerificationPending}, nil
	}

	body := `{"content_type":"application/pdf","content":"JVBERi0=","quality_score":0.9}`
	rec := api.do(http.MethodPost, "/documents/"+docID.String()+"/versions", body, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body)
	}
	if got.DocumentID != docID {
		t.Errorf("document id: got %s, want %s", got.DocumentID, docID)
	}
	if string(got.Content) != "%PDF-" {
		t.Errorf("content: got %q, want %%PDF-", got.Content)
	}
	resp := decodeBody[versionResponse](t, rec)
	if resp.CargoRef != "version://documents/"+verID.String() {
		t.Errorf("cargo_ref: got %q", resp.CargoRef)
	}
}

func TestCreateVersion_QualityScoreRange(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	rec := api.do(http.MethodPost, "/documents/"+docID.String()+"/versions", `{"structured_data":{},"quality_score":1.5}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "quality_score" {
		t.Errorf("fields: got %+v", resp.Fields)
	}
}

func TestGetVersion_BadPathID(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	rec := api.do(http.MethodGet, "/documents/"+docID.String()+"/versions/latest", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "ver" {
		t.Errorf("fields: got %+v", resp.Fields)
	}
}

func TestVersionContent_Streams(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	api.docs.VersionContentFunc = func(_ context.Context, ref document.VersionRef) ([]byte, string, error) {
		if ref.DocumentID != docID || ref.VersionID != verID {
			return nil, "", domain.ErrNotFound
		}
		return []byte("%PDF-1.7"), "application/pdf", nil
	}

	rec := api.do(http.MethodGet, "/documents/"+docID.String()+"/versions/"+verID.String()+"/content", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type: got %q", ct)
	}
	if rec.Body.String() != "%PDF-1.7" {
		t.Errorf("body: got %q", rec.Body.String())
	}
}

func TestVerify_DefaultsToTokenSubject(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	jwt := withAuth(api)

	var got document.VerifyInput
	api.docs.VerifyFunc = func(_ context.Context, in document.VerifyInput) (document.QAResult, error) {
		got = in
		return document.QAResult{Version: domain.DocumentVersion{ID: in.VersionID, VerificationStatus: domain.VerificationVerified}}, nil
	}

	path := "/documents/" + docID.String() + "/versions/" + verID.String() + "/verify"
	rec := api.do(http.MethodPost, path, "", issue(t, jwt, "ops-console", auth.ScopeOperator))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if got.VerifiedBy != "ops-console" {
		t.Errorf("verified_by: got %q, want ops-console", got.VerifiedBy)
	}
	if got.VersionRef != (document.VersionRef{DocumentID: docID, VersionID: verID}) {
		t.Errorf("ref: got %+v", got.VersionRef)
	}
}

func TestReject_ExposesCodeMessagesAndResolicit(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	api.docs.Codes = []domain.RejectionCode{{
		Code:          "UNREADABLE",
		Category:      "quality",
		ClientMessage: "The document could not be read. Please upload a clearer copy.",
		OpsMessage:    "OCR confidence below threshold",
		NextAction:    "resubmit",
		IsRetryable:   true,
	}}
	code := "UNREADABLE"
	taskID := uuid.MustParse("0192e4a0-0000-7000-8000-0000000000a2")
	api.docs.RejectFunc = func(_ context.Context, in document.RejectInput) (document.RejectResult, error) {
		if in.Code != code || in.VerifiedBy != "qa-analyst" {
			t.Errorf("input: got %+v", in)
		}
		return document.RejectResult{
			QAResult: document.QAResult{
				Version: domain.DocumentVersion{ID: verID, VerificationStatus: domain.VerificationRejected, RejectionCode: &code},
				Requirement: &domain.DocumentRequirement{
					Status: domain.RequirementRequested, AttemptCount: 1, MaxAttempts: 3,
					LastRejectionCode: &code, CurrentTaskID: &taskID,
				},
			},
			Code:        api.docs.Codes[0],
			Resolicited: &domain.PendingTask{ID: taskID, Status: domain.TaskPending, ExpectedCargoCount: 1},
		}, nil
	}

	path := "/documents/" + docID.String() + "/versions/" + verID.String() + "/reject"
	rec := api.do(http.MethodPost, path, `{"rejection_code":"UNREADABLE","verified_by":"qa-analyst"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body)
	}

	resp := decodeBody[rejectResponse](t, rec)
	if resp.Version.Rejection == nil || resp.Version.Rejection.NextAction != "resubmit" {
		t.Errorf("version rejection: got %+v", resp.Version.Rejection)
	}
	if resp.Requirement == nil || resp.Requirement.AttemptCount != 1 || resp.Requirement.Status != domain.RequirementRequested {
		t.Errorf("requirement: got %+v", resp.Requirement)
	}
	if resp.Resolicited == nil || resp.Resolicited.ID != taskID {
		t.Errorf("resolicited: got %+v", resp.Resolicited)
	}
	if resp.RejectionCode.OpsMessage != "OCR confidence below threshold" {
		t.Errorf("ops message: got %q", resp.RejectionCode.OpsMessage)
	}
}

func TestReject_RequiresCode(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	path := "/documents/" + docID.String() + "/versions/" + verID.String() + "/reject"
	rec := api.do(http.MethodPost, path, `{"reason":"blurry"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "rejection_code" {
		t.Errorf("fields: got %+v", resp.Fields)
	}
}

func TestStartQA_InvalidTransitionIsConflict(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	api.docs.StartQAFunc = func(context.Context, document.VersionRef) (document.QAResult, error) {
		return document.QAResult{}, &domain.TransitionError{Entity: "document_version", From: "verified", To: "in_qa"}
	}

	rec := api.do(http.MethodPost, "/documents/"+docID.String()+"/versions/"+verID.String()+"/qa", "", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status: got %d, want 409", rec.Code)
	}
}
