package rest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/service/document"
	"github.com/heartmarshall/taskflow-backend/internal/service/guard"
)

var errNotStubbed = errors.New("not stubbed")

type ingestionMock struct {
	SubmitFunc          func(ctx context.Context, bundle domain.ResultBundle) (domain.SubmitOutcome, error)
	ListDeadLettersFunc func(ctx context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error)
	GetDeadLetterFunc   func(ctx context.Context, id uuid.UUID) (domain.DeadLetterEntry, error)
	ReplayFunc          func(ctx context.Context, id uuid.UUID) (domain.TaskResultRow, error)
	StatsFunc           func(ctx context.Context) (domain.QueueStats, error)
}

func (m *ingestionMock) Submit(ctx context.Context, bundle domain.ResultBundle) (domain.SubmitOutcome, error) {
	if m.SubmitFunc == nil {
		return domain.SubmitOutcome{}, errNotStubbed
	}
	return m.SubmitFunc(ctx, bundle)
}

func (m *ingestionMock) ListDeadLetters(ctx context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	if m.ListDeadLettersFunc == nil {
		return nil, errNotStubbed
	}
	return m.ListDeadLettersFunc(ctx, f)
}

func (m *ingestionMock) GetDeadLetter(ctx context.Context, id uuid.UUID) (domain.DeadLetterEntry, error) {
	if m.GetDeadLetterFunc == nil {
		return domain.DeadLetterEntry{}, errNotStubbed
	}
	return m.GetDeadLetterFunc(ctx, id)
}

func (m *ingestionMock) Replay(ctx context.Context, id uuid.UUID) (domain.TaskResultRow, error) {
	if m.ReplayFunc == nil {
		return domain.TaskResultRow{}, errNotStubbed
	}
	return m.ReplayFunc(ctx, id)
}

func (m *ingestionMock) Stats(ctx context.Context) (domain.QueueStats, error) {
	if m.StatsFunc == nil {
		return domain.QueueStats{}, errNotStubbed
	}
	return m.StatsFunc(ctx)
}

type documentServiceMock struct {
	CreateDocumentFunc    func(ctx context.Context, input document.CreateDocumentInput) (domain.Document, error)
	GetDocumentFunc       func(ctx context.Context, id uuid.UUID) (domain.Document, error)
	CreateVersionFunc     func(ctx context.Context, input document.CreateVersionInput) (domain.DocumentVersion, error)
	GetVersionFunc        func(ctx context.Context, ref document.VersionRef) (domain.DocumentVersion, error)
	ListVersionsFunc      func(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error)
	VersionContentFunc    func(ctx context.Context, ref document.VersionRef) ([]byte, string, error)
	StartQAFunc           func(ctx context.Context, ref document.VersionRef) (document.QAResult, error)
	VerifyFunc            func(ctx context.Context, input document.VerifyInput) (document.QAResult, error)
	RejectFunc            func(ctx context.Context, input document.RejectInput) (document.RejectResult, error)
	CreateRequirementFunc func(ctx context.Context, input document.CreateRequirementInput) (domain.DocumentRequirement, bool, error)
	GetRequirementFunc    func(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	ListRequirementsFunc  func(ctx context.Context, f domain.RequirementFilter) ([]domain.DocumentRequirement, error)
	MissingDocumentsFunc  func(ctx context.Context, entityID uuid.UUID, instanceID *uuid.UUID) ([]domain.DocumentRequirement, error)
	WaiveFunc             func(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	ExpireFunc            func(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error)
	SolicitFunc           func(ctx context.Context, input document.SolicitInput) (document.SolicitResult, error)
	SolicitSetFunc        func(ctx context.Context, input document.SolicitSetInput) (document.SolicitResult, error)

	Codes []domain.RejectionCode
}

func (m *documentServiceMock) CreateDocument(ctx context.Context, input document.CreateDocumentInput) (domain.Document, error) {
	if m.CreateDocumentFunc == nil {
		return domain.Document{}, errNotStubbed
	}
	return m.CreateDocumentFunc(ctx, input)
}

func (m *documentServiceMock) GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	if m.GetDocumentFunc == nil {
		return domain.Document{}, errNotStubbed
	}
	return m.GetDocumentFunc(ctx, id)
}

func (m *documentServiceMock) CreateVersion(ctx context.Context, input document.CreateVersionInput) (domain.DocumentVersion, error) {
	if m.CreateVersionFunc == nil {
		return domain.DocumentVersion{}, errNotStubbed
	}
	return m.CreateVersionFunc(ctx, input)
}

func (m *documentServiceMock) GetVersion(ctx context.Context, ref document.VersionRef) (domain.DocumentVersion, error) {
	if m.GetVersionFunc == nil {
		return domain.DocumentVersion{}, errNotStubbed
	}
	return m.GetVersionFunc(ctx, ref)
}

func (m *documentServiceMock) ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	if m.ListVersionsFunc == nil {
		return nil, errNotStubbed
	}
	return m.ListVersionsFunc(ctx, documentID)
}

func (m *documentServiceMock) VersionContent(ctx context.Context, ref document.VersionRef) ([]byte, string, error) {
	if m.VersionContentFunc == nil {
		return nil, "", errNotStubbed
	}
	return m.VersionContentFunc(ctx, ref)
}

func (m *documentServiceMock) StartQA(ctx context.Context, ref document.VersionRef) (document.QAResult, error) {
	if m.StartQAFunc == nil {
		return document.QAResult{}, errNotStubbed
	}
	return m.StartQAFunc(ctx, ref)
}

func (m *documentServiceMock) Verify(ctx context.Context, input document.VerifyInput) (document.QAResult, error) {
	if m.VerifyFunc == nil {
		return document.QAResult{}, errNotStubbed
	}
	return m.VerifyFunc(ctx, input)
}

func (m *documentServiceMock) Reject(ctx context.Context, input document.RejectInput) (document.RejectResult, error) {
	if m.RejectFunc == nil {
		return document.RejectResult{}, errNotStubbed
	}
	return m.RejectFunc(ctx, input)
}

func (m *documentServiceMock) CreateRequirement(ctx context.Context, input document.CreateRequirementInput) (domain.DocumentRequirement, bool, error) {
	if m.CreateRequirementFunc == nil {
		return domain.DocumentRequirement{}, false, errNotStubbed
	}
	return m.CreateRequirementFunc(ctx, input)
}

func (m *documentServiceMock) GetRequirement(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	if m.GetRequirementFunc == nil {
		return domain.DocumentRequirement{}, errNotStubbed
	}
	return m.GetRequirementFunc(ctx, id)
}

func (m *documentServiceMock) ListRequirements(ctx context.Context, f domain.RequirementFilter) ([]domain.DocumentRequirement, error) {
	if m.ListRequirementsFunc == nil {
		return nil, errNotStubbed
	}
	return m.ListRequirementsFunc(ctx, f)
}

func (m *documentServiceMock) MissingDocuments(ctx context.Context, entityID uuid.UUID, instanceID *uuid.UUID) ([]domain.DocumentRequirement, error) {
	if m.MissingDocumentsFunc == nil {
		return nil, errNotStubbed
	}
	return m.MissingDocumentsFunc(ctx, entityID, instanceID)
}

func (m *documentServiceMock) Waive(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	if m.WaiveFunc == nil {
		return domain.DocumentRequirement{}, errNotStubbed
	}
	return m.WaiveFunc(ctx, id)
}

func (m *documentServiceMock) Expire(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	if m.ExpireFunc == nil {
		return domain.DocumentRequirement{}, errNotStubbed
	}
	return m.ExpireFunc(ctx, id)
}

func (m *documentServiceMock) Solicit(ctx context.Context, input document.SolicitInput) (document.SolicitResult, error) {
	if m.SolicitFunc == nil {
		return document.SolicitResult{}, errNotStubbed
	}
	return m.SolicitFunc(ctx, input)
}

func (m *documentServiceMock) SolicitSet(ctx context.Context, input document.SolicitSetInput) (document.SolicitResult, error) {
	if m.SolicitSetFunc == nil {
		return document.SolicitResult{}, errNotStubbed
	}
	return m.SolicitSetFunc(ctx, input)
}

func (m *documentServiceMock) RejectionCode(code string) (domain.RejectionCode, bool) {
	for _, c := range m.Codes {
		if c.Code == code {
			return c, true
		}
	}
	return domain.RejectionCode{}, false
}

func (m *documentServiceMock) RejectionCodes() []domain.RejectionCode { return m.Codes }

type taskServiceMock struct {
	GetFunc            func(ctx context.Context, id uuid.UUID) (domain.PendingTask, error)
	ListByInstanceFunc func(ctx context.Context, instanceID uuid.UUID) ([]domain.PendingTask, error)
	EventsFunc         func(ctx context.Context, id uuid.UUID) ([]domain.TaskEvent, error)
	CancelFunc         func(ctx context.Context, id uuid.UUID, reason string) (domain.PendingTask, error)
}

func (m *taskServiceMock) Get(ctx context.Context, id uuid.UUID) (domain.PendingTask, error) {
	if m.GetFunc == nil {
		return domain.PendingTask{}, errNotStubbed
	}
	return m.GetFunc(ctx, id)
}

func (m *taskServiceMock) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.PendingTask, error) {
	if m.ListByInstanceFunc == nil {
		return nil, errNotStubbed
	}
	return m.ListByInstanceFunc(ctx, instanceID)
}

func (m *taskServiceMock) Events(ctx context.Context, id uuid.UUID) ([]domain.TaskEvent, error) {
	if m.EventsFunc == nil {
		return nil, errNotStubbed
	}
	return m.EventsFunc(ctx, id)
}

func (m *taskServiceMock) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.PendingTask, error) {
	if m.CancelFunc == nil {
		return domain.PendingTask{}, errNotStubbed
	}
	return m.CancelFunc(ctx, id, reason)
}

type guardServiceMock struct {
	EvaluateGuardFunc func(ctx context.Context, g guard.Guard) (bool, error)
	BlockersFunc      func(ctx context.Context, g guard.Guard) ([]guard.Blocker, error)
}

func (m *guardServiceMock) EvaluateGuard(ctx context.Context, g guard.Guard) (bool, error) {
	if m.EvaluateGuardFunc == nil {
		return false, errNotStubbed
	}
	return m.EvaluateGuardFunc(ctx, g)
}

func (m *guardServiceMock) Blockers(ctx context.Context, g guard.Guard) ([]guard.Blocker, error) {
	if m.BlockersFunc == nil {
		return nil, errNotStubbed
	}
	return m.BlockersFunc(ctx, g)
}

type testAPI struct {
	ingest *ingestionMock
	docs   *documentServiceMock
	tasks  *taskServiceMock
	guards *guardServiceMock

	deps RouterDeps
	cfg  RouterConfig
}

func newTestAPI() *testAPI {
	return &testAPI{
		ingest: &ingestionMock{},
		docs:   &documentServiceMock{},
		tasks:  &taskServiceMock{},
		guards: &guardServiceMock{},
		cfg:    RouterConfig{MaxBodyBytes: 1 << 20},
	}
}

func (a *testAPI) handler() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(Handlers{
		Health:       NewHealthHandler(&dbPingerMock{}, "test"),
		Webhook:      NewWebhookHandler(a.ingest, logger),
		Documents:    NewDocumentHandler(a.docs, logger),
		Requirements: NewRequirementHandler(a.docs, logger),
		Tasks:        NewTaskHandler(a.tasks, logger),
		DeadLetters:  NewDeadLetterHandler(a.ingest, logger),
		Guards:       NewGuardHandler(a.guards, logger),
	}, a.deps, a.cfg, logger)
}

// do sends one request; token may be empty.
func (a *testAPI) do(method, path, body, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler().ServeHTTP(rec, req)
	return rec
}
