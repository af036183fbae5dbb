package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
	"github.com/heartmarshall/taskflow-backend/internal/service/document"
	"github.com/heartmarshall/taskflow-backend/pkg/ctxutil"
)

type documentService interface {
	CreateDocument(ctx context.Context, input document.CreateDocumentInput) (domain.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error)
	CreateVersion(ctx context.Context, input document.CreateVersionInput) (domain.DocumentVersion, error)
	GetVersion(ctx context.Context, ref document.VersionRef) (domain.DocumentVersion, error)
	ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error)
	VersionContent(ctx context.Context, ref document.VersionRef) ([]byte, string, error)
	StartQA(ctx context.Context, ref document.VersionRef) (document.QAResult, error)
	Verify(ctx context.Context, input document.VerifyInput) (document.QAResult, error)
	Reject(ctx context.Context, input document.RejectInput) (document.RejectResult, error)
	RejectionCode(code string) (domain.RejectionCode, bool)
	RejectionCodes() []domain.RejectionCode
}

// DocumentHandler serves documents, their versions and QA.
type DocumentHandler struct {
	svc documentService
	log *slog.Logger
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(svc documentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, log: logger.With("handler", "document")}
}

type createDocumentRequest struct {
	DocumentType     string     `json:"document_type" validate:"required,max=100"`
	SubjectEntityID  *uuid.UUID `json:"subject_entity_id"`
	SubjectCBUID     *uuid.UUID `json:"subject_cbu_id"`
	ParentDocumentID *uuid.UUID `json:"parent_document_id"`
	RequirementID    *uuid.UUID `json:"requirement_id"`
	Source           string     `json:"source" validate:"omitempty,max=50"`
	SourceRef        *string    `json:"source_ref" validate:"omitempty,max=500"`
}

// createVersionRequest carries inline content as base64, which
// encoding/json decodes into Content.
type createVersionRequest struct {
	ContentType    string          `json:"content_type" validate:"omitempty,max=255"`
	StructuredData json.RawMessage `json:"structured_data"`
	BlobRef        *string         `json:"blob_ref" validate:"omitempty,max=1024"`
	Content        []byte          `json:"content"`
	ValidFrom      *time.Time      `json:"valid_from"`
	ValidTo        *time.Time      `json:"valid_to"`
	QualityScore   *float64        `json:"quality_score" validate:"omitempty,gte=0,lte=1"`
}

type verifyRequest struct {
	VerifiedBy string `json:"verified_by" validate:"max=200"`
}

type rejectRequest struct {
	RejectionCode string  `json:"rejection_code" validate:"required,max=100"`
	Reason        *string `json:"reason" validate:"omitempty,max=2000"`
	VerifiedBy    string  `json:"verified_by" validate:"max=200"`
}

type qaResponse struct {
	Version     versionResponse      `json:"version"`
	Requirement *requirementResponse `json:"requirement,omitempty"`
}

type rejectResponse struct {
	qaResponse
	RejectionCode rejectionCodeResponse `json:"rejection_code"`
	Resolicited   *taskResponse         `json:"resolicited_task,omitempty"`
	Stalled       bool                  `json:"stalled"`
	ManualAction  bool                  `json:"manual_action"`
}

// CreateDocument handles POST /documents.
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := bind(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	input := document.CreateDocumentInput{
		DocumentType:     req.DocumentType,
		SubjectEntityID:  req.SubjectEntityID,
		SubjectCBUID:     req.SubjectCBUID,
		ParentDocumentID: req.ParentDocumentID,
		RequirementID:    req.RequirementID,
		Source:           req.Source,
		SourceRef:        req.SourceRef,
	}
	if subject, ok := ctxutil.SubjectFromCtx(r.Context()); ok {
		input.CreatedBy = &subject
	}

	doc, err := h.svc.CreateDocument(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// GetDocument handles GET /documents/{id}.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	doc, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// CreateVersion handles POST /documents/{id}/versions.
func (h *DocumentHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	docID, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	var req createVersionRequest
	if err := bind(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	v, err := h.svc.CreateVersion(r.Context(), document.CreateVersionInput{
		DocumentID:     docID,
		ContentType:    req.ContentType,
		StructuredData: req.StructuredData,
		BlobRef:        req.BlobRef,
		Content:        req.Content,
		ValidFrom:      req.ValidFrom,
		ValidTo:        req.ValidTo,
		QualityScore:   req.QualityScore,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVersionResponse(v, h.svc.RejectionCode))
}

// ListVersions handles GET /documents/{id}/versions.
func (h *DocumentHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	docID, err := uuidParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	versions, err := h.svc.ListVersions(r.Context(), docID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[versionResponse]{
		Items: mapSlice(versions, func(v domain.DocumentVersion) versionResponse {
			return toVersionResponse(v, h.svc.RejectionCode)
		}),
	})
}

// GetVersion handles GET /documents/{id}/versions/{ver}.
func (h *DocumentHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	ref, err := versionRef(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	v, err := h.svc.GetVersion(r.Context(), ref)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionResponse(v, h.svc.RejectionCode))
}

// VersionContent handles GET /documents/{id}/versions/{ver}/content.
func (h *DocumentHandler) VersionContent(w http.ResponseWriter, r *http.Request) {
	ref, err := versionRef(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	data, contentType, err := h.svc.VersionContent(r.Context(), ref)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// StartQA handles POST /documents/{id}/versions/{ver}/qa.
func (h *DocumentHandler) StartQA(w http.ResponseWriter, r *http.Request) {
	ref, err := versionRef(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	res, err := h.svc.StartQA(r.Context(), ref)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toQAResponse(res))
}

// Verify handles POST /documents/{id}/versions/{ver}/verify.
func (h *DocumentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ref, err := versionRef(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	var req verifyRequest
	if err := bindOptional(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	res, err := h.svc.Verify(r.Context(), document.VerifyInput{
		VersionRef: ref,
		VerifiedBy: actor(r, req.VerifiedBy),
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toQAResponse(res))
}

// Reject handles POST /documents/{id}/versions/{ver}/reject.
func (h *DocumentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ref, err := versionRef(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	var req rejectRequest
	if err := bind(r, &req); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	res, err := h.svc.Reject(r.Context(), document.RejectInput{
		VersionRef: ref,
		Code:       req.RejectionCode,
		Reason:     req.Reason,
		VerifiedBy: actor(r, req.VerifiedBy),
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	resp := rejectResponse{
		qaResponse:    h.toQAResponse(res.QAResult),
		RejectionCode: toRejectionCodeResponse(res.Code),
		Stalled:       res.Stalled,
		ManualAction:  res.ManualAction,
	}
	if res.Resolicited != nil {
		t := toTaskResponse(*res.Resolicited)
		resp.Resolicited = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// RejectionCodes handles GET /rejection-codes.
func (h *DocumentHandler) RejectionCodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[rejectionCodeResponse]{
		Items: mapSlice(h.svc.RejectionCodes(), toRejectionCodeResponse),
	})
}

func (h *DocumentHandler) toQAResponse(res document.QAResult) qaResponse {
	resp := qaResponse{Version: toVersionResponse(res.Version, h.svc.RejectionCode)}
	if res.Requirement != nil {
		req := toRequirementResponse(*res.Requirement, h.svc.RejectionCode)
		resp.Requirement = &req
	}
	return resp
}

func versionRef(r *http.Request) (document.VersionRef, error) {
	docID, err := uuidParam(r, "id")
	if err != nil {
		return document.VersionRef{}, err
	}
	verID, err := uuidParam(r, "ver")
	if err != nil {
		return document.VersionRef{}, err
	}
	return document.VersionRef{DocumentID: docID, VersionID: verID}, nil
}

// actor prefers an explicit name from the body and falls back to the token subject.
func actor(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	subject, _ := ctxutil.SubjectFromCtx(r.Context())
	return subject
}
