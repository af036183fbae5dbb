package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/pkg/ctxutil"
)

func TestRequestID_ReuseIncoming(t *testing.T) {
	t.Parallel()
	incomingID := uuid.NewString()

	var gotID string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = ctxutil.RequestIDFromCtx(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incomingID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotID != incomingID {
		t.Errorf("context request id: got %q, want %q", gotID, incomingID)
	}
	if got := rec.Header().Get(RequestIDHeader); got != incomingID {
		t.Errorf("%s header: got %q, want %q", RequestIDHeader, got, incomingID)
	}
}

func TestRequestID_GenerateNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{"absent", ""},
		{"oversized", strings.Repeat("x", maxRequestIDLen+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var gotID string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotID = ctxutil.RequestIDFromCtx(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if _, err := uuid.Parse(gotID); err != nil {
				t.Errorf("expected generated UUID, got %q: %v", gotID, err)
			}
			if rec.Header().Get(RequestIDHeader) != gotID {
				t.Errorf("header %q does not match context %q", rec.Header().Get(RequestIDHeader), gotID)
			}
		})
	}
}
