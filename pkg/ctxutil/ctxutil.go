package ctxutil

import (
	"context"
)

type ctxKey string

const (
	subjectKey   ctxKey = "subject"
	scopeKey     ctxKey = "scope"
	requestIDKey ctxKey = "request_id"
)

// WithSubject stores the authenticated caller name and scope in the context.
func WithSubject(ctx context.Context, subject, scope string) context.Context {
	ctx = context.WithValue(ctx, subjectKey, subject)
	return context.WithValue(ctx, scopeKey, scope)
}

// SubjectFromCtx extracts the caller name.
// Returns "" and false if the request was not authenticated.
func SubjectFromCtx(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ScopeFromCtx extracts the caller scope, or "" when absent.
func ScopeFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey).(string)
	return s
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx extracts the request ID from the context.
// Returns an empty string if absent.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
