package middleware

import (
	"net/http"
	"strings"

	"github.com/heartmarshall/taskflow-backend/internal/auth"
	"github.com/heartmarshall/taskflow-backend/pkg/ctxutil"
)

type tokenValidator interface {
	Validate(token string) (auth.Principal, error)
}

// Auth authenticates bearer service tokens. With required set, a request
// without a token is refused; otherwise it passes through anonymous.
// A token that is present but invalid is always refused.
func Auth(validator tokenValidator, required bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				if required {
					w.Header().Set("WWW-Authenticate", "Bearer")
					writeError(w, http.StatusUnauthorized, "missing bearer token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			p, err := validator.Validate(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := ctxutil.WithSubject(r.Context(), p.Subject, string(p.Scope))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope refuses authenticated callers whose scope does not grant
// scope. Anonymous requests only reach it when auth is disabled, and pass.
func RequireScope(scope auth.Scope) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ctxutil.SubjectFromCtx(r.Context()); ok {
				if !auth.Scope(ctxutil.ScopeFromCtx(r.Context())).Grants(scope) {
					writeError(w, http.StatusForbidden, "scope "+string(scope)+" required")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
