package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope limits what a service token may call.
type Scope string

const (
	// ScopeSubmitter may post result bundles and upload document versions.
	ScopeSubmitter Scope = "submitter"
	// ScopeOperator may additionally run QA, waive requirements and replay dead letters.
	ScopeOperator Scope = "operator"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSubmitter, ScopeOperator:
		return true
	}
	return false
}

// Grants reports whether a token with scope s may call an endpoint that
// requires scope required. Operators may do everything submitters may.
func (s Scope) Grants(required Scope) bool {
	switch s {
	case ScopeOperator:
		return required.Valid()
	case ScopeSubmitter:
		return required == ScopeSubmitter
	}
	return false
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	Scope   Scope
}

// JWTManager issues and validates HS256 service tokens.
// The subject is the name of the external system holding the token.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWTManager creates a new JWT manager.
// secret must be at least 32 characters for HS256 security.
func NewJWTManager(secret string, issuer string, ttl time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

type serviceClaims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// Issue creates a signed token for the named system.
func (m *JWTManager) Issue(subject string, scope Scope) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("subject is empty")
	}
	if !scope.Valid() {
		return "", fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now()
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and validates a service token.
func (m *JWTManager) Validate(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &serviceClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*serviceClaims)
	if !ok || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" || !claims.Scope.Valid() {
		return Principal{}, fmt.Errorf("token missing subject or scope")
	}

	return Principal{Subject: claims.Subject, Scope: claims.Scope}, nil
}
