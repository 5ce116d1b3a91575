// Package auth verifies session tokens. A session is an HS256 JWT whose
// "sub" claim is the user id, sent as a Bearer token or in a cookie.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSession      = errors.New("auth: no session")
	ErrInvalidToken   = errors.New("auth: invalid session token")
	ErrMissingSubject = errors.New("auth: session has no user id")
)

// Session is the authenticated identity attached to a request.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

// Verifier checks session tokens signed with a shared secret.
type Verifier struct {
	secret     []byte
	cookieName string
}

// NewVerifier returns a Verifier. cookieName may be empty to accept only
// Authorization headers.
func NewVerifier(secret, cookieName string) *Verifier {
	return &Verifier{secret: []byte(secret), cookieName: cookieName}
}

// FromRequest extracts and verifies the session on r. The Authorization
// header wins over the cookie.
func (v *Verifier) FromRequest(r *http.Request) (Session, error) {
	tok := bearerToken(r)
	if tok == "" && v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil {
			tok = strings.TrimSpace(c.Value)
		}
	}
	if tok == "" {
		return Session{}, ErrNoSession
	}
	return v.Verify(tok)
}

// Verify parses tok and returns its session. A token that verifies but has
// an empty subject yields ErrMissingSubject.
func (v *Verifier) Verify(tok string) (Session, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Session{}, ErrMissingSubject
	}
	s := Session{UserID: claims.Subject}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// IssueToken signs a session token for userID valid for ttl. Tests and
// local tooling use it; production tokens come from the identity provider.
func (v *Verifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return s, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
