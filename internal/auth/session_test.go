package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifier_BearerAndCookie(t *testing.T) {
	v := NewVerifier("secret", "session")
	tok, err := v.IssueToken("u1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	s, err := v.FromRequest(r)
	if err != nil || s.UserID != "u1" || s.ExpiresAt.IsZero() {
		t.Fatalf("bearer: session=%+v err=%v", s, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: tok})
	if s, err := v.FromRequest(r); err != nil || s.UserID != "u1" {
		t.Fatalf("cookie: session=%+v err=%v", s, err)
	}
}

func TestVerifier_Failures(t *testing.T) {
	v := NewVerifier("secret", "session")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := v.FromRequest(r); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	other, _ := NewVerifier("other", "").IssueToken("u1", time.Hour)
	if _, err := v.Verify(other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: expected ErrInvalidToken, got %v", err)
	}

	expired, _ := v.IssueToken("u1", -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	if _, err := v.Verify(noSub); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none must be rejected, got %v", err)
	}
}
