package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type memIdemStore struct {
	seen     map[string]bool
	released []string
	err      error
}

func newMemIdemStore() *memIdemStore { return &memIdemStore{seen: map[string]bool{}} }

func (s *memIdemStore) Claim(_ context.Context, userID, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	k := userID + ":" + key
	if s.seen[k] {
		return false, nil
	}
	s.seen[k] = true
	return true, nil
}

func (s *memIdemStore) Release(_ context.Context, userID, key string) error {
	k := userID + ":" + key
	delete(s.seen, k)
	s.released = append(s.released, k)
	return nil
}

// newIdemRouter answers with the status queued in *status (200 when zero).
func newIdemRouter(store IdempotencyStore, calls *int, status *int) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(userIDKey, "u1"); c.Next() })
	r.Use(IdempotencyGuard(IdempotencyOptions{MaxLen: 16}, store))
	r.POST("/", func(c *gin.Context) {
		*calls++
		k, _ := GetIdempotencyKey(c)
		code := http.StatusOK
		if status != nil && *status != 0 {
			code = *status
		}
		c.String(code, k)
	})
	return r
}

func post(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyGuard_RejectsRepeats(t *testing.T) {
	store := newMemIdemStore()
	var calls int
	r := newIdemRouter(store, &calls, nil)

	if w := post(r, ""); w.Code != http.StatusOK {
		t.Fatalf("no header: %d", w.Code)
	}
	if w := post(r, "k-1"); w.Code != http.StatusOK || w.Body.String() != "k-1" {
		t.Fatalf("first: %d %q", w.Code, w.Body.String())
	}
	w := post(r, "k-1")
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "duplicate_request") {
		t.Fatalf("repeat: %d %s", w.Code, w.Body.String())
	}
	if calls != 2 {
		t.Fatalf("handler should run twice, ran %d", calls)
	}
	if len(store.released) != 0 {
		t.Fatalf("successful request must keep its claim, released %v", store.released)
	}
}

func TestIdempotencyGuard_ReleasesKeyOnRejection(t *testing.T) {
	store := newMemIdemStore()
	var calls int
	status := http.StatusTooManyRequests
	r := newIdemRouter(store, &calls, &status)

	if w := post(r, "k-2"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("rejected: %d", w.Code)
	}
	if len(store.released) != 1 || store.released[0] != "u1:k-2" {
		t.Fatalf("released = %v", store.released)
	}

	// The retry with the same key is processed, not treated as a duplicate.
	status = http.StatusOK
	if w := post(r, "k-2"); w.Code != http.StatusOK {
		t.Fatalf("retry after rejection: %d %s", w.Code, w.Body.String())
	}
	if w := post(r, "k-2"); w.Code != http.StatusConflict {
		t.Fatalf("repeat after success: %d", w.Code)
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times", calls)
	}
}

func TestIdempotencyGuard_ValidationAndFailOpen(t *testing.T) {
	store := newMemIdemStore()
	store.err = errors.New("redis down")
	var calls int
	r := newIdemRouter(store, &calls, nil)

	for _, bad := range []string{"has space", strings.Repeat("a", 17)} {
		if w := post(r, bad); w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status %d", bad, w.Code)
		}
	}
	if w := post(r, "ok-key"); w.Code != http.StatusOK {
		t.Fatalf("store failure should not block: %d", w.Code)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
}
