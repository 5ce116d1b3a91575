package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/services"
)

type fakeChatSvc struct {
	items     []domain.Chat
	total     int64
	listErr   error
	listCalls int
	gotPage   int
	gotSize   int

	count int64
	last  *time.Time

	view   *services.ChatView
	getErr error

	renameErr error
	gotTitle  string
}

func (f *fakeChatSvc) ListPage(_ context.Context, _ string, page, pageSize int) ([]domain.Chat, int64, error) {
	f.listCalls++
	f.gotPage, f.gotSize = page, pageSize
	return f.items, f.total, f.listErr
}

func (f *fakeChatSvc) Stats(context.Context, string) (int64, *time.Time, error) {
	return f.count, f.last, nil
}

func (f *fakeChatSvc) Get(context.Context, string, string) (*services.ChatView, error) {
	return f.view, f.getErr
}

func (f *fakeChatSvc) UpdateTitle(_ context.Context, _, _, title string) error {
	f.gotTitle = title
	return f.renameErr
}

type fakeQuota struct {
	st  services.QuotaStatus
	err error
}

func (f fakeQuota) StatusFor(context.Context, string) (services.QuotaStatus, error) { return f.st, f.err }

func newReadRouter(cs ChatService, q QuotaService) *gin.Engine {
	h := New(cs, nil, q)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "u1"); c.Next() })
	r.GET("/chats", h.ListChats)
	r.GET("/chats/:id", h.GetChat)
	r.PUT("/chats/:id/title", h.UpdateChatTitle)
	r.GET("/quota", h.GetQuota)
	return r
}

func do(r http.Handler, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListChats_PaginationAndETag(t *testing.T) {
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeChatSvc{
		items: []domain.Chat{{ID: "c1", Title: "Hello"}},
		total: 41, count: 41, last: &ts,
	}
	r := newReadRouter(fs, nil)

	w := do(r, http.MethodGet, "/chats?page=2&page_size=20", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext || resp.Pagination.Page != 2 || len(resp.Chats) != 1 {
		t.Fatalf("pagination unexpected: %+v", resp.Pagination)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}

	w = do(r, http.MethodGet, "/chats?page=2&page_size=20", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified || fs.listCalls != 1 {
		t.Fatalf("expected 304 without listing, got %d (calls=%d)", w.Code, fs.listCalls)
	}

	w = do(r, http.MethodGet, "/chats?page=3&page_size=20", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("other page must not match the ETag, got %d", w.Code)
	}

	fs.listErr = errors.New("boom")
	if w := do(r, http.MethodGet, "/chats", nil, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("list error: %d", w.Code)
	}
}

func TestGetChat(t *testing.T) {
	fs := &fakeChatSvc{view: &services.ChatView{ID: "c1", Title: "Hello", Messages: []domain.UIMessage{{Role: "user", Content: "Hello"}}}}
	r := newReadRouter(fs, nil)

	w := do(r, http.MethodGet, "/chats/c1", nil, nil)
	var v services.ChatView
	if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &v) != nil || len(v.Messages) != 1 {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}

	fs.getErr = services.ErrChatNotFound
	if w := do(r, http.MethodGet, "/chats/c1", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing chat: %d", w.Code)
	}
}

func TestUpdateChatTitle(t *testing.T) {
	fs := &fakeChatSvc{}
	r := newReadRouter(fs, nil)

	if w := do(r, http.MethodPut, "/chats/c1/title", []byte(`{"title":"  "}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("blank title: %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/chats/c1/title", []byte(`{"title":"Go"}`), nil); w.Code != http.StatusNoContent || fs.gotTitle != "Go" {
		t.Fatalf("rename: %d title=%q", w.Code, fs.gotTitle)
	}
	fs.renameErr = services.ErrChatNotFound
	if w := do(r, http.MethodPut, "/chats/c1/title", []byte(`{"title":"Go"}`), nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing chat: %d", w.Code)
	}
}

func TestGetQuota(t *testing.T) {
	r := newReadRouter(nil, fakeQuota{st: services.QuotaStatus{Limit: 50, Used: 3, Remaining: 47}})
	w := do(r, http.MethodGet, "/quota", nil, nil)
	var st services.QuotaStatus
	if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &st) != nil || st.Remaining != 47 {
		t.Fatalf("quota: %d %s", w.Code, w.Body.String())
	}

	r = newReadRouter(nil, fakeQuota{err: services.ErrUserNotFound})
	if w := do(r, http.MethodGet, "/quota", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user: %d", w.Code)
	}
}
