// Chat HTTP handlers.
//
// This file exposes the read side of conversations:
//   - GET    /chats               (list, paginated, ETag support)
//   - GET    /chats/{id}          (chat with ordered messages)
//   - PUT    /chats/{id}/title    (rename)
//
// Message content is only written by POST /chat (stream_handler.go).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/http/middleware"
	"github.com/tbourn/go-deepsearch/internal/services"
	"github.com/tbourn/go-deepsearch/internal/utils"
)

// ChatService defines the chat read operations consumed by HTTP handlers.
type ChatService interface {
	// ListPage returns a page of chats for a user and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error)
	// Stats returns the chat count and latest update time for ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
	// Get returns a chat owned by userID with its messages.
	Get(ctx context.Context, userID, chatID string) (*services.ChatView, error)
	// UpdateTitle renames a chat that belongs to userID.
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
}

// QuotaService reports daily quota usage.
type QuotaService interface {
	StatusFor(ctx context.Context, userID string) (services.QuotaStatus, error)
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	chatSvc  ChatService
	pipeline ChatPipeline
	quotaSvc QuotaService
}

// New constructs a Handlers instance bound to the given services.
func New(chatSvc ChatService, pipeline ChatPipeline, quotaSvc QuotaService) *Handlers {
	return &Handlers{chatSvc: chatSvc, pipeline: pipeline, quotaSvc: quotaSvc}
}

// UpdateChatTitleRequest is the JSON payload for updating a chat title.
type UpdateChatTitleRequest struct {
	// Title is the new chat name (1–255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Go 1.23 release notes"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of the user's chats, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	page, pageSize := utils.ClampPagination(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if count, maxTS, err := h.chatSvc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"chats:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list chats")
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListChatsResponse{
		Chats: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Description Returns a chat owned by the current user with its messages in conversation order.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id   path    string  true  "Chat ID"
//
// @Success     200  {object} services.ChatView
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	v, err := h.chatSvc.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load chat")
	default:
		ok(c, http.StatusOK, v)
	}
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Description Updates the title of a chat owned by the current user.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id         path    string  true  "Chat ID"
// @Param       body       body    handlers.UpdateChatTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	err := h.chatSvc.UpdateTitle(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Title)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to rename chat")
	default:
		noContent(c)
	}
}

// GetQuota godoc
// @ID          getQuota
// @Summary     Daily quota status
// @Description Returns today's request count against the daily limit. Admins are not limited.
// @Tags        Quota
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} services.QuotaStatus
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /quota [get]
func (h *Handlers) GetQuota(c *gin.Context) {
	st, err := h.quotaSvc.StatusFor(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failPipeline(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
