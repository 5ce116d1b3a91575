package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deepsearch/internal/agent"
	"github.com/tbourn/go-deepsearch/internal/http/middleware"
	"github.com/tbourn/go-deepsearch/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error. 5xx responses are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Strs("errors", c.Errors.Errors()).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.GetRequestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// LoggerFrom re-exports the request-scoped logger accessor.
var LoggerFrom = middleware.LoggerFrom

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// setRetryAfter writes a Retry-After header in whole seconds, rounded up.
func setRetryAfter(c *gin.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

// failPipeline maps a chat pipeline error to its HTTP response.
func failPipeline(c *gin.Context, err error) {
	_ = c.Error(err)
	if d, ok := services.RetryAfter(err); ok {
		setRetryAfter(c, d)
	}
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "User not found")
	case errors.Is(err, services.ErrTooManyRequests):
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests")
	case errors.Is(err, services.ErrModelBusy):
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "The model is busy, please try again shortly")
	case errors.Is(err, services.ErrParseRequest):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
	case errors.Is(err, services.ErrRecordRequest):
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Failed to record request")
	case errors.Is(err, services.ErrSaveChat):
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Failed to save chat")
	case errors.Is(err, agent.ErrOrchestration):
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Failed to start the chat")
	case errors.Is(err, context.Canceled):
		c.Abort()
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}
