// Package middleware contains the Gin middleware shared by all routes:
// correlation ids, request-scoped logging with redaction, panic recovery,
// session authentication, idempotency, edge rate limiting, Prometheus
// instrumentation and security headers.
//
// Recommended order: RequestID, RedactingLogger, Recovery, Metrics, then
// per-group middleware (RequireSession, RateLimiter) and per-route
// IdempotencyGuard.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key of the request-scoped logger.
	loggerKey = "logger"
	// maxRequestIDLength bounds client-supplied correlation ids.
	maxRequestIDLength = 128
)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// Behavior:
//   - An incoming X-Request-ID of at most 128 bytes is reused. Otherwise a
//     new UUIDv4 is generated.
//   - The id is echoed in the X-Request-ID response header and stored in the
//     Gin context, where GetRequestID reads it.
//
// Place it first so the access log, error bodies and panic reports all
// carry the id.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID())
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// GetRequestID returns the correlation id set by RequestID.
func GetRequestID(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500
// error.
//
// Behavior:
//   - Logs the panic value and stack with the request-scoped logger.
//   - When nothing has been written yet, responds with
//     { "request_id": "...", "code": "internal_error", "message": "internal server error" }
//     and sets X-Request-ID.
//   - A panic in the middle of a chat stream only aborts the handler chain.
//     The status line is already on the wire, so no JSON body is attempted.
//
// Place it after RedactingLogger so the panic is logged with the request's
// fields.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := GetRequestID(c)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger attached by
// RedactingLogger.
//
// When no logger was attached (tests, or routes mounted outside the normal
// chain) a logger derived from the global zerolog logger is returned, so
// callers never need nil checks.
//
// Usage:
//
//	middleware.LoggerFrom(c).Info().Str("chat_id", id).Msg("chat renamed")
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// setLogger stores lg in the Gin context and in the request context so that
// code below the transport can use zerolog.Ctx.
func setLogger(c *gin.Context, lg zerolog.Logger) {
	c.Set(loggerKey, &lg)
	c.Request = c.Request.WithContext(lg.WithContext(c.Request.Context()))
}

// asString converts an arbitrary interface to a string, returning an empty
// string when the value is not a string. Used for context values.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate returns s unchanged when within max length, otherwise it truncates
// s to max bytes and appends an ellipsis. A max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
