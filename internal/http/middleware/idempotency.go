package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header that lets clients mark a chat
// submission so that retries are not processed twice.
const HeaderIdempotencyKey = "Idempotency-Key"

const ctxKeyIdemKey = "idem.key"

// GetIdempotencyKey returns the validated key stashed by IdempotencyGuard.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyOptions configures header validation for IdempotencyGuard.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyStore holds claimed keys.
type IdempotencyStore interface {
	// Claim atomically claims key for userID. It reports false when the key
	// was already claimed inside its retention window.
	Claim(ctx context.Context, userID, key string) (first bool, err error)
	// Release drops a claim so the same key may be submitted again.
	Release(ctx context.Context, userID, key string) error
}

// IdempotencyGuard rejects a repeated Idempotency-Key from the same user
// with 409 before the handler runs, so duplicates consume no quota.
//
// Behavior:
//   - Requests without the header pass through untouched.
//   - Malformed keys (too long, or outside Pattern) get 400.
//   - The first request with a key claims it in store and runs the handler.
//     A later request with the same key gets 409 without reaching it.
//   - When the handler answers with a non-2xx status (quota exhausted,
//     validation failure, upstream error) the claim is released, so the
//     client can retry with the same key.
//
// Notes:
//   - Store failures are logged and the request proceeds (fail open).
//   - Release runs on a context detached from the request's cancellation,
//     since the client may already be gone.
//   - Mount it on the routes that create work, not on reads.
//
// Usage:
//
//	api.POST("/chat", middleware.IdempotencyGuard(middleware.IdempotencyOptions{MaxLen: 200}, store), h.PostChat)
func IdempotencyGuard(opts IdempotencyOptions, store IdempotencyStore) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": GetRequestID(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if store == nil {
			c.Next()
			return
		}

		userID := UserID(c)
		first, err := store.Claim(c.Request.Context(), userID, key)
		switch {
		case err != nil:
			LoggerFrom(c).Warn().Err(err).Msg("idempotency store unavailable, continuing")
			c.Next()
			return
		case !first:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"request_id": GetRequestID(c),
				"code":       "duplicate_request",
				"message":    "a request with this Idempotency-Key was already submitted",
			})
			return
		}

		c.Next()

		if st := c.Writer.Status(); st < 200 || st >= 300 {
			if err := store.Release(context.WithoutCancel(c.Request.Context()), userID, key); err != nil {
				LoggerFrom(c).Warn().Err(err).Int("status", st).Msg("idempotency release failed")
			}
		}
	}
}
