package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deepsearch/internal/auth"
)

// userIDKey is the Gin context key holding the authenticated user id.
const userIDKey = "userID"

// SessionVerifier resolves the session of a request. *auth.Verifier
// satisfies it.
type SessionVerifier interface {
	FromRequest(r *http.Request) (auth.Session, error)
}

// RequireSession rejects requests without a valid session: 401 when there
// is none or the token does not verify, 400 when the token carries no user
// id. On success the user id is stored for UserID.
func RequireSession(v SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := v.FromRequest(c.Request)
		if err != nil {
			status, code, msg := http.StatusUnauthorized, "unauthorized", "Unauthorized"
			if errors.Is(err, auth.ErrMissingSubject) {
				status, code, msg = http.StatusBadRequest, "bad_request", "No user id found in session"
			}
			LoggerFrom(c).Debug().Err(err).Msg("session rejected")
			c.AbortWithStatusJSON(status, gin.H{
				"request_id": GetRequestID(c),
				"code":       code,
				"message":    msg,
			})
			return
		}

		c.Set(userIDKey, s.UserID)
		lg := LoggerFrom(c).With().Str("user_id", s.UserID).Logger()
		setLogger(c, lg)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside RequireSession.
func UserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}
