// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, sessions, idempotency, and rate limiting.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. CORS and security headers
//  8. gzip (JSON routes only; the chat stream and /metrics are never wrapped)
//
// The /api group adds RequireSession and the per-user rate limiter.
// POST /api/chat additionally runs behind the idempotency guard.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-deepsearch/docs"
	"github.com/tbourn/go-deepsearch/internal/config"
	"github.com/tbourn/go-deepsearch/internal/http/handlers"
	"github.com/tbourn/go-deepsearch/internal/http/middleware"
)

// maxBodyBytes caps request bodies. Long research conversations are sent
// in full on every turn.
const maxBodyBytes = 4 << 20

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// Deps are the services the routes are bound to.
type Deps struct {
	Sessions middleware.SessionVerifier
	Chats    handlers.ChatService
	Pipeline handlers.ChatPipeline
	Quota    handlers.QuotaService

	// Idempotency backs the guard on POST /api/chat. Nil disables it.
	Idempotency middleware.IdempotencyStore

	// Ready lists the readiness checks run by /ready, keyed by name.
	Ready map[string]Pinger
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		MaskParams:  []string{"session"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`^/api/chat$`}),
	))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(d.Ready))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(d.Chats, d.Pipeline, d.Quota)

	api := r.Group("/api")
	api.Use(middleware.RequireSession(d.Sessions))
	api.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler())
	{
		if d.Idempotency != nil {
			api.POST("/chat", middleware.IdempotencyGuard(middleware.IdempotencyOptions{MaxLen: 200}, d.Idempotency), h.PostChat)
		} else {
			api.POST("/chat", h.PostChat)
		}

		api.GET("/chats", h.ListChats)
		api.GET("/chats/:id", h.GetChat)
		api.PUT("/chats/:id/title", h.UpdateChatTitle)

		api.GET("/quota", h.GetQuota)
	}
}

// KeyStore is the subset of the cache store used for idempotency keys.
type KeyStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// StoreIdempotency keeps idempotency claims in the shared store under
// idem:<user>:<key> for TTL.
type StoreIdempotency struct {
	Store KeyStore
	TTL   time.Duration
}

var _ middleware.IdempotencyStore = StoreIdempotency{}

func idemKey(userID, key string) string { return "idem:" + userID + ":" + key }

// Claim sets the key if absent.
func (s StoreIdempotency) Claim(ctx context.Context, userID, key string) (bool, error) {
	return s.Store.SetNX(ctx, idemKey(userID, key), "1", s.TTL)
}

// Release deletes the key.
func (s StoreIdempotency) Release(ctx context.Context, userID, key string) error {
	return s.Store.Del(ctx, idemKey(userID, key))
}

// corsMiddleware allows every origin when no allowlist is configured.
// With an allowlist, credentials are allowed so the session cookie works.
func corsMiddleware(cc config.CORSConfig) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "PUT", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "Retry-After", "ETag"}

	if len(cc.AllowedOrigins) == 0 {
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    methods,
				AllowHeaders:    headers,
				ExposeHeaders:   expose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	return []gin.HandlerFunc{cors.New(cors.Config{
		AllowOrigins:     cc.AllowedOrigins,
		AllowMethods:     methods,
		AllowHeaders:     headers,
		ExposeHeaders:    expose,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})}
}

// readiness runs every check with a short deadline and returns 503 with
// the failing names when any of them errors.
func readiness(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			middleware.LoggerFrom(c).Warn().Interface("failed", failed).Msg("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps the request body at maxBytes. Reads past the cap fail
// with *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
