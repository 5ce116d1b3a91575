// Command server runs the deepsearch HTTP API.
//
// @title                      go-deepsearch API
// @version                    1.0
// @description                Research chat backend: streamed agent turns with web search and page scraping, daily quotas, and chat history.
// @BasePath                   /api
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-deepsearch/internal/agent"
	"github.com/tbourn/go-deepsearch/internal/auth"
	"github.com/tbourn/go-deepsearch/internal/cache"
	"github.com/tbourn/go-deepsearch/internal/config"
	httpapi "github.com/tbourn/go-deepsearch/internal/http"
	"github.com/tbourn/go-deepsearch/internal/http/handlers"
	"github.com/tbourn/go-deepsearch/internal/observability"
	"github.com/tbourn/go-deepsearch/internal/ratelimit"
	"github.com/tbourn/go-deepsearch/internal/repo"
	"github.com/tbourn/go-deepsearch/internal/scraper"
	"github.com/tbourn/go-deepsearch/internal/search"
	"github.com/tbourn/go-deepsearch/internal/services"
	"github.com/tbourn/go-deepsearch/internal/sysutil"
)

// devJWTSecret signs sessions in development when JWT_SECRET is unset.
const devJWTSecret = "deepsearch-dev-secret"

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger("info", "json", nil)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogFormat, nil)
	gin.SetMode(cfg.GinMode)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := observability.Build{
		Version: sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev"),
		Env:     cfg.Env,
	}
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, build)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		DSN:     cfg.DB.DSN,
		Tracing: cfg.OTEL.Enabled,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// Redis backs optional features only; start without it.
	redisOpts := cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	store, err := cache.Open(ctx, redisOpts)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, throttle and scrape cache degrade open")
		store = cache.Dial(redisOpts)
	}
	defer store.Close()

	fetcher := &scraper.Cached{
		Next: scraper.New(scraper.Options{
			Timeout:     cfg.Scrape.Timeout,
			Concurrency: cfg.Scrape.Concurrency,
			MaxRetries:  cfg.Scrape.MaxRetries,
			MaxChars:    cfg.Scrape.MaxChars,
		}),
		Store: store,
		TTL:   cfg.Scrape.CacheTTL,
	}
	searcher := search.NewClient(cfg.Search.BaseURL, cfg.Search.APIKey, cfg.Search.NumResults, cfg.Search.Timeout)
	orch := agent.NewService(
		agent.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL),
		cfg.LLM.Model,
		cfg.LLM.MaxSteps,
		searcher,
		fetcher,
	)

	throttle := &ratelimit.Throttle{
		Limiter:    ratelimit.New(store),
		Subject:    "model:" + cfg.LLM.Model,
		Max:        cfg.Quota.ModelMax,
		Window:     cfg.Quota.ModelWindow,
		MaxRetries: cfg.Quota.ModelMaxRetries,
	}
	quota := services.NewQuotaService(db, cfg.Quota.DailyLimit)
	pipeline := services.NewChatPipeline(db, quota, orch, throttle)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		log.Warn().Msg("JWT_SECRET not set, using the development signing key")
		secret = devJWTSecret
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		Sessions:    auth.NewVerifier(secret, cfg.Auth.CookieName),
		Chats:       services.NewChatService(db, nil),
		Pipeline:    handlers.FromPipeline(pipeline),
		Quota:       quota,
		Idempotency: httpapi.StoreIdempotency{Store: store, TTL: cfg.IdempotencyTTL},
		Ready: map[string]httpapi.Pinger{
			"db":    sqlDB.PingContext,
			"redis": store.Ping,
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("model", cfg.LLM.Model).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
