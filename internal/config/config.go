// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage backends, the LLM and search providers, quotas and
// observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Validation errors returned by Load.
var (
	ErrInvalidLogLevel  = errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	ErrEmptyPort        = errors.New("PORT must not be empty")
	ErrInvalidTimeouts  = errors.New("timeouts must be positive durations")
	ErrInvalidDBDriver  = errors.New("DB_DRIVER must be sqlite or postgres")
	ErrMissingDSN       = errors.New("DB_DSN is required when DB_DRIVER=postgres")
	ErrEmptyDBPath      = errors.New("DB_PATH must not be empty")
	ErrMissingJWTSecret = errors.New("JWT_SECRET must be set outside development")
	ErrInvalidQuota     = errors.New("DAILY_REQUEST_LIMIT must be >= 1")
	ErrInvalidMaxSteps  = errors.New("LLM_MAX_STEPS must be >= 1")
	ErrInvalidRate      = errors.New("RATE_RPS must be >= 0 and RATE_BURST >= 1")
	ErrInvalidModelRate = errors.New("MODEL_RATE_WINDOW must be > 0 and MODEL_RATE_MAX_RETRIES >= 0")
	ErrInvalidScrape    = errors.New("SCRAPE_* values must be positive")
	ErrInvalidSampler   = errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the relational backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // sqlite file
	DSN    string // postgres connection string
}

// RedisConfig points at the key-value store used for rate limiting,
// the scrape cache and idempotency keys.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	JWTSecret  string
	CookieName string
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	APIKey   string
	BaseURL  string // optional, OpenAI-compatible endpoint
	Model    string
	MaxSteps int
}

// SearchConfig configures the web search API.
type SearchConfig struct {
	APIKey     string
	BaseURL    string
	NumResults int
	Timeout    time.Duration
}

// ScrapeConfig configures page fetching and its cache.
type ScrapeConfig struct {
	CacheTTL    time.Duration
	Timeout     time.Duration
	Concurrency int
	MaxRetries  int
	MaxChars    int
}

// QuotaConfig holds the per-user daily quota and the global model throttle.
type QuotaConfig struct {
	DailyLimit      int           // DAILY_REQUEST_LIMIT
	ModelMax        int           // MODEL_RATE_MAX_REQUESTS, 0 disables the throttle
	ModelWindow     time.Duration // MODEL_RATE_WINDOW
	ModelMaxRetries int           // MODEL_RATE_MAX_RETRIES
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	Env               string // development|production
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // 0 disables; chat streams can run for minutes
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string
	LogFormat      string // json|console
	SwaggerEnabled bool

	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	LLM    LLMConfig
	Search SearchConfig
	Scrape ScrapeConfig
	Quota  QuotaConfig

	// Edge rate limiting (per client, in-process)
	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// IsDevelopment reports whether the service runs with development defaults.
func (c Config) IsDevelopment() bool { return c.Env == "development" }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		Env:               strings.ToLower(getenv("ENV", "development")),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getenv("LOG_FORMAT", "json")),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "deepsearch.db"),
			DSN:    getenv("DB_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:  getenv("JWT_SECRET", ""),
			CookieName: getenv("SESSION_COOKIE", "session"),
		},
		LLM: LLMConfig{
			APIKey:   getenv("OPENAI_API_KEY", ""),
			BaseURL:  getenv("OPENAI_BASE_URL", ""),
			Model:    getenv("LLM_MODEL", "gpt-4o-mini"),
			MaxSteps: getint("LLM_MAX_STEPS", 10),
		},
		Search: SearchConfig{
			APIKey:     getenv("SEARCH_API_KEY", ""),
			BaseURL:    getenv("SEARCH_BASE_URL", "https://google.serper.dev"),
			NumResults: getint("SEARCH_NUM_RESULTS", 10),
			Timeout:    getdur("SEARCH_TIMEOUT", 10*time.Second),
		},
		Scrape: ScrapeConfig{
			CacheTTL:    getdur("SCRAPE_CACHE_TTL", 6*time.Hour),
			Timeout:     getdur("SCRAPE_TIMEOUT", 15*time.Second),
			Concurrency: getint("SCRAPE_CONCURRENCY", 4),
			MaxRetries:  getint("SCRAPE_MAX_RETRIES", 3),
			MaxChars:    getint("SCRAPE_MAX_CHARS", 20000),
		},
		Quota: QuotaConfig{
			DailyLimit:      getint("DAILY_REQUEST_LIMIT", 50),
			ModelMax:        getint("MODEL_RATE_MAX_REQUESTS", 20),
			ModelWindow:     getdur("MODEL_RATE_WINDOW", time.Minute),
			ModelMaxRetries: getint("MODEL_RATE_MAX_RETRIES", 2),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-deepsearch"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.LogFormat != "console" {
		cfg.LogFormat = "json"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, ErrInvalidLogLevel
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, ErrEmptyPort
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 ||
		cfg.ShutdownTimeout <= 0 || cfg.WriteTimeout < 0 {
		return cfg, ErrInvalidTimeouts
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, ErrEmptyDBPath
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, ErrMissingDSN
		}
	default:
		return cfg, ErrInvalidDBDriver
	}
	if cfg.Auth.JWTSecret == "" && !cfg.IsDevelopment() {
		return cfg, ErrMissingJWTSecret
	}
	if cfg.Quota.DailyLimit < 1 {
		return cfg, ErrInvalidQuota
	}
	if cfg.Quota.ModelMax < 0 || cfg.Quota.ModelWindow <= 0 || cfg.Quota.ModelMaxRetries < 0 {
		return cfg, ErrInvalidModelRate
	}
	if cfg.LLM.MaxSteps < 1 {
		return cfg, ErrInvalidMaxSteps
	}
	if cfg.RateRPS < 0 || cfg.RateBurst < 1 {
		return cfg, ErrInvalidRate
	}
	if cfg.Scrape.CacheTTL <= 0 || cfg.Scrape.Timeout <= 0 || cfg.Scrape.Concurrency < 1 ||
		cfg.Scrape.MaxRetries < 0 || cfg.Scrape.MaxChars < 1 {
		return cfg, ErrInvalidScrape
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, ErrInvalidSampler
	}

	return cfg, nil
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
