package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRedactingLogger_MasksSecretsAndPII(t *testing.T) {
	buf := captureLogs(t)
	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Custom-Secret"}}))
	var ctxLogged bool
	r.GET("/things", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("inside handler")
		ctxLogged = true
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/things?token=s3cr3t&q=ada@example.com", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	req.Header.Set("X-Api-Key", "key-123")
	req.Header.Set("X-Custom-Secret", "hidden")
	req.Header.Set("X-Note", "call +1 212-555-1212")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, leaked := range []string{"s3cr3t", "abc.def.ghi", "key-123", "hidden", "ada@example.com", "555-1212"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("log leaked %q: %s", leaked, out)
		}
	}
	if !ctxLogged || !strings.Contains(out, "inside handler") {
		t.Fatalf("request context logger missing: %s", out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	var access map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &access); err != nil {
		t.Fatalf("access log not json: %v", err)
	}
	if access["level"] != "warn" || access["path"] != "/things" || access["status"] != float64(http.StatusTeapot) {
		t.Fatalf("access log unexpected: %v", access)
	}
	if access["request_id"] == "" {
		t.Fatalf("request id missing from access log")
	}
}

func TestRedactQuery(t *testing.T) {
	mask := lowerSet([]string{"token"}, nil)
	got := redactQuery("Token=abc&page=2", mask)
	if strings.Contains(got, "abc") || !strings.Contains(got, "page=2") {
		t.Fatalf("redactQuery = %q", got)
	}
	if redactQuery("", mask) != "" {
		t.Fatalf("empty query should stay empty")
	}
	id := "141add05-4415-4938-b5a1-17e0d3171aff"
	if got := redactPII("chat " + id); strings.Contains(got, id) {
		t.Fatalf("uuid not redacted: %q", got)
	}
}
