package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn"}, &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestCtxReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{}, &buf).With().Str("k", "v").Logger()
	ctx := WithLogger(context.Background(), l)

	got := Ctx(ctx)
	got.Info().Msg("x")
	if !bytes.Contains(buf.Bytes(), []byte(`"k":"v"`)) {
		t.Fatalf("context logger not used: %q", buf.String())
	}
}

func TestGinMiddlewareLogsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(GinMiddleware(New(Config{}, &buf)))
	r.GET("/ping", func(c *gin.Context) {
		logger := Ctx(c.Request.Context())
		logger.Info().Msg("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "req-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "req-1" {
		t.Fatalf("request id not echoed")
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %q", buf.String())
	}
	var done map[string]any
	if err := json.Unmarshal(lines[1], &done); err != nil {
		t.Fatalf("bad log line: %v", err)
	}
	if done[FieldRequestID] != "req-1" || done[FieldStatus] != float64(http.StatusNoContent) || done[FieldPath] != "/ping" {
		t.Fatalf("unexpected fields %v", done)
	}
}
