package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if GetRequestID(c) == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := GetRequestID(c); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}
	RequestID()(handler)(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", maxRequestIDLen+1))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	RequestID()(func(c echo.Context) error { return nil })(c)
	if len(GetRequestID(c)) != 36 {
		t.Errorf("expected generated UUID, got %q", GetRequestID(c))
	}
}

func TestLogger_LevelsByStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  string
	}{
		{"ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, `"level":"info"`, `"status":200`},
		{"client error", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "bad") }, `"level":"warn"`, `"status":400`},
		{"server error", func(c echo.Context) error { return errors.New("boom") }, `"level":"error"`, `"status":500`},
		{"server http error", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError) }, `"level":"error"`, `"status":500`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/icd10/search", nil)
			c := e.NewContext(req, httptest.NewRecorder())
			c.Set("request_id", "req-123")

			Logger(zerolog.New(&buf))(tt.handler)(c)

			out := buf.String()
			if !strings.Contains(out, `"request_id":"req-123"`) || !strings.Contains(out, `"path":"/api/v1/icd10/search"`) {
				t.Errorf("missing request fields: %s", out)
			}
			if !strings.Contains(out, tt.status) {
				t.Errorf("expected %s in %s", tt.status, out)
			}
			if !strings.Contains(out, tt.level) {
				t.Errorf("expected %s in %s", tt.level, out)
			}
		})
	}
}

func TestLogger_SkipsPaths(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	Logger(zerolog.New(&buf), "/health")(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
