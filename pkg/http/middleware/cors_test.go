package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newCORSEcho(origins ...string) *echo.Echo {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType},
		MaxAge:       600,
	}))
	e.GET("/api/time-ranges", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

func TestCORS_AllowedOriginPreflight(t *testing.T) {
	e := newCORSEcho("https://dash.example.com/")
	req := httptest.NewRequest(http.MethodOptions, "/api/time-ranges", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "https://dash.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlMaxAge); got != "600" {
		t.Fatalf("unexpected max age %q", got)
	}
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	e := newCORSEcho("https://dash.example.com")
	req := httptest.NewRequest(http.MethodGet, "/api/time-ranges", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("request should still be served, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	e := newCORSEcho("*")
	req := httptest.NewRequest(http.MethodGet, "/api/time-ranges", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:5173")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
