package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
)

func newTestEngine(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apiKeyAuthMiddleware(cfg))
	r.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestApiKeyAuthMiddlewareAllowsWhenUnset(t *testing.T) {
	cfg := &config.Config{APIKey: ""}
	r := newTestEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with no API key configured, got %d", rec.Code)
	}
}

func TestApiKeyAuthMiddlewareRejectsMissingKey(t *testing.T) {
	cfg := &config.Config{APIKey: "secret"}
	r := newTestEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with missing key, got %d", rec.Code)
	}
}

func TestApiKeyAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	cfg := &config.Config{APIKey: "secret"}
	r := newTestEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid bearer token, got %d", rec.Code)
	}
}

func TestApiKeyAuthMiddlewareAcceptsXAPIKeyHeader(t *testing.T) {
	cfg := &config.Config{APIKey: "secret"}
	r := newTestEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid X-API-Key header, got %d", rec.Code)
	}
}

func TestApiKeyAuthMiddlewareRejectsWrongKey(t *testing.T) {
	cfg := &config.Config{APIKey: "secret"}
	r := newTestEngine(cfg)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
}

func TestCorsMiddlewareHandlesPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(corsMiddleware())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard CORS origin header")
	}
}
