package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	pool := account.NewPool(filepath.Join(t.TempDir(), "accounts.json"))
	if err := pool.Add(&account.Account{Email: "a@example.com", Enabled: true, Status: account.StatusOK}); err != nil {
		t.Fatalf("pool.Add: %v", err)
	}
	if err := pool.Add(&account.Account{Email: "b@example.com", Enabled: false, Status: account.StatusOK}); err != nil {
		t.Fatalf("pool.Add: %v", err)
	}
	return &Server{pool: pool}
}

func TestHandleHealthReportsAccountCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)

	r := gin.New()
	r.GET("/health", s.handleHealth)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if int(body["accounts"].(float64)) != 1 {
		t.Fatalf("expected 1 enabled account, got %v", body["accounts"])
	}
	if int(body["active"].(float64)) != 1 {
		t.Fatalf("expected 1 active account, got %v", body["active"])
	}
}

func TestWriteProxyErrorPoolExhaustionReturns503(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		writeProxyError(c, proxyerrors.NewNoAccountAvailable("", false))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "no-account-available" {
		t.Fatalf("expected structured no-account-available body, got %v", body)
	}
}

func TestWriteProxyErrorMapsRateLimitedTo429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		writeProxyError(c, proxyerrors.NewRateLimited("rate limited", "a@example.com", nil))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestWriteProxyErrorMapsUnauthorizedTo401(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		writeProxyError(c, proxyerrors.NewUnauthorized("unauthorized", "a@example.com"))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
