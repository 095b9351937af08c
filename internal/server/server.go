package server

import (
	"github.com/gin-gonic/gin"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fetch"
	"github.com/antigravity-core/antigravity-proxy-go/internal/shaper"
	"github.com/antigravity-core/antigravity-proxy-go/internal/telemetry"
	"github.com/antigravity-core/antigravity-proxy-go/internal/usage"
)

// Server wires the Account Pool, Token Manager, Traffic Shaper, Throttled
// Fetch client, Usage Stats tracker, and Telemetry Heartbeat Loop behind the
// proxy's HTTP surface. Fingerprints live on the accounts themselves.
type Server struct {
	cfg       *config.Config
	pool      *account.Pool
	tokens    *account.TokenManager
	shaper    *shaper.Shaper
	fetcher   *fetch.Client
	usage     *usage.Stats
	telemetry *telemetry.Loop
}

// New builds a Server from its already-constructed subsystems.
// telemetryLoop may be nil when the heartbeat is disabled.
func New(
	cfg *config.Config,
	pool *account.Pool,
	tokens *account.TokenManager,
	sh *shaper.Shaper,
	fetcher *fetch.Client,
	usageStats *usage.Stats,
	telemetryLoop *telemetry.Loop,
) *Server {
	return &Server{
		cfg:       cfg,
		pool:      pool,
		tokens:    tokens,
		shaper:    sh,
		fetcher:   fetcher,
		usage:     usageStats,
		telemetry: telemetryLoop,
	}
}

// Engine builds the gin.Engine exposing the proxy's HTTP surface: Anthropic
// dialect, minimal Gemini dialect, a health endpoint, and the secret-free
// account status view.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(requestLoggingMiddleware())

	r.GET("/health", s.handleHealth)

	authed := r.Group("/")
	authed.Use(apiKeyAuthMiddleware(s.cfg))
	authed.POST("/v1/messages", s.handleMessages)
	authed.POST("/v1beta/models/:model", s.handleGenerateContent)
	authed.GET("/api/status", s.handleStatus)

	return r
}
