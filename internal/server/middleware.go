// Package server wires the Core subsystems (account pool, fingerprint
// engine, traffic shaper, throttled fetch, response converter) behind two
// HTTP dialect groups. Routing and request handling are themselves
// peripheral to the Core; this package exists only to give it a runnable
// home.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// corsMiddleware allows any origin, matching a locally-run proxy's trust model.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// apiKeyAuthMiddleware validates a bearer token against cfg.APIKey. An empty
// APIKey disables the check entirely.
func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		var provided string
		authHeader := c.GetHeader("Authorization")
		xAPIKey := c.GetHeader("X-API-Key")
		if strings.HasPrefix(authHeader, "Bearer ") {
			provided = strings.TrimPrefix(authHeader, "Bearer ")
		} else if xAPIKey != "" {
			provided = xAPIKey
		}

		if provided == "" || provided != cfg.APIKey {
			utils.Warn("[server] unauthorized request from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid or missing API key",
				},
			})
			return
		}
		c.Next()
	}
}

// requestLoggingMiddleware logs each request at a level matched to its status.
func requestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		const logMsg = "[%s] %s %d (%dms)"

		if strings.HasPrefix(path, "/.well-known/") {
			if utils.IsDebug() {
				utils.Debug(logMsg, c.Request.Method, path, status, duration.Milliseconds())
			}
			return
		}

		switch {
		case status >= 500:
			utils.Error(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		case status >= 400:
			utils.Warn(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		default:
			utils.Info(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		}
	}
}
