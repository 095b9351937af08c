// Command server runs the Antigravity Claude Proxy: an HTTP proxy that
// forwards Anthropic- and Gemini-dialect requests to Google's CodeAssist
// backend through a pool of onboarded Google accounts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fetch"
	"github.com/antigravity-core/antigravity-proxy-go/internal/format"
	"github.com/antigravity-core/antigravity-proxy-go/internal/server"
	"github.com/antigravity-core/antigravity-proxy-go/internal/shaper"
	"github.com/antigravity-core/antigravity-proxy-go/internal/telemetry"
	"github.com/antigravity-core/antigravity-proxy-go/internal/usage"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/redis"
)

func main() {
	var (
		devMode bool
		port    int
		host    string
	)

	flag.BoolVar(&devMode, "dev-mode", false, "Enable developer mode (verbose logging)")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.Parse()

	if os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}
	utils.SetDebug(devMode)

	cfg, err := config.Load(os.Getenv("ANTIGRAVITY_CONFIG_FILE"))
	if err != nil {
		utils.Warn("[startup] failed to load config, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}
	if port != 0 {
		cfg.Port = port
	}
	if host == "" {
		host = os.Getenv("HOST")
	}
	if host == "" {
		host = "0.0.0.0"
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.NewClient(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			utils.Warn("[startup] redis unavailable, continuing with JSON files only: %v", err)
			redisClient = nil
		}
	}
	format.InitGlobalSignatureCache(redisClient)

	pool := account.NewPool(cfg.AccountConfigPath)
	if err := pool.Load(); err != nil {
		utils.Warn("[startup] failed to load accounts: %v", err)
	}
	pool.SetMirror(redisClient)
	tokens := account.NewTokenManager(pool)

	sh := shaper.New(int64(cfg.ShaperMinDelayMs), int64(cfg.ShaperJitterMs))
	defer sh.Stop()

	fetcher := fetch.New(2 * time.Minute)

	usageStats := usage.New(cfg.UsageHistoryPath, redisClient)
	if err := usageStats.Load(); err != nil {
		utils.Warn("[startup] failed to load usage history: %v", err)
	}
	usageStats.Initialize()

	var telemetryLoop *telemetry.Loop
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.TelemetryEnabled {
		telemetryLoop = telemetry.New(pool, tokens, fetcher)
		telemetryLoop.Initialize(ctx)
	}

	srv := server.New(cfg, pool, tokens, sh, fetcher, usageStats, telemetryLoop)
	engine := srv.Engine()

	addr := fmt.Sprintf("%s:%d", host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		utils.Info("[server] listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[server] failed to start: %v", err)
			os.Exit(1)
		}
	}()

	printBanner(cfg, host, devMode)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("[server] shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if telemetryLoop != nil {
		telemetryLoop.Shutdown()
	}
	usageStats.Shutdown()
	if err := pool.Save(); err != nil {
		utils.Error("[server] failed to persist accounts: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		utils.Error("[server] forced shutdown: %v", err)
		os.Exit(1)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	utils.Success("[server] stopped")
}

func printBanner(cfg *config.Config, host string, devMode bool) {
	displayHost := host
	if host == "0.0.0.0" {
		displayHost = "localhost"
	}
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".config", "antigravity-proxy")

	fmt.Println()
	fmt.Println("Antigravity Claude Proxy v" + config.Version)
	fmt.Printf("  listening at http://%s:%d\n", displayHost, cfg.Port)
	if devMode {
		fmt.Println("  developer mode enabled - verbose logs on")
	}
	fmt.Println("  endpoints:")
	fmt.Println("    POST /v1/messages                           - Anthropic Messages API")
	fmt.Println("    POST /v1beta/models/{model}:generateContent - minimal Gemini dialect")
	fmt.Println("    GET  /health                                - health check")
	fmt.Printf("  account config: %s\n", cfg.AccountConfigPath)
	fmt.Printf("  usage history:  %s\n", cfg.UsageHistoryPath)
	fmt.Println("  manage accounts with: antigravity-accounts add")
	fmt.Printf("  storage dir: %s\n", configDir)
	fmt.Println()
}
