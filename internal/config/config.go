package config

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
)

// Config is the runtime configuration for the proxy. It is loaded once at
// startup from an optional JSON file, then overridden by environment
// variables.
type Config struct {
	mu sync.RWMutex

	Port int `json:"port"`

	// Throttled Fetch.
	RequestThrottlingEnabled bool `json:"requestThrottlingEnabled"`
	RequestDelayBaseMs       int  `json:"requestDelayMs"`

	// Traffic Shaper.
	ShaperMinDelayMs int `json:"shaperMinDelayMs"`
	ShaperJitterMs   int `json:"shaperJitterMs"`

	// Telemetry Heartbeat Loop.
	TelemetryEnabled        bool `json:"telemetryEnabled"`
	TelemetryIntervalBaseMs int  `json:"telemetryIntervalBaseMs"`
	TelemetryJitterMs       int  `json:"telemetryJitterMs"`
	TelemetryActiveWindowMs int  `json:"telemetryActiveWindowMs"`

	// Account selection.
	QuotaCriticalThreshold float64 `json:"quotaCriticalThreshold"`

	// Optional Redis mirror. Empty Addr disables Redis entirely.
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	AccountConfigPath string `json:"accountConfigPath"`
	UsageHistoryPath  string `json:"usageHistoryPath"`

	// APIKey, when non-empty, gates /v1/* endpoints behind a bearer token.
	APIKey string `json:"apiKey"`
}

// DefaultConfig returns the built-in defaults, matching the constants in
// constants.go.
func DefaultConfig() *Config {
	return &Config{
		Port: DefaultPort,

		RequestThrottlingEnabled: true,
		RequestDelayBaseMs:       DefaultThrottleBaseDelayMs,

		ShaperMinDelayMs: DefaultShaperMinDelayMs,
		ShaperJitterMs:   DefaultShaperJitterMs,

		TelemetryEnabled:        true,
		TelemetryIntervalBaseMs: TelemetryIntervalBaseMs,
		TelemetryJitterMs:       TelemetryIntervalJitterMs,
		TelemetryActiveWindowMs: TelemetryActiveWindowMs,

		QuotaCriticalThreshold: DefaultQuotaCriticalThreshold,

		AccountConfigPath: AccountConfigPath,
		UsageHistoryPath:  UsageHistoryPath,
	}
}

var (
	globalConfig *Config
	globalOnce   sync.Once
)

// Get returns the process-wide Config, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load(os.Getenv("ANTIGRAVITY_CONFIG_FILE"))
		if err != nil {
			cfg = DefaultConfig()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// Load reads a JSON configuration file (if path is non-empty and exists),
// applies it on top of the defaults, then applies environment variable
// overrides, and returns the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("REQUEST_THROTTLING_ENABLED"); v != "" {
		c.RequestThrottlingEnabled = v == "1" || v == "true"
	}
	if v := os.Getenv("REQUEST_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RequestDelayBaseMs = n
		}
	}
	if v := os.Getenv("SHAPER_MIN_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ShaperMinDelayMs = n
		}
	}
	if v := os.Getenv("SHAPER_JITTER_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ShaperJitterMs = n
		}
	}
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		c.TelemetryEnabled = v == "1" || v == "true"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := os.Getenv("ACCOUNT_CONFIG_PATH"); v != "" {
		c.AccountConfigPath = v
	}
	if v := os.Getenv("USAGE_HISTORY_PATH"); v != "" {
		c.UsageHistoryPath = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
}

// RedisEnabled reports whether the optional Redis mirror should be wired up.
func (c *Config) RedisEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RedisAddr != ""
}
