// Package config provides configuration constants and runtime configuration
// management for the proxy.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Version is the proxy version string.
const Version = "1.0.0"

// CodeAssist API endpoints, daily first then production, matching the order
// the upstream binary prefers for forward traffic.
const (
	EndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	EndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the endpoint fallback order (daily -> prod) used by
// forward traffic. Telemetry intentionally uses only EndpointFallbacks[0];
// see DESIGN.md for why the fallback entry is not wired into the heartbeat
// loop.
var EndpointFallbacks = []string{EndpointDaily, EndpointProd}

// DefaultProjectID is used when no project id has been discovered for an
// account yet.
const DefaultProjectID = "rising-fact-p41fc"

// CodeAssist API paths.
const (
	PathFetchUserInfo            = "/v1internal:fetchUserInfo"
	PathListExperiments          = "/v1internal:listExperiments"
	PathRecordTrajectoryAnalytics = "/v1internal:recordTrajectoryAnalytics"
	PathRecordCodeAssistMetrics  = "/v1internal:recordCodeAssistMetrics"
)

// Timing constants.
const (
	TokenRefreshSkewMs = 60 * 1000
	RequestBodyLimit   int64 = 50 * 1024 * 1024
	DefaultPort        = 8080
)

// Fingerprint-related limits.
const (
	MaxFingerprintHistory = 5
)

// Throttled Fetch constants.
const (
	DefaultThrottleBaseDelayMs = 200
	FetchMaxRetries            = 2 // up to 3 attempts total
	FetchMinRetryBackoffMs     = 500
)

// Traffic Shaper defaults.
const (
	DefaultShaperMinDelayMs = 3000
	DefaultShaperJitterMs   = 2000
)

// Telemetry Heartbeat Loop constants.
const (
	TelemetryInitialDelayMs   = 5000
	TelemetryIntervalBaseMs   = 45000
	TelemetryIntervalJitterMs = 15000
	TelemetryMinIntervalMs    = 5000
	TelemetryActiveWindowMs   = 10 * 60 * 1000
	TelemetryErrorCooldownMs  = 60000
	TelemetryInterAccountMinMs = 2000
	TelemetryInterAccountMaxMs = 5000
	TelemetryInterEndpointMinMs = 500
	TelemetryInterEndpointMaxMs = 2000
	TelemetryLivenessGapMs    = 15000
)

// Hard-coded heartbeat model id, preserved for fidelity per spec design notes.
const TelemetryHeartbeatModelID = "gemini-1.5-pro-002"

// Quota thresholds.
const (
	DefaultQuotaCriticalThreshold = 0.05
)

// Signature cache bound (spec explicitly calls out the source's unbounded
// map as a defect; this fixes it).
const SignatureCacheCapacity = 10000

// MinSignatureLength is the shortest thoughtSignature worth caching; Gemini
// emits short placeholder signatures on some turns that aren't replayable.
const MinSignatureLength = 10

// GeminiSignatureCacheTTLMs bounds how long a signature stays valid in the
// optional Redis mirror. The in-memory FIFO cache is bounded by capacity
// instead of TTL; this constant only applies to the Redis write-through path.
const GeminiSignatureCacheTTLMs = 24 * 60 * 60 * 1000

// GeminiMaxOutputTokens caps maxOutputTokens sent to Gemini models.
const GeminiMaxOutputTokens = 16384

// GeminiSkipSignature is the sentinel thoughtSignature value sent when no
// real signature is available, telling Gemini to skip signature validation.
const GeminiSkipSignature = "skip_thought_signature_validator"

// OAuth configuration.
type OAuthConfigType struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// OAuthConfig is the Google OAuth configuration used to refresh CodeAssist
// access tokens.
var OAuthConfig = OAuthConfigType{
	ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
	ClientSecret: "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",
	AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:     "https://oauth2.googleapis.com/token",
	UserInfoURL:  "https://www.googleapis.com/oauth2/v1/userinfo",
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
	},
}

// ModelFamily identifies the chat-completion dialect family of a model id.
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyOther   ModelFamily = "other"
)

// AntigravitySystemInstruction is injected ahead of the caller's own system
// prompt on every forwarded request so the model identifies by its product
// name rather than the underlying CodeAssist backend.
const AntigravitySystemInstruction = `You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.**Absolute paths only****Proactiveness**`

// AntigravityHeaders are the headers CodeAssist requires on every request,
// independent of per-account fingerprint headers.
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":         platformUserAgent(),
		"X-Goog-Api-Client":  "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":    clientMetadataJSON(),
	}
}

func platformUserAgent() string {
	return "antigravity/1.16.5 " + runtime.GOOS + "/" + runtime.GOARCH
}

func clientMetadataJSON() string {
	return `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`
}

var thinkingModelGeminiVersionRegex = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether modelID names a model variant that emits
// extended-thinking output, which gates the interleaved-thinking beta header.
func IsThinkingModel(modelID string) bool {
	lower := strings.ToLower(modelID)
	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}
	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := thinkingModelGeminiVersionRegex.FindStringSubmatch(lower); len(m) >= 2 {
			if version, err := strconv.Atoi(m[1]); err == nil && version >= 3 {
				return true
			}
		}
	}
	return false
}

var coreModelRegex = regexp.MustCompile(`(?i)sonnet|opus|pro|flash`)

// IsCoreModel reports whether modelID names one of the "core" model families
// used to decide quota eligibility during account selection.
func IsCoreModel(modelID string) bool {
	return coreModelRegex.MatchString(modelID)
}

// GetModelFamily classifies a model id into claude/gemini/other for usage
// accounting purposes.
func GetModelFamily(modelID string) ModelFamily {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "claude"):
		return ModelFamilyClaude
	case strings.Contains(lower, "gemini"):
		return ModelFamilyGemini
	default:
		return ModelFamilyOther
	}
}

func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// AccountConfigPath is the path to the persisted account registry.
var AccountConfigPath = filepath.Join(getHomeDir(), ".config", "antigravity-proxy", "accounts.json")

// UsageHistoryPath is the path to the persisted usage history.
var UsageHistoryPath = filepath.Join(getHomeDir(), ".config", "antigravity-proxy", "usage-history.json")

// AntigravityDBPath is the path to the Antigravity IDE's local state
// database, used only by the peripheral bootstrap reader.
var AntigravityDBPath = getAntigravityDBPath()

func getAntigravityDBPath() string {
	home := getHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library/Application Support/Antigravity/User/globalStorage/state.vscdb")
	case "windows":
		return filepath.Join(home, "AppData/Roaming/Antigravity/User/globalStorage/state.vscdb")
	default:
		return filepath.Join(home, ".config/Antigravity/User/globalStorage/state.vscdb")
	}
}

func getOAuthCallbackPort() int {
	portStr := os.Getenv("OAUTH_CALLBACK_PORT")
	if portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			return port
		}
	}
	return 51121
}

// OAuthCallbackPort is the local port used during the one-time OAuth
// onboarding flow (out of Core scope, kept for the CLI).
var OAuthCallbackPort = getOAuthCallbackPort()

// OAuthCallbackFallbackPorts are tried in order if OAuthCallbackPort is
// already bound by another process.
var OAuthCallbackFallbackPorts = []int{51122, 51123, 51124, 51125, 51126}

// OnboardUserEndpoints is the endpoint order used for the one-time
// onboardUser provisioning call, matching EndpointFallbacks.
var OnboardUserEndpoints = EndpointFallbacks

// MaxAccounts bounds how many accounts a single operator installation may
// register.
const MaxAccounts = 20
