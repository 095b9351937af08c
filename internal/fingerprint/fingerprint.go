// Package fingerprint generates the per-account synthetic device identity
// attached to every outbound CodeAssist request. A stable fingerprint per
// account makes traffic from one account look like it comes from one IDE
// install; the Account Pool persists fingerprints alongside accounts and
// rotates them on demand without touching OAuth state.
package fingerprint

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// ClientMetadata is the structured metadata block CodeAssist expects in the
// Client-Metadata header, describing the calling editor install.
type ClientMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"` // PLATFORM_UNSPECIFIED / WINDOWS / LINUX / MACOS
	PluginType string `json:"pluginType"`
	OSVersion  string `json:"osVersion"`
	Arch       string `json:"arch"` // x64 / arm64
	SqmID      string `json:"sqmId"`
}

// Fingerprint is one synthetic device identity. It is persisted verbatim in
// accounts.json, so field names here are the on-disk schema.
type Fingerprint struct {
	DeviceID       string         `json:"deviceId"`
	SessionToken   string         `json:"sessionToken"`
	UserAgent      string         `json:"userAgent"`
	APIClient      string         `json:"apiClient"`
	QuotaUser      string         `json:"quotaUser"`
	ClientMetadata ClientMetadata `json:"clientMetadata"`
	CreatedAtMs    int64          `json:"createdAt"`
}

var platforms = []string{"darwin", "win32", "linux"}

var osVersions = map[string][]string{
	"darwin": {"10.15.7", "12.7.4", "13.6.6", "14.4.1"},
	"win32":  {"10.0.19045", "10.0.22621", "10.0.22631", "10.0.26100"},
	"linux":  {"5.15.0", "6.1.0", "6.5.0", "6.8.0"},
}

var archesByPlatform = map[string][]string{
	"darwin": {"x64", "arm64"},
	"win32":  {"x64", "arm64"},
	"linux":  {"x64", "arm64"},
}

var editorVersions = []string{"1.96.2", "1.95.3", "1.94.2", "1.93.1"}

var chromeVersions = []string{
	"128.0.6613.186",
	"126.0.6478.234",
	"124.0.6367.243",
	"122.0.6261.156",
}

var electronVersions = []string{"32.2.6", "30.5.1", "29.4.6", "28.2.8"}

var apiClients = []string{
	"gl-node/20.11.1",
	"gl-node/20.9.0",
	"gl-node/18.18.2",
}

// Generate produces a fully random fingerprint: platform, OS version, arch,
// and editor/engine versions are each drawn independently per call.
func Generate() *Fingerprint {
	platform := platforms[rand.Intn(len(platforms))]
	osVersion := pick(osVersions[platform])
	arch := pick(archesByPlatform[platform])
	editor := pick(editorVersions)
	chrome := pick(chromeVersions)
	electron := pick(electronVersions)

	return &Fingerprint{
		DeviceID:     uuid.New().String(),
		SessionToken: randomHex(16),
		UserAgent:    buildUserAgent(platform, osVersion, editor, chrome, electron),
		APIClient:    pick(apiClients),
		QuotaUser:    "device-" + randomHex(8),
		ClientMetadata: ClientMetadata{
			IDEType:    "IDE_UNSPECIFIED",
			Platform:   metadataPlatform(platform),
			PluginType: "GEMINI",
			OSVersion:  osVersion,
			Arch:       arch,
			SqmID:      "{" + strings.ToUpper(uuid.New().String()) + "}",
		},
		CreatedAtMs: utils.NowMs(),
	}
}

func pick(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func randomHex(byteLength int) string {
	b := make([]byte, byteLength)
	_, _ = cryptorand.Read(b)
	return hex.EncodeToString(b)
}

func metadataPlatform(platform string) string {
	switch platform {
	case "darwin":
		return "MACOS"
	case "win32":
		return "WINDOWS"
	case "linux":
		return "LINUX"
	default:
		return "PLATFORM_UNSPECIFIED"
	}
}

// buildUserAgent renders a browser-consistent User-Agent for the platform.
// Mac OS versions appear with underscores, Windows as NT <version>, Linux as
// the generic X11 token, matching how Electron reports each OS.
func buildUserAgent(platform, osVersion, editor, chrome, electron string) string {
	var osToken string
	switch platform {
	case "darwin":
		osToken = "Macintosh; Intel Mac OS X " + strings.ReplaceAll(osVersion, ".", "_")
	case "win32":
		osToken = "Windows NT " + osVersion + "; Win64; x64"
	default:
		osToken = "X11; Linux x86_64"
	}
	return fmt.Sprintf(
		"Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Code/%s Chrome/%s Electron/%s Safari/537.36",
		osToken, editor, chrome, electron)
}

// BuildHeaders returns the per-device header set for fp. A nil fingerprint
// yields an empty map so callers can merge unconditionally.
func BuildHeaders(fp *Fingerprint) map[string]string {
	if fp == nil {
		return map[string]string{}
	}
	metadata, _ := json.Marshal(fp.ClientMetadata)
	return map[string]string{
		"User-Agent":         fp.UserAgent,
		"X-Goog-Api-Client":  fp.APIClient,
		"Client-Metadata":    string(metadata),
		"X-Goog-QuotaUser":   fp.QuotaUser,
		"X-Client-Device-Id": fp.DeviceID,
	}
}

// legacyUserAgentPrefix marks fingerprints generated before the move to
// browser-style user agents. Those are migrated in place on load.
const legacyUserAgentPrefix = "antigravity/"

// UpdateVersion migrates a legacy fingerprint to the current user-agent
// format while preserving its identity fields (device id, session token,
// quota user, creation time). Non-legacy fingerprints are returned unchanged,
// by identity.
func UpdateVersion(fp *Fingerprint) *Fingerprint {
	if fp == nil || !strings.HasPrefix(fp.UserAgent, legacyUserAgentPrefix) {
		return fp
	}
	fresh := Generate()
	return &Fingerprint{
		DeviceID:       fp.DeviceID,
		SessionToken:   fp.SessionToken,
		UserAgent:      fresh.UserAgent,
		APIClient:      fresh.APIClient,
		QuotaUser:      fp.QuotaUser,
		ClientMetadata: fresh.ClientMetadata,
		CreatedAtMs:    fp.CreatedAtMs,
	}
}

// Equal reports whether two fingerprints denote the same device identity.
func Equal(a, b *Fingerprint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DeviceID == b.DeviceID && a.SessionToken == b.SessionToken
}
