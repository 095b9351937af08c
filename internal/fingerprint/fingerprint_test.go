package fingerprint

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateProducesDistinctIdentities(t *testing.T) {
	a := Generate()
	b := Generate()
	if a.DeviceID == b.DeviceID {
		t.Fatalf("expected distinct device ids")
	}
	if a.SessionToken == b.SessionToken {
		t.Fatalf("expected distinct session tokens")
	}
	if a.QuotaUser == b.QuotaUser {
		t.Fatalf("expected distinct quota users")
	}
}

func TestGenerateFieldShapes(t *testing.T) {
	fp := Generate()
	if len(fp.SessionToken) != 32 {
		t.Fatalf("expected 16-byte hex session token, got %q", fp.SessionToken)
	}
	if !strings.HasPrefix(fp.QuotaUser, "device-") || len(fp.QuotaUser) != len("device-")+16 {
		t.Fatalf("expected quota user of form device-<16 hex>, got %q", fp.QuotaUser)
	}
	if fp.CreatedAtMs == 0 {
		t.Fatalf("expected createdAt to be set")
	}
	switch fp.ClientMetadata.Platform {
	case "MACOS", "WINDOWS", "LINUX":
	default:
		t.Fatalf("unexpected metadata platform %q", fp.ClientMetadata.Platform)
	}
	if fp.ClientMetadata.Arch != "x64" && fp.ClientMetadata.Arch != "arm64" {
		t.Fatalf("unexpected arch %q", fp.ClientMetadata.Arch)
	}
}

func TestUserAgentLooksLikeBrowser(t *testing.T) {
	fp := Generate()
	headers := BuildHeaders(fp)
	ua := headers["User-Agent"]
	if !strings.HasPrefix(ua, "Mozilla/5.0") {
		t.Fatalf("expected User-Agent to start with Mozilla/5.0, got %q", ua)
	}
	if !strings.Contains(ua, "Code/") {
		t.Fatalf("expected User-Agent to contain Code/, got %q", ua)
	}
}

func TestUserAgentConsistentWithPlatform(t *testing.T) {
	// Generation is random per call, so sample enough times to cover all
	// three platform templates.
	for i := 0; i < 50; i++ {
		fp := Generate()
		switch fp.ClientMetadata.Platform {
		case "MACOS":
			want := "Mac OS X " + strings.ReplaceAll(fp.ClientMetadata.OSVersion, ".", "_")
			if !strings.Contains(fp.UserAgent, want) {
				t.Fatalf("mac user agent %q missing %q", fp.UserAgent, want)
			}
		case "WINDOWS":
			if !strings.Contains(fp.UserAgent, "Windows NT "+fp.ClientMetadata.OSVersion) {
				t.Fatalf("windows user agent %q missing NT version", fp.UserAgent)
			}
		case "LINUX":
			if !strings.Contains(fp.UserAgent, "X11; Linux x86_64") {
				t.Fatalf("linux user agent %q missing X11 token", fp.UserAgent)
			}
		}
	}
}

func TestBuildHeadersNilYieldsEmptyMap(t *testing.T) {
	headers := BuildHeaders(nil)
	if headers == nil || len(headers) != 0 {
		t.Fatalf("expected empty map for nil fingerprint, got %v", headers)
	}
}

func TestBuildHeadersIncludesDeviceIdentity(t *testing.T) {
	fp := Generate()
	headers := BuildHeaders(fp)
	if headers["X-Client-Device-Id"] != fp.DeviceID {
		t.Fatalf("expected X-Client-Device-Id to match device id")
	}
	if headers["X-Goog-QuotaUser"] != fp.QuotaUser {
		t.Fatalf("expected X-Goog-QuotaUser to match quota user")
	}
	var metadata ClientMetadata
	if err := json.Unmarshal([]byte(headers["Client-Metadata"]), &metadata); err != nil {
		t.Fatalf("Client-Metadata is not valid JSON: %v", err)
	}
	if metadata.OSVersion != fp.ClientMetadata.OSVersion {
		t.Fatalf("expected metadata round-trip, got %+v", metadata)
	}
}

func TestUpdateVersionMigratesLegacyUserAgent(t *testing.T) {
	legacy := Generate()
	legacy.UserAgent = "antigravity/1.16.5 darwin/arm64"

	updated := UpdateVersion(legacy)
	if updated == legacy {
		t.Fatalf("expected a new fingerprint value for a legacy user agent")
	}
	if !strings.HasPrefix(updated.UserAgent, "Mozilla/5.0") {
		t.Fatalf("expected migrated user agent, got %q", updated.UserAgent)
	}
	if updated.DeviceID != legacy.DeviceID {
		t.Fatalf("expected device id to survive migration")
	}
	if updated.SessionToken != legacy.SessionToken {
		t.Fatalf("expected session token to survive migration")
	}
	if updated.QuotaUser != legacy.QuotaUser {
		t.Fatalf("expected quota user to survive migration")
	}
	if updated.CreatedAtMs != legacy.CreatedAtMs {
		t.Fatalf("expected creation time to survive migration")
	}
}

func TestUpdateVersionModernFingerprintReturnedByIdentity(t *testing.T) {
	fp := Generate()
	if UpdateVersion(fp) != fp {
		t.Fatalf("expected a modern fingerprint to be returned unchanged, by identity")
	}
}

func TestFingerprintJSONRoundTrip(t *testing.T) {
	fp := Generate()
	data, err := json.Marshal(fp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"deviceId"`, `"sessionToken"`, `"userAgent"`, `"apiClient"`, `"quotaUser"`, `"clientMetadata"`, `"createdAt"`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected on-disk schema to contain %s, got %s", key, data)
		}
	}
	var back Fingerprint
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !Equal(fp, &back) {
		t.Fatalf("expected identity to survive a round trip")
	}
}
