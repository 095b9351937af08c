package format

import (
	"fmt"
	"testing"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
)

func TestSignatureCacheRoundTrip(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheSignature("tool-1", "sig-1")
	if got := c.GetCachedSignature("tool-1"); got != "sig-1" {
		t.Fatalf("expected sig-1, got %q", got)
	}
}

func TestSignatureCacheMissingKeyReturnsEmpty(t *testing.T) {
	c := NewSignatureCache(nil)
	if got := c.GetCachedSignature("nope"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestSignatureCacheEmptyInputsAreNoops(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheSignature("", "sig")
	c.CacheSignature("tool", "")
	if got := c.GetCachedSignature(""); got != "" {
		t.Fatalf("expected empty result for empty key")
	}
}

func TestSignatureCacheEvictsOldestBeyondCapacity(t *testing.T) {
	c := NewSignatureCache(nil)
	c.signatures = newFIFOCache(3)

	c.CacheSignature("tool-1", "sig-1")
	c.CacheSignature("tool-2", "sig-2")
	c.CacheSignature("tool-3", "sig-3")
	c.CacheSignature("tool-4", "sig-4")

	if got := c.GetCachedSignature("tool-1"); got != "" {
		t.Fatalf("expected tool-1 to be evicted, got %q", got)
	}
	if got := c.GetCachedSignature("tool-4"); got != "sig-4" {
		t.Fatalf("expected tool-4 to still be cached, got %q", got)
	}
}

func TestSignatureCacheRespectsConfiguredCapacity(t *testing.T) {
	c := NewSignatureCache(nil)
	for i := 0; i < config.SignatureCacheCapacity+10; i++ {
		c.CacheSignature(fmt.Sprintf("tool-%d", i), fmt.Sprintf("sig-%d", i))
	}
	if c.signatures.order.Len() > config.SignatureCacheCapacity {
		t.Fatalf("expected cache size bounded to %d, got %d", config.SignatureCacheCapacity, c.signatures.order.Len())
	}
}

func TestCacheThinkingSignatureRejectsShortSignatures(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheThinkingSignature("short", "gemini")
	if got := c.GetCachedSignatureFamily("short"); got != "" {
		t.Fatalf("expected short signature to be rejected, got %q", got)
	}
}

func TestCacheThinkingSignatureAcceptsLongSignatures(t *testing.T) {
	c := NewSignatureCache(nil)
	long := "a-sufficiently-long-thinking-signature"
	c.CacheThinkingSignature(long, "gemini")
	if got := c.GetCachedSignatureFamily(long); got != "gemini" {
		t.Fatalf("expected gemini, got %q", got)
	}
}

func TestClearThinkingSignatureCache(t *testing.T) {
	c := NewSignatureCache(nil)
	long := "a-sufficiently-long-thinking-signature"
	c.CacheThinkingSignature(long, "gemini")
	c.ClearThinkingSignatureCache()
	if got := c.GetCachedSignatureFamily(long); got != "" {
		t.Fatalf("expected cache cleared, got %q", got)
	}
}
