// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/redis"
)

// SignatureCache caches Gemini thoughtSignatures for tool calls and thinking
// blocks. Gemini models require a thoughtSignature on tool calls, but Claude
// Code strips non-standard fields before a signature can round-trip through
// a client, so the proxy has to remember it on the server side.
//
// The in-memory tier is a fixed-capacity FIFO: once SignatureCacheCapacity
// entries are held, inserting a new one evicts the oldest. This replaces an
// earlier unbounded map that only evicted on read via TTL, which meant a
// long-running process with many distinct tool_use_ids or signatures would
// grow the map forever. Redis, when configured, is an optional write-through
// mirror with its own TTL and is not subject to the FIFO bound.
type SignatureCache struct {
	mu          sync.Mutex
	redisClient *redis.Client
	useRedis    bool

	signatures *fifoCache
	thinking   *fifoCache
}

// fifoCache is a bounded key->value cache evicting the oldest entry first.
type fifoCache struct {
	capacity int
	values   map[string]string
	order    *list.List
	elems    map[string]*list.Element
}

func newFIFOCache(capacity int) *fifoCache {
	return &fifoCache{
		capacity: capacity,
		values:   make(map[string]string),
		order:    list.New(),
		elems:    make(map[string]*list.Element),
	}
}

func (c *fifoCache) set(key, value string) {
	if el, ok := c.elems[key]; ok {
		c.order.MoveToBack(el)
		c.values[key] = value
		return
	}
	c.values[key] = value
	c.elems[key] = c.order.PushBack(key)
	for c.order.Len() > c.capacity {
		front := c.order.Front()
		if front == nil {
			break
		}
		oldest := front.Value.(string)
		c.order.Remove(front)
		delete(c.elems, oldest)
		delete(c.values, oldest)
	}
}

func (c *fifoCache) get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *fifoCache) clear() {
	c.values = make(map[string]string)
	c.order = list.New()
	c.elems = make(map[string]*list.Element)
}

// NewSignatureCache creates a new SignatureCache. redisClient may be nil, in
// which case the cache is purely in-memory.
func NewSignatureCache(redisClient *redis.Client) *SignatureCache {
	return &SignatureCache{
		redisClient: redisClient,
		useRedis:    redisClient != nil,
		signatures:  newFIFOCache(config.SignatureCacheCapacity),
		thinking:    newFIFOCache(config.SignatureCacheCapacity),
	}
}

// CacheSignature stores a signature for a tool_use_id.
func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.signatures.set(toolUseID, signature)
	if c.useRedis {
		ctx := context.Background()
		ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
		_ = c.redisClient.SetSignature(ctx, toolUseID, signature, ttl)
	}
}

// GetCachedSignature retrieves a cached signature for a tool_use_id.
func (c *SignatureCache) GetCachedSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.signatures.get(toolUseID); ok {
		return v
	}
	if !c.useRedis {
		return ""
	}
	ctx := context.Background()
	signature, err := c.redisClient.GetSignature(ctx, toolUseID)
	if err != nil || signature == "" {
		return ""
	}
	return signature
}

// CacheThinkingSignature caches a thinking block signature with its model family.
func (c *SignatureCache) CacheThinkingSignature(signature, modelFamily string) {
	if signature == "" || len(signature) < config.MinSignatureLength {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.thinking.set(signature, modelFamily)
	if c.useRedis {
		ctx := context.Background()
		ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
		_ = c.redisClient.SetThinkingSignature(ctx, signature, modelFamily, ttl)
	}
}

// GetCachedSignatureFamily returns the cached model family for a thinking signature.
func (c *SignatureCache) GetCachedSignatureFamily(signature string) string {
	if signature == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.thinking.get(signature); ok {
		return v
	}
	if !c.useRedis {
		return ""
	}
	ctx := context.Background()
	family, err := c.redisClient.GetThinkingSignature(ctx, signature)
	if err != nil || family == "" {
		return ""
	}
	return family
}

// ClearThinkingSignatureCache clears all entries from the thinking signature cache.
func (c *SignatureCache) ClearThinkingSignatureCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinking.clear()
}

// Global instance for convenience.
var globalSignatureCache *SignatureCache
var signatureCacheOnce sync.Once

// InitGlobalSignatureCache initializes the global signature cache.
func InitGlobalSignatureCache(redisClient *redis.Client) {
	signatureCacheOnce.Do(func() {
		globalSignatureCache = NewSignatureCache(redisClient)
	})
}

// GetGlobalSignatureCache returns the global signature cache instance.
func GetGlobalSignatureCache() *SignatureCache {
	if globalSignatureCache == nil {
		globalSignatureCache = NewSignatureCache(nil)
	}
	return globalSignatureCache
}

// ClearThinkingSignatureCache clears the global thinking signature cache.
func ClearThinkingSignatureCache() {
	GetGlobalSignatureCache().ClearThinkingSignatureCache()
}
