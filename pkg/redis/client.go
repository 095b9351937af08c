// Package redis implements the proxy's optional write-through mirrors. The
// JSON files under ~/.config/antigravity-proxy remain the source of truth
// for accounts and usage history; when a Redis address is configured, the
// same state is mirrored there so an operator (or a second replica) can
// inspect it without reaching into the proxy's filesystem.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespace. Everything the proxy writes lives under "antigravity:".
const (
	PrefixAccounts          = "antigravity:accounts:"
	PrefixAccountIndex      = "antigravity:accounts:index"
	PrefixStats             = "antigravity:stats:"
	prefixSignatureTool     = "antigravity:signatures:tool:"
	prefixSignatureThinking = "antigravity:signatures:thinking:"
)

// Config holds the connection parameters for the mirror.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client is a thin wrapper over go-redis exposing only the primitives the
// mirrors need. Keeping the surface small makes it obvious what the proxy
// actually stores in Redis.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and verifies the connection with a bounded ping, so a
// misconfigured address fails at startup rather than on first write.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Hash primitives, used by the account and stats mirrors.

func (c *Client) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return c.rdb.HSet(ctx, key, values).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, incr).Result()
}

// Set primitives, used by the account index.

func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SRem(ctx, key, members...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// Key lifecycle.

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// ScanAll collects every key matching pattern via SCAN, so the mirrors never
// issue a blocking KEYS against a shared instance.
func (c *Client) ScanAll(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Signature mirror: thinking-block signatures and tool-use signatures cached
// by internal/format so a later conversation turn can replay them. The
// in-process FIFO cache is authoritative; these entries only widen the cache
// across restarts and replicas, bounded by TTL.

// SetSignature stores the signature for a tool-use id.
func (c *Client) SetSignature(ctx context.Context, toolUseID, signature string, ttl time.Duration) error {
	return c.rdb.Set(ctx, prefixSignatureTool+toolUseID, signature, ttl).Err()
}

// GetSignature returns the signature for a tool-use id, or "" if absent.
func (c *Client) GetSignature(ctx context.Context, toolUseID string) (string, error) {
	result, err := c.rdb.Get(ctx, prefixSignatureTool+toolUseID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return result, err
}

// SetThinkingSignature records which model family produced a thinking
// signature.
func (c *Client) SetThinkingSignature(ctx context.Context, signature, modelFamily string, ttl time.Duration) error {
	key := prefixSignatureThinking + signature
	err := c.rdb.HSet(ctx, key, map[string]interface{}{
		"modelFamily": modelFamily,
		"timestamp":   time.Now().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// GetThinkingSignature returns the model family recorded for a thinking
// signature, or "" if absent.
func (c *Client) GetThinkingSignature(ctx context.Context, signature string) (string, error) {
	data, err := c.rdb.HGetAll(ctx, prefixSignatureThinking+signature).Result()
	if err != nil {
		return "", err
	}
	return data["modelFamily"], nil
}
