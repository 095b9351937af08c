package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/antigravity-core/antigravity-proxy-go/internal/auth"
	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenManager caches access tokens per account email and coalesces
// concurrent refreshes for the same account behind a single upstream
// call, so N requests racing on an expired token only trigger one refresh.
type TokenManager struct {
	pool *Pool

	mu    sync.RWMutex
	cache map[string]cachedToken

	group singleflight.Group

	// refreshFn performs the actual OAuth exchange; swapped out in tests.
	refreshFn func(ctx context.Context, refreshToken string) (*auth.RefreshResult, error)
}

// NewTokenManager creates a TokenManager backed by pool for looking up
// account refresh tokens and reporting refresh failures.
func NewTokenManager(pool *Pool) *TokenManager {
	return &TokenManager{
		pool:      pool,
		cache:     make(map[string]cachedToken),
		refreshFn: auth.RefreshAccessToken,
	}
}

// AccessToken returns a valid access token for email, refreshing it via
// OAuth if the cached one is missing or within config.TokenRefreshSkewMs of
// expiring. Concurrent callers for the same email share one refresh.
func (m *TokenManager) AccessToken(ctx context.Context, email string) (string, error) {
	m.mu.RLock()
	cached, ok := m.cache[email]
	m.mu.RUnlock()

	skew := time.Duration(config.TokenRefreshSkewMs) * time.Millisecond
	if ok && time.Until(cached.expiresAt) > skew {
		return cached.accessToken, nil
	}

	v, err, _ := m.group.Do(email, func() (interface{}, error) {
		return m.refresh(ctx, email)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) refresh(ctx context.Context, email string) (string, error) {
	acc := m.pool.Get(email)
	if acc == nil {
		return "", proxyerrors.NewInternalError(fmt.Sprintf("no such account: %s", email))
	}
	if acc.RefreshToken == "" {
		m.pool.MarkInvalid(email)
		return "", proxyerrors.NewUnauthorized("account has no refresh token", email)
	}

	result, err := m.refreshFn(ctx, acc.RefreshToken)
	if err != nil {
		// A transport failure is not a credential failure; only an actual
		// rejection from the token endpoint invalidates the account.
		if utils.IsNetworkError(err.Error()) {
			return "", proxyerrors.NewNetworkError(fmt.Sprintf("token refresh: %v", err))
		}
		m.pool.MarkInvalid(email)
		return "", proxyerrors.NewUnauthorized(fmt.Sprintf("token refresh failed: %v", err), email)
	}

	m.mu.Lock()
	m.cache[email] = cachedToken{accessToken: result.AccessToken, expiresAt: result.ExpiresAt}
	m.mu.Unlock()

	return result.AccessToken, nil
}

// Prime seeds the cache with a known-good access token, e.g. one minted
// during interactive onboarding, so the first request doesn't pay for a
// redundant refresh.
func (m *TokenManager) Prime(email, accessToken string, expiresAt time.Time) {
	m.mu.Lock()
	m.cache[email] = cachedToken{accessToken: accessToken, expiresAt: expiresAt}
	m.mu.Unlock()
}

// InvalidateCache drops any cached token for email, forcing the next
// AccessToken call to refresh.
func (m *TokenManager) InvalidateCache(email string) {
	m.mu.Lock()
	delete(m.cache, email)
	m.mu.Unlock()
}
