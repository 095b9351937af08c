// Package auth implements the OAuth2 refresh flow used to obtain CodeAssist
// access tokens from a stored refresh token, plus (in onboard.go) the
// interactive PKCE authorization flow used by cmd/accounts to register a
// new account.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
)

// RefreshParts is the parsed form of the composite refresh token string
// persisted in accounts.json: "refreshToken|projectId|managedProjectId".
// ProjectID and ManagedProjectID are optional.
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token into its parts.
func ParseRefreshParts(composite string) RefreshParts {
	parts := strings.Split(composite, "|")
	var out RefreshParts
	if len(parts) > 0 {
		out.RefreshToken = parts[0]
	}
	if len(parts) > 1 {
		out.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		out.ManagedProjectID = parts[2]
	}
	return out
}

// FormatRefreshParts reassembles parts into the composite string form.
func FormatRefreshParts(parts RefreshParts) string {
	base := fmt.Sprintf("%s|%s", parts.RefreshToken, parts.ProjectID)
	if parts.ManagedProjectID != "" {
		return fmt.Sprintf("%s|%s", base, parts.ManagedProjectID)
	}
	return base
}

// RefreshResult is the outcome of a successful token refresh.
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

// RefreshAccessToken exchanges a composite refresh token for a fresh access
// token via Google's OAuth2 token endpoint.
func RefreshAccessToken(ctx context.Context, compositeRefresh string) (*RefreshResult, error) {
	parts := ParseRefreshParts(compositeRefresh)
	if parts.RefreshToken == "" {
		return nil, fmt.Errorf("empty refresh token")
	}

	form := url.Values{
		"client_id":     {config.OAuthConfig.ClientID},
		"client_secret": {config.OAuthConfig.ClientSecret},
		"refresh_token": {parts.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuthConfig.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed (%d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("refresh response had no access_token")
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return &RefreshResult{
		AccessToken: parsed.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// GetUserEmail fetches the Google account email associated with accessToken,
// used to populate a newly-onboarded account's identity.
func GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.OAuthConfig.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch user info failed (%d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return parsed.Email, nil
}
