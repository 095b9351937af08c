package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// PKCE holds a generated PKCE code verifier and its S256 challenge.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE generates a PKCE verifier/challenge pair for the
// authorization code flow.
func GeneratePKCE() (*PKCE, error) {
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("generate verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])
	return &PKCE{Verifier: verifier, Challenge: challenge}, nil
}

// GenerateState generates a random CSRF state parameter.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AuthorizationURLResult is the outcome of building an authorization URL.
type AuthorizationURLResult struct {
	URL      string
	Verifier string
	State    string
}

// GetAuthorizationURL builds the Google OAuth consent URL for onboarding a
// new account, along with the PKCE verifier and state needed to complete
// the flow.
func GetAuthorizationURL(customRedirectURI string) (*AuthorizationURLResult, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	redirectURI := customRedirectURI
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d/oauth-callback", config.OAuthCallbackPort)
	}

	params := url.Values{
		"client_id":             {config.OAuthConfig.ClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {strings.Join(config.OAuthConfig.Scopes, " ")},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}

	return &AuthorizationURLResult{
		URL:      fmt.Sprintf("%s?%s", config.OAuthConfig.AuthURL, params.Encode()),
		Verifier: pkce.Verifier,
		State:    state,
	}, nil
}

// CodeExtractResult is a parsed authorization code and optional state,
// recovered from either a pasted callback URL or a bare code.
type CodeExtractResult struct {
	Code  string
	State string
}

// ExtractCodeFromInput accepts either a full callback URL or a bare
// authorization code, for headless onboarding.
func ExtractCodeFromInput(input string) (*CodeExtractResult, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("no input provided")
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid URL format")
		}
		if errParam := parsed.Query().Get("error"); errParam != "" {
			return nil, fmt.Errorf("oauth error: %s", errParam)
		}
		code := parsed.Query().Get("code")
		if code == "" {
			return nil, fmt.Errorf("no authorization code found in URL")
		}
		return &CodeExtractResult{Code: code, State: parsed.Query().Get("state")}, nil
	}

	if len(trimmed) < 10 {
		return nil, fmt.Errorf("input is too short to be a valid authorization code")
	}
	return &CodeExtractResult{Code: trimmed}, nil
}

// CallbackServer runs a short-lived local HTTP server that receives the
// OAuth redirect and hands the authorization code back to the caller.
type CallbackServer struct {
	expectedState string
	timeout       time.Duration

	mu         sync.Mutex
	server     *http.Server
	actualPort int
	aborted    bool
	codeChan   chan string
	errChan    chan error
}

// NewCallbackServer builds a CallbackServer bound to config.OAuthCallbackPort
// (falling back to config.OAuthCallbackFallbackPorts) expecting expectedState
// back from the redirect.
func NewCallbackServer(expectedState string, timeoutMs int) *CallbackServer {
	if timeoutMs <= 0 {
		timeoutMs = 120000
	}
	cs := &CallbackServer{
		expectedState: expectedState,
		timeout:       time.Duration(timeoutMs) * time.Millisecond,
		actualPort:    config.OAuthCallbackPort,
		codeChan:      make(chan string, 1),
		errChan:       make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-callback", cs.handleCallback)
	cs.server = &http.Server{Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	return cs
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if errParam := query.Get("error"); errParam != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "<html><body><h1>Authentication failed</h1><p>%s</p></body></html>", errParam)
		cs.errChan <- fmt.Errorf("oauth error: %s", errParam)
		return
	}
	if state := query.Get("state"); state != cs.expectedState {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "<html><body><h1>Authentication failed</h1><p>state mismatch</p></body></html>")
		cs.errChan <- fmt.Errorf("state mismatch")
		return
	}
	code := query.Get("code")
	if code == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "<html><body><h1>Authentication failed</h1><p>no authorization code</p></body></html>")
		cs.errChan <- fmt.Errorf("no authorization code")
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<html><body><h1>Authentication successful</h1><p>You can close this window.</p></body></html>`)
	cs.codeChan <- code
}

// Start blocks until the callback fires, ctx is cancelled, or the timeout
// elapses, returning the received authorization code.
func (cs *CallbackServer) Start(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cs.timeout)
	defer cancel()

	ports := append([]int{config.OAuthCallbackPort}, config.OAuthCallbackFallbackPorts...)
	var lastErr error
	for _, port := range ports {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			lastErr = err
			utils.Warn("[auth] callback port %d unavailable: %v", port, err)
			continue
		}

		cs.mu.Lock()
		cs.actualPort = port
		cs.mu.Unlock()
		if port != config.OAuthCallbackPort {
			utils.Warn("[auth] primary callback port busy, using fallback %d", port)
		}

		go func() {
			if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
				cs.errChan <- err
			}
		}()

		select {
		case code := <-cs.codeChan:
			cs.server.Shutdown(context.Background())
			return code, nil
		case err := <-cs.errChan:
			cs.server.Shutdown(context.Background())
			return "", err
		case <-ctx.Done():
			cs.server.Shutdown(context.Background())
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("failed to bind oauth callback server: %w", lastErr)
}

// GetPort returns the port the callback server actually bound.
func (cs *CallbackServer) GetPort() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.actualPort
}

// Abort shuts down the callback server before it has received a callback,
// for manual/no-browser completion.
func (cs *CallbackServer) Abort() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.aborted {
		return
	}
	cs.aborted = true
	cs.server.Shutdown(context.Background())
}

// OAuthTokens is the raw token-exchange response.
type OAuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangeCode exchanges an authorization code for tokens using the PKCE
// verifier generated alongside the authorization URL.
func ExchangeCode(ctx context.Context, code, verifier string) (*OAuthTokens, error) {
	data := url.Values{
		"client_id":     {config.OAuthConfig.ClientID},
		"client_secret": {config.OAuthConfig.ClientSecret},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {fmt.Sprintf("http://localhost:%d/oauth-callback", config.OAuthCallbackPort)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuthConfig.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed (%d): %s", resp.StatusCode, string(body))
	}

	var tokens OAuthTokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("parse exchange response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("exchange response had no access_token")
	}
	return &tokens, nil
}

// DiscoverProjectID finds the CodeAssist project associated with an
// account, onboarding it into the free tier if none exists yet.
func DiscoverProjectID(ctx context.Context, accessToken string) (string, error) {
	var loadCodeAssistData map[string]interface{}

	for _, endpoint := range config.EndpointFallbacks {
		projectID, data, err := tryDiscoverProject(ctx, accessToken, endpoint)
		if err != nil {
			utils.Warn("[auth] project discovery failed at %s: %v", endpoint, err)
			continue
		}
		if projectID != "" {
			return projectID, nil
		}
		loadCodeAssistData = data
		break
	}

	if loadCodeAssistData != nil {
		tierID := defaultTierID(loadCodeAssistData)
		if tierID == "" {
			tierID = "FREE"
		}
		utils.Info("[auth] onboarding account with tier %s", tierID)
		if projectID, err := OnboardUser(ctx, accessToken, tierID, "", 10, 5000); err == nil && projectID != "" {
			return projectID, nil
		}
	}
	return "", nil
}

func tryDiscoverProject(ctx context.Context, accessToken, endpoint string) (string, map[string]interface{}, error) {
	body, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:loadCodeAssist", strings.NewReader(string(body)))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.AntigravityHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("loadCodeAssist failed with status %d", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", nil, err
	}

	if projectID, ok := data["cloudaicompanionProject"].(string); ok && projectID != "" {
		return projectID, data, nil
	}
	if projectObj, ok := data["cloudaicompanionProject"].(map[string]interface{}); ok {
		if id, ok := projectObj["id"].(string); ok && id != "" {
			return id, data, nil
		}
	}
	return "", data, nil
}

func defaultTierID(data map[string]interface{}) string {
	allowedTiers, ok := data["allowedTiers"].([]interface{})
	if !ok || len(allowedTiers) == 0 {
		return ""
	}
	for _, tier := range allowedTiers {
		tierMap, ok := tier.(map[string]interface{})
		if !ok {
			continue
		}
		if isDefault, _ := tierMap["isDefault"].(bool); isDefault {
			if id, ok := tierMap["id"].(string); ok {
				return id
			}
		}
	}
	if firstTier, ok := allowedTiers[0].(map[string]interface{}); ok {
		if id, ok := firstTier["id"].(string); ok {
			return id
		}
	}
	return ""
}

// OnboardUser provisions a managed CodeAssist project for an account on the
// given tier, polling until the long-running onboarding operation completes.
func OnboardUser(ctx context.Context, token, tierID, projectID string, maxAttempts int, delayMs int64) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if delayMs <= 0 {
		delayMs = 5000
	}

	metadata := map[string]string{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	}
	if projectID != "" {
		metadata["duetProject"] = projectID
	}
	requestBody := map[string]interface{}{"tierId": tierID, "metadata": metadata}

	for _, endpoint := range config.OnboardUserEndpoints {
		for attempt := 0; attempt < maxAttempts; attempt++ {
			result, err := tryOnboardUser(ctx, endpoint, token, requestBody)
			if err != nil {
				utils.Warn("[auth] onboardUser failed at %s: %v", endpoint, err)
				break
			}

			if done, _ := result["done"].(bool); done {
				if response, ok := result["response"].(map[string]interface{}); ok {
					if proj, ok := response["cloudaicompanionProject"].(map[string]interface{}); ok {
						if id, ok := proj["id"].(string); ok && id != "" {
							return id, nil
						}
					}
				}
				if projectID != "" {
					return projectID, nil
				}
			}

			if attempt < maxAttempts-1 {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(time.Duration(delayMs) * time.Millisecond):
				}
			}
		}
	}
	return "", fmt.Errorf("all onboarding attempts failed")
}

func tryOnboardUser(ctx context.Context, endpoint, token string, requestBody map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:onboardUser", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.AntigravityHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// OAuthFlowResult is the outcome of completing a full onboarding round trip.
type OAuthFlowResult struct {
	Email        string
	RefreshToken string
	AccessToken  string
	ProjectID    string
}

// CompleteOAuthFlow exchanges an authorization code for tokens and resolves
// the account's email and CodeAssist project in one call.
func CompleteOAuthFlow(ctx context.Context, code, verifier string) (*OAuthFlowResult, error) {
	tokens, err := ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	email, err := GetUserEmail(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("get user email: %w", err)
	}

	projectID, _ := DiscoverProjectID(ctx, tokens.AccessToken)

	return &OAuthFlowResult{
		Email:        email,
		RefreshToken: tokens.RefreshToken,
		AccessToken:  tokens.AccessToken,
		ProjectID:    projectID,
	}, nil
}
