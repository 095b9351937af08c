package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fetch"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fingerprint"
	"github.com/antigravity-core/antigravity-proxy-go/internal/format"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/anthropic"
)

// maxForwardAttempts bounds the number of distinct accounts tried for a
// single inbound request before giving up.
const maxForwardAttempts = 3

// forward submits one Anthropic-dialect request to CodeAssist, trying up to
// maxForwardAttempts accounts in the Account Pool's selection order on
// retriable failures, and returns the converted Anthropic-shaped response.
func (s *Server) forward(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	var lastErr error

	for attempt := 0; attempt < maxForwardAttempts; attempt++ {
		acc, err := s.pool.Select(req.Model)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := s.forwardToAccount(ctx, req, acc)
		if err == nil {
			s.pool.MarkUsed(acc.Email)
			s.usage.Track(req.Model)
			if s.telemetry != nil {
				s.telemetry.NotifyActivity()
			}
			return resp, nil
		}

		lastErr = err
		switch {
		case proxyerrors.IsUnauthorized(err):
			s.pool.MarkInvalid(acc.Email)
		case proxyerrors.IsRateLimited(err):
			s.pool.MarkLimited(acc.Email, req.Model, utils.NowMs()+60_000)
		case isServerError(err):
			s.pool.MarkError(acc.Email, utils.NowMs()+60_000)
		case !proxyerrors.IsRetryable(err):
			return nil, err
		}
	}

	return nil, lastErr
}

func isServerError(err error) bool {
	_, ok := err.(*proxyerrors.RetriableServerError)
	return ok
}

func (s *Server) forwardToAccount(ctx context.Context, req *anthropic.MessagesRequest, acc *account.Account) (*anthropic.MessagesResponse, error) {
	token, err := s.tokens.AccessToken(ctx, acc.Email)
	if err != nil {
		return nil, proxyerrors.NewUnauthorized(err.Error(), acc.Email)
	}

	projectID := acc.EffectiveProjectID()
	if projectID == "" {
		projectID = config.DefaultProjectID
	}

	payload := buildCodeAssistPayload(req, projectID)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, proxyerrors.NewInternalError(err.Error())
	}

	headers := buildForwardHeaders(token, req.Model)
	for k, v := range fingerprint.BuildHeaders(acc.Fingerprint) {
		headers[k] = v
	}

	var rawResp *fetch.Response
	_, err = s.shaper.Submit(ctx, func(_ context.Context) (interface{}, error) {
		r, doErr := s.fetcher.Do(ctx, config.EndpointFallbacks[0]+"/v1internal:generateContent", fetch.Options{
			Method:  "POST",
			Headers: headers,
			Body:    body,
		})
		rawResp = r
		return r, doErr
	})
	if err != nil {
		if _, ok := err.(*proxyerrors.NetworkError); ok {
			return nil, err
		}
		if utils.IsNetworkError(err.Error()) {
			return nil, proxyerrors.NewNetworkError(err.Error())
		}
		return nil, proxyerrors.NewInternalError(err.Error())
	}

	switch rawResp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, proxyerrors.NewRateLimited("rate limited", acc.Email, nil)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, proxyerrors.NewUnauthorized("unauthorized", acc.Email)
	case http.StatusBadRequest:
		return nil, proxyerrors.NewInvalidArgument(string(rawResp.Body))
	default:
		if rawResp.StatusCode >= 500 {
			return nil, proxyerrors.NewRetriableServerError(string(rawResp.Body), rawResp.StatusCode)
		}
		return nil, proxyerrors.NewUpstreamError(string(rawResp.Body), rawResp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(rawResp.Body, &decoded); err != nil {
		return nil, proxyerrors.NewUpstreamError("invalid upstream response body", rawResp.StatusCode)
	}

	googleResp := format.GoogleResponseFromMap(decoded)
	return format.ConvertGoogleToAnthropic(googleResp, req.Model), nil
}

// handleMessages implements POST /v1/messages.
func (s *Server) handleMessages(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": err.Error()}})
		return
	}

	resp, err := s.forward(c.Request.Context(), &req)
	if err != nil {
		writeProxyError(c, err)
		return
	}
	if req.Stream {
		writeStreamedResponse(c, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGenerateContent implements POST
// /v1beta/models/{model}:generateContent, translating a minimal Gemini-style
// request into the internal Anthropic dialect and back.
func (s *Server) handleGenerateContent(c *gin.Context) {
	model := strings.TrimSuffix(c.Param("model"), ":generateContent")

	var body struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	req := &anthropic.MessagesRequest{Model: model, MaxTokens: 4096}
	for _, content := range body.Contents {
		role := content.Role
		if role == "model" {
			role = "assistant"
		}
		var blocks []anthropic.ContentBlock
		for _, p := range content.Parts {
			blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: p.Text})
		}
		req.Messages = append(req.Messages, anthropic.Message{Role: role, Content: blocks})
	}

	resp, err := s.forward(c.Request.Context(), req)
	if err != nil {
		writeProxyError(c, err)
		return
	}

	var text bytes.Buffer
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"candidates": []gin.H{{
			"content":      gin.H{"role": "model", "parts": []gin.H{{"text": text.String()}}},
			"finishReason": "STOP",
		}},
	})
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	rollup := s.pool.Rollup()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  config.Version,
		"accounts": rollup.Total,
		"active":   rollup.Active,
		"limited":  rollup.Limited,
	})
}

// handleStatus implements GET /api/status: the secret-free per-account view
// plus shaper queue counters.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"accounts": s.pool.GetStatus(),
		"shaper":   s.shaper.Status(),
	})
}

func writeProxyError(c *gin.Context, err error) {
	if proxyerrors.IsNoAccountAvailable(err) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no-account-available"})
		return
	}
	status := proxyerrors.HTTPStatus(err)
	c.JSON(status, proxyerrors.FormatAPIError(err))
}
