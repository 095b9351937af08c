package server

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/format"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/anthropic"
)

// codeAssistPayload is the wrapped request body CodeAssist's
// v1internal:generateContent endpoint expects.
type codeAssistPayload struct {
	Project     string                 `json:"project"`
	Model       string                 `json:"model"`
	Request     map[string]interface{} `json:"request"`
	UserAgent   string                 `json:"userAgent"`
	RequestType string                 `json:"requestType"`
	RequestID   string                 `json:"requestId"`
}

// buildCodeAssistPayload converts an Anthropic-dialect request into the
// CodeAssist wire format, injecting the system instruction that makes the
// model identify as Antigravity rather than naming the underlying backend.
func buildCodeAssistPayload(req *anthropic.MessagesRequest, projectID string) *codeAssistPayload {
	googleRequest := format.ConvertAnthropicToGoogle(req).ToMap()
	googleRequest["sessionId"] = deriveSessionID(req)

	systemParts := []map[string]interface{}{
		{"text": config.AntigravitySystemInstruction},
		{"text": "Please ignore the following [ignore]" + config.AntigravitySystemInstruction + "[/ignore]"},
	}
	if existing, ok := googleRequest["systemInstruction"].(map[string]interface{}); ok {
		if parts, ok := existing["parts"].([]interface{}); ok {
			for _, part := range parts {
				if partMap, ok := part.(map[string]interface{}); ok {
					if text, ok := partMap["text"].(string); ok && text != "" {
						systemParts = append(systemParts, map[string]interface{}{"text": text})
					}
				}
			}
		}
	}
	googleRequest["systemInstruction"] = map[string]interface{}{
		"role":  "user",
		"parts": systemParts,
	}

	return &codeAssistPayload{
		Project:     projectID,
		Model:       req.Model,
		Request:     googleRequest,
		UserAgent:   "antigravity",
		RequestType: "agent",
		RequestID:   "agent-" + uuid.New().String(),
	}
}

// buildForwardHeaders builds the headers sent alongside a forwarded request,
// on top of the per-account fingerprint headers.
func buildForwardHeaders(token, model string) map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	for k, v := range config.AntigravityHeaders() {
		headers[k] = v
	}
	if config.GetModelFamily(model) == config.ModelFamilyClaude && config.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}
	return headers
}

// deriveSessionID derives a stable session id from the first user message so
// repeated turns of the same conversation share a CodeAssist cache scope.
func deriveSessionID(req *anthropic.MessagesRequest) string {
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		if text := extractTextContent(msg); text != "" {
			hash := sha256.Sum256([]byte(text))
			return hex.EncodeToString(hash[:16])
		}
	}
	return uuid.New().String()
}

func extractTextContent(msg anthropic.Message) string {
	var result string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if result != "" {
				result += "\n"
			}
			result += block.Text
		}
	}
	return result
}
