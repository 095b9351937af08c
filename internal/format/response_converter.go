// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/anthropic"
)

// GoogleResponse represents a response from the CodeAssist generateContent API.
// The upstream API sometimes wraps the payload in a top-level "response" field
// and sometimes returns candidates/usageMetadata directly; both shapes are
// handled here.
type GoogleResponse struct {
	Response      *GoogleResponseInner `json:"response,omitempty"`
	Candidates    []Candidate          `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata       `json:"usageMetadata,omitempty"`
}

// GoogleResponseInner is the payload under a "response" wrapper.
type GoogleResponseInner struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one response candidate.
type Candidate struct {
	Content      *CandidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

// CandidateContent is the content of a candidate.
type CandidateContent struct {
	Parts []ResponsePart `json:"parts,omitempty"`
	Role  string         `json:"role,omitempty"`
}

// ResponsePart is one part of a candidate's content.
type ResponsePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *ResponseFuncCall `json:"functionCall,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
}

// ResponseFuncCall is a function call emitted by the model.
type ResponseFuncCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

// UsageMetadata is CodeAssist's token accounting for a response.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// GoogleResponseFromMap builds a GoogleResponse from a decoded JSON map, used
// when the caller already parsed the body generically (e.g. from an SSE chunk).
func GoogleResponseFromMap(data map[string]interface{}) *GoogleResponse {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return &GoogleResponse{}
	}
	var response GoogleResponse
	if err := json.Unmarshal(jsonData, &response); err != nil {
		return &GoogleResponse{}
	}
	return &response
}

// ConvertGoogleToAnthropic converts a CodeAssist generateContent response into
// the shape the Anthropic Messages API returns for /v1/messages.
func ConvertGoogleToAnthropic(googleResponse *GoogleResponse, model string) *anthropic.MessagesResponse {
	var candidates []Candidate
	var usageMetadata *UsageMetadata

	if googleResponse.Response != nil {
		candidates = googleResponse.Response.Candidates
		usageMetadata = googleResponse.Response.UsageMetadata
	} else {
		candidates = googleResponse.Candidates
		usageMetadata = googleResponse.UsageMetadata
	}

	var firstCandidate Candidate
	if len(candidates) > 0 {
		firstCandidate = candidates[0]
	}

	var parts []ResponsePart
	if firstCandidate.Content != nil {
		parts = firstCandidate.Content.Parts
	}

	anthropicContent := make([]anthropic.ContentBlock, 0, len(parts))
	hasToolCalls := false

	cache := GetGlobalSignatureCache()

	for _, part := range parts {
		switch {
		case part.Thought:
			signature := part.ThoughtSignature
			if signature != "" && len(signature) >= config.MinSignatureLength {
				family := config.GetModelFamily(model)
				cache.CacheThinkingSignature(signature, string(family))
			}
			anthropicContent = append(anthropicContent, anthropic.ContentBlock{
				Type:      "thinking",
				Thinking:  part.Text,
				Signature: signature,
			})

		case part.Text != "":
			anthropicContent = append(anthropicContent, anthropic.ContentBlock{
				Type: "text",
				Text: part.Text,
			})

		case part.FunctionCall != nil:
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = "toolu_" + generateRandomHex(12)
			}

			var inputJSON json.RawMessage
			if part.FunctionCall.Args != nil {
				inputJSON, _ = json.Marshal(part.FunctionCall.Args)
			} else {
				inputJSON = json.RawMessage("{}")
			}

			toolUseBlock := anthropic.ContentBlock{
				Type:  "tool_use",
				ID:    toolID,
				Name:  part.FunctionCall.Name,
				Input: inputJSON,
			}

			if part.ThoughtSignature != "" && len(part.ThoughtSignature) >= config.MinSignatureLength {
				toolUseBlock.ThoughtSignature = part.ThoughtSignature
				cache.CacheSignature(toolID, part.ThoughtSignature)
			}

			anthropicContent = append(anthropicContent, toolUseBlock)
			hasToolCalls = true

		case part.InlineData != nil:
			anthropicContent = append(anthropicContent, anthropic.ContentBlock{
				Type: "image",
				Source: &anthropic.ImageSource{
					Type:      "base64",
					MediaType: part.InlineData.MimeType,
					Data:      part.InlineData.Data,
				},
			})
		}
	}

	// A tool_use block always wins, whatever finishReason claims.
	stopReason := "end_turn"
	switch {
	case hasToolCalls || firstCandidate.FinishReason == "TOOL_USE":
		stopReason = "tool_use"
	case firstCandidate.FinishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	}

	// promptTokenCount includes cached tokens; Anthropic's input_tokens excludes
	// them, so the cached count is subtracted out here.
	var promptTokens, cachedTokens, outputTokens int
	if usageMetadata != nil {
		promptTokens = usageMetadata.PromptTokenCount
		cachedTokens = usageMetadata.CachedContentTokenCount
		outputTokens = usageMetadata.CandidatesTokenCount
	}
	inputTokens := promptTokens - cachedTokens
	if inputTokens < 0 {
		inputTokens = 0
	}

	if len(anthropicContent) == 0 {
		anthropicContent = append(anthropicContent, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	return &anthropic.MessagesResponse{
		ID:           "msg_" + generateRandomHex(16),
		Type:         "message",
		Role:         "assistant",
		Content:      anthropicContent,
		Model:        model,
		StopReason:   stopReason,
		StopSequence: nil,
		Usage: &anthropic.Usage{
			InputTokens:              inputTokens,
			OutputTokens:             outputTokens,
			CacheReadInputTokens:     cachedTokens,
			CacheCreationInputTokens: 0,
		},
	}
}

func generateRandomHex(byteLength int) string {
	bytes := make([]byte, byteLength)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
