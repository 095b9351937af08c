package format

import "testing"

func TestConvertGoogleToAnthropicThinkingAndText(t *testing.T) {
	ClearThinkingSignatureCache()

	g := &GoogleResponse{
		Candidates: []Candidate{
			{
				FinishReason: "STOP",
				Content: &CandidateContent{
					Parts: []ResponsePart{
						{Text: "let me think", Thought: true, ThoughtSignature: "a-long-enough-signature-value"},
						{Text: "here is the answer"},
					},
				},
			},
		},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 100, CachedContentTokenCount: 20, CandidatesTokenCount: 10},
	}

	resp := ConvertGoogleToAnthropic(g, "gemini-2.0-flash")

	if len(resp.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(resp.Content))
	}
	if resp.Content[0].Type != "thinking" || resp.Content[0].Thinking != "let me think" {
		t.Fatalf("expected first block to be thinking, got %+v", resp.Content[0])
	}
	if resp.Content[1].Type != "text" || resp.Content[1].Text != "here is the answer" {
		t.Fatalf("expected second block to be text, got %+v", resp.Content[1])
	}
	if resp.StopReason != "end_turn" {
		t.Fatalf("expected end_turn, got %s", resp.StopReason)
	}
	if resp.Usage.InputTokens != 80 {
		t.Fatalf("expected input tokens 100-20=80, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.CacheReadInputTokens != 20 {
		t.Fatalf("expected cache read tokens 20, got %d", resp.Usage.CacheReadInputTokens)
	}

	family := GetGlobalSignatureCache().GetCachedSignatureFamily("a-long-enough-signature-value")
	if family != "gemini" {
		t.Fatalf("expected thinking signature cached under gemini family, got %q", family)
	}
}

func TestConvertGoogleToAnthropicToolCallWithoutID(t *testing.T) {
	g := &GoogleResponse{
		Candidates: []Candidate{
			{
				Content: &CandidateContent{
					Parts: []ResponsePart{
						{FunctionCall: &ResponseFuncCall{Name: "search", Args: map[string]interface{}{"q": "go"}}},
					},
				},
			},
		},
	}

	resp := ConvertGoogleToAnthropic(g, "gemini-2.0-pro")

	if len(resp.Content) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(resp.Content))
	}
	block := resp.Content[0]
	if block.Type != "tool_use" {
		t.Fatalf("expected tool_use block, got %s", block.Type)
	}
	if block.ID == "" {
		t.Fatalf("expected a generated tool id")
	}
	if len(block.ID) < 6 || block.ID[:6] != "toolu_" {
		t.Fatalf("expected toolu_-prefixed id, got %s", block.ID)
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("expected tool_use stop reason, got %s", resp.StopReason)
	}
}

func TestConvertGoogleToAnthropicResponseWrapper(t *testing.T) {
	g := &GoogleResponse{
		Response: &GoogleResponseInner{
			Candidates: []Candidate{
				{FinishReason: "MAX_TOKENS", Content: &CandidateContent{Parts: []ResponsePart{{Text: "cut off"}}}},
			},
			UsageMetadata: &UsageMetadata{PromptTokenCount: 5, CandidatesTokenCount: 5},
		},
	}

	resp := ConvertGoogleToAnthropic(g, "gemini-2.0-flash")
	if resp.StopReason != "max_tokens" {
		t.Fatalf("expected max_tokens, got %s", resp.StopReason)
	}
	if resp.Content[0].Text != "cut off" {
		t.Fatalf("expected text from wrapped response, got %+v", resp.Content[0])
	}
}

func TestConvertGoogleToAnthropicToolUseOverridesMaxTokens(t *testing.T) {
	g := &GoogleResponse{
		Candidates: []Candidate{
			{
				FinishReason: "MAX_TOKENS",
				Content: &CandidateContent{
					Parts: []ResponsePart{
						{Text: "partial answer"},
						{FunctionCall: &ResponseFuncCall{Name: "lookup", Args: map[string]interface{}{}}},
					},
				},
			},
		},
	}
	resp := ConvertGoogleToAnthropic(g, "gemini-2.0-pro")
	if resp.StopReason != "tool_use" {
		t.Fatalf("expected tool_use to override MAX_TOKENS, got %s", resp.StopReason)
	}
}

func TestConvertGoogleToAnthropicClampsNegativeInputTokens(t *testing.T) {
	g := &GoogleResponse{
		Candidates:    []Candidate{{Content: &CandidateContent{Parts: []ResponsePart{{Text: "ok"}}}}},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 10, CachedContentTokenCount: 25, CandidatesTokenCount: 3},
	}
	resp := ConvertGoogleToAnthropic(g, "gemini-2.0-flash")
	if resp.Usage.InputTokens != 0 {
		t.Fatalf("expected input tokens clamped to 0, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 3 {
		t.Fatalf("expected output tokens 3, got %d", resp.Usage.OutputTokens)
	}
}

func TestConvertGoogleToAnthropicEmptyCandidateYieldsEmptyTextBlock(t *testing.T) {
	resp := ConvertGoogleToAnthropic(&GoogleResponse{}, "gemini-2.0-flash")
	if len(resp.Content) != 1 || resp.Content[0].Type != "text" || resp.Content[0].Text != "" {
		t.Fatalf("expected a single empty text block, got %+v", resp.Content)
	}
}

func TestGoogleResponseFromMapParsesCandidates(t *testing.T) {
	data := map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"finishReason": "STOP",
				"content": map[string]interface{}{
					"parts": []interface{}{map[string]interface{}{"text": "hi"}},
				},
			},
		},
	}
	g := GoogleResponseFromMap(data)
	if len(g.Candidates) != 1 || g.Candidates[0].Content.Parts[0].Text != "hi" {
		t.Fatalf("expected parsed candidate text 'hi', got %+v", g)
	}
}
