package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-core/antigravity-proxy-go/internal/server/sse"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/anthropic"
)

// writeStreamedResponse replays a complete converted response as the
// Messages API streaming event sequence. The upstream call itself is not
// streamed: the Traffic Shaper admits exactly one outbound request at a
// time, so holding a long-lived upstream stream open would stall the queue
// for every other caller. Clients still get the event framing they asked
// for with stream: true.
func writeStreamedResponse(c *gin.Context, resp *anthropic.MessagesResponse) {
	stream, err := sse.Open(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"type": "error", "error": gin.H{"type": "internal_error", "message": err.Error()}})
		return
	}

	stream.Send(string(anthropic.SSEEventMessageStart), gin.H{
		"type": "message_start",
		"message": gin.H{
			"id":            resp.ID,
			"type":          "message",
			"role":          "assistant",
			"model":         resp.Model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         resp.Usage,
		},
	})

	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			stream.Send(string(anthropic.SSEEventContentBlockStart), gin.H{
				"type": "content_block_start", "index": i,
				"content_block": gin.H{"type": "text", "text": ""},
			})
			stream.Send(string(anthropic.SSEEventContentBlockDelta), gin.H{
				"type": "content_block_delta", "index": i,
				"delta": gin.H{"type": "text_delta", "text": block.Text},
			})
		case "thinking":
			stream.Send(string(anthropic.SSEEventContentBlockStart), gin.H{
				"type": "content_block_start", "index": i,
				"content_block": gin.H{"type": "thinking", "thinking": ""},
			})
			stream.Send(string(anthropic.SSEEventContentBlockDelta), gin.H{
				"type": "content_block_delta", "index": i,
				"delta": gin.H{"type": "thinking_delta", "thinking": block.Thinking},
			})
			if block.Signature != "" {
				stream.Send(string(anthropic.SSEEventContentBlockDelta), gin.H{
					"type": "content_block_delta", "index": i,
					"delta": gin.H{"type": "signature_delta", "signature": block.Signature},
				})
			}
		case "tool_use":
			stream.Send(string(anthropic.SSEEventContentBlockStart), gin.H{
				"type": "content_block_start", "index": i,
				"content_block": gin.H{"type": "tool_use", "id": block.ID, "name": block.Name, "input": gin.H{}},
			})
			stream.Send(string(anthropic.SSEEventContentBlockDelta), gin.H{
				"type": "content_block_delta", "index": i,
				"delta": gin.H{"type": "input_json_delta", "partial_json": string(block.Input)},
			})
		default:
			// image and any future block types stream as a single complete
			// block.
			stream.Send(string(anthropic.SSEEventContentBlockStart), gin.H{
				"type": "content_block_start", "index": i,
				"content_block": block,
			})
		}
		stream.Send(string(anthropic.SSEEventContentBlockStop), gin.H{
			"type": "content_block_stop", "index": i,
		})
	}

	var outputTokens int
	if resp.Usage != nil {
		outputTokens = resp.Usage.OutputTokens
	}
	stream.Send(string(anthropic.SSEEventMessageDelta), gin.H{
		"type":  "message_delta",
		"delta": gin.H{"stop_reason": resp.StopReason, "stop_sequence": nil},
		"usage": gin.H{"output_tokens": outputTokens},
	})
	stream.Send(string(anthropic.SSEEventMessageStop), gin.H{"type": "message_stop"})
}
