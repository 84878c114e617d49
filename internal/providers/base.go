package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amplihack/claude-gateway/internal/router"
)

// FormatSSEEvent frames one caller-facing event as a Server-Sent Event.
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)))
}

// ConvertStopReason maps a backend finish_reason to the unified stop_reason.
// content_filter maps to stop_sequence under the chat shape and end_turn
// under the responses shape; everything unmapped lands on end_turn.
func ConvertStopReason(reason string, shape router.Shape) *string {
	mapping := map[string]string{
		"stop":          StopReasonEndTurn,
		"length":        StopReasonMaxTokens,
		"max_tokens":    StopReasonMaxTokens,
		"tool_calls":    StopReasonToolUse,
		"function_call": StopReasonToolUse,
	}

	if shape == router.ShapeChat {
		mapping["content_filter"] = StopReasonStopSequence
	}

	if unified, ok := mapping[reason]; ok {
		return &unified
	}

	endTurn := StopReasonEndTurn

	return &endTurn
}

// ConvertToolCallID maps backend call ids into the unified toolu_ namespace.
func ConvertToolCallID(id string) string {
	if strings.HasPrefix(id, "toolu_") {
		return id
	}

	if strings.HasPrefix(id, "call_") {
		return "toolu_" + strings.TrimPrefix(id, "call_")
	}

	return "toolu_" + id
}

// ConvertToolUseID maps unified tool_use ids back to the backend namespace.
func ConvertToolUseID(id string) string {
	return strings.Replace(id, "toolu_", "call_", 1)
}

// FlattenBlocks renders a block list as newline-joined text for backends
// without content-array support: text verbatim, tool results by their
// content, tool invocations as a textual summary. Never returns an empty
// string.
func FlattenBlocks(blocks []ContentBlock) string {
	var parts []string

	for _, block := range blocks {
		switch block.Type {
		case BlockTypeText:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case BlockTypeImage:
			parts = append(parts, "[image]")
		case BlockTypeToolUse:
			parts = append(parts, fmt.Sprintf("[Tool call: %s(%s)]", block.Name, compactJSON(block.Input)))
		case BlockTypeToolResult:
			if text := FlattenResultContent(block.Content); text != "" {
				parts = append(parts, text)
			}
		}
	}

	if len(parts) == 0 {
		return "..."
	}

	return strings.Join(parts, "\n")
}

// FlattenResultContent renders a tool_result content field, which may be a
// JSON string, a block list, or arbitrary JSON.
func FlattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string

		for _, block := range blocks {
			if block.Type == BlockTypeText && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}

		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}

	return string(raw)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}

	return buf.String()
}
