package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amplihack/claude-gateway/internal/router"
)

// TranslateChatResponse maps a complete chat-shape response to unified form.
// requestedModel is the caller's original model name; it decides whether tool
// calls surface as structured blocks or as readable text.
func TranslateChatResponse(resp *ChatResponse, requestedModel string) (*MessagesResponse, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("backend error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in backend response")
	}

	choice := resp.Choices[0]

	message := choice.Message
	if message == nil {
		message = choice.Delta
	}

	if message == nil {
		return nil, errors.New("no message in backend choice")
	}

	out := &MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  RoleAssistant,
		Model: requestedModel,
	}

	out.Content = buildContent(messageText(message), message.ToolCalls, requestedModel)

	if choice.FinishReason != nil {
		out.StopReason = ConvertStopReason(*choice.FinishReason, router.ShapeChat)
	} else {
		out.StopReason = ConvertStopReason("", router.ShapeChat)
	}

	if resp.Usage != nil {
		out.Usage = Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// TranslateResponsesResponse maps a complete responses-shape response to
// unified form.
func TranslateResponsesResponse(resp *ResponsesResponse, requestedModel string) (*MessagesResponse, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("backend error: %s", resp.Error.Message)
	}

	out := &MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  RoleAssistant,
		Model: requestedModel,
	}

	var (
		text      []string
		toolCalls []ChatToolCall
	)

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Text != "" {
					text = append(text, part.Text)
				}
			}
		case "function_call":
			id := item.CallID
			if id == "" {
				id = item.ID
			}

			toolCalls = append(toolCalls, ChatToolCall{
				ID:   id,
				Type: "function",
				Function: ChatCallFunction{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
		}
	}

	out.Content = buildContent(strings.Join(text, "\n"), toolCalls, requestedModel)

	stopReason := StopReasonEndTurn

	switch {
	case resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens":
		stopReason = StopReasonMaxTokens
	case len(toolCalls) > 0:
		stopReason = StopReasonToolUse
	}

	out.StopReason = &stopReason

	if resp.Usage != nil {
		out.Usage = Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}
	}

	return out, nil
}

// buildContent assembles unified content blocks. Structured tool_use blocks
// are emitted only for tool-block-capable callers; other target models get
// the tool call rendered as readable text, since they only consume
// conversational content. Content is never empty.
func buildContent(text string, toolCalls []ChatToolCall, requestedModel string) []ContentBlock {
	var content []ContentBlock

	if text != "" {
		content = append(content, TextBlock(text))
	}

	if len(toolCalls) > 0 {
		if router.ToolBlockCapable(requestedModel) {
			for _, tc := range toolCalls {
				content = append(content, ContentBlock{
					Type:  BlockTypeToolUse,
					ID:    ConvertToolCallID(tc.ID),
					Name:  tc.Function.Name,
					Input: parsedArguments(tc.Function.Arguments),
				})
			}
		} else {
			content = []ContentBlock{TextBlock(appendToolCallText(text, toolCalls))}
		}
	}

	if len(content) == 0 {
		content = append(content, TextBlock(""))
	}

	return content
}

func appendToolCallText(text string, toolCalls []ChatToolCall) string {
	var b strings.Builder

	b.WriteString(text)

	for _, tc := range toolCalls {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}

		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}

		fmt.Fprintf(&b, "[Tool call: %s with input %s]", tc.Function.Name, args)
	}

	return b.String()
}

func parsedArguments(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage("{}")
	}

	if !json.Valid([]byte(trimmed)) {
		// Forward the malformed fragment as a quoted string rather than
		// dropping it.
		quoted, _ := json.Marshal(trimmed)
		return json.RawMessage(fmt.Sprintf(`{"raw":%s}`, quoted))
	}

	return json.RawMessage(trimmed)
}
