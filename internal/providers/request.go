package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/amplihack/claude-gateway/internal/router"
)

// ToolValidationError names the tool definition that failed strict
// validation.
type ToolValidationError struct {
	Tool   string
	Reason string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("invalid tool definition %q: %s", e.Tool, e.Reason)
}

// TranslateOptions parameterizes unified-to-backend request translation.
type TranslateOptions struct {
	Deployment     string
	Shape          router.Shape
	MinTokens      int
	MaxTokens      int
	Stream         bool
	StrictTools    bool
	SingleToolCall bool
	Logger         *slog.Logger
}

// Deployment families that mandate fixed sampling; the caller's temperature
// is overridden with 1.0.
var fixedSamplingPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

func requiresFixedSampling(deployment string) bool {
	lower := strings.ToLower(deployment)

	for _, prefix := range fixedSamplingPrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+"-") {
			return true
		}
	}

	return false
}

// ClampMaxTokens bounds max_tokens to [min, max]; an unset value defaults to
// the configured maximum.
func ClampMaxTokens(requested, min, max int) int {
	if requested <= 0 {
		return max
	}

	if requested < min {
		return min
	}

	if requested > max {
		return max
	}

	return requested
}

// BuildChatRequest converts a unified request into the chat shape.
func BuildChatRequest(req *MessagesRequest, opts TranslateOptions) (*ChatRequest, error) {
	out := &ChatRequest{
		Model:     opts.Deployment,
		MaxTokens: ClampMaxTokens(req.MaxTokens, opts.MinTokens, opts.MaxTokens),
		Stream:    opts.Stream,
	}

	if opts.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	out.Temperature = effectiveTemperature(req.Temperature, opts.Deployment)

	if !req.System.IsZero() {
		out.Messages = append(out.Messages, ChatMessage{
			Role:    RoleSystem,
			Content: FlattenBlocks(req.System.Blocks),
		})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, translateChatMessage(msg)...)
	}

	tools, err := translateTools(req.Tools, opts)
	if err != nil {
		return nil, err
	}

	for _, tool := range tools {
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if len(out.Tools) > 0 {
		out.ToolChoice = chatToolChoice(req.ToolChoice)

		if opts.SingleToolCall {
			f := false
			out.ParallelToolCalls = &f
		}
	}

	return out, nil
}

// BuildResponsesRequest converts a unified request into the responses shape.
func BuildResponsesRequest(req *MessagesRequest, opts TranslateOptions) (*ResponsesRequest, error) {
	out := &ResponsesRequest{
		Model:           opts.Deployment,
		MaxOutputTokens: ClampMaxTokens(req.MaxTokens, opts.MinTokens, opts.MaxTokens),
		Stream:          opts.Stream,
	}

	out.Temperature = effectiveTemperature(req.Temperature, opts.Deployment)

	if !req.System.IsZero() {
		out.Instructions = FlattenBlocks(req.System.Blocks)
	}

	for _, msg := range req.Messages {
		out.Input = append(out.Input, translateResponsesItems(msg)...)
	}

	tools, err := translateTools(req.Tools, opts)
	if err != nil {
		return nil, err
	}

	for _, tool := range tools {
		out.Tools = append(out.Tools, ResponsesTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}

	if len(out.Tools) > 0 {
		out.ToolChoice = responsesToolChoice(req.ToolChoice)
	}

	return out, nil
}

func effectiveTemperature(requested *float64, deployment string) *float64 {
	if requiresFixedSampling(deployment) {
		fixed := 1.0
		return &fixed
	}

	return requested
}

// translateChatMessage expands one unified message into chat-shape messages.
// Tool results become dedicated role:tool messages; everything else flattens
// to text.
func translateChatMessage(msg Message) []ChatMessage {
	blocks := msg.Content.Sanitized()

	if msg.Role == RoleAssistant {
		return []ChatMessage{translateAssistantMessage(blocks)}
	}

	var out []ChatMessage

	var rest []ContentBlock

	for _, block := range blocks {
		if block.Type == BlockTypeToolResult {
			out = append(out, ChatMessage{
				Role:       RoleTool,
				ToolCallID: ConvertToolUseID(block.ToolUseID),
				Content:    nonEmpty(FlattenResultContent(block.Content)),
			})

			continue
		}

		rest = append(rest, block)
	}

	if len(rest) > 0 || len(out) == 0 {
		out = append(out, ChatMessage{
			Role:    msg.Role,
			Content: FlattenBlocks(rest),
		})
	}

	return out
}

func translateAssistantMessage(blocks []ContentBlock) ChatMessage {
	out := ChatMessage{Role: RoleAssistant}

	var text []string

	for _, block := range blocks {
		switch block.Type {
		case BlockTypeText:
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case BlockTypeToolUse:
			out.ToolCalls = append(out.ToolCalls, ChatToolCall{
				ID:   ConvertToolUseID(block.ID),
				Type: "function",
				Function: ChatCallFunction{
					Name:      block.Name,
					Arguments: compactJSON(block.Input),
				},
			})
		}
	}

	out.Content = strings.Join(text, "\n")
	if out.Content == "" && len(out.ToolCalls) == 0 {
		out.Content = "..."
	}

	return out
}

// translateResponsesItems expands one unified message into responses-shape
// input items.
func translateResponsesItems(msg Message) []ResponsesItem {
	blocks := msg.Content.Sanitized()

	var out []ResponsesItem

	var rest []ContentBlock

	for _, block := range blocks {
		switch block.Type {
		case BlockTypeToolUse:
			out = append(out, ResponsesItem{
				Type:      "function_call",
				CallID:    ConvertToolUseID(block.ID),
				Name:      block.Name,
				Arguments: compactJSON(block.Input),
			})
		case BlockTypeToolResult:
			out = append(out, ResponsesItem{
				Type:   "function_call_output",
				CallID: ConvertToolUseID(block.ToolUseID),
				Output: nonEmpty(FlattenResultContent(block.Content)),
			})
		default:
			rest = append(rest, block)
		}
	}

	if len(rest) > 0 || len(out) == 0 {
		out = append(out, ResponsesItem{
			Role:    msg.Role,
			Content: FlattenBlocks(rest),
		})
	}

	return out
}

// translateTools validates tool definitions. A malformed definition is
// dropped with a warning, or fails the whole translation under strict
// validation.
func translateTools(tools []Tool, opts TranslateOptions) ([]Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	out := make([]Tool, 0, len(tools))

	for _, tool := range tools {
		if reason := validateTool(tool); reason != "" {
			if opts.StrictTools {
				return nil, &ToolValidationError{Tool: tool.Name, Reason: reason}
			}

			opts.Logger.Warn("Dropping malformed tool definition",
				"tool", tool.Name,
				"reason", reason,
			)

			continue
		}

		out = append(out, tool)
	}

	return out, nil
}

func validateTool(tool Tool) string {
	if strings.TrimSpace(tool.Name) == "" {
		return "missing name"
	}

	if len(tool.InputSchema) > 0 {
		trimmed := strings.TrimSpace(string(tool.InputSchema))
		if !strings.HasPrefix(trimmed, "{") {
			return "input_schema is not an object"
		}
	}

	return ""
}

func chatToolChoice(choice *ToolChoice) any {
	if choice == nil {
		return nil
	}

	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		return ChatFunctionRef{
			Type:     "function",
			Function: ChatFunctionName{Name: choice.Name},
		}
	default:
		return nil
	}
}

func responsesToolChoice(choice *ToolChoice) any {
	if choice == nil {
		return nil
	}

	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "any"
	case "tool":
		return ResponsesFunctionRef{Type: "function", Name: choice.Name}
	default:
		return nil
	}
}

func nonEmpty(s string) string {
	if s == "" {
		return "..."
	}

	return s
}
