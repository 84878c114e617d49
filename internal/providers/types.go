package providers

import (
	"encoding/json"
	"fmt"
)

// Content block type discriminators for the unified (Anthropic-style) format.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// Unified message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// MessagesRequest is the caller-facing request body for POST /v1/messages.
type MessagesRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Messages    []Message       `json:"messages"`
	System      SystemPrompt    `json:"system,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  *ToolChoice     `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Message is one turn of the conversation. Content always deserializes to a
// block list; a plain string body becomes a single text block.
type Message struct {
	Role    string       `json:"role"`
	Content ContentBlocks `json:"content"`
}

// ContentBlock is the closed tagged union over message content variants.
// Type selects the variant: text, image, tool_use, tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source json.RawMessage `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// ContentBlocks accepts either a JSON string or an array of blocks on the
// wire and always holds the block-list form in memory.
type ContentBlocks []ContentBlock

func (c *ContentBlocks) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ContentBlocks{TextBlock(s)}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}

	*c = blocks

	return nil
}

// Sanitized returns the blocks with the never-empty invariant applied: a
// message's content is never an empty collection.
func (c ContentBlocks) Sanitized() ContentBlocks {
	if len(c) == 0 {
		return ContentBlocks{TextBlock("")}
	}

	return c
}

// SystemPrompt accepts either a string or a block list for the request-level
// system field.
type SystemPrompt struct {
	Blocks ContentBlocks
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	return s.Blocks.UnmarshalJSON(data)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Blocks)
}

// IsZero reports whether no system content was supplied.
func (s SystemPrompt) IsZero() bool {
	return len(s.Blocks) == 0
}

// Tool is a unified tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice selects how the backend may invoke tools.
// Type is one of "auto", "any", "tool" (with Name set).
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Usage carries token accounting in unified form.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the unified non-streaming response body.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Unified stop reasons.
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonToolUse      = "tool_use"
	StopReasonStopSequence = "stop_sequence"
)

// Chat shape (nested-tool chat/completions wire format)

// ChatRequest is the chat-completions backend payload. It is created once per
// call and never mutated after dispatch.
type ChatRequest struct {
	Model             string         `json:"model"`
	Messages          []ChatMessage  `json:"messages"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
	StreamOptions     *StreamOptions `json:"stream_options,omitempty"`
	Tools             []ChatTool     `json:"tools,omitempty"`
	ToolChoice        any            `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool          `json:"parallel_tool_calls,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ChatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ChatCallFunction `json:"function"`
}

type ChatCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatFunctionRef is the chat-shape tool_choice forcing a named function.
type ChatFunctionRef struct {
	Type     string           `json:"type"`
	Function ChatFunctionName `json:"function"`
}

type ChatFunctionName struct {
	Name string `json:"name"`
}

// ChatResponse is the complete (non-streamed) chat-shape response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
	Error   *ChatError   `json:"error,omitempty"`
}

type ChatChoice struct {
	Message      *ChatChoiceMessage `json:"message,omitempty"`
	Delta        *ChatChoiceMessage `json:"delta,omitempty"`
	FinishReason *string            `json:"finish_reason,omitempty"`
}

type ChatChoiceMessage struct {
	Role      string         `json:"role,omitempty"`
	Content   *string        `json:"content,omitempty"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type ChatError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChatChunk is one streamed chat-shape delta. The single canonical struct
// replaces duck-typed map access at every boundary.
type ChatChunk struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// Responses shape (flat-tool wire format with an input array)

// ResponsesRequest is the responses-endpoint backend payload.
type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           []ResponsesItem `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Tools           []ResponsesTool `json:"tools,omitempty"`
	ToolChoice      any             `json:"tool_choice,omitempty"`
}

// ResponsesItem is one entry of the input array: a role message, a prior
// function call, or a function call output.
type ResponsesItem struct {
	Type      string `json:"type,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// ResponsesTool is the flat tool object of the responses shape.
type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponsesFunctionRef is the responses-shape tool_choice forcing a function.
type ResponsesFunctionRef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ResponsesResponse is the complete responses-shape response.
type ResponsesResponse struct {
	ID                string               `json:"id"`
	Model             string               `json:"model"`
	Status            string               `json:"status,omitempty"`
	Output            []ResponsesOutput    `json:"output"`
	IncompleteDetails *IncompleteDetails   `json:"incomplete_details,omitempty"`
	Usage             *ResponsesUsage      `json:"usage,omitempty"`
	Error             *ChatError           `json:"error,omitempty"`
}

type ResponsesOutput struct {
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Content   []ResponsesContent `json:"content,omitempty"`
	ID        string             `json:"id,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
}

type ResponsesContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type IncompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponsesEvent is one SSE event of a streamed responses-shape call.
type ResponsesEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta,omitempty"`
	ItemID   string             `json:"item_id,omitempty"`
	Item     *ResponsesOutput   `json:"item,omitempty"`
	Response *ResponsesResponse `json:"response,omitempty"`
}

// Unified streaming events

// Stream event type discriminators emitted to the caller.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// StreamEvent is the tagged union of caller-facing streaming events. Exactly
// the fields of the selected variant are populated.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *EventDelta       `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
}

// EventDelta is the payload of content_block_delta and message_delta events.
type EventDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJSON  *string `json:"partial_json,omitempty"`
	StopReason   *string `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// Delta type discriminators.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)
