package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestTranslateChatResponse_Text(t *testing.T) {
	resp := &ChatResponse{
		ID: "chatcmpl-123",
		Choices: []ChatChoice{{
			Message:      &ChatChoiceMessage{Role: RoleAssistant, Content: strPtr("hello there")},
			FinishReason: strPtr("stop"),
		}},
		Usage: &ChatUsage{PromptTokens: 12, CompletionTokens: 4},
	}

	out, err := TranslateChatResponse(resp, "claude-sonnet-4")
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-123", out.ID)
	assert.Equal(t, "claude-sonnet-4", out.Model, "caller sees the model name they asked for")
	require.Len(t, out.Content, 1)
	assert.Equal(t, "hello there", out.Content[0].Text)
	assert.Equal(t, StopReasonEndTurn, *out.StopReason)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 4, out.Usage.OutputTokens)
}

func TestTranslateChatResponse_ToolCalls(t *testing.T) {
	resp := &ChatResponse{
		ID: "chatcmpl-456",
		Choices: []ChatChoice{{
			Message: &ChatChoiceMessage{
				Role:    RoleAssistant,
				Content: strPtr("let me check"),
				ToolCalls: []ChatToolCall{{
					ID:   "call_abc",
					Type: "function",
					Function: ChatCallFunction{
						Name:      "read_file",
						Arguments: `{"path":"a.txt"}`,
					},
				}},
			},
			FinishReason: strPtr("tool_calls"),
		}},
	}

	out, err := TranslateChatResponse(resp, "claude-sonnet-4")
	require.NoError(t, err)

	require.Len(t, out.Content, 2)
	assert.Equal(t, BlockTypeText, out.Content[0].Type)

	tool := out.Content[1]
	assert.Equal(t, BlockTypeToolUse, tool.Type)
	assert.Equal(t, "toolu_abc", tool.ID)
	assert.Equal(t, "read_file", tool.Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(tool.Input))
	assert.Equal(t, StopReasonToolUse, *out.StopReason)
}

func TestTranslateChatResponse_ToolCallsAsTextForNonClaudeCaller(t *testing.T) {
	resp := &ChatResponse{
		Choices: []ChatChoice{{
			Message: &ChatChoiceMessage{
				Role: RoleAssistant,
				ToolCalls: []ChatToolCall{{
					ID:       "call_abc",
					Function: ChatCallFunction{Name: "read_file", Arguments: `{"path":"a.txt"}`},
				}},
			},
			FinishReason: strPtr("tool_calls"),
		}},
	}

	out, err := TranslateChatResponse(resp, "gpt-4.1")
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockTypeText, out.Content[0].Type)
	assert.Contains(t, out.Content[0].Text, "[Tool call: read_file")
}

func TestTranslateChatResponse_MalformedArguments(t *testing.T) {
	resp := &ChatResponse{
		Choices: []ChatChoice{{
			Message: &ChatChoiceMessage{
				Role: RoleAssistant,
				ToolCalls: []ChatToolCall{{
					ID:       "call_abc",
					Function: ChatCallFunction{Name: "read_file", Arguments: `{"path": trunc`},
				}},
			},
			FinishReason: strPtr("tool_calls"),
		}},
	}

	out, err := TranslateChatResponse(resp, "claude-sonnet-4")
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Contains(t, string(out.Content[0].Input), `"raw"`, "malformed arguments are preserved, not dropped")
}

func TestTranslateChatResponse_EmptyContentNeverEmpty(t *testing.T) {
	resp := &ChatResponse{
		Choices: []ChatChoice{{
			Message:      &ChatChoiceMessage{Role: RoleAssistant},
			FinishReason: strPtr("stop"),
		}},
	}

	out, err := TranslateChatResponse(resp, "claude-sonnet-4")
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockTypeText, out.Content[0].Type)
}

func TestTranslateChatResponse_Errors(t *testing.T) {
	_, err := TranslateChatResponse(&ChatResponse{Error: &ChatError{Message: "bad"}}, "m")
	assert.Error(t, err)

	_, err = TranslateChatResponse(&ChatResponse{}, "m")
	assert.Error(t, err, "no choices")
}

func TestTranslateResponsesResponse_MessageAndFunctionCall(t *testing.T) {
	resp := &ResponsesResponse{
		ID: "resp_123",
		Output: []ResponsesOutput{
			{
				Type:    "message",
				Role:    RoleAssistant,
				Content: []ResponsesContent{{Type: "output_text", Text: "checking now"}},
			},
			{
				Type:      "function_call",
				ID:        "fc_1",
				CallID:    "call_xyz",
				Name:      "search",
				Arguments: `{"q":"weather"}`,
			},
		},
		Usage: &ResponsesUsage{InputTokens: 20, OutputTokens: 7},
	}

	out, err := TranslateResponsesResponse(resp, "claude-opus-4")
	require.NoError(t, err)

	require.Len(t, out.Content, 2)
	assert.Equal(t, "checking now", out.Content[0].Text)
	assert.Equal(t, "toolu_xyz", out.Content[1].ID)
	assert.Equal(t, "search", out.Content[1].Name)
	assert.Equal(t, StopReasonToolUse, *out.StopReason)
	assert.Equal(t, 20, out.Usage.InputTokens)
}

func TestTranslateResponsesResponse_Incomplete(t *testing.T) {
	resp := &ResponsesResponse{
		Output: []ResponsesOutput{{
			Type:    "message",
			Content: []ResponsesContent{{Text: "partial"}},
		}},
		IncompleteDetails: &IncompleteDetails{Reason: "max_output_tokens"},
	}

	out, err := TranslateResponsesResponse(resp, "claude-opus-4")
	require.NoError(t, err)
	assert.Equal(t, StopReasonMaxTokens, *out.StopReason)
}

func TestTranslateResponsesResponse_PlainCompletion(t *testing.T) {
	resp := &ResponsesResponse{
		Output: []ResponsesOutput{{
			Type:    "message",
			Content: []ResponsesContent{{Text: "done"}},
		}},
	}

	out, err := TranslateResponsesResponse(resp, "claude-opus-4")
	require.NoError(t, err)
	assert.Equal(t, StopReasonEndTurn, *out.StopReason)
}
