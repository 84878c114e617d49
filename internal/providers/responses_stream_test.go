package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responsesEvent(t *testing.T, evt ResponsesEvent) []byte {
	t.Helper()

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	return data
}

func collectResponses(t *testing.T, tr *ResponsesStreamTranslator, events ...[]byte) []sseEvent {
	t.Helper()

	raw := tr.Begin()

	for _, evt := range events {
		out, err := tr.Next(evt)
		require.NoError(t, err)
		raw = append(raw, out...)
	}

	raw = append(raw, tr.Finish()...)

	return parseSSE(t, raw)
}

func TestResponsesStreamTranslator_TextOnly(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())

	events := collectResponses(t, tr,
		responsesEvent(t, ResponsesEvent{Type: "response.output_text.delta", Delta: "Hello"}),
		responsesEvent(t, ResponsesEvent{Type: "response.output_text.delta", Delta: " world"}),
		responsesEvent(t, ResponsesEvent{
			Type: "response.completed",
			Response: &ResponsesResponse{
				Usage: &ResponsesUsage{InputTokens: 10, OutputTokens: 2},
			},
		}),
	)

	assert.Equal(t, []string{
		EventMessageStart,
		EventContentBlockStart,
		EventContentBlockDelta,
		EventContentBlockDelta,
		EventContentBlockStop,
		EventMessageDelta,
		EventMessageStop,
	}, eventNames(events))

	delta := events[len(events)-2]
	assert.Equal(t, StopReasonEndTurn, *delta.data.Delta.StopReason)
	assert.Equal(t, 10, delta.data.Usage.InputTokens)
}

func TestResponsesStreamTranslator_FunctionCall(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())

	events := collectResponses(t, tr,
		responsesEvent(t, ResponsesEvent{Type: "response.output_text.delta", Delta: "On it."}),
		responsesEvent(t, ResponsesEvent{
			Type: "response.output_item.added",
			Item: &ResponsesOutput{Type: "function_call", ID: "fc_1", CallID: "call_a", Name: "search"},
		}),
		responsesEvent(t, ResponsesEvent{Type: "response.function_call_arguments.delta", ItemID: "fc_1", Delta: `{"q":`}),
		responsesEvent(t, ResponsesEvent{Type: "response.function_call_arguments.delta", ItemID: "fc_1", Delta: `"go"}`}),
		responsesEvent(t, ResponsesEvent{Type: "response.output_item.done", ItemID: "fc_1"}),
		responsesEvent(t, ResponsesEvent{Type: "response.completed", Response: &ResponsesResponse{}}),
	)

	var toolStart *sseEvent

	var args []string

	for i := range events {
		e := events[i]

		if e.name == EventContentBlockStart && e.data.Index != nil && *e.data.Index == 1 {
			toolStart = &events[i]
		}

		if e.name == EventContentBlockDelta && e.data.Delta.Type == DeltaTypeInputJSON {
			args = append(args, *e.data.Delta.PartialJSON)
		}
	}

	require.NotNil(t, toolStart)
	assert.Equal(t, "toolu_a", toolStart.data.ContentBlock.ID)
	assert.Equal(t, "search", toolStart.data.ContentBlock.Name)
	assert.Equal(t, `{"q":"go"}`, strings.Join(args, ""))

	// A function call in flight yields tool_use at completion.
	assert.Equal(t, StopReasonToolUse, *events[len(events)-2].data.Delta.StopReason)
}

func TestResponsesStreamTranslator_DuplicateItemAddedIgnored(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())

	item := ResponsesEvent{
		Type: "response.output_item.added",
		Item: &ResponsesOutput{Type: "function_call", ID: "fc_1", CallID: "call_a", Name: "search"},
	}

	events := collectResponses(t, tr,
		responsesEvent(t, item),
		responsesEvent(t, item),
		responsesEvent(t, ResponsesEvent{Type: "response.completed", Response: &ResponsesResponse{}}),
	)

	starts := 0

	for _, e := range events {
		if e.name == EventContentBlockStart && e.data.Index != nil && *e.data.Index > 0 {
			starts++
		}
	}

	assert.Equal(t, 1, starts)
}

func TestResponsesStreamTranslator_ArgumentsForUnknownItemDropped(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())
	tr.Begin()

	out, err := tr.Next(responsesEvent(t, ResponsesEvent{
		Type:   "response.function_call_arguments.delta",
		ItemID: "fc_unseen",
		Delta:  `{}`,
	}))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResponsesStreamTranslator_IncompleteMapsToMaxTokens(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())

	events := collectResponses(t, tr,
		responsesEvent(t, ResponsesEvent{Type: "response.output_text.delta", Delta: "truncated"}),
		responsesEvent(t, ResponsesEvent{
			Type: "response.completed",
			Response: &ResponsesResponse{
				IncompleteDetails: &IncompleteDetails{Reason: "max_output_tokens"},
			},
		}),
	)

	assert.Equal(t, StopReasonMaxTokens, *events[len(events)-2].data.Delta.StopReason)
}

func TestResponsesStreamTranslator_FailedEventTerminatesCleanly(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())

	raw := tr.Begin()

	out, err := tr.Next(responsesEvent(t, ResponsesEvent{
		Type:     "response.failed",
		Response: &ResponsesResponse{Error: &ChatError{Message: "backend exploded"}},
	}))
	require.NoError(t, err)
	raw = append(raw, out...)

	events := parseSSE(t, raw)
	assert.Equal(t, EventMessageStop, events[len(events)-1].name)
	assert.True(t, tr.Done())
}

func TestResponsesStreamTranslator_UnknownEventIgnored(t *testing.T) {
	tr := NewResponsesStreamTranslator("claude-opus-4", nil, testLogger())
	tr.Begin()

	out, err := tr.Next(responsesEvent(t, ResponsesEvent{Type: "response.in_progress"}))
	require.NoError(t, err)
	assert.Empty(t, out)
}
