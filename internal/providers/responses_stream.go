package providers

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ResponsesStreamTranslator adapts a responses-shape event stream onto the
// same unified event state machine used for chat-shape chunks. Function-call
// items are keyed by their item id, so argument deltas attach to the right
// block even when items interleave.
type ResponsesStreamTranslator struct {
	*StreamTranslator
}

func NewResponsesStreamTranslator(model string, requestTools []Tool, logger *slog.Logger) *ResponsesStreamTranslator {
	return &ResponsesStreamTranslator{
		StreamTranslator: NewStreamTranslator(model, requestTools, logger),
	}
}

// Next consumes one responses-shape SSE event payload.
func (t *ResponsesStreamTranslator) Next(data []byte) ([]byte, error) {
	if t.finished {
		return nil, nil
	}

	var evt ResponsesEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal responses event: %w", err)
	}

	switch evt.Type {
	case "response.output_text.delta":
		return t.textDelta(evt.Delta), nil

	case "response.output_item.added":
		if evt.Item == nil || evt.Item.Type != "function_call" {
			return nil, nil
		}

		return t.addFunctionCall(evt.Item), nil

	case "response.function_call_arguments.delta":
		return t.argumentsDelta(evt.ItemID, evt.Delta), nil

	case "response.output_item.done":
		// Blocks close in open order when the stream completes.
		return nil, nil

	case "response.completed":
		return t.complete(evt.Response), nil

	case "response.failed":
		return t.Fatal(fmt.Errorf("backend reported stream failure: %s", failureMessage(evt.Response))), nil

	default:
		return nil, nil
	}
}

func (t *ResponsesStreamTranslator) addFunctionCall(item *ResponsesOutput) []byte {
	out := t.closeTextBlock()

	key := item.ID
	if key == "" {
		key = item.CallID
	}

	if _, exists := t.blocksByID[key]; exists {
		return out
	}

	callID := item.CallID
	if callID == "" {
		callID = key
	}

	blk := &toolBlockState{
		unifiedIndex: t.nextIndex,
		id:           callID,
		name:         t.resolveToolName(callID, item.Name),
	}
	t.nextIndex++

	t.blocksByID[key] = blk
	t.openOrder = append(t.openOrder, blk)

	return append(out, t.blockStart(blk.unifiedIndex, ContentBlock{
		Type:  BlockTypeToolUse,
		ID:    ConvertToolCallID(blk.id),
		Name:  blk.name,
		Input: json.RawMessage("{}"),
	})...)
}

func (t *ResponsesStreamTranslator) argumentsDelta(itemID, delta string) []byte {
	if delta == "" {
		return nil
	}

	blk, ok := t.blocksByID[itemID]
	if !ok {
		t.logger.Warn("Arguments delta for unknown function-call item", "item_id", itemID)
		return nil
	}

	return FormatSSEEvent(EventContentBlockDelta, StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &blk.unifiedIndex,
		Delta: &EventDelta{Type: DeltaTypeInputJSON, PartialJSON: &delta},
	})
}

func (t *ResponsesStreamTranslator) complete(resp *ResponsesResponse) []byte {
	if resp != nil && resp.Usage != nil {
		t.usage = &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}
	}

	stopReason := StopReasonEndTurn

	switch {
	case resp != nil && resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens":
		stopReason = StopReasonMaxTokens
	case len(t.openOrder) > 0:
		stopReason = StopReasonToolUse
	}

	return t.finishWith(&stopReason)
}

func failureMessage(resp *ResponsesResponse) string {
	if resp != nil && resp.Error != nil {
		return resp.Error.Message
	}

	return "unknown error"
}
