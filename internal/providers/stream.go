package providers

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/amplihack/claude-gateway/internal/router"
)

// StreamTranslator converts one backend delta stream into the unified event
// protocol. Strictly single-producer/single-consumer: one backend stream
// drives one translator, chunks are processed in arrival order, and for every
// block index Start precedes all Deltas precedes exactly one Stop.
//
// The text block always occupies unified index 0 and is closed exactly once,
// always before the first tool block opens. Tool blocks take indices from a
// monotonically increasing counter starting at 1; unified indices are never
// reused even when backend indices repeat or arrive out of order.
type StreamTranslator struct {
	logger    *slog.Logger
	model     string
	messageID string

	// requestTools backs the tool-name fallback for backends that never
	// supply a function name (see handleToolFragment).
	requestTools []Tool

	textStreamed bool
	textClosed   bool
	pendingText  string

	blocksByBackendIndex map[int]*toolBlockState
	blocksByID           map[string]*toolBlockState
	openOrder            []*toolBlockState
	nextIndex            int

	// toolNames remembers the first-seen function name per tool id; some
	// backends omit the name on continuation chunks.
	toolNames map[string]string

	usage    *Usage
	finished bool
}

type toolBlockState struct {
	unifiedIndex int
	id           string
	name         string
	closed       bool
}

func NewStreamTranslator(model string, requestTools []Tool, logger *slog.Logger) *StreamTranslator {
	return &StreamTranslator{
		logger:               logger,
		model:                model,
		messageID:            "msg_" + uuid.NewString(),
		requestTools:         requestTools,
		blocksByBackendIndex: make(map[int]*toolBlockState),
		blocksByID:           make(map[string]*toolBlockState),
		toolNames:            make(map[string]string),
		nextIndex:            1,
	}
}

// Begin emits message_start and the content_block_start for the text block at
// index 0. Called before the first chunk is consumed.
func (t *StreamTranslator) Begin() []byte {
	start := FormatSSEEvent(EventMessageStart, StreamEvent{
		Type: EventMessageStart,
		Message: &MessagesResponse{
			ID:      t.messageID,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   t.model,
			Content: []ContentBlock{},
			Usage:   Usage{InputTokens: 0, OutputTokens: 1},
		},
	})

	return append(start, t.blockStart(0, TextBlock(""))...)
}

// Next consumes one chat-shape chunk and returns the unified SSE bytes it
// produces. An error means this chunk could not be processed; the caller
// logs it and continues with the next chunk — the stream never aborts
// mid-response.
func (t *StreamTranslator) Next(data []byte) ([]byte, error) {
	if t.finished {
		return nil, nil
	}

	var chunk ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal streaming chunk: %w", err)
	}

	if chunk.Usage != nil {
		t.usage = &Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
	}

	if len(chunk.Choices) == 0 {
		// Usage-only chunk.
		return nil, nil
	}

	choice := chunk.Choices[0]

	var out []byte

	if choice.Delta != nil {
		if len(choice.Delta.ToolCalls) > 0 {
			// Text sharing a chunk with the first tool fragment is flushed
			// before the text block closes.
			if text := messageText(choice.Delta); text != "" {
				t.pendingText += text
			}

			out = append(out, t.closeTextBlock()...)

			for _, tc := range choice.Delta.ToolCalls {
				out = append(out, t.handleToolFragment(tc)...)
			}
		} else if text := messageText(choice.Delta); text != "" {
			out = append(out, t.textDelta(text)...)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		out = append(out, t.finishWith(ConvertStopReason(*choice.FinishReason, router.ShapeChat))...)
	}

	return out, nil
}

// Finish defensively closes the stream when the backend never sent a
// finish_reason. No-op when the terminal sequence already went out.
func (t *StreamTranslator) Finish() []byte {
	if t.finished {
		return nil
	}

	t.logger.Warn("Backend stream ended without finish_reason, closing defensively")
	endTurn := StopReasonEndTurn

	return t.finishWith(&endTurn)
}

// Fatal terminates the stream after an unrecoverable translator error. The
// output still ends with a well-formed message_delta/message_stop pair so the
// caller's stream terminates cleanly.
func (t *StreamTranslator) Fatal(err error) []byte {
	if t.finished {
		return nil
	}

	t.logger.Error("Fatal stream translation error", "error", err)
	endTurn := StopReasonEndTurn

	return t.finishWith(&endTurn)
}

// Done reports whether the terminal event sequence has been emitted.
func (t *StreamTranslator) Done() bool {
	return t.finished
}

func (t *StreamTranslator) textDelta(text string) []byte {
	if t.textClosed {
		// Text after the text block closed would violate ordering; drop it.
		t.logger.Debug("Dropping text delta after text block close")
		return nil
	}

	t.textStreamed = true
	idx := 0

	return FormatSSEEvent(EventContentBlockDelta, StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &idx,
		Delta: &EventDelta{Type: DeltaTypeText, Text: text},
	})
}

// closeTextBlock closes unified index 0 exactly once: text already streamed
// is simply stopped; text accumulated but never sent is flushed first; an
// untouched block closes empty.
func (t *StreamTranslator) closeTextBlock() []byte {
	if t.textClosed {
		return nil
	}

	var out []byte

	if t.pendingText != "" {
		out = append(out, t.textDelta(t.pendingText)...)
		t.pendingText = ""
	}

	out = append(out, t.blockStop(0)...)
	t.textClosed = true

	return out
}

func (t *StreamTranslator) handleToolFragment(tc ChatToolCall) []byte {
	blk := t.lookupBlock(tc)

	var out []byte

	if blk == nil {
		blk = t.openToolBlock(tc)
		out = append(out, t.blockStart(blk.unifiedIndex, ContentBlock{
			Type:  BlockTypeToolUse,
			ID:    ConvertToolCallID(blk.id),
			Name:  blk.name,
			Input: json.RawMessage("{}"),
		})...)
	}

	if tc.Function.Name != "" {
		if _, seen := t.toolNames[blk.id]; !seen {
			t.toolNames[blk.id] = tc.Function.Name
		}
	}

	// Argument fragments are forwarded verbatim; they are never parsed
	// mid-stream.
	if tc.Function.Arguments != "" {
		out = append(out, FormatSSEEvent(EventContentBlockDelta, StreamEvent{
			Type:  EventContentBlockDelta,
			Index: &blk.unifiedIndex,
			Delta: &EventDelta{Type: DeltaTypeInputJSON, PartialJSON: &tc.Function.Arguments},
		})...)
	}

	return out
}

func (t *StreamTranslator) lookupBlock(tc ChatToolCall) *toolBlockState {
	if tc.Index != nil {
		if blk, ok := t.blocksByBackendIndex[*tc.Index]; ok {
			return blk
		}
	}

	if tc.ID != "" {
		if blk, ok := t.blocksByID[tc.ID]; ok {
			return blk
		}
	}

	return nil
}

func (t *StreamTranslator) openToolBlock(tc ChatToolCall) *toolBlockState {
	id := tc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}

	blk := &toolBlockState{
		unifiedIndex: t.nextIndex,
		id:           id,
		name:         t.resolveToolName(id, tc.Function.Name),
	}
	t.nextIndex++

	if tc.Index != nil {
		t.blocksByBackendIndex[*tc.Index] = blk
	}

	t.blocksByID[id] = blk
	t.openOrder = append(t.openOrder, blk)

	return blk
}

// resolveToolName works around a backend defect: continuation chunks may omit
// the function name. The first-seen name per tool id wins; when no chunk ever
// supplies one, the first tool definition of the original request stands in.
// The substitution is approximate, not guaranteed correct.
func (t *StreamTranslator) resolveToolName(id, name string) string {
	if name != "" {
		t.toolNames[id] = name
		return name
	}

	if remembered, ok := t.toolNames[id]; ok {
		return remembered
	}

	if len(t.requestTools) > 0 {
		t.logger.Warn("Tool call chunk missing function name, assuming first requested tool",
			"tool_id", id,
			"assumed", t.requestTools[0].Name,
		)

		return t.requestTools[0].Name
	}

	t.logger.Warn("Tool call chunk missing function name and request has no tools", "tool_id", id)

	return "unknown_tool"
}

// finishWith closes all open blocks in the order opened (text first, then
// each tool block), then emits message_delta with the stop reason and usage,
// then message_stop.
func (t *StreamTranslator) finishWith(stopReason *string) []byte {
	var out []byte

	out = append(out, t.closeTextBlock()...)

	for _, blk := range t.openOrder {
		if !blk.closed {
			out = append(out, t.blockStop(blk.unifiedIndex)...)
			blk.closed = true
		}
	}

	usage := t.usage
	if usage == nil {
		usage = &Usage{}
	}

	out = append(out, FormatSSEEvent(EventMessageDelta, StreamEvent{
		Type:  EventMessageDelta,
		Delta: &EventDelta{StopReason: stopReason},
		Usage: usage,
	})...)

	out = append(out, FormatSSEEvent(EventMessageStop, StreamEvent{Type: EventMessageStop})...)

	t.finished = true

	return out
}

func (t *StreamTranslator) blockStart(index int, block ContentBlock) []byte {
	return FormatSSEEvent(EventContentBlockStart, StreamEvent{
		Type:         EventContentBlockStart,
		Index:        &index,
		ContentBlock: &block,
	})
}

func (t *StreamTranslator) blockStop(index int) []byte {
	return FormatSSEEvent(EventContentBlockStop, StreamEvent{
		Type:  EventContentBlockStop,
		Index: &index,
	})
}

func messageText(m *ChatChoiceMessage) string {
	if m == nil || m.Content == nil {
		return ""
	}

	return *m.Content
}
