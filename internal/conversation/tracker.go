package conversation

import (
	"github.com/amplihack/claude-gateway/internal/providers"
)

// Phase describes where the conversation sits in the tool-call lifecycle.
type Phase string

const (
	// PhaseNormal: no tool activity in the conversation.
	PhaseNormal Phase = "normal"
	// PhaseToolCallPending: the assistant just requested one or more tool
	// invocations and the conversation ends on that request.
	PhaseToolCallPending Phase = "tool_call_pending"
	// PhaseToolResultPending: tool invocations are outstanding and the caller
	// has continued the conversation without resolving all of them.
	PhaseToolResultPending Phase = "tool_result_pending"
	// PhaseToolComplete: every requested tool invocation has a matching result.
	PhaseToolComplete Phase = "tool_complete"
)

// State is the tool-call lifecycle derived from one request's message array.
// It is recomputed per request and never persisted; requests stay stateless.
type State struct {
	Phase Phase

	// PendingToolCalls maps tool_use id to tool name for calls awaiting a
	// tool_result.
	PendingToolCalls map[string]string

	// CompletedToolCalls maps tool_use id to tool name for resolved calls.
	CompletedToolCalls map[string]string

	// Turns counts assistant messages seen.
	Turns int
}

// Analyze performs a single forward scan of the message array and derives the
// conversation state. Read-only over the input.
func Analyze(messages []providers.Message) State {
	state := State{
		Phase:              PhaseNormal,
		PendingToolCalls:   make(map[string]string),
		CompletedToolCalls: make(map[string]string),
	}

	lastRole := ""

	for _, msg := range messages {
		lastRole = msg.Role

		switch msg.Role {
		case providers.RoleAssistant:
			state.Turns++

			for _, block := range msg.Content {
				if block.Type == providers.BlockTypeToolUse && block.ID != "" {
					state.PendingToolCalls[block.ID] = block.Name
				}
			}

		case providers.RoleUser:
			for _, block := range msg.Content {
				if block.Type != providers.BlockTypeToolResult {
					continue
				}

				if name, ok := state.PendingToolCalls[block.ToolUseID]; ok {
					delete(state.PendingToolCalls, block.ToolUseID)
					state.CompletedToolCalls[block.ToolUseID] = name
				}
			}
		}
	}

	switch {
	case len(state.PendingToolCalls) > 0 && lastRole == providers.RoleAssistant:
		state.Phase = PhaseToolCallPending
	case len(state.PendingToolCalls) > 0:
		state.Phase = PhaseToolResultPending
	case len(state.CompletedToolCalls) > 0:
		state.Phase = PhaseToolComplete
	}

	return state
}

// InToolPhase reports whether the conversation is mid tool-call lifecycle.
// Consulted by the resilience layer to apply tool-specific retry tuning.
func (s State) InToolPhase() bool {
	return s.Phase != PhaseNormal
}

// EnforceSingleToolCall reports whether the translated request should forbid
// parallel tool calls: once calls are outstanding, one at a time keeps the
// id-matching bookkeeping unambiguous.
func (s State) EnforceSingleToolCall() bool {
	return s.Phase == PhaseToolCallPending || s.Phase == PhaseToolResultPending
}

// PreferToolStreaming reports whether the tool-aware streaming path should be
// used for this request.
func (s State) PreferToolStreaming() bool {
	return s.Phase != PhaseNormal
}
