package agent

import "gatewaycore/core"

// EventType is the closed set of event kinds emitted during one turn.
type EventType string

const (
	EventPartialReply EventType = "partial_reply"
	EventReasoning    EventType = "reasoning"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventUsage        EventType = "usage"
	EventBlockReply   EventType = "block_reply"
	EventError        EventType = "error"
)

// Event is one unit of progress from a running turn.
type Event struct {
	Type EventType

	Delta     string // partial_reply, reasoning
	Tool      string // tool_call, tool_result
	Params    string // tool_call, JSON-encoded
	Result    string // tool_result
	IsError   bool   // tool_result
	Text      string // block_reply: the final assistant text
	Usage     core.Usage
	ErrorKind core.ErrorKind
	Message   string // error
}

// RunResult summarizes one completed (or aborted) turn.
type RunResult struct {
	FinalText  string
	Usage      core.Usage
	ToolCalls  int
	StopReason string
	Err        *core.CoreError
}
