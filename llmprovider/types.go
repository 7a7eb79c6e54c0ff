// Package llmprovider normalizes Anthropic, OpenAI, and Google streaming
// chat completions into one uniform Chunk stream (spec C1).
package llmprovider

import (
	"context"

	"gatewaycore/core"
)

// Tool is a single tool definition offered to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Message is one turn of conversation as sent to a provider: a role plus
// ordered content blocks, translated from core.TranscriptEntry by the
// caller (agent package).
type Message struct {
	Role    core.TranscriptEntryType // EntryUser or EntryAssistant only
	Content []core.ContentBlock
}

// CompletionRequest is everything a Provider needs to start one streamed
// completion.
type CompletionRequest struct {
	Model           string
	SystemPrompt    string
	Messages        []Message
	Tools           []Tool
	MaxTokens       int
	Temperature     *float64
	ThinkingBudget  int // tokens, 0 disables extended thinking/reasoning
	ToolChoiceForce string
}

// Chunk is the uniform unit the agent loop consumes from a Provider's
// stream, regardless of which provider produced it. Every field is
// optional; a single chunk may carry any non-empty subset.
type Chunk struct {
	Delta      string        // assistant text fragment
	Reasoning  string        // extended-thinking / reasoning text fragment
	ToolUse    *ToolUseDelta // a tool call starting or accumulating arguments
	Usage      *core.Usage   // cumulative totals, last-write-wins
	StopReason string        // non-empty only on the terminal chunk
}

// ToolUseDelta carries one tool-call's identity (on first appearance) and/or
// an incremental fragment of its JSON arguments.
type ToolUseDelta struct {
	Index          int // provider-local tool-call slot, for delta accumulation
	ID             string
	Name           string
	InputJSONDelta string
}

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopError     = "error"
)

// Provider streams one completion, normalizing the wire protocol into
// Chunk values sent on ch. Provider implementations own ch's lifecycle:
// they close it when the stream ends (successfully or not).
type Provider interface {
	Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error
}
