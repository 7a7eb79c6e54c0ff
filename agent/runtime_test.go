package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/core"
	"gatewaycore/hooks"
	"gatewaycore/llmprovider"
	"gatewaycore/tools"
)

// scriptedProvider replays a fixed sequence of chunk batches, one per Stream
// call, so the loop's multi-iteration tool-calling path is deterministic.
type scriptedProvider struct {
	batches [][]llmprovider.Chunk
	calls   int
}

func (p *scriptedProvider) Stream(ctx context.Context, req llmprovider.CompletionRequest, ch chan<- llmprovider.Chunk) error {
	defer close(ch)
	if p.calls >= len(p.batches) {
		return nil
	}
	batch := p.batches[p.calls]
	p.calls++
	for _, c := range batch {
		ch <- c
	}
	return nil
}

type echoTool struct{ calls int }

func (t *echoTool) Name() string               { return "echo" }
func (t *echoTool) Description() string        { return "echoes" }
func (t *echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t *echoTool) Execute(ctx context.Context, tctx tools.Context, input json.RawMessage) (tools.Output, error) {
	t.calls++
	return tools.Output{Content: "ok"}, nil
}

func testKey() core.SessionKey {
	return core.SessionKey{Channel: "telegram", AccountID: "acc", ChatType: core.ChatTypeDM, PeerID: "p1", Scope: core.ScopePerSender}
}

func TestRunEndsOnEndTurnWithoutToolCalls(t *testing.T) {
	provider := &scriptedProvider{batches: [][]llmprovider.Chunk{
		{{Delta: "hello"}, {Delta: " there"}, {StopReason: llmprovider.StopEndTurn}},
	}}
	runtime := &Runtime{
		Provider: provider,
		Tools:    tools.NewRegistry(),
		Hooks:    hooks.NewRegistry(zerolog.Nop()),
		Log:      zerolog.Nop(),
	}

	session := core.NewSession(testKey())
	events := make(chan Event, 64)
	go func() {
		runtime.Run(context.Background(), session, []core.ContentBlock{core.NewTextBlock("hi")}, events)
		close(events)
	}()

	var blockReply *Event
	for e := range events {
		if e.Type == EventBlockReply {
			ev := e
			blockReply = &ev
		}
	}
	require.NotNil(t, blockReply)
	assert.Equal(t, "hello there", blockReply.Text)
	assert.Equal(t, 1, provider.calls)
}

func TestRunExecutesToolThenCompletesOnSecondIteration(t *testing.T) {
	tool := &echoTool{}
	registry := tools.NewRegistry()
	registry.Register(tool)

	provider := &scriptedProvider{batches: [][]llmprovider.Chunk{
		{
			{ToolUse: &llmprovider.ToolUseDelta{Index: 0, ID: "call1", Name: "echo"}},
			{ToolUse: &llmprovider.ToolUseDelta{Index: 0, InputJSONDelta: `{}`}},
			{StopReason: llmprovider.StopToolUse},
		},
		{{Delta: "done"}, {StopReason: llmprovider.StopEndTurn}},
	}}
	runtime := &Runtime{
		Provider: provider,
		Tools:    registry,
		Hooks:    hooks.NewRegistry(zerolog.Nop()),
		Log:      zerolog.Nop(),
	}

	session := core.NewSession(testKey())
	events := make(chan Event, 64)
	go func() {
		runtime.Run(context.Background(), session, []core.ContentBlock{core.NewTextBlock("run the tool")}, events)
		close(events)
	}()

	var toolResultSeen, blockReplySeen bool
	for e := range events {
		switch e.Type {
		case EventToolResult:
			toolResultSeen = true
			assert.Equal(t, "ok", e.Result)
		case EventBlockReply:
			blockReplySeen = true
			assert.Equal(t, "done", e.Text)
		}
	}

	assert.True(t, toolResultSeen)
	assert.True(t, blockReplySeen)
	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, 2, provider.calls)
}

func TestRunCancelledToolCallRecordsErrorResult(t *testing.T) {
	tool := &echoTool{}
	registry := tools.NewRegistry()
	registry.Register(tool)

	registryHooks := hooks.NewRegistry(zerolog.Nop())
	registryHooks.Register(hooks.BeforeToolCall, func(ctx context.Context, hctx hooks.Context, data json.RawMessage) (hooks.Result, error) {
		return hooks.CancelResult("not allowed"), nil
	})

	provider := &scriptedProvider{batches: [][]llmprovider.Chunk{
		{
			{ToolUse: &llmprovider.ToolUseDelta{Index: 0, ID: "call1", Name: "echo"}},
			{StopReason: llmprovider.StopToolUse},
		},
		{{Delta: "done"}, {StopReason: llmprovider.StopEndTurn}},
	}}
	runtime := &Runtime{Provider: provider, Tools: registry, Hooks: registryHooks, Log: zerolog.Nop()}

	session := core.NewSession(testKey())
	events := make(chan Event, 64)
	go func() {
		runtime.Run(context.Background(), session, []core.ContentBlock{core.NewTextBlock("run")}, events)
		close(events)
	}()

	var sawCancelled bool
	for e := range events {
		if e.Type == EventToolResult && e.IsError {
			sawCancelled = true
			assert.Contains(t, e.Result, "cancelled")
		}
	}
	assert.True(t, sawCancelled)
	assert.Equal(t, 0, tool.calls)
}

func TestRunStopsAtIterationCapWithoutBlockReply(t *testing.T) {
	tool := &echoTool{}
	registry := tools.NewRegistry()
	registry.Register(tool)

	toolCallBatch := []llmprovider.Chunk{
		{ToolUse: &llmprovider.ToolUseDelta{Index: 0, ID: "call1", Name: "echo"}},
		{StopReason: llmprovider.StopToolUse},
	}
	batches := make([][]llmprovider.Chunk, 3)
	for i := range batches {
		batches[i] = toolCallBatch
	}
	provider := &scriptedProvider{batches: batches}
	runtime := &Runtime{
		Provider:          provider,
		Tools:             registry,
		Hooks:             hooks.NewRegistry(zerolog.Nop()),
		Log:               zerolog.Nop(),
		MaxToolIterations: 3,
	}

	session := core.NewSession(testKey())
	events := make(chan Event, 64)
	go func() {
		runtime.Run(context.Background(), session, []core.ContentBlock{core.NewTextBlock("run")}, events)
		close(events)
	}()

	var blockReplySeen bool
	for e := range events {
		if e.Type == EventBlockReply {
			blockReplySeen = true
		}
	}
	assert.False(t, blockReplySeen)
	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, 3, tool.calls)
}
