package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/core"
	"gatewaycore/hooks"
	"gatewaycore/llmprovider"
	"gatewaycore/tools"
)

const defaultMaxToolIterations = 10

// Compactor is the subset of the compaction package's behavior the runtime
// depends on, kept as an interface here so agent does not import compaction
// (compaction already depends on agent-adjacent types via core/llmprovider).
type Compactor interface {
	MaybeCompact(ctx context.Context, session *core.Session) (bool, error)
}

// Runtime wires everything one turn needs: a provider, a tool registry, the
// hook bus, and the agent-loop knobs.
type Runtime struct {
	Provider           llmprovider.Provider
	Tools              *tools.Registry
	Hooks              *hooks.Registry
	Compactor          Compactor
	BasePersona        string
	DefaultModel       string
	DefaultMaxTokens   int
	DefaultTemperature *float64
	MaxToolIterations  int
	AutoCompactEnabled bool
	Log                zerolog.Logger
}

func (r *Runtime) maxIterations() int {
	if r.MaxToolIterations > 0 {
		return r.MaxToolIterations
	}
	return defaultMaxToolIterations
}

func hookCtx(session *core.Session) hooks.Context {
	return hooks.Context{SessionKeyHash: session.Meta.Key.HashKey(), Timestamp: time.Now().UTC()}
}

// Run executes one bounded turn: append the inbound message, optionally
// auto-compact, then iterate LLM-stream -> tool-execute until the model
// stops asking for tools or the iteration cap is hit. Events are sent on ch
// as they occur; ch is never closed by Run (the caller owns its lifecycle).
func (r *Runtime) Run(ctx context.Context, session *core.Session, userContent []core.ContentBlock, ch chan<- Event) RunResult {
	start := time.Now()

	session.Append(core.NewUserEntry(userContent))

	r.Hooks.Fire(ctx, hooks.BeforeAgentStart, hookCtx(session), mustJSON(map[string]any{
		"session_key": session.Meta.Key.HashKey(),
	}))

	if r.AutoCompactEnabled && r.Compactor != nil {
		if _, err := r.Compactor.MaybeCompact(ctx, session); err != nil {
			r.Log.Warn().Err(err).Msg("auto-compaction failed, continuing with uncompacted transcript")
		}
	}

	systemPrompt := buildSystemPrompt(r.BasePersona, r.Tools, session.Meta.CustomSystemPrompt)

	var (
		totalUsage core.Usage
		toolCalls  int
		finalText  string
		stopReason string
		runErr     *core.CoreError
	)

	for iteration := 0; iteration < r.maxIterations(); iteration++ {
		req := llmprovider.CompletionRequest{
			Model:          modelOrDefault(session.Meta.Model, r.DefaultModel),
			SystemPrompt:   systemPrompt,
			Messages:       toProviderMessages(session.Transcript),
			Tools:          toolDefinitions(r.Tools),
			MaxTokens:      r.DefaultMaxTokens,
			Temperature:    r.DefaultTemperature,
			ThinkingBudget: thinkingBudget(session.Meta.ThinkingLevel),
		}

		r.Hooks.Fire(ctx, hooks.LlmInput, hookCtx(session), mustJSON(map[string]any{
			"model": req.Model, "iteration": iteration,
		}))

		chunkCh := make(chan llmprovider.Chunk)
		streamErrCh := make(chan error, 1)
		go func() {
			streamErrCh <- r.Provider.Stream(ctx, req, chunkCh)
		}()

		text, reasoning, toolUses, usage, iterStopReason := consumeChunks(chunkCh, ch)

		if err := <-streamErrCh; err != nil {
			cerr := core.NewError(core.ErrorProvider, "provider stream failed", err)
			ch <- Event{Type: EventError, ErrorKind: cerr.Kind, Message: cerr.Error()}
			return RunResult{Err: cerr, Usage: totalUsage, ToolCalls: toolCalls}
		}
		_ = reasoning

		if usage != nil {
			totalUsage = *usage
			ch <- Event{Type: EventUsage, Usage: totalUsage}
		}

		assistantContent := assistantBlocks(text, toolUses)
		session.Append(core.NewAssistantEntry(assistantContent, &totalUsage))

		r.Hooks.Fire(ctx, hooks.LlmOutput, hookCtx(session), mustJSON(map[string]any{
			"text_len": len(text), "tool_calls": len(toolUses),
		}))

		stopReason = iterStopReason
		if stopReason != llmprovider.StopToolUse || len(toolUses) == 0 {
			finalText = text
			ch <- Event{Type: EventBlockReply, Text: finalText}
			break
		}

		for _, tu := range toolUses {
			toolCalls++
			paramsJSON := nullToEmptyObject(tu.InputJSON)
			ch <- Event{Type: EventToolCall, Tool: tu.Name, Params: paramsJSON}

			hookPayload := mustJSON(map[string]any{"tool": tu.Name, "params": json.RawMessage(nullToEmptyObject(tu.InputJSON))})
			_, reason, cancelled := r.Hooks.FireOrCancel(ctx, hooks.BeforeToolCall, hookCtx(session), hookPayload)
			if cancelled {
				content := fmt.Sprintf("tool call cancelled: %s", reason)
				session.Append(core.NewToolCallEntry(tu.Name, json.RawMessage(nullToEmptyObject(tu.InputJSON))))
				session.Append(core.NewToolResultEntry(tu.ID, tu.Name, content, true))
				ch <- Event{Type: EventToolResult, Tool: tu.Name, Result: content, IsError: true}
				continue
			}

			session.Append(core.NewToolCallEntry(tu.Name, json.RawMessage(nullToEmptyObject(tu.InputJSON))))

			out := r.Tools.Execute(ctx, tools.Context{
				SessionKeyHash: session.Meta.Key.HashKey(),
				SpawnDepth:     session.Meta.SpawnDepth,
			}, tu.Name, json.RawMessage(nullToEmptyObject(tu.InputJSON)))

			r.Hooks.Fire(ctx, hooks.AfterToolCall, hookCtx(session), mustJSON(map[string]any{
				"tool": tu.Name, "is_error": out.IsError,
			}))

			session.Append(core.NewToolResultEntry(tu.ID, tu.Name, out.Content, out.IsError))
			ch <- Event{Type: EventToolResult, Tool: tu.Name, Result: out.Content, IsError: out.IsError}
		}
		// loop continues: next iteration's request includes the tool results
	}

	r.Hooks.Fire(ctx, hooks.AgentEnd, hookCtx(session), mustJSON(map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"tool_calls":  toolCalls,
	}))

	return RunResult{FinalText: finalText, Usage: totalUsage, ToolCalls: toolCalls, StopReason: stopReason, Err: runErr}
}

// toolUseAccumulator tracks one tool call's identity and argument JSON,
// merging ToolUse chunks by Index. The built-in adapters send each call
// whole in one chunk, but a Provider may split one call across several.
type toolUseAccumulator struct {
	ID, Name  string
	InputJSON string
}

func consumeChunks(chunkCh <-chan llmprovider.Chunk, out chan<- Event) (text, reasoning string, toolUses []toolUseAccumulator, usage *core.Usage, stopReason string) {
	byIndex := make(map[int]*toolUseAccumulator)
	var order []int

	for chunk := range chunkCh {
		if chunk.Delta != "" {
			text += chunk.Delta
			out <- Event{Type: EventPartialReply, Delta: chunk.Delta}
		}
		if chunk.Reasoning != "" {
			reasoning += chunk.Reasoning
			out <- Event{Type: EventReasoning, Delta: chunk.Reasoning}
		}
		if chunk.ToolUse != nil {
			acc, ok := byIndex[chunk.ToolUse.Index]
			if !ok {
				acc = &toolUseAccumulator{}
				byIndex[chunk.ToolUse.Index] = acc
				order = append(order, chunk.ToolUse.Index)
			}
			if chunk.ToolUse.ID != "" {
				acc.ID = chunk.ToolUse.ID
			}
			if chunk.ToolUse.Name != "" {
				acc.Name = chunk.ToolUse.Name
			}
			acc.InputJSON += chunk.ToolUse.InputJSONDelta
		}
		if chunk.Usage != nil {
			// providers emit cumulative totals; last write wins.
			usage = chunk.Usage
		}
		if chunk.StopReason != "" {
			stopReason = chunk.StopReason
		}
	}

	for _, idx := range order {
		toolUses = append(toolUses, *byIndex[idx])
	}
	return text, reasoning, toolUses, usage, stopReason
}

func assistantBlocks(text string, toolUses []toolUseAccumulator) []core.ContentBlock {
	var blocks []core.ContentBlock
	if text != "" {
		blocks = append(blocks, core.NewTextBlock(text))
	}
	for _, tu := range toolUses {
		blocks = append(blocks, core.NewToolUseBlock(tu.ID, tu.Name, nullToEmptyObject(tu.InputJSON)))
	}
	return blocks
}

func toProviderMessages(transcript []core.TranscriptEntry) []llmprovider.Message {
	var out []llmprovider.Message
	for _, entry := range transcript {
		switch entry.Type {
		case core.EntryUser:
			out = append(out, llmprovider.Message{Role: core.EntryUser, Content: entry.Content})
		case core.EntryAssistant:
			out = append(out, llmprovider.Message{Role: core.EntryAssistant, Content: entry.Content})
		case core.EntryToolResult:
			out = append(out, llmprovider.Message{
				Role:    core.EntryUser,
				Content: []core.ContentBlock{core.NewToolResultBlock(entry.ToolUseID, entry.ResultContent, entry.IsError)},
			})
		// tool_call and system entries are bookkeeping only and are never
		// sent to a provider.
		default:
		}
	}
	return out
}

func toolDefinitions(registry *tools.Registry) []llmprovider.Tool {
	list := registry.List()
	out := make([]llmprovider.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, llmprovider.Tool{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return out
}

func thinkingBudget(level core.ThinkingLevel) int {
	return core.ThinkingBudgetTokens(level)
}

func modelOrDefault(sessionModel, fallback string) string {
	if sessionModel != "" {
		return sessionModel
	}
	return fallback
}

func nullToEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
