package llmprovider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"gatewaycore/core"
)

const anthropicDefaultModel = "claude-opus-4-5"
const anthropicDefaultMaxTokens = 16000

// AnthropicProvider streams completions via the Anthropic Messages API,
// normalizing its per-index content_block_start/delta/stop event stream
// into Chunk values.
type AnthropicProvider struct {
	APIKey string
}

func (p AnthropicProvider) Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)

	client := anthropic.NewClient(option.WithAPIKey(p.APIKey))

	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Opt(*req.Temperature)
	}
	if req.ThinkingBudget > 0 {
		budget := int64(req.ThinkingBudget)
		if int64(maxTokens) <= budget {
			maxTokens = int(budget) + 1000
			params.MaxTokens = int64(maxTokens)
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	msgs, err := anthropicMessages(req.Messages)
	if err != nil {
		return err
	}
	params.Messages = msgs

	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	stream := client.Messages.NewStreaming(ctx, params)

	// toolBlocks accumulates each tool_use content block's id/name/input_json
	// across content_block_start and input_json_delta events, keyed by the
	// block's index; the accumulated value is emitted as a single chunk at
	// content_block_stop, never per-delta.
	type toolState struct {
		id, name, inputJSON string
	}
	toolBlocks := make(map[int64]*toolState)

	var finalMessage anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := finalMessage.Accumulate(event); err != nil {
			return fmt.Errorf("accumulate anthropic message: %w", err)
		}

		switch evt := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			ch <- Chunk{Usage: &core.Usage{InputTokens: int(evt.Message.Usage.InputTokens)}}

		case anthropic.ContentBlockStartEvent:
			if evt.ContentBlock.Type == "tool_use" {
				toolBlocks[evt.Index] = &toolState{id: evt.ContentBlock.ID, name: evt.ContentBlock.Name}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ch <- Chunk{Delta: delta.Text}
			case anthropic.ThinkingDelta:
				ch <- Chunk{Reasoning: delta.Thinking}
			case anthropic.InputJSONDelta:
				if tb, ok := toolBlocks[evt.Index]; ok {
					tb.inputJSON += delta.PartialJSON
				}
			}

		case anthropic.ContentBlockStopEvent:
			if tb, ok := toolBlocks[evt.Index]; ok {
				ch <- Chunk{ToolUse: &ToolUseDelta{Index: int(evt.Index), ID: tb.id, Name: tb.name, InputJSONDelta: tb.inputJSON}}
				delete(toolBlocks, evt.Index)
			}

		case anthropic.MessageDeltaEvent:
			if evt.Delta.StopReason != "" {
				ch <- Chunk{Usage: anthropicUsage(finalMessage), StopReason: normalizeAnthropicStopReason(string(evt.Delta.StopReason))}
			}
		}
	}

	if stream.Err() != nil {
		return stream.Err()
	}
	return nil
}

func anthropicUsage(msg anthropic.Message) *core.Usage {
	return &core.Usage{
		InputTokens:  int(msg.Usage.InputTokens) + int(msg.Usage.CacheReadInputTokens) + int(msg.Usage.CacheCreationInputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}

func normalizeAnthropicStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence":
		return StopEndTurn
	default:
		return reason
	}
}

func anthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case core.ContentBlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case core.ContentBlockImage:
				if b.Image == nil {
					continue
				}
				if b.Image.SourceType == "url" {
					blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: b.Image.Data}))
				} else {
					data := b.Image.Data
					if _, decodeErr := base64.StdEncoding.DecodeString(data); decodeErr != nil {
						return nil, fmt.Errorf("image block has invalid base64 data: %w", decodeErr)
					}
					blocks = append(blocks, anthropic.NewImageBlockBase64(b.Image.MediaType, data))
				}
			case core.ContentBlockToolUse:
				if b.ToolUse == nil {
					continue
				}
				var input any
				if b.ToolUse.InputJSON != "" {
					if err := json.Unmarshal([]byte(b.ToolUse.InputJSON), &input); err != nil {
						return nil, fmt.Errorf("tool_use block has invalid input json: %w", err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUse.ID, input, b.ToolUse.Name))
			case core.ContentBlockToolResult:
				if b.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResult.ToolUseID, b.ToolResult.Content, b.ToolResult.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == core.EntryUser {
			out = append(out, anthropic.NewUserMessage(blocks...))
		} else {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out, nil
}

func anthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: t.InputSchema["properties"],
			Required:   anySliceToStrings(t.InputSchema["required"]),
		}, t.Name))
	}
	return out
}

func anySliceToStrings(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
