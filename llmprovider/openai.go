package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"gatewaycore/core"
)

const openaiDefaultModel = "gpt-5"

// OpenaiProvider streams chat completions via the OpenAI chat.completions
// API, normalizing its choices[0].delta / index-keyed tool_calls stream.
type OpenaiProvider struct {
	APIKey  string
	BaseURL string
}

func (p OpenaiProvider) Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)

	config := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		config.BaseURL = p.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	model := req.Model
	if model == "" {
		model = openaiDefaultModel
	}

	var temperature float32
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}

	messages, err := openaiMessages(req.SystemPrompt, req.Messages)
	if err != nil {
		return err
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Tools:       openaiTools(req.Tools),
		Temperature: temperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	stream, err := client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return err
	}
	defer stream.Close()

	// toolCalls accumulates each tool_calls[].index slot's id/name/arguments
	// across deltas; the accumulated value is flushed as a single chunk per
	// index, in ascending order, once the stream ends and before the
	// stop-reason chunk — never per fragment.
	type toolState struct {
		id, name, arguments string
	}
	toolCalls := make(map[int]*toolState)
	var toolOrder []int
	var finishReason openai.FinishReason

	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if len(res.Choices) == 0 {
			if res.Usage != nil {
				ch <- Chunk{Usage: &core.Usage{InputTokens: res.Usage.PromptTokens, OutputTokens: res.Usage.CompletionTokens}}
			}
			continue
		}

		choice := res.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			ch <- Chunk{Delta: choice.Delta.Content}
		}
		if choice.Delta.ReasoningContent != "" {
			ch <- Chunk{Reasoning: choice.Delta.ReasoningContent}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			ts, ok := toolCalls[index]
			if !ok {
				ts = &toolState{}
				toolCalls[index] = ts
				toolOrder = append(toolOrder, index)
			}
			if tc.ID != "" {
				ts.id = tc.ID
			}
			if tc.Function.Name != "" {
				ts.name = tc.Function.Name
			}
			ts.arguments += tc.Function.Arguments
		}
	}

	sort.Ints(toolOrder)
	for _, index := range toolOrder {
		ts := toolCalls[index]
		ch <- Chunk{ToolUse: &ToolUseDelta{Index: index, ID: ts.id, Name: ts.name, InputJSONDelta: ts.arguments}}
	}

	if finishReason != "" {
		ch <- Chunk{StopReason: normalizeOpenaiStopReason(finishReason)}
	}
	return nil
}

func normalizeOpenaiStopReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonLength:
		return StopMaxTokens
	case openai.FinishReasonStop:
		return StopEndTurn
	default:
		return string(reason)
	}
}

func openaiMessages(systemPrompt string, messages []Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == core.EntryAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		var text string
		var toolCalls []openai.ToolCall
		for _, b := range m.Content {
			switch b.Type {
			case core.ContentBlockText:
				text += b.Text
			case core.ContentBlockToolUse:
				if b.ToolUse != nil {
					toolCalls = append(toolCalls, openai.ToolCall{
						ID:   b.ToolUse.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.ToolUse.Name,
							Arguments: b.ToolUse.InputJSON,
						},
					})
				}
			case core.ContentBlockToolResult:
				if b.ToolResult != nil {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    b.ToolResult.Content,
						ToolCallID: b.ToolResult.ToolUseID,
					})
				}
			}
		}

		if text == "" && len(toolCalls) == 0 {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: text, ToolCalls: toolCalls})
	}
	return out, nil
}

func openaiTools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params, _ := json.Marshal(t.InputSchema)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}
