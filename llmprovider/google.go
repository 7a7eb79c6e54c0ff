package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"gatewaycore/core"
)

const googleDefaultModel = "gemini-2.5-pro"

// GoogleProvider streams completions via the Google generativelanguage API.
// Unlike Anthropic/OpenAI, Google never emits a tool_use stop reason: one is
// fabricated whenever any streamed response carries a functionCall part, since
// callers rely on StopToolUse to drive tool execution.
type GoogleProvider struct {
	APIKey string
}

func (p GoogleProvider) Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return fmt.Errorf("create google client: %w", err)
	}

	model := req.Model
	if model == "" {
		model = googleDefaultModel
	}

	contents := googleContents(req.Messages)

	config := &genai.GenerateContentConfig{
		Tools:             googleTools(req.Tools),
		SystemInstruction: googleSystemInstruction(req.SystemPrompt),
	}
	if req.ThinkingBudget > 0 {
		budget := int32(req.ThinkingBudget)
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}

	stream := client.Models.GenerateContentStream(ctx, model, contents, config)

	sawToolCall := false
	toolCallIndex := 0
	for result, err := range stream {
		if err != nil {
			return fmt.Errorf("google stream: %w", err)
		}
		if result.UsageMetadata != nil {
			ch <- Chunk{Usage: &core.Usage{
				InputTokens:  int(result.UsageMetadata.PromptTokenCount),
				OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			}}
		}
		if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			continue
		}
		for _, part := range result.Candidates[0].Content.Parts {
			switch {
			case part.Thought && part.Text != "":
				ch <- Chunk{Reasoning: part.Text}
			case part.Text != "":
				ch <- Chunk{Delta: part.Text}
			case part.FunctionCall != nil:
				sawToolCall = true
				argsJSON := googleMarshalArgs(part.FunctionCall.Args)
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("gemini_call_%d", toolCallIndex)
				}
				ch <- Chunk{ToolUse: &ToolUseDelta{
					Index:          toolCallIndex,
					ID:             id,
					Name:           part.FunctionCall.Name,
					InputJSONDelta: argsJSON,
				}}
				toolCallIndex++
			}
		}
	}

	stopReason := StopEndTurn
	if sawToolCall {
		stopReason = StopToolUse
	}
	ch <- Chunk{StopReason: stopReason}
	return nil
}

func googleSystemInstruction(prompt string) *genai.Content {
	if prompt == "" {
		return nil
	}
	return genai.NewContentFromText(prompt, genai.RoleUser)
}

func googleContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == core.EntryAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		for _, b := range m.Content {
			switch b.Type {
			case core.ContentBlockText:
				parts = append(parts, genai.NewPartFromText(b.Text))
			case core.ContentBlockToolUse:
				if b.ToolUse != nil {
					parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
						ID:   b.ToolUse.ID,
						Name: b.ToolUse.Name,
						Args: googleUnmarshalArgs(b.ToolUse.InputJSON),
					}})
				}
			case core.ContentBlockToolResult:
				if b.ToolResult != nil {
					parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
						ID:       b.ToolResult.ToolUseID,
						Response: map[string]any{"content": b.ToolResult.Content, "isError": b.ToolResult.IsError},
					}})
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func googleTools(tools []Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  googleSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func googleSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	out := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for name := range props {
		out.Properties[name] = &genai.Schema{Type: genai.TypeString}
	}
	return out
}

func googleMarshalArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func googleUnmarshalArgs(inputJSON string) map[string]any {
	if inputJSON == "" {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(inputJSON), &out)
	return out
}
