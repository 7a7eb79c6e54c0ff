package core

import "github.com/segmentio/ksuid"

// ContentBlockType is the tag of a ContentBlock's variant.
type ContentBlockType string

const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockImage      ContentBlockType = "image"
	ContentBlockToolUse    ContentBlockType = "tool_use"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// ImageSource carries either inline base64 data or a URL for an image block.
type ImageSource struct {
	// SourceType is "base64" or "url".
	SourceType string `json:"type"`
	MediaType  string `json:"mediaType,omitempty"`
	Data       string `json:"data"`
}

// ToolUse is the payload of a tool_use content block: a model-emitted call.
type ToolUse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	InputJSON string `json:"inputJson"`
}

// ToolResultPayload is the payload of a tool_result content block: the sole
// binding back to a ToolUse is ToolUseID.
type ToolResultPayload struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError"`
}

// ContentBlock is a tagged variant over {text, image, tool_use, tool_result}.
type ContentBlock struct {
	ID         string             `json:"id"`
	Type       ContentBlockType   `json:"type"`
	Text       string             `json:"text,omitempty"`
	Image      *ImageSource       `json:"image,omitempty"`
	ToolUse    *ToolUse           `json:"toolUse,omitempty"`
	ToolResult *ToolResultPayload `json:"toolResult,omitempty"`
}

// NewTextBlock builds a text content block with a fresh block ID.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{ID: ksuid.New().String(), Type: ContentBlockText, Text: text}
}

// NewImageBlock builds an image content block with a fresh block ID.
func NewImageBlock(source ImageSource) ContentBlock {
	return ContentBlock{ID: ksuid.New().String(), Type: ContentBlockImage, Image: &source}
}

// NewToolUseBlock builds a tool_use content block with a fresh block ID.
func NewToolUseBlock(id, name, inputJSON string) ContentBlock {
	return ContentBlock{
		ID:      ksuid.New().String(),
		Type:    ContentBlockToolUse,
		ToolUse: &ToolUse{ID: id, Name: name, InputJSON: inputJSON},
	}
}

// NewToolResultBlock builds a tool_result content block with a fresh block ID.
func NewToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		ID:   ksuid.New().String(),
		Type: ContentBlockToolResult,
		ToolResult: &ToolResultPayload{
			ToolUseID: toolUseID,
			Content:   content,
			IsError:   isError,
		},
	}
}

// Usage holds cumulative token counts as reported by the provider on a
// completion. Providers emit cumulative totals, not deltas; callers should
// overwrite rather than sum (see spec design notes).
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
}
