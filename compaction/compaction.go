// Package compaction implements the transcript compaction trigger (spec
// C6): summarize the oldest entries once the transcript's estimated token
// count crosses a threshold, keeping a fixed suffix of recent entries
// verbatim.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/core"
	"gatewaycore/hooks"
	"gatewaycore/llmprovider"
)

const summarizeMaxTokens = 1024
const toolResultPreviewChars = 500

// Compactor owns the provider call used to summarize old transcript
// entries.
type Compactor struct {
	Provider         llmprovider.Provider
	Hooks            *hooks.Registry
	Model            string
	MaxContextTokens int
	KeepRecent       int
	Log              zerolog.Logger
}

// MaybeCompact rewrites session's transcript in place if its estimated
// token count exceeds MaxContextTokens, replacing the oldest entries (all
// but the last KeepRecent) with a single system{"compaction"} entry holding
// an LLM-generated summary. Returns whether compaction ran.
func (c *Compactor) MaybeCompact(ctx context.Context, session *core.Session) (bool, error) {
	currentTokens := core.EstimateTokens(session.Transcript)
	if currentTokens <= c.MaxContextTokens {
		return false, nil
	}

	hctx := hooks.Context{SessionKeyHash: session.Meta.Key.HashKey(), Timestamp: time.Now().UTC()}
	c.Hooks.Fire(ctx, hooks.BeforeCompaction, hctx, mustJSON(map[string]any{
		"current_tokens": currentTokens, "max_tokens": c.MaxContextTokens,
	}))

	total := len(session.Transcript)
	keepRecent := c.KeepRecent
	splitAt := total - keepRecent
	if splitAt < 0 {
		splitAt = 0
	}
	if splitAt == 0 {
		c.Log.Debug().Msg("not enough entries to compact, keeping transcript as-is")
		return false, nil
	}

	oldEntries := session.Transcript[:splitAt]
	recentEntries := append([]core.TranscriptEntry{}, session.Transcript[splitAt:]...)

	summary, err := c.summarize(ctx, oldEntries)
	if err != nil {
		return false, fmt.Errorf("compaction summarization: %w", err)
	}
	if summary == "" {
		c.Log.Warn().Msg("compaction produced an empty summary, keeping transcript as-is")
		return false, nil
	}

	compactionEntry := core.NewSystemEntry("compaction", mustJSON(map[string]any{
		"summary":           summary,
		"compacted_entries": splitAt,
		"original_tokens":   currentTokens,
	}))

	session.Transcript = make([]core.TranscriptEntry, 0, 1+len(recentEntries))
	session.Transcript = append(session.Transcript, compactionEntry)
	session.Transcript = append(session.Transcript, recentEntries...)

	newTokens := core.EstimateTokens(session.Transcript)
	c.Hooks.Fire(ctx, hooks.AfterCompaction, hctx, mustJSON(map[string]any{
		"old_tokens": currentTokens, "new_tokens": newTokens, "compacted_entries": splitAt,
	}))

	return true, nil
}

func (c *Compactor) summarize(ctx context.Context, entries []core.TranscriptEntry) (string, error) {
	summaryInput := formatEntriesForSummary(entries)
	prompt := "Summarize the following conversation transcript concisely. " +
		"Preserve key facts, decisions, tool results, and context needed " +
		"to continue the conversation. Be brief but complete.\n\n" + summaryInput

	req := llmprovider.CompletionRequest{
		Model:        c.Model,
		SystemPrompt: "You are a transcript summarizer. Produce a concise summary.",
		Messages: []llmprovider.Message{
			{Role: core.EntryUser, Content: []core.ContentBlock{core.NewTextBlock(prompt)}},
		},
		MaxTokens:   summarizeMaxTokens,
		Temperature: floatPtr(0.3),
	}

	ch := make(chan llmprovider.Chunk)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Provider.Stream(ctx, req, ch)
	}()

	var summary strings.Builder
	for chunk := range ch {
		summary.WriteString(chunk.Delta)
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return summary.String(), nil
}

// formatEntriesForSummary renders transcript entries as readable text for
// the summarization prompt, truncating long tool results.
func formatEntriesForSummary(entries []core.TranscriptEntry) string {
	var parts []string
	for _, entry := range entries {
		switch entry.Type {
		case core.EntryUser:
			if text := extractText(entry.Content); text != "" {
				parts = append(parts, "User: "+text)
			}
		case core.EntryAssistant:
			if text := extractText(entry.Content); text != "" {
				parts = append(parts, "Assistant: "+text)
			}
		case core.EntryToolCall:
			parts = append(parts, fmt.Sprintf("Tool call: %s(%s)", entry.Tool, string(entry.Params)))
		case core.EntryToolResult:
			status := "ok"
			if entry.IsError {
				status = "error"
			}
			preview := entry.ResultContent
			if len(preview) > toolResultPreviewChars {
				preview = preview[:toolResultPreviewChars] + "..."
			}
			parts = append(parts, fmt.Sprintf("Tool result (%s, %s): %s", entry.Tool, status, preview))
		case core.EntrySystem:
			parts = append(parts, fmt.Sprintf("System event: %s — %s", entry.Event, string(entry.Data)))
		}
	}
	return strings.Join(parts, "\n")
}

func extractText(blocks []core.ContentBlock) string {
	var texts []string
	for _, b := range blocks {
		if b.Type == core.ContentBlockText && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, " ")
}

func floatPtr(f float64) *float64 { return &f }

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
