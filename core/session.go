package core

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// SessionKey is the five-tuple that identifies one logical conversation.
type SessionKey struct {
	Channel   string       `json:"channel"`
	AccountID string       `json:"accountId"`
	ChatType  ChatType     `json:"chatType"`
	PeerID    string       `json:"peerId"`
	Scope     SessionScope `json:"scope"`
}

// HashKey returns a stable 64-bit hex digest of the key. It must be
// deterministic across processes and build hosts, so it is computed from
// the key's field values in a fixed field order with NUL separators rather
// than from Go's randomized map/pointer hashing.
func (k SessionKey) HashKey() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", k.Channel, k.AccountID, k.ChatType, k.PeerID, k.Scope)
	return fmt.Sprintf("%016x", h.Sum64())
}

// TranscriptEntryType is the tag of a TranscriptEntry's variant.
type TranscriptEntryType string

const (
	EntryUser       TranscriptEntryType = "user"
	EntryAssistant  TranscriptEntryType = "assistant"
	EntryToolCall   TranscriptEntryType = "tool_call"
	EntryToolResult TranscriptEntryType = "tool_result"
	EntrySystem     TranscriptEntryType = "system"
)

// TranscriptEntry is one immutable unit in a session's append log. Exactly
// one of the type-specific field groups below is populated, selected by
// Type. tool_call and system entries are bookkeeping only: they are stored
// but never sent to a provider (the agent package filters them out when it
// builds provider messages).
type TranscriptEntry struct {
	Type TranscriptEntryType `json:"type"`

	// user / assistant
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`

	// tool_call
	Tool   string          `json:"tool,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// tool_result
	ToolUseID string `json:"toolUseId,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
	// ResultContent holds the tool_result text; Content is left empty for
	// tool_result entries.
	ResultContent string `json:"resultContent,omitempty"`

	// system
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewUserEntry builds a user transcript entry.
func NewUserEntry(content []ContentBlock) TranscriptEntry {
	return TranscriptEntry{Type: EntryUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantEntry builds an assistant transcript entry. Per the C2
// invariant, callers must not append an assistant entry with no text and no
// tool-use blocks.
func NewAssistantEntry(content []ContentBlock, usage *Usage) TranscriptEntry {
	return TranscriptEntry{Type: EntryAssistant, Content: content, Usage: usage, Timestamp: time.Now().UTC()}
}

// NewToolCallEntry builds a tool_call bookkeeping entry mirroring an
// assistant tool_use block.
func NewToolCallEntry(tool string, params json.RawMessage) TranscriptEntry {
	return TranscriptEntry{Type: EntryToolCall, Tool: tool, Params: params, Timestamp: time.Now().UTC()}
}

// NewToolResultEntry builds a tool_result entry bound to toolUseID.
func NewToolResultEntry(toolUseID, tool, content string, isError bool) TranscriptEntry {
	return TranscriptEntry{
		Type:          EntryToolResult,
		ToolUseID:     toolUseID,
		Tool:          tool,
		ResultContent: content,
		IsError:       isError,
		Timestamp:     time.Now().UTC(),
	}
}

// NewSystemEntry builds a system bookkeeping entry. System entries are
// never serialized into a provider request.
func NewSystemEntry(event string, data json.RawMessage) TranscriptEntry {
	return TranscriptEntry{Type: EntrySystem, Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// IsEmptyAssistant reports whether an assistant entry has neither text nor
// tool-use blocks, which per the C2 invariant must never be persisted.
func (e TranscriptEntry) IsEmptyAssistant() bool {
	if e.Type != EntryAssistant {
		return false
	}
	for _, b := range e.Content {
		if b.Type == ContentBlockText && b.Text != "" {
			return false
		}
		if b.Type == ContentBlockToolUse {
			return false
		}
	}
	return true
}

// SessionMeta is the persisted metadata record for one session.
type SessionMeta struct {
	Key                SessionKey    `json:"key"`
	Label              string        `json:"label,omitempty"`
	Model              string        `json:"model,omitempty"`
	ThinkingLevel      ThinkingLevel `json:"thinkingLevel"`
	CustomSystemPrompt string        `json:"customSystemPrompt,omitempty"`
	LastChannel        string        `json:"lastChannel,omitempty"`
	LastUpdatedAt      time.Time     `json:"lastUpdatedAt"`
	LastResetAt        *time.Time    `json:"lastResetAt,omitempty"`
	SpawnedBy          string        `json:"spawnedBy,omitempty"`
	SpawnDepth         int           `json:"spawnDepth"`
}

// Session bundles metadata and the in-memory transcript for one
// conversation. meta.Key is immutable for the session's lifetime.
type Session struct {
	Meta       SessionMeta       `json:"meta"`
	Transcript []TranscriptEntry `json:"transcript"`
}

// NewSession creates a fresh, empty session for key.
func NewSession(key SessionKey) *Session {
	return &Session{
		Meta: SessionMeta{
			Key:           key,
			ThinkingLevel: ThinkingLow,
			LastUpdatedAt: time.Now().UTC(),
		},
	}
}

// Append adds entry to the transcript and bumps LastUpdatedAt. Assistant
// entries with empty content are rejected per the C2 invariant.
func (s *Session) Append(entry TranscriptEntry) {
	if entry.IsEmptyAssistant() {
		return
	}
	s.Transcript = append(s.Transcript, entry)
	s.Meta.LastUpdatedAt = time.Now().UTC()
}

// EstimateTokens is a fast, purely local approximation of a transcript's
// token count, used as the compaction trigger (§4.2). It sums byte length
// / 4 of the text and tool-use input in content blocks, of tool_result
// text, of tool_call params and of system data, plus a fixed per-entry
// overhead for role markers and JSON framing. It is monotonic in
// transcript size by construction (every term is non-negative).
func EstimateTokens(transcript []TranscriptEntry) int {
	const charsPerToken = 4
	const perEntryOverhead = 10

	total := 0
	for _, entry := range transcript {
		total += perEntryOverhead
		for _, block := range entry.Content {
			total += len(block.Text) / charsPerToken
			if block.ToolUse != nil {
				total += len(block.ToolUse.InputJSON) / charsPerToken
			}
		}
		total += len(entry.ResultContent) / charsPerToken
		total += len(entry.Params) / charsPerToken
		total += len(entry.Data) / charsPerToken
	}
	return total
}
