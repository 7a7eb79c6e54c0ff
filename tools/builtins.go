package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// SessionsSendFunc delivers text into another session, returning the ID
// assigned to the delivered message. Supplied by the gateway at wiring time
// so this package stays independent of the store/session packages.
type SessionsSendFunc func(ctx context.Context, targetSessionHash, text string) (messageID string, err error)

// SessionsSendTool lets a running agent push a message into a different
// session, e.g. to notify a DM thread from a background job.
type SessionsSendTool struct {
	Send SessionsSendFunc
}

func (SessionsSendTool) Name() string { return "sessions_send" }

func (SessionsSendTool) Description() string {
	return "Send a text message into another session identified by its session key hash."
}

func (SessionsSendTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_hash": map[string]any{"type": "string"},
			"message":      map[string]any{"type": "string"},
		},
		"required": []any{"session_hash", "message"},
	}
}

type sessionsSendInput struct {
	SessionKeyHash string `json:"session_hash"`
	Text           string `json:"message"`
}

func (t SessionsSendTool) Execute(ctx context.Context, tctx Context, input json.RawMessage) (Output, error) {
	var in sessionsSendInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Output{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.SessionKeyHash == "" || in.Text == "" {
		return Output{Content: "session_hash and message are required", IsError: true}, nil
	}
	if t.Send == nil {
		return Output{Content: "sessions_send is not wired to a channel dispatcher", IsError: true}, nil
	}
	id, err := t.Send(ctx, in.SessionKeyHash, in.Text)
	if err != nil {
		return Output{Content: fmt.Sprintf("send failed: %v", err), IsError: true}, nil
	}
	return Output{Content: fmt.Sprintf("sent, message_id=%s", id)}, nil
}

// AgentsSpawnFunc starts a fresh child session under parentSessionHash,
// running task as its opening user message, and returns the new session's
// key hash. depth is the depth the new session will carry as its
// SpawnDepth; the tool itself enforces the cap before calling this.
type AgentsSpawnFunc func(ctx context.Context, parentSessionHash, task string, depth int) (childSessionHash string, err error)

// AgentsSpawnTool starts a sub-agent session scoped under the caller's
// session. MaxDepth bounds recursive spawning; the cap is enforced here, at
// invocation time, rather than in the main agent loop, so every provider's
// tool-calling path goes through the same check.
type AgentsSpawnTool struct {
	Spawn    AgentsSpawnFunc
	MaxDepth int
}

func (AgentsSpawnTool) Name() string { return "agents_spawn" }

func (AgentsSpawnTool) Description() string {
	return "Spawn a child agent session to work on a sub-task, bounded by a maximum spawn depth."
}

func (AgentsSpawnTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{"type": "string"},
		},
		"required": []any{"task"},
	}
}

type agentsSpawnInput struct {
	Task string `json:"task"`
}

func (t AgentsSpawnTool) Execute(ctx context.Context, tctx Context, input json.RawMessage) (Output, error) {
	var in agentsSpawnInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Output{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.Task == "" {
		return Output{Content: "task is required", IsError: true}, nil
	}

	nextDepth := tctx.SpawnDepth + 1
	if t.MaxDepth > 0 && nextDepth > t.MaxDepth {
		return Output{
			Content: fmt.Sprintf("spawn depth limit reached (max %d)", t.MaxDepth),
			IsError: true,
		}, nil
	}
	if t.Spawn == nil {
		return Output{Content: "agents_spawn is not wired to a session manager", IsError: true}, nil
	}

	childHash, err := t.Spawn(ctx, tctx.SessionKeyHash, in.Task, nextDepth)
	if err != nil {
		return Output{Content: fmt.Sprintf("spawn failed: %v", err), IsError: true}, nil
	}
	return Output{Content: fmt.Sprintf("spawned child session %s at depth %d", childHash, nextDepth)}, nil
}

// MemoryGetFunc reads a value previously stored under namespace/key,
// supplied by the gateway at wiring time so this package stays independent
// of the memory store's file layout.
type MemoryGetFunc func(namespace, key string) (value string, ok bool, err error)

// MemorySetFunc stores value under namespace/key.
type MemorySetFunc func(namespace, key, value string) error

// MemoryGetTool lets the agent recall a fact it (or a skill) previously
// wrote to its flat key-value memory store.
type MemoryGetTool struct {
	Get MemoryGetFunc
}

func (MemoryGetTool) Name() string { return "memory_get" }

func (MemoryGetTool) Description() string {
	return "Retrieve a value previously saved in memory under a namespace and key."
}

func (MemoryGetTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"namespace": map[string]any{"type": "string"},
			"key":       map[string]any{"type": "string"},
		},
		"required": []any{"namespace", "key"},
	}
}

type memoryGetInput struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

func (t MemoryGetTool) Execute(ctx context.Context, tctx Context, input json.RawMessage) (Output, error) {
	var in memoryGetInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Output{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.Namespace == "" || in.Key == "" {
		return Output{Content: "namespace and key are required", IsError: true}, nil
	}
	if t.Get == nil {
		return Output{Content: "memory_get is not wired to a memory store", IsError: true}, nil
	}
	value, ok, err := t.Get(in.Namespace, in.Key)
	if err != nil {
		return Output{Content: fmt.Sprintf("memory read failed: %v", err), IsError: true}, nil
	}
	if !ok {
		return Output{Content: "not found"}, nil
	}
	return Output{Content: value}, nil
}

// MemorySetTool lets the agent persist a fact under a namespace/key for
// later recall, by itself or a future session.
type MemorySetTool struct {
	Set MemorySetFunc
}

func (MemorySetTool) Name() string { return "memory_set" }

func (MemorySetTool) Description() string {
	return "Save a value in memory under a namespace and key for later recall."
}

func (MemorySetTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"namespace": map[string]any{"type": "string"},
			"key":       map[string]any{"type": "string"},
			"value":     map[string]any{"type": "string"},
		},
		"required": []any{"namespace", "key", "value"},
	}
}

type memorySetInput struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

func (t MemorySetTool) Execute(ctx context.Context, tctx Context, input json.RawMessage) (Output, error) {
	var in memorySetInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Output{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.Namespace == "" || in.Key == "" {
		return Output{Content: "namespace and key are required", IsError: true}, nil
	}
	if t.Set == nil {
		return Output{Content: "memory_set is not wired to a memory store", IsError: true}, nil
	}
	if err := t.Set(in.Namespace, in.Key, in.Value); err != nil {
		return Output{Content: fmt.Sprintf("memory write failed: %v", err), IsError: true}, nil
	}
	return Output{Content: "saved"}, nil
}
