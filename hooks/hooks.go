// Package hooks implements the gateway's lifecycle pub/sub chain: an
// ordered set of async handlers per event, with Continue / Modify / Cancel
// semantics (spec §4.4).
package hooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one of the closed set of lifecycle events a handler can observe.
type Event string

const (
	BeforeAgentStart  Event = "BeforeAgentStart"
	LlmInput          Event = "LlmInput"
	LlmOutput         Event = "LlmOutput"
	AgentEnd          Event = "AgentEnd"
	BeforeCompaction  Event = "BeforeCompaction"
	AfterCompaction   Event = "AfterCompaction"
	BeforeReset       Event = "BeforeReset"
	MessageReceived   Event = "MessageReceived"
	MessageSending    Event = "MessageSending"
	MessageSent       Event = "MessageSent"
	BeforeToolCall    Event = "BeforeToolCall"
	AfterToolCall     Event = "AfterToolCall"
	ToolResultPersist Event = "ToolResultPersist"
	SessionStart      Event = "SessionStart"
	SessionEnd        Event = "SessionEnd"
	GatewayStart      Event = "GatewayStart"
	GatewayStop       Event = "GatewayStop"
)

// Context is passed to every handler invocation.
type Context struct {
	SessionKeyHash string
	Timestamp      time.Time
	Metadata       map[string]json.RawMessage
}

// ResultKind tags the three shapes a Handler may return.
type ResultKind int

const (
	Continue ResultKind = iota
	Modified
	Cancel
)

// Result is the outcome of one handler invocation.
type Result struct {
	Kind    ResultKind
	Payload json.RawMessage // set when Kind == Modified
	Reason  string          // set when Kind == Cancel
}

// ContinueResult is the zero-value "do nothing" result handlers return when
// they only observe.
func ContinueResult() Result { return Result{Kind: Continue} }

// ModifiedResult replaces the payload seen by subsequent handlers.
func ModifiedResult(payload json.RawMessage) Result {
	return Result{Kind: Modified, Payload: payload}
}

// CancelResult short-circuits the remainder of the chain.
func CancelResult(reason string) Result {
	return Result{Kind: Cancel, Reason: reason}
}

// Handler observes (and optionally mutates or cancels) one event firing. A
// handler that returns an error is logged and treated as Continue.
type Handler func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error)

// Registry holds the ordered handler chain for each event. Registration
// happens at startup (copy-on-register); Fire/FireOrCancel are safe for
// many concurrent callers against a read-mostly map (§5).
type Registry struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	log      zerolog.Logger
}

// NewRegistry returns an empty hook registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{handlers: make(map[Event][]Handler), log: log}
}

// Register appends handler to event's chain, in registration order.
func (r *Registry) Register(event Event, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], handler)
}

// Count returns the number of handlers registered for event.
func (r *Registry) Count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

func (r *Registry) chain(event Event) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// copy so callers can iterate without holding the lock
	chain := make([]Handler, len(r.handlers[event]))
	copy(chain, r.handlers[event])
	return chain
}

// Fire runs event's handler chain in registration order, observation-only:
// it never reports a cancellation to the caller. A Modified result from one
// handler is fed to the next; a Cancel ends the chain early but the caller
// learns nothing of it. Handler errors are logged and treated as Continue.
func (r *Registry) Fire(ctx context.Context, event Event, hctx Context, data json.RawMessage) {
	current := data
	for _, h := range r.chain(event) {
		result, err := h(ctx, hctx, current)
		if err != nil {
			r.log.Warn().Err(err).Str("event", string(event)).Msg("hook handler error, continuing")
			continue
		}
		switch result.Kind {
		case Modified:
			current = result.Payload
		case Cancel:
			return
		}
	}
}

// FireOrCancel runs event's handler chain and returns the (possibly
// modified) final payload, or the reason string from the first Cancel
// result encountered — which short-circuits any handler registered after
// it.
func (r *Registry) FireOrCancel(ctx context.Context, event Event, hctx Context, data json.RawMessage) (json.RawMessage, string, bool) {
	current := data
	for _, h := range r.chain(event) {
		result, err := h(ctx, hctx, current)
		if err != nil {
			r.log.Warn().Err(err).Str("event", string(event)).Msg("hook handler error, continuing")
			continue
		}
		switch result.Kind {
		case Modified:
			current = result.Payload
		case Cancel:
			return nil, result.Reason, true
		}
	}
	return current, "", false
}
