package hooks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestFireOrderIsRegistrationOrder(t *testing.T) {
	r := newTestRegistry()
	var order []int

	r.Register(AgentEnd, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		order = append(order, 1)
		return ContinueResult(), nil
	})
	r.Register(AgentEnd, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		order = append(order, 2)
		return ContinueResult(), nil
	})
	r.Register(AgentEnd, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		order = append(order, 3)
		return ContinueResult(), nil
	})

	r.Fire(context.Background(), AgentEnd, Context{}, nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestCancelStopsChain(t *testing.T) {
	r := newTestRegistry()
	var ran []int

	r.Register(BeforeToolCall, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		ran = append(ran, 1)
		return CancelResult("blocked by policy"), nil
	})
	r.Register(BeforeToolCall, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		ran = append(ran, 2)
		return ContinueResult(), nil
	})

	_, reason, cancelled := r.FireOrCancel(context.Background(), BeforeToolCall, Context{}, nil)
	require.True(t, cancelled)
	assert.Equal(t, "blocked by policy", reason)
	assert.Equal(t, []int{1}, ran)
}

func TestModifiedChainsToNextHandler(t *testing.T) {
	r := newTestRegistry()

	r.Register(LlmInput, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		return ModifiedResult(json.RawMessage(`"first"`)), nil
	})
	r.Register(LlmInput, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		var s string
		require.NoError(t, json.Unmarshal(data, &s))
		return ModifiedResult(json.RawMessage(`"` + s + "-second" + `"`)), nil
	})

	out, _, cancelled := r.FireOrCancel(context.Background(), LlmInput, Context{}, json.RawMessage(`"orig"`))
	require.False(t, cancelled)
	assert.Equal(t, `"first-second"`, string(out))
}

func TestCount(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, 0, r.Count(SessionStart))

	r.Register(SessionStart, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		return ContinueResult(), nil
	})
	r.Register(SessionStart, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		return ContinueResult(), nil
	})
	assert.Equal(t, 2, r.Count(SessionStart))
	assert.Equal(t, 0, r.Count(GatewayStop))
}

func TestHandlerErrorTreatedAsContinue(t *testing.T) {
	r := newTestRegistry()
	var secondRan bool

	r.Register(MessageReceived, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		return Result{}, assert.AnError
	})
	r.Register(MessageReceived, func(ctx context.Context, hctx Context, data json.RawMessage) (Result, error) {
		secondRan = true
		return ContinueResult(), nil
	})

	r.Fire(context.Background(), MessageReceived, Context{}, nil)
	assert.True(t, secondRan)
}
