package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/agent"
	"gatewaycore/core"
	"gatewaycore/hooks"
	"gatewaycore/llmprovider"
	"gatewaycore/tools"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*core.Session
}

func newMemStore() *memStore { return &memStore{sessions: make(map[string]*core.Session)} }

func (m *memStore) Load(key core.SessionKey) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key.HashKey()], nil
}
func (m *memStore) Save(s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Meta.Key.HashKey()] = s
	return nil
}
func (m *memStore) AppendEntry(key core.SessionKey, entry core.TranscriptEntry) error { return nil }
func (m *memStore) List() ([]core.SessionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var metas []core.SessionMeta
	for _, s := range m.sessions {
		metas = append(metas, s.Meta)
	}
	return metas, nil
}
func (m *memStore) Delete(key core.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key.HashKey())
	return nil
}
func (m *memStore) Reset(key core.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key.HashKey()]; ok {
		s.Transcript = nil
	}
	return nil
}

type fakeProvider struct{ text string }

func (p fakeProvider) Stream(ctx context.Context, req llmprovider.CompletionRequest, ch chan<- llmprovider.Chunk) error {
	defer close(ch)
	ch <- llmprovider.Chunk{Delta: p.text}
	ch <- llmprovider.Chunk{StopReason: llmprovider.StopEndTurn}
	return nil
}

func testState() *State {
	st := newMemStore()
	runtime := &agent.Runtime{
		Provider: fakeProvider{text: "hi there"},
		Tools:    tools.NewRegistry(),
		Hooks:    hooks.NewRegistry(zerolog.Nop()),
		Log:      zerolog.Nop(),
	}
	return NewState(st, runtime, zerolog.Nop())
}

func testKey() core.SessionKey {
	return core.SessionKey{Channel: "ws", AccountID: "a", ChatType: core.ChatTypeDM, PeerID: "p1", Scope: core.ScopePerSender}
}

func TestDispatchUnknownMethod(t *testing.T) {
	state := testState()
	resp := Dispatch(context.Background(), state, "c1", RequestFrame("r1", "bogus", nil))
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestDispatchWake(t *testing.T) {
	state := testState()
	resp := Dispatch(context.Background(), state, "c1", RequestFrame("r1", "wake", nil))
	assert.True(t, resp.OK)
}

func TestDispatchSessionsPreviewNotFound(t *testing.T) {
	state := testState()
	params := mustJSON(sessionKeyParams{Key: testKey(), Limit: 10})
	resp := Dispatch(context.Background(), state, "c1", RequestFrame("r1", "sessions.preview", params))
	assert.False(t, resp.OK)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestDispatchAgentRunsTurnAndSavesSession(t *testing.T) {
	state := testState()
	params := mustJSON(agentParams{Key: testKey(), Text: "hello"})
	resp := Dispatch(context.Background(), state, "c1", RequestFrame("r1", "agent", params))
	require.True(t, resp.OK)
	assert.Contains(t, string(resp.Payload), "hi there")

	saved, err := state.Store.Load(testKey())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Transcript, 2)
}

func TestDispatchSessionsDeleteBumpsPresence(t *testing.T) {
	state := testState()
	before := state.StateVersionSnapshot().Presence
	params := mustJSON(sessionKeyParams{Key: testKey()})
	resp := Dispatch(context.Background(), state, "c1", RequestFrame("r1", "sessions.delete", params))
	assert.True(t, resp.OK)
	assert.Greater(t, state.StateVersionSnapshot().Presence, before)
}

func TestDispatchChannelsStatus(t *testing.T) {
	state := testState()
	state.SetChannelStatus("telegram", "connected")
	resp := Dispatch(context.Background(), state, "c1", RequestFrame("r1", "channels.status", nil))
	assert.True(t, resp.OK)
	assert.Contains(t, string(resp.Payload), "telegram")
}
