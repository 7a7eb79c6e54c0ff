package router

import (
	"context"
	"sync"
	"testing"
	"time"

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
func (m *memStore) List() ([]core.SessionMeta, error)                                { return nil, nil }
func (m *memStore) Delete(key core.SessionKey) error                                 { return nil }
func (m *memStore) Reset(key core.SessionKey) error                                  { return nil }

type fakeProvider struct{ text string }

func (p fakeProvider) Stream(ctx context.Context, req llmprovider.CompletionRequest, ch chan<- llmprovider.Chunk) error {
	defer close(ch)
	ch <- llmprovider.Chunk{Delta: p.text}
	ch <- llmprovider.Chunk{StopReason: llmprovider.StopEndTurn}
	return nil
}

type captureChannel struct {
	mu   sync.Mutex
	sent []core.OutboundMessage
}

func (c *captureChannel) Send(ctx context.Context, target core.SendTarget, msg core.OutboundMessage) (core.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return core.SendResult{MessageID: "m1", Success: true}, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []agent.Event
}

func (s *captureSink) Publish(sessionKeyHash string, e agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestRouteDeliversReplyAndSavesSession(t *testing.T) {
	st := newMemStore()
	runtime := &agent.Runtime{
		Provider: fakeProvider{text: "hi there"},
		Tools:    tools.NewRegistry(),
		Hooks:    hooks.NewRegistry(zerolog.Nop()),
		Log:      zerolog.Nop(),
	}
	sink := &captureSink{}
	r := NewRouter(st, runtime, sink, zerolog.Nop())

	channel := &captureChannel{}
	r.RegisterChannel("telegram", channel)

	inbound := make(chan core.InboundMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Route(ctx, "telegram", inbound)
	inbound <- core.InboundMessage{
		AccountID: "acct1",
		ChatType:  core.ChatTypeDM,
		Sender:    core.Sender{ID: "user1"},
		Text:      "hello",
	}

	require.Eventually(t, func() bool {
		channel.mu.Lock()
		defer channel.mu.Unlock()
		return len(channel.sent) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "hi there", channel.sent[0].Text)

	key := core.SessionKey{Channel: "telegram", AccountID: "acct1", ChatType: core.ChatTypeDM, PeerID: "user1", Scope: core.ScopePerSender}
	saved, err := st.Load(key)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Transcript, 2) // user entry + assistant entry
}

func TestUserContentForEmptyMessagePlaceholder(t *testing.T) {
	blocks := userContentFor(core.InboundMessage{Text: ""})
	require.Len(t, blocks, 1)
	assert.Equal(t, "(empty message)", blocks[0].Text)
}

func TestUserContentForImageAttachment(t *testing.T) {
	blocks := userContentFor(core.InboundMessage{
		Text:  "look",
		Media: []core.MediaAttachment{{MimeType: "image/png", Data: []byte("fakepng")}},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, core.ContentBlockImage, blocks[1].Type)
	require.NotNil(t, blocks[1].Image)
	assert.Equal(t, "base64", blocks[1].Image.SourceType)
}
