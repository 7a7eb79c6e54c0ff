// Package router implements the per-channel inbound dispatch loop (spec
// C7): one goroutine per channel drains its inbound queue, and each
// message runs the agent loop in its own goroutine so a slow turn on one
// conversation never blocks another. Turns for the same session run one at
// a time.
package router

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"

	"gatewaycore/agent"
	"gatewaycore/core"
	"gatewaycore/store"
)

// Channel is the send-side contract a channel adapter implements. Receiving
// inbound messages happens out of band, via the inbound channel passed to
// Router.Route.
type Channel interface {
	Send(ctx context.Context, target core.SendTarget, msg core.OutboundMessage) (core.SendResult, error)
}

// EventSink receives every agent.Event produced by a run, for fan-out to
// e.g. a websocket broadcast bus. Sink implementations must not block.
type EventSink interface {
	Publish(sessionKeyHash string, event agent.Event)
}

// Router owns the registered channels and dispatches inbound messages from
// each to a fresh agent run.
type Router struct {
	Store   store.Store
	Runtime *agent.Runtime
	Sink    EventSink
	Log     zerolog.Logger

	channels map[string]Channel

	// sessionLocks holds one mutex per session hash key so a whole
	// load-run-save turn for a session never overlaps another for it.
	sessionLocks sync.Map // map[string]*sync.Mutex
}

// NewRouter returns an empty Router.
func NewRouter(st store.Store, runtime *agent.Runtime, sink EventSink, log zerolog.Logger) *Router {
	return &Router{Store: st, Runtime: runtime, Sink: sink, Log: log, channels: make(map[string]Channel)}
}

// RegisterChannel makes channelID's Channel available for outbound replies.
func (r *Router) RegisterChannel(channelID string, ch Channel) {
	r.channels = ensureChannelMap(r.channels)
	r.channels[channelID] = ch
}

func ensureChannelMap(m map[string]Channel) map[string]Channel {
	if m == nil {
		return make(map[string]Channel)
	}
	return m
}

// Route starts a goroutine that drains inbound until it is closed, spawning
// one goroutine per message so concurrent conversations on the same channel
// never serialize behind each other; messages for the same session wait for
// that session's previous turn to finish.
func (r *Router) Route(ctx context.Context, channelID string, inbound <-chan core.InboundMessage) {
	go func() {
		r.Log.Info().Str("channel", channelID).Msg("channel router started")
		for {
			select {
			case <-ctx.Done():
				r.Log.Info().Str("channel", channelID).Msg("channel router stopped")
				return
			case msg, ok := <-inbound:
				if !ok {
					r.Log.Info().Str("channel", channelID).Msg("channel router stopped")
					return
				}
				go r.handleInbound(ctx, channelID, msg)
			}
		}
	}()
}

func (r *Router) handleInbound(ctx context.Context, channelID string, message core.InboundMessage) {
	key := core.SessionKey{
		Channel:   channelID,
		AccountID: message.AccountID,
		ChatType:  message.ChatType,
		PeerID:    message.Sender.ID,
		Scope:     core.ScopePerSender,
	}

	lock, _ := r.sessionLocks.LoadOrStore(key.HashKey(), &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	session, err := r.Store.Load(key)
	if err != nil {
		r.Log.Error().Err(err).Str("channel", channelID).Msg("failed to load session")
		return
	}
	if session == nil {
		session = core.NewSession(key)
	}
	session.Meta.LastChannel = channelID

	events := make(chan agent.Event, 64)
	done := make(chan struct{})
	var finalText string

	go func() {
		defer close(done)
		for e := range events {
			if r.Sink != nil {
				r.Sink.Publish(key.HashKey(), e)
			}
			if e.Type == agent.EventBlockReply {
				finalText = e.Text
			}
		}
	}()

	result := r.Runtime.Run(ctx, session, userContentFor(message), events)
	close(events)
	<-done

	if err := r.Store.Save(session); err != nil {
		r.Log.Error().Err(err).Str("channel", channelID).Msg("failed to save session")
	}

	if finalText != "" {
		r.sendReply(ctx, channelID, message, finalText)
	}

	if result.Err != nil {
		r.Log.Error().Str("kind", string(result.Err.Kind)).Err(result.Err).Str("channel", channelID).Msg("agent run failed")
	}
}

func (r *Router) sendReply(ctx context.Context, channelID string, message core.InboundMessage, text string) {
	ch, ok := r.channels[channelID]
	if !ok {
		r.Log.Warn().Str("channel", channelID).Msg("no registered channel for reply")
		return
	}
	target := core.SendTarget{
		Channel:   channelID,
		AccountID: message.AccountID,
		ChatID:    message.Sender.ID,
		ChatType:  message.ChatType,
	}
	outbound := core.OutboundMessage{Text: text, ThreadID: message.ThreadID}
	if _, err := ch.Send(ctx, target, outbound); err != nil {
		r.Log.Error().Err(err).Str("channel", channelID).Msg("failed to send reply")
	}
}

func userContentFor(message core.InboundMessage) []core.ContentBlock {
	blocks := []core.ContentBlock{core.NewTextBlock(textOrPlaceholder(message.Text))}
	for _, media := range message.Media {
		if !isImage(media.MimeType) {
			continue
		}
		if len(media.Data) > 0 {
			blocks = append(blocks, core.NewImageBlock(core.ImageSource{
				SourceType: "base64",
				MediaType:  media.MimeType,
				Data:       base64.StdEncoding.EncodeToString(media.Data),
			}))
		} else if media.URL != "" {
			blocks = append(blocks, core.NewImageBlock(core.ImageSource{
				SourceType: "url",
				MediaType:  media.MimeType,
				Data:       media.URL,
			}))
		}
	}
	return blocks
}

func textOrPlaceholder(text string) string {
	if text == "" {
		return "(empty message)"
	}
	return text
}

func isImage(mimeType string) bool {
	return len(mimeType) >= 6 && mimeType[:6] == "image/"
}
