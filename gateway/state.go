package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gatewaycore/agent"
	"gatewaycore/config"
	"gatewaycore/pairing"
	"gatewaycore/skills"
	"gatewaycore/store"
)

// State is the shared state every websocket connection's method dispatch
// reads and writes. One State is constructed per running gateway process.
// Config, Pairing, and Skills are optional (nil-able): a process that
// doesn't wire one of them simply has the matching methods answer
// "not_configured" instead of panicking.
type State struct {
	Store     store.Store
	Runtime   *agent.Runtime
	Log       zerolog.Logger
	Broadcast *broadcastSink
	Config    *config.Snapshot
	Pairing   *pairing.Store
	Skills    *skills.Registry

	presenceVersion atomic.Uint64
	healthVersion   atomic.Uint64

	broadcastInit sync.Once
	channels      *channelRegistry
}

// NewState builds gateway state around an already-constructed session
// store and agent runtime.
func NewState(st store.Store, runtime *agent.Runtime, log zerolog.Logger) *State {
	return &State{Store: st, Runtime: runtime, Log: log, channels: newChannelRegistry(), Broadcast: newBroadcastSink()}
}

// broadcastOnce is a defensive lazy-init for Broadcast, in case a State was
// constructed without NewState (e.g. in a test fixture).
func (s *State) broadcastOnce() {
	s.broadcastInit.Do(func() {
		if s.Broadcast == nil {
			s.Broadcast = newBroadcastSink()
		}
	})
}

// StateVersionSnapshot reads the current presence/health counters.
func (s *State) StateVersionSnapshot() StateVersion {
	return StateVersion{Presence: s.presenceVersion.Load(), Health: s.healthVersion.Load()}
}

// BumpPresence increments the presence counter, used whenever a session's
// transcript or metadata changes in a way clients watching it should know
// about.
func (s *State) BumpPresence() uint64 {
	return s.presenceVersion.Add(1)
}

// BumpHealth increments the health counter, used whenever a channel's
// connectivity status changes.
func (s *State) BumpHealth() uint64 {
	return s.healthVersion.Add(1)
}

// channelRegistry tracks the last-known connectivity status of each
// registered channel adapter, for the channels.status method.
type channelRegistry struct {
	statuses map[string]string
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{statuses: make(map[string]string)}
}

func (c *channelRegistry) set(channelID, status string) {
	c.statuses[channelID] = status
}

func (c *channelRegistry) snapshot() map[string]string {
	out := make(map[string]string, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// SetChannelStatus records channelID's connectivity status (e.g.
// "connected", "disconnected") and bumps the health version so connected
// clients see the change.
func (s *State) SetChannelStatus(channelID, status string) {
	s.channels.set(channelID, status)
	s.BumpHealth()
}
