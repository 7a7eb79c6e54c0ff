package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gatewaycore/agent"
	"gatewaycore/pairing"
)

const (
	defaultMaxPayload       = 1 << 20 // 1MB
	defaultMaxBufferedBytes = 10 << 20
	defaultTickIntervalMs   = 30_000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server hosts the websocket endpoint and health check for one gateway
// process.
type Server struct {
	State       *State
	RateLimiter *ConnRateLimiter
	Log         zerolog.Logger
	Version     string

	engine *gin.Engine
}

// NewServer wires the gin engine: /ws for the websocket protocol, /health
// for a liveness probe, and /pairing/* for DM approval when pairingStore is
// non-nil.
func NewServer(state *State, limiter *ConnRateLimiter, log zerolog.Logger, version string, pairingStore *pairing.Store) *Server {
	s := &Server{State: state, RateLimiter: limiter, Log: log, Version: version}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.ForwardedByClientIP = true
	_ = r.SetTrustedProxies(nil)

	r.GET("/ws", s.handleWebsocket)
	r.GET("/health", s.handleHealth)
	if pairingStore != nil {
		registerPairingRoutes(r, pairingStore)
	}

	s.engine = r
	return s
}

// ListenAndServe starts the HTTP server bound to addr (e.g. ":8787").
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	s.Log.Info().Str("addr", addr).Msg("gateway listening")
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(c *gin.Context) {
	s.State.broadcastOnce()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     s.Version,
		"connections": s.State.Broadcast.size(),
	})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	ip := c.ClientIP()
	if s.RateLimiter != nil && !s.RateLimiter.Allow(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.Log.Info().Str("conn_id", connID).Msg("new websocket connection")

	var writeMu sync.Mutex
	writeFrame := func(frame GatewayFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	hello := GatewayFrame{
		Type:  FrameEvent,
		Event: "hello",
		Payload: mustJSON(HelloOk{
			Protocol: ProtocolVersion,
			Server:   ServerInfo{Version: s.Version, ConnID: connID},
			Features: Features{Methods: SupportedMethods, Events: SupportedEvents},
			Snapshot: Snapshot{StateVersion: s.State.StateVersionSnapshot(), AuthMode: "none"},
			Policy: Policy{
				MaxPayload:       defaultMaxPayload,
				MaxBufferedBytes: defaultMaxBufferedBytes,
				TickIntervalMs:   defaultTickIntervalMs,
			},
		}),
	}
	if err := writeFrame(hello); err != nil {
		s.Log.Error().Err(err).Str("conn_id", connID).Msg("failed to send hello")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sink := &connSink{write: writeFrame, log: s.Log}
	detach := registerConnSink(s.State, connID, sink)
	defer detach()

	clientGone := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				close(clientGone)
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			s.Log.Info().Str("conn_id", connID).Msg("websocket connection closed")
			return
		case <-ctx.Done():
			return
		default:
		}

		var frame GatewayFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.Log.Debug().Err(err).Str("conn_id", connID).Msg("websocket read ended")
			return
		}
		if frame.Type != FrameRequest {
			continue
		}

		response := Dispatch(ctx, s.State, connID, frame)
		if err := writeFrame(response); err != nil {
			s.Log.Error().Err(err).Str("conn_id", connID).Msg("failed to write response")
			return
		}
	}
}

// connSink forwards agent.Event values to one websocket connection as
// agent.event frames, protected by the connection's own write mutex so it
// never races with a concurrent method response.
type connSink struct {
	write func(GatewayFrame) error
	log   zerolog.Logger
	seq   uint64
}

func (c *connSink) Publish(sessionKeyHash string, e agent.Event) {
	c.seq++
	frame := GatewayFrame{
		Type:  FrameEvent,
		Event: "agent.event",
		Payload: mustJSON(map[string]any{
			"session_key_hash": sessionKeyHash,
			"event":            e,
		}),
		Seq: &c.seq,
	}
	if err := c.write(frame); err != nil {
		c.log.Debug().Err(err).Msg("dropping agent.event, connection gone")
	}
}

// broadcastSink fans out agent.Event values to every currently-attached
// connSink. It implements router.EventSink so the channel router can share
// the same broadcast path the websocket method dispatch uses.
type broadcastSink struct {
	mu    sync.Mutex
	conns map[string]*connSink
}

func newBroadcastSink() *broadcastSink {
	return &broadcastSink{conns: make(map[string]*connSink)}
}

func (b *broadcastSink) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *broadcastSink) Publish(sessionKeyHash string, e agent.Event) {
	b.mu.Lock()
	sinks := make([]*connSink, 0, len(b.conns))
	for _, s := range b.conns {
		sinks = append(sinks, s)
	}
	b.mu.Unlock()
	for _, s := range sinks {
		s.Publish(sessionKeyHash, e)
	}
}

func (b *broadcastSink) attach(connID string, sink *connSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[connID] = sink
}

func (b *broadcastSink) detach(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, connID)
}

// registerConnSink attaches sink to state's broadcast bus, creating the bus
// on first use, and returns a function that detaches it.
func registerConnSink(state *State, connID string, sink *connSink) func() {
	state.broadcastOnce()
	state.Broadcast.attach(connID, sink)
	return func() { state.Broadcast.detach(connID) }
}
