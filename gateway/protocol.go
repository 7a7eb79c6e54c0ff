// Package gateway implements the websocket wire protocol (spec C8): a
// JSON-over-WebSocket envelope of request/response/event frames, the
// connection handshake, per-IP rate limiting, and the method dispatch
// table that backs sessions, agent turns, and channel status queries.
package gateway

import "encoding/json"

// ProtocolVersion is the wire protocol version this gateway speaks.
const ProtocolVersion = 3

// FrameType discriminates a GatewayFrame's role on the wire.
type FrameType string

const (
	FrameRequest  FrameType = "req"
	FrameResponse FrameType = "res"
	FrameEvent    FrameType = "event"
)

// GatewayFrame is the top-level envelope for every message exchanged over
// the websocket connection. Exactly one of the request/response/event
// field groups is populated, selected by Type.
type GatewayFrame struct {
	Type FrameType `json:"type"`

	// Request fields.
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields. ID is shared with the request.
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// Event fields.
	Event        string          `json:"event,omitempty"`
	Seq          *uint64         `json:"seq,omitempty"`
	StateVersion *StateVersion   `json:"state_version,omitempty"`
}

// RequestFrame builds a client->server request frame.
func RequestFrame(id, method string, params json.RawMessage) GatewayFrame {
	return GatewayFrame{Type: FrameRequest, ID: id, Method: method, Params: params}
}

// OkResponse builds a successful server->client response frame.
func OkResponse(id string, payload json.RawMessage) GatewayFrame {
	return GatewayFrame{Type: FrameResponse, ID: id, OK: true, Payload: payload}
}

// ErrResponse builds a failed server->client response frame.
func ErrResponse(id, code, message string) GatewayFrame {
	return GatewayFrame{Type: FrameResponse, ID: id, OK: false, Error: &ErrorShape{Code: code, Message: message}}
}

// EventFrame builds a server->client event broadcast frame.
func EventFrame(event string, payload json.RawMessage, seq uint64, sv *StateVersion) GatewayFrame {
	return GatewayFrame{Type: FrameEvent, Event: event, Payload: payload, Seq: &seq, StateVersion: sv}
}

// ErrorShape is the structured error payload carried on a failed response.
type ErrorShape struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// StateVersion tracks monotonic counters so clients can detect staleness
// in the presence/health snapshots they were last given.
type StateVersion struct {
	Presence uint64 `json:"presence"`
	Health   uint64 `json:"health"`
}

// ConnectParams is the handshake payload a client sends to open a session.
type ConnectParams struct {
	MinProtocol uint32        `json:"min_protocol"`
	MaxProtocol uint32        `json:"max_protocol"`
	Client      ClientInfo    `json:"client"`
	Caps        []string      `json:"caps,omitempty"`
	Role        string        `json:"role,omitempty"`
	Auth        *AuthParams   `json:"auth,omitempty"`
	Device      *DeviceParams `json:"device,omitempty"`
}

// ClientInfo identifies the connecting client to the gateway.
type ClientInfo struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name,omitempty"`
	Version      string `json:"version,omitempty"`
	Platform     string `json:"platform,omitempty"`
	DeviceFamily string `json:"device_family,omitempty"`
	Mode         string `json:"mode,omitempty"`
}

// AuthParams carries one of a token or password credential. Exactly one of
// Token/Password should be set; AuthType names which.
type AuthParams struct {
	AuthType string `json:"type"`
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// DeviceParams carries a device keypair signature used for node pairing.
type DeviceParams struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// HelloOk is the server's handshake reply, sent as the first event frame
// on every new connection.
type HelloOk struct {
	Protocol uint32     `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Features Features   `json:"features"`
	Snapshot Snapshot   `json:"snapshot"`
	Policy   Policy     `json:"policy"`
}

// ServerInfo identifies the running gateway build and this connection.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"conn_id"`
}

// Features enumerates the methods and event names this gateway build
// supports, so clients can feature-detect instead of hardcoding a list.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// Snapshot is the initial state handed to a client at handshake time.
type Snapshot struct {
	StateVersion StateVersion `json:"state_version"`
	AuthMode     string       `json:"auth_mode"`
}

// Policy communicates server-enforced limits the client should respect.
type Policy struct {
	MaxPayload       int   `json:"max_payload"`
	MaxBufferedBytes int   `json:"max_buffered_bytes"`
	TickIntervalMs   int64 `json:"tick_interval_ms"`
}

// SupportedMethods lists the method names dispatch accepts.
// HelloOk.Features.Methods is built from this list; Dispatch's switch is
// maintained separately.
var SupportedMethods = []string{
	"sessions.list",
	"sessions.preview",
	"sessions.delete",
	"sessions.reset",
	"sessions.patch",
	"agent",
	"wake",
	"channels.status",
	"models.list",
	"config.get",
	"config.set",
	"skills.list",
	"skills.get",
	"node.pair.request",
	"node.pair.approve",
}

// SupportedEvents lists the event names this gateway broadcasts.
var SupportedEvents = []string{
	"agent.event",
	"session.updated",
}
