package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"gatewaycore/agent"
	"gatewaycore/core"
	"gatewaycore/llmprovider"
)

// Dispatch runs method against state and returns the response frame to
// send back on the same connection. It never panics on malformed params;
// a decode failure becomes an invalid_params error response.
func Dispatch(ctx context.Context, state *State, connID string, frame GatewayFrame) GatewayFrame {
	switch frame.Method {
	case "sessions.list":
		return handleSessionsList(state, frame.ID)
	case "sessions.preview":
		return handleSessionsPreview(state, frame.ID, frame.Params)
	case "sessions.delete":
		return handleSessionsDelete(state, frame.ID, frame.Params)
	case "sessions.reset":
		return handleSessionsReset(state, frame.ID, frame.Params)
	case "sessions.patch":
		return handleSessionsPatch(state, frame.ID, frame.Params)
	case "agent":
		return handleAgent(ctx, state, frame.ID, frame.Params, connID)
	case "wake":
		return OkResponse(frame.ID, mustJSON(map[string]any{"status": "ok"}))
	case "channels.status":
		return handleChannelsStatus(state, frame.ID)
	case "models.list":
		return handleModelsList(frame.ID)
	case "config.get":
		return handleConfigGet(state, frame.ID, frame.Params)
	case "config.set":
		return handleConfigSet(state, frame.ID, frame.Params)
	case "skills.list":
		return handleSkillsList(state, frame.ID)
	case "skills.get":
		return handleSkillsGet(state, frame.ID, frame.Params)
	case "node.pair.request":
		return handlePairRequest(state, frame.ID, frame.Params)
	case "node.pair.approve":
		return handlePairApprove(state, frame.ID, frame.Params)
	default:
		return ErrResponse(frame.ID, "method_not_found", fmt.Sprintf("unknown method: %s", frame.Method))
	}
}

func handleSessionsList(state *State, id string) GatewayFrame {
	metas, err := state.Store.List()
	if err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	return OkResponse(id, mustJSON(map[string]any{"sessions": metas}))
}

type sessionKeyParams struct {
	Key   core.SessionKey `json:"key"`
	Limit int             `json:"limit"`
}

func handleSessionsPreview(state *State, id string, params json.RawMessage) GatewayFrame {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}

	session, err := state.Store.Load(p.Key)
	if err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	if session == nil {
		return ErrResponse(id, "not_found", "session not found")
	}

	entries := session.Transcript
	if len(entries) > p.Limit {
		entries = entries[len(entries)-p.Limit:]
	}
	return OkResponse(id, mustJSON(map[string]any{"entries": entries}))
}

func handleSessionsDelete(state *State, id string, params json.RawMessage) GatewayFrame {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	if err := state.Store.Delete(p.Key); err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	state.BumpPresence()
	return OkResponse(id, mustJSON(map[string]any{"status": "ok"}))
}

func handleSessionsReset(state *State, id string, params json.RawMessage) GatewayFrame {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	if err := state.Store.Reset(p.Key); err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	state.BumpPresence()
	return OkResponse(id, mustJSON(map[string]any{"status": "ok"}))
}

type sessionsPatchParams struct {
	Key           core.SessionKey    `json:"key"`
	Label         *string            `json:"label,omitempty"`
	Model         *string            `json:"model,omitempty"`
	ThinkingLevel *core.ThinkingLevel `json:"thinking_level,omitempty"`
}

// handleSessionsPatch updates the mutable fields of a session's metadata
// in place, leaving its transcript untouched.
func handleSessionsPatch(state *State, id string, params json.RawMessage) GatewayFrame {
	var p sessionsPatchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}

	session, err := state.Store.Load(p.Key)
	if err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	if session == nil {
		return ErrResponse(id, "not_found", "session not found")
	}

	if p.Label != nil {
		session.Meta.Label = *p.Label
	}
	if p.Model != nil {
		session.Meta.Model = *p.Model
	}
	if p.ThinkingLevel != nil {
		session.Meta.ThinkingLevel = *p.ThinkingLevel
	}

	if err := state.Store.Save(session); err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	state.BumpPresence()
	return OkResponse(id, mustJSON(map[string]any{"meta": session.Meta}))
}

// handleModelsList reports the models this gateway's RoutingProvider
// knows how to route to, independent of which API keys are configured.
func handleModelsList(id string) GatewayFrame {
	return OkResponse(id, mustJSON(map[string]any{"models": llmprovider.KnownModels()}))
}

type configGetParams struct {
	Path string `json:"path,omitempty"`
}

func handleConfigGet(state *State, id string, params json.RawMessage) GatewayFrame {
	if state.Config == nil {
		return ErrResponse(id, "not_configured", "config snapshot not wired")
	}
	var p configGetParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return ErrResponse(id, "invalid_params", err.Error())
		}
	}
	value, err := state.Config.GetPath(p.Path)
	if err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	return OkResponse(id, mustJSON(map[string]any{"value": value}))
}

type configSetParams struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func handleConfigSet(state *State, id string, params json.RawMessage) GatewayFrame {
	if state.Config == nil {
		return ErrResponse(id, "not_configured", "config snapshot not wired")
	}
	var p configSetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	if err := state.Config.SetPath(p.Path, p.Value); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	return OkResponse(id, mustJSON(map[string]any{"status": "ok"}))
}

func handleSkillsList(state *State, id string) GatewayFrame {
	if state.Skills == nil {
		return ErrResponse(id, "not_configured", "skills registry not wired")
	}
	return OkResponse(id, mustJSON(map[string]any{"skills": state.Skills.List()}))
}

type skillsGetParams struct {
	Name string `json:"name"`
}

func handleSkillsGet(state *State, id string, params json.RawMessage) GatewayFrame {
	if state.Skills == nil {
		return ErrResponse(id, "not_configured", "skills registry not wired")
	}
	var p skillsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	def, ok := state.Skills.Get(p.Name)
	if !ok {
		return ErrResponse(id, "not_found", fmt.Sprintf("unknown skill: %s", p.Name))
	}
	return OkResponse(id, mustJSON(map[string]any{"skill": def}))
}

type pairRequestParams struct {
	Channel     string `json:"channel"`
	SenderID    string `json:"sender_id"`
	DisplayName string `json:"display_name,omitempty"`
}

func handlePairRequest(state *State, id string, params json.RawMessage) GatewayFrame {
	if state.Pairing == nil {
		return ErrResponse(id, "not_configured", "pairing store not wired")
	}
	var p pairRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	if p.Channel == "" || p.SenderID == "" {
		return ErrResponse(id, "invalid_params", "channel and sender_id are required")
	}
	code, err := state.Pairing.CreateRequest(p.Channel, p.SenderID, p.DisplayName)
	if err != nil {
		return ErrResponse(id, "pairing_error", err.Error())
	}
	return OkResponse(id, mustJSON(map[string]any{"code": code}))
}

type pairApproveParams struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
}

func handlePairApprove(state *State, id string, params json.RawMessage) GatewayFrame {
	if state.Pairing == nil {
		return ErrResponse(id, "not_configured", "pairing store not wired")
	}
	var p pairApproveParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}
	found, err := state.Pairing.Approve(p.Channel, p.Code)
	if err != nil {
		return ErrResponse(id, "pairing_error", err.Error())
	}
	if !found {
		return ErrResponse(id, "not_found", "no matching pending request")
	}
	state.BumpPresence()
	return OkResponse(id, mustJSON(map[string]any{"status": "ok"}))
}

type agentParams struct {
	Key  core.SessionKey `json:"key"`
	Text string          `json:"text"`
}

// handleAgent loads (or creates) the named session, runs one agent turn
// synchronously, saves the session, and returns the final block_reply text.
// Intermediate events (partial_reply, tool_call, ...) are not carried on
// the response frame; a connection that wants those subscribes to
// agent.event broadcasts instead.
func handleAgent(ctx context.Context, state *State, id string, params json.RawMessage, connID string) GatewayFrame {
	var p agentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrResponse(id, "invalid_params", err.Error())
	}

	session, err := state.Store.Load(p.Key)
	if err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	if session == nil {
		session = core.NewSession(p.Key)
	}

	events := make(chan agent.Event, 64)
	var finalText string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if e.Type == agent.EventBlockReply {
				finalText = e.Text
			}
		}
	}()

	result := state.Runtime.Run(ctx, session, []core.ContentBlock{core.NewTextBlock(p.Text)}, events)
	close(events)
	<-done

	if err := state.Store.Save(session); err != nil {
		return ErrResponse(id, "session_error", err.Error())
	}
	state.BumpPresence()

	if result.Err != nil {
		return ErrResponse(id, "agent_error", result.Err.Error())
	}
	return OkResponse(id, mustJSON(map[string]any{"text": finalText, "usage": result.Usage}))
}

func handleChannelsStatus(state *State, id string) GatewayFrame {
	return OkResponse(id, mustJSON(map[string]any{"channels": state.channels.snapshot()}))
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
