package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFrameRoundTrips(t *testing.T) {
	frame := RequestFrame("req1", "sessions.list", nil)
	data, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded GatewayFrame
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, FrameRequest, decoded.Type)
	assert.Equal(t, "req1", decoded.ID)
	assert.Equal(t, "sessions.list", decoded.Method)
}

func TestOkResponseOmitsError(t *testing.T) {
	frame := OkResponse("req1", mustJSON(map[string]any{"x": 1}))
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
}

func TestErrResponseCarriesErrorShape(t *testing.T) {
	frame := ErrResponse("req1", "not_found", "session not found")
	assert.False(t, frame.OK)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "not_found", frame.Error.Code)
}

func TestEventFrameCarriesSeq(t *testing.T) {
	frame := EventFrame("agent.event", mustJSON(map[string]any{}), 5, nil)
	require.NotNil(t, frame.Seq)
	assert.Equal(t, uint64(5), *frame.Seq)
}

func TestSupportedMethodsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, SupportedMethods)
	assert.Contains(t, SupportedMethods, "agent")
}
