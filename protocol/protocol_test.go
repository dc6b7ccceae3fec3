package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHelloShape(t *testing.T) {
	hello := NewHello(60)
	data, err := json.Marshal(hello)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "hello", out["type"])
	assert.Equal(t, float64(1), out["version"])
	assert.Equal(t, "websocket", out["transport"])
	assert.Equal(t, true, out["features"].(map[string]any)["mcp"])

	audio := out["audio_params"].(map[string]any)
	assert.Equal(t, "opus", audio["format"])
	assert.Equal(t, float64(60), audio["frame_duration"])
}

func TestDecodeMissingTypeIsError(t *testing.T) {
	_, err := Decode([]byte(`{"foo":"bar"}`))
	assert.Error(t, err)
}

func TestDecodeMalformedJSONIsError(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeHelloAckWithSessionID(t *testing.T) {
	env, err := Decode([]byte(`{"type":"hello","session_id":"abc-123"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", env.Type)

	ack, ok := env.AsHelloAck()
	require.True(t, ok)
	require.NotNil(t, ack.SessionID)
	assert.Equal(t, "abc-123", *ack.SessionID)
}

func TestDecodeTTSStates(t *testing.T) {
	env, err := Decode([]byte(`{"type":"tts","state":"sentence_start","text":"hello there"}`))
	require.NoError(t, err)

	tts, ok := env.AsTTS()
	require.True(t, ok)
	require.NotNil(t, tts.State)
	assert.Equal(t, "sentence_start", *tts.State)
	require.NotNil(t, tts.Text)
	assert.Equal(t, "hello there", *tts.Text)
}

func TestDecodeTTSWithoutStateFails(t *testing.T) {
	env, err := Decode([]byte(`{"type":"tts"}`))
	require.NoError(t, err)

	_, ok := env.AsTTS()
	assert.False(t, ok)
}

func TestDecodeUnknownTypeStillParses(t *testing.T) {
	env, err := Decode([]byte(`{"type":"something_new"}`))
	require.NoError(t, err)
	assert.Equal(t, "something_new", env.Type)
}

func TestDecodeIoTPassthrough(t *testing.T) {
	env, err := Decode([]byte(`{"type":"iot","description":{"light":"on/off"},"states":{"light":"on"}}`))
	require.NoError(t, err)

	iot, ok := env.AsIoT()
	require.True(t, ok)
	assert.NotNil(t, iot.Description)
	assert.NotNil(t, iot.States)
}

func TestNewListenAndAbortFrames(t *testing.T) {
	start := NewListenStart("sess-1")
	assert.Equal(t, "start", start.State)

	detect := NewListenDetect("sess-1", "wake word")
	assert.Equal(t, "detect", detect.State)
	assert.Equal(t, "wake word", detect.Text)

	abort := NewAbort("sess-1", "user interrupt")
	assert.Equal(t, "abort", abort.Type)
	assert.Equal(t, "user interrupt", abort.Reason)
}
