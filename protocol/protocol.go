// Package protocol implements the wire codec multiplexed over a single
// WebSocket connection: JSON control frames tagged by a "type" field, plus
// opaque binary Opus frames carried out-of-band. Grounded on
// original_source/src/core/ai_vox_engine_impl.cpp (OnJsonData,
// OnWebSocketConnected, StartListening, SendAbort) and, for the read-side
// null-tolerant field access, on the pointer-field-per-optional-key
// pattern common to hand-rolled JSON command structs.
package protocol

import (
	"encoding/json"
	"fmt"
)

// HelloFrame is the first frame sent once the transport connects,
// matching EngineImpl::OnWebSocketConnected.
type HelloFrame struct {
	Type        string          `json:"type"`
	Version     int             `json:"version"`
	Transport   string          `json:"transport"`
	Features    map[string]bool `json:"features"`
	AudioParams AudioParams     `json:"audio_params"`
}

type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// NewHello builds the outbound handshake frame. frameDurationMs matches
// the audio pipeline's configured Opus frame size (60ms by default).
func NewHello(frameDurationMs int) HelloFrame {
	return HelloFrame{
		Type:      "hello",
		Version:   1,
		Transport: "websocket",
		Features:  map[string]bool{"mcp": true},
		AudioParams: AudioParams{
			Format:        "opus",
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: frameDurationMs,
		},
	}
}

// ListenFrame reports the device's listening intent, matching
// EngineImpl::StartListening and the wake-triggered "detect" variant sent
// from OnJsonData's "hello" handler.
type ListenFrame struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	State     string `json:"state"`
	Mode      string `json:"mode,omitempty"`
	Text      string `json:"text,omitempty"`
}

// NewListenStart matches EngineImpl::StartListening, which always sends
// "auto" listen mode.
func NewListenStart(sessionID string) ListenFrame {
	return ListenFrame{SessionID: sessionID, Type: "listen", State: "start", Mode: "auto"}
}

func NewListenStop(sessionID string) ListenFrame {
	return ListenFrame{SessionID: sessionID, Type: "listen", State: "stop"}
}

func NewListenDetect(sessionID, wakeText string) ListenFrame {
	return ListenFrame{SessionID: sessionID, Type: "listen", State: "detect", Text: wakeText}
}

// AbortFrame cancels an in-flight turn, matching the original's two
// Abort call sites (user-initiated interruption and speaking cutoff).
type AbortFrame struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Reason    string `json:"reason,omitempty"`
}

func NewAbort(sessionID, reason string) AbortFrame {
	return AbortFrame{SessionID: sessionID, Type: "abort", Reason: reason}
}

// MCPFrame wraps a JSON-RPC payload (encoding/decoding left to the mcp
// package) inside the session envelope, matching SendMcpResponse.
type MCPFrame struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
}

func NewMCP(sessionID string, payload any) MCPFrame {
	return MCPFrame{SessionID: sessionID, Type: "mcp", Payload: payload}
}

// Envelope is the parsed form of any inbound JSON control frame. It holds
// the discriminated Type and the raw frame; the As* accessors decode the
// fields relevant to that type on demand. Field access is null-tolerant
// the way cjson_util::GetString is in the original: a missing field leaves
// its pointer nil, and a field of the wrong JSON type makes the accessor
// report ok == false; neither panics.
type Envelope struct {
	Type string

	raw json.RawMessage
}

// Decode parses data as a control frame and extracts its discriminator.
// It returns an error only when the payload isn't a JSON object or is
// missing/has a non-string "type" field — both logged-and-dropped cases
// in the original (OnJsonData's "Invalid JSON data" / "missing or invalid
// 'type' field" branches).
func Decode(data []byte) (Envelope, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode control frame: %w", err)
	}
	if head.Type == nil {
		return Envelope{}, fmt.Errorf("missing or invalid 'type' field")
	}
	return Envelope{Type: *head.Type, raw: data}, nil
}

// HelloAck is the server's handshake reply.
type HelloAck struct {
	SessionID *string `json:"session_id"`
}

func (e Envelope) AsHelloAck() (HelloAck, bool) {
	var v HelloAck
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return HelloAck{}, false
	}
	return v, true
}

// Goodbye carries the session the server is tearing down.
type Goodbye struct {
	SessionID *string `json:"session_id"`
}

func (e Envelope) AsGoodbye() (Goodbye, bool) {
	var v Goodbye
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return Goodbye{}, false
	}
	return v, true
}

// TTS carries playback lifecycle and caption text from the remote voice.
type TTS struct {
	State *string `json:"state"`
	Text  *string `json:"text"`
}

func (e Envelope) AsTTS() (TTS, bool) {
	var v TTS
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return TTS{}, false
	}
	if v.State == nil {
		return TTS{}, false
	}
	return v, true
}

// STT carries the recognized transcript of what the device heard.
type STT struct {
	Text *string `json:"text"`
}

func (e Envelope) AsSTT() (STT, bool) {
	var v STT
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return STT{}, false
	}
	return v, true
}

// LLM carries the model's inferred emotion label.
type LLM struct {
	Emotion *string `json:"emotion"`
}

func (e Envelope) AsLLM() (LLM, bool) {
	var v LLM
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return LLM{}, false
	}
	return v, true
}

// MCP carries a nested JSON-RPC payload for the mcp package to parse.
type MCP struct {
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) AsMCP() (MCP, bool) {
	var v MCP
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return MCP{}, false
	}
	return v, true
}

// IoT carries a passthrough description of the device's exposed
// properties (supplemented from original_source/original teacher
// behavior; no core transition depends on it).
type IoT struct {
	Description any `json:"description"`
	States      any `json:"states"`
}

func (e Envelope) AsIoT() (IoT, bool) {
	var v IoT
	if err := json.Unmarshal(e.raw, &v); err != nil {
		return IoT{}, false
	}
	return v, true
}
