package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivox/voxengine/model"
	"github.com/aivox/voxengine/otaconfig"
	"github.com/aivox/voxengine/wake"
	"github.com/aivox/voxengine/wsclient"
)

// fakeTransport is an in-memory double for the transport interface, letting
// these tests drive the state machine without a real network. Like
// wsclient.Connect, it has an EventConnected queued before it is returned.
type fakeTransport struct {
	events chan wsclient.Event

	mu         sync.Mutex
	sentText   [][]byte
	sentBinary [][]byte
	closed     bool
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{events: make(chan wsclient.Event, 32)}
	f.events <- wsclient.Event{Kind: wsclient.EventConnected}
	return f
}

func (f *fakeTransport) Events() <-chan wsclient.Event { return f.events }

func (f *fakeTransport) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBinary = append(f.sentBinary, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) textFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sentText))
	copy(out, f.sentText)
	return out
}

func (f *fakeTransport) anyTextFrameContains(substrs ...string) bool {
	for _, frame := range f.textFrames() {
		s := string(frame)
		all := true
		for _, sub := range substrs {
			if !strings.Contains(s, sub) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// fakeAudioDevice satisfies both audio.InputDevice and audio.OutputDevice
// with silence in, nowhere out. The short sleep keeps the capture/feed
// goroutines from busy-looping while still letting Stop's internal
// "check the stop channel" polling happen promptly.
type fakeAudioDevice struct{}

func (fakeAudioDevice) ReadPCM(buf []int16) (int, error) {
	time.Sleep(time.Millisecond)
	return len(buf), nil
}

func (fakeAudioDevice) WritePCM(pcm []int16) error { return nil }

// neverFireBackend never reports a wake detection; the default for tests
// that aren't exercising the wake path, so an unrelated test can't be
// flaked by a spurious early wake.
type neverFireBackend struct{}

func (neverFireBackend) Feed(pcm []int16) bool { return false }

// controllableBackend only fires once armed, letting a test trigger the
// wake word at a chosen moment rather than racing session startup.
type controllableBackend struct {
	mu   sync.Mutex
	fire bool
}

func (b *controllableBackend) arm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fire = true
}

func (b *controllableBackend) Feed(pcm []int16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fire {
		b.fire = false
		return true
	}
	return false
}

// newTestSession builds a Session wired with a no-activation config fetch
// and a wake backend that never fires, overridable per test.
func newTestSession(t *testing.T) (*Session, *model.BoundedObserver) {
	t.Helper()
	s := NewSession(DeviceIdentity{ClientID: "client-1", DeviceID: "device-1"})

	obs := model.NewBoundedObserver()
	s.SetObserver(obs)

	s.fetchConfig = func(ctx context.Context, url, uuid string) (*otaconfig.Config, error) {
		return &otaconfig.Config{}, nil
	}
	s.newBackend = func() wake.Backend { return neverFireBackend{} }

	return s, obs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestSessionStartReachesStandbyWithoutActivationCode(t *testing.T) {
	s, _ := newTestSession(t)
	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })
}

func TestSessionStartWithActivationCodeStaysInitted(t *testing.T) {
	s, obs := newTestSession(t)
	s.fetchConfig = func(ctx context.Context, url, uuid string) (*otaconfig.Config, error) {
		return &otaconfig.Config{Activation: otaconfig.Activation{Code: "123456", Message: "scan me"}}, nil
	}
	s.Start(fakeAudioDevice{}, fakeAudioDevice{})

	waitFor(t, func() bool { return s.currentState() == model.StateInitted })

	var sawActivation bool
	for _, e := range obs.PopEvents() {
		if a, ok := e.(model.ActivationEvent); ok {
			assert.Equal(t, "123456", a.Code)
			sawActivation = true
		}
	}
	assert.True(t, sawActivation, "expected an ActivationEvent")
}

func TestSessionLoadProtocolFailureCanRetryViaAdvance(t *testing.T) {
	s, _ := newTestSession(t)
	s.fetchConfig = func(ctx context.Context, url, uuid string) (*otaconfig.Config, error) {
		return nil, assert.AnError
	}
	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateLoadingProtocolFailed })

	s.fetchConfig = func(ctx context.Context, url, uuid string) (*otaconfig.Config, error) {
		return &otaconfig.Config{}, nil
	}
	s.Advance()
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })
}

func TestSessionConnectListenSpeakCycle(t *testing.T) {
	s, obs := newTestSession(t)

	var ft *fakeTransport
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		ft = newFakeTransport()
		assert.Equal(t, "device-1", deviceID)
		assert.Equal(t, "client-1", clientID)
		return ft, nil
	}

	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })

	s.Advance()
	waitFor(t, func() bool { return ft != nil })
	waitFor(t, func() bool { return s.currentState() == model.StateWsConnected })
	waitFor(t, func() bool { return ft.anyTextFrameContains(`"type":"hello"`) })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"hello","session_id":"sess-1"}`)}
	waitFor(t, func() bool { return s.currentState() == model.StateListening })
	waitFor(t, func() bool { return ft.anyTextFrameContains(`"type":"listen"`, `"state":"start"`, `"mode":"auto"`) })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"tts","state":"start"}`)}
	waitFor(t, func() bool { return s.currentState() == model.StateSpeaking })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"tts","state":"sentence_start","text":"hello there"}`)}
	waitFor(t, func() bool {
		for _, e := range obs.PopEvents() {
			if cm, ok := e.(model.ChatMessageEvent); ok && cm.Role == model.RoleAssistant {
				return cm.Content == "hello there"
			}
		}
		return false
	})

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"tts","state":"stop"}`)}
	waitFor(t, func() bool { return s.currentState() == model.StateListening })
}

func TestSessionUserAndEmotionFramesReachObserver(t *testing.T) {
	s, obs := newTestSession(t)
	ft := newFakeTransport()
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		return ft, nil
	}

	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })
	s.Advance()
	waitFor(t, func() bool { return s.currentState() == model.StateWsConnected })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"stt","text":"turn on the lights"}`)}
	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"llm","emotion":"happy"}`)}

	var sawUser, sawEmotion bool
	waitFor(t, func() bool {
		for _, e := range obs.PopEvents() {
			switch v := e.(type) {
			case model.ChatMessageEvent:
				if v.Role == model.RoleUser && v.Content == "turn on the lights" {
					sawUser = true
				}
			case model.EmotionEvent:
				if v.Label == "happy" {
					sawEmotion = true
				}
			}
		}
		return sawUser && sawEmotion
	})
}

func TestSessionMCPToolCallRoundTrip(t *testing.T) {
	s, obs := newTestSession(t)
	ft := newFakeTransport()
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		return ft, nil
	}

	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })
	s.Advance()
	waitFor(t, func() bool { return s.currentState() == model.StateWsConnected })

	ft.events <- wsclient.Event{
		Kind: wsclient.EventTextFrame,
		Data: []byte(`{"type":"mcp","payload":{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"changsha"}}}}`),
	}

	var call model.PendingToolCall
	var found bool
	waitFor(t, func() bool {
		for _, e := range obs.PopEvents() {
			if mc, ok := e.(model.McpToolCallEvent); ok {
				call = mc.Call
				found = true
			}
		}
		return found
	})
	require.Equal(t, "get_weather", call.Name)
	require.Equal(t, int64(7), call.ID)
	require.Equal(t, "changsha", call.Arguments["city"].Str)

	s.SendMCPCallResponse(call.ID, model.NewStringVariant("sunny"))
	waitFor(t, func() bool { return ft.anyTextFrameContains(`"type":"mcp"`, `"sunny"`) })
}

func TestSessionWakeWordTriggersConnectingWithWake(t *testing.T) {
	s, _ := newTestSession(t)
	backend := &controllableBackend{}
	s.newBackend = func() wake.Backend { return backend }

	var ft *fakeTransport
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		ft = newFakeTransport()
		return ft, nil
	}

	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })

	backend.arm()
	waitFor(t, func() bool {
		st := s.currentState()
		return st == model.StateWsConnectingWithWake || st == model.StateWsConnectedWithWake
	})
	waitFor(t, func() bool { return s.currentState() == model.StateWsConnectedWithWake })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"hello","session_id":"sess-2"}`)}
	waitFor(t, func() bool { return ft.anyTextFrameContains(`"state":"detect"`, wakeGreetingText) })
}

func TestSessionContractMethodsAreNoOpsOnIdleSession(t *testing.T) {
	s := NewSession(DeviceIdentity{ClientID: "c", DeviceID: "d"})

	assert.NotPanics(t, func() {
		s.Advance()
		s.SendText("hello")
		s.SendMCPCallResponse(1, model.NewBoolVariant(true))
		s.SendMCPCallError(1, "nope")
	})
}

func TestSessionConfigurationSettersAreNoOpsAfterStart(t *testing.T) {
	s, _ := newTestSession(t)
	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() != model.StateIdle })

	before := s.otaURL
	s.SetOTAURL("https://example.invalid/should-not-apply")
	assert.Equal(t, before, s.otaURL)
}

func TestSessionGoodbyeSessionMismatchIsIgnored(t *testing.T) {
	s, _ := newTestSession(t)
	ft := newFakeTransport()
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		return ft, nil
	}
	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })
	s.Advance()
	waitFor(t, func() bool { return s.currentState() == model.StateWsConnected })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"hello","session_id":"sess-1"}`)}
	waitFor(t, func() bool { return s.currentState() == model.StateListening })

	ft.events <- wsclient.Event{Kind: wsclient.EventTextFrame, Data: []byte(`{"type":"goodbye","session_id":"not-sess-1"}`)}

	// mismatched goodbye changes nothing; the session stays put
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, model.StateListening, s.currentState())
}

func TestSessionIoTFramePassthrough(t *testing.T) {
	s, obs := newTestSession(t)
	ft := newFakeTransport()
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		return ft, nil
	}
	s.Start(fakeAudioDevice{}, fakeAudioDevice{})
	waitFor(t, func() bool { return s.currentState() == model.StateStandby })
	s.Advance()
	waitFor(t, func() bool { return s.currentState() == model.StateWsConnected })

	ft.events <- wsclient.Event{
		Kind: wsclient.EventTextFrame,
		Data: []byte(`{"type":"iot","description":{"light":"bool"},"states":{"light":true}}`),
	}

	waitFor(t, func() bool {
		_, ok := s.IoTState()
		return ok
	})
	state, ok := s.IoTState()
	require.True(t, ok)
	assert.NotNil(t, state.Description)

	var sawEvent bool
	for _, e := range obs.PopEvents() {
		if _, ok := e.(model.IoTStateUpdatedEvent); ok {
			sawEvent = true
		}
	}
	assert.True(t, sawEvent)
}
