package session

import (
	"encoding/json"

	"github.com/aivox/voxengine/audio"
	"github.com/aivox/voxengine/log"
	"github.com/aivox/voxengine/mcp"
	"github.com/aivox/voxengine/model"
	"github.com/aivox/voxengine/protocol"
	"github.com/aivox/voxengine/wsclient"
)

const audioFrameDurationMs = 60

// transportEventLoop reads every occurrence off tr and re-enqueues the
// engine-facing reaction onto the engine queue, matching the original's
// OnWebsocketEvent callback which does the same from the ESP event-task
// context. It exits once the transport reports disconnected.
func (s *Session) transportEventLoop(tr transport) {
	for ev := range tr.Events() {
		switch ev.Kind {
		case wsclient.EventConnected:
			s.engineQueue.Enqueue(func() { s.onWebSocketConnected() })

		case wsclient.EventDisconnected:
			s.engineQueue.Enqueue(func() { s.onWebSocketDisconnected() })
			return

		case wsclient.EventTextFrame:
			data := ev.Data
			s.engineQueue.Enqueue(func() {
				if s.observer != nil {
					s.observer.PushEvent(model.TextReceivedEvent{Content: string(data)})
				}
				s.onJSONData(data)
			})

		case wsclient.EventBinaryFrame:
			data := ev.Data
			s.engineQueue.Enqueue(func() { s.onAudioFrame(data) })

		case wsclient.EventError:
			log.Errorf("websocket transport error: %v", ev.Err)
		}
	}
}

// onWebSocketConnected runs on the engine queue, matching
// EngineImpl::OnWebSocketConnected.
func (s *Session) onWebSocketConnected() {
	switch s.state {
	case model.StateWsConnecting:
		s.changeState(model.StateWsConnected)
	case model.StateWsConnectingWithWake:
		s.changeState(model.StateWsConnectedWithWake)
	default:
		log.Errorf("invalid state: %s", s.state)
		return
	}

	data, err := json.Marshal(protocol.NewHello(audioFrameDurationMs))
	if err != nil {
		log.Errorf("encode hello frame: %v", err)
		return
	}
	s.sendTextInternal(data)
}

// onWebSocketDisconnected runs on the engine queue, matching
// EngineImpl::OnWebSocketDisconnected.
func (s *Session) onWebSocketDisconnected() {
	s.teardownAudio()
	s.closeTransport()
	s.restartWakeDetector()
	s.changeState(model.StateStandby)
}

// onJSONData dispatches a decoded control frame, matching
// EngineImpl::OnJsonData's type switch.
func (s *Session) onJSONData(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	log.Infof("got type: %s", env.Type)

	switch env.Type {
	case "hello":
		s.onHello(env)
	case "goodbye":
		s.onGoodbye(env)
	case "tts":
		s.onTTS(env)
	case "stt":
		s.onSTT(env)
	case "llm":
		s.onLLM(env)
	case "mcp":
		s.onMCP(env)
	case "iot":
		s.onIoT(env)
	default:
		log.Errorf("unknown type: %s", env.Type)
	}
}

func (s *Session) onHello(env protocol.Envelope) {
	if s.state != model.StateWsConnected && s.state != model.StateWsConnectedWithWake {
		log.Errorf("invalid state: %s", s.state)
		return
	}
	wasWake := s.state == model.StateWsConnectedWithWake

	if ack, ok := env.AsHelloAck(); ok && ack.SessionID != nil {
		s.remoteSessionID = *ack.SessionID
		log.Infof("got session id: %s", s.remoteSessionID)
	}

	s.startListening()

	if wasWake {
		data, err := json.Marshal(protocol.NewListenDetect(s.remoteSessionID, wakeGreetingText))
		if err != nil {
			log.Errorf("encode listen detect frame: %v", err)
			return
		}
		s.sendTextInternal(data)
	}
}

func (s *Session) onGoodbye(env protocol.Envelope) {
	gb, ok := env.AsGoodbye()
	if ok && gb.SessionID != nil && *gb.SessionID != s.remoteSessionID {
		log.Warnf("session id mismatch, ignoring goodbye, session id: %s, current session id: %s", *gb.SessionID, s.remoteSessionID)
		return
	}
}

func (s *Session) onTTS(env protocol.Envelope) {
	tts, ok := env.AsTTS()
	if !ok {
		log.Errorf("missing or invalid 'state' field in JSON data")
		return
	}
	log.Infof("tts/%s", *tts.State)

	switch *tts.State {
	case "start":
		if s.state == model.StateSpeaking {
			log.Warnf("already in speaking")
			return
		}
		if s.state != model.StateListening {
			log.Warnf("on tts start in invalid state: %s", s.state)
			return
		}

		s.teardownInputPipeline()
		s.restartWakeDetector()

		out, err := audio.NewOutputPipeline(s.outputDevice)
		if err != nil {
			log.Errorf("create output pipeline: %v", err)
			return
		}
		s.outputPipeline = out
		s.changeState(model.StateSpeaking)

	case "stop":
		if s.outputPipeline != nil {
			s.outputPipeline.NotifyDataEnd(func() {
				s.engineQueue.Enqueue(func() { s.onAudioOutputDataConsumed() })
			})
		}

	case "sentence_start":
		if tts.Text != nil {
			log.Infof("<< %s", *tts.Text)
			if s.observer != nil {
				s.observer.PushEvent(model.ChatMessageEvent{Role: model.RoleAssistant, Content: *tts.Text})
			}
		}

	case "sentence_end":
		// nothing
	}
}

func (s *Session) onSTT(env protocol.Envelope) {
	stt, ok := env.AsSTT()
	if !ok || stt.Text == nil {
		return
	}
	log.Infof(">> %s", *stt.Text)
	if s.observer != nil {
		s.observer.PushEvent(model.ChatMessageEvent{Role: model.RoleUser, Content: *stt.Text})
	}
}

func (s *Session) onLLM(env protocol.Envelope) {
	llm, ok := env.AsLLM()
	if !ok || llm.Emotion == nil {
		return
	}
	log.Infof("emotion: %s", *llm.Emotion)
	if s.observer != nil {
		s.observer.PushEvent(model.EmotionEvent{Label: *llm.Emotion})
	}
}

func (s *Session) onMCP(env protocol.Envelope) {
	m, ok := env.AsMCP()
	if !ok {
		return
	}
	req, err := mcp.ParseRequest(m.Payload)
	if err != nil {
		log.Errorf("%v", err)
		return
	}

	resp, pending, err := mcp.Handle(s.registry, appVersion, req)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	if resp != nil {
		s.sendMCPFrame(resp)
	}
	if pending != nil && s.observer != nil {
		s.observer.PushEvent(model.McpToolCallEvent{Call: *pending})
	}
}

// onIoT handles the "iot" passthrough frame: no state transition depends
// on it, it only stores the latest description/states payload and
// notifies the observer.
func (s *Session) onIoT(env protocol.Envelope) {
	iot, ok := env.AsIoT()
	if !ok {
		return
	}
	state := model.IoTState{Description: iot.Description, States: iot.States}

	s.iotMu.Lock()
	s.iot = state
	s.haveIoT = true
	s.iotMu.Unlock()

	if s.observer != nil {
		s.observer.PushEvent(model.IoTStateUpdatedEvent{State: state})
	}
}

func (s *Session) onAudioFrame(data []byte) {
	if s.outputPipeline != nil {
		s.outputPipeline.Write(model.AudioFrame(data))
	}
}

// onAudioOutputDataConsumed runs on the engine queue, matching
// EngineImpl::OnAudioOutputDataConsumed.
func (s *Session) onAudioOutputDataConsumed() {
	if s.state != model.StateSpeaking {
		log.Debugf("invalid state: %s", s.state)
		return
	}
	s.startListening()
}
