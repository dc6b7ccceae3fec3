package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aivox/voxengine/audio"
	"github.com/aivox/voxengine/log"
	"github.com/aivox/voxengine/model"
	"github.com/aivox/voxengine/otaconfig"
	"github.com/aivox/voxengine/protocol"
)

const dialTimeout = 10 * time.Second

// advanceInternal runs on the engine queue goroutine, matching
// EngineImpl::AdvanceInternal's per-state dispatch exactly.
func (s *Session) advanceInternal() {
	log.Infof("advance: state=%s", s.state)
	switch s.state {
	case model.StateInitted, model.StateLoadingProtocolFailed:
		s.changeState(model.StateLoadingProtocol)
		s.networkQueue.Enqueue(func() { s.loadProtocol() })
	case model.StateStandby:
		if s.connectWebSocket() {
			s.changeState(model.StateWsConnecting)
		}
	case model.StateListening:
		s.disconnectWebSocket()
	case model.StateSpeaking:
		s.abortSpeaking("")
	}
}

// onWakeUp runs on the engine queue goroutine when the wake detector fires,
// matching EngineImpl::OnWakeUp.
func (s *Session) onWakeUp() {
	log.Infof("wake up: state=%s", s.state)
	switch s.state {
	case model.StateInitted, model.StateLoadingProtocolFailed:
		s.changeState(model.StateLoadingProtocol)
		s.networkQueue.Enqueue(func() { s.loadProtocol() })
	case model.StateStandby:
		if s.connectWebSocket() {
			s.changeState(model.StateWsConnectingWithWake)
		}
	case model.StateSpeaking:
		s.abortSpeaking("wake_word_detected")
	}
}

// changeState updates the internal state, coarsens it to the ChatState an
// observer sees, and pushes a StateChangedEvent only when the coarsened
// value actually moves, matching EngineImpl::ChangeState.
func (s *Session) changeState(newState model.State) {
	newChat := model.Coarsen(newState)
	if newChat != s.chatState && s.observer != nil {
		s.observer.PushEvent(model.StateChangedEvent{Old: s.chatState, New: newChat})
	}
	s.state = newState
	s.chatState = newChat
	s.stateAtomic.Store(int32(newState))
}

// loadProtocol runs on the network queue: it fetches configuration and
// hands the result back to the engine queue, matching EngineImpl::LoadProtocol.
func (s *Session) loadProtocol() {
	ctx, cancel := context.WithTimeout(context.Background(), otaFetchTimeout)
	defer cancel()

	cfg, err := s.fetchConfig(ctx, s.otaURL, s.identity.ClientID)
	if err != nil {
		log.Debugf("fetch config failed: %v", err)
		cfg = nil
	}
	s.engineQueue.Enqueue(func() { s.onLoadProtocol(cfg) })
}

// onLoadProtocol runs on the engine queue, matching EngineImpl::OnLoadProtocol.
func (s *Session) onLoadProtocol(cfg *otaconfig.Config) {
	if s.state != model.StateLoadingProtocol {
		log.Warnf("invalid state: %s", s.state)
		return
	}
	if cfg == nil {
		s.changeState(model.StateLoadingProtocolFailed)
		return
	}

	log.Infof("mqtt endpoint: %s", cfg.Mqtt.Endpoint)
	log.Infof("activation code: %s", cfg.Activation.Code)

	if cfg.Activation.Code != "" {
		if s.observer != nil {
			s.observer.PushEvent(model.ActivationEvent{Code: cfg.Activation.Code, Message: cfg.Activation.Message})
		}
		s.changeState(model.StateInitted)
		return
	}
	s.changeState(model.StateStandby)
}

// startListening sends the listen/start frame and swaps in a fresh input
// pipeline, matching EngineImpl::StartListening including its mode:"auto"
// payload and backpressure-aware audio send.
func (s *Session) startListening() {
	if s.state != model.StateWsConnected && s.state != model.StateWsConnectedWithWake && s.state != model.StateSpeaking {
		log.Infof("invalid state: %s", s.state)
		return
	}

	data, err := json.Marshal(protocol.NewListenStart(s.remoteSessionID))
	if err != nil {
		log.Errorf("encode listen start frame: %v", err)
		return
	}
	s.sendTextInternal(data)

	s.teardownOutputPipeline()
	s.wakeDetector.Stop()

	in, err := audio.NewInputPipeline(s.inputDevice, func(frame model.AudioFrame) {
		// Generalizes the original's
		// heap_caps_get_total_size(MALLOC_CAP_SPIRAM)==0 && queue.size()>5
		// guard: that check is purely an ESP32 external-RAM detection, not
		// portable, so this keeps only the queue-depth half.
		if s.networkQueue.Len() > networkQueueBacklog {
			return
		}
		s.networkQueue.Enqueue(func() {
			if s.tr == nil {
				return
			}
			if err := s.tr.SendBinary(frame); err != nil {
				log.Errorf("send audio frame failed: %v", err)
			}
		})
	})
	if err != nil {
		log.Errorf("create input pipeline: %v", err)
		return
	}
	s.inputPipeline = in
	s.changeState(model.StateListening)
}

// abortSpeaking cancels an in-flight turn, matching both AbortSpeaking
// overloads in the original (reason is empty for the no-reason case).
func (s *Session) abortSpeaking(reason string) {
	if s.state != model.StateSpeaking {
		log.Errorf("invalid state: %s", s.state)
		return
	}
	data, err := json.Marshal(protocol.NewAbort(s.remoteSessionID, reason))
	if err != nil {
		log.Errorf("encode abort frame: %v", err)
		return
	}
	s.sendTextInternal(data)
}

// connectWebSocket dials the transport asynchronously, matching
// EngineImpl::ConnectWebSocket's non-blocking esp_websocket_client_start:
// the dial itself never blocks the engine queue, and the resulting
// connected/disconnected events arrive back on it exactly the way the
// ESP websocket client's event callback does.
func (s *Session) connectWebSocket() bool {
	if s.state != model.StateStandby {
		log.Errorf("invalid state: %s", s.state)
		return false
	}

	headers := http.Header{}
	for k, v := range s.wsHeaders {
		headers.Set(k, v)
	}
	wsURL, deviceID, clientID := s.wsURL, s.identity.DeviceID, s.identity.ClientID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		tr, err := s.dial(ctx, wsURL, headers, deviceID, clientID)
		if err != nil {
			log.Errorf("websocket dial failed: %v", err)
			s.engineQueue.Enqueue(func() { s.onWebSocketDisconnected() })
			return
		}
		s.engineQueue.Enqueue(func() {
			s.tr = tr
			go s.transportEventLoop(tr)
		})
	}()
	return true
}

// disconnectWebSocket tears down audio and closes the transport, matching
// EngineImpl::DisconnectWebSocket. It deliberately does not change state
// itself — as in the original, the Standby transition only happens once
// the transport's disconnected event arrives asynchronously and
// onWebSocketDisconnected runs.
func (s *Session) disconnectWebSocket() {
	s.teardownAudio()
	s.restartWakeDetector()
	s.closeTransport()
}

// teardownAudio stops and clears both audio pipelines. Shared by
// disconnectWebSocket and onWebSocketDisconnected, which duplicate this
// cleanup in the original (DisconnectWebSocket and OnWebSocketDisconnected
// both reset the same two engines).
func (s *Session) teardownAudio() {
	s.teardownInputPipeline()
	s.teardownOutputPipeline()
}

func (s *Session) teardownInputPipeline() {
	if s.inputPipeline != nil {
		s.inputPipeline.Stop()
		s.inputPipeline = nil
	}
}

func (s *Session) teardownOutputPipeline() {
	if s.outputPipeline != nil {
		s.outputPipeline.Stop()
		s.outputPipeline = nil
	}
}

func (s *Session) restartWakeDetector() {
	s.wakeDetector.Start(func() {
		s.engineQueue.Enqueue(func() { s.onWakeUp() })
	})
}

func (s *Session) closeTransport() {
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			log.Errorf("close transport: %v", err)
		}
		s.tr = nil
	}
}
