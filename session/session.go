// Package session implements the conversational engine: the state
// machine coordinating WebSocket handshake, duplex audio switching, wake
// activation, and teardown, grounded throughout on
// original_source/src/core/ai_vox_engine_impl.{h,cpp} (EngineImpl), with
// the surrounding Go idiom (channel-based response pump, context-scoped
// dial and fetch timeouts) following this module's WebSocket transport
// layer.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aivox/voxengine/audio"
	"github.com/aivox/voxengine/log"
	"github.com/aivox/voxengine/mcp"
	"github.com/aivox/voxengine/model"
	"github.com/aivox/voxengine/otaconfig"
	"github.com/aivox/voxengine/protocol"
	"github.com/aivox/voxengine/taskqueue"
	"github.com/aivox/voxengine/wake"
	"github.com/aivox/voxengine/wsclient"
)

// appVersion stands in for esp_app_get_description()->version, reported
// to the remote model in the MCP "initialize" handshake.
const appVersion = "0.1.0"

const (
	defaultOTAURL       = "https://api.tenclass.net/xiaozhi/ota/"
	defaultWebSocketURL = "wss://api.tenclass.net/xiaozhi/v1/"
	otaFetchTimeout     = 10 * time.Second
	networkQueueBacklog = 5 // audio frames queued before the pipeline starts dropping, matching the original's queue-depth guard
	wakeGreetingText    = "你好小智"
)

// transport is the narrow surface Session needs from a live connection;
// *wsclient.Client satisfies it. Tests substitute a fake to exercise the
// state machine without a network.
type transport interface {
	Events() <-chan wsclient.Event
	SendText(data []byte) error
	SendBinary(data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error)

type fetchConfigFunc func(ctx context.Context, url, uuid string) (*otaconfig.Config, error)

// Session is the engine: the public contract methods below are all
// idempotent no-ops outside their legal calling states.
type Session struct {
	mu sync.Mutex // guards configuration fields mutable only before Start

	identity  DeviceIdentity
	observer  model.Observer
	otaURL    string
	wsURL     string
	wsHeaders map[string]string
	registry  *mcp.Registry

	// stateAtomic mirrors state for lock-free reads from contract methods
	// called off the engine-queue goroutine (SetObserver et al. still take
	// mu for their pre-Start writes; this is purely the "are we still
	// Idle" check every contract method performs).
	stateAtomic atomic.Int32

	// Fields below this point are touched only by the engine-queue
	// goroutine once Start has run — see package doc and DESIGN.md's
	// resolution of the reentrant-mutex open question.
	state           model.State
	chatState       model.ChatState
	remoteSessionID string

	engineQueue  *taskqueue.ActiveQueue
	networkQueue *taskqueue.ActiveQueue

	inputDevice  audio.InputDevice
	outputDevice audio.OutputDevice

	inputPipeline  *audio.InputPipeline
	outputPipeline *audio.OutputPipeline
	wakeDetector   *wake.Detector

	tr transport

	iotMu   sync.RWMutex
	iot     model.IoTState
	haveIoT bool

	dial        dialFunc
	fetchConfig fetchConfigFunc
	newBackend  func() wake.Backend
}

// NewSession constructs an idle Session for the given device identity.
// Callers typically build identity once per process via NewDeviceIdentity;
// its ClientID is a fresh uuid each time.
func NewSession(identity DeviceIdentity) *Session {
	s := &Session{
		identity: identity,
		otaURL:   defaultOTAURL,
		wsURL:    defaultWebSocketURL,
		wsHeaders: map[string]string{
			"Authorization": "Bearer test-token",
		},
		registry:    mcp.NewRegistry(),
		state:       model.StateIdle,
		chatState:   model.ChatIdle,
		newBackend:  func() wake.Backend { return wake.NewEnergyBackend(wake.DefaultEnergyThreshold) },
		fetchConfig: func(ctx context.Context, url, uuid string) (*otaconfig.Config, error) { return otaconfig.Fetch(ctx, nil, url, uuid) },
	}
	s.dial = func(ctx context.Context, url string, headers http.Header, deviceID, clientID string) (transport, error) {
		return wsclient.Connect(ctx, nil, url, headers, deviceID, clientID)
	}
	s.stateAtomic.Store(int32(model.StateIdle))
	return s
}

func (s *Session) currentState() model.State {
	return model.State(s.stateAtomic.Load())
}

// SetObserver registers the sink for session events. A no-op outside
// StateIdle, matching EngineImpl::SetObserver.
func (s *Session) SetObserver(o model.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateIdle {
		return
	}
	s.observer = o
}

// SetOTAURL overrides the configuration-fetch endpoint. A no-op outside
// StateIdle, matching EngineImpl::SetOtaUrl.
func (s *Session) SetOTAURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateIdle {
		return
	}
	s.otaURL = url
}

// ConfigureWebSocket overrides the transport URL and merges additional
// headers into the defaults. A no-op outside StateIdle, matching
// EngineImpl::ConfigWebsocket.
func (s *Session) ConfigureWebSocket(url string, headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateIdle {
		return
	}
	s.wsURL = url
	for k, v := range headers {
		s.wsHeaders[k] = v
	}
}

// AddMCPTool registers a tool the remote model may call. A no-op outside
// StateIdle, matching EngineImpl::AddMcpTool.
func (s *Session) AddMCPTool(name string, tool mcp.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateIdle {
		return
	}
	s.registry.AddTool(name, tool)
}

// Start transitions the session out of Idle, launches the engine and
// network task queues, and kicks off configuration loading. A no-op
// outside StateIdle, matching EngineImpl::Start.
func (s *Session) Start(inputDevice audio.InputDevice, outputDevice audio.OutputDevice) {
	s.mu.Lock()
	if s.state != model.StateIdle {
		s.mu.Unlock()
		return
	}
	s.inputDevice = inputDevice
	s.outputDevice = outputDevice
	s.mu.Unlock()

	s.engineQueue = taskqueue.NewActiveQueue("engine")
	s.networkQueue = taskqueue.NewActiveQueue("network")

	s.wakeDetector = wake.New(inputDevice, s.newBackend())
	s.restartWakeDetector()

	s.changeState(model.StateInitted)
	s.changeState(model.StateLoadingProtocol)
	s.networkQueue.Enqueue(func() { s.loadProtocol() })
}

// Advance asks the engine to proceed along its current state's natural
// next step (connect, disconnect, or abort, depending on where it is). A
// no-op in StateIdle, matching EngineImpl::Advance.
func (s *Session) Advance() {
	if s.currentState() == model.StateIdle {
		return
	}
	s.engineQueue.Enqueue(func() { s.advanceInternal() })
}

// SendText forwards a pre-serialized control message as-is. A no-op in
// StateIdle, matching EngineImpl::SendText.
func (s *Session) SendText(text string) {
	if s.currentState() == model.StateIdle {
		return
	}
	s.sendTextInternal([]byte(text))
}

// SendMCPCallResponse completes a pending tool call with a success value.
// A no-op in StateIdle, matching EngineImpl::SendMcpCallResponse.
func (s *Session) SendMCPCallResponse(id int64, value model.Variant) {
	if s.currentState() == model.StateIdle {
		return
	}
	s.engineQueue.Enqueue(func() {
		s.sendMCPFrame(mcp.BuildCallResponse(id, value))
	})
}

// SendMCPCallError completes a pending tool call with an error. A no-op
// in StateIdle, matching EngineImpl::SendMcpCallError.
func (s *Session) SendMCPCallError(id int64, message string) {
	if s.currentState() == model.StateIdle {
		return
	}
	s.engineQueue.Enqueue(func() {
		s.sendMCPFrame(mcp.BuildCallError(id, message))
	})
}

// IoTState returns the last description/states payload received from an
// inbound "iot" frame, if any.
func (s *Session) IoTState() (model.IoTState, bool) {
	s.iotMu.RLock()
	defer s.iotMu.RUnlock()
	return s.iot, s.haveIoT
}

func (s *Session) sendMCPFrame(resp *mcp.Response) {
	data, err := json.Marshal(protocol.NewMCP(s.remoteSessionID, resp))
	if err != nil {
		log.Errorf("encode mcp response: %v", err)
		return
	}
	s.sendTextInternal(data)
}

func (s *Session) sendTextInternal(data []byte) {
	s.networkQueue.Enqueue(func() {
		if s.tr == nil {
			return
		}
		if err := s.tr.SendText(data); err != nil {
			log.Errorf("send text failed: %v", err)
		}
	})
}
