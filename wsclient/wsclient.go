// Package wsclient dials out to a remote voice service and speaks its
// WebSocket framing, matching
// original_source/src/core/ai_vox_engine_impl.cpp's esp_websocket_client
// usage (ConnectWebSocket/OnWebsocketEvent). The read-pump/event-channel
// structuring and the write-mutex-plus-deadline discipline mirror a
// server-side WebSocket connection handler's pump/send split, inverted
// here from accepting an inbound upgrade to dialing an outbound client.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aivox/voxengine/log"
)

// EventKind discriminates the values delivered on Client.Events().
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventTextFrame
	EventBinaryFrame
	EventError
)

// Event is a single transport occurrence, matching the discrete
// WEBSOCKET_EVENT_* cases EngineImpl::OnWebsocketEvent switches on.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

const (
	writeDeadlineMin = 3 * time.Second
	writeDeadlineMax = 10 * time.Second
	latencyWarnAfter = 100 * time.Millisecond

	// maxMessageBytes bounds any single reassembled message. gorilla/
	// websocket's Conn exposes fragmented messages only through
	// NextReader/ReadMessage, both of which reassemble fragments
	// transparently and surface no FIN bit a caller could reject on.
	// This is the compensating control for a message built out of
	// runaway or malicious fragmentation: past this size, ReadMessage
	// fails loudly instead of reassembling indefinitely.
	maxMessageBytes = 1 << 20
)

// Client is a single WebSocket connection to the remote voice service.
// Exactly one goroutine (started by Connect) reads from the underlying
// connection; SendText/SendBinary may be called concurrently from any
// goroutine and serialize through writeMu, since gorilla/websocket
// connections are not safe for concurrent writers.
type Client struct {
	events chan Event

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// Events returns the channel transport occurrences are delivered on.
func (c *Client) Events() <-chan Event { return c.events }

// Connect dials url, appending the mandated Protocol-Version/Device-Id/
// Client-Id headers to whatever the caller supplied. The event channel
// is ready to receive before Connect returns; an EventConnected is
// delivered as soon as the handshake completes.
func Connect(ctx context.Context, dialer *websocket.Dialer, url string, headers http.Header, deviceID, clientID string) (*Client, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Protocol-Version", "1")
	headers.Set("Device-Id", deviceID)
	headers.Set("Client-Id", clientID)

	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	c := &Client{
		events: make(chan Event, 16),
		conn:   conn,
		closed: make(chan struct{}),
	}
	go c.readPump()
	c.events <- Event{Kind: EventConnected}
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.emitDisconnected()
	}()

	for {
		messageType, reader, err := c.conn.NextReader()
		if err != nil {
			if isMessageTooBig(err) {
				log.Errorf("websocket message exceeded %d bytes, closing connection: %v", maxMessageBytes, err)
				c.emitError(err)
			} else if !isExpectedClose(err) {
				log.Errorf("websocket read error: %v", err)
				c.emitError(err)
			}
			return
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			if isMessageTooBig(err) {
				log.Errorf("websocket message exceeded %d bytes, closing connection: %v", maxMessageBytes, err)
			} else {
				log.Errorf("websocket read error: %v", err)
			}
			c.emitError(err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.emit(Event{Kind: EventTextFrame, Data: data})
		case websocket.BinaryMessage:
			c.emit(Event{Kind: EventBinaryFrame, Data: data})
		default:
			// ignore ping/pong/close control frames handled by gorilla internally
		}
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// isMessageTooBig reports whether err is SetReadLimit's rejection of an
// oversized message, either the local "read limit exceeded" error
// returned mid-read or the CloseMessageTooBig the peer echoes back once
// the library aborts the connection on our behalf.
func isMessageTooBig(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		return true
	}
	return strings.Contains(err.Error(), "read limit exceeded")
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.closed:
	}
}

func (c *Client) emitError(err error) {
	c.emit(Event{Kind: EventError, Err: err})
}

// emitDisconnected delivers EventDisconnected even after Close, as long as
// the event buffer has room, so a reader waiting for it after a local Close
// still sees it.
func (c *Client) emitDisconnected() {
	select {
	case c.events <- Event{Kind: EventDisconnected}:
		return
	default:
	}
	c.emit(Event{Kind: EventDisconnected})
}

// SendText writes a JSON control frame, matching SendTextInternal's 10s
// deadline in the original.
func (c *Client) SendText(data []byte) error {
	return c.send(websocket.TextMessage, data, writeDeadlineMax)
}

// SendBinary writes an Opus audio frame, matching the original audio
// send's tighter 3s deadline — a slow link should drop a stale audio
// frame sooner than it drops a control message.
func (c *Client) SendBinary(data []byte) error {
	return c.send(websocket.BinaryMessage, data, writeDeadlineMin)
}

func (c *Client) send(messageType int, data []byte, deadline time.Duration) error {
	start := time.Now()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if elapsed := time.Since(start); elapsed > latencyWarnAfter {
		log.Warnf("websocket send took %s for %d bytes (no backpressure action taken)", elapsed, len(data))
	}
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
