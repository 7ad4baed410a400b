// Package ipc provides client implementation for daemon-client communication.
//
// The client supports:
// - Automatic connection and reconnection
// - Request/response pattern with timeouts
// - Event streaming for real-time updates
// - Thread-safe operations
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient is the client for communicating with the ghostd daemon
type IPCClient struct {
	mu         sync.RWMutex
	conn       net.Conn
	socketPath string
	sessionID  string
	version    string

	// writeMu serializes frame writes. Header and payload go out as
	// separate writes, so concurrent senders would interleave them.
	writeMu sync.Mutex

	// Connection state
	connected     atomic.Bool
	reconnecting  atomic.Bool
	readerRunning atomic.Bool

	// Request handling
	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	// Event handling
	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	// Reconnection
	autoReconnect bool
	reconnectWait time.Duration
	maxReconnect  int

	// Context for shutdown
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Configuration
	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "ghostctl",
		ClientVersion:  "1.0.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  true,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// EventHandler is called when events are received
type EventHandler func(event *Event)

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &IPCClient{
		socketPath:    cfg.SocketPath,
		pending:       make(map[uint32]chan *Message),
		eventChan:     make(chan *Event, 100),
		autoReconnect: cfg.AutoReconnect,
		reconnectWait: cfg.ReconnectWait,
		maxReconnect:  cfg.MaxReconnect,
		ctx:           ctx,
		cancel:        cancel,
		config:        cfg,
	}
}

// Connect establishes a connection to the daemon
func (c *IPCClient) Connect() error {
	if c.ctx.Err() != nil {
		return ErrNotConnected
	}

	c.mu.Lock()

	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}

	var conn net.Conn
	var err error

	if runtime.GOOS == "windows" {
		conn, err = c.connectWindows()
	} else {
		conn, err = c.connectUnix()
	}

	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)

	// One reader per client, even across reconnects. A reconnecting
	// readLoop re-enters Connect and must not spawn a second reader.
	if c.readerRunning.CompareAndSwap(false, true) {
		c.wg.Add(1)
		go c.readLoop()
	}

	// Handshake needs the reader and the request path, so it runs
	// outside the connection lock.
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}

	return nil
}

// connectUnix establishes a Unix socket connection
func (c *IPCClient) connectUnix() (net.Conn, error) {
	dialer := net.Dialer{
		Timeout: c.config.ConnectTimeout,
	}

	conn, err := dialer.Dial("unix", c.socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}

	return conn, nil
}

// Close closes the connection to the daemon. Safe to call more than
// once.
func (c *IPCClient) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.close()

		// Wait for reader to finish
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Reader gone, no more event sends
			close(c.eventChan)
		case <-time.After(2 * time.Second):
		}
	})

	return nil
}

// close closes the connection without signaling shutdown
func (c *IPCClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)

	// Cancel all pending requests
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the session ID assigned by the server
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon version reported at handshake
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetEventHandler sets the handler for streamed events
func (c *IPCClient) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns the event channel for streaming events
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

// handshake performs the initial handshake with the server
func (c *IPCClient) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}

	resp, err := c.request(MsgHandshake, req)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgHandshakeAck {
		return fmt.Errorf("unexpected response type: %d", resp.Header.Type)
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	c.mu.Unlock()

	return nil
}

// request sends a request and waits for a response
func (c *IPCClient) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

// writeMessage writes one frame under the write lock.
func (c *IPCClient) writeMessage(conn net.Conn, msg *Message, deadline time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(deadline))
	return msg.Write(conn)
}

// requestWithTimeout sends a request with a custom timeout
func (c *IPCClient) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	var err error
	if payload != nil {
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.writeMessage(conn, msg, 10*time.Second); err != nil {
		c.handleConnectionError(err)
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// send writes a message without waiting for a response
func (c *IPCClient) send(msgType MessageType, payload any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	var data []byte
	var err error
	if payload != nil {
		data, err = Encode(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	msg := NewMessage(msgType, c.nextReqID.Add(1), data)
	return c.writeMessage(conn, msg, 10*time.Second)
}

// readLoop reads messages from the connection. It exits when the
// connection dies; reconnection runs on its own goroutine because the
// handshake needs a live reader to complete.
func (c *IPCClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			c.readerRunning.Store(false)
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			c.exitForReconnect()
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				c.readerRunning.Store(false)
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendPing()
				continue
			}

			c.handleConnectionError(err)
			c.exitForReconnect()
			return
		}

		c.handleMessage(msg)
	}
}

// exitForReconnect clears the reader slot and, when enabled, hands the
// dead connection to a reconnect goroutine. The flag clears first so
// the next Connect can start a fresh reader.
func (c *IPCClient) exitForReconnect() {
	c.readerRunning.Store(false)
	if c.autoReconnect && c.ctx.Err() == nil {
		go c.tryReconnect()
	}
}

// handleMessage processes an incoming message
func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Ping response, ignore

	case MsgPing:
		// Respond to ping
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			pong := NewMessage(MsgPong, msg.Header.RequestID, nil)
			c.writeMessage(conn, pong, 5*time.Second)
		}

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err == nil {
			select {
			case c.eventChan <- &event:
			default:
				// Channel full, drop event
			}

			c.eventMu.RLock()
			handler := c.eventHandler
			c.eventMu.RUnlock()
			if handler != nil {
				go handler(&event)
			}
		}

	default:
		// Response to a request
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// sendPing sends a ping to keep connection alive
func (c *IPCClient) sendPing() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		msg := NewMessage(MsgPing, c.nextReqID.Add(1), nil)
		c.writeMessage(conn, msg, 5*time.Second)
	}
}

// handleConnectionError handles connection errors
func (c *IPCClient) handleConnectionError(err error) {
	c.close()
}

// tryReconnect attempts to reconnect to the daemon
func (c *IPCClient) tryReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return // Already reconnecting
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.maxReconnect; i++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectWait):
		}

		if err := c.Connect(); err == nil {
			return
		}
	}
}

// decodeResult decodes a response payload, surfacing server errors.
func decodeResult(resp *Message, v any) error {
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("daemon error (code unknown)")
		}
		return fmt.Errorf("daemon error: %s", errResp.Message)
	}
	if v == nil {
		return nil
	}
	return Decode(resp.Payload, v)
}

// High-level API methods

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Status requests the daemon status
func (c *IPCClient) Status(includeConfig bool) (*StatusResponse, error) {
	req := &StatusRequest{
		IncludeConfig: includeConfig,
	}

	resp, err := c.request(MsgStatusRequest, req)
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := decodeResult(resp, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// GetContext queries the focused window's text and caret context
func (c *IPCClient) GetContext(maxChars int) (*GetContextResponse, error) {
	req := &GetContextRequest{
		MaxChars: maxChars,
	}

	resp, err := c.request(MsgGetContext, req)
	if err != nil {
		return nil, err
	}

	var result GetContextResponse
	if err := decodeResult(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// UpdateOverlay shows text on the ghost overlay
func (c *IPCClient) UpdateOverlay(text string) error {
	req := &UpdateOverlayRequest{
		Text: text,
	}

	resp, err := c.request(MsgUpdateOverlay, req)
	if err != nil {
		return err
	}

	var result UpdateOverlayResponse
	if err := decodeResult(resp, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("update overlay failed: %s", result.Error)
	}

	return nil
}

// HideOverlay hides the ghost overlay
func (c *IPCClient) HideOverlay() error {
	resp, err := c.request(MsgHideOverlay, nil)
	if err != nil {
		return err
	}

	var result HideOverlayResponse
	if err := decodeResult(resp, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("hide overlay failed: %s", result.Error)
	}

	return nil
}

// StartMonitor starts the key listener
func (c *IPCClient) StartMonitor() error {
	resp, err := c.request(MsgStartMonitor, nil)
	if err != nil {
		return err
	}

	var result StartMonitorResponse
	if err := decodeResult(resp, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("start monitor failed: %s", result.Error)
	}

	return nil
}

// StopMonitor stops the key listener
func (c *IPCClient) StopMonitor() error {
	resp, err := c.request(MsgStopMonitor, nil)
	if err != nil {
		return err
	}

	var result StopMonitorResponse
	if err := decodeResult(resp, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("stop monitor failed: %s", result.Error)
	}

	return nil
}

// Metrics requests a flat metrics snapshot
func (c *IPCClient) Metrics() (map[string]any, error) {
	resp, err := c.request(MsgMetricsRequest, nil)
	if err != nil {
		return nil, err
	}

	var result MetricsResponse
	if err := decodeResult(resp, &result); err != nil {
		return nil, err
	}

	return result.Metrics, nil
}

// Subscribe subscribes to events. An empty list subscribes to all.
func (c *IPCClient) Subscribe(events []EventType) error {
	req := &SubscribeRequest{
		Events: events,
	}

	resp, err := c.request(MsgSubscribe, req)
	if err != nil {
		return err
	}

	var result SubscribeResponse
	if err := decodeResult(resp, &result); err != nil {
		return err
	}

	if !result.Success {
		return errors.New("subscription failed")
	}

	return nil
}

// Unsubscribe unsubscribes from events
func (c *IPCClient) Unsubscribe() error {
	resp, err := c.request(MsgUnsubscribe, &UnsubscribeRequest{})
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgUnsubscribeResp {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Shutdown asks the daemon to exit. Fire-and-forget: the daemon's
// reply is the connection closing.
func (c *IPCClient) Shutdown() error {
	return c.send(MsgShutdown, nil)
}
