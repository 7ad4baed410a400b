// Package ipc provides inter-process communication between the ghostd daemon
// and client applications (CLI, viewer, editor plugins).
//
// The protocol is designed for:
// - Request/response pattern for commands
// - Event streaming for pause and focus updates
// - Fixed 16-byte framing with JSON payloads
// - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x47495043 // "GIPC" - Ghostd IPC
)

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006

	// Status messages (0x01xx)
	MsgStatusRequest   MessageType = 0x0100
	MsgStatusResponse  MessageType = 0x0101
	MsgMetricsRequest  MessageType = 0x0102
	MsgMetricsResponse MessageType = 0x0103

	// Context queries (0x02xx)
	MsgGetContext     MessageType = 0x0200
	MsgGetContextResp MessageType = 0x0201

	// Overlay control (0x03xx)
	MsgUpdateOverlay     MessageType = 0x0300
	MsgUpdateOverlayResp MessageType = 0x0301
	MsgHideOverlay       MessageType = 0x0302
	MsgHideOverlayResp   MessageType = 0x0303

	// Monitor control (0x04xx)
	MsgStartMonitor     MessageType = 0x0400
	MsgStartMonitorResp MessageType = 0x0401
	MsgStopMonitor      MessageType = 0x0402
	MsgStopMonitorResp  MessageType = 0x0403

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventTypingPaused   EventType = 0x0001
	EventFocusChanged   EventType = 0x0002
	EventEngineError    EventType = 0x0003
	EventConfigChanged  EventType = 0x0004
	EventDaemonShutdown EventType = 0x0005
)

// allEventTypes is the subscription set when a client asks for everything.
var allEventTypes = []EventType{
	EventTypingPaused,
	EventFocusChanged,
	EventEngineError,
	EventConfigChanged,
	EventDaemonShutdown,
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x01 // Payload is JSON
)

// MaxPayloadSize bounds a single message. Context text is capped at a
// few KB; anything near this limit is a framing error.
const MaxPayloadSize = 16 * 1024 * 1024

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version,omitempty"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Platform        string `json:"platform"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrNotPermitted   = 4
	ErrInternalError  = 5
	ErrNotInitialized = 6
	ErrNotRunning     = 7
)

// StatusRequest requests daemon status
type StatusRequest struct {
	IncludeConfig bool `json:"include_config,omitempty"`
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version         string         `json:"version"`
	Uptime          time.Duration  `json:"uptime"`
	StartedAt       time.Time      `json:"started_at"`
	Platform        string         `json:"platform"`
	Monitoring      bool           `json:"monitoring"`
	OverlayVisible  bool           `json:"overlay_visible"`
	ListenerBackend string         `json:"listener_backend"`
	ReaderBackend   string         `json:"reader_backend"`
	Clients         int            `json:"clients"`
	Subscribers     int            `json:"subscribers"`
	Config          map[string]any `json:"config,omitempty"`
}

// GetContextRequest requests the text/caret context of the focused window
type GetContextRequest struct {
	MaxChars int `json:"max_chars,omitempty"`
}

// CaretRect is the caret bounding box in screen coordinates
type CaretRect struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Valid  bool `json:"valid"`
}

// ContextInfo is the resolved context of the focused window
type ContextInfo struct {
	Text        string    `json:"text"`
	ProcessName string    `json:"process_name"`
	WindowTitle string    `json:"window_title"`
	Caret       CaretRect `json:"caret"`
	CapturedAt  time.Time `json:"captured_at"`
}

// GetContextResponse contains the focused-window context
type GetContextResponse struct {
	Success bool         `json:"success"`
	Context *ContextInfo `json:"context,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// UpdateOverlayRequest shows text on the ghost overlay
type UpdateOverlayRequest struct {
	Text string `json:"text"`
}

// UpdateOverlayResponse acknowledges an overlay update
type UpdateOverlayResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HideOverlayResponse acknowledges an overlay hide
type HideOverlayResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StartMonitorResponse acknowledges monitor start
type StartMonitorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StopMonitorResponse acknowledges monitor stop
type StopMonitorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MetricsResponse contains a flat metrics snapshot
type MetricsResponse struct {
	Metrics map[string]any `json:"metrics"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events,omitempty"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeRequest requests event unsubscription
type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// Event is a streamed event. Data carries the engine's payload
// verbatim, so pause events keep the callback JSON shape.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
