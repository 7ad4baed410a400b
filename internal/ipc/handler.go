// Package ipc provides the daemon handler implementation.
//
// The handler processes IPC messages and drives the ghost engine:
// monitor control, context queries, overlay updates, and metrics.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"ghostd/internal/config"
	"ghostd/internal/metrics"
)

// Engine is the surface the handler drives. The ghost engine satisfies
// it through a thin adapter in the daemon.
type Engine interface {
	StartMonitoring() error
	StopMonitoring() error
	Monitoring() bool
	UpdateOverlay(text string) error
	HideOverlay() error
	OverlayVisible() bool
	QueryContext(maxChars int) (*ContextInfo, error)
	Backends() (listener, reader string)
}

// DaemonHandler implements the Handler interface for the ghostd daemon
type DaemonHandler struct {
	mu        sync.RWMutex
	version   string
	startedAt time.Time

	engine   Engine
	metrics  *metrics.EngineMetrics
	configFn func() *config.Config
	statsFn  func() (clients, subscribers int)
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Version string
	Engine  Engine
	Metrics *metrics.EngineMetrics
	Config  func() *config.Config
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	return &DaemonHandler{
		version:   cfg.Version,
		startedAt: time.Now(),
		engine:    cfg.Engine,
		metrics:   cfg.Metrics,
		configFn:  cfg.Config,
	}
}

// SetStats sets the function used to report connection counts in
// status responses. The server owns those numbers.
func (h *DaemonHandler) SetStats(fn func() (clients, subscribers int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statsFn = fn
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, client, msg)

	case MsgGetContext:
		return h.handleGetContext(ctx, client, msg)

	case MsgUpdateOverlay:
		return h.handleUpdateOverlay(ctx, client, msg)

	case MsgHideOverlay:
		return h.handleHideOverlay(ctx, client, msg)

	case MsgStartMonitor:
		return h.handleStartMonitor(ctx, client, msg)

	case MsgStopMonitor:
		return h.handleStopMonitor(ctx, client, msg)

	case MsgMetricsRequest:
		return h.handleMetrics(ctx, client, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

// handleStatus handles status requests
func (h *DaemonHandler) handleStatus(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req StatusRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	h.mu.RLock()
	statsFn := h.statsFn
	h.mu.RUnlock()

	resp := &StatusResponse{
		Version:   h.version,
		Uptime:    time.Since(h.startedAt),
		StartedAt: h.startedAt,
		Platform:  runtime.GOOS,
	}

	if h.engine != nil {
		resp.Monitoring = h.engine.Monitoring()
		resp.OverlayVisible = h.engine.OverlayVisible()
		resp.ListenerBackend, resp.ReaderBackend = h.engine.Backends()
	}

	if statsFn != nil {
		resp.Clients, resp.Subscribers = statsFn()
	}

	if req.IncludeConfig && h.configFn != nil {
		if cfg := h.configFn(); cfg != nil {
			resp.Config = configToMap(cfg)
		}
	}

	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

// handleGetContext resolves the focused window's text and caret context
func (h *DaemonHandler) handleGetContext(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req GetContextRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	if h.engine == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotInitialized, "engine not initialized"), nil
	}

	resp := &GetContextResponse{}
	info, err := h.engine.QueryContext(req.MaxChars)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = true
		resp.Context = info
	}

	return NewResponse(MsgGetContextResp, msg.Header.RequestID, resp)
}

// handleUpdateOverlay shows text on the overlay
func (h *DaemonHandler) handleUpdateOverlay(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req UpdateOverlayRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
	}

	if h.engine == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotInitialized, "engine not initialized"), nil
	}

	resp := &UpdateOverlayResponse{Success: true}
	if err := h.engine.UpdateOverlay(req.Text); err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}

	return NewResponse(MsgUpdateOverlayResp, msg.Header.RequestID, resp)
}

// handleHideOverlay hides the overlay
func (h *DaemonHandler) handleHideOverlay(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.engine == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotInitialized, "engine not initialized"), nil
	}

	resp := &HideOverlayResponse{Success: true}
	if err := h.engine.HideOverlay(); err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}

	return NewResponse(MsgHideOverlayResp, msg.Header.RequestID, resp)
}

// handleStartMonitor starts the key listener
func (h *DaemonHandler) handleStartMonitor(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.engine == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotInitialized, "engine not initialized"), nil
	}

	resp := &StartMonitorResponse{Success: true}
	if err := h.engine.StartMonitoring(); err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}

	return NewResponse(MsgStartMonitorResp, msg.Header.RequestID, resp)
}

// handleStopMonitor stops the key listener
func (h *DaemonHandler) handleStopMonitor(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.engine == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotInitialized, "engine not initialized"), nil
	}

	resp := &StopMonitorResponse{Success: true}
	if err := h.engine.StopMonitoring(); err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}

	return NewResponse(MsgStopMonitorResp, msg.Header.RequestID, resp)
}

// handleMetrics returns a flat metrics snapshot
func (h *DaemonHandler) handleMetrics(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	resp := &MetricsResponse{Metrics: map[string]any{}}
	if h.metrics != nil {
		resp.Metrics = h.metrics.Snapshot()
	}

	return NewResponse(MsgMetricsResponse, msg.Header.RequestID, resp)
}

// configToMap flattens a config for the status response.
func configToMap(cfg *config.Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
