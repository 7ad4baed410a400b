package ipc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ghostd/internal/config"
	"ghostd/internal/metrics"
)

// fakeEngine scripts the engine surface for handler tests.
type fakeEngine struct {
	mu sync.Mutex

	monitoring  bool
	visible     bool
	startErr    error
	overlayErr  error
	contextErr  error
	context     *ContextInfo
	overlayText string
}

func (f *fakeEngine) StartMonitoring() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.monitoring = true
	return nil
}

func (f *fakeEngine) StopMonitoring() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitoring = false
	return nil
}

func (f *fakeEngine) Monitoring() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitoring
}

func (f *fakeEngine) UpdateOverlay(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlayErr != nil {
		return f.overlayErr
	}
	f.overlayText = text
	f.visible = text != ""
	return nil
}

func (f *fakeEngine) HideOverlay() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = false
	return nil
}

func (f *fakeEngine) OverlayVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

func (f *fakeEngine) QueryContext(maxChars int) (*ContextInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	return f.context, nil
}

func (f *fakeEngine) Backends() (string, string) {
	return "fake-listener", "fake-reader"
}

func newTestHandler(engine *fakeEngine) *DaemonHandler {
	return NewDaemonHandler(DaemonHandlerConfig{
		Version: "test",
		Engine:  engine,
		Metrics: metrics.NewEngineMetrics(metrics.NewRegistry("test")),
		Config:  func() *config.Config { return config.DefaultConfig() },
	})
}

func dispatch(t *testing.T, h *DaemonHandler, msgType MessageType, payload any) *Message {
	t.Helper()

	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}

	resp, err := h.HandleMessage(context.Background(), &Client{ID: "test-client"}, NewMessage(msgType, 1, data))
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if resp == nil {
		t.Fatal("nil response")
	}
	return resp
}

func TestHandlerStatus(t *testing.T) {
	engine := &fakeEngine{monitoring: true, visible: true}
	h := newTestHandler(engine)
	h.SetStats(func() (int, int) { return 3, 2 })

	resp := dispatch(t, h, MsgStatusRequest, &StatusRequest{IncludeConfig: true})
	if resp.Header.Type != MsgStatusResponse {
		t.Fatalf("response type = %d, want status", resp.Header.Type)
	}

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if status.Version != "test" {
		t.Errorf("version = %q, want test", status.Version)
	}
	if !status.Monitoring {
		t.Error("monitoring should be true")
	}
	if !status.OverlayVisible {
		t.Error("overlay should be visible")
	}
	if status.ListenerBackend != "fake-listener" || status.ReaderBackend != "fake-reader" {
		t.Errorf("backends = %q/%q", status.ListenerBackend, status.ReaderBackend)
	}
	if status.Clients != 3 || status.Subscribers != 2 {
		t.Errorf("clients/subscribers = %d/%d, want 3/2", status.Clients, status.Subscribers)
	}
	if status.Config == nil {
		t.Fatal("config should be included")
	}
	if _, ok := status.Config["engine"]; !ok {
		t.Error("config should contain the engine section")
	}
}

func TestHandlerStatusWithoutConfig(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	resp := dispatch(t, h, MsgStatusRequest, &StatusRequest{})

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Config != nil {
		t.Error("config should be omitted unless requested")
	}
}

func TestHandlerGetContext(t *testing.T) {
	engine := &fakeEngine{
		context: &ContextInfo{
			Text:        "hello wor",
			ProcessName: "kate",
			WindowTitle: "notes.txt",
			Caret:       CaretRect{X: 10, Y: 20, Width: 2, Height: 16, Valid: true},
		},
	}
	h := newTestHandler(engine)

	resp := dispatch(t, h, MsgGetContext, &GetContextRequest{MaxChars: 100})
	if resp.Header.Type != MsgGetContextResp {
		t.Fatalf("response type = %d", resp.Header.Type)
	}

	var result GetContextResponse
	if err := Decode(resp.Payload, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !result.Success {
		t.Fatalf("success = false: %s", result.Error)
	}
	if result.Context.Text != "hello wor" {
		t.Errorf("text = %q", result.Context.Text)
	}
	if !result.Context.Caret.Valid || result.Context.Caret.X != 10 {
		t.Errorf("caret = %+v", result.Context.Caret)
	}
}

func TestHandlerGetContextError(t *testing.T) {
	engine := &fakeEngine{contextErr: errors.New("listener not running")}
	h := newTestHandler(engine)

	resp := dispatch(t, h, MsgGetContext, nil)

	var result GetContextResponse
	if err := Decode(resp.Payload, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Success {
		t.Error("success should be false")
	}
	if result.Error == "" {
		t.Error("error should be populated")
	}
}

func TestHandlerOverlayControl(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(engine)

	resp := dispatch(t, h, MsgUpdateOverlay, &UpdateOverlayRequest{Text: "ghost text"})

	var update UpdateOverlayResponse
	if err := Decode(resp.Payload, &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !update.Success {
		t.Fatalf("update failed: %s", update.Error)
	}
	if engine.overlayText != "ghost text" {
		t.Errorf("overlay text = %q", engine.overlayText)
	}
	if !engine.OverlayVisible() {
		t.Error("overlay should be visible after update")
	}

	resp = dispatch(t, h, MsgHideOverlay, nil)
	var hide HideOverlayResponse
	if err := Decode(resp.Payload, &hide); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hide.Success {
		t.Fatalf("hide failed: %s", hide.Error)
	}
	if engine.OverlayVisible() {
		t.Error("overlay should be hidden")
	}
}

func TestHandlerOverlayError(t *testing.T) {
	engine := &fakeEngine{overlayErr: errors.New("surface lost")}
	h := newTestHandler(engine)

	resp := dispatch(t, h, MsgUpdateOverlay, &UpdateOverlayRequest{Text: "x"})

	var update UpdateOverlayResponse
	if err := Decode(resp.Payload, &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Success {
		t.Error("success should be false")
	}
	if update.Error != "surface lost" {
		t.Errorf("error = %q", update.Error)
	}
}

func TestHandlerMonitorControl(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(engine)

	resp := dispatch(t, h, MsgStartMonitor, nil)
	var start StartMonitorResponse
	if err := Decode(resp.Payload, &start); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !start.Success {
		t.Fatalf("start failed: %s", start.Error)
	}
	if !engine.Monitoring() {
		t.Error("engine should be monitoring")
	}

	resp = dispatch(t, h, MsgStopMonitor, nil)
	var stop StopMonitorResponse
	if err := Decode(resp.Payload, &stop); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !stop.Success {
		t.Fatalf("stop failed: %s", stop.Error)
	}
	if engine.Monitoring() {
		t.Error("engine should be stopped")
	}
}

func TestHandlerStartMonitorError(t *testing.T) {
	engine := &fakeEngine{startErr: errors.New("no display")}
	h := newTestHandler(engine)

	resp := dispatch(t, h, MsgStartMonitor, nil)

	var start StartMonitorResponse
	if err := Decode(resp.Payload, &start); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if start.Success {
		t.Error("success should be false")
	}
	if start.Error != "no display" {
		t.Errorf("error = %q", start.Error)
	}
}

func TestHandlerMetrics(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	resp := dispatch(t, h, MsgMetricsRequest, nil)
	if resp.Header.Type != MsgMetricsResponse {
		t.Fatalf("response type = %d", resp.Header.Type)
	}

	var result MetricsResponse
	if err := Decode(resp.Payload, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := result.Metrics["test_keys_observed_total"]; !ok {
		t.Error("metrics snapshot should contain the key counter")
	}
}

func TestHandlerUnknownType(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	resp := dispatch(t, h, MessageType(0x7777), nil)
	if resp.Header.Type != MsgError {
		t.Fatalf("response type = %d, want error", resp.Header.Type)
	}

	var errResp ErrorResponse
	if err := Decode(resp.Payload, &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrInvalidRequest {
		t.Errorf("code = %d, want %d", errResp.Code, ErrInvalidRequest)
	}
}

func TestHandlerNoEngine(t *testing.T) {
	h := NewDaemonHandler(DaemonHandlerConfig{Version: "test"})

	resp := dispatch(t, h, MsgStartMonitor, nil)
	if resp.Header.Type != MsgError {
		t.Fatalf("response type = %d, want error", resp.Header.Type)
	}

	var errResp ErrorResponse
	if err := Decode(resp.Payload, &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrNotInitialized {
		t.Errorf("code = %d, want %d", errResp.Code, ErrNotInitialized)
	}
}
