// Integration tests for the ghostd daemon: engine, adapter, handler,
// and server wired together over a real socket, driven through the
// IPC client.
package main

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ghostd/internal/config"
	"ghostd/internal/focus"
	"ghostd/internal/ipc"
	"ghostd/internal/logging"
	"ghostd/internal/metrics"
	"ghostd/internal/monitor"
	"ghostd/internal/overlay"
	"ghostd/pkg/ghost"
)

type fakeReader struct {
	mu    sync.Mutex
	has   bool
	text  string
	proc  string
	title string
	caret focus.CaretInfo
}

func (r *fakeReader) set(proc, title, text string, caret focus.CaretInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.has = true
	r.proc = proc
	r.title = title
	r.text = text
	r.caret = caret
}

func (r *fakeReader) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.has = false
}

func (r *fakeReader) Initialize() error { return nil }

func (r *fakeReader) Resolve() (focus.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has {
		return focus.Snapshot{}, false
	}
	text, caret := r.text, r.caret
	return focus.Snapshot{
		ProcessName: r.proc,
		WindowTitle: r.title,
		Text: []focus.TextProbe{
			func(maxChars int) (string, bool) { return text, text != "" },
		},
		Caret: []focus.CaretProbe{
			func() (focus.CaretInfo, bool) { return caret, caret.Valid },
		},
	}, true
}

func (r *fakeReader) PointerRect() (focus.CaretInfo, bool) { return focus.CaretInfo{}, false }

func (r *fakeReader) Available() (bool, string) { return true, "" }

func (r *fakeReader) Backend() string { return "fake" }

func (r *fakeReader) Close() error { return nil }

type testDaemon struct {
	d      *daemon
	sim    *monitor.SimulatedListener
	rd     *fakeReader
	dev    *overlay.SimulatedDevice
	socket string
}

func newTestDaemon(t *testing.T) *testDaemon {
	t.Helper()

	sim := monitor.NewSimulatedListener()
	rd := &fakeReader{}
	dev := overlay.NewSimulatedDevice()

	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	cfg.Daemon.SocketPath = filepath.Join(t.TempDir(), "ghostd.sock")

	eng := ghost.New(
		ghost.WithConfig(cfg),
		ghost.WithListener(sim),
		ghost.WithReader(rd),
		ghost.WithDevice(dev),
	)
	if err := eng.Initialize(); err != nil {
		t.Fatalf("initialize engine: %v", err)
	}

	d := &daemon{
		version:   "test",
		overrides: &config.Config{},
		log:       logging.Component("test"),
		done:      make(chan struct{}),
	}
	d.setConfig(cfg)
	d.engine = eng
	d.met = metrics.GetMetrics()

	handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version: "test",
		Engine:  &engineAdapter{daemon: d},
		Metrics: d.met,
		Config:  d.config,
	})

	serverCfg := ipc.DefaultServerConfig(cfg.Daemon.SocketPath)
	serverCfg.Version = "test"
	server, err := ipc.NewServer(serverCfg, handler)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	d.server = server
	handler.SetStats(func() (int, int) {
		return server.ClientCount(), server.SubscriberCount()
	})

	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		server.Stop()
		eng.Shutdown()
	})

	return &testDaemon{d: d, sim: sim, rd: rd, dev: dev, socket: cfg.Daemon.SocketPath}
}

func (td *testDaemon) client(t *testing.T) *ipc.IPCClient {
	t.Helper()
	cfg := ipc.DefaultClientConfig(td.socket)
	cfg.ClientName = "integration-test"
	cfg.AutoReconnect = false

	c := ipc.NewClient(cfg)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStatusOverSocket(t *testing.T) {
	td := newTestDaemon(t)
	c := td.client(t)

	st, err := c.Status(true)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if st.Version != "test" {
		t.Errorf("version = %q", st.Version)
	}
	if st.Monitoring {
		t.Error("monitoring should be off before StartMonitor")
	}
	if st.ListenerBackend != "simulated" || st.ReaderBackend != "fake" {
		t.Errorf("backends = %q, %q", st.ListenerBackend, st.ReaderBackend)
	}
	if st.Clients < 1 {
		t.Errorf("clients = %d", st.Clients)
	}
	if st.Config == nil {
		t.Fatal("config requested but missing")
	}
	if _, ok := st.Config["engine"]; !ok {
		t.Error("config missing engine section")
	}
}

func TestMonitorControlOverSocket(t *testing.T) {
	td := newTestDaemon(t)
	c := td.client(t)

	if err := c.StartMonitor(); err != nil {
		t.Fatalf("start monitor: %v", err)
	}
	st, err := c.Status(false)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Monitoring {
		t.Fatal("monitoring should be on")
	}

	if err := c.StopMonitor(); err != nil {
		t.Fatalf("stop monitor: %v", err)
	}
	st, err = c.Status(false)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Monitoring {
		t.Fatal("monitoring should be off")
	}
}

func TestContextQueryOverSocket(t *testing.T) {
	td := newTestDaemon(t)
	c := td.client(t)

	td.rd.set("kate", "doc.md - Kate", "hello world",
		focus.CaretInfo{X: 10, Y: 20, Width: 2, Height: 18, Valid: true})

	resp, err := c.GetContext(5)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if !resp.Success || resp.Context == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Context.Text != "world" || resp.Context.ProcessName != "kate" {
		t.Errorf("context = %+v", resp.Context)
	}
	if !resp.Context.Caret.Valid || resp.Context.Caret.X != 10 {
		t.Errorf("caret = %+v", resp.Context.Caret)
	}

	// No focused text: the response reports failure, not a transport
	// error.
	td.rd.clear()
	resp, err = c.GetContext(0)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("expected failure report, got %+v", resp)
	}
}

func TestOverlayOverSocket(t *testing.T) {
	td := newTestDaemon(t)
	c := td.client(t)

	td.rd.set("kate", "doc.md", "abc",
		focus.CaretInfo{X: 100, Y: 50, Width: 2, Height: 18, Valid: true})

	if err := c.UpdateOverlay("ghost"); err != nil {
		t.Fatalf("update overlay: %v", err)
	}

	// Placement is caret + configured offsets.
	cfg := td.d.config()
	wantX := 100 + 2 + cfg.Overlay.OffsetX
	wantY := 50 + cfg.Overlay.OffsetY

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := td.dev.LastFrame(); ok {
			if f.Text != "ghost" || f.X != wantX || f.Y != wantY {
				t.Fatalf("frame = %+v, want text=ghost x=%d y=%d", f, wantX, wantY)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := td.dev.LastFrame(); !ok {
		t.Fatal("no frame presented")
	}

	if err := c.HideOverlay(); err != nil {
		t.Fatalf("hide overlay: %v", err)
	}

	// Without a caret anchor the update is refused.
	td.rd.clear()
	if err := c.UpdateOverlay("ghost"); err == nil {
		t.Fatal("expected update to fail without caret")
	}
}

func TestEventStreamOverSocket(t *testing.T) {
	td := newTestDaemon(t)
	c := td.client(t)

	td.rd.set("kate", "doc.md", "hello wor",
		focus.CaretInfo{X: 10, Y: 20, Width: 2, Height: 18, Valid: true})

	if err := c.Subscribe(nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.StartMonitor(); err != nil {
		t.Fatalf("start monitor: %v", err)
	}

	td.sim.SimulateKey()

	select {
	case ev := <-c.Events():
		if ev.Type != ipc.EventTypingPaused {
			t.Fatalf("event type = %d", ev.Type)
		}
		data, err := json.Marshal(ev.Data)
		if err != nil {
			t.Fatalf("marshal data: %v", err)
		}
		var p struct {
			Text        string `json:"text"`
			ProcessName string `json:"processName"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if p.Text != "hello wor" || p.ProcessName != "kate" {
			t.Fatalf("payload = %+v", p)
		}

	case <-time.After(3 * time.Second):
		t.Fatal("no pause event within deadline")
	}
}

func TestMetricsOverSocket(t *testing.T) {
	td := newTestDaemon(t)
	c := td.client(t)

	m, err := c.Metrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if len(m) == 0 {
		t.Fatal("empty metrics snapshot")
	}
}
