package ghost

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ghostd/internal/config"
	"ghostd/internal/focus"
	"ghostd/internal/monitor"
	"ghostd/internal/overlay"
)

// stubReader scripts the focus surface for engine-level tests.
type stubReader struct {
	mu     sync.Mutex
	has    bool
	text   string
	proc   string
	title  string
	caret  focus.CaretInfo
	closes int
}

func (r *stubReader) set(proc, title, text string, caret focus.CaretInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.has = true
	r.proc = proc
	r.title = title
	r.text = text
	r.caret = caret
}

func (r *stubReader) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.has = false
}

func (r *stubReader) Initialize() error { return nil }

func (r *stubReader) Resolve() (focus.Snapshot, bool) {
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

func (r *stubReader) PointerRect() (focus.CaretInfo, bool) { return focus.CaretInfo{}, false }

func (r *stubReader) Available() (bool, string) { return true, "" }

func (r *stubReader) Backend() string { return "stub" }

func (r *stubReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

type rig struct {
	eng *Engine
	sim *monitor.SimulatedListener
	rd  *stubReader
	dev *overlay.SimulatedDevice
}

func newRig(t *testing.T, cfg *config.Config) *rig {
	t.Helper()
	r := &rig{
		sim: monitor.NewSimulatedListener(),
		rd:  &stubReader{},
		dev: overlay.NewSimulatedDevice(),
	}
	opts := []Option{WithListener(r.sim), WithReader(r.rd), WithDevice(r.dev)}
	if cfg != nil {
		opts = append(opts, WithConfig(cfg))
	}
	r.eng = New(opts...)
	if err := r.eng.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { r.eng.Shutdown() })
	return r
}

// collector returns a callback that feeds received events into a
// channel.
func collector() (EventCallback, chan [2]string) {
	ch := make(chan [2]string, 32)
	return func(event, payload string) {
		ch <- [2]string{event, payload}
	}, ch
}

// waitEvent receives until an event with the wanted name arrives,
// skipping others, and returns its payload.
func waitEvent(t *testing.T, ch <-chan [2]string, want string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev[0] == want {
				return ev[1]
			}
		case <-deadline:
			t.Fatalf("no %q event within deadline", want)
		}
	}
}

func waitFrames(t *testing.T, dev *overlay.SimulatedDevice, n int) []overlay.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fr := dev.Frames(); len(fr) >= n {
			return fr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fewer than %d frames presented", n)
	return nil
}

func TestInitializeIdempotent(t *testing.T) {
	r := newRig(t, nil)
	if !r.eng.Initialized() {
		t.Fatal("engine should be initialized")
	}
	if err := r.eng.Initialize(); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
}

func TestInitializeFailureTearsDown(t *testing.T) {
	sim := monitor.NewSimulatedListener()
	rd := &stubReader{}
	dev := overlay.NewSimulatedDevice()
	dev.FailCreate(errors.New("no display"))

	eng := New(WithListener(sim), WithReader(rd), WithDevice(dev))
	if err := eng.Initialize(); err == nil {
		t.Fatal("expected initialize to fail")
	}
	if eng.Initialized() {
		t.Fatal("engine must not report initialized after failure")
	}
	rd.mu.Lock()
	closes := rd.closes
	rd.mu.Unlock()
	if closes != 1 {
		t.Fatalf("provider not cleaned up: closes = %d", closes)
	}

	// The failure leaves nothing behind; a retry works.
	dev.FailCreate(nil)
	if err := eng.Initialize(); err != nil {
		t.Fatalf("retry initialize: %v", err)
	}
	defer eng.Shutdown()
}

func TestOperationsBeforeInitialize(t *testing.T) {
	eng := New(WithListener(monitor.NewSimulatedListener()),
		WithReader(&stubReader{}),
		WithDevice(overlay.NewSimulatedDevice()))

	cb, _ := collector()
	if err := eng.StartMonitoring(cb); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("StartMonitoring = %v, want ErrNotInitialized", err)
	}
	if eng.UpdateOverlay("x", 0, 0) {
		t.Fatal("UpdateOverlay must fail before initialize")
	}
	if eng.HideOverlay() {
		t.Fatal("HideOverlay must fail before initialize")
	}
	if _, ok := eng.TextContext(); ok {
		t.Fatal("TextContext must be invalid before initialize")
	}
	if err := eng.Shutdown(); err != nil {
		t.Fatalf("shutdown of uninitialized engine: %v", err)
	}
}

func TestStartMonitoringNilCallback(t *testing.T) {
	r := newRig(t, nil)
	if err := r.eng.StartMonitoring(nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("err = %v, want ErrNilCallback", err)
	}
}

func TestPauseEventDelivery(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	r := newRig(t, cfg)
	r.rd.set("kate", "notes.md - Kate", "hello wor",
		focus.CaretInfo{X: 40, Y: 60, Width: 2, Height: 18, Valid: true})

	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start monitoring: %v", err)
	}
	r.sim.SimulateKey()

	payload := waitEvent(t, ch, EventTypingPaused)

	var p struct {
		Text        string `json:"text"`
		ProcessName string `json:"processName"`
		WindowTitle string `json:"windowTitle"`
		Caret       struct {
			X     int  `json:"x"`
			Y     int  `json:"y"`
			Valid bool `json:"valid"`
		} `json:"caret"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Text != "hello wor" || p.ProcessName != "kate" || p.WindowTitle != "notes.md - Kate" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if !p.Caret.Valid || p.Caret.X != 40 || p.Caret.Y != 60 {
		t.Fatalf("unexpected caret: %+v", p.Caret)
	}
}

func TestPausePayloadWireShape(t *testing.T) {
	got := marshalPause(Context{
		Text:        "hi",
		ProcessName: "kate",
		WindowTitle: "t",
		Caret:       CaretInfo{X: 1, Y: 2, Width: 3, Height: 4, Valid: true},
		Valid:       true,
	})
	want := `{"text":"hi","processName":"kate","windowTitle":"t",` +
		`"caret":{"x":1,"y":2,"width":3,"height":4,"valid":true}}`
	if got != want {
		t.Fatalf("payload = %s, want %s", got, want)
	}
}

func TestCallbackReplacement(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	r := newRig(t, cfg)
	r.rd.set("kate", "t", "abc", focus.CaretInfo{})

	cb1, ch1 := collector()
	cb2, ch2 := collector()
	if err := r.eng.StartMonitoring(cb1); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := r.eng.StartMonitoring(cb2); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !r.eng.Monitoring() {
		t.Fatal("monitoring should still be running")
	}

	r.sim.SimulateKey()
	waitEvent(t, ch2, EventTypingPaused)

	select {
	case ev := <-ch1:
		t.Fatalf("replaced callback received %v", ev)
	default:
	}
}

func TestStopMonitoringSilences(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	r := newRig(t, cfg)
	r.rd.set("kate", "t", "abc", focus.CaretInfo{})

	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.eng.StopMonitoring()
	if r.eng.Monitoring() {
		t.Fatal("monitoring should be stopped")
	}

	// The listener is gone; a late key reaches nothing.
	r.sim.SimulateKey()
	select {
	case ev := <-ch:
		t.Fatalf("event after stop: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	// Safe when not running.
	r.eng.StopMonitoring()
}

func TestMonitoringRestarts(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	r := newRig(t, cfg)
	r.rd.set("kate", "t", "abc", focus.CaretInfo{})

	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.sim.SimulateKey()
	waitEvent(t, ch, EventTypingPaused)
	r.eng.StopMonitoring()

	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.sim.SimulateKey()
	waitEvent(t, ch, EventTypingPaused)
}

func TestFaultEvent(t *testing.T) {
	r := newRig(t, nil)
	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}

	r.sim.SimulateFault(errors.New("keyboard unplugged"))
	payload := waitEvent(t, ch, EventError)

	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !strings.Contains(p.Message, "unplugged") {
		t.Fatalf("message = %q", p.Message)
	}
}

func TestFocusEventForwarding(t *testing.T) {
	cfg := config.DefaultConfig().WithFocusEvents(true)
	cfg.Engine.FocusPollMs = 30
	r := newRig(t, cfg)
	r.rd.set("kate", "a.md", "", focus.CaretInfo{})

	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}

	payload := waitEvent(t, ch, EventFocusChanged)
	var p struct {
		ProcessName string `json:"processName"`
		WindowTitle string `json:"windowTitle"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.ProcessName != "kate" || p.WindowTitle != "a.md" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	r.rd.set("kate", "b.md", "", focus.CaretInfo{})
	payload = waitEvent(t, ch, EventFocusChanged)
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.WindowTitle != "b.md" {
		t.Fatalf("expected title change, got %+v", p)
	}
}

func TestTextContextTailAndTiers(t *testing.T) {
	r := newRig(t, nil)
	r.rd.set("kate", "t", "hello world",
		focus.CaretInfo{X: 10, Y: 20, Width: 2, Height: 16, Valid: true})

	ctx, ok := r.eng.TextContext()
	if !ok || ctx.Text != "hello world" {
		t.Fatalf("ctx = %+v, ok = %v", ctx, ok)
	}
	if ctx.ProcessName != "kate" || !ctx.Caret.Valid {
		t.Fatalf("ctx = %+v", ctx)
	}

	ctx, ok = r.eng.TextContext(5)
	if !ok || ctx.Text != "world" {
		t.Fatalf("tail clamp: ctx.Text = %q, ok = %v", ctx.Text, ok)
	}
}

func TestTextContextInvalid(t *testing.T) {
	r := newRig(t, nil)
	r.rd.clear()
	if ctx, ok := r.eng.TextContext(); ok {
		t.Fatalf("expected invalid context, got %+v", ctx)
	}
}

func TestOverlayThroughEngine(t *testing.T) {
	r := newRig(t, nil)

	if !r.eng.UpdateOverlay("ghost text", 100, 200) {
		t.Fatal("update not accepted")
	}
	frames := waitFrames(t, r.dev, 1)
	f := frames[len(frames)-1]
	if f.Text != "ghost text" || f.X != 100 || f.Y != 200 {
		t.Fatalf("frame = %+v", f)
	}
	if f.FontSize != 14 {
		t.Fatalf("font size = %d, want configured default", f.FontSize)
	}

	if !r.eng.UpdateOverlay("big", 0, 0, 22) {
		t.Fatal("update not accepted")
	}
	frames = waitFrames(t, r.dev, 2)
	if got := frames[len(frames)-1].FontSize; got != 22 {
		t.Fatalf("font size = %d, want 22", got)
	}

	before := r.dev.Hides()
	if !r.eng.HideOverlay() {
		t.Fatal("hide not accepted")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.dev.Hides() == before {
		time.Sleep(5 * time.Millisecond)
	}
	if r.dev.Hides() == before {
		t.Fatal("hide never reached the device")
	}
	if r.eng.OverlayVisible() {
		t.Fatal("overlay should report hidden")
	}
}

func TestStatusCounters(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	r := newRig(t, cfg)
	r.rd.set("kate", "t", "abc", focus.CaretInfo{})

	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.sim.SimulateBurst(3)
	waitEvent(t, ch, EventTypingPaused)

	st := r.eng.Status()
	if !st.Initialized || !st.Monitoring {
		t.Fatalf("status = %+v", st)
	}
	if st.Keys < 3 || st.Pauses < 1 {
		t.Fatalf("keys = %d, pauses = %d", st.Keys, st.Pauses)
	}
	if st.ListenerBackend != "simulated" || st.ReaderBackend != "stub" {
		t.Fatalf("backends = %q, %q", st.ListenerBackend, st.ReaderBackend)
	}

	// Counters survive a monitor stop.
	r.eng.StopMonitoring()
	st = r.eng.Status()
	if st.Monitoring {
		t.Fatal("monitoring should be stopped")
	}
	if st.Keys < 3 || st.Pauses < 1 {
		t.Fatalf("counters lost across stop: %+v", st)
	}
}

func TestApplyConfigLive(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(5 * time.Second)
	r := newRig(t, cfg)
	r.rd.set("kate", "t", "abc", focus.CaretInfo{})

	cb, ch := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}

	next := config.DefaultConfig().
		WithDebounce(80 * time.Millisecond).
		WithFont("Hack", 18)
	r.eng.ApplyConfig(next)

	r.sim.SimulateKey()
	waitEvent(t, ch, EventTypingPaused)

	if !r.eng.UpdateOverlay("x", 0, 0) {
		t.Fatal("update not accepted")
	}
	frames := waitFrames(t, r.dev, 1)
	f := frames[len(frames)-1]
	if f.FontName != "Hack" || f.FontSize != 18 {
		t.Fatalf("frame font = %q/%d, want Hack/18", f.FontName, f.FontSize)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	cfg := config.DefaultConfig().WithDebounce(60 * time.Millisecond)
	r := newRig(t, cfg)
	r.rd.set("kate", "t", "abc", focus.CaretInfo{})

	cb, _ := collector()
	if err := r.eng.StartMonitoring(cb); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.eng.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := r.eng.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if r.eng.Initialized() || r.eng.Monitoring() {
		t.Fatal("state must be cleared after shutdown")
	}
	if err := r.eng.StartMonitoring(cb); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("StartMonitoring after shutdown = %v", err)
	}
	if r.eng.UpdateOverlay("x", 0, 0) {
		t.Fatal("overlay must be gone after shutdown")
	}

	// Shutdown releases; Initialize brings everything back.
	if err := r.eng.Initialize(); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if ctx, ok := r.eng.TextContext(); !ok || ctx.Text != "abc" {
		t.Fatalf("context after re-initialize: %+v, ok = %v", ctx, ok)
	}
}
