// Package ghost is the embeddable typing-pause engine.
//
// An Engine ties the platform pieces together: a global key listener
// feeding a trailing-edge debounce, a focus reader that extracts text
// and caret context for the foreground application, a thread-owned
// overlay surface for rendering ghost text, and an event bridge that
// delivers pause events to a host callback without ever blocking the
// platform threads.
//
// The host drives it as: Initialize, StartMonitoring(cb), receive
// typingPaused events carrying text context, compute a suggestion,
// UpdateOverlay to show it, HideOverlay when typing resumes, Shutdown.
// TextContext answers on-demand queries outside the pause pipeline.
package ghost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ghostd/internal/bridge"
	"ghostd/internal/config"
	"ghostd/internal/focus"
	"ghostd/internal/logging"
	"ghostd/internal/metrics"
	"ghostd/internal/monitor"
	"ghostd/internal/overlay"
)

// Context and CaretInfo are re-exported so hosts can name the types the
// engine returns.
type (
	Context   = focus.Context
	CaretInfo = focus.CaretInfo
)

// Event names delivered to the monitoring callback.
const (
	EventTypingPaused = "typingPaused"
	EventFocusChanged = "focusChanged"
	EventError        = "error"
)

var (
	// ErrNotInitialized is returned by operations that need Initialize
	// first.
	ErrNotInitialized = errors.New("ghost: engine not initialized")

	// ErrNilCallback is returned by StartMonitoring without a callback.
	ErrNilCallback = errors.New("ghost: monitoring callback is nil")
)

// EventCallback receives engine events. It runs on the bridge's
// dispatcher goroutine; panics are contained there and slow callbacks
// back up only the event queue, never the platform threads.
type EventCallback func(event, payload string)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithListener replaces the platform key listener.
func WithListener(l monitor.Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithReader replaces the platform focus reader.
func WithReader(r focus.Reader) Option {
	return func(e *Engine) { e.reader = r }
}

// WithDevice replaces the platform overlay device.
func WithDevice(d overlay.Device) Option {
	return func(e *Engine) { e.device = d }
}

// WithLogger replaces the engine's logger.
func WithLogger(lg *slog.Logger) Option {
	return func(e *Engine) {
		if lg != nil {
			e.log = lg
		}
	}
}

// Engine is the assembled typing-pause engine. Safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg *config.Config
	log *slog.Logger

	// Injected platform pieces; nil selects the platform default.
	listener monitor.Listener
	reader   focus.Reader
	device   overlay.Device

	listenerName string
	readerName   string

	// Live components. provider, surface, and events are written only
	// while no monitor is running, so the pause and fault paths read
	// them without the lock.
	provider *focus.Provider
	surface  *overlay.Surface
	events   *bridge.Bridge
	mon      *monitor.Monitor
	watcher  *focus.Watcher
	watchWG  sync.WaitGroup

	initialized bool
	monitoring  bool
	startedAt   time.Time

	ctxChars  atomic.Int32
	lastPause atomic.Int64

	// Counters carried across monitor restarts.
	totalKeys   atomic.Uint64
	totalPauses atomic.Uint64
}

// New assembles an engine. Nothing touches the platform until
// Initialize.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg: config.DefaultConfig(),
		log: logging.Component("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.listener != nil {
		e.listenerName = e.listener.Backend()
	} else {
		e.listenerName = monitor.PlatformBackend()
	}
	if e.reader != nil {
		e.readerName = e.reader.Backend()
	} else {
		e.readerName = focus.PlatformBackend()
	}
	return e
}

// Initialize acquires the platform capabilities: the focus reader and
// the overlay surface. A missing accessibility layer degrades context
// queries instead of failing; a surface that cannot be created fails
// with everything torn back down. Idempotent.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	provider := focus.NewProvider(e.reader)
	if err := provider.Initialize(); err != nil {
		// Absence of accessibility is degradation: queries return
		// Valid=false until the environment provides it.
		e.log.Warn("context provider degraded", "error", err)
	}

	surface := overlay.New(e.device)
	applyOverlayStyle(surface, e.cfg)
	if err := surface.Initialize(); err != nil {
		provider.Close()
		return fmt.Errorf("initialize overlay surface: %w", err)
	}

	events := bridge.New(0)
	if err := events.Start(); err != nil {
		surface.Destroy()
		provider.Close()
		return err
	}

	e.provider = provider
	e.surface = surface
	e.events = events
	e.ctxChars.Store(int32(e.cfg.Engine.ContextLength))
	e.initialized = true
	e.startedAt = time.Now()

	e.log.Info("engine initialized",
		"listener", e.listenerName,
		"reader", e.readerName)
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// StartMonitoring installs cb and starts pause detection. Calling it
// again while monitoring replaces the callback and leaves the listener
// running; events queued for the previous callback are discarded.
func (e *Engine) StartMonitoring(cb EventCallback) error {
	if cb == nil {
		return ErrNilCallback
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}

	e.events.Bind(bridge.Callback(cb))
	if e.monitoring {
		return nil
	}

	mon := monitor.New(e.listener, time.Duration(e.cfg.Engine.DebounceMs)*time.Millisecond)
	mon.OnPause(e.firePause)
	mon.OnFault(e.fireFault)
	if err := mon.Start(context.Background()); err != nil {
		e.events.Unbind()
		return fmt.Errorf("start key monitor: %w", err)
	}
	e.mon = mon
	e.monitoring = true
	metrics.GetMetrics().SetMonitorActive(true)

	if e.cfg.Engine.EnableFocusEvents {
		w := focus.NewWatcher(e.provider, time.Duration(e.cfg.Engine.FocusPollMs)*time.Millisecond)
		if err := w.Start(); err != nil {
			e.log.Warn("focus watcher unavailable", "error", err)
		} else {
			e.watcher = w
			e.watchWG.Add(1)
			go e.forwardFocus(w)
		}
	}

	e.log.Info("monitoring started",
		"debounce_ms", e.cfg.Engine.DebounceMs,
		"focus_events", e.watcher != nil)
	return nil
}

// StopMonitoring stops pause detection and unbinds the callback.
// Events still queued are discarded; a delivery already in flight may
// complete. Safe when not running.
func (e *Engine) StopMonitoring() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopMonitoringLocked()
}

func (e *Engine) stopMonitoringLocked() {
	if !e.monitoring {
		return
	}
	if e.watcher != nil {
		e.watcher.Stop()
		e.watcher = nil
	}
	e.watchWG.Wait()

	e.totalKeys.Add(e.mon.Keys())
	e.totalPauses.Add(e.mon.Fires())
	e.mon.Stop()
	e.mon = nil

	// Unbinding discards queued events at dispatch, so nothing already
	// in flight reaches the callback.
	e.events.Unbind()
	e.monitoring = false
	metrics.GetMetrics().SetMonitorActive(false)
	e.log.Info("monitoring stopped")
}

// Monitoring reports whether pause detection is running.
func (e *Engine) Monitoring() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monitoring
}

// UpdateOverlay stages text at the given screen position and posts a
// render pass. Empty text hides the surface. fontSize is optional; the
// configured size applies when omitted or non-positive. Reports whether
// the command was accepted.
func (e *Engine) UpdateOverlay(text string, x, y int, fontSize ...int) bool {
	e.mu.Lock()
	s := e.surface
	e.mu.Unlock()
	if s == nil {
		return false
	}

	size := 0
	if len(fontSize) > 0 {
		size = fontSize[0]
	}
	ok := s.UpdateText(text, x, y, size)
	if !ok {
		metrics.GetMetrics().RecordOverlayDropped()
		return false
	}
	metrics.GetMetrics().SetOverlayVisible(text != "")
	return true
}

// HideOverlay posts a hide. Reports whether the command was accepted.
func (e *Engine) HideOverlay() bool {
	e.mu.Lock()
	s := e.surface
	e.mu.Unlock()
	if s == nil {
		return false
	}
	if !s.Hide() {
		return false
	}
	metrics.GetMetrics().SetOverlayVisible(false)
	return true
}

// OverlayVisible reports whether the last render pass left the surface
// shown.
func (e *Engine) OverlayVisible() bool {
	e.mu.Lock()
	s := e.surface
	e.mu.Unlock()
	return s != nil && s.Visible()
}

// TextContext queries the focused application synchronously, outside
// the pause pipeline. maxChars is optional; the configured context
// length applies when omitted. ok is false when no tier produced
// anything usable.
func (e *Engine) TextContext(maxChars ...int) (Context, bool) {
	e.mu.Lock()
	p := e.provider
	init := e.initialized
	e.mu.Unlock()
	if !init || p == nil {
		return Context{}, false
	}

	n := int(e.ctxChars.Load())
	if len(maxChars) > 0 && maxChars[0] > 0 {
		n = maxChars[0]
	}
	ctx := e.capture(p, n)
	return ctx, ctx.Valid
}

// ApplyConfig applies a new configuration to the running engine: the
// debounce interval, context length, and overlay style take effect
// immediately. Listener and reader choices need a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	e.cfg = cfg
	mon := e.mon
	s := e.surface
	e.mu.Unlock()

	e.ctxChars.Store(int32(cfg.Engine.ContextLength))
	if mon != nil {
		mon.SetDebounce(time.Duration(cfg.Engine.DebounceMs) * time.Millisecond)
	}
	if s != nil {
		applyOverlayStyle(s, cfg)
	}
	e.log.Info("configuration applied",
		"debounce_ms", cfg.Engine.DebounceMs,
		"context_length", cfg.Engine.ContextLength)
}

// Backends names the listener and reader implementations in use.
func (e *Engine) Backends() (listener, reader string) {
	return e.listenerName, e.readerName
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Initialized    bool
	Monitoring     bool
	OverlayVisible bool
	Uptime         time.Duration

	Keys    uint64
	Pauses  uint64
	Renders uint64
	// Recreates counts overlay devices rebuilt after loss.
	Recreates uint64

	EventsDelivered uint64
	EventsDropped   uint64
	CallbackPanics  uint64
	QueueDepth      int

	ListenerBackend string
	ReaderBackend   string
}

// Status reports the engine state and counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Initialized:     e.initialized,
		Monitoring:      e.monitoring,
		Keys:            e.totalKeys.Load(),
		Pauses:          e.totalPauses.Load(),
		ListenerBackend: e.listenerName,
		ReaderBackend:   e.readerName,
	}
	if e.initialized {
		st.Uptime = time.Since(e.startedAt)
	}
	if e.mon != nil {
		st.Keys += e.mon.Keys()
		st.Pauses += e.mon.Fires()
	}
	if e.surface != nil {
		st.OverlayVisible = e.surface.Visible()
		st.Renders = e.surface.Renders()
		st.Recreates = e.surface.Recreates()
		metrics.GetMetrics().SetOverlayVisible(st.OverlayVisible)
	}
	if e.events != nil {
		st.EventsDelivered = e.events.Delivered()
		st.EventsDropped = e.events.Dropped()
		st.CallbackPanics = e.events.Panics()
		st.QueueDepth = e.events.Depth()
	}
	return st
}

// Shutdown stops monitoring and releases every platform resource.
// Idempotent; operations after it require a new Initialize.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}

	e.stopMonitoringLocked()
	e.events.Close()
	e.surface.Destroy()
	err := e.provider.Close()

	e.events = nil
	e.surface = nil
	e.provider = nil
	e.initialized = false
	metrics.GetMetrics().SetOverlayVisible(false)

	e.log.Info("engine shut down")
	if err != nil {
		return fmt.Errorf("close context provider: %w", err)
	}
	return nil
}

// firePause runs on the monitor's timer goroutine: capture context and
// push it through the bridge. The component fields it reads are stable
// while the monitor runs.
func (e *Engine) firePause() {
	met := metrics.GetMetrics()
	met.RecordPauseFired()

	now := time.Now()
	if prev := e.lastPause.Swap(now.UnixNano()); prev != 0 {
		met.RecordPauseGap(now.Sub(time.Unix(0, prev)))
	}

	ctx := e.capture(e.provider, int(e.ctxChars.Load()))
	e.events.Publish(EventTypingPaused, marshalPause(ctx))
}

// fireFault runs on the listener thread when the key source dies. The
// monitor does not restart itself; the host hears about it and decides.
func (e *Engine) fireFault(err error) {
	e.events.Publish(EventError, marshalError(err))
}

// forwardFocus drains watcher events into the bridge until the watcher
// channel closes.
func (e *Engine) forwardFocus(w *focus.Watcher) {
	defer e.watchWG.Done()
	for ev := range w.Events() {
		e.events.Publish(EventFocusChanged, marshalFocus(ev))
	}
}

// capture wraps a provider query with the metrics bookkeeping.
func (e *Engine) capture(p *focus.Provider, maxChars int) Context {
	met := metrics.GetMetrics()
	timer := met.StartContextQuery()
	ctx := p.Current(maxChars)
	timer.Stop()
	met.RecordContextText(ctx.TextTier)
	met.RecordContextCaret(ctx.CaretTier)
	return ctx
}

func applyOverlayStyle(s *overlay.Surface, cfg *config.Config) {
	s.SetFont(cfg.Overlay.FontName, cfg.Overlay.FontSize)
	s.SetTextColor(colorFromQuad(cfg.Overlay.TextColor))
	s.SetBackgroundColor(colorFromQuad(cfg.Overlay.BackgroundColor))
}

func colorFromQuad(c [4]float64) overlay.Color {
	return overlay.Color{R: c[0], G: c[1], B: c[2], A: c[3]}
}
