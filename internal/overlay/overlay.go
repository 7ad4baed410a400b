// Package overlay renders ghost text next to the caret on a surface
// that never participates in the desktop's input or focus model.
//
// All device resources are owned by a single OS-thread-locked
// goroutine. Callers stage render state under a short mutex and post
// commands into the surface goroutine's queue; the goroutine is the
// only writer of the window, so drawing needs no locks. The window
// contract on every platform: input-transparent, never focused,
// topmost, absent from task switchers.
package overlay

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"ghostd/internal/logging"
	"ghostd/internal/metrics"
)

// Render geometry: fixed padding around the measured text box and the
// smallest window worth presenting.
const (
	textPadding = 4
	minWidth    = 20
	minHeight   = 16
)

// DefaultFontSize is used when a caller passes a non-positive size.
const DefaultFontSize = 14

const commandQueueSize = 32

// Surface lifecycle errors.
var (
	ErrDestroyed    = errors.New("overlay: surface destroyed")
	ErrInitializing = errors.New("overlay: initialize already in progress")
)

// State is the surface lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateHidden
	StateVisible
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateHidden:
		return "hidden"
	case StateVisible:
		return "visible"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

type command int

const (
	cmdRender command = iota
	cmdShow
	cmdHide
)

// staged is the caller-visible render state. Written under Surface.mu,
// snapshotted by the surface goroutine at the start of each pass.
type staged struct {
	text      string
	x, y      int
	fontSize  int
	fontName  string
	textColor Color
	backColor Color
}

// Surface is the thread-owned overlay. Zero value is not usable; use
// New.
type Surface struct {
	log    *slog.Logger
	device Device

	mu     sync.Mutex
	staged staged
	cmds   chan command
	done   chan struct{}
	wg     sync.WaitGroup

	state atomic.Int32

	renders   atomic.Uint64
	recreates atomic.Uint64
	drops     atomic.Uint64
}

// New creates a surface over the given device. A nil device selects
// the platform default.
func New(device Device) *Surface {
	if device == nil {
		device = newPlatformDevice()
	}
	return &Surface{
		log:    logging.Component("overlay"),
		device: device,
		staged: staged{
			fontSize:  DefaultFontSize,
			textColor: Color{R: 0.5, G: 0.5, B: 0.5, A: 0.7},
		},
	}
}

// State reports the current lifecycle state.
func (s *Surface) State() State {
	return State(s.state.Load())
}

// Ready reports whether the surface can accept commands.
func (s *Surface) Ready() bool {
	st := s.State()
	return st == StateReady || st == StateHidden || st == StateVisible
}

// Visible reports whether the last render pass left the window shown.
func (s *Surface) Visible() bool {
	return s.State() == StateVisible
}

// Renders returns the number of completed render passes.
func (s *Surface) Renders() uint64 { return s.renders.Load() }

// Recreates returns how many times the device was rebuilt after a
// device-lost error.
func (s *Surface) Recreates() uint64 { return s.recreates.Load() }

// Initialize spawns the surface goroutine and blocks until the device
// reports success or failure. On failure the goroutine has already
// exited and Initialize may be retried. Idempotent once successful.
func (s *Surface) Initialize() error {
	s.mu.Lock()
	switch s.State() {
	case StateDestroyed:
		s.mu.Unlock()
		return ErrDestroyed
	case StateInitializing:
		s.mu.Unlock()
		return ErrInitializing
	case StateUninitialized:
	default:
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateInitializing))
	s.cmds = make(chan command, commandQueueSize)
	s.done = make(chan struct{})
	ready := make(chan error, 1)
	s.wg.Add(1)
	go s.run(ready)
	s.mu.Unlock()

	if err := <-ready; err != nil {
		s.wg.Wait()
		// Destroy may have won the race; leave its state in place.
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return err
	}
	s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
	if s.State() == StateDestroyed {
		return ErrDestroyed
	}
	return nil
}

// Destroy stops the surface goroutine, releases the device, and makes
// every later call a no-op. Idempotent.
func (s *Surface) Destroy() {
	s.mu.Lock()
	prev := s.State()
	if prev == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state.Store(int32(StateDestroyed))
	if prev != StateUninitialized {
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// UpdateText stages new content and posts a render pass. Empty text
// makes the pass hide the window instead of drawing an empty box.
// Reports whether the command was accepted.
func (s *Surface) UpdateText(text string, x, y, fontSize int) bool {
	s.mu.Lock()
	if !s.Ready() {
		s.mu.Unlock()
		return false
	}
	s.staged.text = text
	s.staged.x = x
	s.staged.y = y
	if fontSize > 0 {
		s.staged.fontSize = fontSize
	}
	cmds := s.cmds
	s.mu.Unlock()
	return s.post(cmds, cmdRender)
}

// Show posts a render of the currently staged text. No-op when the
// staged text is empty.
func (s *Surface) Show() bool {
	s.mu.Lock()
	if !s.Ready() || s.staged.text == "" {
		s.mu.Unlock()
		return false
	}
	cmds := s.cmds
	s.mu.Unlock()
	return s.post(cmds, cmdShow)
}

// Hide posts a hide unconditionally.
func (s *Surface) Hide() bool {
	s.mu.Lock()
	if !s.Ready() {
		s.mu.Unlock()
		return false
	}
	cmds := s.cmds
	s.mu.Unlock()
	return s.post(cmds, cmdHide)
}

// SetFont stages a font change; it takes effect on the next render
// pass. An empty name keeps the platform default, a non-positive size
// keeps the current one.
func (s *Surface) SetFont(name string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged.fontName = name
	if size > 0 {
		s.staged.fontSize = size
	}
}

// SetTextColor stages the text color for the next render pass.
func (s *Surface) SetTextColor(c Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged.textColor = c.clamp()
}

// SetBackgroundColor stages the background for the next render pass.
// Zero alpha means no background box is drawn.
func (s *Surface) SetBackgroundColor(c Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged.backColor = c.clamp()
}

func (s *Surface) post(cmds chan command, c command) bool {
	select {
	case cmds <- c:
		return true
	default:
		// Queue full means the surface goroutine is wedged behind a
		// slow platform call; dropping is better than blocking a
		// producer.
		s.drops.Add(1)
		s.log.Debug("overlay command dropped", "dropped", s.drops.Load())
		return false
	}
}

// run is the surface goroutine. Device calls happen only here, on a
// locked OS thread, because every backing windowing API has thread
// affinity.
func (s *Surface) run(ready chan<- error) {
	defer s.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := s.device.Create(); err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case <-s.done:
			s.device.Hide()
			s.device.Release()
			return
		case c := <-s.cmds:
			s.device.Pump()
			s.handle(c)
		}
	}
}

func (s *Surface) handle(c command) {
	s.mu.Lock()
	st := s.staged
	s.mu.Unlock()

	switch c {
	case cmdRender, cmdShow:
		if st.text == "" {
			s.hidePass()
			return
		}
		s.renderPass(st)
	case cmdHide:
		s.hidePass()
	}
}

func (s *Surface) renderPass(st staged) {
	w, h := s.device.Measure(st.text, st.fontSize)
	w += 2 * textPadding
	h += 2 * textPadding
	if w < minWidth {
		w = minWidth
	}
	if h < minHeight {
		h = minHeight
	}

	f := Frame{
		Text:       st.text,
		X:          st.x,
		Y:          st.y,
		Width:      w,
		Height:     h,
		FontName:   st.fontName,
		FontSize:   st.fontSize,
		TextColor:  st.textColor,
		Background: st.backColor,
	}

	err := s.device.Present(f)
	if errors.Is(err, ErrDeviceLost) {
		s.recreates.Add(1)
		metrics.GetMetrics().RecordOverlayRecreate()
		s.log.Warn("overlay device lost, recreating")
		s.device.Release()
		if cerr := s.device.Create(); cerr != nil {
			s.log.Error("overlay device recreate failed", "error", cerr)
			return
		}
		err = s.device.Present(f)
	}
	if err != nil {
		s.log.Warn("render pass skipped", "error", err)
		return
	}
	s.renders.Add(1)
	metrics.GetMetrics().RecordOverlayRender()
	s.markShown(true)
}

func (s *Surface) hidePass() {
	if err := s.device.Hide(); err != nil {
		s.log.Warn("hide failed", "error", err)
		return
	}
	s.markShown(false)
}

// markShown flips Visible/Hidden without clobbering a concurrent
// Destroy.
func (s *Surface) markShown(visible bool) {
	next := StateHidden
	if visible {
		next = StateVisible
	}
	for {
		cur := s.state.Load()
		if State(cur) == StateDestroyed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}
