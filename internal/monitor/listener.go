package monitor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotAvailable indicates no usable key event source on this system.
	ErrNotAvailable = errors.New("key listener not available on this platform")

	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrPermissionDenied indicates the input devices exist but cannot be
	// read with the current privileges.
	ErrPermissionDenied = errors.New("permission denied accessing input devices")

	// ErrListenerBusy indicates another listener in this process already
	// owns the global hook slot.
	ErrListenerBusy = errors.New("key listener already installed in this process")

	// ErrInstallTimeout indicates the platform source did not confirm
	// installation within InstallTimeout.
	ErrInstallTimeout = errors.New("key listener install timed out")
)

// InstallTimeout bounds how long Start waits for the platform source to
// confirm installation.
const InstallTimeout = 500 * time.Millisecond

// Listener is a source of typing-key events.
//
// Implementations classify and filter on their own thread: onKey fires
// once per non-injected typing key-down (which key is deliberately not
// reported), and onFault fires at most once if the source dies mid-run.
// Both callbacks must be fast and must not block.
type Listener interface {
	// Start begins listening and returns once the source is installed.
	Start(ctx context.Context, onKey func(), onFault func(error)) error

	// Stop tears down the source. Idempotent. No callbacks are invoked
	// after Stop returns.
	Stop() error

	// Available reports whether the source can run, with a detail string
	// describing the device or the reason it cannot.
	Available() (bool, string)

	// Backend names the event source, e.g. "evdev" or "hook".
	Backend() string
}

// PlatformBackend names the default listener for this platform without
// starting it.
func PlatformBackend() string {
	return newPlatformListener().Backend()
}

// SimulatedListener is a Listener fed by test code.
type SimulatedListener struct {
	mu      sync.Mutex
	running bool
	onKey   func()
	onFault func(error)
}

// NewSimulatedListener creates a simulated listener.
func NewSimulatedListener() *SimulatedListener {
	return &SimulatedListener{}
}

// Start implements Listener.
func (s *SimulatedListener) Start(ctx context.Context, onKey func(), onFault func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.onKey = onKey
	s.onFault = onFault
	s.running = true
	return nil
}

// Stop implements Listener.
func (s *SimulatedListener) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.onKey = nil
	s.onFault = nil
	return nil
}

// Available implements Listener.
func (s *SimulatedListener) Available() (bool, string) {
	return true, "simulated input"
}

// Backend implements Listener.
func (s *SimulatedListener) Backend() string { return "simulated" }

// SimulateKey delivers one synthetic typing keystroke.
func (s *SimulatedListener) SimulateKey() {
	s.mu.Lock()
	onKey := s.onKey
	s.mu.Unlock()
	if onKey != nil {
		onKey()
	}
}

// SimulateBurst delivers n keystrokes back to back.
func (s *SimulatedListener) SimulateBurst(n int) {
	for i := 0; i < n; i++ {
		s.SimulateKey()
	}
}

// SimulateFault reports a synthetic source failure.
func (s *SimulatedListener) SimulateFault(err error) {
	s.mu.Lock()
	onFault := s.onFault
	s.mu.Unlock()
	if onFault != nil {
		onFault(err)
	}
}
