// Package monitor watches global typing activity and detects pauses.
//
// A Listener feeds typing keystrokes from the platform's global key
// source. The Monitor runs a trailing-edge debounce over them: each
// keystroke opens or extends a quiet window, and when the window
// finally elapses with no further keystrokes the pause callback fires
// exactly once. A burst of typing produces one pause, timed from its
// last keystroke.
//
// Keystroke identity never leaves the platform listener. The monitor
// sees only that a typing key went down, not which one.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ghostd/internal/logging"
)

// DefaultDebounce is the pause threshold used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

// Monitor turns raw typing activity into pause events.
type Monitor struct {
	listener Listener
	log      *slog.Logger

	debounceNs atomic.Int64

	// dmu guards the debounce window state. The listener thread and the
	// timer goroutine race on it; the re-check in fire keeps a keystroke
	// that lands during timer wakeup from firing early.
	dmu     sync.Mutex
	lastKey time.Time
	armed   bool

	// wake nudges the timer goroutine on an idle-to-armed transition and
	// on interval changes. Capacity 1: a pending nudge is enough.
	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cbMu    sync.Mutex
	onPause func()
	onFault func(error)

	keys  atomic.Uint64
	fires atomic.Uint64
}

// New creates a monitor over the given listener. A nil listener selects
// the platform default. debounce <= 0 selects DefaultDebounce.
func New(l Listener, debounce time.Duration) *Monitor {
	if l == nil {
		l = newPlatformListener()
	}
	m := &Monitor{
		listener: l,
		log:      logging.Component("monitor"),
		wake:     make(chan struct{}, 1),
	}
	m.SetDebounce(debounce)
	return m
}

// SetDebounce updates the pause threshold. Takes effect immediately,
// including for a window already in progress.
func (m *Monitor) SetDebounce(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounce
	}
	m.debounceNs.Store(int64(d))
	m.nudge()
}

// Debounce returns the current pause threshold.
func (m *Monitor) Debounce() time.Duration {
	return time.Duration(m.debounceNs.Load())
}

// OnPause sets the pause callback. It runs on the monitor's timer
// goroutine and must not call Stop.
func (m *Monitor) OnPause(fn func()) {
	m.cbMu.Lock()
	m.onPause = fn
	m.cbMu.Unlock()
}

// OnFault sets the callback for a listener dying mid-run.
func (m *Monitor) OnFault(fn func(error)) {
	m.cbMu.Lock()
	m.onFault = fn
	m.cbMu.Unlock()
}

// Keys returns the number of typing keystrokes observed.
func (m *Monitor) Keys() uint64 { return m.keys.Load() }

// Fires returns the number of pause events fired.
func (m *Monitor) Fires() uint64 { return m.fires.Load() }

// Start installs the listener and begins pause detection.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.listener.Start(runCtx, m.noteKey, m.fault); err != nil {
		cancel()
		return err
	}

	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop tears down the listener and the timer goroutine. Idempotent.
// A pause whose window elapses at the instant of Stop may be dropped;
// no callback runs after Stop returns.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	err := m.listener.Stop()
	cancel()
	m.wg.Wait()

	m.dmu.Lock()
	m.armed = false
	m.dmu.Unlock()
	select {
	case <-m.wake:
	default:
	}
	return err
}

// Available reports listener availability.
func (m *Monitor) Available() (bool, string) {
	return m.listener.Available()
}

// Backend names the listener event source.
func (m *Monitor) Backend() string {
	return m.listener.Backend()
}

// noteKey records one typing keystroke. Runs on the listener thread;
// nothing here may block.
func (m *Monitor) noteKey() {
	m.keys.Add(1)
	m.dmu.Lock()
	m.lastKey = time.Now()
	wasArmed := m.armed
	m.armed = true
	m.dmu.Unlock()
	if !wasArmed {
		m.nudge()
	}
}

func (m *Monitor) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) fault(err error) {
	m.log.Error("key listener fault", "error", err)
	m.cbMu.Lock()
	fn := m.onFault
	m.cbMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// run owns the debounce timer. Idle until a keystroke arms the window,
// then sleeps toward the deadline, recomputing whenever it moves.
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}

	armed:
		for {
			m.dmu.Lock()
			armed := m.armed
			deadline := m.lastKey.Add(m.Debounce())
			m.dmu.Unlock()

			if !armed {
				break armed
			}

			wait := time.Until(deadline)
			if wait <= 0 {
				if m.fire() {
					break armed
				}
				// Deadline moved under us; recompute.
				continue
			}

			timer.Reset(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				// Elapsed against a possibly stale deadline; the loop
				// re-checks before firing.
			case <-m.wake:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
		}
	}
}

// fire delivers one pause event if the quiet window has truly elapsed.
func (m *Monitor) fire() bool {
	m.dmu.Lock()
	if !m.armed || time.Since(m.lastKey) < m.Debounce() {
		m.dmu.Unlock()
		return false
	}
	m.armed = false
	m.dmu.Unlock()

	m.fires.Add(1)
	m.cbMu.Lock()
	fn := m.onPause
	m.cbMu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}
