package focus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"ghostd/internal/logging"
	"ghostd/internal/metrics"
)

// DefaultWatchInterval is the focus poll period when a caller passes
// zero.
const DefaultWatchInterval = 500 * time.Millisecond

// Watcher lifecycle errors.
var (
	ErrWatcherRunning = errors.New("focus: watcher already running")
	ErrWatcherStopped = errors.New("focus: watcher stopped")
)

// FocusEvent reports that input focus moved to a different window.
type FocusEvent struct {
	ProcessName string
	WindowTitle string
	At          time.Time
}

// Watcher polls the provider for the focused window and emits an event
// whenever the process or title changes. Polling rather than
// subscribing keeps the implementation uniform across platforms; the
// interval is coarse enough to be invisible in profiles.
//
// A Watcher is single-use: Stop closes the event channel and the
// watcher cannot be started again.
type Watcher struct {
	provider *Provider
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup

	events chan FocusEvent

	// Poll-goroutine state, no lock needed.
	lastProc  string
	lastTitle string
	seen      bool
}

// NewWatcher creates a watcher over the provider. interval <= 0
// selects DefaultWatchInterval.
func NewWatcher(p *Provider, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		provider: p,
		interval: interval,
		events:   make(chan FocusEvent, 16),
		log:      logging.Component("focus"),
	}
}

// Events returns the channel of focus changes. Closed by Stop.
func (w *Watcher) Events() <-chan FocusEvent {
	return w.events
}

// Start begins polling.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWatcherStopped
	}
	if w.running {
		return ErrWatcherRunning
	}
	w.running = true
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.poll()
	return nil
}

// Stop halts polling and closes the event channel. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	running := w.running
	w.running = false
	if running {
		close(w.done)
	}
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)
}

func (w *Watcher) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	proc, title, ok := w.provider.WindowInfo()
	if !ok {
		return
	}
	if w.seen && proc == w.lastProc && title == w.lastTitle {
		return
	}
	w.seen = true
	w.lastProc = proc
	w.lastTitle = title
	metrics.GetMetrics().RecordFocusChange()

	ev := FocusEvent{ProcessName: proc, WindowTitle: title, At: time.Now()}
	select {
	case w.events <- ev:
	default:
		// Consumer is behind; the next change supersedes this one
		// anyway.
		w.log.Debug("focus event dropped", "process", proc)
	}
}
