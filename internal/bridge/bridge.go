// Package bridge delivers engine events to a host-registered callback
// from a single dispatcher goroutine.
//
// Producers (key listener, focus watcher, overlay thread) run on their
// own goroutines and must never block on or crash from host code. The
// bridge decouples them with a bounded queue and invokes the callback
// with panics contained.
//
// Each callback registration gets a liveness token. Events capture the
// token at enqueue time and are discarded at dispatch if the host has
// since unbound or replaced the callback, so a stale event can never
// reach a callback it was not queued for.
package bridge

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"ghostd/internal/logging"
	"ghostd/internal/metrics"
)

// DefaultQueueSize bounds the number of events waiting for dispatch.
// When the queue is full the oldest queued event is evicted; Publish
// never blocks.
const DefaultQueueSize = 100

var (
	// ErrAlreadyRunning is returned when Start is called on a running bridge.
	ErrAlreadyRunning = errors.New("bridge: already running")
)

// Callback receives an event name and its JSON payload.
type Callback func(event, payload string)

// registration pairs a callback with its liveness token. Pointer
// identity is the token: a rebind allocates a new registration, and
// queued items holding the old pointer fail the dispatch check.
type registration struct {
	seq uint64
	fn  Callback
}

type item struct {
	reg     *registration
	event   string
	payload string
}

// Bridge is the event queue between engine goroutines and the host.
type Bridge struct {
	log     *slog.Logger
	current atomic.Pointer[registration]
	seq     atomic.Uint64

	mu      sync.Mutex
	queue   chan item
	done    chan struct{}
	wg      sync.WaitGroup
	running bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// New creates a bridge with the given queue capacity.
// size <= 0 selects DefaultQueueSize.
func New(size int) *Bridge {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bridge{
		log:   logging.Component("bridge"),
		queue: make(chan item, size),
	}
}

// Start launches the dispatcher goroutine.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}
	b.done = make(chan struct{})
	b.running = true
	b.wg.Add(1)
	go b.dispatch(b.done)
	return nil
}

// Close stops the dispatcher and unbinds the callback. Events still
// queued are discarded. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	b.current.Store(nil)
	return nil
}

// Bind registers the host callback, replacing any previous one, and
// returns its liveness token. Events queued before the rebind are
// discarded at dispatch rather than delivered to cb.
func (b *Bridge) Bind(cb Callback) uint64 {
	seq := b.seq.Add(1)
	b.current.Store(&registration{seq: seq, fn: cb})
	return seq
}

// Unbind removes the callback. Queued events are discarded at dispatch.
func (b *Bridge) Unbind() {
	b.current.Store(nil)
}

// Publish queues an event for delivery. Never blocks: when the queue
// is full the oldest queued event is evicted, so a stalled host wakes
// to the freshest events. Returns false only when no callback is
// bound.
func (b *Bridge) Publish(event, payload string) bool {
	reg := b.current.Load()
	if reg == nil {
		return false
	}
	it := item{reg: reg, event: event, payload: payload}
	for {
		select {
		case b.queue <- it:
			return true
		default:
		}
		// Queue full: evict the oldest and retry. The dispatcher may
		// drain concurrently, in which case the retry just succeeds.
		select {
		case <-b.queue:
			n := b.dropped.Add(1)
			metrics.GetMetrics().RecordBridgeDrop()
			if n == 1 || n%100 == 0 {
				b.log.Warn("event queue full, evicting oldest", "event", event, "dropped_total", n)
			}
		default:
		}
	}
}

// Depth returns the number of events waiting for dispatch.
func (b *Bridge) Depth() int {
	return len(b.queue)
}

// Dropped returns the total number of events dropped at enqueue.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Delivered returns the total number of events handed to the callback.
func (b *Bridge) Delivered() uint64 {
	return b.delivered.Load()
}

// Panics returns the total number of callback invocations that panicked.
func (b *Bridge) Panics() uint64 {
	return b.panics.Load()
}

func (b *Bridge) dispatch(done chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-done:
			return
		case it := <-b.queue:
			// The liveness check: deliver only if the registration the
			// event was queued under is still the current one.
			if b.current.Load() != it.reg {
				continue
			}
			b.invoke(it)
		}
	}
}

// invoke runs the callback with panic containment. A host fault drops
// the one event and leaves the dispatcher running.
func (b *Bridge) invoke(it item) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			metrics.GetMetrics().RecordBridgePanic()
			b.log.Error("host callback panicked",
				"event", it.event,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	it.reg.fn(it.event, it.payload)
	b.delivered.Add(1)
	metrics.GetMetrics().RecordBridgePublish()
}
