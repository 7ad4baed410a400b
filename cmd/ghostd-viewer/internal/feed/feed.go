// Package feed maintains a live subscription to the ghostd event stream
// and accumulates it into a snapshot the dashboard can render.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ghostd/internal/ipc"
)

// Kind classifies an entry in the event log.
type Kind int

const (
	KindPause Kind = iota
	KindFocus
	KindError
	KindConfig
	KindShutdown
)

// maxEntries bounds the in-memory event log.
const maxEntries = 200

// Entry is one row of the event log.
type Entry struct {
	At      time.Time
	Kind    Kind
	Summary string
}

// PauseInfo is the decoded payload of the most recent typing pause.
type PauseInfo struct {
	At          time.Time
	Text        string
	ProcessName string
	WindowTitle string
	CaretX      int
	CaretY      int
	CaretValid  bool
}

// Snapshot is a render-ready copy of the feed state.
type Snapshot struct {
	Connected  bool
	Version    string
	Monitoring bool
	Listener   string
	Reader     string

	Pauses  uint64
	Focuses uint64
	Errors  uint64

	Entries   []Entry // newest first
	LastPause *PauseInfo
}

// Feed connects to the daemon, subscribes to all events, and keeps a
// bounded log. It reconnects on its own until the context ends.
type Feed struct {
	socket     string
	invalidate func()

	mu         sync.Mutex
	connected  bool
	version    string
	monitoring bool
	listener   string
	reader     string
	pauses     uint64
	focuses    uint64
	errors     uint64
	entries    []Entry
	lastPause  *PauseInfo
}

// New creates a feed for the daemon at socket. invalidate is called
// after every state change so the window redraws; it must be safe to
// call from any goroutine.
func New(socket string, invalidate func()) *Feed {
	return &Feed{
		socket:     socket,
		invalidate: invalidate,
	}
}

// Run drives the connect/subscribe/reconnect loop until ctx ends.
func (f *Feed) Run(ctx context.Context) {
	for {
		f.session(ctx)

		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
		f.invalidate()

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *Feed) session(ctx context.Context) {
	cfg := ipc.DefaultClientConfig(f.socket)
	cfg.ClientName = "ghostd-viewer"
	cfg.AutoReconnect = false

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		return
	}
	defer client.Close()

	st, err := client.Status(false)
	if err != nil {
		return
	}
	if err := client.Subscribe(nil); err != nil {
		return
	}

	f.mu.Lock()
	f.connected = true
	f.version = st.Version
	f.monitoring = st.Monitoring
	f.listener = st.ListenerBackend
	f.reader = st.ReaderBackend
	f.mu.Unlock()
	f.invalidate()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			f.handle(ev)
			f.invalidate()
		}
	}
}

// pausePayload mirrors the daemon's typingPaused wire shape.
type pausePayload struct {
	Text        string `json:"text"`
	ProcessName string `json:"processName"`
	WindowTitle string `json:"windowTitle"`
	Caret       struct {
		X     int  `json:"x"`
		Y     int  `json:"y"`
		Valid bool `json:"valid"`
	} `json:"caret"`
}

type focusPayload struct {
	ProcessName string `json:"processName"`
	WindowTitle string `json:"windowTitle"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (f *Feed) handle(ev *ipc.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev.Type {
	case ipc.EventTypingPaused:
		var p pausePayload
		decode(ev.Data, &p)
		f.pauses++
		f.monitoring = true
		f.lastPause = &PauseInfo{
			At:          ev.Timestamp,
			Text:        p.Text,
			ProcessName: p.ProcessName,
			WindowTitle: p.WindowTitle,
			CaretX:      p.Caret.X,
			CaretY:      p.Caret.Y,
			CaretValid:  p.Caret.Valid,
		}
		f.push(Entry{
			At:      ev.Timestamp,
			Kind:    KindPause,
			Summary: fmt.Sprintf("%s  %q", p.ProcessName, clip(p.Text, 60)),
		})

	case ipc.EventFocusChanged:
		var p focusPayload
		decode(ev.Data, &p)
		f.focuses++
		f.push(Entry{
			At:      ev.Timestamp,
			Kind:    KindFocus,
			Summary: fmt.Sprintf("%s  %s", p.ProcessName, clip(p.WindowTitle, 60)),
		})

	case ipc.EventEngineError:
		var p errorPayload
		decode(ev.Data, &p)
		f.errors++
		f.push(Entry{
			At:      ev.Timestamp,
			Kind:    KindError,
			Summary: clip(p.Message, 80),
		})

	case ipc.EventConfigChanged:
		f.push(Entry{
			At:      ev.Timestamp,
			Kind:    KindConfig,
			Summary: "configuration reloaded",
		})

	case ipc.EventDaemonShutdown:
		f.push(Entry{
			At:      ev.Timestamp,
			Kind:    KindShutdown,
			Summary: "daemon shutting down",
		})
	}
}

// push prepends an entry, newest first.
func (f *Feed) push(e Entry) {
	f.entries = append([]Entry{e}, f.entries...)
	if len(f.entries) > maxEntries {
		f.entries = f.entries[:maxEntries]
	}
}

// Snapshot returns a copy of the state for rendering.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make([]Entry, len(f.entries))
	copy(entries, f.entries)

	var last *PauseInfo
	if f.lastPause != nil {
		p := *f.lastPause
		last = &p
	}

	return Snapshot{
		Connected:  f.connected,
		Version:    f.version,
		Monitoring: f.monitoring,
		Listener:   f.listener,
		Reader:     f.reader,
		Pauses:     f.pauses,
		Focuses:    f.focuses,
		Errors:     f.errors,
		Entries:    entries,
		LastPause:  last,
	}
}

func decode(data any, v any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, v)
}

// clip shortens s to at most n runes for a one-line summary.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "..."
}
