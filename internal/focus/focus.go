// Package focus resolves best-effort text context and caret geometry for
// whatever currently holds input focus on the desktop.
//
// Arbitrary third-party applications expose wildly inconsistent
// accessibility support, so extraction runs as an ordered chain of
// capability probes: the most precise source (a caret-anchored text range)
// is tried first, the least precise (the pointer position) last. A missing
// capability is the common case, not an error: every tier answers with
// ok=false and the chain moves on.
//
// Platform support:
//   - Linux: AT-SPI2 over D-Bus for text/caret tiers, EWMH for window
//     metadata (X11 sessions).
//   - Windows: user32 caret/control queries against the focused window.
//   - Other platforms: no reader; every query reports Valid=false.
package focus

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"ghostd/internal/logging"
)

// DefaultMaxChars is the context length used when a caller passes zero.
const DefaultMaxChars = 100

// CaretInfo is the screen-space rectangle of the text caret.
// Valid=false is the explicit "no usable geometry" sentinel; consumers
// must check it before using the coordinates.
type CaretInfo struct {
	X      int
	Y      int
	Width  int
	Height int
	Valid  bool
}

// Context is the result of one focus query. Constructed fresh per query
// and passed by value; never mutated after return.
//
// TextTier and CaretTier record which chain position answered, counted
// from zero in probe order; for the caret chain the provider's pointer
// fallback sits one past the reader's tiers. -1 means no tier answered.
type Context struct {
	Text        string
	ProcessName string
	WindowTitle string
	Caret       CaretInfo
	TextTier    int
	CaretTier   int
	Valid       bool
}

// TextProbe attempts one text-extraction tier. Returns ok=false when the
// capability is absent for the current target.
type TextProbe func(maxChars int) (string, bool)

// CaretProbe attempts one caret-geometry tier.
type CaretProbe func() (CaretInfo, bool)

// Snapshot describes the focused target at a single instant: its window
// metadata plus the ordered probe chains bound to it. Probes capture
// whatever handles they need; invoking them later than the snapshot is
// best-effort by design.
type Snapshot struct {
	ProcessName string
	WindowTitle string

	// Text tiers in preference order: caret range, selection range,
	// document tail, value property, accessible name.
	Text []TextProbe

	// Caret tiers in preference order: caret range rect, platform caret
	// rect of the focused window. The pointer fallback is appended by the
	// provider, not the reader.
	Caret []CaretProbe
}

// Reader is the platform capability surface behind a Provider.
type Reader interface {
	// Initialize acquires platform handles. Called once before any
	// Resolve; failure leaves the reader unusable until retried.
	Initialize() error

	// Resolve snapshots the focused target. ok=false means nothing
	// usable has focus right now.
	Resolve() (Snapshot, bool)

	// PointerRect reports the pointer position as a synthetic 1x16 caret
	// rectangle. Used only when a focus target exists but no caret tier
	// produced geometry.
	PointerRect() (CaretInfo, bool)

	// Available reports whether this reader can work in the current
	// environment, with a human-readable reason.
	Available() (bool, string)

	// Backend names the accessibility source, e.g. "atspi" or "win32".
	Backend() string

	// Close releases platform handles. Idempotent.
	Close() error
}

// ErrNotInitialized is returned by Initialize-dependent calls before a
// successful Initialize.
var ErrNotInitialized = errors.New("focus: provider not initialized")

// PlatformBackend names the default reader for this platform without
// initializing it.
func PlatformBackend() string {
	return newPlatformReader().Backend()
}

// Provider runs the fallback chain against a platform Reader.
// Stateless aside from the reader handle; safe for concurrent queries.
type Provider struct {
	mu     sync.Mutex
	reader Reader
	ready  bool
	log    *slog.Logger
}

// NewProvider creates a provider over the given reader. A nil reader
// selects the platform default.
func NewProvider(r Reader) *Provider {
	if r == nil {
		r = newPlatformReader()
	}
	return &Provider{
		reader: r,
		log:    logging.Component("focus"),
	}
}

// Initialize acquires the platform accessibility subsystem. Idempotent.
func (p *Provider) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	if err := p.reader.Initialize(); err != nil {
		return err
	}
	if ok, detail := p.reader.Available(); !ok {
		p.log.Warn("accessibility degraded", "detail", detail)
	}
	p.ready = true
	return nil
}

// Close releases the reader. Subsequent queries report Valid=false until
// the provider is re-initialized.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil
	}
	p.ready = false
	return p.reader.Close()
}

// Available reports reader availability.
func (p *Provider) Available() (bool, string) {
	return p.reader.Available()
}

// Backend names the accessibility source.
func (p *Provider) Backend() string {
	return p.reader.Backend()
}

// Current returns the best available context for the focused target.
// maxChars bounds the extracted text length; zero or negative selects
// DefaultMaxChars. Absence of every capability yields a zero Context with
// Valid=false, never an error.
func (p *Provider) Current(maxChars int) Context {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	p.mu.Lock()
	ready := p.ready
	reader := p.reader
	p.mu.Unlock()
	if !ready {
		return Context{TextTier: -1, CaretTier: -1}
	}

	snap, ok := reader.Resolve()
	if !ok {
		return Context{TextTier: -1, CaretTier: -1}
	}

	ctx := Context{
		ProcessName: snap.ProcessName,
		WindowTitle: snap.WindowTitle,
		TextTier:    -1,
		CaretTier:   -1,
	}

	for tier, probe := range snap.Text {
		if text, ok := probe(maxChars); ok {
			text = clampTail(text, maxChars)
			if text != "" {
				ctx.Text = text
				ctx.TextTier = tier
				break
			}
		}
	}

	for tier, probe := range snap.Caret {
		if caret, ok := probe(); ok && caret.Valid {
			ctx.Caret = caret
			ctx.CaretTier = tier
			break
		}
	}
	if !ctx.Caret.Valid {
		if caret, ok := reader.PointerRect(); ok && caret.Valid {
			ctx.Caret = caret
			ctx.CaretTier = len(snap.Caret)
		}
	}

	ctx.Valid = ctx.Text != "" || ctx.Caret.Valid
	return ctx
}

// WindowInfo resolves only the focused window's metadata, skipping the
// text and caret tiers. Cheap enough to poll.
func (p *Provider) WindowInfo() (process, title string, ok bool) {
	p.mu.Lock()
	ready := p.ready
	reader := p.reader
	p.mu.Unlock()
	if !ready {
		return "", "", false
	}
	snap, ok := reader.Resolve()
	if !ok {
		return "", "", false
	}
	return snap.ProcessName, snap.WindowTitle, true
}

// clampTail trims text to its last maxChars runes. Readers already bound
// their extraction, but tiers that read whole values re-clamp here.
func clampTail(text string, maxChars int) string {
	text = strings.TrimRight(text, "\x00")
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[len(runes)-maxChars:])
}
