package focus

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeReader scripts the platform surface so the chain logic can be
// exercised without a desktop session.
type fakeReader struct {
	mu sync.Mutex

	initErr error
	inits   int
	closes  int

	snap   Snapshot
	snapOK bool

	pointer      CaretInfo
	pointerOK    bool
	pointerCalls int

	avail  bool
	detail string
}

func (f *fakeReader) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeReader) Resolve() (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.snapOK
}

func (f *fakeReader) PointerRect() (CaretInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointerCalls++
	return f.pointer, f.pointerOK
}

func (f *fakeReader) Available() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avail, f.detail
}

func (f *fakeReader) Backend() string { return "fake" }

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeReader) setWindow(process, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.ProcessName = process
	f.snap.WindowTitle = title
	f.snapOK = true
}

func textOK(s string) TextProbe {
	return func(int) (string, bool) { return s, true }
}

func textMiss() TextProbe {
	return func(int) (string, bool) { return "", false }
}

func caretOK(c CaretInfo) CaretProbe {
	c.Valid = true
	return func() (CaretInfo, bool) { return c, true }
}

func caretMiss() CaretProbe {
	return func() (CaretInfo, bool) { return CaretInfo{}, false }
}

// =============================================================================
// Provider lifecycle tests
// =============================================================================

func TestProviderUninitialized(t *testing.T) {
	p := NewProvider(&fakeReader{snapOK: true})

	ctx := p.Current(0)
	if ctx.Valid {
		t.Error("uninitialized provider should report invalid context")
	}
	if _, _, ok := p.WindowInfo(); ok {
		t.Error("uninitialized provider should report no window info")
	}
}

func TestProviderInitializeError(t *testing.T) {
	wantErr := errors.New("no display")
	f := &fakeReader{initErr: wantErr}
	p := NewProvider(f)

	if err := p.Initialize(); !errors.Is(err, wantErr) {
		t.Fatalf("expected init error, got %v", err)
	}
	if ctx := p.Current(0); ctx.Valid {
		t.Error("provider should stay unusable after failed init")
	}
}

func TestProviderInitializeIdempotent(t *testing.T) {
	f := &fakeReader{avail: true}
	p := NewProvider(f)

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if f.inits != 1 {
		t.Errorf("reader initialized %d times, want 1", f.inits)
	}
}

func TestProviderClose(t *testing.T) {
	f := &fakeReader{avail: true, snapOK: true}
	p := NewProvider(f)

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
	if f.closes != 1 {
		t.Errorf("reader closed %d times, want 1", f.closes)
	}
	if ctx := p.Current(0); ctx.Valid {
		t.Error("closed provider should report invalid context")
	}
}

// =============================================================================
// Text tier chain tests
// =============================================================================

func TestTextTierOrder(t *testing.T) {
	var thirdCalled bool
	f := &fakeReader{
		snapOK: true,
		snap: Snapshot{
			Text: []TextProbe{
				textMiss(),
				textOK("from the second tier"),
				func(int) (string, bool) { thirdCalled = true; return "never", true },
			},
		},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx := p.Current(0)
	if ctx.Text != "from the second tier" {
		t.Errorf("Text = %q, want second tier's answer", ctx.Text)
	}
	if ctx.TextTier != 1 {
		t.Errorf("TextTier = %d, want 1", ctx.TextTier)
	}
	if thirdCalled {
		t.Error("chain should stop at the first tier that yields text")
	}
	if !ctx.Valid {
		t.Error("context with text should be valid")
	}
}

func TestTextTierSkipsEmptyAnswer(t *testing.T) {
	// A tier can answer ok with an empty string (an empty document);
	// the chain must keep going.
	f := &fakeReader{
		snapOK: true,
		snap: Snapshot{
			Text: []TextProbe{textOK(""), textOK("fallback")},
		},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if ctx := p.Current(0); ctx.Text != "fallback" {
		t.Errorf("Text = %q, want fallback tier", ctx.Text)
	}
}

func TestTextClampToTail(t *testing.T) {
	long := strings.Repeat("x", 240) + "END"
	f := &fakeReader{
		snapOK: true,
		snap:   Snapshot{Text: []TextProbe{textOK(long)}},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx := p.Current(50)
	if len([]rune(ctx.Text)) != 50 {
		t.Errorf("clamped length = %d runes, want 50", len([]rune(ctx.Text)))
	}
	if !strings.HasSuffix(ctx.Text, "END") {
		t.Error("clamp must keep the tail, not the head")
	}
}

func TestTextClampCountsRunes(t *testing.T) {
	long := strings.Repeat("é", 150) // multi-byte characters
	f := &fakeReader{
		snapOK: true,
		snap:   Snapshot{Text: []TextProbe{textOK(long)}},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx := p.Current(0) // DefaultMaxChars
	if n := len([]rune(ctx.Text)); n != DefaultMaxChars {
		t.Errorf("clamped length = %d runes, want %d", n, DefaultMaxChars)
	}
}

func TestClampTail(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxChars int
		want     string
	}{
		{"shorter stays", "abc", 10, "abc"},
		{"exact stays", "abcde", 5, "abcde"},
		{"longer keeps tail", "abcdefgh", 3, "fgh"},
		{"trailing nul stripped", "abc\x00\x00", 10, "abc"},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampTail(tt.in, tt.maxChars); got != tt.want {
				t.Errorf("clampTail(%q, %d) = %q, want %q", tt.in, tt.maxChars, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Caret tier chain tests
// =============================================================================

func TestCaretTierOrder(t *testing.T) {
	want := CaretInfo{X: 100, Y: 200, Width: 2, Height: 18}
	f := &fakeReader{
		snapOK:    true,
		pointerOK: true,
		pointer:   CaretInfo{X: 1, Y: 1, Width: 1, Height: 16, Valid: true},
		snap: Snapshot{
			Caret: []CaretProbe{caretMiss(), caretOK(want)},
		},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx := p.Current(0)
	if ctx.Caret.X != want.X || ctx.Caret.Y != want.Y {
		t.Errorf("Caret = %+v, want second tier's rect", ctx.Caret)
	}
	if ctx.CaretTier != 1 {
		t.Errorf("CaretTier = %d, want 1", ctx.CaretTier)
	}
	if f.pointerCalls != 0 {
		t.Error("pointer fallback must not run when a caret tier answered")
	}
	if !ctx.Valid {
		t.Error("context with caret should be valid")
	}
}

func TestCaretPointerFallback(t *testing.T) {
	f := &fakeReader{
		snapOK:    true,
		pointerOK: true,
		pointer:   CaretInfo{X: 640, Y: 480, Width: 1, Height: 16, Valid: true},
		snap: Snapshot{
			Caret: []CaretProbe{caretMiss()},
		},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx := p.Current(0)
	if !ctx.Caret.Valid || ctx.Caret.X != 640 {
		t.Errorf("Caret = %+v, want pointer rect", ctx.Caret)
	}
	if ctx.CaretTier != 1 {
		t.Errorf("CaretTier = %d, want one past the reader tiers", ctx.CaretTier)
	}
	if !ctx.Valid {
		t.Error("pointer-only context should still be valid")
	}
}

func TestNoCapabilities(t *testing.T) {
	f := &fakeReader{
		snapOK: true,
		snap:   Snapshot{ProcessName: "kate", WindowTitle: "notes.txt"},
	}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx := p.Current(0)
	if ctx.Valid {
		t.Error("no text and no caret must yield Valid=false")
	}
	if ctx.TextTier != -1 || ctx.CaretTier != -1 {
		t.Errorf("tiers should report -1 when nothing answered: %d/%d", ctx.TextTier, ctx.CaretTier)
	}
	if ctx.ProcessName != "kate" || ctx.WindowTitle != "notes.txt" {
		t.Errorf("window metadata should survive: %+v", ctx)
	}
}

func TestNoFocusTarget(t *testing.T) {
	f := &fakeReader{snapOK: false, pointerOK: true, pointer: CaretInfo{Valid: true}}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if ctx := p.Current(0); ctx.Valid {
		t.Error("no focus target must yield an invalid context")
	}
	if f.pointerCalls != 0 {
		t.Error("pointer fallback requires a focus target")
	}
}

func TestWindowInfo(t *testing.T) {
	f := &fakeReader{snapOK: true, snap: Snapshot{ProcessName: "emacs", WindowTitle: "*scratch*"}}
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	proc, title, ok := p.WindowInfo()
	if !ok || proc != "emacs" || title != "*scratch*" {
		t.Errorf("WindowInfo = %q, %q, %v", proc, title, ok)
	}
}

// =============================================================================
// Watcher tests
// =============================================================================

func newWatchedProvider(t *testing.T) (*fakeReader, *Provider) {
	t.Helper()
	f := &fakeReader{avail: true}
	f.setWindow("emacs", "main.go")
	p := NewProvider(f)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return f, p
}

func TestWatcherEmitsOnChange(t *testing.T) {
	f, p := newWatchedProvider(t)

	w := NewWatcher(p, 10*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// First poll reports the initial window.
	select {
	case ev := <-w.Events():
		if ev.ProcessName != "emacs" {
			t.Errorf("first event process = %q", ev.ProcessName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial focus event")
	}

	f.setWindow("firefox", "Inbox")
	select {
	case ev := <-w.Events():
		if ev.ProcessName != "firefox" || ev.WindowTitle != "Inbox" {
			t.Errorf("change event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no focus change event")
	}

	// Unchanged focus must stay silent.
	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event for unchanged focus: %+v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	_, p := newWatchedProvider(t)

	w := NewWatcher(p, 10*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()

	// Drain until close; a closed channel yields immediately.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestWatcherSingleUse(t *testing.T) {
	_, p := newWatchedProvider(t)

	w := NewWatcher(p, 10*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(); err != ErrWatcherRunning {
		t.Errorf("double Start = %v, want ErrWatcherRunning", err)
	}
	w.Stop()
	w.Stop() // idempotent

	if err := w.Start(); err != ErrWatcherStopped {
		t.Errorf("Start after Stop = %v, want ErrWatcherStopped", err)
	}
}
