package overlay

import (
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newReadySurface(t *testing.T) (*SimulatedDevice, *Surface) {
	t.Helper()
	sim := NewSimulatedDevice()
	s := New(sim)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(s.Destroy)
	return sim, s
}

// =============================================================================
// Lifecycle tests
// =============================================================================

func TestSurfaceInitialize(t *testing.T) {
	sim := NewSimulatedDevice()
	s := New(sim)

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Destroy()

	if !sim.Created() {
		t.Error("device not created")
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state = %v, want ready", got)
	}
	if err := s.Initialize(); err != nil {
		t.Errorf("second Initialize should be a no-op: %v", err)
	}
}

func TestSurfaceInitializeFailure(t *testing.T) {
	sim := NewSimulatedDevice()
	wantErr := errors.New("no display")
	sim.FailCreate(wantErr)

	s := New(sim)
	if err := s.Initialize(); !errors.Is(err, wantErr) {
		t.Fatalf("Initialize = %v, want device error", err)
	}
	if got := s.State(); got != StateUninitialized {
		t.Errorf("state after failure = %v, want uninitialized", got)
	}

	// The failure is retryable.
	sim.FailCreate(nil)
	if err := s.Initialize(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	s.Destroy()
}

func TestSurfaceDestroyIdempotent(t *testing.T) {
	sim, s := newReadySurface(t)

	s.Destroy()
	s.Destroy()

	if got := s.State(); got != StateDestroyed {
		t.Errorf("state = %v, want destroyed", got)
	}
	if sim.Releases() != 1 {
		t.Errorf("device released %d times, want 1", sim.Releases())
	}
	if s.UpdateText("x", 0, 0, 0) {
		t.Error("UpdateText must refuse after Destroy")
	}
	if err := s.Initialize(); err != ErrDestroyed {
		t.Errorf("Initialize after Destroy = %v, want ErrDestroyed", err)
	}
}

func TestSurfaceDestroyBeforeInitialize(t *testing.T) {
	s := New(NewSimulatedDevice())
	s.Destroy()
	if err := s.Initialize(); err != ErrDestroyed {
		t.Errorf("Initialize = %v, want ErrDestroyed", err)
	}
}

// =============================================================================
// Render pass tests
// =============================================================================

func TestUpdateTextRenders(t *testing.T) {
	sim, s := newReadySurface(t)

	if !s.UpdateText("hello", 10, 20, 14) {
		t.Fatal("UpdateText rejected")
	}
	waitFor(t, func() bool { return len(sim.Frames()) == 1 }, "no frame presented")

	f, _ := sim.LastFrame()
	if f.Text != "hello" || f.X != 10 || f.Y != 20 {
		t.Errorf("frame = %+v", f)
	}
	// 5 chars * 7 px + 2*4 padding, one line * 16 px + 2*4 padding.
	if f.Width != 43 || f.Height != 24 {
		t.Errorf("frame box = %dx%d, want 43x24", f.Width, f.Height)
	}
	waitFor(t, s.Visible, "surface never became visible")
	if s.Renders() != 1 {
		t.Errorf("Renders = %d, want 1", s.Renders())
	}
}

func TestMinimumWindowSize(t *testing.T) {
	sim, s := newReadySurface(t)

	s.UpdateText("a", 0, 0, 14)
	waitFor(t, func() bool { return len(sim.Frames()) == 1 }, "no frame presented")

	f, _ := sim.LastFrame()
	// 1 char * 7 px + 8 padding = 15, clamped up to the minimum width.
	if f.Width != minWidth {
		t.Errorf("width = %d, want clamp to %d", f.Width, minWidth)
	}
}

func TestEmptyTextHides(t *testing.T) {
	sim, s := newReadySurface(t)

	s.UpdateText("hello", 0, 0, 0)
	waitFor(t, s.Visible, "surface never became visible")

	s.UpdateText("", 0, 0, 0)
	waitFor(t, func() bool { return s.State() == StateHidden }, "surface never hid")

	if got := len(sim.Frames()); got != 1 {
		t.Errorf("empty text must not present a frame, got %d frames", got)
	}
}

func TestShowEmptyIsNoop(t *testing.T) {
	sim, s := newReadySurface(t)

	if s.Show() {
		t.Error("Show with empty staged text must refuse")
	}
	time.Sleep(20 * time.Millisecond)
	if len(sim.Frames()) != 0 || sim.Hides() != 0 {
		t.Error("Show on empty text must reach the device not at all")
	}
}

func TestHideThenShowAgain(t *testing.T) {
	sim, s := newReadySurface(t)

	s.UpdateText("ghost", 5, 5, 0)
	waitFor(t, s.Visible, "surface never became visible")

	if !s.Hide() {
		t.Fatal("Hide rejected")
	}
	waitFor(t, func() bool { return s.State() == StateHidden }, "surface never hid")

	if !s.Show() {
		t.Fatal("Show rejected")
	}
	waitFor(t, func() bool { return len(sim.Frames()) == 2 }, "Show did not re-present")
	f, _ := sim.LastFrame()
	if f.Text != "ghost" {
		t.Errorf("re-shown text = %q", f.Text)
	}
}

func TestSequentialUpdatesKeepOrder(t *testing.T) {
	sim, s := newReadySurface(t)

	s.UpdateText("first", 0, 0, 0)
	waitFor(t, func() bool { return len(sim.Frames()) == 1 }, "first frame missing")
	s.UpdateText("second", 0, 0, 0)
	waitFor(t, func() bool { return len(sim.Frames()) == 2 }, "second frame missing")

	frames := sim.Frames()
	if frames[0].Text != "first" || frames[1].Text != "second" {
		t.Errorf("frame order = %q, %q", frames[0].Text, frames[1].Text)
	}
}

// =============================================================================
// Device failure tests
// =============================================================================

func TestDeviceLostRecreatesOnce(t *testing.T) {
	sim, s := newReadySurface(t)

	sim.FailNextPresent(ErrDeviceLost)
	s.UpdateText("still here", 0, 0, 0)

	waitFor(t, func() bool { return len(sim.Frames()) == 1 }, "retry never presented")
	if s.Recreates() != 1 {
		t.Errorf("Recreates = %d, want 1", s.Recreates())
	}
	if sim.Releases() != 1 {
		t.Errorf("device released %d times during recovery, want 1", sim.Releases())
	}
	if !sim.Created() {
		t.Error("device should be recreated")
	}
	waitFor(t, s.Visible, "surface not visible after recovery")
}

func TestNonRecoverableErrorSkipsPass(t *testing.T) {
	sim, s := newReadySurface(t)

	sim.FailNextPresent(errors.New("transient draw failure"))
	s.UpdateText("skipped", 0, 0, 0)
	time.Sleep(30 * time.Millisecond)

	if len(sim.Frames()) != 0 {
		t.Error("failed pass must not record a frame")
	}
	if s.Visible() {
		t.Error("failed pass must not mark the surface visible")
	}
	if s.Recreates() != 0 {
		t.Error("non-lost errors must not trigger recreation")
	}

	// The next pass is unaffected.
	s.UpdateText("fine now", 0, 0, 0)
	waitFor(t, func() bool { return len(sim.Frames()) == 1 }, "surface wedged after failed pass")
}

// =============================================================================
// Style staging tests
// =============================================================================

func TestStyleAppliesNextPass(t *testing.T) {
	sim, s := newReadySurface(t)

	s.SetFont("mono", 18)
	s.SetTextColor(Color{R: 1})
	s.SetBackgroundColor(Color{B: 1, A: 0.5})

	s.UpdateText("styled", 0, 0, 0)
	waitFor(t, func() bool { return len(sim.Frames()) == 1 }, "no frame presented")

	f, _ := sim.LastFrame()
	if f.FontName != "mono" || f.FontSize != 18 {
		t.Errorf("font = %q/%d", f.FontName, f.FontSize)
	}
	if f.TextColor.R != 1 || f.TextColor.G != 0 {
		t.Errorf("text color = %+v", f.TextColor)
	}
	if f.Background.B != 1 || f.Background.A != 0.5 {
		t.Errorf("background = %+v", f.Background)
	}
}

func TestColorClamp(t *testing.T) {
	c := Color{R: -1, G: 2, B: 0.5, A: 3}.clamp()
	want := Color{R: 0, G: 1, B: 0.5, A: 1}
	if c != want {
		t.Errorf("clamp = %+v, want %+v", c, want)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		StateHidden:        "hidden",
		StateVisible:       "visible",
		StateDestroyed:     "destroyed",
		State(99):          "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
