package overlay

import (
	"errors"
	"strings"
	"sync"
)

// ErrDeviceLost marks a recoverable device failure: the surface
// goroutine releases the device, recreates it once, and retries the
// pass.
var ErrDeviceLost = errors.New("overlay: device lost")

// Color is an RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

func (c Color) clamp() Color {
	cl := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return Color{R: cl(c.R), G: cl(c.G), B: cl(c.B), A: cl(c.A)}
}

// Frame is one fully-specified render pass: the window geometry has
// already been padded and clamped by the surface.
type Frame struct {
	Text   string
	X, Y   int
	Width  int
	Height int

	FontName string // empty selects the platform default
	FontSize int

	TextColor  Color
	Background Color // zero alpha: no background box
}

// Device is the platform drawing backend. Every method is called only
// from the surface goroutine, which is locked to an OS thread for the
// device's lifetime.
type Device interface {
	// Create builds the window, font, and drawing resources.
	Create() error

	// Present moves and sizes the window to the frame, paints it, and
	// raises it without activating it. Returns ErrDeviceLost (possibly
	// wrapped) when the resources must be rebuilt.
	Present(f Frame) error

	// Hide removes the window from the screen without releasing
	// resources.
	Hide() error

	// Measure returns the pixel extents of text at the given size
	// using the device's active font.
	Measure(text string, fontSize int) (w, h int)

	// Pump drains pending windowing-system events. Called before each
	// command is handled; a no-op where the backend needs none.
	Pump()

	// Release tears down everything Create built. Idempotent.
	Release()
}

// SimulatedDevice records every call for tests. No window is involved;
// measurement uses fixed per-character metrics so geometry assertions
// are deterministic.
type SimulatedDevice struct {
	mu sync.Mutex

	created  bool
	releases int
	hides    int
	pumps    int
	frames   []Frame

	createErr   error
	presentErrs []error // consumed front-first by Present
}

func NewSimulatedDevice() *SimulatedDevice {
	return &SimulatedDevice{}
}

// FailCreate makes every subsequent Create return err (nil to clear).
func (d *SimulatedDevice) FailCreate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createErr = err
}

// FailNextPresent queues an error for the next Present call.
func (d *SimulatedDevice) FailNextPresent(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentErrs = append(d.presentErrs, err)
}

func (d *SimulatedDevice) Create() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return d.createErr
	}
	d.created = true
	return nil
}

func (d *SimulatedDevice) Present(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.presentErrs) > 0 {
		err := d.presentErrs[0]
		d.presentErrs = d.presentErrs[1:]
		if err != nil {
			return err
		}
	}
	if !d.created {
		return ErrDeviceLost
	}
	d.frames = append(d.frames, f)
	return nil
}

func (d *SimulatedDevice) Hide() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hides++
	return nil
}

func (d *SimulatedDevice) Measure(text string, fontSize int) (int, int) {
	lines := strings.Split(text, "\n")
	maxChars := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > maxChars {
			maxChars = n
		}
	}
	return maxChars * 7, len(lines) * 16
}

func (d *SimulatedDevice) Pump() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pumps++
}

func (d *SimulatedDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = false
	d.releases++
}

// Frames returns a copy of every presented frame in order.
func (d *SimulatedDevice) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Frame, len(d.frames))
	copy(out, d.frames)
	return out
}

// LastFrame returns the most recent presented frame.
func (d *SimulatedDevice) LastFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return Frame{}, false
	}
	return d.frames[len(d.frames)-1], true
}

// Hides returns how many hide calls the device received.
func (d *SimulatedDevice) Hides() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hides
}

// Releases returns how many release calls the device received.
func (d *SimulatedDevice) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

// Created reports whether the device currently holds resources.
func (d *SimulatedDevice) Created() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}
