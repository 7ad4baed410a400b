//go:build !linux && !windows

package overlay

import "errors"

var errNoOverlayBackend = errors.New("overlay: no drawing backend for this platform")

// stubDevice fails creation so Initialize reports the missing backend
// instead of pretending to draw.
type stubDevice struct{}

func newPlatformDevice() Device {
	return stubDevice{}
}

func (stubDevice) Create() error                  { return errNoOverlayBackend }
func (stubDevice) Present(Frame) error            { return errNoOverlayBackend }
func (stubDevice) Hide() error                    { return nil }
func (stubDevice) Measure(string, int) (int, int) { return 0, 0 }
func (stubDevice) Pump()                          {}
func (stubDevice) Release()                       {}
