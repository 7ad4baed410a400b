//go:build !linux && !windows

package monitor

import "context"

// stubListener stands in on platforms without a global key source.
type stubListener struct{}

func newPlatformListener() Listener {
	return stubListener{}
}

func (stubListener) Start(ctx context.Context, onKey func(), onFault func(error)) error {
	return ErrNotAvailable
}

func (stubListener) Stop() error { return nil }

func (stubListener) Available() (bool, string) {
	return false, "no key listener for this platform"
}

func (stubListener) Backend() string { return "none" }
