//go:build !linux && !windows

package focus

// stubReader backs platforms without an accessibility integration.
// Every query reports absence; the engine still runs, it just never
// attaches context to pause events.
type stubReader struct{}

func newPlatformReader() Reader {
	return stubReader{}
}

func (stubReader) Initialize() error { return nil }

func (stubReader) Resolve() (Snapshot, bool) { return Snapshot{}, false }

func (stubReader) PointerRect() (CaretInfo, bool) { return CaretInfo{}, false }

func (stubReader) Available() (bool, string) {
	return false, "no accessibility reader for this platform"
}

func (stubReader) Backend() string { return "none" }

func (stubReader) Close() error { return nil }
