//go:build windows

package focus

import (
	"log/slog"
	"path/filepath"
	"sync"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"ghostd/internal/logging"
)

var (
	focusUser32 = windows.NewLazySystemDLL("user32.dll")

	procGetWindowTextW      = focusUser32.NewProc("GetWindowTextW")
	procGetWindowTextLength = focusUser32.NewProc("GetWindowTextLengthW")
	procSendMessageTimeoutW = focusUser32.NewProc("SendMessageTimeoutW")
	procClientToScreen      = focusUser32.NewProc("ClientToScreen")
	procGetCursorPos        = focusUser32.NewProc("GetCursorPos")
	procGetWindowRect       = focusUser32.NewProc("GetWindowRect")
)

const (
	wmGetText       = 0x000D
	wmGetTextLength = 0x000E
	emGetSel        = 0x00B0

	smtoAbortIfHung = 0x0002
	// Per-message timeout so a hung target cannot stall the pause
	// pipeline.
	messageTimeoutMS = 200

	// textFetchCap bounds WM_GETTEXT transfers in UTF-16 units. Callers
	// clamp to their own character budget afterwards.
	textFetchCap = 4096
)

type screenPoint struct {
	X int32
	Y int32
}

// win32Reader resolves focus context through user32. The focused
// control is found with GetGUIThreadInfo against the foreground
// window's thread; text tiers query that control with marshalled
// window messages, so they work across process boundaries.
type win32Reader struct {
	log *slog.Logger

	mu   sync.Mutex
	init bool
}

func newPlatformReader() Reader {
	return &win32Reader{log: logging.Component("focus")}
}

func (r *win32Reader) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init = true
	return nil
}

func (r *win32Reader) Available() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init {
		return false, "not initialized"
	}
	return true, ""
}

func (r *win32Reader) Backend() string { return "win32" }

func (r *win32Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init = false
	return nil
}

func (r *win32Reader) Resolve() (Snapshot, bool) {
	r.mu.Lock()
	init := r.init
	r.mu.Unlock()
	if !init {
		return Snapshot{}, false
	}

	fg := windows.GetForegroundWindow()
	if fg == 0 {
		return Snapshot{}, false
	}

	var pid uint32
	tid, err := windows.GetWindowThreadProcessId(fg, &pid)
	if err != nil {
		r.log.Debug("window thread query failed", "error", err)
		tid = 0
	}

	title := windowText(fg)
	snap := Snapshot{
		WindowTitle: title,
		ProcessName: processName(pid),
	}

	// The focused control usually differs from the foreground window
	// itself. Fall back to the top-level window when the thread exposes
	// no focus handle.
	focusHwnd := fg
	if tid != 0 {
		var gti windows.GUIThreadInfo
		gti.Size = uint32(unsafe.Sizeof(gti))
		if err := windows.GetGUIThreadInfo(tid, &gti); err == nil && gti.Focus != 0 {
			focusHwnd = gti.Focus
		}
	}

	snap.Text = []TextProbe{
		probeControlCaretTail(focusHwnd),
		probeControlSelection(focusHwnd),
		probeControlTail(focusHwnd),
		probeWindowTextValue(focusHwnd),
		probeTitleName(title),
	}
	snap.Caret = []CaretProbe{
		probeCaretRect(tid),
		probeWindowFrame(focusHwnd),
	}
	return snap, true
}

func (r *win32Reader) PointerRect() (CaretInfo, bool) {
	var pt screenPoint
	ret, _, _ := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	if ret == 0 {
		return CaretInfo{}, false
	}
	return CaretInfo{X: int(pt.X), Y: int(pt.Y), Width: 1, Height: 16, Valid: true}, true
}

// sendMessage wraps SendMessageTimeoutW with the abort-if-hung policy.
// ok=false covers both timeouts and targets that reject the message.
func sendMessage(hwnd windows.HWND, msg uint32, wparam, lparam uintptr) (uintptr, bool) {
	var result uintptr
	ret, _, _ := procSendMessageTimeoutW.Call(
		uintptr(hwnd), uintptr(msg), wparam, lparam,
		smtoAbortIfHung, messageTimeoutMS,
		uintptr(unsafe.Pointer(&result)))
	if ret == 0 {
		return 0, false
	}
	return result, true
}

// controlUnits fetches the control's text as raw UTF-16 units via
// WM_GETTEXT, which the system marshals across processes.
func controlUnits(hwnd windows.HWND) ([]uint16, bool) {
	n, ok := sendMessage(hwnd, wmGetTextLength, 0, 0)
	if !ok || n == 0 {
		return nil, false
	}
	if n > textFetchCap {
		n = textFetchCap
	}
	buf := make([]uint16, n+1)
	copied, ok := sendMessage(hwnd, wmGetText, uintptr(len(buf)), uintptr(unsafe.Pointer(&buf[0])))
	if !ok || copied == 0 {
		return nil, false
	}
	if copied > uintptr(len(buf)) {
		copied = uintptr(len(buf))
	}
	return buf[:copied], true
}

// selectionRange decodes EM_GETSEL from the packed return value.
// Pointer out-params are not marshalled across processes, so only the
// LOWORD/HIWORD form is safe here; offsets past 64K saturate.
func selectionRange(hwnd windows.HWND) (start, end int, ok bool) {
	res, ok := sendMessage(hwnd, emGetSel, 0, 0)
	if !ok {
		return 0, 0, false
	}
	return int(res & 0xFFFF), int((res >> 16) & 0xFFFF), true
}

func decodeTail(units []uint16, maxChars int) string {
	// Two units per character covers the surrogate worst case.
	if len(units) > maxChars*2 {
		units = units[len(units)-maxChars*2:]
	}
	return string(utf16.Decode(units))
}

// probeControlCaretTail extracts the text leading up to the caret of
// the focused control. The caret position is the end of the selection
// range, which EM_GETSEL reports even when nothing is selected.
func probeControlCaretTail(hwnd windows.HWND) TextProbe {
	return func(maxChars int) (string, bool) {
		_, end, ok := selectionRange(hwnd)
		if !ok || end <= 0 {
			return "", false
		}
		units, ok := controlUnits(hwnd)
		if !ok {
			return "", false
		}
		if end > len(units) {
			end = len(units)
		}
		return decodeTail(units[:end], maxChars), true
	}
}

func probeControlSelection(hwnd windows.HWND) TextProbe {
	return func(maxChars int) (string, bool) {
		start, end, ok := selectionRange(hwnd)
		if !ok || end <= start {
			return "", false
		}
		units, ok := controlUnits(hwnd)
		if !ok {
			return "", false
		}
		if end > len(units) {
			end = len(units)
		}
		if start > end {
			start = end
		}
		return decodeTail(units[start:end], maxChars), true
	}
}

func probeControlTail(hwnd windows.HWND) TextProbe {
	return func(maxChars int) (string, bool) {
		units, ok := controlUnits(hwnd)
		if !ok {
			return "", false
		}
		return decodeTail(units, maxChars), true
	}
}

// probeWindowTextValue reads the focused control's cached window text.
// Unlike WM_GETTEXT this does not enter the target's message loop, so
// it answers for controls that ignore text messages.
func probeWindowTextValue(hwnd windows.HWND) TextProbe {
	return func(int) (string, bool) {
		text := windowText(hwnd)
		if text == "" {
			return "", false
		}
		return text, true
	}
}

func probeTitleName(title string) TextProbe {
	return func(int) (string, bool) {
		if title == "" {
			return "", false
		}
		return title, true
	}
}

// probeCaretRect reads the caret rectangle from the focused thread's
// GUI state. Queried at probe time rather than snapshot time so the
// rectangle tracks the blinking caret's current owner.
func probeCaretRect(tid uint32) CaretProbe {
	return func() (CaretInfo, bool) {
		if tid == 0 {
			return CaretInfo{}, false
		}
		var gti windows.GUIThreadInfo
		gti.Size = uint32(unsafe.Sizeof(gti))
		if err := windows.GetGUIThreadInfo(tid, &gti); err != nil {
			return CaretInfo{}, false
		}
		if gti.CaretHandle == 0 {
			return CaretInfo{}, false
		}
		rc := gti.CaretRect
		w := int(rc.Right - rc.Left)
		h := int(rc.Bottom - rc.Top)
		if h <= 0 {
			return CaretInfo{}, false
		}
		if w <= 0 {
			w = 1
		}
		// CaretRect is in the owning window's client coordinates.
		pt := screenPoint{X: rc.Left, Y: rc.Top}
		ret, _, _ := procClientToScreen.Call(uintptr(gti.CaretHandle), uintptr(unsafe.Pointer(&pt)))
		if ret == 0 {
			return CaretInfo{}, false
		}
		return CaretInfo{X: int(pt.X), Y: int(pt.Y), Width: w, Height: h, Valid: true}, true
	}
}

func probeWindowFrame(hwnd windows.HWND) CaretProbe {
	return func() (CaretInfo, bool) {
		var rc windows.Rect
		ret, _, _ := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&rc)))
		if ret == 0 {
			return CaretInfo{}, false
		}
		w := int(rc.Right - rc.Left)
		h := int(rc.Bottom - rc.Top)
		if w <= 0 && h <= 0 {
			return CaretInfo{}, false
		}
		return CaretInfo{X: int(rc.Left), Y: int(rc.Top), Width: w, Height: h, Valid: true}, true
	}
}

// windowText reads the title-cache text for a window handle. Works for
// top-level windows of any process; empty for most foreign controls.
func windowText(hwnd windows.HWND) string {
	n, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	if n > textFetchCap {
		n = textFetchCap
	}
	buf := make([]uint16, n+1)
	copied, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if copied == 0 {
		return ""
	}
	return windows.UTF16ToString(buf)
}

func processName(pid uint32) string {
	if pid == 0 {
		return ""
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	var buf [windows.MAX_PATH]uint16
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}
