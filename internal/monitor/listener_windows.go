//go:build windows

package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"ghostd/internal/metrics"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
)

const (
	whKeyboardLL  = 13
	hcAction      = 0
	wmKeyDown     = 0x0100
	wmSysKeyDown  = 0x0104
	wmQuit        = 0x0012
	llkhfInjected = 0x10
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT.
type kbdllHookStruct struct {
	VkCode    uint32
	ScanCode  uint32
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

// point mirrors POINT.
type point struct {
	X, Y int32
}

// message mirrors MSG.
type message struct {
	Hwnd    uintptr
	Msg     uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
	Private uint32
}

// The hook procedure is handed to Windows as a raw function pointer, so
// there is exactly one trampoline per process and one listener may own
// it at a time.
var (
	activeHook   atomic.Pointer[hookListener]
	hookProcPtr  uintptr
	hookProcOnce sync.Once
)

func lowLevelKeyboardProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) == hcAction && (wParam == wmKeyDown || wParam == wmSysKeyDown) {
		kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		met := metrics.GetMetrics()
		met.RecordKeyObserved()
		switch {
		// Injected events (SendInput and friends) never count as typing.
		case kb.Flags&llkhfInjected != 0:
			met.RecordKeyInjected()
		case !typingVirtualKey(kb.VkCode):
			met.RecordKeyFiltered()
		default:
			if h := activeHook.Load(); h != nil && h.onKey != nil {
				h.onKey()
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return ret
}

// hookListener captures global key-downs with a WH_KEYBOARD_LL hook.
// The hook lives on a dedicated locked OS thread running a message
// loop; Stop posts WM_QUIT to that thread.
type hookListener struct {
	mu       sync.Mutex
	running  bool
	done     chan struct{}
	threadID atomic.Uint32
	stopping atomic.Bool
	onKey    func()
	onFault  func(error)
}

func newPlatformListener() Listener {
	return &hookListener{}
}

// Available implements Listener. The hook needs no special privileges.
func (h *hookListener) Available() (bool, string) {
	return true, "low-level keyboard hook"
}

// Backend implements Listener.
func (h *hookListener) Backend() string { return "hook" }

// Start installs the hook and returns once the message loop owns it.
func (h *hookListener) Start(ctx context.Context, onKey func(), onFault func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrAlreadyRunning
	}
	if !activeHook.CompareAndSwap(nil, h) {
		return ErrListenerBusy
	}

	hookProcOnce.Do(func() {
		hookProcPtr = syscall.NewCallback(lowLevelKeyboardProc)
	})

	h.onKey = onKey
	h.onFault = onFault
	h.stopping.Store(false)

	ready := make(chan error, 1)
	done := make(chan struct{})
	h.done = done
	go h.pump(ready, done)

	select {
	case err := <-ready:
		if err != nil {
			activeHook.CompareAndSwap(h, nil)
			h.onKey = nil
			h.onFault = nil
			return err
		}
	case <-time.After(InstallTimeout):
		// The pump re-checks stopping right after install, so a late
		// success unwinds itself.
		h.stopping.Store(true)
		if tid := h.threadID.Load(); tid != 0 {
			procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
		}
		activeHook.CompareAndSwap(h, nil)
		h.onKey = nil
		h.onFault = nil
		return ErrInstallTimeout
	}
	h.running = true

	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-done:
		}
	}()
	return nil
}

// pump owns the hook for its whole life. A low-level hook only fires
// while the installing thread runs a message loop, so installation, the
// GetMessage loop, and removal all stay on one locked OS thread.
func (h *hookListener) pump(ready chan<- error, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	hook, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, hookProcPtr, 0, 0)
	if hook == 0 {
		ready <- fmt.Errorf("SetWindowsHookEx failed: %w", callErr)
		return
	}
	h.threadID.Store(windows.GetCurrentThreadId())
	ready <- nil
	if h.stopping.Load() {
		procUnhookWindowsHookEx.Call(hook)
		return
	}

	var m message
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(r) == 0 {
			// WM_QUIT.
			break
		}
		if int32(r) == -1 {
			if !h.stopping.Load() && h.onFault != nil {
				h.onFault(fmt.Errorf("keyboard hook message loop failed"))
			}
			break
		}
		// No windows on this thread; nothing to translate or dispatch.
	}

	procUnhookWindowsHookEx.Call(hook)
}

// Stop posts WM_QUIT to the hook thread and waits for it to unwind.
func (h *hookListener) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.stopping.Store(true)
	done := h.done
	tid := h.threadID.Load()
	h.mu.Unlock()

	procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
	<-done

	activeHook.CompareAndSwap(h, nil)
	h.mu.Lock()
	h.onKey = nil
	h.onFault = nil
	h.mu.Unlock()
	return nil
}
