//go:build linux

package monitor

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"ghostd/internal/metrics"
)

// inputEvent matches the Linux input_event struct.
type inputEvent struct {
	Time  syscall.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

const (
	evKey     = 1
	keyPress  = 1
	keyRepeat = 2
)

// evdevListener reads key events straight from /dev/input. Works on X11,
// Wayland, and the console alike, at the price of needing read access to
// the event devices (input group membership or root).
type evdevListener struct {
	mu       sync.Mutex
	running  bool
	files    []*os.File
	done     chan struct{}
	stopping atomic.Bool
	live     atomic.Int32
	wg       sync.WaitGroup
}

func newPlatformListener() Listener {
	return &evdevListener{}
}

type keyboardDevice struct {
	path    string
	name    string
	virtual bool
}

// findKeyboards parses /proc/bus/input/devices for key-capable devices.
// Virtual devices (uinput and friends) are flagged: their events are
// synthetic by construction, the injected-input analog on this platform.
func findKeyboards() ([]keyboardDevice, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		devices []keyboardDevice
		cur     keyboardDevice
		isKbd   bool
	)
	flush := func() {
		if isKbd && cur.path != "" {
			devices = append(devices, cur)
		}
		cur = keyboardDevice{}
		isKbd = false
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "N: Name="):
			cur.name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "P: Phys="):
			phys := strings.ToLower(strings.TrimPrefix(line, "P: Phys="))
			cur.virtual = phys == "" || strings.HasPrefix(phys, "virtual")
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					cur.path = "/dev/input/" + part
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			// Keyboards expose a wide key capability bitmap.
			if len(strings.TrimPrefix(line, "B: KEY=")) > 20 {
				isKbd = true
			}
		case line == "":
			flush()
		}
	}
	flush()
	return devices, scanner.Err()
}

// Available checks whether at least one physical keyboard is readable.
func (l *evdevListener) Available() (bool, string) {
	devices, err := findKeyboards()
	if err != nil {
		return false, fmt.Sprintf("cannot enumerate input devices: %v", err)
	}

	physical := 0
	for _, dev := range devices {
		if dev.virtual {
			continue
		}
		physical++
		f, err := os.OpenFile(dev.path, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("keyboard device %s (%s)", dev.path, dev.name)
		}
	}
	if physical == 0 {
		return false, "no keyboard devices found"
	}
	return false, "cannot read keyboard devices (need membership in the input group or root)"
}

// Backend implements Listener.
func (l *evdevListener) Backend() string { return "evdev" }

// Start opens every readable physical keyboard and spawns a reader per
// device.
func (l *evdevListener) Start(ctx context.Context, onKey func(), onFault func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	devices, err := findKeyboards()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	var files []*os.File
	denied := false
	for _, dev := range devices {
		if dev.virtual {
			continue
		}
		f, err := os.OpenFile(dev.path, os.O_RDONLY, 0)
		if err != nil {
			if os.IsPermission(err) {
				denied = true
			}
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		if denied {
			return ErrPermissionDenied
		}
		return ErrNotAvailable
	}

	done := make(chan struct{})
	l.files = files
	l.done = done
	l.stopping.Store(false)
	l.live.Store(int32(len(files)))
	for _, f := range files {
		l.wg.Add(1)
		go l.readLoop(f, onKey, onFault)
	}
	l.running = true

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-done:
		}
	}()
	return nil
}

// readLoop decodes input events from one device. Closing the file from
// Stop unblocks the pending read.
func (l *evdevListener) readLoop(f *os.File, onKey func(), onFault func(error)) {
	defer l.wg.Done()

	eventSize := binary.Size(inputEvent{})
	buf := make([]byte, eventSize)
	typeOff, codeOff, valueOff := eventSize-8, eventSize-6, eventSize-4

	for {
		n, err := f.Read(buf)
		if err != nil {
			// Last reader out reports the fault, unless this is a stop.
			if !l.stopping.Load() && l.live.Add(-1) == 0 {
				onFault(fmt.Errorf("keyboard device lost: %w", err))
			}
			return
		}
		if n < eventSize {
			continue
		}
		if binary.LittleEndian.Uint16(buf[typeOff:]) != evKey {
			continue
		}
		// Auto-repeat keeps a typing burst alive, same as a fresh press.
		value := int32(binary.LittleEndian.Uint32(buf[valueOff:]))
		if value != keyPress && value != keyRepeat {
			continue
		}
		metrics.GetMetrics().RecordKeyObserved()
		if typingKeyCode(binary.LittleEndian.Uint16(buf[codeOff:])) {
			onKey()
		} else {
			metrics.GetMetrics().RecordKeyFiltered()
		}
	}
}

// Stop closes the devices and waits for the readers to drain.
func (l *evdevListener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.stopping.Store(true)
	files := l.files
	done := l.done
	l.files = nil
	l.done = nil
	l.mu.Unlock()

	close(done)
	for _, f := range files {
		f.Close()
	}
	l.wg.Wait()
	return nil
}
