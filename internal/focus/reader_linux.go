//go:build linux

package focus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/godbus/dbus/v5"

	"ghostd/internal/logging"
)

// AT-SPI D-Bus constants
const (
	a11yBusName      = "org.a11y.Bus"
	a11yBusPath      = "/org/a11y/bus"
	a11yBusInterface = "org.a11y.Bus"

	atspiRegistryName   = "org.a11y.atspi.Registry"
	atspiRootPath       = "/org/a11y/atspi/accessible/root"
	atspiCollectionIfce = "org.a11y.atspi.Collection"
	atspiAccessibleIfce = "org.a11y.atspi.Accessible"
	atspiTextIfce       = "org.a11y.atspi.Text"
	atspiComponentIfce  = "org.a11y.atspi.Component"
	atspiValueIfce      = "org.a11y.atspi.Value"

	propertiesGet = "org.freedesktop.DBus.Properties.Get"
)

// AT-SPI enum values used by the match rule and coordinate queries.
const (
	stateFocused       = 12 // ATSPI_STATE_FOCUSED
	matchAll           = 1  // ATSPI_Collection_MATCH_ALL
	sortOrderCanonical = 0  // ATSPI_Collection_SORT_ORDER_CANONICAL
	coordTypeScreen    = 0  // ATSPI_COORD_TYPE_SCREEN
)

// atspiCallTimeout bounds every call that crosses into an application's
// accessibility implementation. A hung application must not stall the
// pause pipeline for the default D-Bus 25s.
const atspiCallTimeout = 250 * time.Millisecond

// matchRule is the Collection.GetMatches rule, wire type
// (aiia{ss}iaiiasib). Field order is the marshal order.
type matchRule struct {
	States     []int32
	StateMatch int32
	Attributes map[string]string
	AttrMatch  int32
	Roles      []int32
	RoleMatch  int32
	Interfaces []string
	IfaceMatch int32
	Invert     bool
}

// accessibleRef is an AT-SPI object reference, wire type (so): the
// owning application's unique bus name plus the object path.
type accessibleRef struct {
	Sender string
	Path   dbus.ObjectPath
}

// rect32 matches the (iiii) extents struct returned by Component.
type rect32 struct {
	X      int32
	Y      int32
	Width  int32
	Height int32
}

// x11Reader resolves focus context on X11 sessions. Window metadata
// comes from the window manager over EWMH; text and caret tiers come
// from AT-SPI2 on the dedicated accessibility bus. The accessibility
// bus is optional: without it the reader still reports window metadata
// and the pointer fallback.
type x11Reader struct {
	log *slog.Logger

	mu   sync.Mutex
	xu   *xgbutil.XUtil
	bus  *dbus.Conn // accessibility bus, nil when unavailable
	init bool
}

func newPlatformReader() Reader {
	return &x11Reader{log: logging.Component("focus")}
}

func (r *x11Reader) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.init {
		return nil
	}

	xu, err := xgbutil.NewConn()
	if err != nil {
		return fmt.Errorf("connect to X server: %w", err)
	}
	r.xu = xu

	bus, err := openA11yBus()
	if err != nil {
		r.log.Warn("accessibility bus unavailable", "error", err)
	} else {
		r.bus = bus
	}

	r.init = true
	return nil
}

// openA11yBus discovers the dedicated accessibility bus through the
// session bus and connects to it.
func openA11yBus() (*dbus.Conn, error) {
	session, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	var addr string
	obj := session.Object(a11yBusName, dbus.ObjectPath(a11yBusPath))
	if err := obj.Call(a11yBusInterface+".GetAddress", 0).Store(&addr); err != nil {
		return nil, fmt.Errorf("resolve accessibility bus address: %w", err)
	}

	conn, err := dbus.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("connect to accessibility bus: %w", err)
	}
	return conn, nil
}

func (r *x11Reader) Available() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init {
		return false, "not initialized"
	}
	if r.bus == nil {
		return false, "accessibility bus unavailable; window metadata only"
	}
	return true, ""
}

func (r *x11Reader) Backend() string { return "atspi" }

func (r *x11Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init {
		return nil
	}
	r.init = false
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.xu != nil {
		r.xu.Conn().Close()
		r.xu = nil
	}
	return nil
}

func (r *x11Reader) Resolve() (Snapshot, bool) {
	r.mu.Lock()
	xu := r.xu
	bus := r.bus
	init := r.init
	r.mu.Unlock()
	if !init || xu == nil {
		return Snapshot{}, false
	}

	win, err := ewmh.ActiveWindowGet(xu)
	if err != nil || win == 0 {
		return Snapshot{}, false
	}

	snap := Snapshot{
		WindowTitle: windowTitle(xu, win),
		ProcessName: windowProcess(xu, win),
	}

	if bus != nil {
		if ref, ok := r.focusedAccessible(bus); ok {
			snap.Text = []TextProbe{
				r.probeCaretTail(bus, ref),
				r.probeSelection(bus, ref),
				r.probeDocumentTail(bus, ref),
				r.probeValue(bus, ref),
				r.probeName(bus, ref),
			}
			snap.Caret = []CaretProbe{
				r.probeCaretExtents(bus, ref),
				r.probeFrameExtents(bus, ref),
			}
		}
	}
	return snap, true
}

func (r *x11Reader) PointerRect() (CaretInfo, bool) {
	r.mu.Lock()
	xu := r.xu
	init := r.init
	r.mu.Unlock()
	if !init || xu == nil {
		return CaretInfo{}, false
	}

	reply, err := xproto.QueryPointer(xu.Conn(), xu.RootWin()).Reply()
	if err != nil {
		return CaretInfo{}, false
	}
	return CaretInfo{
		X:      int(reply.RootX),
		Y:      int(reply.RootY),
		Width:  1,
		Height: 16,
		Valid:  true,
	}, true
}

func windowTitle(xu *xgbutil.XUtil, win xproto.Window) string {
	if name, err := ewmh.WmNameGet(xu, win); err == nil && name != "" {
		return name
	}
	if name, err := icccm.WmNameGet(xu, win); err == nil {
		return name
	}
	return ""
}

func windowProcess(xu *xgbutil.XUtil, win xproto.Window) string {
	pid, err := ewmh.WmPidGet(xu, win)
	if err != nil || pid == 0 {
		return ""
	}
	comm, err := os.ReadFile("/proc/" + strconv.FormatUint(uint64(pid), 10) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(comm))
}

// focusedAccessible asks the registry's root collection for the one
// object carrying STATE_FOCUSED. Applications that do not speak AT-SPI
// simply never appear in the result.
func (r *x11Reader) focusedAccessible(bus *dbus.Conn) (accessibleRef, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), atspiCallTimeout)
	defer cancel()

	rule := matchRule{
		States:     []int32{1 << stateFocused, 0},
		StateMatch: matchAll,
		Attributes: map[string]string{},
		Roles:      []int32{},
		Interfaces: []string{},
	}

	var refs []accessibleRef
	obj := bus.Object(atspiRegistryName, dbus.ObjectPath(atspiRootPath))
	err := obj.CallWithContext(ctx, atspiCollectionIfce+".GetMatches", 0,
		rule, uint32(sortOrderCanonical), int32(1), true).Store(&refs)
	if err != nil || len(refs) == 0 {
		return accessibleRef{}, false
	}
	return refs[0], true
}

// property fetches one property with the probe timeout applied.
func property(bus *dbus.Conn, ref accessibleRef, iface, name string) (dbus.Variant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), atspiCallTimeout)
	defer cancel()
	var v dbus.Variant
	obj := bus.Object(ref.Sender, ref.Path)
	err := obj.CallWithContext(ctx, propertiesGet, 0, iface, name).Store(&v)
	return v, err
}

func propertyInt32(bus *dbus.Conn, ref accessibleRef, iface, name string) (int32, bool) {
	v, err := property(bus, ref, iface, name)
	if err != nil {
		return 0, false
	}
	n, ok := v.Value().(int32)
	return n, ok
}

func getText(bus *dbus.Conn, ref accessibleRef, start, end int32) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), atspiCallTimeout)
	defer cancel()
	var text string
	obj := bus.Object(ref.Sender, ref.Path)
	err := obj.CallWithContext(ctx, atspiTextIfce+".GetText", 0, start, end).Store(&text)
	if err != nil {
		return "", false
	}
	return text, true
}

// probeCaretTail extracts the maxChars characters ending at the caret.
// AT-SPI text offsets are character-based, so the range arithmetic is
// exact.
func (r *x11Reader) probeCaretTail(bus *dbus.Conn, ref accessibleRef) TextProbe {
	return func(maxChars int) (string, bool) {
		offset, ok := propertyInt32(bus, ref, atspiTextIfce, "CaretOffset")
		if !ok || offset <= 0 {
			return "", false
		}
		start := offset - int32(maxChars)
		if start < 0 {
			start = 0
		}
		return getText(bus, ref, start, offset)
	}
}

func (r *x11Reader) probeSelection(bus *dbus.Conn, ref accessibleRef) TextProbe {
	return func(maxChars int) (string, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), atspiCallTimeout)
		defer cancel()
		var start, end int32
		obj := bus.Object(ref.Sender, ref.Path)
		err := obj.CallWithContext(ctx, atspiTextIfce+".GetSelection", 0, int32(0)).Store(&start, &end)
		if err != nil || end <= start {
			return "", false
		}
		if end-start > int32(maxChars) {
			start = end - int32(maxChars)
		}
		return getText(bus, ref, start, end)
	}
}

func (r *x11Reader) probeDocumentTail(bus *dbus.Conn, ref accessibleRef) TextProbe {
	return func(maxChars int) (string, bool) {
		count, ok := propertyInt32(bus, ref, atspiTextIfce, "CharacterCount")
		if !ok || count <= 0 {
			return "", false
		}
		start := count - int32(maxChars)
		if start < 0 {
			start = 0
		}
		return getText(bus, ref, start, count)
	}
}

func (r *x11Reader) probeValue(bus *dbus.Conn, ref accessibleRef) TextProbe {
	return func(int) (string, bool) {
		v, err := property(bus, ref, atspiValueIfce, "CurrentValue")
		if err != nil {
			return "", false
		}
		f, ok := v.Value().(float64)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
}

func (r *x11Reader) probeName(bus *dbus.Conn, ref accessibleRef) TextProbe {
	return func(int) (string, bool) {
		v, err := property(bus, ref, atspiAccessibleIfce, "Name")
		if err != nil {
			return "", false
		}
		name, ok := v.Value().(string)
		if !ok || name == "" {
			return "", false
		}
		return name, true
	}
}

// probeCaretExtents reports the screen rectangle of the character at
// the caret. Implementations that cannot answer return a zero rect,
// which maps to ok=false.
func (r *x11Reader) probeCaretExtents(bus *dbus.Conn, ref accessibleRef) CaretProbe {
	return func() (CaretInfo, bool) {
		offset, ok := propertyInt32(bus, ref, atspiTextIfce, "CaretOffset")
		if !ok || offset < 0 {
			return CaretInfo{}, false
		}
		ctx, cancel := context.WithTimeout(context.Background(), atspiCallTimeout)
		defer cancel()
		var x, y, w, h int32
		obj := bus.Object(ref.Sender, ref.Path)
		err := obj.CallWithContext(ctx, atspiTextIfce+".GetCharacterExtents", 0,
			offset, uint32(coordTypeScreen)).Store(&x, &y, &w, &h)
		if err != nil || (x == 0 && y == 0 && w == 0 && h == 0) {
			return CaretInfo{}, false
		}
		return CaretInfo{X: int(x), Y: int(y), Width: int(w), Height: int(h), Valid: true}, true
	}
}

// probeFrameExtents falls back to the bounds of the focused widget
// itself when no caret rectangle is exposed.
func (r *x11Reader) probeFrameExtents(bus *dbus.Conn, ref accessibleRef) CaretProbe {
	return func() (CaretInfo, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), atspiCallTimeout)
		defer cancel()
		var ext rect32
		obj := bus.Object(ref.Sender, ref.Path)
		err := obj.CallWithContext(ctx, atspiComponentIfce+".GetExtents", 0,
			uint32(coordTypeScreen)).Store(&ext)
		if err != nil || (ext.Width <= 0 && ext.Height <= 0) {
			return CaretInfo{}, false
		}
		return CaretInfo{
			X:      int(ext.X),
			Y:      int(ext.Y),
			Width:  int(ext.Width),
			Height: int(ext.Height),
			Valid:  true,
		}, true
	}
}
