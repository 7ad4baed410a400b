//go:build windows

package overlay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"ghostd/internal/logging"
)

var (
	overlayUser32 = windows.NewLazySystemDLL("user32.dll")
	overlayGdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procRegisterClassExW           = overlayUser32.NewProc("RegisterClassExW")
	procUnregisterClassW           = overlayUser32.NewProc("UnregisterClassW")
	procCreateWindowExW            = overlayUser32.NewProc("CreateWindowExW")
	procDestroyWindow              = overlayUser32.NewProc("DestroyWindow")
	procDefWindowProcW             = overlayUser32.NewProc("DefWindowProcW")
	procShowWindow                 = overlayUser32.NewProc("ShowWindow")
	procSetWindowPos               = overlayUser32.NewProc("SetWindowPos")
	procSetLayeredWindowAttributes = overlayUser32.NewProc("SetLayeredWindowAttributes")
	procGetDC                      = overlayUser32.NewProc("GetDC")
	procReleaseDC                  = overlayUser32.NewProc("ReleaseDC")
	procFillRect                   = overlayUser32.NewProc("FillRect")
	procPeekMessageW               = overlayUser32.NewProc("PeekMessageW")
	procTranslateMessage           = overlayUser32.NewProc("TranslateMessage")
	procDispatchMessageW           = overlayUser32.NewProc("DispatchMessageW")

	procCreateFontW           = overlayGdi32.NewProc("CreateFontW")
	procDeleteObject          = overlayGdi32.NewProc("DeleteObject")
	procSelectObject          = overlayGdi32.NewProc("SelectObject")
	procSetTextColor          = overlayGdi32.NewProc("SetTextColor")
	procSetBkMode             = overlayGdi32.NewProc("SetBkMode")
	procTextOutW              = overlayGdi32.NewProc("TextOutW")
	procCreateSolidBrush      = overlayGdi32.NewProc("CreateSolidBrush")
	procGetTextExtentPoint32W = overlayGdi32.NewProc("GetTextExtentPoint32W")
)

const (
	wsPopup = 0x80000000

	// The four window-contract bits: input-transparent, never
	// activated, topmost, hidden from task switchers.
	wsExLayered     = 0x00080000
	wsExTransparent = 0x00000020
	wsExTopmost     = 0x00000008
	wsExNoActivate  = 0x08000000
	wsExToolWindow  = 0x00000080

	lwaColorKey = 0x0001
	lwaAlpha    = 0x0002

	swHide            = 0
	swpNoActivate     = 0x0010
	swpShowWindow     = 0x0040
	transparentBkMode = 1
	pmRemove          = 0x0001

	defaultCharset   = 1
	clearTypeQuality = 5
	fontWeightNormal = 400

	errClassAlreadyExists = 1410
)

// hwndTopmost is (HWND)-1.
const hwndTopmost = ^uintptr(0)

// colorKey is the layered-window transparency key. Background pixels
// painted with it vanish from the screen; (1,1,1) is close enough to
// black that no configured color will collide with it in practice.
const colorKey = 0x00010101

const overlayClassName = "ghostdOverlayWindow"

const defaultWindowsFont = "Consolas"

type wndClassExW struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

type gdiSize struct {
	CX int32
	CY int32
}

type overlayMsg struct {
	Hwnd    windows.HWND
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

var (
	overlayProcOnce sync.Once
	overlayProcPtr  uintptr
)

// overlayWndProc returns the shared window procedure, allocated once:
// NewCallback slots are process-global and never freed.
func overlayWndProc() uintptr {
	overlayProcOnce.Do(func() {
		overlayProcPtr = syscall.NewCallback(func(hwnd, msg, wparam, lparam uintptr) uintptr {
			ret, _, _ := procDefWindowProcW.Call(hwnd, msg, wparam, lparam)
			return ret
		})
	})
	return overlayProcPtr
}

// gdiDevice draws the overlay on a layered popup window with plain
// GDI. The extended styles carry the whole window contract, so the
// window procedure is just DefWindowProc.
type gdiDevice struct {
	log *slog.Logger

	hwnd       windows.HWND
	inst       windows.Handle
	class      *uint16
	registered bool

	font       windows.Handle
	fontName   string
	fontSize   int
	lineHeight int
}

func newPlatformDevice() Device {
	return &gdiDevice{log: logging.Component("overlay")}
}

func (d *gdiDevice) Create() error {
	var inst windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, nil, &inst); err != nil {
		return fmt.Errorf("module handle: %w", err)
	}
	class, err := windows.UTF16PtrFromString(overlayClassName)
	if err != nil {
		return err
	}

	wc := wndClassExW{
		WndProc:   overlayWndProc(),
		Instance:  inst,
		ClassName: class,
	}
	wc.Size = uint32(unsafe.Sizeof(wc))
	atom, _, callErr := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))
	if atom == 0 {
		if errno, ok := callErr.(syscall.Errno); !ok || errno != errClassAlreadyExists {
			return fmt.Errorf("register overlay class: %w", callErr)
		}
	}

	hwnd, _, callErr := procCreateWindowExW.Call(
		wsExLayered|wsExTransparent|wsExTopmost|wsExNoActivate|wsExToolWindow,
		uintptr(unsafe.Pointer(class)),
		0,
		wsPopup,
		0, 0, minWidth, minHeight,
		0, 0, uintptr(inst), 0)
	if hwnd == 0 {
		return fmt.Errorf("create overlay window: %w", callErr)
	}

	d.hwnd = windows.HWND(hwnd)
	d.inst = inst
	d.class = class
	d.registered = true

	name := d.fontName
	if name == "" {
		name = defaultWindowsFont
	}
	size := d.fontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	if err := d.createFont(name, size); err != nil {
		d.Release()
		return err
	}

	procSetLayeredWindowAttributes.Call(uintptr(d.hwnd), colorKey, 255, lwaColorKey|lwaAlpha)
	return nil
}

func (d *gdiDevice) createFont(name string, size int) error {
	face, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	// Negative height selects by character height rather than cell
	// height.
	font, _, _ := procCreateFontW.Call(
		uintptr(int32(-size)), 0, 0, 0,
		fontWeightNormal, 0, 0, 0,
		defaultCharset, 0, 0, clearTypeQuality, 0,
		uintptr(unsafe.Pointer(face)))
	if font == 0 {
		return fmt.Errorf("create font %q", name)
	}
	if d.font != 0 {
		procDeleteObject.Call(uintptr(d.font))
	}
	d.font = windows.Handle(font)
	d.fontName = name
	d.fontSize = size
	d.lineHeight = d.measureLineHeight()
	return nil
}

// measureLineHeight samples a representative string with the active
// font; falls back to the point size plus leading.
func (d *gdiDevice) measureLineHeight() int {
	if w, h := d.extentOf("Ag"); w > 0 && h > 0 {
		return h
	}
	return d.fontSize + 4
}

// extentOf returns the pixel extents of one line under the active
// font.
func (d *gdiDevice) extentOf(line string) (int, int) {
	if d.hwnd == 0 || line == "" {
		return 0, 0
	}
	dc, _, _ := procGetDC.Call(uintptr(d.hwnd))
	if dc == 0 {
		return 0, 0
	}
	defer procReleaseDC.Call(uintptr(d.hwnd), dc)

	old, _, _ := procSelectObject.Call(dc, uintptr(d.font))
	defer procSelectObject.Call(dc, old)

	units := utf16Units(line)
	var sz gdiSize
	ret, _, _ := procGetTextExtentPoint32W.Call(dc, uintptr(unsafe.Pointer(&units[0])), uintptr(len(units)), uintptr(unsafe.Pointer(&sz)))
	if ret == 0 {
		return 0, 0
	}
	return int(sz.CX), int(sz.CY)
}

func (d *gdiDevice) Present(f Frame) error {
	if d.hwnd == 0 {
		return ErrDeviceLost
	}

	name := f.FontName
	if name == "" {
		name = defaultWindowsFont
	}
	size := f.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	if name != d.fontName || size != d.fontSize {
		if err := d.createFont(name, size); err != nil {
			d.log.Warn("font change failed", "font", name, "error", err)
		}
	}

	ret, _, _ := procSetWindowPos.Call(
		uintptr(d.hwnd), hwndTopmost,
		uintptr(int32(f.X)), uintptr(int32(f.Y)),
		uintptr(int32(f.Width)), uintptr(int32(f.Height)),
		swpNoActivate|swpShowWindow)
	if ret == 0 {
		return fmt.Errorf("%w: window gone", ErrDeviceLost)
	}

	dc, _, _ := procGetDC.Call(uintptr(d.hwnd))
	if dc == 0 {
		return fmt.Errorf("%w: no device context", ErrDeviceLost)
	}
	defer procReleaseDC.Call(uintptr(d.hwnd), dc)

	// Zero-alpha background paints the transparency key, so only the
	// glyphs remain visible.
	bg := uintptr(colorKey)
	if f.Background.A > 0 {
		bg = colorrefOf(f.Background)
	}
	rect := windows.Rect{Right: int32(f.Width), Bottom: int32(f.Height)}
	brush, _, _ := procCreateSolidBrush.Call(bg)
	if brush != 0 {
		procFillRect.Call(dc, uintptr(unsafe.Pointer(&rect)), brush)
		procDeleteObject.Call(brush)
	}

	old, _, _ := procSelectObject.Call(dc, uintptr(d.font))
	procSetBkMode.Call(dc, transparentBkMode)
	procSetTextColor.Call(dc, colorrefOf(f.TextColor))

	// Whole-window alpha carries the text color's alpha component.
	alpha := uintptr(f.TextColor.A*255 + 0.5)
	if alpha > 255 {
		alpha = 255
	}
	procSetLayeredWindowAttributes.Call(uintptr(d.hwnd), colorKey, alpha, lwaColorKey|lwaAlpha)

	y := textPadding
	for _, line := range strings.Split(f.Text, "\n") {
		if line != "" {
			units := utf16Units(line)
			procTextOutW.Call(dc, textPadding, uintptr(y), uintptr(unsafe.Pointer(&units[0])), uintptr(len(units)))
		}
		y += d.lineHeight
	}
	procSelectObject.Call(dc, old)
	return nil
}

func (d *gdiDevice) Hide() error {
	if d.hwnd == 0 {
		return nil
	}
	procShowWindow.Call(uintptr(d.hwnd), swHide)
	return nil
}

func (d *gdiDevice) Measure(text string, fontSize int) (int, int) {
	if fontSize > 0 && fontSize != d.fontSize && d.hwnd != 0 {
		name := d.fontName
		if name == "" {
			name = defaultWindowsFont
		}
		if err := d.createFont(name, fontSize); err != nil {
			d.log.Warn("font resize failed", "error", err)
		}
	}

	maxW, totalH := 0, 0
	for _, line := range strings.Split(text, "\n") {
		w, _ := d.extentOf(line)
		if w > maxW {
			maxW = w
		}
		totalH += d.lineHeight
	}
	if maxW == 0 {
		// No window yet or empty text; approximate from the font size.
		maxW = len([]rune(text)) * (d.fontSize / 2)
	}
	return maxW, totalH
}

func (d *gdiDevice) Pump() {
	if d.hwnd == 0 {
		return
	}
	var msg overlayMsg
	for {
		ret, _, _ := procPeekMessageW.Call(uintptr(unsafe.Pointer(&msg)), uintptr(d.hwnd), 0, 0, pmRemove)
		if ret == 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

func (d *gdiDevice) Release() {
	if d.font != 0 {
		procDeleteObject.Call(uintptr(d.font))
		d.font = 0
	}
	if d.hwnd != 0 {
		procDestroyWindow.Call(uintptr(d.hwnd))
		d.hwnd = 0
	}
	if d.registered {
		// Fails while other instances hold windows of the class;
		// harmless either way.
		procUnregisterClassW.Call(uintptr(unsafe.Pointer(d.class)), uintptr(d.inst))
		d.registered = false
	}
}

// colorrefOf maps a Color to a GDI COLORREF (0x00BBGGRR).
func colorrefOf(c Color) uintptr {
	r := uintptr(c.R*255+0.5) & 0xFF
	g := uintptr(c.G*255+0.5) & 0xFF
	b := uintptr(c.B*255+0.5) & 0xFF
	return b<<16 | g<<8 | r
}

// utf16Units encodes a line for the W-suffixed text calls, without a
// terminator since every call passes an explicit length.
func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}
