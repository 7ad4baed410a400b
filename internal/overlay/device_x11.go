//go:build linux

package overlay

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"

	"ghostd/internal/logging"
)

// Core-font fallbacks tried in order at device creation. An explicit
// font name from the caller is tried before these.
var x11FontNames = []string{"fixed", "9x15", "8x13", "6x13"}

// Per-character metrics for the core bitmap fonts above. Core fonts do
// not scale, so the requested point size has no effect on X11.
const (
	x11CharWidth  = 7
	x11LineHeight = 16
)

// x11Device draws the overlay with core X11 requests on an
// override-redirect window. Override-redirect keeps the window outside
// the window manager entirely: it can never be focused and never
// appears in task switchers. The shape extension clears the input
// region so clicks fall through to whatever is underneath.
type x11Device struct {
	log *slog.Logger

	xu       *xgbutil.XUtil
	win      xproto.Window
	gc       xproto.Gcontext
	font     xproto.Font
	fontName string
}

func newPlatformDevice() Device {
	return &x11Device{log: logging.Component("overlay")}
}

func (d *x11Device) Create() error {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return fmt.Errorf("connect to X server: %w", err)
	}
	conn := xu.Conn()
	screen := xu.Screen()

	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return err
	}

	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		wid,
		xu.RootWin(),
		0, 0,
		1, 1, // sized per frame on every present
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwBackPixel|xproto.CwOverrideRedirect|xproto.CwSaveUnder,
		// Value list order follows the bit positions of the mask
		// (low to high): BackPixel, OverrideRedirect, SaveUnder.
		[]uint32{0, 1, 1},
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("create overlay window: %w", err)
	}

	// Empty input region: the overlay never intercepts a click. Losing
	// the extension costs only click-through, so keep going.
	if err := shape.Init(conn); err == nil {
		shape.Rectangles(conn, shape.Op(shape.SoSet), shape.Kind(shape.SkInput),
			0, wid, 0, 0, nil)
	} else {
		d.log.Warn("shape extension unavailable, overlay will not be click-through", "error", err)
	}

	font, err := xproto.NewFontId(conn)
	if err != nil {
		xproto.DestroyWindow(conn, wid)
		conn.Close()
		return err
	}

	names := x11FontNames
	if d.fontName != "" {
		names = append([]string{d.fontName}, names...)
	}
	opened := ""
	for _, name := range names {
		if err := xproto.OpenFontChecked(conn, font, uint16(len(name)), name).Check(); err == nil {
			opened = name
			break
		}
	}
	if opened == "" {
		xproto.DestroyWindow(conn, wid)
		conn.Close()
		return fmt.Errorf("no usable core font among %v", names)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		xproto.CloseFont(conn, font)
		xproto.DestroyWindow(conn, wid)
		conn.Close()
		return err
	}
	err = xproto.CreateGCChecked(
		conn,
		gc,
		xproto.Drawable(wid),
		xproto.GcForeground|xproto.GcBackground|xproto.GcFont|xproto.GcGraphicsExposures,
		[]uint32{0, 0, uint32(font), 0},
	).Check()
	if err != nil {
		xproto.CloseFont(conn, font)
		xproto.DestroyWindow(conn, wid)
		conn.Close()
		return fmt.Errorf("create gc: %w", err)
	}

	d.xu = xu
	d.win = wid
	d.gc = gc
	d.font = font
	d.log.Debug("overlay window created", "font", opened)
	return nil
}

func (d *x11Device) Present(f Frame) error {
	if d.xu == nil {
		return ErrDeviceLost
	}
	conn := d.xu.Conn()

	if f.FontName != "" && f.FontName != d.fontName {
		d.swapFont(conn, f.FontName)
	}

	err := xproto.ConfigureWindowChecked(
		conn,
		d.win,
		xproto.ConfigWindowX|xproto.ConfigWindowY|
			xproto.ConfigWindowWidth|xproto.ConfigWindowHeight|
			xproto.ConfigWindowStackMode,
		[]uint32{
			uint32(int32(f.X)),
			uint32(int32(f.Y)),
			uint32(f.Width),
			uint32(f.Height),
			xproto.StackModeAbove,
		},
	).Check()
	if err != nil {
		return fmt.Errorf("%w: configure: %v", ErrDeviceLost, err)
	}

	// Core X11 has no per-pixel alpha: a zero-alpha background falls
	// back to a solid black box behind the text.
	bg := uint32(0)
	if f.Background.A > 0 {
		bg = pixelOf(f.Background)
	}
	fg := pixelOf(f.TextColor)

	xproto.ChangeWindowAttributes(conn, d.win, xproto.CwBackPixel, []uint32{bg})
	xproto.ChangeGC(conn, d.gc, xproto.GcForeground|xproto.GcBackground, []uint32{fg, bg})
	xproto.ClearArea(conn, false, d.win, 0, 0, 0, 0)

	baseline := textPadding + x11LineHeight - 4
	for i, line := range strings.Split(f.Text, "\n") {
		if line == "" {
			continue
		}
		line = latin1(line)
		if len(line) > 255 {
			line = line[:255]
		}
		xproto.ImageText8(
			conn,
			byte(len(line)),
			xproto.Drawable(d.win),
			d.gc,
			int16(textPadding),
			int16(baseline+i*x11LineHeight),
			line,
		)
	}

	xproto.MapWindow(conn, d.win)
	return nil
}

// swapFont opens the requested core font and points the GC at it.
// The request is remembered even on failure so an unknown name is not
// retried every pass.
func (d *x11Device) swapFont(conn *xgb.Conn, name string) {
	d.fontName = name
	font, err := xproto.NewFontId(conn)
	if err != nil {
		return
	}
	if err := xproto.OpenFontChecked(conn, font, uint16(len(name)), name).Check(); err != nil {
		d.log.Warn("requested font unavailable", "font", name)
		return
	}
	xproto.ChangeGC(conn, d.gc, xproto.GcFont, []uint32{uint32(font)})
	xproto.CloseFont(conn, d.font)
	d.font = font
}

func (d *x11Device) Hide() error {
	if d.xu == nil {
		return nil
	}
	xproto.UnmapWindow(d.xu.Conn(), d.win)
	return nil
}

func (d *x11Device) Measure(text string, fontSize int) (int, int) {
	lines := strings.Split(text, "\n")
	maxChars := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > maxChars {
			maxChars = n
		}
	}
	return maxChars * x11CharWidth, len(lines) * x11LineHeight
}

// Pump is a no-op: xgb services the wire on its own goroutine.
func (d *x11Device) Pump() {}

func (d *x11Device) Release() {
	if d.xu == nil {
		return
	}
	conn := d.xu.Conn()
	if d.gc != 0 {
		xproto.FreeGC(conn, d.gc)
		d.gc = 0
	}
	if d.font != 0 {
		xproto.CloseFont(conn, d.font)
		d.font = 0
	}
	if d.win != 0 {
		xproto.DestroyWindow(conn, d.win)
		d.win = 0
	}
	conn.Close()
	d.xu = nil
}

// pixelOf maps a color to a TrueColor pixel; alpha is not
// representable in core requests.
func pixelOf(c Color) uint32 {
	r := uint32(c.R*255+0.5) & 0xFF
	g := uint32(c.G*255+0.5) & 0xFF
	b := uint32(c.B*255+0.5) & 0xFF
	return r<<16 | g<<8 | b
}

// latin1 maps the text into ImageText8's 8-bit range; characters
// outside it draw as '?'. One output byte per character, since the
// wire format is not UTF-8.
func latin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 0xFF {
			r = '?'
		}
		b.WriteByte(byte(r))
	}
	return b.String()
}
