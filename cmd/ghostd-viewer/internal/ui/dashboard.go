package ui

import (
	"fmt"
	"image"
	"image/color"

	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"ghostd/cmd/ghostd-viewer/internal/feed"
	"ghostd/cmd/ghostd-viewer/internal/theme"
)

// Dashboard renders the live event view.
type Dashboard struct {
	theme *theme.Theme
	feed  *feed.Feed

	eventList widget.List
}

// NewDashboard creates a dashboard backed by the given feed.
func NewDashboard(t *theme.Theme, f *feed.Feed) *Dashboard {
	return &Dashboard{
		theme: t,
		feed:  f,
		eventList: widget.List{
			List: layout.List{
				Axis: layout.Vertical,
			},
		},
	}
}

// Layout renders the dashboard from the current feed snapshot.
func (d *Dashboard) Layout(gtx layout.Context) layout.Dimensions {
	snap := d.feed.Snapshot()

	paint.Fill(gtx.Ops, d.theme.Palette.Background)

	return layout.Flex{
		Axis: layout.Vertical,
	}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return d.layoutHeader(gtx, snap)
		}),

		// Horizontal divider under the header
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			size := image.Pt(gtx.Constraints.Max.X, gtx.Dp(1))
			rect := clip.Rect{Max: size}.Op()
			paint.FillShape(gtx.Ops, d.theme.Palette.Border, rect)
			return layout.Dimensions{Size: size}
		}),

		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return d.layoutBody(gtx, snap)
		}),
	)
}

func (d *Dashboard) layoutHeader(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	return layout.UniformInset(d.theme.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{
			Axis:      layout.Horizontal,
			Alignment: layout.Middle,
		}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				title := material.H6(d.theme.Theme, "GHOSTD")
				title.Color = d.theme.Palette.Primary
				title.TextSize = d.theme.Config.FontTitle
				return title.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(12)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if !snap.Connected {
					return layout.Dimensions{}
				}
				l := material.Caption(d.theme.Theme, "v"+snap.Version)
				l.Color = d.theme.Palette.TextMuted
				return l.Layout(gtx)
			}),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				return layout.Dimensions{Size: image.Pt(gtx.Constraints.Max.X, 0)}
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return d.layoutBackends(gtx, snap)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(16)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return d.layoutStatus(gtx, snap)
			}),
		)
	})
}

func (d *Dashboard) layoutBackends(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	if !snap.Connected {
		return layout.Dimensions{}
	}
	l := material.Caption(d.theme.Theme, fmt.Sprintf("listener %s / reader %s", snap.Listener, snap.Reader))
	l.Color = d.theme.Palette.TextMuted
	return l.Layout(gtx)
}

func (d *Dashboard) layoutStatus(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	label := "OFFLINE"
	col := d.theme.Palette.Error
	switch {
	case snap.Connected && snap.Monitoring:
		label = "LIVE"
		col = d.theme.Palette.Success
	case snap.Connected:
		label = "IDLE"
		col = d.theme.Palette.Warning
	}

	l := material.Body2(d.theme.Theme, label)
	l.Color = col
	return l.Layout(gtx)
}

func (d *Dashboard) layoutBody(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	return layout.UniformInset(d.theme.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{
			Axis: layout.Horizontal,
		}.Layout(gtx,
			layout.Flexed(0.62, func(gtx layout.Context) layout.Dimensions {
				return d.layoutEvents(gtx, snap)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(16)}.Layout),
			layout.Flexed(0.38, func(gtx layout.Context) layout.Dimensions {
				return d.layoutSide(gtx, snap)
			}),
		)
	})
}

func (d *Dashboard) layoutEvents(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			h := material.H5(d.theme.Theme, "Event Stream")
			h.Color = d.theme.Palette.Text
			return h.Layout(gtx)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return d.panel(gtx, func(gtx layout.Context) layout.Dimensions {
				if len(snap.Entries) == 0 {
					return d.centerMuted(gtx, "Waiting for events")
				}
				return material.List(d.theme.Theme, &d.eventList).Layout(gtx, len(snap.Entries), func(gtx layout.Context, i int) layout.Dimensions {
					return d.layoutEntry(gtx, snap.Entries[i])
				})
			})
		}),
	)
}

func (d *Dashboard) layoutEntry(gtx layout.Context, e feed.Entry) layout.Dimensions {
	return layout.Inset{Top: unit.Dp(4), Bottom: unit.Dp(4)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{
			Axis:      layout.Horizontal,
			Alignment: layout.Baseline,
		}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Caption(d.theme.Theme, e.At.Format("15:04:05"))
				l.Color = d.theme.Palette.TextMuted
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(12)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Caption(d.theme.Theme, kindLabel(e.Kind))
				l.Color = d.kindColor(e.Kind)
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: unit.Dp(12)}.Layout),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				l := material.Body2(d.theme.Theme, e.Summary)
				l.Color = d.theme.Palette.Text
				l.MaxLines = 1
				return l.Layout(gtx)
			}),
		)
	})
}

func (d *Dashboard) layoutSide(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			h := material.H5(d.theme.Theme, "Session")
			h.Color = d.theme.Palette.Text
			return h.Layout(gtx)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			gtx.Constraints.Min.Y = gtx.Dp(96)
			gtx.Constraints.Max.Y = gtx.Dp(96)
			return d.panel(gtx, func(gtx layout.Context) layout.Dimensions {
				return d.layoutCounters(gtx, snap)
			})
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			h := material.H5(d.theme.Theme, "Last Pause")
			h.Color = d.theme.Palette.Text
			return h.Layout(gtx)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return d.panel(gtx, func(gtx layout.Context) layout.Dimensions {
				return d.layoutLastPause(gtx, snap.LastPause)
			})
		}),
	)
}

func (d *Dashboard) layoutCounters(gtx layout.Context, snap feed.Snapshot) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		layout.Flexed(1, d.counter(snap.Pauses, "pauses")),
		layout.Flexed(1, d.counter(snap.Focuses, "focus changes")),
		layout.Flexed(1, d.counter(snap.Errors, "errors")),
	)
}

func (d *Dashboard) counter(n uint64, label string) layout.Widget {
	return func(gtx layout.Context) layout.Dimensions {
		return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Vertical, Alignment: layout.Middle}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					v := material.H5(d.theme.Theme, fmt.Sprintf("%d", n))
					v.Color = d.theme.Palette.Text
					return v.Layout(gtx)
				}),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					l := material.Caption(d.theme.Theme, label)
					l.Color = d.theme.Palette.TextMuted
					return l.Layout(gtx)
				}),
			)
		})
	}
}

func (d *Dashboard) layoutLastPause(gtx layout.Context, p *feed.PauseInfo) layout.Dimensions {
	if p == nil {
		return d.centerMuted(gtx, "No pause captured yet")
	}

	caret := "caret unavailable"
	if p.CaretValid {
		caret = fmt.Sprintf("caret at (%d, %d)", p.CaretX, p.CaretY)
	}

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Caption(d.theme.Theme, fmt.Sprintf("%s in %s", p.At.Format("15:04:05"), p.ProcessName))
			l.Color = d.theme.Palette.TextMuted
			return l.Layout(gtx)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Caption(d.theme.Theme, p.WindowTitle)
			l.Color = d.theme.Palette.TextMuted
			l.MaxLines = 1
			return l.Layout(gtx)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			l := material.Body1(d.theme.Theme, p.Text)
			l.Color = d.theme.Palette.Ghost
			return l.Layout(gtx)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Caption(d.theme.Theme, caret)
			l.Color = d.theme.Palette.TextMuted
			return l.Layout(gtx)
		}),
	)
}

// panel fills the available area with a rounded surface and lays the
// widget out inside it.
func (d *Dashboard) panel(gtx layout.Context, w layout.Widget) layout.Dimensions {
	size := gtx.Constraints.Max
	rect := clip.UniformRRect(image.Rect(0, 0, size.X, size.Y), int(gtx.Dp(d.theme.Config.CornerRadius))).Op(gtx.Ops)
	paint.FillShape(gtx.Ops, d.theme.Palette.Surface, rect)

	layout.UniformInset(d.theme.Config.Padding).Layout(gtx, w)
	return layout.Dimensions{Size: size}
}

func (d *Dashboard) centerMuted(gtx layout.Context, label string) layout.Dimensions {
	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		l := material.Body1(d.theme.Theme, label)
		l.Color = d.theme.Palette.TextMuted
		return l.Layout(gtx)
	})
}

func kindLabel(k feed.Kind) string {
	switch k {
	case feed.KindPause:
		return "PAUSE"
	case feed.KindFocus:
		return "FOCUS"
	case feed.KindError:
		return "ERROR"
	case feed.KindConfig:
		return "CONFIG"
	case feed.KindShutdown:
		return "DOWN"
	default:
		return "EVENT"
	}
}

func (d *Dashboard) kindColor(k feed.Kind) color.NRGBA {
	switch k {
	case feed.KindPause:
		return d.theme.Palette.Primary
	case feed.KindFocus:
		return d.theme.Palette.Success
	case feed.KindError:
		return d.theme.Palette.Error
	case feed.KindConfig:
		return d.theme.Palette.Warning
	default:
		return d.theme.Palette.TextMuted
	}
}
