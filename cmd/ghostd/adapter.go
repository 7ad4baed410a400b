package main

import (
	"errors"
	"time"

	"ghostd/internal/ipc"
	"ghostd/pkg/ghost"
)

// engineAdapter narrows the ghost engine to the handler's Engine
// interface and owns the overlay anchoring policy: IPC overlay updates
// are placed at the focused caret plus the configured offsets.
type engineAdapter struct {
	daemon *daemon
}

func (a *engineAdapter) StartMonitoring() error {
	return a.daemon.engine.StartMonitoring(a.daemon.broadcast)
}

func (a *engineAdapter) StopMonitoring() error {
	a.daemon.engine.StopMonitoring()
	return nil
}

func (a *engineAdapter) Monitoring() bool {
	return a.daemon.engine.Monitoring()
}

func (a *engineAdapter) UpdateOverlay(text string) error {
	// Caret only; one character of text keeps the probe cheap.
	ctx, _ := a.daemon.engine.TextContext(1)
	if !ctx.Caret.Valid {
		return errors.New("no caret anchor for overlay")
	}

	cfg := a.daemon.config()
	x := ctx.Caret.X + ctx.Caret.Width + cfg.Overlay.OffsetX
	y := ctx.Caret.Y + cfg.Overlay.OffsetY

	if !a.daemon.engine.UpdateOverlay(text, x, y) {
		return errors.New("overlay surface unavailable")
	}
	return nil
}

func (a *engineAdapter) HideOverlay() error {
	if !a.daemon.engine.HideOverlay() {
		return errors.New("overlay surface unavailable")
	}
	return nil
}

func (a *engineAdapter) OverlayVisible() bool {
	return a.daemon.engine.OverlayVisible()
}

func (a *engineAdapter) QueryContext(maxChars int) (*ipc.ContextInfo, error) {
	var (
		ctx ghost.Context
		ok  bool
	)
	if maxChars > 0 {
		ctx, ok = a.daemon.engine.TextContext(maxChars)
	} else {
		ctx, ok = a.daemon.engine.TextContext()
	}
	if !ok {
		return nil, errors.New("focused context unavailable")
	}

	return &ipc.ContextInfo{
		Text:        ctx.Text,
		ProcessName: ctx.ProcessName,
		WindowTitle: ctx.WindowTitle,
		Caret: ipc.CaretRect{
			X:      ctx.Caret.X,
			Y:      ctx.Caret.Y,
			Width:  ctx.Caret.Width,
			Height: ctx.Caret.Height,
			Valid:  ctx.Caret.Valid,
		},
		CapturedAt: time.Now(),
	}, nil
}

func (a *engineAdapter) Backends() (listener, reader string) {
	return a.daemon.engine.Backends()
}
