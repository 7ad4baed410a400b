// ghostd-viewer is a desktop dashboard for a running ghostd daemon.
// It subscribes to the event stream over the control socket and shows
// typing pauses, focus changes, and engine errors as they happen.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"ghostd/cmd/ghostd-viewer/internal/feed"
	"ghostd/cmd/ghostd-viewer/internal/theme"
	"ghostd/cmd/ghostd-viewer/internal/ui"
	"ghostd/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	socketPath := flag.String("socket", "", "daemon socket path (overrides config)")
	flag.Parse()

	socket := *socketPath
	if socket == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		socket = cfg.Daemon.SocketPath
	}

	go func() {
		w := new(app.Window)
		w.Option(app.Title("Ghostd Viewer"))
		w.Option(app.Size(unit.Dp(960), unit.Dp(640)))

		f := feed.New(socket, w.Invalidate)
		go f.Run(context.Background())

		if err := loop(w, f); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func loop(w *app.Window, f *feed.Feed) error {
	t := theme.NewTheme(material.NewTheme())
	dashboard := ui.NewDashboard(t, f)

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			dashboard.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}
