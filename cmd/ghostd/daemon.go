package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ghostd/internal/config"
	"ghostd/internal/ipc"
	"ghostd/internal/logging"
	"ghostd/internal/metrics"
	"ghostd/pkg/ghost"
)

// runFlags are the overrides shared by run, start, stop, and status so
// every command resolves the same socket and PID paths.
type runFlags struct {
	configPath  string
	socket      string
	logLevel    string
	debounceMs  int
	focusEvents bool
}

func parseRunFlags(args []string) *runFlags {
	fs := flag.NewFlagSet("ghostd", flag.ExitOnError)
	f := &runFlags{}
	fs.StringVar(&f.configPath, "config", "", "configuration file path")
	fs.StringVar(&f.socket, "socket", "", "IPC socket path override")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.IntVar(&f.debounceMs, "debounce", 0, "typing-pause debounce in milliseconds")
	fs.BoolVar(&f.focusEvents, "focus-events", false, "publish focus-change events")
	fs.Parse(args)
	return f
}

// overrides renders the flags as a sparse config for Merge.
func (f *runFlags) overrides() *config.Config {
	o := &config.Config{}
	o.Daemon.SocketPath = f.socket
	o.Logging.Level = f.logLevel
	o.Engine.DebounceMs = f.debounceMs
	o.Engine.EnableFocusEvents = f.focusEvents
	return o
}

type daemon struct {
	version   string
	loader    *config.Loader
	overrides *config.Config
	log       *slog.Logger

	mu  sync.RWMutex
	cfg *config.Config

	engine *ghost.Engine
	server *ipc.Server
	met    *metrics.EngineMetrics

	done     chan struct{}
	doneOnce sync.Once
}

func runDaemon(args []string) {
	flags := parseRunFlags(args)

	path := flags.configPath
	if path == "" {
		path = config.ConfigPath()
	}

	loader := config.NewLoader(path)
	fileCfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	overrides := flags.overrides()
	cfg := config.Merge(fileCfg, overrides)

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing directories: %v\n", err)
		os.Exit(1)
	}

	logCfg, err := buildLogConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in logging config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.Init(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logging.DefaultCrashHandler().SetVersion(version)
	defer logging.RecoverPanic()

	d := &daemon{
		version:   version,
		loader:    loader,
		overrides: overrides,
		log:       logging.Component("daemon"),
		done:      make(chan struct{}),
	}

	if err := d.run(cfg); err != nil {
		d.log.Error("daemon failed", "error", err)
		fmt.Fprintf(os.Stderr, "ghostd: %v\n", err)
		os.Exit(1)
	}
}

func (d *daemon) run(cfg *config.Config) error {
	d.setConfig(cfg)

	if pid, alive := daemonAlive(cfg.Daemon.PidFile); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := writePidFile(cfg.Daemon.PidFile); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removePidFile(cfg.Daemon.PidFile)

	d.met = metrics.GetMetrics()

	d.engine = ghost.New(
		ghost.WithConfig(cfg),
		ghost.WithLogger(logging.Component("engine")),
	)
	if err := d.engine.Initialize(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer d.engine.Shutdown()

	// The metrics flag gates serving, not collection; handler treats a
	// nil set as "not enabled".
	var served *metrics.EngineMetrics
	if cfg.Daemon.Metrics {
		served = d.met
	}

	handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version: d.version,
		Engine:  &engineAdapter{daemon: d},
		Metrics: served,
		Config:  d.config,
	})

	serverCfg := ipc.DefaultServerConfig(cfg.Daemon.SocketPath)
	serverCfg.Version = d.version
	serverCfg.MaxClients = cfg.Daemon.MaxClients
	serverCfg.OnShutdown = d.requestShutdown

	server, err := ipc.NewServer(serverCfg, handler)
	if err != nil {
		return fmt.Errorf("create ipc server: %w", err)
	}
	d.server = server
	handler.SetStats(func() (int, int) {
		return server.ClientCount(), server.SubscriberCount()
	})

	if err := server.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer server.Stop()

	// Monitoring starts immediately; clients can stop and restart it
	// over IPC. A missing input backend degrades, it does not abort.
	if err := d.engine.StartMonitoring(d.broadcast); err != nil {
		d.log.Warn("key monitoring unavailable", "error", err)
	}

	d.loader.OnChange(d.applyConfig)
	if err := d.loader.Watch(); err != nil {
		d.log.Warn("config watch unavailable", "error", err)
	}
	defer d.loader.Close()

	listener, reader := d.engine.Backends()
	d.log.Info("ghostd running",
		"version", d.version,
		"socket", cfg.Daemon.SocketPath,
		"listener", listener,
		"reader", reader)

	d.loop()

	d.log.Info("shutting down")
	d.server.Broadcast(&ipc.Event{
		Type:      ipc.EventDaemonShutdown,
		Timestamp: time.Now(),
	})
	// Best effort: let the broadcaster flush before the server stops.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// loop blocks until a shutdown signal or an IPC shutdown request.
func (d *daemon) loop() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	start := time.Now()
	tick := time.NewTicker(15 * time.Second)
	defer tick.Stop()

	for {
		select {
		case s := <-sig:
			d.log.Info("signal received", "signal", s.String())
			return

		case <-d.done:
			d.log.Info("shutdown requested over ipc")
			return

		case <-tick.C:
			d.met.SetUptime(time.Since(start))
			d.met.SetSubscribers(d.server.SubscriberCount())

		case err := <-d.loader.Errors():
			d.log.Warn("config reload", "error", err)
		}
	}
}

func (d *daemon) requestShutdown() {
	d.doneOnce.Do(func() { close(d.done) })
}

func (d *daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *daemon) setConfig(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// applyConfig handles a config file reload. Flag overrides keep
// precedence across reloads.
func (d *daemon) applyConfig(next *config.Config) {
	merged := config.Merge(next, d.overrides)
	d.setConfig(merged)
	d.engine.ApplyConfig(merged)

	d.server.Broadcast(&ipc.Event{
		Type:      ipc.EventConfigChanged,
		Timestamp: time.Now(),
		Data: map[string]any{
			"debounce_ms":         merged.Engine.DebounceMs,
			"context_length":      merged.Engine.ContextLength,
			"enable_focus_events": merged.Engine.EnableFocusEvents,
		},
	})

	d.log.Info("configuration reloaded",
		"debounce_ms", merged.Engine.DebounceMs,
		"context_length", merged.Engine.ContextLength)
}

// broadcast adapts engine callback events to the IPC event stream. The
// payload is already JSON; it is forwarded verbatim.
func (d *daemon) broadcast(event, payload string) {
	var typ ipc.EventType
	switch event {
	case ghost.EventTypingPaused:
		typ = ipc.EventTypingPaused
	case ghost.EventFocusChanged:
		typ = ipc.EventFocusChanged
	case ghost.EventError:
		typ = ipc.EventEngineError
	default:
		return
	}

	d.server.Broadcast(&ipc.Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      json.RawMessage(payload),
	})
}

func buildLogConfig(cfg *config.Config) (*logging.Config, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	out := "stderr"
	switch {
	case cfg.Logging.File != "" && cfg.Logging.Console:
		out = "both"
	case cfg.Logging.File != "":
		out = "file"
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = out
	lc.FilePath = cfg.Logging.File
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	}
	return lc, nil
}
