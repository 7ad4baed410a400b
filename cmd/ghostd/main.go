// ghostd - typing-pause daemon with a ghost-text overlay
//
// ghostd watches global keyboard activity, detects typing pauses, and
// resolves the focused window's text and caret context. Hosts connect
// over a local socket to receive pause events and drive the overlay:
//
//	ghostd              Run the daemon in the foreground
//	ghostd start        Start the daemon in the background
//	ghostd stop         Stop a running daemon
//	ghostd status       Show daemon status
//	ghostd version      Print the version
package main

import (
	"fmt"
	"os"
	"time"

	"ghostd/internal/config"
	"ghostd/internal/ipc"
)

const version = "0.5.0"

func main() {
	if len(os.Args) < 2 {
		runDaemon(nil)
		return
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		runDaemon(os.Args[2:])
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("ghostd %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`ghostd - Typing-Pause Daemon

USAGE:
    ghostd [command] [options]

COMMANDS:
    run         Run the daemon in the foreground (default)
    start       Start the daemon in the background
    stop        Stop a running daemon
    status      Show daemon status
    version     Print the version
    help        Show this help message

OPTIONS (run, start):
    -config <path>      Configuration file (default: platform config dir)
    -socket <path>      IPC socket path override
    -log-level <level>  debug, info, warn, or error
    -debounce <ms>      Typing-pause debounce override
    -focus-events       Publish focus-change events

The daemon detects pauses in typing and resolves the focused window's
text and caret context. Clients connect over a local socket with
ghostctl or the ghostd-viewer dashboard.

PRIVACY NOTE:
    Key events are consumed for timing only. Which keys are pressed is
    never recorded, stored, or transmitted.`)
}

// cmdStart re-executes the binary detached and waits for the PID file
// to confirm the daemon came up.
func cmdStart(args []string) {
	cfg := loadEffectiveConfig(args)

	if pid, alive := daemonAlive(cfg.Daemon.PidFile); alive {
		fmt.Fprintf(os.Stderr, "Daemon already running (pid %d).\n", pid)
		os.Exit(1)
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding executable: %v\n", err)
		os.Exit(1)
	}

	if err := spawnDetached(exe, append([]string{"run"}, args...)); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	// Give the child a moment to write its PID file.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, alive := daemonAlive(cfg.Daemon.PidFile); alive {
			fmt.Println("ghostd started.")
			fmt.Printf("Socket: %s\n", cfg.Daemon.SocketPath)
			fmt.Println()
			fmt.Println("Run 'ghostctl status' to inspect the daemon.")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(os.Stderr, "Error: daemon failed to start.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "On Linux: add yourself to the 'input' group for /dev/input access")
	fmt.Fprintln(os.Stderr, "Check the log file for details.")
	os.Exit(1)
}

func cmdStop(args []string) {
	cfg := loadEffectiveConfig(args)

	pid, alive := daemonAlive(cfg.Daemon.PidFile)
	if !alive {
		removePidFile(cfg.Daemon.PidFile)
		fmt.Println("Daemon is not running.")
		return
	}

	if err := terminateProcess(pid); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
		os.Exit(1)
	}

	// The daemon removes its own PID file on a clean exit.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			fmt.Println("Daemon stopped.")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintf(os.Stderr, "Daemon (pid %d) did not exit in time.\n", pid)
	os.Exit(1)
}

func cmdStatus(args []string) {
	cfg := loadEffectiveConfig(args)

	pid, alive := daemonAlive(cfg.Daemon.PidFile)
	if !alive {
		fmt.Println("Daemon is not running.")
		return
	}

	clientCfg := ipc.DefaultClientConfig(cfg.Daemon.SocketPath)
	clientCfg.ClientName = "ghostd"
	clientCfg.ClientVersion = version
	clientCfg.AutoReconnect = false

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		fmt.Printf("Daemon process alive (pid %d) but not answering on %s\n",
			pid, cfg.Daemon.SocketPath)
		os.Exit(1)
	}
	defer client.Close()

	st, err := client.Status(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== ghostd ===")
	fmt.Printf("Version:    %s\n", st.Version)
	fmt.Printf("PID:        %d\n", pid)
	fmt.Printf("Uptime:     %s\n", st.Uptime.Round(time.Second))
	fmt.Printf("Monitoring: %v\n", st.Monitoring)
	fmt.Printf("Overlay:    visible=%v\n", st.OverlayVisible)
	fmt.Printf("Backends:   listener=%s reader=%s\n", st.ListenerBackend, st.ReaderBackend)
	fmt.Printf("Clients:    %d (%d subscribed)\n", st.Clients, st.Subscribers)
	fmt.Printf("Socket:     %s\n", cfg.Daemon.SocketPath)
}

// loadEffectiveConfig resolves the configuration the same way the run
// command does, so start/stop/status agree on paths.
func loadEffectiveConfig(args []string) *config.Config {
	flags := parseRunFlags(args)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return config.Merge(cfg, flags.overrides())
}
