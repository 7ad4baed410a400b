// ghostctl is the control CLI for the ghostd daemon.
package main

import (
	"flag"
	"fmt"
	"os"

	"ghostd/internal/config"
	"ghostd/internal/ipc"
)

// Version is stamped into the IPC handshake.
const Version = "0.5.0"

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "daemon socket path override")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "status":
		cmdStatus()
	case "ping":
		cmdPing()
	case "context":
		cmdContext(args)
	case "overlay":
		cmdOverlay(args)
	case "monitor":
		cmdMonitor(args)
	case "metrics":
		cmdMetrics(args)
	case "watch":
		cmdWatch()
	case "shutdown":
		cmdShutdown()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `ghostctl - Control utility for ghostd

Usage: ghostctl [options] <command> [args]

Commands:
  status                 Show daemon status
  ping                   Check daemon responsiveness
  context [-chars N]     Query the focused window's text and caret
  overlay set <text...>  Show ghost text at the caret
  overlay hide           Hide the ghost text
  monitor start|stop     Control key monitoring
  metrics [-json]        Dump engine metrics
  watch                  Stream daemon events until interrupted
  shutdown               Ask the daemon to exit
  help                   Show this help message

Options:
  -config <path>  Path to config file (default: platform config dir)
  -socket <path>  Daemon socket path override`)
}

// connect resolves the socket the same way the daemon does and opens a
// client, exiting with advice when the daemon is unreachable.
func connect() *ipc.IPCClient {
	socket := *socketPath
	if socket == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			printError(fmt.Sprintf("Cannot load config: %v", err))
			os.Exit(1)
		}
		socket = cfg.Daemon.SocketPath
	}

	clientCfg := ipc.DefaultClientConfig(socket)
	clientCfg.ClientName = "ghostctl"
	clientCfg.ClientVersion = Version

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: start the daemon with: ghostd start\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	return client
}
