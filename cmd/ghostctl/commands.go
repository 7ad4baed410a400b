// IPC-backed commands. Every command opens its own connection; the
// daemon treats each ghostctl invocation as a short-lived client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"ghostd/internal/ipc"
)

func cmdStatus() {
	client := connect()
	defer client.Close()

	status, err := client.Status(false)
	if err != nil {
		printError(fmt.Sprintf("Failed to get status: %v", err))
		os.Exit(1)
	}

	printSection("DAEMON")
	fmt.Printf("  %sVersion%s     %s%s%s\n", c.Dim, c.Reset, c.Cyan, status.Version, c.Reset)
	fmt.Printf("  %sPlatform%s    %s\n", c.Dim, c.Reset, status.Platform)
	fmt.Printf("  %sUptime%s      %s\n", c.Dim, c.Reset, status.Uptime.Round(time.Second))
	fmt.Printf("  %sStarted%s     %s\n", c.Dim, c.Reset, status.StartedAt.Format(time.RFC3339))

	printSection("ENGINE")
	if status.Monitoring {
		fmt.Printf("  %sMonitoring%s  %s%sACTIVE%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
	} else {
		fmt.Printf("  %sMonitoring%s  %s%sSTOPPED%s\n", c.Dim, c.Reset, c.Bold, c.Yellow, c.Reset)
	}
	if status.OverlayVisible {
		fmt.Printf("  %sOverlay%s     visible\n", c.Dim, c.Reset)
	} else {
		fmt.Printf("  %sOverlay%s     hidden\n", c.Dim, c.Reset)
	}
	fmt.Printf("  %sListener%s    %s\n", c.Dim, c.Reset, status.ListenerBackend)
	fmt.Printf("  %sReader%s      %s\n", c.Dim, c.Reset, status.ReaderBackend)

	printSection("CONNECTIONS")
	fmt.Printf("  %sClients%s     %d\n", c.Dim, c.Reset, status.Clients)
	fmt.Printf("  %sSubscribed%s  %d\n", c.Dim, c.Reset, status.Subscribers)
	fmt.Println()
}

func cmdPing() {
	client := connect()
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RESPONDING%s (%v)\n",
			c.Dim, c.Reset, c.Bold, c.Red, c.Reset, err)
		os.Exit(1)
	}
	latency := time.Since(start)

	fmt.Printf("  %sDaemon%s  %s%sRUNNING%s (latency: %s)\n",
		c.Dim, c.Reset, c.Bold, c.Green, c.Reset, latency.Round(time.Microsecond))
}

func cmdContext(args []string) {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	chars := fs.Int("chars", 0, "maximum characters of context (0 = daemon default)")
	fs.Parse(args)

	client := connect()
	defer client.Close()

	resp, err := client.GetContext(*chars)
	if err != nil {
		printError(fmt.Sprintf("Failed to query context: %v", err))
		os.Exit(1)
	}

	if !resp.Success {
		printError(resp.Error)
		os.Exit(1)
	}
	ctx := resp.Context
	if ctx == nil {
		printError("Daemon reported success but sent no context")
		os.Exit(1)
	}

	printSection("FOCUSED CONTEXT")
	fmt.Printf("  %sProcess%s  %s%s%s\n", c.Dim, c.Reset, c.Cyan, ctx.ProcessName, c.Reset)
	fmt.Printf("  %sWindow%s   %s\n", c.Dim, c.Reset, ctx.WindowTitle)
	if ctx.Caret.Valid {
		fmt.Printf("  %sCaret%s    (%d, %d) %dx%d\n", c.Dim, c.Reset,
			ctx.Caret.X, ctx.Caret.Y, ctx.Caret.Width, ctx.Caret.Height)
	} else {
		fmt.Printf("  %sCaret%s    unavailable\n", c.Dim, c.Reset)
	}
	fmt.Printf("  %sText%s     %q\n", c.Dim, c.Reset, ctx.Text)
	fmt.Println()
}

func cmdOverlay(args []string) {
	if len(args) == 0 {
		printError("Usage: ghostctl overlay <set|hide> [text...]")
		os.Exit(1)
	}

	client := connect()
	defer client.Close()

	switch args[0] {
	case "set":
		if len(args) < 2 {
			printError("Usage: ghostctl overlay set <text...>")
			os.Exit(1)
		}
		text := strings.Join(args[1:], " ")
		if err := client.UpdateOverlay(text); err != nil {
			printError(fmt.Sprintf("Failed to update overlay: %v", err))
			os.Exit(1)
		}
		fmt.Printf("Overlay updated (%d chars).\n", len(text))

	case "hide":
		if err := client.HideOverlay(); err != nil {
			printError(fmt.Sprintf("Failed to hide overlay: %v", err))
			os.Exit(1)
		}
		fmt.Println("Overlay hidden.")

	default:
		printError(fmt.Sprintf("Unknown overlay action: %s", args[0]))
		os.Exit(1)
	}
}

func cmdMonitor(args []string) {
	if len(args) == 0 {
		printError("Usage: ghostctl monitor <start|stop>")
		os.Exit(1)
	}

	client := connect()
	defer client.Close()

	switch args[0] {
	case "start":
		if err := client.StartMonitor(); err != nil {
			printError(fmt.Sprintf("Failed to start monitoring: %v", err))
			os.Exit(1)
		}
		fmt.Println("Monitoring started.")

	case "stop":
		if err := client.StopMonitor(); err != nil {
			printError(fmt.Sprintf("Failed to stop monitoring: %v", err))
			os.Exit(1)
		}
		fmt.Println("Monitoring stopped.")

	default:
		printError(fmt.Sprintf("Unknown monitor action: %s", args[0]))
		os.Exit(1)
	}
}

func cmdMetrics(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "dump the raw snapshot as JSON")
	fs.Parse(args)

	client := connect()
	defer client.Close()

	m, err := client.Metrics()
	if err != nil {
		printError(fmt.Sprintf("Failed to get metrics: %v", err))
		os.Exit(1)
	}

	if *asJSON {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(m) == 0 {
		fmt.Printf("  %sMetrics are disabled in the daemon config.%s\n", c.Dim, c.Reset)
		return
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	printSection("ENGINE METRICS")
	for _, k := range keys {
		fmt.Printf("  %s%-44s%s %v\n", c.Dim, k, c.Reset, m[k])
	}
	fmt.Println()
}

func cmdWatch() {
	client := connect()
	defer client.Close()

	if err := client.Subscribe(nil); err != nil {
		printError(fmt.Sprintf("Failed to subscribe: %v", err))
		os.Exit(1)
	}

	fmt.Printf("%s%sSUBSCRIBED%s  waiting for events, Ctrl+C to stop\n\n",
		c.Bold, c.Green, c.Reset)

	for event := range client.Events() {
		data, _ := json.Marshal(event.Data)
		fmt.Printf("%s[%s]%s %s%s%s %s\n",
			c.Dim, event.Timestamp.Format("15:04:05.000"), c.Reset,
			c.Cyan, eventTypeName(event.Type), c.Reset,
			string(data))

		if event.Type == ipc.EventDaemonShutdown {
			fmt.Println("\nDaemon is shutting down.")
			return
		}
	}
}

func cmdShutdown() {
	client := connect()
	defer client.Close()

	if err := client.Shutdown(); err != nil {
		printError(fmt.Sprintf("Failed to request shutdown: %v", err))
		os.Exit(1)
	}
	fmt.Println("Shutdown requested.")
}

func eventTypeName(et ipc.EventType) string {
	switch et {
	case ipc.EventTypingPaused:
		return "TypingPaused"
	case ipc.EventFocusChanged:
		return "FocusChanged"
	case ipc.EventEngineError:
		return "EngineError"
	case ipc.EventConfigChanged:
		return "ConfigChanged"
	case ipc.EventDaemonShutdown:
		return "DaemonShutdown"
	default:
		return fmt.Sprintf("Unknown(%d)", et)
	}
}
