// tabctl - control client for tabanywhered
//
//	tabctl ping       Check the daemon is responsive
//	tabctl status     Show daemon status and counters
//	tabctl pause      Suspend suggestion generation
//	tabctl resume     Resume suggestion generation
//	tabctl shutdown   Stop the daemon
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/ipc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "ping":
		cmdPing(args)
	case "status":
		cmdStatus(args)
	case "pause":
		cmdPauseResume(args, true)
	case "resume":
		cmdPauseResume(args, false)
	case "shutdown":
		cmdShutdown(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`tabctl - control client for tabanywhered

USAGE:
    tabctl <command> [options]

COMMANDS:
    ping        Check the daemon is responsive
    status      Show daemon status and counters
    pause       Suspend suggestion generation
    resume      Resume suggestion generation
    shutdown    Stop the daemon
    help        Show this help message

OPTIONS:
    --socket <path>   Control socket path (default: XDG runtime dir)
    --full            With status: run component health checks`)
}

func connect(fs *flag.FlagSet, args []string) (*ipc.Client, *flag.FlagSet) {
	socketPath := fs.String("socket", "", "control socket path")
	fs.Parse(args)

	sock := *socketPath
	if sock == "" {
		sock = config.DefaultSocketPath()
	}

	c, err := ipc.Dial(ipc.DefaultClientConfig(sock))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: %v\n", err)
		os.Exit(1)
	}
	return c, fs
}

func cmdPing(args []string) {
	c, _ := connect(flag.NewFlagSet("ping", flag.ExitOnError), args)
	defer c.Close()

	if err := c.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("pong")
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	full := fs.Bool("full", false, "run component health checks")
	c, _ := connect(fs, args)
	defer c.Close()

	status, err := c.Status(*full)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: %v\n", err)
		os.Exit(1)
	}

	snap := status.Snapshot
	fmt.Printf("daemon:      %s (%s)\n", status.Version, snap.Status)
	fmt.Printf("uptime:      %s\n", snap.Uptime)
	fmt.Printf("paused:      %v\n", snap.Paused)
	fmt.Printf("session:     active=%v generation=%d\n", snap.SessionActive, snap.Generation)
	fmt.Printf("requests:    issued=%d discarded=%d failed=%d\n",
		snap.Counters.RequestsIssued, snap.Counters.ResponsesDiscarded, snap.Counters.RequestsFailed)
	fmt.Printf("suggestions: shown=%d accepted=%d\n",
		snap.Counters.SuggestionsShown, snap.Counters.SuggestionsAccepted)
	fmt.Printf("injections:  direct=%d fallback=%d failed=%d\n",
		snap.Counters.DirectInjections, snap.Counters.FallbackInjections, snap.Counters.InjectionFailures)

	if len(snap.Components) > 0 {
		fmt.Println("components:")
		out, _ := json.MarshalIndent(snap.Components, "  ", "  ")
		fmt.Printf("  %s\n", out)
	}
}

func cmdPauseResume(args []string, pause bool) {
	name := "resume"
	if pause {
		name = "pause"
	}
	c, _ := connect(flag.NewFlagSet(name, flag.ExitOnError), args)
	defer c.Close()

	var ack *ipc.AckResponse
	var err error
	if pause {
		ack, err = c.Pause()
	} else {
		ack, err = c.Resume()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: %v\n", err)
		os.Exit(1)
	}
	if !ack.Success {
		fmt.Fprintf(os.Stderr, "tabctl: %s failed: %s\n", name, ack.Error)
		os.Exit(1)
	}
	fmt.Printf("suggestions %sd\n", name)
}

func cmdShutdown(args []string) {
	c, _ := connect(flag.NewFlagSet("shutdown", flag.ExitOnError), args)
	defer c.Close()

	if _, err := c.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("shutdown requested")
}
