// tabanywhered - system-wide inline completion daemon
//
//	tabanywhered run        Run the daemon (default)
//	tabanywhered status     Show status of a running daemon
//	tabanywhered version    Show version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MouseAndKeyboard/tabanywhere/internal/clipboard"
	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/coordinator"
	"github.com/MouseAndKeyboard/tabanywhere/internal/health"
	"github.com/MouseAndKeyboard/tabanywhere/internal/ipc"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/overlay"
	"github.com/MouseAndKeyboard/tabanywhere/internal/provider"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		cmdRun(args)
	case "status":
		cmdStatus(args)
	case "version":
		fmt.Printf("tabanywhered %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`tabanywhered - system-wide inline completion daemon

USAGE:
    tabanywhered [command] [options]

COMMANDS:
    run         Run the daemon (default when no command is given)
    status      Show status of a running daemon
    version     Show version
    help        Show this help message

Suggestions appear after a typing pause in any editable field exposed
over the desktop accessibility bus. Use tabctl to pause, resume, or
inspect a running daemon.`)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: XDG config dir)")
	logLevel := fs.String("log-level", "", "override log level: debug, info, warn, error")
	fs.Parse(args)

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer logger.Close()

	logger.Info("starting", "version", version, "config", path)

	if err := loader.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	loader.OnChange(func(next *config.Config) {
		// Debounce and provider settings need a restart; log level can
		// change live once rebuilt, which is not worth the churn here.
		logger.Info("config file changed; restart to apply")
	})
	defer loader.Close()

	src, err := source.New(cfg.Source, logger)
	if err != nil {
		logger.Error("event source unavailable", "error", err)
		os.Exit(1)
	}

	client, err := provider.New(cfg.Provider, logger)
	if err != nil {
		logger.Error("provider setup failed", "error", err)
		os.Exit(1)
	}

	tool := clipboard.NewExecTool(cfg.Injection.ToolTimeout())
	gateway := overlay.New(cfg.Overlay, logger)
	defer gateway.Close()

	tracker := health.NewTracker()
	tracker.RegisterFunc("clipboard", false, func(ctx context.Context) health.CheckResult {
		if _, err := tool.GetClipboard(ctx); err != nil {
			return health.CheckResult{
				Status:  health.StatusDegraded,
				Message: "no clipboard tool available",
				Error:   err.Error(),
			}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	})

	coord := coordinator.New(cfg, src, client, tool, gateway, tracker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := src.Start(ctx); err != nil {
		logger.Error("event source start failed", "error", err)
		os.Exit(1)
	}
	defer src.Stop()
	if hc, ok := src.(interface{ Healthy() error }); ok {
		tracker.RegisterFunc("source", true, health.CustomCheck(hc.Healthy))
	}

	if cfg.IPC.Enabled {
		sock := cfg.IPC.SocketPath
		if sock == "" {
			sock = config.DefaultSocketPath()
		}
		srvCfg := ipc.DefaultServerConfig(sock)
		srvCfg.Version = version
		srv := ipc.NewServer(srvCfg, coord, logger)
		if err := srv.Start(); err != nil {
			logger.Error("control socket start failed", "error", err)
			os.Exit(1)
		}
		defer srv.Stop()
	}

	if err := coord.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("coordinator stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socketPath := fs.String("socket", "", "control socket path (default: XDG runtime dir)")
	full := fs.Bool("full", false, "run component health checks")
	fs.Parse(args)

	sock := *socketPath
	if sock == "" {
		sock = config.DefaultSocketPath()
	}

	c, err := ipc.Dial(ipc.DefaultClientConfig(sock))
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	status, err := c.Status(*full)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Level != "" {
		level, err := logging.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	if cfg.Format != "" {
		format, err := logging.ParseFormat(cfg.Format)
		if err != nil {
			return nil, err
		}
		lc.Format = format
	}
	if cfg.Output != "" {
		lc.Output = cfg.Output
	}
	if cfg.FilePath != "" {
		lc.FilePath = cfg.FilePath
	}
	if cfg.MaxSizeMB > 0 {
		lc.MaxSize = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		lc.MaxBackups = cfg.MaxBackups
	}
	return logging.New(lc)
}
