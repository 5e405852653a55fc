package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"github.com/beacondao/mirin/internal/builder"
	"github.com/beacondao/mirin/internal/config"
	"github.com/beacondao/mirin/internal/dashboard"
	"github.com/beacondao/mirin/internal/engine"
	"github.com/beacondao/mirin/internal/git"
	"github.com/beacondao/mirin/internal/metrics"
	"github.com/beacondao/mirin/internal/store"
	"github.com/beacondao/mirin/internal/ui"
	"github.com/beacondao/mirin/internal/watcher"
	"github.com/beacondao/mirin/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path (default: <workspace>/mirin.yaml)"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Serve struct {
		Workspace string `arg:"" type:"path" help:"Workspace root"`
		Listen    string `short:"l" help:"Address to serve on (overrides config)"`
		NoKeys    bool   `help:"Do not read rebuild requests from stdin"`
	} `cmd:"" default:"withargs" help:"Build the workspace, serve it and rebuild on change"`

	Rebuild struct {
		PID int `arg:"" help:"Process id printed by the running server"`
	} `cmd:"" help:"Ask a running server to rebuild everything"`

	Init struct {
		Workspace string `arg:"" optional:"" default:"." type:"path" help:"Workspace root"`
		Force     bool   `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write a default mirin.yaml"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("mirin"),
		kong.Description("Hot-reload dev server for modular wasm workspaces."),
		kong.UsageOnError(),
	)

	var err error
	switch ctx.Command() {
	case "serve <workspace>":
		err = runServe()
	case "rebuild <pid>":
		err = runRebuild(CLI.Rebuild.PID)
	case "init", "init <workspace>":
		err = runInit(CLI.Init.Workspace, CLI.Init.Force)
	default:
		err = fmt.Errorf("unknown command %q", ctx.Command())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirin: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(root string) (*config.Config, error) {
	if CLI.Config != "" {
		return config.Load(CLI.Config)
	}
	return config.LoadFromDir(root)
}

func runServe() error {
	cfg, err := loadConfig(CLI.Serve.Workspace)
	if err != nil {
		return err
	}
	if CLI.Serve.Listen != "" {
		cfg.Listen = CLI.Serve.Listen
	}

	logger := ui.New()
	level := cfg.LogLevel
	if CLI.Verbose {
		level = "debug"
	}
	if err := logger.SetLevel(level); err != nil {
		return err
	}

	layout, err := workspace.NewLayout(CLI.Serve.Workspace, cfg)
	if err != nil {
		return err
	}
	logger.Info("mirin starting", "root", layout.Root, "listen", cfg.Listen)

	s := store.New(cfg.HistorySize)
	recorder := metrics.NewPrometheusRecorder(nil)

	b := builder.New(cfg, layout, builder.ExecRunner{}, logger)
	if repo, err := git.Open(layout.Root); err == nil {
		b.WithRevision(repo)
		if repo.IsUnborn() {
			logger.Info("Repository has no commits yet, builds carry no revision until the first one")
		}
	} else if git.IsNotRepository(err) {
		logger.Debug("Workspace is not a git checkout, builds carry no revision")
	} else {
		logger.Warn("Could not open git repository", "err", err)
	}

	eng := engine.New(engine.Options{
		Layout:          layout,
		Builder:         b,
		Store:           s,
		Logger:          logger,
		Watcher:         watcher.New(layout.Root, layout.SkipDir, logger),
		Metrics:         recorder,
		QueueSize:       cfg.QueueSize,
		DiagnosticLines: cfg.DiagnosticLines,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bind before the first build so a port clash fails fast.
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           dashboard.NewServer(s, eng, recorder.Handler()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", err)
			stop()
		}
	}()
	logger.Info("Serving", "url", "http://"+displayAddr(ln.Addr().String()))

	// SIGUSR1 (from `mirin rebuild`) requests a full rebuild
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				logger.Info("Received rebuild signal")
				eng.Rebuild(engine.TriggerSignal)
			}
		}
	}()
	logger.Info("Run `mirin rebuild` to trigger a full rebuild", "pid", os.Getpid())

	if !CLI.Serve.NoKeys && isatty.IsTerminal(os.Stdin.Fd()) {
		go eng.ListenKeys(ctx, os.Stdin)
		logger.Info("Press ENTER to rebuild everything (or Ctrl+C to quit)")
	}

	runErr := eng.Run(ctx)

	logger.Info("Shutting down mirin...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "err", err)
	}
	return runErr
}

// runRebuild sends SIGUSR1 to the server running as pid.
func runRebuild(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find server process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		return fmt.Errorf("signal server (PID %d): %w", pid, err)
	}
	fmt.Printf("Sent rebuild signal to mirin (PID %d)\n", pid)
	return nil
}

func runInit(root string, force bool) error {
	path, err := config.WriteDefault(root, force)
	if err != nil {
		return err
	}
	fmt.Printf("mirin initialized in %s\n", root)
	fmt.Printf("  Config: %s\n", path)
	fmt.Printf("  Run: mirin serve %s\n", root)
	return nil
}

// displayAddr swaps an unspecified host for localhost so the URL is clickable.
func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
