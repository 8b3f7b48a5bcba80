// Command cs2obs attaches to a running Counter-Strike 2 process, walks
// its entity table on a fixed cadence, and serves the resulting player
// snapshots over a websocket feed (and, optionally, a terminal
// dashboard).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ashgrove/cs2obs/internal/broadcast"
	"github.com/ashgrove/cs2obs/internal/config"
	"github.com/ashgrove/cs2obs/internal/gameobserver"
	"github.com/ashgrove/cs2obs/internal/obslog"
	"github.com/ashgrove/cs2obs/internal/offsets"
	"github.com/ashgrove/cs2obs/internal/poller"
	"github.com/ashgrove/cs2obs/internal/procfs"
	"github.com/ashgrove/cs2obs/internal/transport"
	"github.com/ashgrove/cs2obs/internal/tui"
)

var (
	configPath string
	envPath    string

	processNameFlag  string
	listenAddrFlag   string
	webRootFlag      string
	pollIntervalFlag time.Duration
	logLevelFlag     string
	tuiFlag          bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cs2obs",
		Short: "Read-only external observer for a running CS2 process",
		Long: `cs2obs attaches to a running cs2 process over /proc/<pid>/mem, resolves
the engine's interface and netvar offsets directly from memory, and walks
the entity table every 100ms to produce a live player feed.

It never writes to the target process and never injects code. The feed
is pushed over a websocket at /ws as JSON, and optionally mirrored to a
terminal dashboard with --tui.`,
		RunE: run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "path to an optional YAML config file")
	rootCmd.Flags().StringVar(&envPath, "env-file", ".env", "path to an optional .env file")
	rootCmd.Flags().StringVar(&processNameFlag, "process", "", "target process name (overrides config)")
	rootCmd.Flags().StringVar(&listenAddrFlag, "listen", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().StringVar(&webRootFlag, "web-root", "", "static asset directory (overrides config)")
	rootCmd.Flags().DurationVar(&pollIntervalFlag, "poll-interval", 0, "observation loop cadence (overrides config)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "\"debug\" for debug logging; any other value logs at warn level (overrides config)")
	rootCmd.Flags().BoolVar(&tuiFlag, "tui", false, "also render a terminal dashboard")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)

	obslog.Init(cfg.LogLevel == "debug")
	log := obslog.L
	defer log.Sync()

	pid, err := procfs.FindByName(cfg.ProcessName)
	if err != nil {
		return fmt.Errorf("find process %q: %w", cfg.ProcessName, err)
	}
	log.Info("found target process", obslog.PID(int(pid)))

	proc, err := procfs.Open(pid)
	if err != nil {
		return fmt.Errorf("attach to process: %w", err)
	}
	defer proc.Close()

	off, err := offsets.Resolve(proc)
	if err != nil {
		return fmt.Errorf("resolve offsets: %w", err)
	}
	log.Info("resolved offsets")

	observer := gameobserver.New(proc, off)
	hub := broadcast.New()
	defer hub.Close()

	p := poller.NewWithInterval(observer, hub, func(err error) {
		log.Warn("tick failed", zap.Error(err))
	}, cfg.PollInterval)

	stop := make(chan struct{})

	server := transport.New(hub, cfg.WebRoot, 10*time.Second, log)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.Run(stop)
		return nil
	})

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	if cfg.TUI {
		g.Go(func() error {
			return tui.Run(gctx, hub)
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
	case <-gctx.Done():
	}

	close(stop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		return err
	}
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("process") {
		cfg.ProcessName = processNameFlag
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = listenAddrFlag
	}
	if cmd.Flags().Changed("web-root") {
		cfg.WebRoot = webRootFlag
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval = pollIntervalFlag
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if cmd.Flags().Changed("tui") {
		cfg.TUI = tuiFlag
	}
}
