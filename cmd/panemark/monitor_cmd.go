package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/panemark/panemark/internal/config"
	"github.com/panemark/panemark/internal/logging"
	"github.com/panemark/panemark/internal/reconcile"
	"github.com/panemark/panemark/internal/store"
)

const (
	// heartbeatEvery is how often the monitor refreshes its liveness row.
	heartbeatEvery = 15 * time.Second

	// monitorTimeout is how long a missing heartbeat keeps a dead
	// monitor's registration (and primary claim) alive.
	monitorTimeout = 45 * time.Second
)

// handleMonitor runs the background reconciler until interrupted. Only
// one monitor runs per database; a second invocation exits immediately.
func handleMonitor(_ []string) {
	out := NewCLIOutput(false, false)

	// First run: drop a commented config.toml next to the database so
	// users can discover the knobs.
	_ = config.CreateExampleConfig()

	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	st, err := openStore()
	if err != nil {
		out.Error(fmt.Sprintf("failed to open state database: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newTmuxClient(cfg)
	if err := client.Available(ctx); err != nil {
		out.Error("tmux not found in PATH", ErrCodeTmuxFailed)
		os.Exit(1)
	}

	// Heartbeat-based primary election replaces a lock file: a crashed
	// monitor's claim expires instead of wedging the next start.
	_ = st.CleanDeadMonitors(monitorTimeout)
	if err := st.RegisterMonitor(); err != nil {
		out.Error(fmt.Sprintf("failed to register monitor: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	defer func() { _ = st.UnregisterMonitor() }()

	isPrimary, err := st.ElectPrimary(monitorTimeout)
	if err != nil {
		out.Error(fmt.Sprintf("primary election failed: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	if !isPrimary {
		out.Error("another panemark monitor is already running", ErrCodeAlreadyRunning)
		os.Exit(1)
	}
	defer func() { _ = st.ResignPrimary() }()

	// SIGUSR1 dumps the ring buffer for post-mortem debugging
	if baseDir, err := config.Dir(); err == nil {
		usr1Chan := make(chan os.Signal, 1)
		signal.Notify(usr1Chan, syscall.SIGUSR1)
		go func() {
			for range usr1Chan {
				dumpPath := filepath.Join(baseDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
				if err := logging.DumpRingBuffer(dumpPath); err != nil {
					cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
				} else {
					cliLog.Info("crash_dump_written", slog.String("path", dumpPath))
				}
			}
		}()
	}

	rec := reconcile.New(st, client, reconcileConfig(cfg))

	cliLog.Info("monitor_started",
		slog.Int("pid", os.Getpid()),
		slog.String("version", Version))
	fmt.Printf("panemark monitor v%s started (pid %d)\n", Version, os.Getpid())

	// An immediate pass picks up whatever a crash or reboot left behind
	// before the first interval elapses.
	if err := rec.Tick(ctx, time.Now()); err != nil {
		cliLog.Warn("initial_tick_failed", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rec.Run(gctx)
	})

	g.Go(func() error {
		// Config edits take effect on the next sweep, no restart needed.
		watcher, err := config.NewWatcher(func(c *config.UserConfig) {
			rec.SetConfig(reconcileConfig(c))
		})
		if err != nil {
			cliLog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
			return nil
		}
		return watcher.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := st.Heartbeat(); err != nil {
					cliLog.Warn("heartbeat_failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		cliLog.Error("monitor_failed", slog.String("error", err.Error()))
		out.Error(fmt.Sprintf("monitor stopped: %v", err), ErrCodeMonitorFailed)
		os.Exit(1)
	}

	cliLog.Info("monitor_stopped", slog.Int("pid", os.Getpid()))
	fmt.Println("panemark monitor stopped")
}

func reconcileConfig(cfg *config.UserConfig) reconcile.Config {
	return reconcile.Config{
		Interval:       cfg.Reconcile.Interval(),
		StaleAfter:     cfg.Reconcile.StaleAfter(),
		EventRetention: cfg.Reconcile.EventRetention(),
	}
}

// handleCleanup runs one reconcile pass and exits. Handy from cron or
// before detaching a session for the day.
func handleCleanup(args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: panemark cleanup [options]")
		fmt.Println()
		fmt.Println("Run a single reconcile pass: drop records for dead panes and")
		fmt.Println("prune old events. The monitor does this continuously.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	out := NewCLIOutput(*jsonOutput, false)

	cfg, _ := config.Load()

	st, err := openStore()
	if err != nil {
		out.Error(fmt.Sprintf("failed to open state database: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	client := newTmuxClient(cfg)

	before := countRecords(st)
	rec := reconcile.New(st, client, reconcileConfig(cfg))
	if err := rec.Tick(ctx, time.Now()); err != nil {
		out.Error(fmt.Sprintf("reconcile failed: %v", err), ErrCodeTmuxFailed)
		os.Exit(1)
	}
	after := countRecords(st)

	evicted := before - after
	if evicted < 0 {
		evicted = 0
	}
	out.Success(fmt.Sprintf("cleanup complete: %d record(s) evicted, %d remaining", evicted, after),
		map[string]interface{}{"evicted": evicted, "remaining": after})
}

func countRecords(st *store.Store) int {
	records, err := st.ListPaneRecords()
	if err != nil {
		return 0
	}
	return len(records)
}
