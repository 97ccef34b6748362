package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/panemark/panemark/internal/config"
	"github.com/panemark/panemark/internal/logging"
	"github.com/panemark/panemark/internal/notify"
	"github.com/panemark/panemark/internal/store"
	"github.com/panemark/panemark/internal/tmux"
)

const Version = "0.4.2"

// dbFileName is the SQLite database inside the panemark directory.
const dbFileName = "panemark.db"

var cliLog = logging.ForComponent(logging.CompCLI)

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal capabilities.
// Prefers TrueColor for best visuals, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// Allow user override via environment variable
	// PANEMARK_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("PANEMARK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	// Explicit TrueColor support
	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Known TrueColor-capable terminals
	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) || term == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Common terminal emulators advertise themselves via env vars
	if os.Getenv("WT_SESSION") != "" || // Windows Terminal
		os.Getenv("ITERM_SESSION_ID") != "" || // iTerm2
		os.Getenv("TERMINAL_EMULATOR") != "" || // JetBrains terminals
		os.Getenv("KONSOLE_VERSION") != "" { // Konsole
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Fallback: ANSI256 works in SSH, basic terminals, and older emulators
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]

	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("panemark v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	}

	teardown := setupLogging()
	defer teardown()

	switch args[0] {
	case "hook":
		handleHook(args[1:])
	case "restore":
		handleRestore(args[1:])
	case "monitor":
		handleMonitor(args[1:])
	case "cleanup":
		handleCleanup(args[1:])
	case "panes", "ls":
		handlePanes(args[1:])
	case "status":
		handleStatus(args[1:])
	case "events":
		handleEvents(args[1:])
	case "track":
		handleTrack(args[1:])
	case "untrack":
		handleUntrack(args[1:])
	case "hooks":
		handleHooks(args[1:])
	case "notify":
		handleNotify(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'panemark help' for usage.")
		os.Exit(1)
	}
}

// setupLogging wires structured logging (JSONL with rotation) under the
// panemark directory. When PANEMARK_DEBUG is unset, nothing reaches
// stderr; hook invocations must stay invisible to Claude's lifecycle.
func setupLogging() func() {
	debugMode := os.Getenv("PANEMARK_DEBUG") != ""

	baseDir, err := config.Dir()
	if err != nil {
		logging.Init(logging.Config{Debug: debugMode})
		return logging.Shutdown
	}

	logCfg := logging.Config{
		Debug:                 debugMode,
		LogDir:                baseDir,
		Level:                 "info",
		Format:                "json",
		MaxSizeMB:             10,
		MaxBackups:            5,
		MaxAgeDays:            10,
		Compress:              true,
		RingBufferSize:        1 * 1024 * 1024,
		AggregateIntervalSecs: 30,
	}

	// Override defaults from user config if available
	if userCfg, err := config.Load(); err == nil {
		ls := userCfg.Logs
		if ls.Level != "" {
			logCfg.Level = ls.Level
		}
		if ls.Format != "" {
			logCfg.Format = ls.Format
		}
		if ls.MaxSizeMB > 0 {
			logCfg.MaxSizeMB = ls.MaxSizeMB
		}
		if ls.Backups > 0 {
			logCfg.MaxBackups = ls.Backups
		}
		if ls.RetentionDays > 0 {
			logCfg.MaxAgeDays = ls.RetentionDays
		}
		logCfg.Compress = ls.GetCompress()
		if ls.RingBufferMB > 0 {
			logCfg.RingBufferSize = ls.RingBufferMB * 1024 * 1024
		}
		if ls.PprofEnabled {
			logCfg.PprofEnabled = true
		}
	}

	logging.Init(logCfg)
	return logging.Shutdown
}

// openStore opens the SQLite state database, applying migrations and a
// one-time import of any state file left behind by the legacy scripts.
func openStore() (*store.Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, err
	}
	if n, err := store.ImportLegacyState(st, dir); err == nil && n > 0 {
		cliLog.Info("legacy_state_imported", "records", n)
	}
	return st, nil
}

func newTmuxClient(cfg *config.UserConfig) *tmux.Client {
	return tmux.NewClient(&tmux.ExecRunner{
		Binary:  cfg.Tmux.GetCommand(),
		Timeout: cfg.Tmux.Timeout(),
	})
}

func newNotifier(cfg *config.UserConfig) *notify.Notifier {
	return notify.New(cfg.Notifications.RateEvery(), cfg.Notifications.GetBurst())
}

// resolvePane picks the pane to operate on: an explicit argument wins,
// then the TMUX_PANE env var set by tmux for processes it spawned, then
// a display-message round trip for the active pane.
func resolvePane(ctx context.Context, client *tmux.Client, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if pane := os.Getenv("TMUX_PANE"); pane != "" {
		return pane, nil
	}
	return client.CurrentPaneID(ctx)
}

func printHelp() {
	fmt.Printf("panemark v%s\n", Version)
	fmt.Println("Tmux window-name status markers for Claude Code panes")
	fmt.Println()
	fmt.Println("Usage: panemark [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  hook <action>    Claude Code hook entry point (stop|notify|pretool|activity)")
	fmt.Println("  restore [pane]   Restore a pane's real window name")
	fmt.Println("  monitor          Run the background reconciler (one per machine)")
	fmt.Println("  cleanup          Run a single reconcile pass and exit")
	fmt.Println("  panes, ls        List panes and their markers")
	fmt.Println("  status           Show marker counts")
	fmt.Println("  events           Show the marker audit trail")
	fmt.Println("  track [pane]     Start tracking a pane")
	fmt.Println("  untrack [pane]   Stop tracking a pane")
	fmt.Println("  hooks            Manage Claude Code hook installation")
	fmt.Println("  notify           Test desktop notifications")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Hooks Commands:")
	fmt.Println("  hooks install    Install hooks into Claude Code settings.json")
	fmt.Println("  hooks uninstall  Remove panemark hooks, leaving others intact")
	fmt.Println("  hooks status     Show per-event installation state")
	fmt.Println()
	fmt.Println("Notify Commands:")
	fmt.Println("  notify test             Probe the notification backend and send a test")
	fmt.Println("  notify send <message>   Send a notification with the given message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  panemark hooks install          # Wire into Claude Code")
	fmt.Println("  panemark monitor                # Start the reconciler (e.g. from systemd)")
	fmt.Println("  panemark panes --json           # Pane table for scripting")
	fmt.Println("  panemark panes deploy           # Fuzzy-match panes by name")
	fmt.Println("  panemark restore %3             # Put a pane's real name back")
	fmt.Println("  panemark status -q              # Just the marker count")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  PANEMARK_DIR     Data directory (default: ~/.panemark)")
	fmt.Println("  PANEMARK_DEBUG   Log to stderr as well as debug.log")
	fmt.Println("  PANEMARK_COLOR   Color mode: truecolor, 256, 16, none")
}
