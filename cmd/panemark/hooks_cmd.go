package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/panemark/panemark/internal/config"
	"github.com/panemark/panemark/internal/hooks"
	"github.com/panemark/panemark/internal/notify"
)

// handleHooks handles the "hooks" CLI subcommand for manual hook management.
func handleHooks(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: panemark hooks <install|uninstall|status>")
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		handleHooksInstall(args[1:])
	case "uninstall":
		handleHooksUninstall()
	case "status":
		handleHooksStatus()
	default:
		fmt.Fprintf(os.Stderr, "Unknown hooks subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: panemark hooks <install|uninstall|status>")
		os.Exit(1)
	}
}

func handleHooksInstall(args []string) {
	fs := flag.NewFlagSet("hooks install", flag.ExitOnError)
	printTmux := fs.Bool("print-tmux", false, "Print only the tmux key binding line and exit")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *printTmux {
		// Bare line so it can go straight into ~/.tmux.conf.
		fmt.Println(hooks.TmuxBinding())
		return
	}

	configDir, err := hooks.SettingsDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error locating Claude config: %v\n", err)
		os.Exit(1)
	}
	installed, err := hooks.Install(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error installing hooks: %v\n", err)
		os.Exit(1)
	}
	if installed {
		fmt.Println("Claude Code hooks installed successfully.")
		fmt.Printf("Config: %s/settings.json\n", FormatPath(configDir))
	} else {
		fmt.Println("Claude Code hooks are already installed.")
	}
	fmt.Println()
	fmt.Println("For instant marker clearing on keypress, add to ~/.tmux.conf:")
	fmt.Printf("  %s\n", hooks.TmuxBinding())
}

func handleHooksUninstall() {
	configDir, err := hooks.SettingsDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error locating Claude config: %v\n", err)
		os.Exit(1)
	}
	removed, err := hooks.Uninstall(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error removing hooks: %v\n", err)
		os.Exit(1)
	}
	if removed {
		fmt.Println("Claude Code hooks removed successfully.")
	} else {
		fmt.Println("No panemark hooks found to remove.")
	}
}

func handleHooksStatus() {
	configDir, err := hooks.SettingsDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error locating Claude config: %v\n", err)
		os.Exit(1)
	}

	if hooks.Installed(configDir) {
		fmt.Println("Status: INSTALLED")
		fmt.Printf("Config: %s/settings.json\n", FormatPath(configDir))
	} else {
		fmt.Println("Status: NOT INSTALLED")
		fmt.Println("Run 'panemark hooks install' to install.")
	}

	fmt.Println()
	fmt.Println("Events:")
	status := hooks.EventStatus(configDir)
	for _, event := range []string{"Stop", "Notification", "PreToolUse", "UserPromptSubmit", "SessionEnd"} {
		state := "missing"
		if status[event] {
			state = "installed"
		}
		fmt.Printf("  %-18s %s\n", event, state)
	}
}

// handleNotify exists so users can verify desktop notifications work
// before trusting the hooks with them.
func handleNotify(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: panemark notify <test|send <message>>")
		os.Exit(1)
	}

	cfg, _ := config.Load()
	notifier := newNotifier(cfg)
	ctx := context.Background()

	switch args[0] {
	case "test":
		backend, err := notifier.Backend()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: no notification backend found")
			fmt.Fprintln(os.Stderr, "Install notify-send (Linux), or run on macOS/WSL.")
			os.Exit(1)
		}
		fmt.Printf("Backend: %s\n", backend)
		err = notifier.Send(ctx, notify.Notification{
			Message:  "panemark notifications are working",
			Priority: notify.PriorityNormal,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Test notification sent.")
	case "send":
		fs := flag.NewFlagSet("notify send", flag.ExitOnError)
		priority := fs.String("priority", "normal", "Priority: low, normal, high")
		if err := fs.Parse(normalizeArgs(fs, args[1:])); err != nil {
			os.Exit(1)
		}
		message := strings.Join(fs.Args(), " ")
		if message == "" {
			fmt.Fprintln(os.Stderr, "Usage: panemark notify send [--priority p] <message>")
			os.Exit(1)
		}
		err := notifier.Send(ctx, notify.Notification{
			Message:  message,
			Priority: notify.Priority(*priority),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown notify subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: panemark notify <test|send <message>>")
		os.Exit(1)
	}
}
