package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// normalizeArgs moves flags ahead of positional arguments before
// parsing. The flag package stops at the first non-flag token, so
// "panemark panes deploy --json" would otherwise drop --json on the
// floor. Bool flags are detected via the FlagSet so that value flags
// keep their argument next to them.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// Everything after "--" is positional no matter what it looks like.
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}

		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")

		// --flag=value carries its value inline; nothing more to move.
		if strings.Contains(name, "=") {
			continue
		}
		// A value flag owns the following token.
		if !boolFlags[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(flags, positional...)
}

// CLIOutput keeps success and error reporting uniform across commands,
// switching between human lines and JSON per the --json flag.
type CLIOutput struct {
	jsonMode  bool
	quietMode bool
}

func NewCLIOutput(jsonMode, quietMode bool) *CLIOutput {
	return &CLIOutput{jsonMode: jsonMode, quietMode: quietMode}
}

// Success reports a completed operation. In JSON mode data is the
// whole response; quiet mode swallows it entirely.
func (c *CLIOutput) Success(message string, data interface{}) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Printf("%s %s\n", successSymbol, message)
}

// Error reports a failure. Errors print even in quiet mode; scripts
// match on the code field rather than the message text.
func (c *CLIOutput) Error(message string, code string) {
	if c.jsonMode {
		c.printJSON(map[string]interface{}{
			"success": false,
			"error":   message,
			"code":    code,
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// Print emits preformatted output in the active mode.
func (c *CLIOutput) Print(humanOutput string, jsonData interface{}) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(jsonData)
		return
	}
	fmt.Print(humanOutput)
}

func (c *CLIOutput) printJSON(data interface{}) {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to format JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

const (
	successSymbol = "✓"
	errorSymbol   = "✕"
	bulletSymbol  = "•"
)

// Error codes for the JSON "code" field.
const (
	ErrCodePaneNotFound   = "PANE_NOT_FOUND"
	ErrCodeStoreFailed    = "STORE_FAILED"
	ErrCodeTmuxFailed     = "TMUX_FAILED"
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"
	ErrCodeMonitorFailed  = "MONITOR_FAILED"
)

// cell pads s to an exact display width, truncating with an ellipsis
// when needed. Emoji markers are double-width, so alignment has to go
// through runewidth rather than fmt's %-*s.
func cell(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width-1, "…"), width)
}

// relativeTime renders t as a compact age like "5m ago".
func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// FormatPath swaps the home directory prefix for ~ in display paths.
func FormatPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
