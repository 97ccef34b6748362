package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/panemark/panemark/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// DefaultTimeout bounds every tmux subprocess call so a wedged server
// cannot hang a hook invocation.
const DefaultTimeout = 5 * time.Second

// Runner executes a tmux command and returns its trimmed combined output.
// The single-method interface keeps the client testable without a live
// tmux server.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner shells out to the tmux binary.
type ExecRunner struct {
	// Binary overrides the tmux executable name (default "tmux").
	Binary string

	// Timeout is the per-command deadline (default DefaultTimeout).
	Timeout time.Duration
}

// NewExecRunner returns a runner with default binary and timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	binary := r.Binary
	if binary == "" {
		binary = "tmux"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tmux %s timed out after %s", args[0], timeout)
		}
		return "", fmt.Errorf("tmux %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Client exposes the pane-facing tmux operations panemark needs.
// "Name" here is always the window name of the window containing the
// pane: tmux panes have titles, but the visible label in the status
// bar is the window name, so that is what gets the marker.
type Client struct {
	runner Runner
}

// NewClient wraps a Runner. A nil runner gets the default ExecRunner.
func NewClient(runner Runner) *Client {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Client{runner: runner}
}

// Available reports whether the tmux binary responds.
func (c *Client) Available(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, "-V"); err != nil {
		return fmt.Errorf("tmux not found or not working: %w", err)
	}
	return nil
}

// InsideTmux reports whether the current process runs inside a tmux
// client (the server sets $TMUX for its children).
func InsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// CurrentPaneID resolves the pane the caller is running in.
func (c *Client) CurrentPaneID(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, "display-message", "-p", "#{pane_id}")
	if err != nil {
		return "", fmt.Errorf("resolve current pane: %w", err)
	}
	if !strings.HasPrefix(out, "%") {
		return "", fmt.Errorf("resolve current pane: unexpected output %q", out)
	}
	return out, nil
}

// DisplayedName returns the window name shown for the pane.
func (c *Client) DisplayedName(ctx context.Context, paneID string) (string, error) {
	out, err := c.runner.Run(ctx, "display-message", "-p", "-t", paneID, "#{window_name}")
	if err != nil {
		return "", fmt.Errorf("get window name for %s: %w", paneID, err)
	}
	return out, nil
}

// SetName renames the window containing the pane.
func (c *Client) SetName(ctx context.Context, paneID, name string) error {
	if _, err := c.runner.Run(ctx, "rename-window", "-t", paneID, name); err != nil {
		return fmt.Errorf("rename window for %s: %w", paneID, err)
	}
	return nil
}

// AutoRename reports whether automatic-rename is on for the pane's
// window. An unset window-level option yields empty output, which
// reads as off.
func (c *Client) AutoRename(ctx context.Context, paneID string) (bool, error) {
	out, err := c.runner.Run(ctx, "show-options", "-t", paneID, "automatic-rename")
	if err != nil {
		return false, fmt.Errorf("show automatic-rename for %s: %w", paneID, err)
	}
	// Output looks like "automatic-rename on".
	fields := strings.Fields(out)
	return len(fields) > 0 && fields[len(fields)-1] == "on", nil
}

// SetAutoRename toggles automatic-rename on the pane's window.
func (c *Client) SetAutoRename(ctx context.Context, paneID string, enabled bool) error {
	value := "off"
	if enabled {
		value = "on"
	}
	if _, err := c.runner.Run(ctx, "set-option", "-t", paneID, "automatic-rename", value); err != nil {
		return fmt.Errorf("set automatic-rename %s for %s: %w", value, paneID, err)
	}
	return nil
}

// SessionName returns the name of the session owning the pane.
func (c *Client) SessionName(ctx context.Context, paneID string) (string, error) {
	out, err := c.runner.Run(ctx, "display-message", "-p", "-t", paneID, "#{session_name}")
	if err != nil {
		return "", fmt.Errorf("get session name for %s: %w", paneID, err)
	}
	return out, nil
}
