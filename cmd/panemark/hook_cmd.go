package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/panemark/panemark/internal/config"
	"github.com/panemark/panemark/internal/notify"
	"github.com/panemark/panemark/internal/overlay"
)

// hookStdinWait bounds how long a hook waits for Claude's JSON payload.
// Claude pipes it immediately; anything slower means we were invoked by
// hand with nothing on stdin.
const hookStdinWait = 100 * time.Millisecond

// hookPayload is the subset of Claude Code's hook JSON we care about.
type hookPayload struct {
	ToolName string `json:"tool_name"`
	Message  string `json:"message"`
}

// handleHook is the entry point Claude Code invokes on lifecycle events.
// Every path below exits 0: a non-zero exit surfaces as a hook failure
// inside Claude, and a missed marker is never worth interrupting a run.
func handleHook(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: panemark hook <stop|notify|pretool|activity>")
		os.Exit(1)
	}

	ctx := context.Background()

	switch args[0] {
	case "stop":
		applyMarker(ctx, overlay.StatusStopped, "finished", notify.PriorityNormal, "")
	case "notify":
		// The Notification payload carries Claude's own message; show it
		// on the desktop instead of a generic line when present.
		var message string
		if data, ok := readHookInput(os.Stdin, hookStdinWait); ok {
			var payload hookPayload
			if err := json.Unmarshal(data, &payload); err == nil {
				message = payload.Message
			}
		}
		applyMarker(ctx, overlay.StatusNotified, "sent a notification", notify.PriorityHigh, message)
	case "pretool":
		runPretool(ctx)
	case "activity":
		restoreQuiet(ctx)
	default:
		cliLog.Warn("unknown_hook_action", slog.String("action", args[0]))
	}
}

// runPretool marks the pane only for tool calls that pause for approval.
func runPretool(ctx context.Context) {
	cfg, _ := config.Load()
	data, ok := readHookInput(os.Stdin, hookStdinWait)
	if !permissionNeeded(data, ok, cfg.Permission.GetTools()) {
		return
	}
	applyMarker(ctx, overlay.StatusWaitingPermission, "needs permission", notify.PriorityHigh, "")
}

// permissionNeeded decides whether a PreToolUse event gets a marker.
// Unknown payloads err on the side of marking: a missed permission
// prompt is the failure mode this tool exists to prevent, while a
// spurious marker clears on the next keystroke.
func permissionNeeded(data []byte, received bool, tools []string) bool {
	if !received {
		return true
	}
	var payload hookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return true
	}
	for _, t := range tools {
		if payload.ToolName == t {
			return true
		}
	}
	return false
}

// readHookInput reads everything from r, giving up after wait.
func readHookInput(r io.Reader, wait time.Duration) ([]byte, bool) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		ch <- result{data, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil || len(res.data) == 0 {
			return nil, false
		}
		return res.data, true
	case <-time.After(wait):
		// The reader goroutine is abandoned; the process exits right after.
		return nil, false
	}
}

// applyMarker puts status's marker on the current pane, then does the
// best-effort extras: activity tracking and a desktop notification.
func applyMarker(ctx context.Context, status overlay.Status, action string, priority notify.Priority, message string) {
	cfg, _ := config.Load()

	st, err := openStore()
	if err != nil {
		cliLog.Warn("hook_store_unavailable", slog.String("error", err.Error()))
		return
	}
	defer st.Close()

	client := newTmuxClient(cfg)
	paneID, err := resolvePane(ctx, client, "")
	if err != nil {
		// Claude running outside tmux; nothing to mark.
		cliLog.Debug("hook_no_pane", slog.String("error", err.Error()))
		return
	}

	engine := overlay.New(st, client)
	if err := engine.Apply(ctx, paneID, status); err != nil {
		cliLog.Warn("hook_apply_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()))
		return
	}

	// Presentation-side bookkeeping; the overlay record is already safe.
	session, err := client.SessionName(ctx, paneID)
	if err != nil {
		session = ""
	}
	if err := st.Track(paneID, session, time.Now()); err != nil {
		cliLog.Debug("hook_track_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()))
	}

	if cfg.Notifications.GetEnabled() {
		if message == "" {
			message = notify.PaneMessage(session, paneID, action)
		}
		err := newNotifier(cfg).Send(ctx, notify.Notification{
			Message:  message,
			Priority: priority,
		})
		if err != nil {
			cliLog.Debug("hook_notify_failed", slog.String("error", err.Error()))
		}
	}
}

// restoreQuiet is the activity hook: the user typed or the session
// ended, so the pane's real name comes back. Silent in every case.
func restoreQuiet(ctx context.Context) {
	cfg, _ := config.Load()

	st, err := openStore()
	if err != nil {
		cliLog.Warn("hook_store_unavailable", slog.String("error", err.Error()))
		return
	}
	defer st.Close()

	client := newTmuxClient(cfg)
	paneID, err := resolvePane(ctx, client, "")
	if err != nil {
		cliLog.Debug("hook_no_pane", slog.String("error", err.Error()))
		return
	}

	engine := overlay.New(st, client)
	if err := engine.Restore(ctx, paneID); err != nil {
		cliLog.Warn("hook_restore_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()))
		return
	}

	// Refresh activity so the staleness sweep counts keystrokes, not
	// just marker traffic.
	session, err := client.SessionName(ctx, paneID)
	if err != nil {
		session = ""
	}
	if err := st.Track(paneID, session, time.Now()); err != nil {
		cliLog.Debug("hook_track_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()))
	}
}

// handleRestore is the user-facing restore command. Unlike the hook
// path it reports what happened and exits non-zero on failure.
func handleRestore(args []string) {
	cfg, _ := config.Load()
	out := NewCLIOutput(false, false)

	explicit := ""
	if len(args) > 0 {
		explicit = args[0]
	}

	st, err := openStore()
	if err != nil {
		out.Error(fmt.Sprintf("failed to open state database: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	client := newTmuxClient(cfg)
	paneID, err := resolvePane(ctx, client, explicit)
	if err != nil {
		out.Error("no pane given and not inside tmux", ErrCodePaneNotFound)
		os.Exit(1)
	}

	engine := overlay.New(st, client)
	rec, ok, err := engine.Overlaid(paneID)
	if err != nil {
		out.Error(fmt.Sprintf("failed to read state: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	if !ok {
		out.Success(fmt.Sprintf("pane %s has no marker", paneID), nil)
		return
	}

	if err := engine.Restore(ctx, paneID); err != nil {
		out.Error(fmt.Sprintf("failed to restore pane %s: %v", paneID, err), ErrCodeTmuxFailed)
		os.Exit(1)
	}

	out.Success(fmt.Sprintf("restored pane %s to %q", paneID, rec.TrueName), nil)
}
