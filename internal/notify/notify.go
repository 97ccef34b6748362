package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/panemark/panemark/internal/logging"
	"github.com/panemark/panemark/internal/platform"
)

var notifyLog = logging.ForComponent(logging.CompNotify)

// Priority maps to the backend's urgency knob where one exists.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one desktop notification.
type Notification struct {
	Title    string
	Message  string
	Priority Priority
}

// ErrNoBackend means no notification command exists on this system.
var ErrNoBackend = errors.New("no notification backend found")

const defaultTitle = "panemark"

// sendTimeout bounds a notification subprocess when the caller's
// context carries no deadline.
const sendTimeout = 5 * time.Second

// Notifier sends desktop notifications through whatever backend the
// platform offers. Sends are rate limited so a burst of hook events
// cannot flood the desktop; dropped sends are not errors.
type Notifier struct {
	limiter *rate.Limiter

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error

	mu      sync.Mutex
	backend string
	probed  bool
}

// New builds a notifier allowing one send per every, with burst sends
// allowed back to back.
func New(every time.Duration, burst int) *Notifier {
	return &Notifier{
		limiter:  rate.NewLimiter(rate.Every(every), burst),
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Backend returns the notification command this system will use,
// resolving and caching it on first call.
func (n *Notifier) Backend() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.probed {
		if n.backend == "" {
			return "", ErrNoBackend
		}
		return n.backend, nil
	}
	n.probed = true

	for _, candidate := range backendCandidates() {
		if _, err := n.lookPath(candidate); err == nil {
			n.backend = candidate
			return candidate, nil
		}
	}
	return "", ErrNoBackend
}

// backendCandidates orders commands by how native they are to the
// detected platform. WSL prefers Windows toasts over notify-send since
// a Linux notification daemon is rarely running there.
func backendCandidates() []string {
	switch platform.Detect() {
	case platform.PlatformMacOS:
		return []string{"osascript", "notify-send"}
	case platform.PlatformWSL1, platform.PlatformWSL2:
		return []string{"powershell.exe", "notify-send"}
	case platform.PlatformWindows:
		return []string{"powershell.exe"}
	default:
		return []string{"notify-send", "osascript"}
	}
}

// Send delivers one notification. Rate-limited drops return nil; a
// missing or failing backend returns an error that callers on the hook
// path are expected to ignore.
func (n *Notifier) Send(ctx context.Context, note Notification) error {
	if !n.limiter.Allow() {
		notifyLog.Debug("notification_rate_limited", slog.String("message", note.Message))
		return nil
	}

	backend, err := n.Backend()
	if err != nil {
		notifyLog.Debug("notification_skipped", slog.String("reason", err.Error()))
		return err
	}

	if note.Title == "" {
		note.Title = defaultTitle
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sendTimeout)
		defer cancel()
	}

	name, args := buildCommand(backend, note)
	if err := n.run(ctx, name, args...); err != nil {
		notifyLog.Warn("notification_failed",
			slog.String("backend", backend),
			slog.String("error", err.Error()))
		return fmt.Errorf("send notification: %w", err)
	}
	notifyLog.Debug("notification_sent",
		slog.String("backend", backend),
		slog.String("message", note.Message))
	return nil
}

func buildCommand(backend string, note Notification) (string, []string) {
	switch backend {
	case "notify-send":
		return backend, []string{"-u", urgency(note.Priority), note.Title, note.Message}
	case "osascript":
		script := fmt.Sprintf("display notification %q with title %q", note.Message, note.Title)
		return backend, []string{"-e", script}
	default: // powershell.exe / powershell
		return backend, []string{"-NoProfile", "-Command", toastScript(note)}
	}
}

func urgency(p Priority) string {
	switch p {
	case PriorityHigh:
		return "critical"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

func toastScript(note Notification) string {
	text := psEscape(note.Title + ": " + note.Message)
	return `[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
$template = [Windows.UI.Notifications.ToastTemplateType]::ToastText01
$xml = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent($template)
$xml.SelectSingleNode("//text[@id='1']").AppendChild($xml.CreateTextNode("` + text + `")) | Out-Null
$toast = [Windows.UI.Notifications.ToastNotification]::new($xml)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("panemark").Show($toast)`
}

func psEscape(s string) string {
	s = strings.ReplaceAll(s, "`", "``")
	return strings.ReplaceAll(s, `"`, "`\"")
}

// PaneMessage formats the standard "session:pane - Claude <action>"
// notification body.
func PaneMessage(session, paneID, action string) string {
	if session == "" {
		session = "unknown"
	}
	return fmt.Sprintf("%s:%s - Claude %s", session, paneID, action)
}
