package tmux

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// FieldSeparator joins list-panes format fields. Window names and pane
// titles can contain spaces and colons, so a printable separator would
// corrupt the split; the ASCII unit separator cannot appear in them.
const FieldSeparator = "\x1f"

// Pane is one row of list-panes output.
type Pane struct {
	ID         string
	PID        int
	Session    string
	WindowIdx  int
	WindowName string
	Title      string
}

var paneFormat = strings.Join([]string{
	"#{pane_id}",
	"#{pane_pid}",
	"#{session_name}",
	"#{window_index}",
	"#{window_name}",
	"#{pane_title}",
}, FieldSeparator)

// ListPanes enumerates every pane across all sessions.
func (c *Client) ListPanes(ctx context.Context) ([]Pane, error) {
	out, err := c.runner.Run(ctx, "list-panes", "-a", "-F", paneFormat)
	if err != nil {
		return nil, fmt.Errorf("list panes: %w", err)
	}
	return parseListPanes(out)
}

func parseListPanes(out string) ([]Pane, error) {
	var panes []Pane
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, FieldSeparator)
		if len(fields) != 6 {
			tmuxLog.Warn("list_panes_bad_line", slog.Int("fields", len(fields)))
			continue
		}
		if !strings.HasPrefix(fields[0], "%") {
			tmuxLog.Warn("list_panes_bad_pane_id", slog.String("id", fields[0]))
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			tmuxLog.Warn("list_panes_bad_pid", slog.String("pane", fields[0]), slog.String("pid", fields[1]))
			continue
		}
		idx, err := strconv.Atoi(fields[3])
		if err != nil {
			idx = 0
		}
		panes = append(panes, Pane{
			ID:         fields[0],
			PID:        pid,
			Session:    fields[2],
			WindowIdx:  idx,
			WindowName: fields[4],
			Title:      fields[5],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan list-panes output: %w", err)
	}
	return panes, nil
}
