package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
	"golang.org/x/term"

	"github.com/panemark/panemark/internal/config"
	"github.com/panemark/panemark/internal/overlay"
	"github.com/panemark/panemark/internal/store"
	"github.com/panemark/panemark/internal/tmux"
)

// Table column widths for panes/events output
const (
	colPane    = 8
	colMarker  = 3
	colSession = 16
	colWindow  = 28
	colKind    = 12
)

// paneRow is one line of the panes table.
type paneRow struct {
	PaneID     string
	Session    string
	WindowName string
	TrueName   string
	Status     string
	Marker     string
	SavedAt    time.Time
	Dead       bool
	Tracked    bool
}

// buildPaneRows joins live panes with overlay records and the tracked
// set. Records whose pane is gone still get a row: they mean the
// reconciler has not swept yet, and hiding them would hide the garbage.
func buildPaneRows(panes []tmux.Pane, records []*store.PaneRecord, tracked []*store.TrackedPane, includeAll bool) []paneRow {
	recs := make(map[string]*store.PaneRecord, len(records))
	for _, r := range records {
		recs[r.PaneID] = r
	}
	tracks := make(map[string]*store.TrackedPane, len(tracked))
	for _, t := range tracked {
		tracks[t.PaneID] = t
	}

	var rows []paneRow
	for _, p := range panes {
		rec := recs[p.ID]
		_, isTracked := tracks[p.ID]
		if rec == nil && !isTracked && !includeAll {
			continue
		}
		row := paneRow{
			PaneID:     p.ID,
			Session:    p.Session,
			WindowName: p.WindowName,
			Tracked:    isTracked,
		}
		if rec != nil {
			row.TrueName = rec.TrueName
			row.Status = rec.Status
			row.Marker = overlay.Status(rec.Status).Marker()
			row.SavedAt = rec.SavedAt
			delete(recs, p.ID)
		}
		rows = append(rows, row)
	}

	var orphans []paneRow
	for _, rec := range recs {
		session := ""
		if tp := tracks[rec.PaneID]; tp != nil {
			session = tp.SessionName
		}
		orphans = append(orphans, paneRow{
			PaneID:     rec.PaneID,
			Session:    session,
			WindowName: rec.TrueName,
			TrueName:   rec.TrueName,
			Status:     rec.Status,
			Marker:     overlay.Status(rec.Status).Marker(),
			SavedAt:    rec.SavedAt,
			Dead:       true,
		})
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].PaneID < orphans[j].PaneID })
	return append(rows, orphans...)
}

// filterRows fuzzy-matches rows against "session:window" the way the
// tmux status line shows panes.
func filterRows(rows []paneRow, query string) []paneRow {
	if query == "" {
		return rows
	}
	targets := make([]string, len(rows))
	for i, r := range rows {
		targets[i] = r.Session + ":" + r.WindowName
	}
	matches := fuzzy.Find(query, targets)
	filtered := make([]paneRow, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, rows[m.Index])
	}
	return filtered
}

func handlePanes(args []string) {
	fs := flag.NewFlagSet("panes", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	all := fs.Bool("all", false, "Include panes without markers or tracking")
	match := fs.String("match", "", "Fuzzy-filter by session:window")

	fs.Usage = func() {
		fmt.Println("Usage: panemark panes [options] [query]")
		fmt.Println()
		fmt.Println("List panes with their markers. By default only panes with a")
		fmt.Println("marker or tracked activity are shown.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  panemark panes                 # Marked and tracked panes")
		fmt.Println("  panemark panes --all           # Every pane on the server")
		fmt.Println("  panemark panes deploy          # Fuzzy-match by name")
		fmt.Println("  panemark panes --json          # For scripting")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	query := *match
	if rest := fs.Args(); len(rest) > 0 && query == "" {
		query = strings.Join(rest, " ")
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

	panes, err := client.ListPanes(ctx)
	if err != nil {
		// A stopped tmux server still has state worth showing; every
		// record just renders as dead.
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		panes = nil
	}

	records, err := st.ListPaneRecords()
	if err != nil {
		out.Error(fmt.Sprintf("failed to read state: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	tracked, _ := st.ListTracked()

	rows := filterRows(buildPaneRows(panes, records, tracked, *all), query)

	if *jsonOutput {
		printPanesJSON(rows)
		return
	}

	if len(rows) == 0 {
		if query != "" {
			fmt.Printf("No panes match %q.\n", query)
		} else {
			fmt.Println("No marked panes. Run 'panemark panes --all' to see every pane.")
		}
		return
	}

	colored := term.IsTerminal(int(os.Stdout.Fd()))
	styles := newTableStyles(config.ResolveTheme(), colored)
	fmt.Print(renderPaneTable(rows, styles, time.Now()))
}

func printPanesJSON(rows []paneRow) {
	type paneJSON struct {
		PaneID     string `json:"pane_id"`
		Session    string `json:"session,omitempty"`
		WindowName string `json:"window_name"`
		TrueName   string `json:"true_name,omitempty"`
		Status     string `json:"status,omitempty"`
		Marker     string `json:"marker,omitempty"`
		SavedAt    string `json:"saved_at,omitempty"`
		Dead       bool   `json:"dead,omitempty"`
		Tracked    bool   `json:"tracked,omitempty"`
	}
	panes := make([]paneJSON, len(rows))
	for i, r := range rows {
		panes[i] = paneJSON{
			PaneID:     r.PaneID,
			Session:    r.Session,
			WindowName: r.WindowName,
			TrueName:   r.TrueName,
			Status:     r.Status,
			Marker:     r.Marker,
			Dead:       r.Dead,
			Tracked:    r.Tracked,
		}
		if !r.SavedAt.IsZero() {
			panes[i].SavedAt = r.SavedAt.UTC().Format(time.RFC3339)
		}
	}
	output, err := json.MarshalIndent(panes, "", "  ")
	if err != nil {
		fmt.Printf("Error: failed to format JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

// renderPaneTable formats rows into an aligned table. Markers are
// double-width emoji, so alignment goes through runewidth, not %-*s.
func renderPaneTable(rows []paneRow, styles tableStyles, now time.Time) string {
	var b strings.Builder

	b.WriteString(styles.Header.Render(
		cell("PANE", colPane) + cell("", colMarker) + cell("SESSION", colSession) + cell("WINDOW", colWindow) + "SAVED"))
	b.WriteString("\n")

	marked := 0
	for _, r := range rows {
		marker := r.Marker
		if marker == "" {
			marker = "·"
		} else {
			marked++
		}

		nameStyle := styles.Dim
		if r.Status != "" {
			nameStyle = styles.forStatus(r.Status)
		}
		if r.Dead {
			nameStyle = styles.Dead
		}

		saved := "-"
		if !r.SavedAt.IsZero() {
			saved = relativeTime(r.SavedAt, now)
		}
		if r.Dead {
			saved += " (pane gone)"
		}

		b.WriteString(cell(r.PaneID, colPane))
		b.WriteString(nameStyle.Render(cell(marker, colMarker)))
		b.WriteString(cell(r.Session, colSession))
		b.WriteString(nameStyle.Render(cell(r.WindowName, colWindow)))
		b.WriteString(styles.Dim.Render(saved))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Total: %d pane(s), %d marked\n", len(rows), marked))
	return b.String()
}

// statusSummary counts overlay records by status.
type statusSummary struct {
	Stopped  int
	Notified int
	Waiting  int
	Unknown  int
	Total    int
}

func summarize(records []*store.PaneRecord) statusSummary {
	var s statusSummary
	for _, r := range records {
		switch overlay.Status(r.Status) {
		case overlay.StatusStopped:
			s.Stopped++
		case overlay.StatusNotified:
			s.Notified++
		case overlay.StatusWaitingPermission:
			s.Waiting++
		default:
			s.Unknown++
		}
		s.Total++
	}
	return s
}

func (s statusSummary) String() string {
	if s.Total == 0 {
		return "No markers active."
	}
	var parts []string
	if s.Stopped > 0 {
		parts = append(parts, fmt.Sprintf("%d stopped", s.Stopped))
	}
	if s.Notified > 0 {
		parts = append(parts, fmt.Sprintf("%d notified", s.Notified))
	}
	if s.Waiting > 0 {
		parts = append(parts, fmt.Sprintf("%d waiting for permission", s.Waiting))
	}
	if s.Unknown > 0 {
		parts = append(parts, fmt.Sprintf("%d unknown", s.Unknown))
	}
	return fmt.Sprintf("%d marker(s) active (%s)", s.Total, strings.Join(parts, ", "))
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	quiet := fs.Bool("quiet", false, "Only output the marker count (for scripts)")
	quietShort := fs.Bool("q", false, "Only output the marker count (short)")

	fs.Usage = func() {
		fmt.Println("Usage: panemark status [options]")
		fmt.Println()
		fmt.Println("Show a summary of active markers.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, *quiet || *quietShort)

	st, err := openStore()
	if err != nil {
		out.Error(fmt.Sprintf("failed to open state database: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	defer st.Close()

	records, err := st.ListPaneRecords()
	if err != nil {
		out.Error(fmt.Sprintf("failed to read state: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}

	s := summarize(records)

	if *jsonOutput {
		type statusJSON struct {
			Stopped  int `json:"stopped"`
			Notified int `json:"notified"`
			Waiting  int `json:"waiting_permission"`
			Unknown  int `json:"unknown"`
			Total    int `json:"total"`
		}
		output, _ := json.Marshal(statusJSON{
			Stopped:  s.Stopped,
			Notified: s.Notified,
			Waiting:  s.Waiting,
			Unknown:  s.Unknown,
			Total:    s.Total,
		})
		fmt.Println(string(output))
		return
	}

	if *quiet || *quietShort {
		fmt.Println(s.Total)
		return
	}

	fmt.Println(s.String())
}

func handleEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("limit", 20, "Number of events to show")

	fs.Usage = func() {
		fmt.Println("Usage: panemark events [options]")
		fmt.Println()
		fmt.Println("Show the marker audit trail, newest first.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, false)

	st, err := openStore()
	if err != nil {
		out.Error(fmt.Sprintf("failed to open state database: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	defer st.Close()

	events, err := st.RecentEvents(*limit)
	if err != nil {
		out.Error(fmt.Sprintf("failed to read events: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}

	if *jsonOutput {
		type eventJSON struct {
			ID     string `json:"id"`
			PaneID string `json:"pane_id"`
			Kind   string `json:"kind"`
			Detail string `json:"detail,omitempty"`
			At     string `json:"at"`
		}
		list := make([]eventJSON, len(events))
		for i, ev := range events {
			list[i] = eventJSON{
				ID:     ev.ID,
				PaneID: ev.PaneID,
				Kind:   ev.Kind,
				Detail: ev.Detail,
				At:     ev.At.UTC().Format(time.RFC3339),
			}
		}
		output, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(output))
		return
	}

	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return
	}

	colored := term.IsTerminal(int(os.Stdout.Fd()))
	styles := newTableStyles(config.ResolveTheme(), colored)
	now := time.Now()

	b := styles.Header.Render(
		cell("WHEN", 10) + cell("KIND", colKind) + cell("PANE", colPane) + "DETAIL")
	fmt.Println(b)
	for _, ev := range events {
		fmt.Printf("%s%s%s%s\n",
			styles.Dim.Render(cell(relativeTime(ev.At, now), 10)),
			eventKindStyle(styles, ev.Kind).Render(cell(ev.Kind, colKind)),
			cell(ev.PaneID, colPane),
			ev.Detail)
	}
}

func eventKindStyle(styles tableStyles, kind string) lipgloss.Style {
	switch kind {
	case store.EventApply:
		return styles.Stopped
	case store.EventRestore:
		return styles.Dim
	case store.EventEvictDead:
		return styles.Waiting
	case store.EventEvictStale:
		return styles.Notified
	default:
		return styles.Dim
	}
}

func handleTrack(args []string) {
	trackOrUntrack(args, true)
}

func handleUntrack(args []string) {
	trackOrUntrack(args, false)
}

func trackOrUntrack(args []string, track bool) {
	out := NewCLIOutput(false, false)
	cfg, _ := config.Load()

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

	if !track {
		if err := st.Untrack(paneID); err != nil {
			out.Error(fmt.Sprintf("failed to untrack pane: %v", err), ErrCodeStoreFailed)
			os.Exit(1)
		}
		out.Success(fmt.Sprintf("stopped tracking pane %s", paneID), nil)
		return
	}

	session, err := client.SessionName(ctx, paneID)
	if err != nil {
		session = ""
	}
	if err := st.Track(paneID, session, time.Now()); err != nil {
		out.Error(fmt.Sprintf("failed to track pane: %v", err), ErrCodeStoreFailed)
		os.Exit(1)
	}
	out.Success(fmt.Sprintf("tracking pane %s", paneID), nil)
}
