package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "panemark.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "panemark.db")

	// Open and write
	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.PutPane(&PaneRecord{
		PaneID:   "%1",
		TrueName: "build",
		Status:   "stopped",
		SavedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("PutPane: %v", err)
	}
	db1.Close()

	// Reopen and verify the record survived
	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	rec, err := db2.GetPane("%1")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record after reopen, got nil")
	}
	if rec.TrueName != "build" || rec.Status != "stopped" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestGetPaneAbsent(t *testing.T) {
	db := newTestStore(t)

	rec, err := db.GetPane("%99")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for absent pane, got %+v", rec)
	}
}

func TestPutPaneReplaces(t *testing.T) {
	db := newTestStore(t)

	first := &PaneRecord{PaneID: "%2", TrueName: "vim", Status: "stopped", SavedAt: time.Now(), AutoRename: true}
	if err := db.PutPane(first); err != nil {
		t.Fatalf("PutPane: %v", err)
	}

	// Same pane, new status: the row must be replaced, not duplicated
	second := &PaneRecord{PaneID: "%2", TrueName: "vim", Status: "notified", SavedAt: time.Now(), AutoRename: true}
	if err := db.PutPane(second); err != nil {
		t.Fatalf("PutPane replace: %v", err)
	}

	rec, err := db.GetPane("%2")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec.Status != "notified" {
		t.Errorf("expected replaced status 'notified', got %q", rec.Status)
	}
	if !rec.AutoRename {
		t.Error("auto_rename flag lost on replace")
	}

	records, err := db.ListPaneRecords()
	if err != nil {
		t.Fatalf("ListPaneRecords: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record after replace, got %d", len(records))
	}
}

func TestDeletePaneIdempotent(t *testing.T) {
	db := newTestStore(t)

	if err := db.PutPane(&PaneRecord{PaneID: "%3", TrueName: "logs", Status: "stopped", SavedAt: time.Now()}); err != nil {
		t.Fatalf("PutPane: %v", err)
	}
	if err := db.DeletePane("%3"); err != nil {
		t.Fatalf("DeletePane: %v", err)
	}
	// Deleting again must not fail
	if err := db.DeletePane("%3"); err != nil {
		t.Fatalf("DeletePane (absent): %v", err)
	}

	rec, err := db.GetPane("%3")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil after delete, got %+v", rec)
	}
}

func TestGetPaneCorruptRowReadsAsAbsent(t *testing.T) {
	db := newTestStore(t)

	// Inject a row whose saved_at is not a number. SQLite stores it
	// anyway; the scan must fail and read as absent, never as an error.
	if _, err := db.DB().Exec(
		`INSERT INTO pane_records (pane_id, true_name, status, saved_at, auto_rename)
		 VALUES ('%7', 'shell', 'stopped', 'garbage', 0)`,
	); err != nil {
		t.Fatalf("inject corrupt row: %v", err)
	}

	rec, err := db.GetPane("%7")
	if err != nil {
		t.Fatalf("GetPane must not fail on corrupt row: %v", err)
	}
	if rec != nil {
		t.Errorf("corrupt row should read as absent, got %+v", rec)
	}
}

func TestListPaneRecordsSkipsCorruptRows(t *testing.T) {
	db := newTestStore(t)

	if err := db.PutPane(&PaneRecord{PaneID: "%1", TrueName: "good", Status: "stopped", SavedAt: time.Now()}); err != nil {
		t.Fatalf("PutPane: %v", err)
	}
	if _, err := db.DB().Exec(
		`INSERT INTO pane_records (pane_id, true_name, status, saved_at, auto_rename)
		 VALUES ('%8', 'bad', 'stopped', 'not-a-timestamp', 0)`,
	); err != nil {
		t.Fatalf("inject corrupt row: %v", err)
	}

	records, err := db.ListPaneRecords()
	if err != nil {
		t.Fatalf("ListPaneRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected corrupt row skipped, got %d records", len(records))
	}
	if records[0].PaneID != "%1" {
		t.Errorf("wrong record survived: %+v", records[0])
	}
}

func TestTrackedPanes(t *testing.T) {
	db := newTestStore(t)

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	if err := db.Track("%1", "main", older); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := db.Track("%2", "work", newer); err != nil {
		t.Fatalf("Track: %v", err)
	}

	tracked, err := db.ListTracked()
	if err != nil {
		t.Fatalf("ListTracked: %v", err)
	}
	if len(tracked) != 2 {
		t.Fatalf("expected 2 tracked panes, got %d", len(tracked))
	}
	// Most recent first
	if tracked[0].PaneID != "%2" || tracked[1].PaneID != "%1" {
		t.Errorf("wrong recency order: %s then %s", tracked[0].PaneID, tracked[1].PaneID)
	}
	if tracked[0].SessionName != "work" {
		t.Errorf("session name not stored: %+v", tracked[0])
	}

	// Re-tracking updates activity instead of duplicating
	if err := db.Track("%1", "main", newer.Add(time.Minute)); err != nil {
		t.Fatalf("Track update: %v", err)
	}
	tracked, err = db.ListTracked()
	if err != nil {
		t.Fatalf("ListTracked: %v", err)
	}
	if len(tracked) != 2 {
		t.Fatalf("expected 2 tracked panes after update, got %d", len(tracked))
	}
	if tracked[0].PaneID != "%1" {
		t.Errorf("expected %%1 most recent after touch, got %s", tracked[0].PaneID)
	}

	if err := db.Untrack("%1"); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	// Untracking an absent pane is fine
	if err := db.Untrack("%1"); err != nil {
		t.Fatalf("Untrack (absent): %v", err)
	}

	tracked, err = db.ListTracked()
	if err != nil {
		t.Fatalf("ListTracked: %v", err)
	}
	if len(tracked) != 1 || tracked[0].PaneID != "%2" {
		t.Errorf("unexpected tracked set after untrack: %+v", tracked)
	}
}

func TestEventLog(t *testing.T) {
	db := newTestStore(t)

	base := time.Now().Add(-time.Minute)
	for i, kind := range []string{EventApply, EventRestore, EventEvictDead} {
		ev := &Event{
			PaneID: "%1",
			Kind:   kind,
			Detail: "test",
			At:     base.Add(time.Duration(i) * time.Second),
		}
		if err := db.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.ID == "" {
			t.Fatal("AppendEvent should assign an event ID")
		}
	}

	events, err := db.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Newest first
	if events[0].Kind != EventEvictDead || events[2].Kind != EventApply {
		t.Errorf("wrong event order: %s ... %s", events[0].Kind, events[2].Kind)
	}

	// Limit applies
	events, err = db.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents limit: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected limit of 2, got %d", len(events))
	}
}

func TestPruneEvents(t *testing.T) {
	db := newTestStore(t)

	old := time.Now().Add(-8 * 24 * time.Hour)
	fresh := time.Now()

	if err := db.AppendEvent(&Event{PaneID: "%1", Kind: EventApply, At: old}); err != nil {
		t.Fatalf("AppendEvent old: %v", err)
	}
	if err := db.AppendEvent(&Event{PaneID: "%1", Kind: EventRestore, At: fresh}); err != nil {
		t.Fatalf("AppendEvent fresh: %v", err)
	}

	pruned, err := db.PruneEvents(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned event, got %d", pruned)
	}

	events, err := db.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventRestore {
		t.Errorf("wrong survivor after prune: %+v", events)
	}
}

func TestMeta(t *testing.T) {
	db := newTestStore(t)

	// Missing key reads as empty, not error
	val, err := db.GetMeta("nope")
	if err != nil {
		t.Fatalf("GetMeta missing: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty value, got %q", val)
	}

	if err := db.SetMeta("k", "v1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := db.SetMeta("k", "v2"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}

	val, err = db.GetMeta("k")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if val != "v2" {
		t.Errorf("expected v2, got %q", val)
	}

	// Migrate stamped the schema version
	ver, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta schema_version: %v", err)
	}
	if ver != "1" {
		t.Errorf("expected schema_version 1, got %q", ver)
	}
}

func TestElectPrimary(t *testing.T) {
	db := newTestStore(t)

	if err := db.RegisterMonitor(); err != nil {
		t.Fatalf("RegisterMonitor: %v", err)
	}

	// No other monitor: we win
	primary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !primary {
		t.Fatal("expected election win with no competitors")
	}

	// Re-election is stable
	primary, err = db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary again: %v", err)
	}
	if !primary {
		t.Error("expected to remain primary")
	}
}

func TestElectPrimaryDefersToAliveMonitor(t *testing.T) {
	db := newTestStore(t)

	if err := db.RegisterMonitor(); err != nil {
		t.Fatalf("RegisterMonitor: %v", err)
	}

	// Simulate another live monitor that already holds primary
	now := time.Now().Unix()
	if _, err := db.DB().Exec(
		"INSERT INTO monitor_heartbeats (pid, started, heartbeat, is_primary) VALUES (999999, ?, ?, 1)",
		now, now,
	); err != nil {
		t.Fatalf("inject foreign monitor: %v", err)
	}

	primary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if primary {
		t.Error("should defer to alive foreign primary")
	}

	// Age the foreign heartbeat past the timeout: takeover expected
	stale := time.Now().Add(-time.Minute).Unix()
	if _, err := db.DB().Exec(
		"UPDATE monitor_heartbeats SET heartbeat = ? WHERE pid = 999999", stale,
	); err != nil {
		t.Fatalf("age foreign heartbeat: %v", err)
	}
	if err := db.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	primary, err = db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary takeover: %v", err)
	}
	if !primary {
		t.Error("expected takeover from stale primary")
	}
}

func TestCleanDeadMonitors(t *testing.T) {
	db := newTestStore(t)

	stale := time.Now().Add(-time.Hour).Unix()
	if _, err := db.DB().Exec(
		"INSERT INTO monitor_heartbeats (pid, started, heartbeat, is_primary) VALUES (111111, ?, ?, 0)",
		stale, stale,
	); err != nil {
		t.Fatalf("inject dead monitor: %v", err)
	}
	if err := db.RegisterMonitor(); err != nil {
		t.Fatalf("RegisterMonitor: %v", err)
	}

	if err := db.CleanDeadMonitors(30 * time.Second); err != nil {
		t.Fatalf("CleanDeadMonitors: %v", err)
	}

	var count int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM monitor_heartbeats").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected only the live monitor to remain, got %d rows", count)
	}
}

func TestConcurrentWrites(t *testing.T) {
	db := newTestStore(t)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			rec := &PaneRecord{
				PaneID:   "%1",
				TrueName: "shared",
				Status:   "stopped",
				SavedAt:  time.Now(),
			}
			done <- db.PutPane(rec)
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent PutPane: %v", err)
		}
	}

	records, err := db.ListPaneRecords()
	if err != nil {
		t.Fatalf("ListPaneRecords: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("last-write-wins should leave one record, got %d", len(records))
	}
}
