package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLegacyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	return path
}

func TestImportLegacyState(t *testing.T) {
	db := newTestStore(t)
	dir := t.TempDir()

	writeLegacyFile(t, dir, ".pane_state_5.json",
		`{"pane_id":"%5","original_name":"build","status":"stop","timestamp":1723456789.5,"auto_rename_was_on":true}`)
	writeLegacyFile(t, dir, ".pane_state_12.json",
		`{"pane_id":"%12","original_name":"vim notes","status":"notified","timestamp":1723456800,"auto_rename_was_on":false}`)
	// Old scripts defaulted a missing auto_rename_was_on to true
	writeLegacyFile(t, dir, ".pane_state_7.json",
		`{"pane_id":"%7","original_name":"logs","status":"permission","timestamp":1723456810}`)

	n, err := ImportLegacyState(db, dir)
	if err != nil {
		t.Fatalf("ImportLegacyState: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 imports, got %d", n)
	}

	rec, err := db.GetPane("%5")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec == nil {
		t.Fatal("imported record missing")
	}
	// Legacy "stop" becomes "stopped"
	if rec.TrueName != "build" || rec.Status != "stopped" || !rec.AutoRename {
		t.Errorf("unexpected import: %+v", rec)
	}
	if rec.SavedAt.Unix() != 1723456789 {
		t.Errorf("timestamp truncation wrong: %d", rec.SavedAt.Unix())
	}

	rec, err = db.GetPane("%7")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec == nil {
		t.Fatal("imported record missing")
	}
	if rec.Status != "waiting_permission" {
		t.Errorf("legacy 'permission' not normalized: %q", rec.Status)
	}
	if !rec.AutoRename {
		t.Error("missing auto_rename_was_on should default to true")
	}

	// Source files renamed out of the way
	if _, err := os.Stat(filepath.Join(dir, ".pane_state_5.json")); !os.IsNotExist(err) {
		t.Error("imported file should be renamed")
	}
	if _, err := os.Stat(filepath.Join(dir, ".pane_state_5.json.migrated")); err != nil {
		t.Errorf("migrated backup missing: %v", err)
	}

	// Re-running finds nothing to do
	n, err = ImportLegacyState(db, dir)
	if err != nil {
		t.Fatalf("ImportLegacyState rerun: %v", err)
	}
	if n != 0 {
		t.Errorf("rerun should import nothing, got %d", n)
	}
}

func TestImportLegacyStateSkipsBadFiles(t *testing.T) {
	db := newTestStore(t)
	dir := t.TempDir()

	badPath := writeLegacyFile(t, dir, ".pane_state_9.json", `{not json`)
	writeLegacyFile(t, dir, ".pane_state_0.json",
		`{"original_name":"no pane id","status":"stopped","timestamp":1}`)

	n, err := ImportLegacyState(db, dir)
	if err != nil {
		t.Fatalf("ImportLegacyState: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 imports, got %d", n)
	}

	// Unreadable files stay put for inspection
	if _, err := os.Stat(badPath); err != nil {
		t.Errorf("bad file should be left in place: %v", err)
	}
}

func TestImportLegacyStateKeepsExistingRecord(t *testing.T) {
	db := newTestStore(t)
	dir := t.TempDir()

	current := &PaneRecord{
		PaneID:   "%5",
		TrueName: "current",
		Status:   "notified",
		SavedAt:  time.Now(),
	}
	if err := db.PutPane(current); err != nil {
		t.Fatalf("PutPane: %v", err)
	}

	writeLegacyFile(t, dir, ".pane_state_5.json",
		`{"pane_id":"%5","original_name":"stale","status":"stopped","timestamp":1,"auto_rename_was_on":false}`)

	n, err := ImportLegacyState(db, dir)
	if err != nil {
		t.Fatalf("ImportLegacyState: %v", err)
	}
	if n != 0 {
		t.Errorf("existing record must win, got %d imports", n)
	}

	rec, err := db.GetPane("%5")
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if rec.TrueName != "current" {
		t.Errorf("legacy file clobbered live record: %+v", rec)
	}

	// The stale file is still renamed so it never gets reconsidered
	if _, err := os.Stat(filepath.Join(dir, ".pane_state_5.json.migrated")); err != nil {
		t.Errorf("stale legacy file should be renamed: %v", err)
	}
}

func TestImportLegacyStateEmptyDir(t *testing.T) {
	db := newTestStore(t)

	n, err := ImportLegacyState(db, t.TempDir())
	if err != nil {
		t.Fatalf("ImportLegacyState: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 imports from empty dir, got %d", n)
	}
}
