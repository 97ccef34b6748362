package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/panemark/panemark/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Event kinds recorded in the events table.
const (
	EventApply      = "apply"
	EventRestore    = "restore"
	EventEvictDead  = "evict_dead"
	EventEvictStale = "evict_stale"
)

// Store wraps a SQLite database holding overlay state.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes (hook invocations, the monitor) can safely
// read/write via WAL mode + busy timeout; a single-row upsert or delete
// is the atomicity unit.
type Store struct {
	db  *sql.DB
	pid int
}

// PaneRecord is one overlaid pane. A row exists iff the pane currently
// displays a marker; absence means the displayed name is the true name.
type PaneRecord struct {
	PaneID     string
	TrueName   string
	Status     string
	SavedAt    time.Time
	AutoRename bool
}

// TrackedPane is a pane the hooks have seen activity on.
type TrackedPane struct {
	PaneID       string
	SessionName  string
	LastActivity time.Time
}

// Event is one entry of the apply/restore/evict audit trail.
type Event struct {
	ID     string
	PaneID string
	Kind   string
	Detail string
	At     time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	// Foreign keys (for future use)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	return &Store{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	// Checkpoint WAL to merge it back into the main database file
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// metadata table
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	// pane overlay records
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pane_records (
			pane_id     TEXT PRIMARY KEY,
			true_name   TEXT NOT NULL,
			status      TEXT NOT NULL,
			saved_at    INTEGER NOT NULL,
			auto_rename INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("store: create pane_records: %w", err)
	}

	// panes the hooks have seen activity on
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tracked_panes (
			pane_id       TEXT PRIMARY KEY,
			session_name  TEXT NOT NULL DEFAULT '',
			last_activity INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create tracked_panes: %w", err)
	}

	// apply/restore/evict audit trail
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			pane_id  TEXT NOT NULL,
			kind     TEXT NOT NULL,
			detail   TEXT NOT NULL DEFAULT '',
			at       INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create events: %w", err)
	}

	// monitor heartbeats
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS monitor_heartbeats (
			pid        INTEGER PRIMARY KEY,
			started    INTEGER NOT NULL,
			heartbeat  INTEGER NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("store: create monitor_heartbeats: %w", err)
	}

	// Set schema version
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Pane record CRUD ---

// GetPane returns the overlay record for a pane, or nil when absent.
// A row that exists but cannot be scanned reads as absent: a damaged
// record must never turn into a fatal error for the caller, and the
// next apply's upsert overwrites it anyway.
func (s *Store) GetPane(paneID string) (*PaneRecord, error) {
	row := s.db.QueryRow(`
		SELECT pane_id, true_name, status, saved_at, auto_rename
		FROM pane_records WHERE pane_id = ?
	`, paneID)

	rec := &PaneRecord{}
	var savedUnix int64
	var autoRename int
	err := row.Scan(&rec.PaneID, &rec.TrueName, &rec.Status, &savedUnix, &autoRename)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		storeLog.Warn("pane_record_unreadable", slog.String("pane", paneID), slog.String("error", err.Error()))
		return nil, nil
	}
	rec.SavedAt = time.Unix(savedUnix, 0)
	rec.AutoRename = autoRename != 0
	return rec, nil
}

// PutPane inserts or replaces the overlay record for a pane.
func (s *Store) PutPane(rec *PaneRecord) error {
	autoRename := 0
	if rec.AutoRename {
		autoRename = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO pane_records (pane_id, true_name, status, saved_at, auto_rename)
		VALUES (?, ?, ?, ?, ?)
	`, rec.PaneID, rec.TrueName, rec.Status, rec.SavedAt.Unix(), autoRename)
	if err != nil {
		return fmt.Errorf("store: put pane %s: %w", rec.PaneID, err)
	}
	return nil
}

// DeletePane removes the overlay record for a pane. Deleting an absent
// record is not an error.
func (s *Store) DeletePane(paneID string) error {
	_, err := s.db.Exec("DELETE FROM pane_records WHERE pane_id = ?", paneID)
	if err != nil {
		return fmt.Errorf("store: delete pane %s: %w", paneID, err)
	}
	return nil
}

// ListPaneRecords returns all overlay records ordered by save time.
// Rows that fail to scan are skipped and logged, never fatal.
func (s *Store) ListPaneRecords() ([]*PaneRecord, error) {
	rows, err := s.db.Query(`
		SELECT pane_id, true_name, status, saved_at, auto_rename
		FROM pane_records ORDER BY saved_at, pane_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list pane records: %w", err)
	}
	defer rows.Close()

	var result []*PaneRecord
	for rows.Next() {
		rec := &PaneRecord{}
		var savedUnix int64
		var autoRename int
		if err := rows.Scan(&rec.PaneID, &rec.TrueName, &rec.Status, &savedUnix, &autoRename); err != nil {
			storeLog.Warn("pane_record_skipped", slog.String("error", err.Error()))
			continue
		}
		rec.SavedAt = time.Unix(savedUnix, 0)
		rec.AutoRename = autoRename != 0
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- Tracked panes ---

// Track upserts a pane into the tracked set with the given activity time.
func (s *Store) Track(paneID, sessionName string, activity time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tracked_panes (pane_id, session_name, last_activity)
		VALUES (?, ?, ?)
	`, paneID, sessionName, activity.Unix())
	if err != nil {
		return fmt.Errorf("store: track pane %s: %w", paneID, err)
	}
	return nil
}

// Untrack removes a pane from the tracked set.
func (s *Store) Untrack(paneID string) error {
	_, err := s.db.Exec("DELETE FROM tracked_panes WHERE pane_id = ?", paneID)
	if err != nil {
		return fmt.Errorf("store: untrack pane %s: %w", paneID, err)
	}
	return nil
}

// ListTracked returns the tracked set ordered by recency.
func (s *Store) ListTracked() ([]*TrackedPane, error) {
	rows, err := s.db.Query(`
		SELECT pane_id, session_name, last_activity
		FROM tracked_panes ORDER BY last_activity DESC, pane_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list tracked: %w", err)
	}
	defer rows.Close()

	var result []*TrackedPane
	for rows.Next() {
		tp := &TrackedPane{}
		var activityUnix int64
		if err := rows.Scan(&tp.PaneID, &tp.SessionName, &activityUnix); err != nil {
			storeLog.Warn("tracked_pane_skipped", slog.String("error", err.Error()))
			continue
		}
		tp.LastActivity = time.Unix(activityUnix, 0)
		result = append(result, tp)
	}
	return result, rows.Err()
}

// --- Event log ---

// AppendEvent records an audit event. A missing ID gets a fresh UUID.
func (s *Store) AppendEvent(ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO events (event_id, pane_id, kind, detail, at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.PaneID, ev.Kind, ev.Detail, ev.At.Unix())
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT event_id, pane_id, kind, detail, at
		FROM events ORDER BY at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent events: %w", err)
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		ev := &Event{}
		var atUnix int64
		if err := rows.Scan(&ev.ID, &ev.PaneID, &ev.Kind, &ev.Detail, &atUnix); err != nil {
			storeLog.Warn("event_skipped", slog.String("error", err.Error()))
			continue
		}
		ev.At = time.Unix(atUnix, 0)
		result = append(result, ev)
	}
	return result, rows.Err()
}

// PruneEvents deletes events older than the cutoff and reports how many went.
func (s *Store) PruneEvents(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM events WHERE at < ?", olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// --- Monitor heartbeat + primary election ---

// RegisterMonitor records this process as an active monitor.
func (s *Store) RegisterMonitor() error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO monitor_heartbeats (pid, started, heartbeat, is_primary)
		VALUES (?, ?, ?, 0)
	`, s.pid, now, now)
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *Store) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE monitor_heartbeats SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	)
	return err
}

// UnregisterMonitor removes this process from the heartbeat table.
func (s *Store) UnregisterMonitor() error {
	_, err := s.db.Exec("DELETE FROM monitor_heartbeats WHERE pid = ?", s.pid)
	return err
}

// CleanDeadMonitors removes heartbeat entries that haven't been updated within timeout.
func (s *Store) CleanDeadMonitors(timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM monitor_heartbeats WHERE heartbeat < ?", cutoff)
	return err
}

// ElectPrimary attempts to make this monitor the primary.
// Returns true if this process is now (or already was) the primary.
// Uses a transaction to atomically clear stale primaries and claim if available.
func (s *Store) ElectPrimary(timeout time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("store: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()

	// Clear is_primary for any heartbeat older than timeout (stale primary)
	if _, err := tx.Exec(
		"UPDATE monitor_heartbeats SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("store: clear stale primary: %w", err)
	}

	// Check if any alive monitor already has is_primary=1
	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM monitor_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)

	if err == nil {
		// An alive primary exists
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("store: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	}

	// No alive primary exists: claim it
	if _, err := tx.Exec(
		"UPDATE monitor_heartbeats SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("store: claim primary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit elect: %w", err)
	}
	return true, nil
}

// ResignPrimary clears the is_primary flag for this process.
func (s *Store) ResignPrimary() error {
	_, err := s.db.Exec(
		"UPDATE monitor_heartbeats SET is_primary = 0 WHERE pid = ?",
		s.pid,
	)
	return err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
