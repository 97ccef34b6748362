package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// legacyPaneState mirrors the per-pane JSON files written by the python
// hook scripts that predate the SQLite store. AutoRenameWasOn is a
// pointer because the scripts defaulted a missing field to true.
type legacyPaneState struct {
	PaneID          string  `json:"pane_id"`
	OriginalName    string  `json:"original_name"`
	Status          string  `json:"status"`
	Timestamp       float64 `json:"timestamp"`
	AutoRenameWasOn *bool   `json:"auto_rename_was_on"`
}

// legacyStatusNames maps the old scripts' status strings to current ones.
var legacyStatusNames = map[string]string{
	"stop":         "stopped",
	"notification": "notified",
	"permission":   "waiting_permission",
}

// ImportLegacyState scans dir for .pane_state_*.json files and inserts
// them as pane records. Imported files are renamed with a .migrated
// suffix as a safety backup; unreadable files are left in place and
// logged. An existing record always wins over a legacy file, since the
// file can only be staler than anything the store has written.
// Returns the number of records imported.
func ImportLegacyState(db *Store, dir string) (int, error) {
	pattern := filepath.Join(dir, ".pane_state_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("store: glob legacy state: %w", err)
	}

	imported := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			storeLog.Warn("legacy_state_unreadable", slog.String("file", path), slog.String("error", err.Error()))
			continue
		}

		var legacy legacyPaneState
		if err := json.Unmarshal(data, &legacy); err != nil {
			storeLog.Warn("legacy_state_bad_json", slog.String("file", path), slog.String("error", err.Error()))
			continue
		}
		if legacy.PaneID == "" {
			storeLog.Warn("legacy_state_missing_pane_id", slog.String("file", path))
			continue
		}

		existing, err := db.GetPane(legacy.PaneID)
		if err != nil {
			return imported, err
		}
		if existing == nil {
			status := legacy.Status
			if mapped, ok := legacyStatusNames[status]; ok {
				status = mapped
			}
			autoRename := true
			if legacy.AutoRenameWasOn != nil {
				autoRename = *legacy.AutoRenameWasOn
			}
			rec := &PaneRecord{
				PaneID:     legacy.PaneID,
				TrueName:   legacy.OriginalName,
				Status:     status,
				SavedAt:    time.Unix(int64(legacy.Timestamp), 0),
				AutoRename: autoRename,
			}
			if err := db.PutPane(rec); err != nil {
				return imported, err
			}
			imported++
		}

		migratedPath := path + ".migrated"
		if renameErr := os.Rename(path, migratedPath); renameErr != nil {
			storeLog.Warn("legacy_state_rename_failed", slog.String("file", path), slog.String("error", renameErr.Error()))
		}
	}

	return imported, nil
}
