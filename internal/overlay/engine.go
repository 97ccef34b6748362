package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panemark/panemark/internal/logging"
	"github.com/panemark/panemark/internal/store"
)

var overlayLog = logging.ForComponent(logging.CompOverlay)

// Accessor is the slice of the tmux client the engine needs. Every
// call goes to the live server; nothing about pane names is cached.
type Accessor interface {
	DisplayedName(ctx context.Context, paneID string) (string, error)
	SetName(ctx context.Context, paneID, name string) error
	AutoRename(ctx context.Context, paneID string) (bool, error)
	SetAutoRename(ctx context.Context, paneID string, enabled bool) error
}

// Engine applies and clears status overlays on window names. The
// stored record is the source of truth for whether an overlay is up:
// a record exists exactly when a marker is displayed, and the record
// always holds the clean name to put back.
type Engine struct {
	store *store.Store
	acc   Accessor
	now   func() time.Time
}

func New(st *store.Store, acc Accessor) *Engine {
	return &Engine{store: st, acc: acc, now: time.Now}
}

// Apply sets the overlay for status on the pane's window name. Calling
// it while another overlay is up replaces the marker in place; the true
// name captured when the first overlay went up is kept, so markers
// never stack. Each successful apply refreshes the record's timestamp.
func (e *Engine) Apply(ctx context.Context, paneID string, status Status) error {
	marker := status.Marker()
	if marker == "" {
		return fmt.Errorf("overlay: unknown status %q", status)
	}

	displayed, err := e.acc.DisplayedName(ctx, paneID)
	if err != nil {
		return fmt.Errorf("overlay: read window name: %w", err)
	}

	rec, err := e.store.GetPane(paneID)
	if err != nil {
		return fmt.Errorf("overlay: read record: %w", err)
	}

	var trueName string
	var autoRenameWasOn bool
	if rec != nil {
		trueName = rec.TrueName
		autoRenameWasOn = rec.AutoRename
	} else {
		trueName = StripMarker(displayed)
		// Snapshot the setting before forcing it off below, so restore
		// can put back what the user actually had.
		autoRenameWasOn, err = e.acc.AutoRename(ctx, paneID)
		if err != nil {
			overlayLog.Warn("auto_rename_read_failed",
				slog.String("pane", paneID),
				slog.String("error", err.Error()))
			autoRenameWasOn = false
		}
	}

	// Keep tmux from overwriting the marker with a generated name. If
	// this fails the overlay still goes up; the marker just may not
	// survive the next rename cycle.
	if err := e.acc.SetAutoRename(ctx, paneID, false); err != nil {
		overlayLog.Warn("auto_rename_disable_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()))
	}

	if err := e.acc.SetName(ctx, paneID, marker+" "+trueName); err != nil {
		// No record without a visible marker: a failed rename must not
		// leave state claiming an overlay is up.
		return fmt.Errorf("overlay: set window name: %w", err)
	}

	if err := e.store.PutPane(&store.PaneRecord{
		PaneID:     paneID,
		TrueName:   trueName,
		Status:     string(status),
		SavedAt:    e.now(),
		AutoRename: autoRenameWasOn,
	}); err != nil {
		return fmt.Errorf("overlay: write record: %w", err)
	}

	overlayLog.Info("marker_applied",
		slog.String("pane", paneID),
		slog.String("status", string(status)),
		slog.String("true_name", trueName))
	e.appendEvent(paneID, store.EventApply, string(status))
	return nil
}

// Restore puts the true name back and removes the record. A pane with
// no record is a no-op success, so restore is safe to call from every
// hook that might fire after an episode ends.
func (e *Engine) Restore(ctx context.Context, paneID string) error {
	rec, err := e.store.GetPane(paneID)
	if err != nil {
		return fmt.Errorf("overlay: read record: %w", err)
	}
	if rec == nil {
		return nil
	}

	if err := e.acc.SetName(ctx, paneID, rec.TrueName); err != nil {
		// The record stays so a later restore can try again.
		return fmt.Errorf("overlay: restore window name: %w", err)
	}

	if rec.AutoRename {
		if err := e.acc.SetAutoRename(ctx, paneID, true); err != nil {
			overlayLog.Warn("auto_rename_restore_failed",
				slog.String("pane", paneID),
				slog.String("error", err.Error()))
		}
	}

	if err := e.store.DeletePane(paneID); err != nil {
		return fmt.Errorf("overlay: delete record: %w", err)
	}

	overlayLog.Info("marker_restored",
		slog.String("pane", paneID),
		slog.String("true_name", rec.TrueName))
	e.appendEvent(paneID, store.EventRestore, rec.Status)
	return nil
}

// Overlaid reports whether a record says the pane currently has an
// overlay, along with the record itself when one exists.
func (e *Engine) Overlaid(paneID string) (*store.PaneRecord, bool, error) {
	rec, err := e.store.GetPane(paneID)
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

func (e *Engine) appendEvent(paneID, kind, detail string) {
	err := e.store.AppendEvent(&store.Event{
		PaneID: paneID,
		Kind:   kind,
		Detail: detail,
		At:     e.now(),
	})
	if err != nil {
		overlayLog.Warn("event_append_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()))
	}
}
