package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panemark/panemark/internal/logging"
	"github.com/panemark/panemark/internal/store"
	"github.com/panemark/panemark/internal/tmux"
)

var reconcileLog = logging.ForComponent(logging.CompReconcile)

// PaneLister is the slice of the tmux client the reconciler needs.
type PaneLister interface {
	ListPanes(ctx context.Context) ([]tmux.Pane, error)
}

// Config controls sweep timing. Zero values fall back to the defaults.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// StaleAfter evicts records older than this even when the pane is
	// still alive. An overlay nobody cleared in over an hour is treated
	// as abandoned.
	StaleAfter time.Duration

	// EventRetention bounds the transition event log.
	EventRetention time.Duration
}

const (
	DefaultInterval       = 30 * time.Second
	DefaultStaleAfter     = time.Hour
	DefaultEventRetention = 7 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.EventRetention <= 0 {
		c.EventRetention = DefaultEventRetention
	}
	return c
}

// Reconciler prunes overlay records whose panes are gone or whose
// overlays went stale, and keeps the tracked-pane table and event log
// tidy. One sweep at a time; Run never starts a tick before the
// previous one finished.
type Reconciler struct {
	store *store.Store
	panes PaneLister

	mu  sync.RWMutex
	cfg Config
}

func New(st *store.Store, panes PaneLister, cfg Config) *Reconciler {
	return &Reconciler{store: st, panes: panes, cfg: cfg.withDefaults()}
}

// SetConfig swaps sweep timing at runtime. The monitor calls this when
// the config file changes; the new interval takes effect after the
// pending wait expires.
func (r *Reconciler) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Reconciler) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Tick runs one sweep. Failures enumerating live panes abort the whole
// tick so a flaky tmux server never looks like a mass pane death.
func (r *Reconciler) Tick(ctx context.Context, now time.Time) error {
	cfg := r.config()

	panes, err := r.panes.ListPanes(ctx)
	if err != nil {
		return fmt.Errorf("list panes: %w", err)
	}
	live := make(map[string]tmux.Pane, len(panes))
	for _, p := range panes {
		live[p.ID] = p
	}

	records, err := r.store.ListPaneRecords()
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	for _, rec := range records {
		logging.Aggregate(logging.CompReconcile, "pane_checked")

		if _, ok := live[rec.PaneID]; !ok {
			// The pane is gone, so there is no window to rename back.
			r.evict(rec, store.EventEvictDead, "pane no longer exists", now)
			continue
		}
		if age := now.Sub(rec.SavedAt); age > cfg.StaleAfter {
			// Evicted even though the pane is alive. The displayed name
			// keeps its marker and a later apply will read that marked
			// name as the true one; stripping recovers the glyph but a
			// manual rename made during the overlay window is lost.
			r.evict(rec, store.EventEvictStale, fmt.Sprintf("record age %s", age.Round(time.Second)), now)
		}
	}

	r.sweepTracked(live)

	if n, err := r.store.PruneEvents(now.Add(-cfg.EventRetention)); err != nil {
		reconcileLog.Warn("event_prune_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		reconcileLog.Debug("events_pruned", slog.Int64("count", n))
	}

	return nil
}

func (r *Reconciler) evict(rec *store.PaneRecord, kind, detail string, now time.Time) {
	if err := r.store.DeletePane(rec.PaneID); err != nil {
		reconcileLog.Warn("evict_failed",
			slog.String("pane", rec.PaneID),
			slog.String("error", err.Error()))
		return
	}
	reconcileLog.Info("record_evicted",
		slog.String("pane", rec.PaneID),
		slog.String("kind", kind),
		slog.String("status", rec.Status),
		slog.String("detail", detail))
	logging.Aggregate(logging.CompReconcile, "pane_evicted", slog.String("kind", kind))

	err := r.store.AppendEvent(&store.Event{
		PaneID: rec.PaneID,
		Kind:   kind,
		Detail: detail,
		At:     now,
	})
	if err != nil {
		reconcileLog.Warn("event_append_failed",
			slog.String("pane", rec.PaneID),
			slog.String("error", err.Error()))
	}
}

// sweepTracked drops tracked entries for dead panes and refreshes
// session names for panes that moved between sessions.
func (r *Reconciler) sweepTracked(live map[string]tmux.Pane) {
	tracked, err := r.store.ListTracked()
	if err != nil {
		reconcileLog.Warn("list_tracked_failed", slog.String("error", err.Error()))
		return
	}
	for _, tp := range tracked {
		p, ok := live[tp.PaneID]
		if !ok {
			if err := r.store.Untrack(tp.PaneID); err != nil {
				reconcileLog.Warn("untrack_failed",
					slog.String("pane", tp.PaneID),
					slog.String("error", err.Error()))
			}
			continue
		}
		if p.Session != tp.SessionName {
			if err := r.store.Track(tp.PaneID, p.Session, tp.LastActivity); err != nil {
				reconcileLog.Warn("track_refresh_failed",
					slog.String("pane", tp.PaneID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Run sweeps on the configured interval until ctx is cancelled. Tick
// errors are logged and the loop keeps going; the next tick retries.
func (r *Reconciler) Run(ctx context.Context) error {
	reconcileLog.Info("reconciler_started",
		slog.Duration("interval", r.config().Interval),
		slog.Duration("stale_after", r.config().StaleAfter))
	for {
		select {
		case <-ctx.Done():
			reconcileLog.Info("reconciler_stopped")
			return ctx.Err()
		case <-time.After(r.config().Interval):
		}
		if err := r.Tick(ctx, time.Now()); err != nil {
			reconcileLog.Warn("tick_failed", slog.String("error", err.Error()))
		}
	}
}
