package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/panemark/panemark/internal/store"
	"github.com/panemark/panemark/internal/tmux"
)

type fakeLister struct {
	panes []tmux.Pane
	err   error
}

func (f *fakeLister) ListPanes(_ context.Context) ([]tmux.Pane, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.panes, nil
}

func newTestReconciler(t *testing.T, cfg Config) (*Reconciler, *fakeLister, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "panemark.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	lister := &fakeLister{}
	return New(st, lister, cfg), lister, st
}

func putRecord(t *testing.T, st *store.Store, paneID string, savedAt time.Time) {
	t.Helper()
	err := st.PutPane(&store.PaneRecord{
		PaneID:   paneID,
		TrueName: "build",
		Status:   "stopped",
		SavedAt:  savedAt,
	})
	if err != nil {
		t.Fatalf("PutPane %s: %v", paneID, err)
	}
}

func TestTickEvictsDeadPanes(t *testing.T) {
	r, lister, st := newTestReconciler(t, Config{})
	now := time.Now()
	putRecord(t, st, "%1", now)
	putRecord(t, st, "%2", now)
	lister.panes = []tmux.Pane{{ID: "%1", Session: "work"}}

	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if rec, _ := st.GetPane("%1"); rec == nil {
		t.Error("live pane's record evicted")
	}
	if rec, _ := st.GetPane("%2"); rec != nil {
		t.Error("dead pane's record survived the tick")
	}

	events, _ := st.RecentEvents(10)
	if len(events) != 1 || events[0].Kind != store.EventEvictDead || events[0].PaneID != "%2" {
		t.Fatalf("events = %+v, want one evict_dead for %%2", events)
	}
}

func TestTickEvictsStaleRecordsEvenWhenPaneIsLive(t *testing.T) {
	r, lister, st := newTestReconciler(t, Config{StaleAfter: time.Hour})
	now := time.Now()
	putRecord(t, st, "%1", now.Add(-10*time.Minute))
	putRecord(t, st, "%2", now.Add(-2*time.Hour))
	lister.panes = []tmux.Pane{
		{ID: "%1", Session: "work"},
		{ID: "%2", Session: "work"},
	}

	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if rec, _ := st.GetPane("%1"); rec == nil {
		t.Error("fresh record evicted")
	}
	if rec, _ := st.GetPane("%2"); rec != nil {
		t.Error("stale record survived despite exceeding the bound")
	}

	events, _ := st.RecentEvents(10)
	if len(events) != 1 || events[0].Kind != store.EventEvictStale {
		t.Fatalf("events = %+v, want one evict_stale", events)
	}
}

func TestTickAbortsWhenEnumerationFails(t *testing.T) {
	r, lister, st := newTestReconciler(t, Config{})
	now := time.Now()
	putRecord(t, st, "%1", now.Add(-3*time.Hour))
	lister.err = errors.New("no server running")

	if err := r.Tick(context.Background(), now); err == nil {
		t.Fatal("expected error")
	}
	// A flaky server must not read as every pane having died.
	if rec, _ := st.GetPane("%1"); rec == nil {
		t.Error("record evicted during a failed enumeration")
	}

	lister.err = nil
	lister.panes = []tmux.Pane{{ID: "%1"}}
	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("retry Tick: %v", err)
	}
	if rec, _ := st.GetPane("%1"); rec != nil {
		t.Error("stale record survived the retry tick")
	}
}

func TestTickSweepsTrackedPanes(t *testing.T) {
	r, lister, st := newTestReconciler(t, Config{})
	now := time.Now()
	activity := now.Add(-5 * time.Minute)
	if err := st.Track("%1", "old-session", activity); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := st.Track("%2", "work", activity); err != nil {
		t.Fatalf("Track: %v", err)
	}
	lister.panes = []tmux.Pane{{ID: "%1", Session: "renamed-session"}}

	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	tracked, err := st.ListTracked()
	if err != nil {
		t.Fatalf("ListTracked: %v", err)
	}
	if len(tracked) != 1 {
		t.Fatalf("tracked = %+v, want only the live pane", tracked)
	}
	if tracked[0].PaneID != "%1" || tracked[0].SessionName != "renamed-session" {
		t.Errorf("tracked[0] = %+v", tracked[0])
	}
	if !tracked[0].LastActivity.Equal(activity.Truncate(time.Second)) {
		t.Errorf("session refresh bumped last activity: %v", tracked[0].LastActivity)
	}
}

func TestTickPrunesOldEvents(t *testing.T) {
	r, _, st := newTestReconciler(t, Config{EventRetention: 7 * 24 * time.Hour})
	now := time.Now()
	seed := []*store.Event{
		{PaneID: "%1", Kind: store.EventApply, At: now.Add(-8 * 24 * time.Hour)},
		{PaneID: "%1", Kind: store.EventRestore, At: now.Add(-time.Hour)},
	}
	for _, ev := range seed {
		if err := st.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	events, _ := st.RecentEvents(10)
	if len(events) != 1 || events[0].Kind != store.EventRestore {
		t.Fatalf("events = %+v, want only the recent one", events)
	}
}

func TestSetConfigTakesEffectNextTick(t *testing.T) {
	r, lister, st := newTestReconciler(t, Config{StaleAfter: time.Hour})
	now := time.Now()
	putRecord(t, st, "%1", now.Add(-10*time.Minute))
	lister.panes = []tmux.Pane{{ID: "%1"}}

	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rec, _ := st.GetPane("%1"); rec == nil {
		t.Fatal("record evicted under the original bound")
	}

	r.SetConfig(Config{StaleAfter: time.Minute})
	if err := r.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rec, _ := st.GetPane("%1"); rec != nil {
		t.Error("record survived the tightened bound")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, lister, _ := newTestReconciler(t, Config{Interval: 10 * time.Millisecond})
	lister.panes = []tmux.Pane{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
