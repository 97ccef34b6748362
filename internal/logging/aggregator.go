package logging

import (
	"log/slog"
	"sync"
	"time"
)

// summaryKey groups recorded events for batching.
type summaryKey struct {
	component string
	event     string
}

// tally is one batched event: how many times it fired this window and
// the fields from the most recent occurrence.
type tally struct {
	count int64
	last  []slog.Attr
}

// Aggregator batches events that fire too often to log individually.
// A monitor sweeping every few seconds would otherwise write one line
// per pane per tick; batching turns that into one summary line per
// flush window.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tallies map[summaryKey]*tally

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator flushes summaries every intervalSecs seconds. A nil
// logger drops everything recorded, which keeps hot paths free of nil
// checks before Init runs.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		tallies:  make(map[summaryKey]*tally),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop ends the flush loop and emits whatever the window accumulated.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record counts one occurrence of an event. Fields overwrite the
// previous occurrence's fields; the summary shows the latest context,
// not all of them.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	key := summaryKey{component: component, event: event}

	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tallies[key]
	if t == nil {
		t = &tally{}
		a.tallies[key] = t
	}
	t.count++
	if len(fields) > 0 {
		t.last = fields
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	batch := a.tallies
	a.tallies = make(map[summaryKey]*tally)
	a.mu.Unlock()

	if a.logger == nil || len(batch) == 0 {
		return
	}

	window := int(a.interval.Seconds())
	for key, t := range batch {
		attrs := make([]any, 0, 4+len(t.last))
		attrs = append(attrs,
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", t.count),
			slog.Int("window_seconds", window))
		for _, f := range t.last {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
