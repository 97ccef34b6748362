package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every log line via ForComponent.
const (
	CompOverlay   = "overlay"
	CompStore     = "store"
	CompReconcile = "reconcile"
	CompTmux      = "tmux"
	CompNotify    = "notify"
	CompHooks     = "hooks"
	CompCLI       = "cli"
	CompConfig    = "config"
)

// Config controls where log output goes and how long it survives.
// Zero values get sensible defaults; the CLI fills this from the
// [logs] section of config.toml.
type Config struct {
	// LogDir holds debug.log and its rotations, normally ~/.panemark.
	LogDir string

	// Level drops records below the threshold: debug, info, warn, error.
	Level string

	// Format picks the line encoding, "json" or "text".
	Format string

	// MaxSizeMB triggers rotation of debug.log.
	MaxSizeMB int

	// MaxBackups caps how many rotated files stick around.
	MaxBackups int

	// MaxAgeDays expires rotated files by age.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool

	// RingBufferSize is the crash-dump buffer capacity in bytes.
	RingBufferSize int

	// AggregateIntervalSecs is the summary flush window for batched events.
	AggregateIntervalSecs int

	// PprofEnabled serves profiles on localhost:6060 while running.
	PprofEnabled bool

	// Debug mirrors log output to stderr-visible paths for development.
	Debug bool
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 10
	}
	if c.RingBufferSize <= 0 {
		c.RingBufferSize = 1024 * 1024
	}
	if c.AggregateIntervalSecs <= 0 {
		c.AggregateIntervalSecs = 30
	}
	return c
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

var (
	globalMu     sync.RWMutex
	globalLogger *slog.Logger
	globalRing   *RingBuffer
	globalAgg    *Aggregator
	rotator      *lumberjack.Logger
)

// Init sets up the process-wide logger. Every log line goes to a
// rotated debug.log and to the crash-dump ring buffer. With no LogDir
// and Debug off everything is discarded, which is what hook
// invocations without a resolvable home directory get.
func Init(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	cfg = cfg.withDefaults()
	level := parseLevel(cfg.Level)

	if !cfg.Debug && cfg.LogDir == "" {
		globalLogger = slog.New(newHandler(io.Discard, cfg.Format, level))
		globalRing = NewRingBuffer(1024)
		globalAgg = NewAggregator(nil, cfg.AggregateIntervalSecs)
		return
	}

	rotator = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "debug.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	globalRing = NewRingBuffer(cfg.RingBufferSize)

	globalLogger = slog.New(newHandler(io.MultiWriter(rotator, globalRing), cfg.Format, level))

	globalAgg = NewAggregator(globalLogger, cfg.AggregateIntervalSecs)
	globalAgg.Start()

	if cfg.PprofEnabled {
		startPprof()
	}
}

// Logger returns the global logger. Safe before Init; logs go nowhere.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return globalLogger
}

// ForComponent returns a logger tagging every record with a component
// field. Component loggers are usually package-level vars created
// before Init runs, so the returned logger resolves the real handler
// at log time instead of capturing whichever handler existed at
// creation.
func ForComponent(name string) *slog.Logger {
	return slog.New(&lateHandler{component: name})
}

// lateHandler defers handler lookup to each call. A package-level
// `var tmuxLog = logging.ForComponent("tmux")` would otherwise bind
// the pre-Init discard handler forever.
type lateHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *lateHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	return handler.Handle(ctx, r)
}

func (h *lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lateHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *lateHandler) WithGroup(name string) slog.Handler {
	return &lateHandler{component: h.component, attrs: h.attrs, group: name}
}

// Aggregate counts an event toward the next summary line instead of
// logging it individually.
func Aggregate(component, key string, fields ...slog.Attr) {
	globalMu.RLock()
	agg := globalAgg
	globalMu.RUnlock()
	if agg != nil {
		agg.Record(component, key, fields...)
	}
}

// DumpRingBuffer snapshots recent log output to path, oldest first.
func DumpRingBuffer(path string) error {
	globalMu.RLock()
	ring := globalRing
	globalMu.RUnlock()
	if ring == nil {
		return nil
	}
	return ring.DumpToFile(path)
}

// Shutdown flushes the aggregator and closes the log file. Safe to
// call more than once; a second call is a no-op.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalAgg != nil {
		globalAgg.Stop()
		globalAgg = nil
	}
	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	globalLogger = nil
	globalRing = nil
}
