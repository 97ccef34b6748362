package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"
)

// ConfigFileName is the TOML config file for user preferences
const ConfigFileName = "config.toml"

// DefaultPermissionTools are the tool names treated as needing user
// permission when no [permission] section overrides them.
var DefaultPermissionTools = []string{"Bash", "Write", "Edit", "MultiEdit"}

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// Reconcile controls the background sweep in `panemark monitor`
	Reconcile ReconcileSettings `toml:"reconcile"`

	// Permission controls which tools count as permission prompts
	Permission PermissionSettings `toml:"permission"`

	// Notifications controls desktop notifications on status changes
	Notifications NotificationSettings `toml:"notifications"`

	// Tmux controls how the tmux binary is invoked
	Tmux TmuxSettings `toml:"tmux"`

	// Output controls human-readable CLI output
	Output OutputSettings `toml:"output"`

	// Logs controls the debug log under ~/.panemark
	Logs LogSettings `toml:"logs"`
}

// ReconcileSettings controls the liveness sweep
type ReconcileSettings struct {
	// IntervalSecs is the seconds between sweeps
	// Default: 30
	IntervalSecs int `toml:"interval_secs"`

	// StaleAfterSecs evicts overlay records older than this even when
	// the pane is still alive
	// Default: 3600 (1 hour)
	StaleAfterSecs int `toml:"stale_after_secs"`

	// EventRetentionDays bounds the transition event log
	// Default: 7
	EventRetentionDays int `toml:"event_retention_days"`
}

// Interval returns the sweep interval with the default applied
func (r ReconcileSettings) Interval() time.Duration {
	if r.IntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.IntervalSecs) * time.Second
}

// StaleAfter returns the staleness bound with the default applied
func (r ReconcileSettings) StaleAfter() time.Duration {
	if r.StaleAfterSecs <= 0 {
		return time.Hour
	}
	return time.Duration(r.StaleAfterSecs) * time.Second
}

// EventRetention returns the event log retention with the default applied
func (r ReconcileSettings) EventRetention() time.Duration {
	if r.EventRetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(r.EventRetentionDays) * 24 * time.Hour
}

// PermissionSettings controls the permission-prompt predicate
type PermissionSettings struct {
	// Tools are tool names whose use counts as a permission prompt
	// Default: ["Bash", "Write", "Edit", "MultiEdit"]
	Tools []string `toml:"tools"`
}

// GetTools returns the permission tool set with the default applied
func (p PermissionSettings) GetTools() []string {
	if len(p.Tools) == 0 {
		return DefaultPermissionTools
	}
	return p.Tools
}

// NotificationSettings controls desktop notifications
type NotificationSettings struct {
	// Enabled turns desktop notifications on or off
	// Default: true (pointer to distinguish "not set" from "explicitly false")
	Enabled *bool `toml:"enabled"`

	// RateEverySecs is the minimum seconds between notifications once
	// the burst allowance is spent
	// Default: 2
	RateEverySecs int `toml:"rate_every_secs"`

	// Burst is how many notifications may fire back to back
	// Default: 3
	Burst int `toml:"burst"`
}

// GetEnabled returns whether notifications are enabled, defaulting to true
func (n NotificationSettings) GetEnabled() bool {
	if n.Enabled == nil {
		return true
	}
	return *n.Enabled
}

// RateEvery returns the notification rate floor with the default applied
func (n NotificationSettings) RateEvery() time.Duration {
	if n.RateEverySecs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(n.RateEverySecs) * time.Second
}

// GetBurst returns the notification burst allowance with the default applied
func (n NotificationSettings) GetBurst() int {
	if n.Burst <= 0 {
		return 3
	}
	return n.Burst
}

// TmuxSettings controls how tmux is invoked
type TmuxSettings struct {
	// Command is the tmux binary name or path
	// Default: "tmux"
	Command string `toml:"command"`

	// TimeoutMS bounds every tmux call in milliseconds
	// Default: 5000
	TimeoutMS int `toml:"timeout_ms"`
}

// GetCommand returns the tmux binary with the default applied
func (t TmuxSettings) GetCommand() string {
	if t.Command == "" {
		return "tmux"
	}
	return t.Command
}

// Timeout returns the tmux call timeout with the default applied
func (t TmuxSettings) Timeout() time.Duration {
	if t.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// OutputSettings controls human-readable CLI output
type OutputSettings struct {
	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`
}

// LogSettings controls the debug log
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB for debug.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// Backups is the number of rotated debug.log files to keep
	// Default: 5
	Backups int `toml:"backups"`

	// RetentionDays is the number of days to keep rotated debug logs
	// Default: 10
	RetentionDays int `toml:"retention_days"`

	// Compress enables gzip compression for rotated debug logs
	// Default: true (pointer to distinguish "not set" from "explicitly false")
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 1
	RingBufferMB int `toml:"ring_buffer_mb"`

	// PprofEnabled starts a pprof server on localhost:6060 in the monitor
	// Default: false
	PprofEnabled bool `toml:"pprof_enabled"`
}

// GetCompress returns whether rotated logs are compressed, defaulting to true
func (l LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

var defaultUserConfig = UserConfig{}

// Cache for user config (loaded once per invocation)
var (
	configCache   *UserConfig
	configCacheMu sync.RWMutex
)

// Dir returns the panemark data directory, creating it if needed.
// PANEMARK_DIR overrides the default ~/.panemark.
func Dir() (string, error) {
	dir := os.Getenv("PANEMARK_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".panemark")
	} else {
		dir = expandTilde(dir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create panemark directory: %w", err)
	}
	return dir, nil
}

// Path returns the path to the user config file
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Load loads the user configuration from the TOML file.
// Returns cached config after first load.
func Load() (*UserConfig, error) {
	configCacheMu.RLock()
	if configCache != nil {
		defer configCacheMu.RUnlock()
		return configCache, nil
	}
	configCacheMu.RUnlock()

	configCacheMu.Lock()
	defer configCacheMu.Unlock()

	// Double-check after acquiring write lock
	if configCache != nil {
		return configCache, nil
	}

	configPath, err := Path()
	if err != nil {
		configCache = &defaultUserConfig
		return configCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configCache = &defaultUserConfig
		return configCache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Still cache the default to prevent repeated parse attempts;
		// the caller decides whether to surface the error.
		configCache = &defaultUserConfig
		return configCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	configCache = &config
	return configCache, nil
}

// Reload forces a reload of the user config
func Reload() (*UserConfig, error) {
	ClearCache()
	return Load()
}

// ClearCache clears the cached user config. The next Load() reads
// fresh from disk.
func ClearCache() {
	configCacheMu.Lock()
	configCache = nil
	configCacheMu.Unlock()
}

// Save writes the config to config.toml using the atomic write pattern
// (temp file, fsync, rename) and clears the cache so the next Load()
// reads fresh values.
func Save(config *UserConfig) error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# panemark configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// GetTheme returns the configured theme, defaulting to "dark"
func GetTheme() string {
	config, err := Load()
	if err != nil || config == nil {
		return "dark"
	}
	switch config.Output.Theme {
	case "dark", "light", "system":
		return config.Output.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves the configured theme to "dark" or "light".
// If theme is "system", detects the OS dark mode setting.
// Falls back to "dark" on detection failure.
func ResolveTheme() string {
	theme := GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}

// CreateExampleConfig creates a commented example config if none exists
func CreateExampleConfig() error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	// Don't overwrite an existing config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	exampleConfig := `# panemark configuration
# Loaded on every invocation. All settings are optional.

# Liveness sweep (runs inside 'panemark monitor')
# [reconcile]
# Seconds between sweeps (default: 30)
# interval_secs = 30
# Evict overlay records older than this many seconds, even for live
# panes (default: 3600)
# stale_after_secs = 3600
# Days to keep transition events for 'panemark events' (default: 7)
# event_retention_days = 7

# Which Claude tools count as permission prompts for the ❓ marker
# [permission]
# tools = ["Bash", "Write", "Edit", "MultiEdit"]

# Desktop notifications on status changes
# [notifications]
# enabled = true
# Minimum seconds between notifications once the burst is spent (default: 2)
# rate_every_secs = 2
# Notifications allowed back to back (default: 3)
# burst = 3

# How tmux is invoked
# [tmux]
# command = "tmux"
# Per-call timeout in milliseconds (default: 5000)
# timeout_ms = 5000

# Human-readable output
# [output]
# Color scheme: "dark" (default), "light", or "system"
# theme = "dark"

# Debug log (~/.panemark/debug.log, written when PANEMARK_DEBUG=1 or
# while the monitor runs)
# [logs]
# Minimum level: "debug", "info", "warn", "error" (default: "info")
# level = "info"
# Format: "json" (default) or "text"
# format = "json"
# max_size_mb = 10
# backups = 5
# retention_days = 10
# compress = true
# In-memory ring buffer size for SIGUSR1 crash dumps (default: 1)
# ring_buffer_mb = 1
# pprof_enabled = false
`

	return os.WriteFile(configPath, []byte(exampleConfig), 0o600)
}

// expandTilde expands a leading ~/ to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
