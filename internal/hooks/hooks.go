package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/panemark/panemark/internal/logging"
)

var hooksLog = logging.ForComponent(logging.CompHooks)

// commandMarker identifies panemark entries in settings.json. Every
// installed command starts with it, so install stays idempotent and
// uninstall never touches user hooks on the same events.
const commandMarker = "panemark hook"

// hookEntry is a single hook command in Claude Code settings.
type hookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

// hookMatcher is a matcher block (with optional pattern) in settings.
type hookMatcher struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []hookEntry `json:"hooks"`
}

// hookEventConfigs maps Claude Code lifecycle events to panemark hook
// actions. PreToolUse stays synchronous: the permission predicate needs
// the tool payload from stdin before Claude moves on.
var hookEventConfigs = []struct {
	Event   string
	Action  string
	Matcher string // empty = no matcher
	Async   bool
}{
	{Event: "Stop", Action: "stop", Async: true},
	{Event: "Notification", Action: "notify", Async: true},
	{Event: "PreToolUse", Action: "pretool"},
	{Event: "UserPromptSubmit", Action: "activity", Async: true},
	{Event: "SessionEnd", Action: "activity", Async: true},
}

func entryFor(action string, async bool) hookEntry {
	return hookEntry{
		Type:    "command",
		Command: commandMarker + " " + action,
		Async:   async,
	}
}

// SettingsDir returns Claude Code's config directory:
// CLAUDE_CONFIG_DIR if set, otherwise ~/.claude.
func SettingsDir() (string, error) {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".claude"), nil
}

// Install injects panemark hook entries into settings.json using
// read-preserve-modify-write so every unrelated setting and user hook
// survives byte for byte. Returns true if anything was newly installed.
func Install(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	var rawSettings map[string]json.RawMessage
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("read settings.json: %w", err)
		}
		rawSettings = make(map[string]json.RawMessage)
	} else {
		if err := json.Unmarshal(data, &rawSettings); err != nil {
			return false, fmt.Errorf("parse settings.json: %w", err)
		}
	}

	var existingHooks map[string]json.RawMessage
	if raw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(raw, &existingHooks); err != nil {
			// hooks key exists but isn't an object; rebuild just that key
			existingHooks = make(map[string]json.RawMessage)
		}
	} else {
		existingHooks = make(map[string]json.RawMessage)
	}

	if allInstalled(existingHooks) {
		return false, nil
	}

	for _, cfg := range hookEventConfigs {
		existingHooks[cfg.Event] = mergeEvent(existingHooks[cfg.Event], cfg.Matcher, entryFor(cfg.Action, cfg.Async))
	}

	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return false, fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}

	hooksLog.Info("hooks_installed", slog.String("config_dir", configDir))
	return true, nil
}

// Uninstall removes panemark entries from settings.json, leaving user
// hooks on the same events in place. Returns true if anything was
// removed.
func Uninstall(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false, nil
	}
	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false, nil
	}

	removed := false
	for _, cfg := range hookEventConfigs {
		raw, ok := existingHooks[cfg.Event]
		if !ok {
			continue
		}
		cleaned, didRemove := removeFromEvent(raw)
		if didRemove {
			removed = true
			if cleaned == nil {
				delete(existingHooks, cfg.Event)
			} else {
				existingHooks[cfg.Event] = cleaned
			}
		}
	}
	if !removed {
		return false, nil
	}

	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		hooksData, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = hooksData
	}

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}

	hooksLog.Info("hooks_removed", slog.String("config_dir", configDir))
	return true, nil
}

// Installed reports whether every panemark hook is present.
func Installed(configDir string) bool {
	hooks, err := readHooks(configDir)
	if err != nil {
		return false
	}
	return allInstalled(hooks)
}

// EventStatus reports per-event install state, for `hooks status`.
func EventStatus(configDir string) map[string]bool {
	status := make(map[string]bool, len(hookEventConfigs))
	hooks, err := readHooks(configDir)
	for _, cfg := range hookEventConfigs {
		if err != nil {
			status[cfg.Event] = false
			continue
		}
		status[cfg.Event] = eventHasHook(hooks[cfg.Event])
	}
	return status
}

// TmuxBinding returns the optional tmux snippet that clears the
// current pane's marker on Enter. Forwarding the key first keeps the
// binding from adding input lag.
func TmuxBinding() string {
	return `bind-key -n Enter send-keys Enter \; run-shell -b "panemark hook activity"`
}

func writeSettings(configDir, settingsPath string, rawSettings map[string]json.RawMessage) error {
	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0o644); err != nil {
		return fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings.json: %w", err)
	}
	return nil
}

func readHooks(configDir string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return nil, err
	}
	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return nil, err
	}
	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return map[string]json.RawMessage{}, nil
	}
	var hooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

func allInstalled(hooks map[string]json.RawMessage) bool {
	for _, cfg := range hookEventConfigs {
		raw, ok := hooks[cfg.Event]
		if !ok {
			return false
		}
		if !eventHasHook(raw) {
			return false
		}
	}
	return true
}

// eventHasHook checks whether an event's matcher array carries a
// panemark command.
func eventHasHook(raw json.RawMessage) bool {
	if raw == nil {
		return false
	}
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, commandMarker) {
				return true
			}
		}
	}
	return false
}

// mergeEvent adds entry to an event's matcher array, preserving every
// existing matcher and hook.
func mergeEvent(existing json.RawMessage, matcher string, entry hookEntry) json.RawMessage {
	var matchers []hookMatcher
	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	for i, m := range matchers {
		if m.Matcher != matcher {
			continue
		}
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, commandMarker) {
				result, _ := json.Marshal(matchers)
				return result
			}
		}
		matchers[i].Hooks = append(matchers[i].Hooks, entry)
		result, _ := json.Marshal(matchers)
		return result
	}

	matchers = append(matchers, hookMatcher{
		Matcher: matcher,
		Hooks:   []hookEntry{entry},
	})
	result, _ := json.Marshal(matchers)
	return result
}

// removeFromEvent strips panemark entries from an event's matcher
// array. Returns the cleaned JSON and whether any removal happened;
// nil JSON means the whole array emptied out.
func removeFromEvent(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []hookMatcher
	for _, m := range matchers {
		var kept []hookEntry
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, commandMarker) {
				removed = true
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) > 0 {
			m.Hooks = kept
			cleaned = append(cleaned, m)
		}
	}

	if !removed {
		return raw, false
	}
	if len(cleaned) == 0 {
		return nil, true
	}
	result, _ := json.Marshal(cleaned)
	return result, true
}
