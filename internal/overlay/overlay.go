package overlay

import "strings"

// Status is the reason an overlay exists on a pane.
type Status string

const (
	// StatusStopped marks a pane whose agent finished and went idle.
	StatusStopped Status = "stopped"

	// StatusNotified marks a pane whose agent raised a notification.
	StatusNotified Status = "notified"

	// StatusWaitingPermission marks a pane whose agent is blocked on a
	// permission prompt.
	StatusWaitingPermission Status = "waiting_permission"
)

// Marker glyphs. MarkerSync is never applied by any status; it is
// recognized only so stripping can recover from names written by older
// tooling that used it.
const (
	MarkerStopped  = "✅"
	MarkerNotified = "📢"
	MarkerWaiting  = "❓"
	MarkerSync     = "🔄"
)

// stripOrder is the fixed priority order for prefix matching. The
// check runs against the displayed name's actual prefix, never guessed
// from a recorded status: a stale or externally-edited name can carry
// any of these.
var stripOrder = [...]string{MarkerStopped, MarkerNotified, MarkerWaiting, MarkerSync}

// Marker returns the glyph for a status, or "" for an unknown status.
func (s Status) Marker() string {
	switch s {
	case StatusStopped:
		return MarkerStopped
	case StatusNotified:
		return MarkerNotified
	case StatusWaitingPermission:
		return MarkerWaiting
	}
	return ""
}

// Valid reports whether s is a status Apply accepts.
func (s Status) Valid() bool {
	return s.Marker() != ""
}

// StripMarker removes at most one leading "marker + space" prefix from
// a displayed name. First match in priority order wins; a name with no
// recognized prefix comes back unchanged.
func StripMarker(name string) string {
	for _, marker := range stripOrder {
		if rest, ok := strings.CutPrefix(name, marker+" "); ok {
			return rest
		}
	}
	return name
}

// HasMarker reports whether a displayed name starts with a recognized
// marker prefix.
func HasMarker(name string) bool {
	return StripMarker(name) != name
}

// Decorate prepends the status marker to a true name.
func Decorate(status Status, trueName string) string {
	return status.Marker() + " " + trueName
}
