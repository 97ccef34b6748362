package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform classifies the host well enough to pick a notification
// backend and to know whether fsnotify can be trusted. WSL matters
// here: it reports GOOS=linux but wants Windows toasts, and WSL2
// mounts the Windows drive over 9p where inotify events never arrive.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	current  Platform
	resolved bool
)

// Detect classifies the host once and caches the answer.
func Detect() Platform {
	if !resolved {
		current = classify()
		resolved = true
	}
	return current
}

func classify() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return classifyLinux()
	}
	return PlatformUnknown
}

// classifyLinux separates native Linux from the two WSL generations.
func classifyLinux() Platform {
	version, err := os.ReadFile("/proc/version")
	kernel := string(version)
	if err != nil {
		kernel = ""
	}

	inWSL := os.Getenv("WSL_DISTRO_NAME") != "" ||
		strings.Contains(strings.ToLower(kernel), "microsoft")
	if !inWSL {
		return PlatformLinux
	}

	// WSL2 kernels identify as "microsoft-standard"; WSL1 says
	// "Microsoft" with no standard suffix.
	if strings.Contains(kernel, "microsoft-standard") {
		return PlatformWSL2
	}
	if strings.Contains(kernel, "Microsoft") {
		return PlatformWSL1
	}

	// Kernel string was unreadable or ambiguous. /run/WSL and the
	// vsock device exist only under the WSL2 VM.
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	if _, err := os.Stat("/dev/vsock"); err == nil {
		return PlatformWSL2
	}

	// Assume the more limited generation when undecidable.
	return PlatformWSL1
}

// IsWSL reports whether the host is any WSL generation.
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

func IsWSL1() bool { return Detect() == PlatformWSL1 }

func IsWSL2() bool { return Detect() == PlatformWSL2 }

func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	}
	return "Unknown"
}

// CheckFsnotifySupport warns when path sits on a filesystem that drops
// or delays inotify events. Empty string means watching should work.
// The monitor shows the warning instead of silently never reloading.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	switch fsType := fsTypeFor(absPath, string(mounts)); {
	case fsType == "9p":
		return "Config on 9p mount (WSL2 Windows filesystem): auto-reload disabled. Restart monitor after edits."
	case fsType == "nfs" || fsType == "nfs4":
		return "Config on NFS mount: auto-reload may be unreliable. Restart monitor after edits."
	case fsType == "cifs" || fsType == "smbfs":
		return "Config on CIFS/SMB mount: auto-reload may be unreliable. Restart monitor after edits."
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "Config on SSHFS mount: auto-reload disabled. Restart monitor after edits."
	}
	return ""
}

// fsTypeFor resolves the filesystem type for path from /proc/mounts
// content. Lines read "device mountpoint fstype options ..."; the
// longest mountpoint prefix of path wins, since /home/x/.panemark
// matches both / and a dedicated /home mount.
func fsTypeFor(path, mounts string) string {
	var bestMount, bestType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(path, fields[1]) && len(fields[1]) > len(bestMount) {
			bestMount = fields[1]
			bestType = fields[2]
		}
	}
	return bestType
}
