package platform

import (
	"runtime"
	"strings"
	"testing"
)

func setPlatform(t *testing.T, p Platform) {
	t.Helper()
	current = p
	resolved = true
	t.Cleanup(func() {
		current = ""
		resolved = false
	})
}

func TestDetectCaches(t *testing.T) {
	current = ""
	resolved = false
	t.Cleanup(func() {
		current = ""
		resolved = false
	})

	p := Detect()
	if p == "" {
		t.Fatal("Detect returned empty platform")
	}
	if p2 := Detect(); p2 != p {
		t.Errorf("second Detect = %s, first was %s", p2, p)
	}

	switch runtime.GOOS {
	case "darwin":
		if p != PlatformMacOS {
			t.Errorf("on darwin got %s", p)
		}
	case "linux":
		if p != PlatformLinux && p != PlatformWSL1 && p != PlatformWSL2 {
			t.Errorf("on linux got %s", p)
		}
	case "windows":
		if p != PlatformWindows {
			t.Errorf("on windows got %s", p)
		}
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
		{Platform("bogus"), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("%q.String() = %q, want %q", string(tt.platform), got, tt.expected)
		}
	}
}

func TestIsWSL(t *testing.T) {
	tests := []struct {
		platform Platform
		isWSL    bool
		isWSL1   bool
		isWSL2   bool
	}{
		{PlatformMacOS, false, false, false},
		{PlatformLinux, false, false, false},
		{PlatformWSL1, true, true, false},
		{PlatformWSL2, true, false, true},
		{PlatformWindows, false, false, false},
	}

	for _, tt := range tests {
		setPlatform(t, tt.platform)
		if got := IsWSL(); got != tt.isWSL {
			t.Errorf("IsWSL() for %s = %v, want %v", tt.platform, got, tt.isWSL)
		}
		if got := IsWSL1(); got != tt.isWSL1 {
			t.Errorf("IsWSL1() for %s = %v, want %v", tt.platform, got, tt.isWSL1)
		}
		if got := IsWSL2(); got != tt.isWSL2 {
			t.Errorf("IsWSL2() for %s = %v, want %v", tt.platform, got, tt.isWSL2)
		}
	}
}

func TestFsTypeFor(t *testing.T) {
	mounts := strings.Join([]string{
		"/dev/sda1 / ext4 rw,relatime 0 0",
		"/dev/sdb1 /home ext4 rw,relatime 0 0",
		"C:\\134 /mnt/c 9p rw,noatime 0 0",
		"server:/export /mnt/nfs nfs4 rw 0 0",
		"malformed-line",
	}, "\n")

	tests := []struct {
		path   string
		fsType string
	}{
		{"/etc/panemark", "ext4"},
		{"/home/user/.panemark", "ext4"},
		{"/mnt/c/Users/x/.panemark", "9p"},
		{"/mnt/nfs/data", "nfs4"},
	}
	for _, tt := range tests {
		if got := fsTypeFor(tt.path, mounts); got != tt.fsType {
			t.Errorf("fsTypeFor(%q) = %q, want %q", tt.path, got, tt.fsType)
		}
	}

	// Longest mountpoint must win over the root catch-all.
	if got := fsTypeFor("/home/user/x", mounts); got != "ext4" {
		t.Errorf("longest-prefix match failed: %q", got)
	}
}

func TestCheckFsnotifySupport(t *testing.T) {
	// Temp dirs sit on local filesystems in any sane test environment,
	// so this mostly asserts the /proc/mounts parse does not blow up.
	warning := CheckFsnotifySupport(t.TempDir())
	if strings.Contains(warning, "\n") {
		t.Errorf("warning should be a single line, got %q", warning)
	}

	if runtime.GOOS != "linux" && warning != "" {
		t.Errorf("expected no warning off linux, got %q", warning)
	}
}
