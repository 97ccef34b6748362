package main

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestPermissionNeeded(t *testing.T) {
	tools := []string{"Bash", "Write", "Edit", "MultiEdit"}

	tests := []struct {
		name     string
		data     string
		received bool
		expect   bool
	}{
		{"bash tool", `{"tool_name": "Bash", "tool_input": {"command": "ls"}}`, true, true},
		{"write tool", `{"tool_name": "Write"}`, true, true},
		{"edit tool", `{"tool_name": "Edit"}`, true, true},
		{"multi edit tool", `{"tool_name": "MultiEdit"}`, true, true},
		{"read-only tool", `{"tool_name": "Read"}`, true, false},
		{"glob tool", `{"tool_name": "Glob"}`, true, false},
		{"missing tool name", `{"session_id": "abc"}`, true, false},
		{"no payload", "", false, true},
		{"malformed json", `{"tool_name": `, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := permissionNeeded([]byte(tt.data), tt.received, tools)
			if got != tt.expect {
				t.Errorf("permissionNeeded(%q) = %v, want %v", tt.data, got, tt.expect)
			}
		})
	}
}

func TestPermissionNeeded_ConfiguredTools(t *testing.T) {
	payload := []byte(`{"tool_name": "Bash"}`)
	if permissionNeeded(payload, true, []string{"Write"}) {
		t.Error("Bash should not mark when only Write is configured")
	}
	if !permissionNeeded(payload, true, []string{"Bash"}) {
		t.Error("Bash should mark when configured")
	}
}

func TestReadHookInput(t *testing.T) {
	data, ok := readHookInput(strings.NewReader(`{"tool_name":"Bash"}`), time.Second)
	if !ok {
		t.Fatal("expected input to be read")
	}
	if string(data) != `{"tool_name":"Bash"}` {
		t.Errorf("data = %q", data)
	}
}

func TestReadHookInput_Empty(t *testing.T) {
	if _, ok := readHookInput(strings.NewReader(""), time.Second); ok {
		t.Error("empty input should report not received")
	}
}

func TestReadHookInput_Timeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	start := time.Now()
	_, ok := readHookInput(r, 50*time.Millisecond)
	if ok {
		t.Error("blocked reader should time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, want about 50ms", elapsed)
	}
}
