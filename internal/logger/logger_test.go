package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestFieldsPairsArgs(t *testing.T) {
	f := fields([]any{"index", 3, "speed", 1.5, "dangling"})
	if f["index"] != 3 {
		t.Errorf("index = %v, want 3", f["index"])
	}
	if f["speed"] != 1.5 {
		t.Errorf("speed = %v, want 1.5", f["speed"])
	}
	if f["dangling"] != "(MISSING)" {
		t.Errorf("dangling = %v, want (MISSING)", f["dangling"])
	}
}

func TestDebugModeControlsOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetDebugMode(false)

	SetDebugMode(false)
	LogDebug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("debug line written while debug mode is off")
	}

	SetDebugMode(true)
	if !IsDebugMode() {
		t.Fatal("IsDebugMode() = false after SetDebugMode(true)")
	}
	LogDebug("visible", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "visible") || !strings.Contains(out, "key=value") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	if err := SetLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if err := SetLevel("info"); err != nil {
		t.Fatalf("SetLevel(info): %v", err)
	}
}
