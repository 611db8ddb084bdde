package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf, Prefix: "test"})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below level leaked through: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn and error messages, got %q", out)
	}
}

func TestLogger_Formatting(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf, Prefix: "test"})

	log.Info("value is %d", 42)

	if !strings.Contains(buf.String(), "value is 42") {
		t.Errorf("expected formatted message, got %q", buf.String())
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	log.WithComponent("hook").WithField("thread", 3).Info("stopped")

	out := buf.String()
	if !strings.Contains(out, "component=hook") {
		t.Errorf("expected component field, got %q", out)
	}
	if !strings.Contains(out, "thread=3") {
		t.Errorf("expected thread field, got %q", out)
	}
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	_ = log.WithField("child", true)
	log.Info("parent message")

	if strings.Contains(buf.String(), "child=true") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestNop_DiscardsEverything(t *testing.T) {
	// Must not panic and must not write anywhere.
	Nop.Error("should vanish")
	Nop.WithComponent("x").Info("also vanishes")
}
