package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "test", Warning)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below Warning should be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] warn message") {
		t.Errorf("expected warn message, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] error message") {
		t.Errorf("expected error message, got %q", out)
	}
	if !strings.Contains(out, "[test] ") {
		t.Errorf("expected prefix, got %q", out)
	}
}

func TestLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "lease", Debug)

	logger.Info("lease granted", "credential_id", "k1", "inflight", 2)

	out := buf.String()
	if !strings.Contains(out, "credential_id=k1 inflight=2") {
		t.Errorf("expected key values, got %q", out)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithWriter(&buf, "lease", Info)
	child := parent.With("user", "u1")

	child.Info("selected", "credential_id", "k1")
	if !strings.Contains(buf.String(), "user=u1 credential_id=k1") {
		t.Errorf("child should carry parent fields, got %q", buf.String())
	}

	// level is shared with the parent
	buf.Reset()
	parent.SetLogLevel(Error)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("child should follow parent level, got %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   Debug,
		"INFO":    Info,
		"warn":    Warning,
		"warning": Warning,
		"error":   Error,
		"fatal":   Critical,
		"bogus":   Warning,
		"":        Warning,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("nothing should happen", "k", "v")
}
