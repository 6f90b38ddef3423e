package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.Colorize = false
	cfg.Level = level
	return New(cfg), &buf
}

func TestLogSuppressesBelowConfiguredLevel(t *testing.T) {
	l, buf := newTestLogger(WARN)
	l.Info("this should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output below level, got %q", buf.String())
	}

	l.Warn("this should appear")
	if !strings.Contains(buf.String(), "this should appear") {
		t.Errorf("expected WARN line, got %q", buf.String())
	}
}

func TestLogFormatsArgsPrintfStyle(t *testing.T) {
	l, buf := newTestLogger(DEBUG)
	l.Info("count=%d name=%s", 3, "abc")
	if !strings.Contains(buf.String(), "count=3 name=abc") {
		t.Errorf("expected formatted message, got %q", buf.String())
	}
}

func TestNamedPrefixesNested(t *testing.T) {
	l, buf := newTestLogger(DEBUG)
	child := l.Named("engine").Named("worker")
	child.Info("hello")
	if !strings.Contains(buf.String(), "engine.worker") {
		t.Errorf("expected nested prefix %q in %q", "engine.worker", buf.String())
	}
}

func TestErrorAliasesWarnLevel(t *testing.T) {
	l, buf := newTestLogger(WARN)
	l.Error("boom")
	if !strings.Contains(buf.String(), "[WARN]") {
		t.Errorf("expected Error to log at WARN level, got %q", buf.String())
	}
}
