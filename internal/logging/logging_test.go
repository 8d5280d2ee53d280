package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]log.Level{
		"debug":   log.DebugLevel,
		"WARN":    log.WarnLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"":        log.InfoLevel,
		"verbose": log.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesKeyValues(t *testing.T) {
	t.Setenv("SCOUT_LOG_LEVEL", "")
	var buf bytes.Buffer
	l := New(Options{Level: "info", Output: &buf, Prefix: "pipeline"})
	l.Debug("hidden")
	l.Info("cycle done", "founders", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line leaked at info level: %q", out)
	}
	if !strings.Contains(out, "cycle done") || !strings.Contains(out, "founders=3") || !strings.Contains(out, "pipeline") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv("SCOUT_LOG_LEVEL", "error")
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Output: &buf})
	l.Warn("quiet")
	if buf.Len() != 0 {
		t.Errorf("warn should be filtered at error level: %q", buf.String())
	}
}
