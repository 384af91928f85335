package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("dropped", Err(errors.New("x")))
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("instance", "i-1"))
	l.Info("starting instance", String("action", "start"), Duration("took", 1500*time.Millisecond), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["message"] != "starting instance" || m["instance"] != "i-1" || m["action"] != "start" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["took"] != "1.5s" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel(" warning ", LevelInfo) != LevelWarn {
		t.Fatal("warning should map to warn")
	}
	if parseLevel("bogus", LevelError) != LevelError {
		t.Fatal("unknown level should use default")
	}
}
