package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConsoleLogger_JSONIncludesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{JSON: true, Prefix: "stancemap", Writer: &buf})
	l.Info("[Classify] done", "processed", 3)

	var out map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out); err != nil {
		t.Fatalf("expected JSON line, got %q (%v)", buf.String(), err)
	}
	if out["msg"] != "[Classify] done" {
		t.Fatalf("expected msg, got %v", out["msg"])
	}
	if out["processed"] != float64(3) {
		t.Fatalf("expected processed=3, got %v", out["processed"])
	}
}

func TestConsoleLogger_DebugFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Writer: &buf})
	l.Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("expected debug line to be filtered, got %q", buf.String())
	}
}
