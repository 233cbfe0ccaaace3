package logger

import "testing"

type recorder struct {
	lines [][]any
}

func (r *recorder) record(level, msg string, kv []any) {
	r.lines = append(r.lines, append([]any{level, msg}, kv...))
}

func (r *recorder) Log(m string, kv ...any)   { r.record("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.record("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.record("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.record("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.record("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.record("fatal", m, kv) }

func TestDispatchToAllInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { current.Store(nil) })

	Info("hello", "k", 1)
	Log("plain", "claim_id", 7)

	for _, r := range []*recorder{a, b} {
		if len(r.lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(r.lines))
		}
		if r.lines[1][0] != "log" || len(r.lines[1]) != 4 || r.lines[1][3] != 7 {
			t.Fatalf("expected Log to forward keyvals, got %v", r.lines[1])
		}
	}
}

func TestLevelsReachMatchingMethod(t *testing.T) {
	r := &recorder{}
	Init(r)
	t.Cleanup(func() { current.Store(nil) })

	Debug("d")
	Warn("w", "claim_id", 3)
	Error("e")

	want := []string{"debug", "warn", "error"}
	if len(r.lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(r.lines))
	}
	for i, lvl := range want {
		if r.lines[i][0] != lvl {
			t.Fatalf("expected %s at %d, got %v", lvl, i, r.lines[i][0])
		}
	}
	if len(r.lines[1]) != 4 {
		t.Fatalf("expected warn keyvals forwarded, got %v", r.lines[1])
	}
}

func TestUninitializedIsNoop(t *testing.T) {
	current.Store(nil)
	Info("nobody listens")
	Warn("nobody listens")
}
