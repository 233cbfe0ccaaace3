package timing

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store/memory"
)

func TestRecordAndLastRun(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	if last, err := LastRun(ctx, st, "classify"); err != nil || last != nil {
		t.Fatalf("expected no history, got %+v, %v", last, err)
	}

	_ = RecordRun(ctx, st, &common.RunResult{Step: "classify", Processed: 10, DurationMs: 2000})
	_ = RecordRun(ctx, st, &common.RunResult{Step: "labels", Processed: 1})

	last, err := LastRun(ctx, st, "classify")
	if err != nil || last == nil || last.Processed != 10 {
		t.Fatalf("expected classify run, got %+v, %v", last, err)
	}

	ms, err := PredictDuration(ctx, st, "classify", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 5000 {
		t.Fatalf("expected 5000ms, got %d", ms)
	}
}

func TestPredictDuration_IgnoresDryRuns(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	_ = RecordRun(ctx, st, &common.RunResult{Step: "labels", DryRun: true, Processed: 5, DurationMs: 10})

	ms, _ := PredictDuration(ctx, st, "labels", 10)
	if ms != 0 {
		t.Fatalf("expected 0 for dry-run history, got %d", ms)
	}
}
