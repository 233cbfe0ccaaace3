package timing

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"
)

// RecordRun persists the outcome of one batch invocation.
func RecordRun(ctx context.Context, runs store.RunStore, res *common.RunResult) error {
	if res == nil {
		return nil
	}
	if err := runs.RecordRun(ctx, *res); err != nil {
		logger.Error("[Timing] Failed to record run", "step", res.Step, "err", err)
		return fmt.Errorf("failed to record run: %w", err)
	}
	logger.Debug("[Timing] Recorded run", "step", res.Step, "duration_ms", res.DurationMs, "processed", res.Processed)
	return nil
}

// LastRun returns the most recent run of step, or nil if it never ran.
func LastRun(ctx context.Context, runs store.RunStore, step string) (*common.RunResult, error) {
	res, err := runs.LastRun(ctx, step)
	if err != nil {
		return nil, fmt.Errorf("failed to read last run of %s: %w", step, err)
	}
	return res, nil
}

// PredictDuration extrapolates the duration of processing amount items
// from the per-item rate of the last non-dry run. It returns 0 when there
// is no usable history.
func PredictDuration(ctx context.Context, runs store.RunStore, step string, amount int) (int64, error) {
	last, err := LastRun(ctx, runs, step)
	if err != nil {
		return 0, err
	}
	if last == nil || last.DryRun || last.Processed == 0 || amount <= 0 {
		return 0, nil
	}
	return last.DurationMs * int64(amount) / int64(last.Processed), nil
}
