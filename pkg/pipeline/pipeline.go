package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/internal/timing"
	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/classify"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/controversy"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/export"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/label"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/position"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/staleness"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/viewpoint"
)

const (
	StepRevalidate    = "revalidate"
	StepClassify      = "classify"
	StepPositions     = "positions"
	StepControversies = "controversies"
	StepLabels        = "labels"
	StepViewpoints    = "viewpoints"
	StepExport        = "export"
)

var ErrUnknownStep = errors.New("unknown step")

// Steps lists every step name in execution order.
var Steps = []string{
	StepRevalidate,
	StepClassify,
	StepPositions,
	StepControversies,
	StepLabels,
	StepViewpoints,
	StepExport,
}

var chain = []string{
	StepClassify,
	StepPositions,
	StepControversies,
	StepLabels,
	StepViewpoints,
	StepExport,
}

// Next returns the step that follows step in the chained pipeline.
func Next(step string) (string, bool) {
	i := slices.Index(chain, step)
	if i < 0 || i == len(chain)-1 {
		return "", false
	}
	return chain[i+1], true
}

// Stage is one batch entry point.
type Stage interface {
	Run(ctx context.Context, opts common.BatchOptions) *common.RunResult
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, opts common.BatchOptions) *common.RunResult

func (f StageFunc) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	return f(ctx, opts)
}

// Oracle bundles every model capability the stages consume.
type Oracle interface {
	ai.Classifier
	ai.Labeler
	ai.Embedder
	ai.QuestionWriter
	ai.ViewpointWriter
}

// Deps are the collaborators of NewRunner. Sink may be nil.
type Deps struct {
	Store  store.Storage
	Locker leaselock.Locker
	Oracle Oracle
	Sink   export.Sink
}

// Runner executes steps under a per-step lease and records their outcome.
type Runner struct {
	stages   map[string]Stage
	limits   map[string]int
	locker   leaselock.Locker
	runs     store.RunStore
	leaseTTL time.Duration
}

// NewRunner wires every stage from the tuning.
func NewRunner(deps Deps, t util.Tuning) *Runner {
	st := deps.Store
	tracker := staleness.New(st, st, deps.Locker, staleness.Params{
		Interval:        t.ReevaluateAfter,
		NeighborK:       t.NeighborK,
		SimilarityFloor: t.SimilarityFloor,
		LeaseTTL:        t.LeaseTTL,
	})

	stages := map[string]Stage{
		StepRevalidate: StageFunc(tracker.Revalidate),
		StepClassify: classify.New(st, st, tracker, deps.Oracle, classify.Params{
			NeighborK:       t.NeighborK,
			SimilarityFloor: t.SimilarityFloor,
			Concurrency:     t.OracleConcurrency,
		}),
		StepPositions: position.New(st, st, st, position.Params{
			MinSize:   t.MinClusterSize,
			MaxSize:   t.MaxClusterSize,
			CoreCount: t.CoreCount,
		}, t.RetiredRetention),
		StepControversies: controversy.New(st, st, st, st, deps.Oracle, controversy.Params{
			CompetingWeight: t.CompetingWeight,
			MinScore:        t.ControversyMinimum,
			BriefSize:       t.CoreCount,
			Concurrency:     t.OracleConcurrency,
		}),
		StepLabels: label.New(st, st, st, deps.Oracle, deps.Oracle, label.Params{
			DriftThreshold: t.DriftThreshold,
			MinNewMembers:  t.DriftMinNewMember,
			Concurrency:    t.OracleConcurrency,
		}),
		StepViewpoints: viewpoint.New(st, st, st, st, deps.Oracle, viewpoint.Params{
			BriefSize:   t.CoreCount,
			Concurrency: t.OracleConcurrency,
		}),
		StepExport: export.New(st, st, st, st, deps.Sink, export.Params{
			SimilarityThreshold: t.GraphSimilarity,
			MaxNodes:            t.GraphMaxNodes,
		}),
	}

	return &Runner{
		stages: stages,
		limits: map[string]int{
			StepRevalidate: t.RevalidateBatch,
			StepClassify:   t.ClassifyBatch,
			StepLabels:     t.LabelBatch,
			StepViewpoints: t.ViewpointBatch,
			StepExport:     t.ExportBatch,
		},
		locker:   deps.Locker,
		runs:     st,
		leaseTTL: t.LeaseTTL,
	}
}

// NewRunnerWithStages builds a Runner over explicit stages.
func NewRunnerWithStages(stages map[string]Stage, locker leaselock.Locker, runs store.RunStore) *Runner {
	return &Runner{stages: stages, limits: map[string]int{}, locker: locker, runs: runs}
}

// Run executes step. Overlapping runs of the same step fail with
// leaselock.ErrBusy. The returned error is the first fatal error of the run.
func (r *Runner) Run(ctx context.Context, step string, opts common.BatchOptions) (*common.RunResult, error) {
	stage, ok := r.stages[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	if opts.Limit <= 0 {
		opts.Limit = r.limits[step]
	}

	logger.Info("[Pipeline] Running step", "step", step, "limit", opts.Limit, "dry_run", opts.DryRun)

	var res *common.RunResult
	run := func(ctx context.Context) error {
		res = stage.Run(ctx, opts)
		return nil
	}

	if r.locker != nil && !opts.DryRun {
		err := r.locker.WithLease(ctx, "step:"+step, leaselock.Options{TTL: r.leaseTTL, TokenPrefix: "step-"}, run)
		if err != nil {
			logger.Warn("[Pipeline] Could not take step lease", "step", step, "err", err)
			return nil, fmt.Errorf("step %s: %w", step, err)
		}
	} else {
		_ = run(ctx)
	}

	if r.runs != nil {
		// a lost run log entry must not fail the step
		_ = timing.RecordRun(ctx, r.runs, res)
	}

	if err := res.Err(); err != nil {
		logger.Error("[Pipeline] Step failed", "step", step, "item", res.FailedItem, "err", err)
		return res, err
	}
	logger.Info("[Pipeline] Step finished",
		"step", step,
		"processed", res.Processed,
		"failed", res.Failed,
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

// RunChain runs step and every following step until one fails.
func (r *Runner) RunChain(ctx context.Context, step string, opts common.BatchOptions) ([]*common.RunResult, error) {
	out := make([]*common.RunResult, 0, len(chain))
	for {
		res, err := r.Run(ctx, step, opts)
		if res != nil {
			out = append(out, res)
		}
		if err != nil {
			return out, err
		}
		next, ok := Next(step)
		if !ok {
			return out, nil
		}
		step = next
	}
}

// Has reports whether step is known.
func (r *Runner) Has(step string) bool {
	_, ok := r.stages[step]
	return ok
}
