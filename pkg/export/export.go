package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"
)

// Sink receives every exported graph in addition to the store.
type Sink interface {
	PutGraph(ctx context.Context, graph common.ViewpointGraph) error
}

type Params struct {
	SimilarityThreshold float64
	MaxNodes            int
}

// Exporter regenerates the layout graph of every viewpoint.
type Exporter struct {
	viewpoints store.ViewpointStore
	positions  store.PositionStore
	claims     store.ClaimStore
	graphs     store.GraphStore
	sink       Sink
	params     Params

	Now func() time.Time
}

// New creates an Exporter. sink may be nil.
func New(
	viewpoints store.ViewpointStore,
	positions store.PositionStore,
	claims store.ClaimStore,
	graphs store.GraphStore,
	sink Sink,
	params Params,
) *Exporter {
	return &Exporter{
		viewpoints: viewpoints,
		positions:  positions,
		claims:     claims,
		graphs:     graphs,
		sink:       sink,
		params:     params,
		Now:        time.Now,
	}
}

// Run exports up to opts.Limit due viewpoints. A sink error is logged and
// counted; the stored graph stays authoritative.
func (e *Exporter) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("export", opts)
	defer res.Finish()

	all, err := e.viewpoints.ListViewpoints(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list viewpoints: %w", err))
		return res
	}
	generated, err := e.graphs.ListGraphTimes(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list graph times: %w", err))
		return res
	}
	vps := Due(all, generated)
	res.AddEffect("graphs_unchanged", len(all)-len(vps))
	if opts.Limit > 0 && len(vps) > opts.Limit {
		res.Skipped += len(vps) - opts.Limit
		vps = vps[:opts.Limit]
	}

	positions, err := e.positions.ListPositionClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list position clusters: %w", err))
		return res
	}
	byID := make(map[string]common.PositionCluster, len(positions))
	for _, p := range positions {
		byID[p.ID] = p
	}

	now := e.Now()
	for _, vp := range vps {
		p, ok := byID[vp.PositionID]
		if !ok {
			res.Skipped++
			continue
		}

		claims, err := e.loadClaims(ctx, p)
		if err != nil {
			res.Fail(vp.ID, err)
			return res
		}
		g := BuildGraph(vp, p, claims, e.params.SimilarityThreshold, e.params.MaxNodes, now)
		res.AddEffect("nodes", len(g.Nodes))
		res.AddEffect("edges", len(g.Edges))

		if opts.DryRun {
			res.AddEffect("graphs_to_write", 1)
			res.Processed++
			continue
		}

		if err := e.graphs.SaveViewpointGraph(ctx, g); err != nil {
			res.Fail(vp.ID, fmt.Errorf("failed to save graph: %w", err))
			return res
		}
		res.AddEffect("graphs_written", 1)

		if e.sink != nil {
			if err := e.sink.PutGraph(ctx, g); err != nil {
				logger.Warn("[Export] Failed to upload graph", "viewpoint_id", vp.ID, "err", err)
				res.Failed++
				continue
			}
			res.AddEffect("graphs_uploaded", 1)
		}
		res.Processed++
	}

	logger.Info("[Export] Finished batch", "processed", res.Processed, "failed", res.Failed, "skipped", res.Skipped)
	return res
}

// Due returns the viewpoints without a graph or with a graph older than the
// viewpoint. Missing graphs come first, then the oldest graphs, then by id.
func Due(vps []common.Viewpoint, generated map[string]time.Time) []common.Viewpoint {
	out := make([]common.Viewpoint, 0, len(vps))
	for _, vp := range vps {
		if at, ok := generated[vp.ID]; ok && !at.Before(vp.UpdatedAt) {
			continue
		}
		out = append(out, vp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, okI := generated[out[i].ID]
		aj, okJ := generated[out[j].ID]
		if okI != okJ {
			return !okI
		}
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Exporter) loadClaims(ctx context.Context, p common.PositionCluster) (map[int64]common.Claim, error) {
	claims, err := e.claims.GetClaims(ctx, p.MemberIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load member claims: %w", err)
	}
	out := make(map[int64]common.Claim, len(claims))
	for _, c := range claims {
		out[c.ID] = c
	}
	return out, nil
}
