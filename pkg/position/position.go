package position

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"
)

// Builder rebuilds the full set of position clusters from the supports
// edges of the relationship cache.
type Builder struct {
	edges     store.EdgeStore
	claims    store.ClaimStore
	positions store.PositionStore
	params    Params
	retention time.Duration

	Now func() time.Time
}

func New(
	edges store.EdgeStore,
	claims store.ClaimStore,
	positions store.PositionStore,
	params Params,
	retention time.Duration,
) *Builder {
	if params.MinSize < 2 {
		params.MinSize = 2
	}
	if params.MaxSize < params.MinSize {
		params.MaxSize = params.MinSize
	}
	if params.CoreCount < 0 {
		params.CoreCount = 0
	}
	return &Builder{
		edges:     edges,
		claims:    claims,
		positions: positions,
		params:    params,
		retention: retention,
		Now:       time.Now,
	}
}

// Run recomputes every cluster and replaces the stored set. The limit is
// ignored since the rebuild is all-or-nothing.
func (b *Builder) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("positions", opts)
	defer res.Finish()

	edges, err := b.edges.ListRelationships(ctx, common.RelationshipSupports)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list supports edges: %w", err))
		return res
	}

	embeddings, err := b.embeddings(ctx, edges)
	if err != nil {
		res.Fail("", err)
		return res
	}

	candidates := Build(edges, embeddings, b.params)

	prev, err := b.positions.ListPositionClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list position clusters: %w", err))
		return res
	}

	now := b.Now()
	clusters := CarryOver(prev, candidates, now)
	res.Processed = len(clusters)

	next := make(map[string]struct{}, len(clusters))
	inherited := 0
	for _, c := range clusters {
		next[c.ID] = struct{}{}
		if c.LabelSource != common.LabelSourceNone {
			inherited++
		}
	}
	retired := 0
	for _, p := range prev {
		if _, ok := next[p.ID]; !ok {
			retired++
		}
	}

	res.AddEffect("clusters_written", len(clusters))
	res.AddEffect("clusters_retired", retired)
	res.AddEffect("labels_carried", inherited)

	if opts.DryRun {
		logger.Info("[Positions] Dry run", "clusters", len(clusters), "retired", retired)
		return res
	}

	if err := b.positions.ReplacePositionClusters(ctx, clusters, now.Add(-b.retention)); err != nil {
		res.Fail("positions", fmt.Errorf("failed to replace position clusters: %w", err))
		return res
	}

	logger.Info("[Positions] Rebuilt clusters",
		"edges", len(edges),
		"clusters", len(clusters),
		"retired", retired,
		"labels_carried", inherited,
	)
	return res
}

func (b *Builder) embeddings(ctx context.Context, edges []common.RelationshipEdge) (map[int64][]float32, error) {
	ids := make([]int64, 0, len(edges)*2)
	for _, e := range edges {
		ids = append(ids, e.ClaimA, e.ClaimB)
	}
	ids = store.Dedupe(ids)

	out := make(map[int64][]float32, len(ids))
	err := store.ChunkRange(len(ids), 1000, func(start, end int) error {
		claims, err := b.claims.GetClaims(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to load claim embeddings: %w", err)
		}
		for _, c := range claims {
			out[c.ID] = c.Embedding
		}
		return nil
	})
	return out, err
}
