package controversy

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

type Params struct {
	CompetingWeight float64
	MinScore        float64
	// BriefSize caps the representative claims shown per side.
	BriefSize   int
	Concurrency int
}

// Aggregator scores position pairs and promotes the qualifying ones into
// controversy clusters.
type Aggregator struct {
	edges     store.EdgeStore
	claims    store.ClaimStore
	positions store.PositionStore
	store     store.ControversyStore
	writer    ai.QuestionWriter
	params    Params

	Now func() time.Time
}

func New(
	edges store.EdgeStore,
	claims store.ClaimStore,
	positions store.PositionStore,
	controversies store.ControversyStore,
	writer ai.QuestionWriter,
	params Params,
) *Aggregator {
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	if params.BriefSize < 1 {
		params.BriefSize = 5
	}
	return &Aggregator{
		edges:     edges,
		claims:    claims,
		positions: positions,
		store:     controversies,
		writer:    writer,
		params:    params,
		Now:       time.Now,
	}
}

type questionJob struct {
	index int
	a, b  common.PositionCluster
}

// Run rebuilds pair scores and controversy clusters. Questions are reused
// when both positions kept their membership.
func (g *Aggregator) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("controversies", opts)
	defer res.Finish()

	clusters, err := g.positions.ListPositionClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list position clusters: %w", err))
		return res
	}
	byID := make(map[string]common.PositionCluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}

	edges, err := g.edges.ListRelationships(ctx,
		common.RelationshipContradicts,
		common.RelationshipCompetingFraming,
		common.RelationshipSupports,
	)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list relationship edges: %w", err))
		return res
	}

	scores := Aggregate(edges, Owners(clusters), g.params.CompetingWeight)
	qualifying := Qualifying(scores, g.params.MinScore)

	previous, err := g.store.ListControversyClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list controversy clusters: %w", err))
		return res
	}
	prevByID := make(map[string]common.ControversyCluster, len(previous))
	for _, c := range previous {
		prevByID[c.ID] = c
	}

	now := g.Now()
	out := make([]common.ControversyCluster, len(qualifying))
	jobs := make([]questionJob, 0)
	for i, s := range qualifying {
		a, b := byID[s.PositionA], byID[s.PositionB]
		cc := common.ControversyCluster{
			ID:        common.ControversyClusterID(s.Key()),
			Score:     s.ControversyScore,
			CreatedAt: now,
		}
		if prev, ok := prevByID[cc.ID]; ok && reusable(prev, a, b) {
			cc.Question = prev.Question
			cc.Sides = prev.Sides
			cc.CreatedAt = prev.CreatedAt
			res.AddEffect("questions_reused", 1)
		} else {
			jobs = append(jobs, questionJob{index: i, a: a, b: b})
		}
		out[i] = cc
	}

	res.Processed = len(out)
	res.AddEffect("pair_scores_written", len(scores))
	res.AddEffect("controversies_written", len(out))

	if opts.DryRun {
		res.AddEffect("questions_to_generate", len(jobs))
		logger.Info("[Controversy] Dry run", "pairs", len(scores), "controversies", len(out), "questions", len(jobs))
		return res
	}

	if err := g.store.ReplacePositionPairScores(ctx, scores); err != nil {
		res.Fail("pair_scores", fmt.Errorf("failed to replace pair scores: %w", err))
		return res
	}

	if len(jobs) > 0 {
		briefs, err := g.briefs(ctx, jobs)
		if err != nil {
			res.Fail("", err)
			return res
		}
		failed := g.generate(ctx, jobs, briefs, out)
		res.OracleCalls += len(jobs)
		res.Failed += failed
		res.AddEffect("questions_generated", len(jobs)-failed)
	}

	if err := g.store.ReplaceControversyClusters(ctx, out); err != nil {
		res.Fail("controversies", fmt.Errorf("failed to replace controversy clusters: %w", err))
		return res
	}

	logger.Info("[Controversy] Rebuilt controversies",
		"pairs", len(scores),
		"controversies", len(out),
		"questions", len(jobs),
		"failed", res.Failed,
	)
	return res
}

func reusable(prev common.ControversyCluster, a, b common.PositionCluster) bool {
	if prev.Question == "" {
		return false
	}
	return prev.Sides[0].PositionID == a.ID && prev.Sides[0].Fingerprint != "" && prev.Sides[0].Fingerprint == a.Fingerprint &&
		prev.Sides[1].PositionID == b.ID && prev.Sides[1].Fingerprint != "" && prev.Sides[1].Fingerprint == b.Fingerprint
}

func (g *Aggregator) briefs(ctx context.Context, jobs []questionJob) (map[string]ai.PositionBrief, error) {
	ids := make([]int64, 0)
	for _, j := range jobs {
		ids = append(ids, g.representatives(j.a)...)
		ids = append(ids, g.representatives(j.b)...)
	}
	ids = store.Dedupe(ids)

	claims, err := g.claims.GetClaims(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load representative claims: %w", err)
	}
	text := make(map[int64]string, len(claims))
	for _, c := range claims {
		text[c.ID] = c.Text
	}

	out := make(map[string]ai.PositionBrief)
	for _, j := range jobs {
		for _, p := range []common.PositionCluster{j.a, j.b} {
			if _, ok := out[p.ID]; ok {
				continue
			}
			brief := ai.PositionBrief{Label: p.Label}
			for _, id := range g.representatives(p) {
				if t, ok := text[id]; ok {
					brief.Claims = append(brief.Claims, t)
				}
			}
			out[p.ID] = brief
		}
	}
	return out, nil
}

func (g *Aggregator) representatives(p common.PositionCluster) []int64 {
	ids := p.CoreFirstIDs()
	if len(ids) > g.params.BriefSize {
		ids = ids[:g.params.BriefSize]
	}
	return ids
}

// generate fills question and sides of out for every job and returns the
// number of fallbacks.
func (g *Aggregator) generate(ctx context.Context, jobs []questionJob, briefs map[string]ai.PositionBrief, out []common.ControversyCluster) int {
	failed := make([]bool, len(jobs))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.params.Concurrency)
	for i, j := range jobs {
		eg.Go(func() error {
			q, err := g.writer.Question(gctx, briefs[j.a.ID], briefs[j.b.ID])
			cc := &out[j.index]
			if err != nil {
				logger.Warn("[Controversy] Question oracle failed, using fallback", "controversy_id", cc.ID, "err", err)
				failed[i] = true
				cc.Question, cc.Sides = fallback(j.a, j.b)
				return nil
			}
			cc.Question = q.Question
			cc.Sides = [2]common.ControversySide{
				{Side: common.SideA, PositionID: j.a.ID, Stance: q.StanceA, Fingerprint: j.a.Fingerprint},
				{Side: common.SideB, PositionID: j.b.ID, Stance: q.StanceB, Fingerprint: j.b.Fingerprint},
			}
			return nil
		})
	}
	_ = eg.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}

// fallback leaves the side fingerprints empty so the next pass asks again.
func fallback(a, b common.PositionCluster) (string, [2]common.ControversySide) {
	la, lb := stanceOf(a, "First position"), stanceOf(b, "Second position")
	question := fmt.Sprintf("Which view is better supported: %q or %q?", la, lb)
	return question, [2]common.ControversySide{
		{Side: common.SideA, PositionID: a.ID, Stance: la},
		{Side: common.SideB, PositionID: b.ID, Stance: lb},
	}
}

func stanceOf(p common.PositionCluster, placeholder string) string {
	if p.Label != "" {
		return p.Label
	}
	return placeholder
}
