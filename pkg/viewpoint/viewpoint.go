package viewpoint

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
	// BriefSize caps the claims passed to the oracle per viewpoint.
	BriefSize   int
	Concurrency int
}

// Synthesizer writes one viewpoint per side of every controversy.
type Synthesizer struct {
	controversies store.ControversyStore
	positions     store.PositionStore
	claims        store.ClaimStore
	viewpoints    store.ViewpointStore
	writer        ai.ViewpointWriter
	params        Params

	Now func() time.Time
}

func New(
	controversies store.ControversyStore,
	positions store.PositionStore,
	claims store.ClaimStore,
	viewpoints store.ViewpointStore,
	writer ai.ViewpointWriter,
	params Params,
) *Synthesizer {
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	if params.BriefSize < 1 {
		params.BriefSize = 5
	}
	return &Synthesizer{
		controversies: controversies,
		positions:     positions,
		claims:        claims,
		viewpoints:    viewpoints,
		writer:        writer,
		params:        params,
		Now:           time.Now,
	}
}

type job struct {
	controversy common.ControversyCluster
	side        common.ControversySide
	position    common.PositionCluster
}

func (j job) id() string {
	return common.ViewpointID(j.controversy.ID, j.position.ID)
}

// Run regenerates viewpoints whose position membership or question changed
// and removes viewpoints of vanished controversies. opts.Limit bounds the
// number of generated viewpoints.
func (s *Synthesizer) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("viewpoints", opts)
	defer res.Finish()

	controversies, err := s.controversies.ListControversyClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list controversies: %w", err))
		return res
	}
	positions, err := s.positions.ListPositionClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list position clusters: %w", err))
		return res
	}
	byID := make(map[string]common.PositionCluster, len(positions))
	for _, p := range positions {
		byID[p.ID] = p
	}
	existing, err := s.viewpoints.ListViewpoints(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list viewpoints: %w", err))
		return res
	}
	current := make(map[string]common.Viewpoint, len(existing))
	for _, v := range existing {
		current[v.ID] = v
	}

	keep := make([]string, 0, len(controversies)*2)
	jobs := make([]job, 0)
	for _, cc := range controversies {
		for _, side := range cc.Sides {
			p, ok := byID[side.PositionID]
			if !ok {
				logger.Warn("[Viewpoint] Position missing for controversy side", "controversy_id", cc.ID, "position_id", side.PositionID)
				res.Skipped++
				continue
			}
			j := job{controversy: cc, side: side, position: p}
			keep = append(keep, j.id())
			if v, ok := current[j.id()]; ok && upToDate(v, cc, p) {
				res.AddEffect("viewpoints_unchanged", 1)
				continue
			}
			jobs = append(jobs, j)
		}
	}

	if opts.Limit > 0 && len(jobs) > opts.Limit {
		res.Skipped += len(jobs) - opts.Limit
		jobs = jobs[:opts.Limit]
	}

	stale := 0
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	for id := range current {
		if _, ok := kept[id]; !ok {
			stale++
		}
	}

	if opts.DryRun {
		res.Processed = len(jobs)
		res.AddEffect("viewpoints_to_generate", len(jobs))
		res.AddEffect("viewpoints_deleted", stale)
		logger.Info("[Viewpoint] Dry run", "generate", len(jobs), "delete", stale)
		return res
	}

	texts, err := s.texts(ctx, jobs)
	if err != nil {
		res.Fail("", err)
		return res
	}

	out, failed := s.generate(ctx, jobs, texts)
	res.OracleCalls += len(jobs)
	res.Failed += failed
	res.Processed += len(jobs) - failed

	if err := s.viewpoints.UpsertViewpoints(ctx, out); err != nil {
		res.Fail("viewpoints", fmt.Errorf("failed to upsert viewpoints: %w", err))
		return res
	}
	res.AddEffect("viewpoints_written", len(out))

	deleted, err := s.viewpoints.DeleteViewpointsExcept(ctx, keep)
	if err != nil {
		res.Fail("viewpoints", fmt.Errorf("failed to delete stale viewpoints: %w", err))
		return res
	}
	res.AddEffect("viewpoints_deleted", deleted)

	logger.Info("[Viewpoint] Finished batch",
		"written", len(out),
		"failed", failed,
		"deleted", deleted,
		"skipped", res.Skipped,
	)
	return res
}

func upToDate(v common.Viewpoint, cc common.ControversyCluster, p common.PositionCluster) bool {
	return v.Fingerprint != "" && v.Fingerprint == p.Fingerprint && v.Question == cc.Question
}

func (s *Synthesizer) representatives(p common.PositionCluster) []int64 {
	ids := p.CoreFirstIDs()
	if len(ids) > s.params.BriefSize {
		ids = ids[:s.params.BriefSize]
	}
	return ids
}

func (s *Synthesizer) texts(ctx context.Context, jobs []job) (map[int64]string, error) {
	ids := make([]int64, 0, len(jobs)*s.params.BriefSize)
	for _, j := range jobs {
		ids = append(ids, s.representatives(j.position)...)
	}
	ids = store.Dedupe(ids)
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	claims, err := s.claims.GetClaims(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load viewpoint claims: %w", err)
	}
	out := make(map[int64]string, len(claims))
	for _, c := range claims {
		out[c.ID] = c.Text
	}
	return out, nil
}

func (s *Synthesizer) generate(ctx context.Context, jobs []job, texts map[int64]string) ([]common.Viewpoint, int) {
	out := make([]common.Viewpoint, len(jobs))
	failed := make([]bool, len(jobs))
	now := s.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			in := ai.ViewpointInput{
				Question:      j.controversy.Question,
				Stance:        j.side.Stance,
				PositionLabel: j.position.Label,
			}
			for _, id := range s.representatives(j.position) {
				if t, ok := texts[id]; ok {
					in.Claims = append(in.Claims, t)
				}
			}

			v := common.Viewpoint{
				ID:            j.id(),
				ControversyID: j.controversy.ID,
				PositionID:    j.position.ID,
				Side:          j.side.Side,
				Question:      j.controversy.Question,
				Fingerprint:   j.position.Fingerprint,
				UpdatedAt:     now,
			}

			r, err := s.writer.Viewpoint(gctx, in)
			if err != nil {
				logger.Warn("[Viewpoint] Oracle failed, using fallback", "viewpoint_id", v.ID, "err", err)
				failed[i] = true
				v.Title, v.Summary = fallback(j)
				// regenerated on the next run
				v.Fingerprint = ""
			} else {
				v.Title, v.Summary = r.Title, r.Summary
			}
			out[i] = v
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return out, n
}

func fallback(j job) (string, string) {
	title := j.side.Stance
	if title == "" {
		title = j.position.Label
	}
	summary := j.position.Summary
	if summary == "" {
		summary = title
	}
	return title, summary
}
