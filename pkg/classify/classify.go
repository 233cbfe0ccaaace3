package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/relcache"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/staleness"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Params configures a Classifier.
type Params struct {
	NeighborK       int
	SimilarityFloor float64
	Concurrency     int
}

// Classifier resolves every near-neighbour pair of eligible claims into a
// cached relationship.
type Classifier struct {
	claims  store.ClaimStore
	edges   store.EdgeStore
	tracker *staleness.Tracker
	oracle  ai.Classifier
	params  Params

	Now func() time.Time
}

func New(
	claims store.ClaimStore,
	edges store.EdgeStore,
	tracker *staleness.Tracker,
	oracle ai.Classifier,
	params Params,
) *Classifier {
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	return &Classifier{
		claims:  claims,
		edges:   edges,
		tracker: tracker,
		oracle:  oracle,
		params:  params,
		Now:     time.Now,
	}
}

type pairJob struct {
	key        common.PairKey
	similarity float64
}

type pairResult struct {
	edge common.RelationshipEdge
	err  error
}

// Run classifies up to opts.Limit eligible claims and marks each one
// classified. A pair the oracle cannot resolve is cached as orthogonal. A
// store error or a done ctx aborts the batch.
func (c *Classifier) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("classify", opts)
	defer res.Finish()

	eligible, err := c.tracker.SelectEligible(ctx, opts.Limit)
	if err != nil {
		res.Fail("", err)
		return res
	}
	if len(eligible) == 0 {
		logger.Debug("[Classify] No eligible claims")
		return res
	}

	ids := make([]int64, len(eligible))
	for i, e := range eligible {
		ids[i] = e.ClaimID
	}

	release := func() {}
	if !opts.DryRun {
		held, rel, err := c.tracker.Lease(ctx, ids)
		if err != nil {
			res.Fail("", err)
			return res
		}
		release = rel
		res.Skipped += len(ids) - len(held)
		ids = held
	}
	defer release()

	logger.Info("[Classify] Starting batch", "claims", len(ids), "dry_run", opts.DryRun)

	cache := relcache.New(c.edges, 0)
	planned := map[common.PairKey]struct{}{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Fail(staleness.ClaimLeaseKey(id), err)
			break
		}
		if err := c.classifyClaim(ctx, cache, id, opts.DryRun, planned, res); err != nil {
			logger.Error("[Classify] Aborting batch", "claim_id", id, "err", err)
			res.Fail(staleness.ClaimLeaseKey(id), err)
			break
		}
		res.Processed++
	}

	logger.Info("[Classify] Finished batch",
		"processed", res.Processed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"oracle_calls", res.OracleCalls,
	)
	return res
}

// classifyClaim resolves every uncached pair of id and marks it classified.
// Errors are store errors or a done ctx.
func (c *Classifier) classifyClaim(
	ctx context.Context,
	cache *relcache.Cache,
	id int64,
	dryRun bool,
	planned map[common.PairKey]struct{},
	res *common.RunResult,
) error {
	neighbors, err := c.claims.NearestNeighbors(ctx, id, c.params.NeighborK, c.params.SimilarityFloor)
	if err != nil {
		return fmt.Errorf("failed to look up neighbours: %w", err)
	}
	keys := staleness.PairKeys(id, neighbors, c.params.SimilarityFloor)
	similarity := make(map[common.PairKey]float64, len(neighbors))
	for _, n := range neighbors {
		similarity[common.NewPairKey(id, n.ClaimID)] = n.Similarity
	}

	hits, err := cache.LookupMany(ctx, keys)
	if err != nil {
		return err
	}

	jobs := make([]pairJob, 0, len(keys))
	for _, k := range keys {
		if _, ok := hits[k]; ok {
			continue
		}
		if _, ok := planned[k]; ok {
			continue
		}
		jobs = append(jobs, pairJob{key: k, similarity: similarity[k]})
	}

	if dryRun {
		for _, j := range jobs {
			planned[j.key] = struct{}{}
		}
		res.AddEffect("pairs_to_classify", len(jobs))
		res.AddEffect("claims_marked", 1)
		return nil
	}

	if len(jobs) > 0 {
		texts, err := c.texts(ctx, id, jobs)
		if err != nil {
			return err
		}

		results := c.dispatch(ctx, jobs, texts)
		if err := ctx.Err(); err != nil {
			return err
		}
		res.OracleCalls += len(jobs)

		edges := make([]common.RelationshipEdge, len(results))
		defaulted := 0
		for i, r := range results {
			edges[i] = r.edge
			if r.err == nil {
				continue
			}
			defaulted++
			logger.Warn("[Classify] Oracle failed for pair, defaulting to orthogonal", "claim_id", id, "pair", jobs[i].key.String(), "err", r.err)
			edges[i] = common.RelationshipEdge{
				ClaimA:       jobs[i].key.A,
				ClaimB:       jobs[i].key.B,
				Relationship: common.RelationshipOrthogonal,
				Similarity:   jobs[i].similarity,
				ClassifiedAt: c.Now(),
			}
		}

		if err := cache.UpsertMany(ctx, edges); err != nil {
			return err
		}
		res.AddEffect("edges_written", len(edges))
		if defaulted > 0 {
			res.AddEffect("pairs_defaulted", defaulted)
		}
	}

	if err := c.tracker.MarkClassified(ctx, []int64{id}); err != nil {
		return fmt.Errorf("failed to mark claim classified: %w", err)
	}
	res.AddEffect("claims_marked", 1)
	return nil
}

func (c *Classifier) texts(ctx context.Context, id int64, jobs []pairJob) (map[int64]string, error) {
	ids := []int64{id}
	for _, j := range jobs {
		ids = append(ids, j.key.Other(id))
	}
	claims, err := c.claims.GetClaims(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load claim texts: %w", err)
	}
	out := make(map[int64]string, len(claims))
	for _, cl := range claims {
		out[cl.ID] = cl.Text
	}
	if _, ok := out[id]; !ok {
		return nil, fmt.Errorf("claim %d not found", id)
	}
	return out, nil
}

// dispatch runs the oracle over jobs with bounded parallelism. Per-pair
// failures are returned in the result slice, never through the group.
func (c *Classifier) dispatch(ctx context.Context, jobs []pairJob, texts map[int64]string) []pairResult {
	results := make([]pairResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.params.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			a, okA := texts[j.key.A]
			b, okB := texts[j.key.B]
			var r pairResult
			if !okA || !okB {
				r.err = fmt.Errorf("missing claim text for pair %s", j.key)
			} else {
				rel, err := c.oracle.Classify(gctx, a, b)
				if err != nil {
					r.err = err
				} else {
					r.edge = common.RelationshipEdge{
						ClaimA:       j.key.A,
						ClaimB:       j.key.B,
						Relationship: rel,
						Similarity:   j.similarity,
						ClassifiedAt: c.Now(),
					}
				}
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}
