package staleness

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/relcache"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"
)

// State is the eligibility state of a claim.
type State string

const (
	StateNeverClassified State = "never_classified"
	StateFlagged         State = "flagged"
	StateStale           State = "stale"
)

// Eligible is a claim due for classification.
type Eligible struct {
	ClaimID int64
	State   State
}

// Params configures a Tracker.
type Params struct {
	Interval        time.Duration
	NeighborK       int
	SimilarityFloor float64
	LeaseTTL        time.Duration
}

// Tracker decides which claims are due for (re-)classification and moves
// their staleness clock.
type Tracker struct {
	claims store.ClaimStore
	edges  store.EdgeStore
	locker leaselock.Locker
	params Params

	Now func() time.Time
}

// New builds a Tracker. locker may be nil, in which case claims are not
// leased.
func New(claims store.ClaimStore, edges store.EdgeStore, locker leaselock.Locker, params Params) *Tracker {
	return &Tracker{
		claims: claims,
		edges:  edges,
		locker: locker,
		params: params,
		Now:    time.Now,
	}
}

// Cutoff is the classification time before which a claim is stale.
func (t *Tracker) Cutoff() time.Time {
	return t.Now().Add(-t.params.Interval)
}

// SelectEligible returns up to limit claims: never-classified first, then
// flagged, then stale oldest first.
func (t *Tracker) SelectEligible(ctx context.Context, limit int) ([]Eligible, error) {
	if limit <= 0 {
		return nil, nil
	}
	out := make([]Eligible, 0, limit)

	never, err := t.claims.ListNeverClassified(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list never classified claims: %w", err)
	}
	out = appendState(out, never, StateNeverClassified)

	if remaining := limit - len(out); remaining > 0 {
		flagged, err := t.claims.ListFlagged(ctx, remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to list flagged claims: %w", err)
		}
		out = appendState(out, flagged, StateFlagged)
	}

	if remaining := limit - len(out); remaining > 0 {
		stale, err := t.claims.ListStale(ctx, t.Cutoff(), remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to list stale claims: %w", err)
		}
		out = appendState(out, stale, StateStale)
	}

	return out, nil
}

func appendState(out []Eligible, ids []int64, state State) []Eligible {
	for _, id := range ids {
		out = append(out, Eligible{ClaimID: id, State: state})
	}
	return out
}

// MarkClassified advances the staleness clock of fully resolved claims.
func (t *Tracker) MarkClassified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return t.claims.MarkClassified(ctx, ids, t.Now())
}

// Lease takes claim leases for ids. It returns the ids that are held and a
// release func. Without a locker every id is returned.
func (t *Tracker) Lease(ctx context.Context, ids []int64) ([]int64, func(), error) {
	if t.locker == nil || len(ids) == 0 {
		return ids, func() {}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ClaimLeaseKey(id)
	}
	lease, err := t.locker.AcquireBatch(ctx, keys, leaselock.Options{TTL: t.params.LeaseTTL, TokenPrefix: "claims-"})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lease claims: %w", err)
	}
	held := make([]int64, 0, len(lease.Keys))
	for i, id := range ids {
		if lease.Held(keys[i]) {
			held = append(held, id)
		}
	}
	release := func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("[Staleness] Failed to release claim leases", "err", err)
		}
	}
	return held, release, nil
}

// ClaimLeaseKey is the app_locks key of a claim.
func ClaimLeaseKey(id int64) string {
	return "claim:" + strconv.FormatInt(id, 10)
}

// Revalidate re-examines stale claims without calling the oracle. A claim
// whose current neighbours are all cached gets its clock reset to now;
// otherwise it is flagged for reclassification.
func (t *Tracker) Revalidate(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("revalidate", opts)
	defer res.Finish()

	ids, err := t.claims.ListStale(ctx, t.Cutoff(), opts.Limit)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list stale claims: %w", err))
		return res
	}
	if len(ids) == 0 {
		logger.Debug("[Staleness] No stale claims")
		return res
	}

	release := func() {}
	if !opts.DryRun {
		held, rel, err := t.Lease(ctx, ids)
		if err != nil {
			res.Fail("", err)
			return res
		}
		release = rel
		res.Skipped += len(ids) - len(held)
		ids = held
	}
	defer release()

	cache := relcache.New(t.edges, 0)
	reset := make([]int64, 0, len(ids))
	flagged := make([]int64, 0)
	for _, id := range ids {
		changed, err := t.hasUncachedNeighbors(ctx, cache, id)
		if err != nil {
			res.Fail(ClaimLeaseKey(id), err)
			break
		}
		if changed {
			flagged = append(flagged, id)
		} else {
			reset = append(reset, id)
		}
		res.Processed++
	}

	res.AddEffect("reset", len(reset))
	res.AddEffect("flagged", len(flagged))
	if opts.DryRun {
		return res
	}

	if err := t.MarkClassified(ctx, reset); err != nil {
		res.Fail("reset", fmt.Errorf("failed to reset staleness: %w", err))
		return res
	}
	if len(flagged) > 0 {
		if err := t.claims.FlagForReclassification(ctx, flagged); err != nil {
			res.Fail("flag", fmt.Errorf("failed to flag claims: %w", err))
			return res
		}
	}

	logger.Info("[Staleness] Revalidated stale claims", "reset", len(reset), "flagged", len(flagged))
	return res
}

func (t *Tracker) hasUncachedNeighbors(ctx context.Context, cache *relcache.Cache, id int64) (bool, error) {
	neighbors, err := t.claims.NearestNeighbors(ctx, id, t.params.NeighborK, t.params.SimilarityFloor)
	if err != nil {
		return false, fmt.Errorf("failed to look up neighbours of claim %d: %w", id, err)
	}
	keys := PairKeys(id, neighbors, t.params.SimilarityFloor)
	if len(keys) == 0 {
		return false, nil
	}
	hits, err := cache.LookupMany(ctx, keys)
	if err != nil {
		return false, err
	}
	return len(hits) < len(keys), nil
}

// PairKeys builds canonical keys for the neighbours at or above floor.
func PairKeys(id int64, neighbors []common.Neighbor, floor float64) []common.PairKey {
	keys := make([]common.PairKey, 0, len(neighbors))
	for _, n := range neighbors {
		if n.ClaimID == id || n.Similarity < floor {
			continue
		}
		keys = append(keys, common.NewPairKey(id, n.ClaimID))
	}
	return store.Dedupe(keys)
}
