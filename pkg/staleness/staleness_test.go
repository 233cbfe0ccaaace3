package staleness

import (
	"context"
	"testing"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store/memory"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func newTracker(st *memory.Store, locker leaselock.Locker) *Tracker {
	tr := New(st, st, locker, Params{
		Interval:        7 * 24 * time.Hour,
		NeighborK:       10,
		SimilarityFloor: 0.65,
		LeaseTTL:        time.Minute,
	})
	tr.Now = func() time.Time { return now }
	return tr
}

func TestSelectEligible_PriorityOrder(t *testing.T) {
	st := memory.New()
	st.AddClaim(common.Claim{ID: 1, LastClassifiedAt: ago(10 * 24 * time.Hour)})
	st.AddClaim(common.Claim{ID: 2, LastClassifiedAt: ago(time.Hour), NeedsReclassification: true})
	st.AddClaim(common.Claim{ID: 3})
	st.AddClaim(common.Claim{ID: 4, LastClassifiedAt: ago(time.Hour)})
	st.AddClaim(common.Claim{ID: 5, LastClassifiedAt: ago(20 * 24 * time.Hour)})

	got, err := newTracker(st, nil).SelectEligible(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := []Eligible{
		{3, StateNeverClassified},
		{2, StateFlagged},
		{5, StateStale},
		{1, StateStale},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v at %d, got %v", want[i], i, got[i])
		}
	}
}

func TestSelectEligible_BoundedByLimit(t *testing.T) {
	st := memory.New()
	for id := int64(1); id <= 5; id++ {
		st.AddClaim(common.Claim{ID: id})
	}
	got, _ := newTracker(st, nil).SelectEligible(context.Background(), 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 claims, got %d", len(got))
	}
}

func TestRevalidate_ResetsUnchangedNeighbourhood(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.AddClaim(common.Claim{ID: 1, Embedding: []float32{1, 0}, LastClassifiedAt: ago(8 * 24 * time.Hour)})
	st.AddClaim(common.Claim{ID: 2, Embedding: []float32{0.9, 0.1}, LastClassifiedAt: ago(time.Hour)})
	if err := st.UpsertRelationships(ctx, []common.RelationshipEdge{
		{ClaimA: 1, ClaimB: 2, Relationship: common.RelationshipSupports},
	}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	res := newTracker(st, nil).Revalidate(ctx, common.BatchOptions{Limit: 10})
	if res.Err() != nil {
		t.Fatalf("expected nil error, got %v", res.Err())
	}
	c, _ := st.Claim(1)
	if c.NeedsReclassification {
		t.Fatal("expected claim not to be flagged")
	}
	if c.LastClassifiedAt == nil || !c.LastClassifiedAt.Equal(now) {
		t.Fatalf("expected staleness clock reset to now, got %v", c.LastClassifiedAt)
	}
	if res.Effects["reset"] != 1 || res.Effects["flagged"] != 0 {
		t.Fatalf("unexpected effects %v", res.Effects)
	}
}

func TestRevalidate_FlagsNewNeighbour(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	old := ago(8 * 24 * time.Hour)
	st.AddClaim(common.Claim{ID: 1, Embedding: []float32{1, 0}, LastClassifiedAt: old})
	st.AddClaim(common.Claim{ID: 2, Embedding: []float32{0.9, 0.1}})

	res := newTracker(st, nil).Revalidate(ctx, common.BatchOptions{Limit: 10})
	if res.Err() != nil {
		t.Fatalf("expected nil error, got %v", res.Err())
	}
	c, _ := st.Claim(1)
	if !c.NeedsReclassification {
		t.Fatal("expected claim to be flagged dirty")
	}
	if !c.LastClassifiedAt.Equal(*old) {
		t.Fatalf("expected clock untouched, got %v", c.LastClassifiedAt)
	}
}

func TestRevalidate_DryRunWritesNothing(t *testing.T) {
	st := memory.New()
	old := ago(8 * 24 * time.Hour)
	st.AddClaim(common.Claim{ID: 1, Embedding: []float32{1, 0}, LastClassifiedAt: old})

	res := newTracker(st, nil).Revalidate(context.Background(), common.BatchOptions{Limit: 10, DryRun: true})
	if res.Effects["reset"] != 1 {
		t.Fatalf("expected one would-be reset, got %v", res.Effects)
	}
	c, _ := st.Claim(1)
	if !c.LastClassifiedAt.Equal(*old) {
		t.Fatalf("expected dry run to leave the clock alone, got %v", c.LastClassifiedAt)
	}
}

func TestRevalidate_SkipsLeasedClaims(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.AddClaim(common.Claim{ID: 1, Embedding: []float32{1, 0}, LastClassifiedAt: ago(8 * 24 * time.Hour)})
	st.AddClaim(common.Claim{ID: 2, Embedding: []float32{0, 1}, LastClassifiedAt: ago(9 * 24 * time.Hour)})

	locker := leaselock.NewMemory()
	if _, err := locker.AcquireBatch(ctx, []string{ClaimLeaseKey(2)}, leaselock.Options{TTL: time.Hour}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	res := newTracker(st, locker).Revalidate(ctx, common.BatchOptions{Limit: 10})
	if res.Skipped != 1 || res.Processed != 1 {
		t.Fatalf("expected 1 skipped and 1 processed, got %+v", res)
	}
}
