package label

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store/memory"
)

type fakeLabeler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeLabeler) Label(_ context.Context, texts []string) (ai.LabelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ai.LabelResult{}, f.err
	}
	return ai.LabelResult{Label: "about " + texts[0], Summary: "summary"}, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.vec, f.err
}

func params() Params {
	return Params{DriftThreshold: 0.7, MinNewMembers: 3, Concurrency: 2}
}

func newCluster(ids ...int64) common.PositionCluster {
	m := make([]common.ClusterMember, len(ids))
	for i, id := range ids {
		role := common.RoleSupporting
		if i == 0 {
			role = common.RoleCore
		}
		m[i] = common.ClusterMember{ClaimID: id, Role: role, Rank: i}
	}
	fp := common.MembershipFingerprint(ids)
	return common.PositionCluster{ID: common.PositionClusterID(fp), Fingerprint: fp, Members: m, Status: common.StatusActive}
}

func labeled(c common.PositionCluster, emb []float32, since int) common.PositionCluster {
	at := time.Now().Add(-time.Hour)
	c.Label = "old label"
	c.Summary = "old summary"
	c.LabelEmbedding = emb
	c.LabelSource = common.LabelSourceOracle
	c.LabelFingerprint = "stale"
	c.LabeledAt = &at
	c.MembersSinceCheck = since
	return c
}

func seed(t *testing.T, clusters ...common.PositionCluster) (*memory.Store, context.Context) {
	t.Helper()
	st := memory.New()
	for id := int64(1); id <= 6; id++ {
		emb := []float32{1, 0}
		if id > 3 {
			emb = []float32{0, 1}
		}
		st.AddClaim(common.Claim{ID: id, Text: "claim " + string(rune('0'+id)), Embedding: emb})
	}
	ctx := context.Background()
	if err := st.ReplacePositionClusters(ctx, clusters, time.Time{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st, ctx
}

func byID(st *memory.Store, id string) common.PositionCluster {
	for _, c := range st.AllPositionClusters() {
		if c.ID == id {
			return c
		}
	}
	return common.PositionCluster{}
}

func TestSynthesizer_LabelsNewClusterAndCaches(t *testing.T) {
	c := newCluster(1, 2)
	st, ctx := seed(t, c)
	lb, em := &fakeLabeler{}, &fakeEmbedder{vec: []float32{1, 0}}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{})
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lb.calls != 1 || em.calls != 1 || res.OracleCalls != 2 {
		t.Fatalf("expected 1 label and 1 embed call, got %d, %d, %d", lb.calls, em.calls, res.OracleCalls)
	}

	got := byID(st, c.ID)
	if got.Label != "about claim 1" || got.LabelSource != common.LabelSourceOracle {
		t.Fatalf("unexpected label state: %+v", got)
	}
	if got.LabelFingerprint != c.Fingerprint {
		t.Fatalf("expected label fingerprint %s, got %s", c.Fingerprint, got.LabelFingerprint)
	}
	entries, _ := st.GetLabelCacheEntries(ctx, []string{c.Fingerprint})
	if entries[c.Fingerprint].Label != "about claim 1" {
		t.Fatalf("expected cache entry, got %+v", entries)
	}
}

func TestSynthesizer_IdenticalMembershipReusesCache(t *testing.T) {
	c := newCluster(1, 2)
	st, ctx := seed(t, c)
	_ = st.UpsertLabelCacheEntries(ctx, []common.LabelCacheEntry{{
		Fingerprint: c.Fingerprint,
		Label:       "cached label",
		Embedding:   []float32{1, 0},
	}})
	lb, em := &fakeLabeler{}, &fakeEmbedder{}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{})
	if lb.calls != 0 || em.calls != 0 {
		t.Fatalf("expected no oracle calls, got %d and %d", lb.calls, em.calls)
	}
	if res.Effects["labels_from_cache"] != 1 {
		t.Fatalf("unexpected effects: %v", res.Effects)
	}
	got := byID(st, c.ID)
	if got.Label != "cached label" || got.LabelSource != common.LabelSourceCache {
		t.Fatalf("unexpected label state: %+v", got)
	}
}

func TestSynthesizer_DriftTriggersRelabel(t *testing.T) {
	drifted := labeled(newCluster(4, 5, 6), []float32{1, 0}, 3)
	fitting := labeled(newCluster(1, 2, 3), []float32{1, 0}, 3)
	quiet := labeled(newCluster(1, 4), []float32{0, 0.1}, 1)
	st, ctx := seed(t, drifted, fitting, quiet)
	lb, em := &fakeLabeler{}, &fakeEmbedder{vec: []float32{0, 1}}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{})
	if lb.calls != 1 {
		t.Fatalf("expected only the drifted cluster relabeled, got %d calls", lb.calls)
	}
	if res.Effects["labels_confirmed"] != 1 {
		t.Fatalf("expected 1 confirmed label, got %v", res.Effects)
	}

	if got := byID(st, drifted.ID); got.Label != "about claim 4" || got.MembersSinceCheck != 0 {
		t.Fatalf("expected drifted cluster relabeled, got %+v", got)
	}
	got := byID(st, fitting.ID)
	if got.Label != "old label" || got.MembersSinceCheck != 0 || got.LabelCheckedAt == nil {
		t.Fatalf("expected fitting label confirmed, got %+v", got)
	}
	if got := byID(st, quiet.ID); got.MembersSinceCheck != 1 || got.LabelCheckedAt != nil {
		t.Fatalf("expected quiet cluster untouched, got %+v", got)
	}
}

func TestSynthesizer_NewClustersRankFirst(t *testing.T) {
	drifted := labeled(newCluster(4, 5, 6), []float32{1, 0}, 5)
	fresh := newCluster(1, 2)
	st, ctx := seed(t, drifted, fresh)
	lb, em := &fakeLabeler{}, &fakeEmbedder{vec: []float32{1, 0}}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{Limit: 1})
	if res.Skipped != 1 {
		t.Fatalf("expected 1 skipped cluster, got %d", res.Skipped)
	}
	if got := byID(st, fresh.ID); got.Label == "" {
		t.Fatalf("expected never-labeled cluster to be labeled first")
	}
	if got := byID(st, drifted.ID); got.Label != "old label" {
		t.Fatalf("expected drifted cluster deferred, got %q", got.Label)
	}
}

func TestSynthesizer_OracleFailure(t *testing.T) {
	drifted := labeled(newCluster(4, 5, 6), []float32{1, 0}, 4)
	fresh := newCluster(1, 2)
	st, ctx := seed(t, drifted, fresh)
	lb, em := &fakeLabeler{err: errors.New("timeout")}, &fakeEmbedder{}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{})
	if res.Err() != nil {
		t.Fatalf("oracle failure must not abort, got %v", res.Err())
	}
	if res.Failed != 2 {
		t.Fatalf("expected 2 failures, got %d", res.Failed)
	}

	got := byID(st, fresh.ID)
	if got.Label != PlaceholderLabel || got.LabelSource != common.LabelSourceFallback {
		t.Fatalf("expected placeholder label, got %+v", got)
	}
	if got := byID(st, drifted.ID); got.Label != "old label" || got.MembersSinceCheck != 4 {
		t.Fatalf("expected drifted label kept, got %+v", got)
	}
	if entries, _ := st.GetLabelCacheEntries(ctx, []string{fresh.Fingerprint}); len(entries) != 0 {
		t.Fatalf("expected no cache entry for placeholder")
	}
}

func TestSynthesizer_EmbeddingFailureSkipsCache(t *testing.T) {
	c := newCluster(1, 2)
	st, ctx := seed(t, c)
	lb, em := &fakeLabeler{}, &fakeEmbedder{err: errors.New("embed timeout")}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{})
	if res.Err() != nil {
		t.Fatalf("unexpected error: %v", res.Err())
	}
	if res.Processed != 1 || res.Effects["labels_uncached"] != 1 {
		t.Fatalf("expected 1 uncached label, got %+v", res)
	}
	got := byID(st, c.ID)
	if got.Label != "about claim 1" || len(got.LabelEmbedding) != 0 {
		t.Fatalf("expected label without embedding, got %+v", got)
	}
	if entries, _ := st.GetLabelCacheEntries(ctx, []string{c.Fingerprint}); len(entries) != 0 {
		t.Fatalf("expected no cache entry, got %+v", entries)
	}
}

func TestSynthesizer_DryRun(t *testing.T) {
	c := newCluster(1, 2)
	st, ctx := seed(t, c)
	lb, em := &fakeLabeler{}, &fakeEmbedder{}

	res := New(st, st, st, lb, em, params()).Run(ctx, common.BatchOptions{DryRun: true})
	if lb.calls != 0 || res.Effects["labels_to_generate"] != 1 {
		t.Fatalf("unexpected dry run: calls %d, effects %v", lb.calls, res.Effects)
	}
	if got := byID(st, c.ID); got.Label != "" {
		t.Fatalf("expected no label written, got %q", got.Label)
	}
}

func TestDrift_MissingEmbedding(t *testing.T) {
	if d := Drift(nil, []float32{1, 0}); d != 1 {
		t.Fatalf("expected drift 1, got %f", d)
	}
}
