package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/vector"
)

// Store is an in-memory implementation of store.Storage. Nearest neighbours
// are found by brute-force cosine similarity. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	claims      map[int64]*common.Claim
	edges       map[common.PairKey]common.RelationshipEdge
	positions   map[string]*common.PositionCluster
	pairScores  []common.PositionPairScore
	controversy map[string]common.ControversyCluster
	labelCache  map[string]common.LabelCacheEntry
	viewpoints  map[string]common.Viewpoint
	graphs      map[string]common.ViewpointGraph
	runs        []common.RunResult

	// EdgeWrites counts UpsertRelationships rows, including overwrites.
	EdgeWrites int
	// FailWrites makes every write return this error when set.
	FailWrites error
}

var _ store.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		claims:      map[int64]*common.Claim{},
		edges:       map[common.PairKey]common.RelationshipEdge{},
		positions:   map[string]*common.PositionCluster{},
		controversy: map[string]common.ControversyCluster{},
		labelCache:  map[string]common.LabelCacheEntry{},
		viewpoints:  map[string]common.Viewpoint{},
		graphs:      map[string]common.ViewpointGraph{},
	}
}

// AddClaim inserts or replaces a claim.
func (s *Store) AddClaim(c common.Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	cp.Embedding = slices.Clone(c.Embedding)
	s.claims[c.ID] = &cp
}

// Claim returns a copy of the stored claim.
func (s *Store) Claim(id int64) (common.Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return common.Claim{}, false
	}
	return *c, true
}

// RemoveEdge drops the edge of the unordered pair (a, b), as removing one of
// its claims does in Postgres.
func (s *Store) RemoveEdge(a, b int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, common.NewPairKey(a, b))
}

// Edges returns every cached edge sorted by pair.
func (s *Store) Edges() []common.RelationshipEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.RelationshipEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// PairScores returns the last written pair scores.
func (s *Store) PairScores() []common.PositionPairScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pairScores)
}

// AllPositionClusters includes retired clusters.
func (s *Store) AllPositionClusters() []common.PositionCluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.PositionCluster, 0, len(s.positions))
	for _, c := range s.positions {
		out = append(out, clonePosition(*c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetRelationships(_ context.Context, keys []common.PairKey) (map[common.PairKey]common.RelationshipEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[common.PairKey]common.RelationshipEdge, len(keys))
	for _, k := range keys {
		k = common.NewPairKey(k.A, k.B)
		if e, ok := s.edges[k]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (s *Store) UpsertRelationships(_ context.Context, edges []common.RelationshipEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, e := range edges {
		k := e.Key()
		e.ClaimA, e.ClaimB = k.A, k.B
		s.edges[k] = e
		s.EdgeWrites++
	}
	return nil
}

func (s *Store) ListRelationships(_ context.Context, rels ...common.Relationship) ([]common.RelationshipEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.RelationshipEdge, 0)
	for _, e := range s.edges {
		if len(rels) == 0 || slices.Contains(rels, e.Relationship) {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *Store) GetClaims(_ context.Context, ids []int64) ([]common.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Claim, 0, len(ids))
	for _, id := range store.Dedupe(ids) {
		if c, ok := s.claims[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) NearestNeighbors(_ context.Context, claimID int64, k int, minSimilarity float64) ([]common.Neighbor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("claim %d not found", claimID)
	}
	out := make([]common.Neighbor, 0)
	for id, c := range s.claims {
		if id == claimID {
			continue
		}
		sim := vector.Cosine(src.Embedding, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		out = append(out, common.Neighbor{ClaimID: id, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ClaimID < out[j].ClaimID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) ListNeverClassified(_ context.Context, limit int) ([]int64, error) {
	return s.selectClaims(limit, func(c *common.Claim) bool {
		return c.LastClassifiedAt == nil
	}, byID), nil
}

func (s *Store) ListFlagged(_ context.Context, limit int) ([]int64, error) {
	return s.selectClaims(limit, func(c *common.Claim) bool {
		return c.LastClassifiedAt != nil && c.NeedsReclassification
	}, byClassifiedAt), nil
}

func (s *Store) ListStale(_ context.Context, before time.Time, limit int) ([]int64, error) {
	return s.selectClaims(limit, func(c *common.Claim) bool {
		return c.LastClassifiedAt != nil && !c.NeedsReclassification && c.LastClassifiedAt.Before(before)
	}, byClassifiedAt), nil
}

func (s *Store) MarkClassified(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, id := range ids {
		if c, ok := s.claims[id]; ok {
			t := at
			c.LastClassifiedAt = &t
			c.NeedsReclassification = false
		}
	}
	return nil
}

func (s *Store) FlagForReclassification(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, id := range ids {
		if c, ok := s.claims[id]; ok {
			c.NeedsReclassification = true
		}
	}
	return nil
}

func (s *Store) ListPositionClusters(_ context.Context) ([]common.PositionCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.PositionCluster, 0, len(s.positions))
	for _, c := range s.positions {
		if c.Status != common.StatusActive {
			continue
		}
		out = append(out, clonePosition(*c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplacePositionClusters(_ context.Context, clusters []common.PositionCluster, retiredBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	keep := make(map[string]struct{}, len(clusters))
	for _, c := range clusters {
		keep[c.ID] = struct{}{}
	}
	for id, c := range s.positions {
		if _, ok := keep[id]; ok {
			continue
		}
		if c.Status == common.StatusRetired {
			if c.RetiredAt != nil && c.RetiredAt.Before(retiredBefore) {
				delete(s.positions, id)
			}
			continue
		}
		now := time.Now()
		c.Status = common.StatusRetired
		c.RetiredAt = &now
		c.Members = nil
	}
	for _, c := range clusters {
		cp := clonePosition(c)
		cp.Status = common.StatusActive
		cp.RetiredAt = nil
		s.positions[c.ID] = &cp
	}
	return nil
}

func (s *Store) ListControversyClusters(_ context.Context) ([]common.ControversyCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.ControversyCluster, 0, len(s.controversy))
	for _, c := range s.controversy {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplacePositionPairScores(_ context.Context, scores []common.PositionPairScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.pairScores = slices.Clone(scores)
	return nil
}

func (s *Store) ReplaceControversyClusters(_ context.Context, clusters []common.ControversyCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.controversy = make(map[string]common.ControversyCluster, len(clusters))
	for _, c := range clusters {
		s.controversy[c.ID] = c
	}
	return nil
}

func (s *Store) GetLabelCacheEntries(_ context.Context, fingerprints []string) (map[string]common.LabelCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]common.LabelCacheEntry, len(fingerprints))
	for _, fp := range fingerprints {
		if e, ok := s.labelCache[fp]; ok {
			out[fp] = e
		}
	}
	return out, nil
}

func (s *Store) UpsertLabelCacheEntries(_ context.Context, entries []common.LabelCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, e := range entries {
		s.labelCache[e.Fingerprint] = e
	}
	return nil
}

func (s *Store) UpdateClusterLabels(_ context.Context, updates []store.LabelUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, u := range updates {
		c, ok := s.positions[u.ClusterID]
		if !ok {
			continue
		}
		c.Label = u.Label
		c.Summary = u.Summary
		c.LabelEmbedding = slices.Clone(u.Embedding)
		c.LabelSource = u.Source
		c.LabelFingerprint = u.LabelFingerprint
		c.LabeledAt = u.LabeledAt
		checked := u.CheckedAt
		c.LabelCheckedAt = &checked
		c.MembersSinceCheck = u.MembersSinceCheck
		c.Drift = u.Drift
	}
	return nil
}

func (s *Store) ListViewpoints(_ context.Context) ([]common.Viewpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Viewpoint, 0, len(s.viewpoints))
	for _, v := range s.viewpoints {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertViewpoints(_ context.Context, viewpoints []common.Viewpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, v := range viewpoints {
		s.viewpoints[v.ID] = v
	}
	return nil
}

func (s *Store) DeleteViewpointsExcept(_ context.Context, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return 0, s.FailWrites
	}
	deleted := 0
	for id := range s.viewpoints {
		if slices.Contains(keep, id) {
			continue
		}
		delete(s.viewpoints, id)
		delete(s.graphs, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) SaveViewpointGraph(_ context.Context, graph common.ViewpointGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.graphs[graph.ViewpointID] = graph
	return nil
}

func (s *Store) GetViewpointGraph(_ context.Context, viewpointID string) (*common.ViewpointGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[viewpointID]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *Store) ListGraphTimes(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.graphs))
	for id, g := range s.graphs {
		out[id] = g.GeneratedAt
	}
	return out, nil
}

func (s *Store) RecordRun(_ context.Context, result common.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, result)
	return nil
}

func (s *Store) LastRun(_ context.Context, step string) (*common.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Step == step {
			r := s.runs[i]
			return &r, nil
		}
	}
	return nil, nil
}

type claimOrder int

const (
	byID claimOrder = iota
	byClassifiedAt
)

func (s *Store) selectClaims(limit int, match func(*common.Claim) bool, order claimOrder) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]*common.Claim, 0)
	for _, c := range s.claims {
		if match(c) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if order == byClassifiedAt {
			ti, tj := matched[i].LastClassifiedAt, matched[j].LastClassifiedAt
			if !ti.Equal(*tj) {
				return ti.Before(*tj)
			}
		}
		return matched[i].ID < matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]int64, len(matched))
	for i, c := range matched {
		ids[i] = c.ID
	}
	return ids
}

func sortEdges(edges []common.RelationshipEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ClaimA != edges[j].ClaimA {
			return edges[i].ClaimA < edges[j].ClaimA
		}
		return edges[i].ClaimB < edges[j].ClaimB
	})
}

func clonePosition(c common.PositionCluster) common.PositionCluster {
	c.Members = slices.Clone(c.Members)
	c.LabelEmbedding = slices.Clone(c.LabelEmbedding)
	return c
}
