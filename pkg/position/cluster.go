package position

import (
	"slices"
	"sort"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/vector"
)

// Params bounds cluster sizes and the core tagging.
type Params struct {
	MinSize   int
	MaxSize   int
	CoreCount int
}

// Candidate is a freshly computed cluster before lineage carry-over.
type Candidate struct {
	ID          string
	Fingerprint string
	Members     []common.ClusterMember
}

// MemberIDs returns member ids in rank order.
func (c Candidate) MemberIDs() []int64 {
	ids := make([]int64, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ClaimID
	}
	return ids
}

// Components groups claims that are transitively connected by supports
// edges. Each component is sorted ascending and components are ordered by
// their smallest id. Singletons never appear.
func Components(edges []common.RelationshipEdge) [][]int64 {
	parent := make(map[int64]int64)

	var find func(x int64) int64
	find = func(x int64) int64 {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}

	union := func(x, y int64) {
		px, py := find(x), find(y)
		if px == py {
			return
		}
		// smaller root wins so the result does not depend on edge order
		if px < py {
			parent[py] = px
		} else {
			parent[px] = py
		}
	}

	for _, e := range edges {
		if e.Relationship != common.RelationshipSupports || e.ClaimA == e.ClaimB {
			continue
		}
		union(e.ClaimA, e.ClaimB)
	}

	components := make(map[int64][]int64)
	for id := range parent {
		root := find(id)
		components[root] = append(components[root], id)
	}

	result := make([][]int64, 0, len(components))
	for _, group := range components {
		if len(group) > 1 {
			slices.Sort(group)
			result = append(result, group)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i][0] < result[j][0] })
	return result
}

type ranked struct {
	id  int64
	sim float64
}

// rankByCentroid orders ids by cosine similarity to their mean embedding,
// most similar first, ties broken by id.
func rankByCentroid(ids []int64, embeddings map[int64][]float32) []ranked {
	vecs := make([][]float32, 0, len(ids))
	for _, id := range ids {
		if v, ok := embeddings[id]; ok && len(v) > 0 {
			vecs = append(vecs, v)
		}
	}
	centroid := vector.Mean(vecs)

	out := make([]ranked, len(ids))
	for i, id := range ids {
		out[i] = ranked{id: id, sim: vector.Cosine(embeddings[id], centroid)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].sim != out[j].sim {
			return out[i].sim > out[j].sim
		}
		return out[i].id < out[j].id
	})
	return out
}

// Split applies iterative centroid extraction: the MaxSize members closest
// to the centroid of the remainder form one group, until fewer than
// MinSize remain. Components within bounds come back unchanged.
func Split(ids []int64, embeddings map[int64][]float32, p Params) [][]int64 {
	if len(ids) < p.MinSize {
		return nil
	}
	if len(ids) <= p.MaxSize {
		return [][]int64{slices.Clone(ids)}
	}

	remaining := slices.Clone(ids)
	out := make([][]int64, 0, len(ids)/p.MaxSize+1)
	for len(remaining) >= p.MinSize {
		order := rankByCentroid(remaining, embeddings)
		take := min(p.MaxSize, len(order))

		group := make([]int64, take)
		taken := make(map[int64]struct{}, take)
		for i := 0; i < take; i++ {
			group[i] = order[i].id
			taken[order[i].id] = struct{}{}
		}
		out = append(out, group)

		rest := remaining[:0:0]
		for _, id := range remaining {
			if _, ok := taken[id]; !ok {
				rest = append(rest, id)
			}
		}
		remaining = rest
	}
	return out
}

// Build turns supports edges into bounded, centroid-ranked candidates.
func Build(edges []common.RelationshipEdge, embeddings map[int64][]float32, p Params) []Candidate {
	out := make([]Candidate, 0)
	for _, comp := range Components(edges) {
		for _, group := range Split(comp, embeddings, p) {
			out = append(out, newCandidate(group, embeddings, p.CoreCount))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func newCandidate(ids []int64, embeddings map[int64][]float32, coreCount int) Candidate {
	order := rankByCentroid(ids, embeddings)
	core := min(coreCount, len(order))

	members := make([]common.ClusterMember, len(order))
	for i, r := range order {
		role := common.RoleSupporting
		if i < core {
			role = common.RoleCore
		}
		members[i] = common.ClusterMember{
			ClaimID:    r.id,
			Role:       role,
			Rank:       i,
			Similarity: r.sim,
		}
	}

	fp := common.MembershipFingerprint(ids)
	return Candidate{
		ID:          common.PositionClusterID(fp),
		Fingerprint: fp,
		Members:     members,
	}
}
