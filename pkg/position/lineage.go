package position

import (
	"slices"
	"sort"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
)

type overlap struct {
	next  int
	prev  int
	count int
}

// CarryOver matches each candidate to at most one previous cluster by
// largest member overlap, greedily. A matched candidate inherits the label
// state and adds its newly absorbed members to MembersSinceCheck.
func CarryOver(prev []common.PositionCluster, next []Candidate, now time.Time) []common.PositionCluster {
	owner := make(map[int64]int, 0)
	for i, p := range prev {
		for _, m := range p.Members {
			owner[m.ClaimID] = i
		}
	}

	counts := make(map[[2]int]int)
	for i, c := range next {
		for _, m := range c.Members {
			if p, ok := owner[m.ClaimID]; ok {
				counts[[2]int{i, p}]++
			}
		}
	}
	pairs := make([]overlap, 0, len(counts))
	for k, n := range counts {
		pairs = append(pairs, overlap{next: k[0], prev: k[1], count: n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		if next[pairs[i].next].ID != next[pairs[j].next].ID {
			return next[pairs[i].next].ID < next[pairs[j].next].ID
		}
		return prev[pairs[i].prev].ID < prev[pairs[j].prev].ID
	})

	match := make(map[int]int, len(pairs))
	usedPrev := make(map[int]struct{}, len(pairs))
	for _, p := range pairs {
		if _, ok := match[p.next]; ok {
			continue
		}
		if _, ok := usedPrev[p.prev]; ok {
			continue
		}
		match[p.next] = p.prev
		usedPrev[p.prev] = struct{}{}
	}

	out := make([]common.PositionCluster, len(next))
	for i, c := range next {
		cluster := common.PositionCluster{
			ID:          c.ID,
			Members:     slices.Clone(c.Members),
			Status:      common.StatusActive,
			Fingerprint: c.Fingerprint,
			CreatedAt:   now,
		}
		if p, ok := match[i]; ok {
			inherit(&cluster, prev[p])
		}
		out[i] = cluster
	}
	return out
}

func inherit(c *common.PositionCluster, p common.PositionCluster) {
	before := make(map[int64]struct{}, len(p.Members))
	for _, m := range p.Members {
		before[m.ClaimID] = struct{}{}
	}
	absorbed := 0
	for _, m := range c.Members {
		if _, ok := before[m.ClaimID]; !ok {
			absorbed++
		}
	}

	if c.ID == p.ID {
		c.CreatedAt = p.CreatedAt
	}
	c.Label = p.Label
	c.Summary = p.Summary
	c.LabelEmbedding = slices.Clone(p.LabelEmbedding)
	c.LabelSource = p.LabelSource
	c.LabelFingerprint = p.LabelFingerprint
	c.LabeledAt = p.LabeledAt
	c.LabelCheckedAt = p.LabelCheckedAt
	c.MembersSinceCheck = p.MembersSinceCheck + absorbed
	c.Drift = p.Drift
}
