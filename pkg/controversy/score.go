package controversy

import (
	"sort"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
)

// Score weighs direct contradictions fully and competing framings by alpha.
func Score(contradictory, competing int, alpha float64) float64 {
	return float64(contradictory) + alpha*float64(competing)
}

// Owners maps each member claim to its position cluster id.
func Owners(clusters []common.PositionCluster) map[int64]string {
	owner := make(map[int64]string)
	for _, c := range clusters {
		for _, m := range c.Members {
			owner[m.ClaimID] = c.ID
		}
	}
	return owner
}

// Aggregate counts cross-cluster edges per unordered position pair. Edges
// inside one cluster or touching an unclustered claim are ignored. Pairs
// are returned sorted by key.
func Aggregate(edges []common.RelationshipEdge, owner map[int64]string, alpha float64) []common.PositionPairScore {
	acc := make(map[common.PositionPairKey]*common.PositionPairScore)
	for _, e := range edges {
		pa, okA := owner[e.ClaimA]
		pb, okB := owner[e.ClaimB]
		if !okA || !okB || pa == pb {
			continue
		}

		key := common.NewPositionPairKey(pa, pb)
		s, ok := acc[key]
		if !ok {
			s = &common.PositionPairScore{PositionA: key.A, PositionB: key.B}
			acc[key] = s
		}
		switch e.Relationship {
		case common.RelationshipContradicts:
			s.ContradictoryCount++
		case common.RelationshipCompetingFraming:
			s.CompetingCount++
		case common.RelationshipSupports:
			s.SupportingCount++
		}
	}

	out := make([]common.PositionPairScore, 0, len(acc))
	for _, s := range acc {
		s.ControversyScore = Score(s.ContradictoryCount, s.CompetingCount, alpha)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PositionA != out[j].PositionA {
			return out[i].PositionA < out[j].PositionA
		}
		return out[i].PositionB < out[j].PositionB
	})
	return out
}

// Qualifying returns the pairs with conflict evidence scoring at least
// minScore, highest score first.
func Qualifying(scores []common.PositionPairScore, minScore float64) []common.PositionPairScore {
	out := make([]common.PositionPairScore, 0)
	for _, s := range scores {
		if s.ContradictoryCount+s.CompetingCount == 0 {
			continue
		}
		if s.ControversyScore >= minScore {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ControversyScore > out[j].ControversyScore })
	return out
}
