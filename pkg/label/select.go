package label

import (
	"sort"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/vector"
)

// Trigger says why a cluster is due for synthesis.
type Trigger string

const (
	TriggerNew   Trigger = "new"
	TriggerDrift Trigger = "drift"
)

// Candidate is a cluster selected for (re)labeling.
type Candidate struct {
	Cluster  common.PositionCluster
	Trigger  Trigger
	Drift    float64
	Centroid []float32
}

// Selection is the outcome of one drift sweep.
type Selection struct {
	Due []Candidate
	// Confirmed clusters were rechecked and their label still fits.
	Confirmed []Candidate
}

// Drift is 1 minus the cosine similarity of the label embedding and the
// member centroid. A missing label embedding counts as full drift.
func Drift(labelEmbedding, centroid []float32) float64 {
	if len(labelEmbedding) == 0 || len(centroid) == 0 {
		return 1
	}
	return 1 - vector.Cosine(labelEmbedding, centroid)
}

// Centroid averages the embeddings of the cluster members.
func Centroid(c common.PositionCluster, embeddings map[int64][]float32) []float32 {
	vecs := make([][]float32, 0, len(c.Members))
	for _, m := range c.Members {
		if v := embeddings[m.ClaimID]; len(v) > 0 {
			vecs = append(vecs, v)
		}
	}
	return vector.Mean(vecs)
}

// Select picks never-labeled clusters and labeled clusters that absorbed at
// least minNewMembers and drifted below the similarity threshold. Due
// clusters are ranked never-labeled first, then by drift, then by members
// absorbed.
func Select(
	clusters []common.PositionCluster,
	embeddings map[int64][]float32,
	threshold float64,
	minNewMembers int,
) Selection {
	var sel Selection
	for _, c := range clusters {
		if c.NeedsLabel() {
			sel.Due = append(sel.Due, Candidate{
				Cluster:  c,
				Trigger:  TriggerNew,
				Drift:    1,
				Centroid: Centroid(c, embeddings),
			})
			continue
		}
		if c.MembersSinceCheck < minNewMembers {
			continue
		}

		centroid := Centroid(c, embeddings)
		drift := Drift(c.LabelEmbedding, centroid)
		cand := Candidate{Cluster: c, Trigger: TriggerDrift, Drift: drift, Centroid: centroid}
		if 1-drift >= threshold {
			sel.Confirmed = append(sel.Confirmed, cand)
			continue
		}
		sel.Due = append(sel.Due, cand)
	}

	sort.SliceStable(sel.Due, func(i, j int) bool {
		a, b := sel.Due[i], sel.Due[j]
		if (a.Trigger == TriggerNew) != (b.Trigger == TriggerNew) {
			return a.Trigger == TriggerNew
		}
		if a.Drift != b.Drift {
			return a.Drift > b.Drift
		}
		if a.Cluster.MembersSinceCheck != b.Cluster.MembersSinceCheck {
			return a.Cluster.MembersSinceCheck > b.Cluster.MembersSinceCheck
		}
		return a.Cluster.ID < b.Cluster.ID
	})
	sort.Slice(sel.Confirmed, func(i, j int) bool { return sel.Confirmed[i].Cluster.ID < sel.Confirmed[j].Cluster.ID })
	return sel
}
