package export

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/vector"
)

const (
	KindViewpoint = "viewpoint"
	KindClaim     = "claim"

	EdgeMember     = "member"
	EdgeSimilarity = "similarity"
)

func claimNodeID(id int64) string {
	return fmt.Sprintf("claim:%d", id)
}

// BuildGraph derives the layout graph of one viewpoint: a root node, one
// node per member claim in rank order, member edges from the root, and
// similarity edges between members above threshold. maxNodes caps the
// total node count including the root.
func BuildGraph(
	vp common.Viewpoint,
	position common.PositionCluster,
	claims map[int64]common.Claim,
	threshold float64,
	maxNodes int,
	now time.Time,
) common.ViewpointGraph {
	root := "vp:" + vp.ID
	g := common.ViewpointGraph{
		ViewpointID: vp.ID,
		Nodes:       []common.GraphNode{{ID: root, Kind: KindViewpoint, Label: vp.Title}},
		Edges:       []common.GraphEdge{},
		GeneratedAt: now,
	}

	members := make([]common.ClusterMember, 0, len(position.Members))
	for _, m := range position.Members {
		if maxNodes > 0 && len(members) >= maxNodes-1 {
			break
		}
		if _, ok := claims[m.ClaimID]; ok {
			members = append(members, m)
		}
	}

	for _, m := range members {
		c := claims[m.ClaimID]
		g.Nodes = append(g.Nodes, common.GraphNode{
			ID:        claimNodeID(m.ClaimID),
			Kind:      KindClaim,
			Label:     c.Text,
			Role:      m.Role,
			Embedding: c.Embedding,
		})
		g.Edges = append(g.Edges, common.GraphEdge{
			Source: root,
			Target: claimNodeID(m.ClaimID),
			Kind:   EdgeMember,
			Weight: 1,
		})
	}

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := claims[members[i].ClaimID], claims[members[j].ClaimID]
			sim := vector.Cosine(a.Embedding, b.Embedding)
			if sim <= threshold {
				continue
			}
			g.Edges = append(g.Edges, common.GraphEdge{
				Source: claimNodeID(a.ID),
				Target: claimNodeID(b.ID),
				Kind:   EdgeSimilarity,
				Weight: sim,
			})
		}
	}
	return g
}
