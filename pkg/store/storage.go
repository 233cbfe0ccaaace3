package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
)

// EdgeStore persists the relationship cache. Keys are canonical pairs and
// at most one edge exists per pair.
type EdgeStore interface {
	GetRelationships(ctx context.Context, keys []common.PairKey) (map[common.PairKey]common.RelationshipEdge, error)
	UpsertRelationships(ctx context.Context, edges []common.RelationshipEdge) error
	ListRelationships(ctx context.Context, rels ...common.Relationship) ([]common.RelationshipEdge, error)
}

// ClaimStore reads claims and their nearest neighbours and advances the
// staleness clock.
type ClaimStore interface {
	GetClaims(ctx context.Context, ids []int64) ([]common.Claim, error)
	NearestNeighbors(ctx context.Context, claimID int64, k int, minSimilarity float64) ([]common.Neighbor, error)

	ListNeverClassified(ctx context.Context, limit int) ([]int64, error)
	ListFlagged(ctx context.Context, limit int) ([]int64, error)
	// ListStale returns claims classified before the cutoff and not flagged,
	// oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]int64, error)

	MarkClassified(ctx context.Context, ids []int64, at time.Time) error
	FlagForReclassification(ctx context.Context, ids []int64) error
}

// PositionStore persists position clusters. Replacement is wholesale.
type PositionStore interface {
	ListPositionClusters(ctx context.Context) ([]common.PositionCluster, error)
	ReplacePositionClusters(ctx context.Context, clusters []common.PositionCluster, retiredBefore time.Time) error
}

// ControversyStore persists pair scores and controversy clusters, both
// rebuilt wholesale on every pass.
type ControversyStore interface {
	ListControversyClusters(ctx context.Context) ([]common.ControversyCluster, error)
	ReplacePositionPairScores(ctx context.Context, scores []common.PositionPairScore) error
	ReplaceControversyClusters(ctx context.Context, clusters []common.ControversyCluster) error
}

// LabelUpdate carries the new label state of one position cluster.
type LabelUpdate struct {
	ClusterID         string
	Label             string
	Summary           string
	Embedding         []float32
	Source            common.LabelSource
	LabelFingerprint  string
	LabeledAt         *time.Time
	CheckedAt         time.Time
	MembersSinceCheck int
	Drift             float64
}

// LabelStore persists cluster labels and the fingerprint-keyed label cache.
type LabelStore interface {
	GetLabelCacheEntries(ctx context.Context, fingerprints []string) (map[string]common.LabelCacheEntry, error)
	UpsertLabelCacheEntries(ctx context.Context, entries []common.LabelCacheEntry) error
	UpdateClusterLabels(ctx context.Context, updates []LabelUpdate) error
}

// ViewpointStore persists viewpoints keyed by (controversy, position).
type ViewpointStore interface {
	ListViewpoints(ctx context.Context) ([]common.Viewpoint, error)
	UpsertViewpoints(ctx context.Context, viewpoints []common.Viewpoint) error
	DeleteViewpointsExcept(ctx context.Context, keep []string) (int, error)
}

// GraphStore persists exported viewpoint graphs.
type GraphStore interface {
	SaveViewpointGraph(ctx context.Context, graph common.ViewpointGraph) error
	GetViewpointGraph(ctx context.Context, viewpointID string) (*common.ViewpointGraph, error)
	// ListGraphTimes maps every viewpoint with a stored graph to the time
	// that graph was generated.
	ListGraphTimes(ctx context.Context) (map[string]time.Time, error)
}

// RunStore records batch invocations.
type RunStore interface {
	RecordRun(ctx context.Context, result common.RunResult) error
	LastRun(ctx context.Context, step string) (*common.RunResult, error)
}

// Storage is implemented by the Postgres store and the in-memory store.
type Storage interface {
	EdgeStore
	ClaimStore
	PositionStore
	ControversyStore
	LabelStore
	ViewpointStore
	GraphStore
	RunStore
}
