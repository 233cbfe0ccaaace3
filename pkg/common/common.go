package common

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Relationship is the label the classification oracle assigns to an
// unordered pair of claims. The set is closed.
type Relationship string

const (
	RelationshipSupports         Relationship = "supports"
	RelationshipContradicts      Relationship = "contradicts"
	RelationshipCompetingFraming Relationship = "competing_framing"
	RelationshipOrthogonal       Relationship = "orthogonal"
)

// Relationships lists every valid relationship label.
var Relationships = []Relationship{
	RelationshipSupports,
	RelationshipContradicts,
	RelationshipCompetingFraming,
	RelationshipOrthogonal,
}

// ParseRelationship normalizes raw oracle output into a Relationship.
// The second return value is false for anything outside the closed set.
func ParseRelationship(raw string) (Relationship, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`.")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "supports", "support", "supporting":
		return RelationshipSupports, true
	case "contradicts", "contradict", "contradiction", "contradictory":
		return RelationshipContradicts, true
	case "competing_framing", "competing", "competing_framings":
		return RelationshipCompetingFraming, true
	case "orthogonal", "unrelated", "neutral":
		return RelationshipOrthogonal, true
	}
	return "", false
}

// IsConflict reports whether the relationship counts as controversy evidence.
func (r Relationship) IsConflict() bool {
	return r == RelationshipContradicts || r == RelationshipCompetingFraming
}

// Claim is an atomic factual or normative assertion. Text is immutable once
// created; only the staleness fields change.
type Claim struct {
	ID                    int64      `json:"id"`
	Text                  string     `json:"text"`
	Embedding             []float32  `json:"-"`
	LastClassifiedAt      *time.Time `json:"last_classified_at,omitempty"`
	NeedsReclassification bool       `json:"needs_reclassification"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Neighbor is a claim returned by a nearest-neighbour lookup.
type Neighbor struct {
	ClaimID    int64   `json:"claim_id"`
	Similarity float64 `json:"similarity"`
}

// PairKey identifies an unordered claim pair. A is always the smaller id.
type PairKey struct {
	A int64
	B int64
}

// NewPairKey canonicalizes (a, b) so insertion order is irrelevant.
func NewPairKey(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Other returns the partner of id in the pair.
func (p PairKey) Other(id int64) int64 {
	if p.A == id {
		return p.B
	}
	return p.A
}

func (p PairKey) String() string {
	return strconv.FormatInt(p.A, 10) + "~" + strconv.FormatInt(p.B, 10)
}

// RelationshipEdge is the cached classification of one unordered pair.
type RelationshipEdge struct {
	ClaimA       int64        `json:"claim_a"`
	ClaimB       int64        `json:"claim_b"`
	Relationship Relationship `json:"relationship"`
	Similarity   float64      `json:"similarity"`
	ClassifiedAt time.Time    `json:"classified_at"`
}

// Key returns the canonical pair key of the edge.
func (e RelationshipEdge) Key() PairKey {
	return NewPairKey(e.ClaimA, e.ClaimB)
}

// ClusterRole tags how representative a member is of its position.
type ClusterRole string

const (
	RoleCore       ClusterRole = "core"
	RoleSupporting ClusterRole = "supporting"
)

// ClusterStatus is the lifecycle state of a position cluster.
type ClusterStatus string

const (
	StatusActive  ClusterStatus = "active"
	StatusRetired ClusterStatus = "retired"
)

// LabelSource records where a cluster's current label came from.
type LabelSource string

const (
	LabelSourceNone     LabelSource = ""
	LabelSourceOracle   LabelSource = "oracle"
	LabelSourceCache    LabelSource = "cache"
	LabelSourceFallback LabelSource = "fallback"
)

// ClusterMember is one claim of a position cluster, in centroid rank order.
type ClusterMember struct {
	ClaimID    int64       `json:"claim_id"`
	Role       ClusterRole `json:"role"`
	Rank       int         `json:"rank"`
	Similarity float64     `json:"similarity"`
}

// PositionCluster is a bounded group of mutually supporting claims.
type PositionCluster struct {
	ID          string          `json:"id"`
	Members     []ClusterMember `json:"members"`
	Status      ClusterStatus   `json:"status"`
	Fingerprint string          `json:"membership_fingerprint"`

	Label          string      `json:"label"`
	Summary        string      `json:"summary"`
	LabelEmbedding []float32   `json:"-"`
	LabelSource    LabelSource `json:"label_source"`
	// LabelFingerprint is the membership fingerprint the label was produced for.
	LabelFingerprint  string     `json:"label_fingerprint"`
	LabeledAt         *time.Time `json:"labeled_at,omitempty"`
	LabelCheckedAt    *time.Time `json:"label_checked_at,omitempty"`
	MembersSinceCheck int        `json:"members_since_check"`
	Drift             float64    `json:"drift"`

	CreatedAt time.Time  `json:"created_at"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// MemberIDs returns the member claim ids in rank order.
func (c PositionCluster) MemberIDs() []int64 {
	ids := make([]int64, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ClaimID
	}
	return ids
}

// CoreFirstIDs returns core members before supporting ones, each in rank order.
func (c PositionCluster) CoreFirstIDs() []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Role == RoleCore {
			ids = append(ids, m.ClaimID)
		}
	}
	for _, m := range c.Members {
		if m.Role != RoleCore {
			ids = append(ids, m.ClaimID)
		}
	}
	return ids
}

// NeedsLabel reports whether the cluster has never received a usable label.
func (c PositionCluster) NeedsLabel() bool {
	return strings.TrimSpace(c.Label) == "" || c.LabelSource == LabelSourceFallback || c.LabelSource == LabelSourceNone
}

// MembershipFingerprint is a stable hash of the sorted member-id set.
func MembershipFingerprint(ids []int64) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var b strings.Builder
	for i, id := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PositionClusterID derives the deterministic cluster id from a fingerprint.
func PositionClusterID(fingerprint string) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return "pos_" + fingerprint
}

// PositionPairKey is an unordered pair of position cluster ids, A < B.
type PositionPairKey struct {
	A string
	B string
}

// NewPositionPairKey canonicalizes the pair.
func NewPositionPairKey(a, b string) PositionPairKey {
	if a > b {
		a, b = b, a
	}
	return PositionPairKey{A: a, B: b}
}

// ControversyClusterID derives the deterministic controversy id of a pair.
func ControversyClusterID(pair PositionPairKey) string {
	sum := sha256.Sum256([]byte(pair.A + "|" + pair.B))
	return "con_" + hex.EncodeToString(sum[:8])
}

// PositionPairScore aggregates cross-cluster edges between two positions.
type PositionPairScore struct {
	PositionA          string  `json:"position_a"`
	PositionB          string  `json:"position_b"`
	ContradictoryCount int     `json:"contradictory_count"`
	CompetingCount     int     `json:"competing_count"`
	SupportingCount    int     `json:"supporting_count"`
	ControversyScore   float64 `json:"controversy_score"`
}

// Key returns the canonical pair key.
func (s PositionPairScore) Key() PositionPairKey {
	return NewPositionPairKey(s.PositionA, s.PositionB)
}

// SideName identifies one side of a controversy.
type SideName string

const (
	SideA SideName = "A"
	SideB SideName = "B"
)

// ControversySide links a controversy to one of its two positions.
type ControversySide struct {
	Side        SideName `json:"side"`
	PositionID  string   `json:"position_id"`
	Stance      string   `json:"stance"`
	Fingerprint string   `json:"position_fingerprint"`
}

// ControversyCluster pairs two positions in factual or framing conflict.
type ControversyCluster struct {
	ID        string             `json:"id"`
	Question  string             `json:"question"`
	Score     float64            `json:"score"`
	Sides     [2]ControversySide `json:"sides"`
	CreatedAt time.Time          `json:"created_at"`
}

// Viewpoint is the narrative for one side of one controversy.
type Viewpoint struct {
	ID            string    `json:"id"`
	ControversyID string    `json:"controversy_id"`
	PositionID    string    `json:"position_id"`
	Side          SideName  `json:"side"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary"`
	Question      string    `json:"question"`
	Fingerprint   string    `json:"position_fingerprint"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ViewpointID derives the idempotent upsert key of a viewpoint.
func ViewpointID(controversyID, positionID string) string {
	sum := sha256.Sum256([]byte(controversyID + "|" + positionID))
	return "vp_" + hex.EncodeToString(sum[:8])
}

// LabelCacheEntry is a label previously generated for an exact member set.
type LabelCacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label"`
	Summary     string    `json:"summary"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// GraphNode is a node of an exported viewpoint graph.
type GraphNode struct {
	ID    string      `json:"id"`
	Kind  string      `json:"kind"`
	Label string      `json:"label"`
	Role  ClusterRole `json:"role,omitempty"`

	// Embedding is set on claim nodes for client-side layout.
	Embedding []float32 `json:"embedding,omitempty"`
}

// GraphEdge is a weighted edge of an exported viewpoint graph.
type GraphEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight"`
}

// ViewpointGraph is the visualization export of one viewpoint.
type ViewpointGraph struct {
	ViewpointID string      `json:"viewpoint_id"`
	Nodes       []GraphNode `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// BatchOptions are accepted by every batch entry point.
type BatchOptions struct {
	Limit  int  `json:"limit"`
	DryRun bool `json:"dry_run"`
}

// RunResult is the structured outcome of one batch invocation.
type RunResult struct {
	Step        string         `json:"step"`
	DryRun      bool           `json:"dry_run"`
	Processed   int            `json:"processed"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	OracleCalls int            `json:"oracle_calls"`
	Effects     map[string]int `json:"effects,omitempty"`
	FailedItem  string         `json:"failed_item,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMs  int64          `json:"duration_ms"`

	err error
}

// NewRunResult starts a result for the named step.
func NewRunResult(step string, opts BatchOptions) *RunResult {
	return &RunResult{
		Step:      step,
		DryRun:    opts.DryRun,
		Effects:   map[string]int{},
		StartedAt: time.Now(),
	}
}

// AddEffect counts a write that was (or in dry-run would have been) made.
func (r *RunResult) AddEffect(name string, n int) {
	if r.Effects == nil {
		r.Effects = map[string]int{}
	}
	r.Effects[name] += n
}

// Fail records the first fatal error and the item it happened on.
func (r *RunResult) Fail(item string, err error) {
	if err == nil || r.Error != "" {
		return
	}
	r.FailedItem = item
	r.Error = err.Error()
	r.err = err
}

// Err returns the first fatal error, or nil.
func (r *RunResult) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return nil
}

// Finish stamps the duration.
func (r *RunResult) Finish() *RunResult {
	r.DurationMs = time.Since(r.StartedAt).Milliseconds()
	return r
}
