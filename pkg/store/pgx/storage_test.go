package pgx

import (
	"testing"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/pgvector/pgvector-go"
)

func TestLastPerKey_KeepsLastWrite(t *testing.T) {
	edges := []common.RelationshipEdge{
		{ClaimA: 1, ClaimB: 2, Relationship: common.RelationshipSupports},
		{ClaimA: 3, ClaimB: 4, Relationship: common.RelationshipOrthogonal},
		{ClaimA: 2, ClaimB: 1, Relationship: common.RelationshipContradicts},
	}

	got := lastPerKey(edges)
	if len(got) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(got))
	}
	if got[0].Relationship != common.RelationshipContradicts {
		t.Fatalf("expected last write to win, got %s", got[0].Relationship)
	}
	if got[1].Key() != common.NewPairKey(3, 4) {
		t.Fatalf("expected order kept, got %v", got[1].Key())
	}
}

func TestVectorArg_EmptyIsNull(t *testing.T) {
	if v := vectorArg(nil); v != nil {
		t.Fatalf("expected nil, got %v", v)
	}
	v, ok := vectorArg([]float32{1, 2}).(pgvector.Vector)
	if !ok || len(v.Slice()) != 2 {
		t.Fatalf("expected pgvector.Vector of 2, got %v", v)
	}
}

func TestVectorSlice_Nil(t *testing.T) {
	if got := vectorSlice(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	v := pgvector.NewVector([]float32{0.5})
	if got := vectorSlice(&v); len(got) != 1 || got[0] != 0.5 {
		t.Fatalf("expected [0.5], got %v", got)
	}
}

func TestLimitArg(t *testing.T) {
	if limitArg(0) != nil || limitArg(-1) != nil {
		t.Fatalf("expected nil for non-positive limits")
	}
	if limitArg(5) != 5 {
		t.Fatalf("expected 5, got %v", limitArg(5))
	}
}

func TestViewpointArgs_SanitizesText(t *testing.T) {
	v := common.Viewpoint{
		ID:       "vp_1",
		Side:     common.SideA,
		Title:    "Jobs\x00 first",
		Summary:  "Protect " + string([]byte{0xff}) + "workers",
		Question: " Do tariffs\x00 help? ",
	}
	args := viewpointArgs(v)
	if len(args) != 9 {
		t.Fatalf("expected 9 args, got %d", len(args))
	}
	if args[4] != "Jobs first" || args[5] != "Protect workers" || args[6] != "Do tariffs help?" {
		t.Fatalf("expected sanitized text columns, got %q %q %q", args[4], args[5], args[6])
	}
	if args[3] != "A" {
		t.Fatalf("expected side A, got %v", args[3])
	}
	if _, ok := args[8].(time.Time); !ok {
		t.Fatalf("expected updated_at last, got %T", args[8])
	}
}
