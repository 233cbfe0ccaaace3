package common

import (
	"errors"
	"testing"
)

func TestNewPairKey_Canonical(t *testing.T) {
	if NewPairKey(7, 3) != NewPairKey(3, 7) {
		t.Fatalf("expected order-independent keys, got %v and %v", NewPairKey(7, 3), NewPairKey(3, 7))
	}
	k := NewPairKey(7, 3)
	if k.A != 3 || k.B != 7 {
		t.Fatalf("expected (3, 7), got (%d, %d)", k.A, k.B)
	}
	if k.Other(3) != 7 || k.Other(7) != 3 {
		t.Fatalf("unexpected Other result for %v", k)
	}
}

func TestParseRelationship(t *testing.T) {
	tests := []struct {
		in   string
		want Relationship
		ok   bool
	}{
		{"supports", RelationshipSupports, true},
		{" Contradicts. ", RelationshipContradicts, true},
		{"competing-framing", RelationshipCompetingFraming, true},
		{"\"orthogonal\"", RelationshipOrthogonal, true},
		{"maybe", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRelationship(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseRelationship(%q): expected (%q, %v), got (%q, %v)", tt.in, tt.want, tt.ok, got, ok)
		}
	}
}

func TestMembershipFingerprint_OrderAndDuplicates(t *testing.T) {
	a := MembershipFingerprint([]int64{3, 1, 2})
	b := MembershipFingerprint([]int64{1, 2, 3, 2})
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s and %s", a, b)
	}
	if a == MembershipFingerprint([]int64{1, 2}) {
		t.Fatal("expected different member sets to differ")
	}
	if PositionClusterID(a) != PositionClusterID(b) || len(PositionClusterID(a)) != len("pos_")+16 {
		t.Fatalf("unexpected cluster id %q", PositionClusterID(a))
	}
}

func TestControversyClusterID_Unordered(t *testing.T) {
	x := ControversyClusterID(NewPositionPairKey("pos_b", "pos_a"))
	y := ControversyClusterID(NewPositionPairKey("pos_a", "pos_b"))
	if x != y {
		t.Fatalf("expected same id, got %s and %s", x, y)
	}
}

func TestPositionCluster_CoreFirstIDs(t *testing.T) {
	c := PositionCluster{Members: []ClusterMember{
		{ClaimID: 5, Role: RoleSupporting},
		{ClaimID: 1, Role: RoleCore},
		{ClaimID: 9, Role: RoleCore},
	}}
	got := c.CoreFirstIDs()
	want := []int64{1, 9, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestPositionCluster_NeedsLabel(t *testing.T) {
	if !(PositionCluster{}).NeedsLabel() {
		t.Fatal("expected unlabeled cluster to need a label")
	}
	if !(PositionCluster{Label: "x", LabelSource: LabelSourceFallback}).NeedsLabel() {
		t.Fatal("expected fallback label to need a label")
	}
	if (PositionCluster{Label: "x", LabelSource: LabelSourceCache}).NeedsLabel() {
		t.Fatal("expected cached label not to need a label")
	}
}

func TestRunResult_FailKeepsFirstError(t *testing.T) {
	r := NewRunResult("classify", BatchOptions{})
	first := errors.New("first")
	r.Fail("claim:1", first)
	r.Fail("claim:2", errors.New("second"))
	if r.FailedItem != "claim:1" || r.Error != "first" {
		t.Fatalf("expected first failure to stick, got %q %q", r.FailedItem, r.Error)
	}
	if !errors.Is(r.Err(), first) {
		t.Fatalf("expected Err to unwrap first, got %v", r.Err())
	}
	r.AddEffect("edges", 2)
	r.AddEffect("edges", 1)
	if r.Effects["edges"] != 3 {
		t.Fatalf("expected 3 edges, got %d", r.Effects["edges"])
	}
}
