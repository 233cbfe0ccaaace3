package vector

import (
	"math"
	"testing"
)

func TestCosine_Identical(t *testing.T) {
	got := Cosine([]float32{1, 2, 3}, []float32{1, 2, 3})
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1, got %f", got)
	}
}

func TestCosine_Orthogonal(t *testing.T) {
	got := Cosine([]float32{1, 0}, []float32{0, 1})
	if got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func TestCosine_MismatchedOrZero(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("expected 0 for mismatched dims, got %f", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected 0 for zero vector, got %f", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Fatalf("expected 0 for empty vectors, got %f", got)
	}
}

func TestMean_SkipsMismatched(t *testing.T) {
	got := Mean([][]float32{{1, 3}, nil, {3, 5}, {9}})
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("expected [2 4], got %v", got)
	}
}

func TestMean_Empty(t *testing.T) {
	if got := Mean(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
