package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
)

type fakeClient struct {
	replies   []string
	errs      []error
	calls     int
	embedding []float32
}

func (f *fakeClient) next() (string, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	} else if len(f.replies) > 0 {
		reply = f.replies[len(f.replies)-1]
	}
	return reply, err
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error {
	reply, err := f.next()
	if err != nil {
		return err
	}
	return UnmarshalFlexible(reply, out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	_, err := f.next()
	return f.embedding, err
}

func (f *fakeClient) ResetMetrics()            {}
func (f *fakeClient) GetMetrics() ModelMetrics { return ModelMetrics{} }

func TestOracleClassify_ParsesRelationship(t *testing.T) {
	c := &fakeClient{replies: []string{`{"relationship":"Competing Framing"}`}}
	o := NewOracle(OracleParams{Client: c})

	rel, err := o.Classify(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rel != common.RelationshipCompetingFraming {
		t.Fatalf("expected competing_framing, got %s", rel)
	}
}

func TestOracleClassify_MalformedDefaultsToOrthogonal(t *testing.T) {
	cases := []string{`not json at all`, `{"relationship":"maybe"}`}
	for _, reply := range cases {
		o := NewOracle(OracleParams{Client: &fakeClient{replies: []string{reply}}})
		rel, err := o.Classify(context.Background(), "a", "b")
		if err != nil {
			t.Fatalf("expected nil error for %q, got %v", reply, err)
		}
		if rel != common.RelationshipOrthogonal {
			t.Fatalf("expected orthogonal for %q, got %s", reply, rel)
		}
	}
}

func TestOracleClassify_TransportErrorDefaultsToOrthogonal(t *testing.T) {
	boom := errors.New("503")
	c := &fakeClient{errs: []error{boom, boom, boom}}
	o := NewOracle(OracleParams{Client: c, Retries: 3})

	rel, err := o.Classify(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rel != common.RelationshipOrthogonal {
		t.Fatalf("expected orthogonal, got %s", rel)
	}
	if c.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", c.calls)
	}
}

func TestOracleClassify_CanceledContextIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeClient{replies: []string{`{"relationship":"supports"}`}}
	o := NewOracle(OracleParams{Client: c})

	if _, err := o.Classify(ctx, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.calls != 0 {
		t.Fatalf("expected no attempts, got %d", c.calls)
	}
}

func TestOracleClassify_RetriesTransientError(t *testing.T) {
	c := &fakeClient{
		errs:    []error{errors.New("timeout")},
		replies: []string{"", `{"relationship":"supports"}`},
	}
	o := NewOracle(OracleParams{Client: c, Retries: 2})

	rel, err := o.Classify(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rel != common.RelationshipSupports {
		t.Fatalf("expected supports, got %s", rel)
	}
}

func TestOracleLabel_EmptyLabelIsMalformed(t *testing.T) {
	o := NewOracle(OracleParams{Client: &fakeClient{replies: []string{`{"label":"  ","summary":"x"}`}}})
	_, err := o.Label(context.Background(), []string{"claim"})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestOracleQuestion(t *testing.T) {
	c := &fakeClient{replies: []string{`{"question":"Do tariffs help?","stance_a":"Costs","stance_b":"Jobs"}`}}
	o := NewOracle(OracleParams{Client: c})
	res, err := o.Question(context.Background(),
		PositionBrief{Label: "Costs", Claims: []string{"tariffs raise prices"}},
		PositionBrief{Label: "Jobs", Claims: []string{"tariffs protect jobs"}},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Question != "Do tariffs help?" || res.StanceA != "Costs" || res.StanceB != "Jobs" {
		t.Fatalf("unexpected question result %+v", res)
	}
}

func TestOracleEmbed(t *testing.T) {
	c := &fakeClient{embedding: []float32{1, 2}}
	o := NewOracle(OracleParams{Client: c})
	v, err := o.Embed(context.Background(), "label")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(v) != 2 {
		t.Fatalf("expected 2 dims, got %d", len(v))
	}
}
