package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeObjects struct {
	puts map[string][]byte
	err  error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestGraphKey(t *testing.T) {
	if got := GraphKey("vp-1"); got != "graphs/vp-1.json" {
		t.Fatalf("expected graphs/vp-1.json, got %q", got)
	}
}

func TestPutGraphUploadsJSON(t *testing.T) {
	objects := &fakeObjects{}
	sink := NewGraphSink(objects, "stancemap")
	graph := common.ViewpointGraph{
		ViewpointID: "vp-1",
		Nodes:       []common.GraphNode{{ID: "vp:vp-1", Kind: "viewpoint", Label: "Costs"}},
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := sink.PutGraph(context.Background(), graph); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, ok := objects.puts["stancemap/graphs/vp-1.json"]
	if !ok {
		t.Fatalf("expected object graphs/vp-1.json, got %v", objects.puts)
	}
	var got common.ViewpointGraph
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ViewpointID != "vp-1" || len(got.Nodes) != 1 {
		t.Fatalf("expected uploaded graph of vp-1, got %+v", got)
	}
}

func TestPutGraphWrapsError(t *testing.T) {
	boom := errors.New("boom")
	sink := NewGraphSink(&fakeObjects{err: boom}, "b")
	err := sink.PutGraph(context.Background(), common.ViewpointGraph{ViewpointID: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewGraphSinkFromEnvDisabledWithoutBucket(t *testing.T) {
	t.Setenv("AWS_BUCKET", "")
	sink, err := NewGraphSinkFromEnv(context.Background())
	if err != nil || sink != nil {
		t.Fatalf("expected nil sink, got %v %v", sink, err)
	}
}

func TestDownloadLinkNeedsRealClient(t *testing.T) {
	sink := NewGraphSink(&fakeObjects{}, "b")
	if _, err := sink.DownloadLink(context.Background(), "vp-1"); err == nil {
		t.Fatalf("expected error without an S3 client")
	}
}
