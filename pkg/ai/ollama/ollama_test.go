package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
)

func TestGenerateCompletionWithFormat(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "test",
			"message":           map[string]any{"role": "assistant", "content": `{"relationship":"supports"}`},
			"done":              true,
			"prompt_eval_count": 5,
			"eval_count":        2,
		})
	}))
	defer srv.Close()

	c, err := NewOllamaClient(NewOllamaClientParams{
		ChatModel: "test",
		BaseURL:   srv.URL,
		ApiKey:    "secret",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	var out struct {
		Relationship string `json:"relationship"`
	}
	if err := c.GenerateCompletionWithFormat(context.Background(), "rel", "desc", "prompt", &out); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Relationship != "supports" {
		t.Fatalf("expected supports, got %q", out.Relationship)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if m := c.GetMetrics(); m.TotalTokens != 7 {
		t.Fatalf("expected 7 total tokens, got %d", m.TotalTokens)
	}
}

func TestGenerateCompletionWithFormat_RejectsNonPointer(t *testing.T) {
	c, _ := NewOllamaClient(NewOllamaClientParams{})
	var out ai.LabelResult
	if err := c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", out); err == nil {
		t.Fatal("expected error for non-pointer out, got nil")
	}
}

func embedServer(t *testing.T, embeddings [][]float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "embed",
			"embeddings":        embeddings,
			"prompt_eval_count": 3,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateEmbedding_CutsToColumnWidth(t *testing.T) {
	srv := embedServer(t, [][]float32{{0.1, 0.2, 0.3, 0.4}})
	c, _ := NewOllamaClient(NewOllamaClientParams{EmbeddingModel: "embed", EmbeddingDim: 3, BaseURL: srv.URL})

	v, err := c.GenerateEmbedding(context.Background(), []byte("Tariffs raise prices"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(v) != 3 || v[2] != 0.3 {
		t.Fatalf("expected first 3 dimensions, got %v", v)
	}
	if m := c.GetMetrics(); m.InputTokens != 3 {
		t.Fatalf("expected 3 input tokens, got %d", m.InputTokens)
	}
}

func TestGenerateEmbedding_ShortVectorIsMalformed(t *testing.T) {
	srv := embedServer(t, [][]float32{{0.1, 0.2}})
	c, _ := NewOllamaClient(NewOllamaClientParams{EmbeddingModel: "embed", EmbeddingDim: 3, BaseURL: srv.URL})

	if _, err := c.GenerateEmbedding(context.Background(), []byte("label")); !errors.Is(err, ai.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestGenerateEmbedding_BlankIsZeroVector(t *testing.T) {
	c, _ := NewOllamaClient(NewOllamaClientParams{EmbeddingDim: 4})
	v, err := c.GenerateEmbedding(context.Background(), []byte("  "))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(v) != 4 {
		t.Fatalf("expected 4 zeros, got %v", v)
	}
}
