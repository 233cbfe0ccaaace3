package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
)

func newTestServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	srv := newTestServer(t, `{"label":"Tariffs raise prices","summary":"Costs go up."}`)
	c := NewOpenAIClient(NewOpenAIClientParams{
		ChatModel: "test",
		ChatURL:   srv.URL + "/",
		ChatKey:   "test-key",
	})

	var out ai.LabelResult
	if err := c.GenerateCompletionWithFormat(context.Background(), "position_label", "label", "prompt", &out); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Label != "Tariffs raise prices" {
		t.Fatalf("expected label, got %+v", out)
	}
	if got := c.GetMetrics().TotalTokens; got != 10 {
		t.Fatalf("expected 10 total tokens, got %d", got)
	}
}

func TestGenerateCompletionWithFormat_EmptyIsMalformed(t *testing.T) {
	srv := newTestServer(t, "")
	c := NewOpenAIClient(NewOpenAIClientParams{
		ChatModel: "test",
		ChatURL:   srv.URL + "/",
		ChatKey:   "test-key",
	})

	var out ai.LabelResult
	err := c.GenerateCompletionWithFormat(context.Background(), "position_label", "label", "prompt", &out)
	if !errors.Is(err, ai.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestGenerateCompletionWithFormat_NoChatClient(t *testing.T) {
	c := NewOpenAIClient(NewOpenAIClientParams{ChatModel: "test"})
	var out ai.LabelResult
	if err := c.GenerateCompletionWithFormat(context.Background(), "position_label", "label", "hi", &out); err == nil {
		t.Fatal("expected error without chat key, got nil")
	}
}

func TestNormalizeEmbeddingInputs_BlankInputsAreZeroVectors(t *testing.T) {
	idx, in, out := normalizeEmbeddingInputs([][]byte{[]byte("a"), []byte("  "), []byte("b")}, 4)
	if len(in) != 2 || in[0] != "a" || in[1] != "b" {
		t.Fatalf("expected two non-blank inputs, got %v", in)
	}
	if idx[0] != 0 || idx[1] != 2 {
		t.Fatalf("expected index map [0 2], got %v", idx)
	}
	if len(out[1]) != 4 {
		t.Fatalf("expected zero vector of dim 4, got %v", out[1])
	}
}
