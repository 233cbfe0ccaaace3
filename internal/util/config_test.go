package util

import (
	"errors"
	"strings"
	"testing"
)

func TestRequireEnv_NamesEveryMissingKey(t *testing.T) {
	t.Setenv("STANCEMAP_SET", "x")
	t.Setenv("STANCEMAP_BLANK", "  ")

	err := RequireEnv("STANCEMAP_SET", "STANCEMAP_BLANK", "STANCEMAP_UNSET_KEY")
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "STANCEMAP_BLANK") || !strings.Contains(err.Error(), "STANCEMAP_UNSET_KEY") {
		t.Fatalf("expected both missing keys in error, got %v", err)
	}
	if strings.Contains(err.Error(), "STANCEMAP_SET,") {
		t.Fatalf("expected set key to be omitted, got %v", err)
	}
}

func TestRequireEnv_AllPresent(t *testing.T) {
	t.Setenv("STANCEMAP_SET", "x")
	if err := RequireEnv("STANCEMAP_SET"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRequiredAIEnv(t *testing.T) {
	t.Setenv("AI_ADAPTER", "ollama")
	if got := RequiredAIEnv(); len(got) != 1 || got[0] != "AI_CHAT_URL" {
		t.Fatalf("expected [AI_CHAT_URL] for ollama, got %v", got)
	}
	t.Setenv("AI_ADAPTER", "openai")
	if got := RequiredAIEnv(); len(got) != 1 || got[0] != "AI_CHAT_KEY" {
		t.Fatalf("expected [AI_CHAT_KEY] for openai, got %v", got)
	}
}
