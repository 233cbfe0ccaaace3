package util

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrMissingConfig = errors.New("missing required configuration")

// RequireEnv checks that every key is set to a non-empty value. The
// returned error names all missing keys at once.
func RequireEnv(keys ...string) error {
	missing := make([]string, 0)
	for _, k := range keys {
		if strings.TrimSpace(os.Getenv(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
}

// RequiredAIEnv lists the keys the configured oracle adapter needs.
func RequiredAIEnv() []string {
	if GetEnvString("AI_ADAPTER", "openai") == "ollama" {
		return []string{"AI_CHAT_URL"}
	}
	return []string{"AI_CHAT_KEY"}
}
