package ai

import (
	"strings"
	"sync"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens counts o200k_base tokens. When the encoding cannot be loaded
// it falls back to a four-characters-per-token estimate.
func CountTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("o200k_base")
		if err != nil {
			logger.Warn("[AI] Token encoding unavailable, estimating", "err", err)
			return
		}
		enc = e
	})
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// TruncateTexts keeps texts in order until budget tokens are spent. The
// first text is always kept, cut down to the budget if needed.
func TruncateTexts(texts []string, budget int, count func(string) int) []string {
	if budget <= 0 || len(texts) == 0 {
		return texts
	}
	if count == nil {
		count = CountTokens
	}

	out := make([]string, 0, len(texts))
	used := 0
	for i, t := range texts {
		n := count(t)
		if used+n <= budget {
			out = append(out, t)
			used += n
			continue
		}
		if i == 0 {
			out = append(out, cutToBudget(t, budget, count))
		}
		break
	}
	return out
}

func cutToBudget(text string, budget int, count func(string) int) string {
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if count(strings.Join(words[:mid], " ")) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
