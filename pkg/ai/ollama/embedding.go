package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding embeds input with the configured model. The vector is
// cut to the column width; a shorter vector is rejected since it cannot be
// compared with stored claims. Blank input yields a zero vector.
func (c *OllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if strings.TrimSpace(string(input)) == "" {
		return make([]float32, c.embeddingDim), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	})
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embedding from model %s", ai.ErrMalformedOutput, c.embeddingModel)
	}
	vec := res.Embeddings[0]
	if len(vec) < c.embeddingDim {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", ai.ErrMalformedOutput, len(vec), c.embeddingDim)
	}
	out := make([]float32, c.embeddingDim)
	copy(out, vec)
	return out, nil
}
