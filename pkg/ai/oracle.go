package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"

	"golang.org/x/time/rate"
)

// Oracle adapts a model Client to the capability interfaces. Every request
// waits on a shared rate limiter and transient failures are retried.
type Oracle struct {
	client      Client
	limiter     *rate.Limiter
	retries     int
	tokenBudget int
	opts        []GenerateOption
}

var (
	_ Classifier      = (*Oracle)(nil)
	_ Labeler         = (*Oracle)(nil)
	_ Embedder        = (*Oracle)(nil)
	_ QuestionWriter  = (*Oracle)(nil)
	_ ViewpointWriter = (*Oracle)(nil)
)

// OracleParams configures NewOracle. RequestsPerSecond <= 0 disables rate
// limiting; Burst defaults to 1.
type OracleParams struct {
	Client            Client
	RequestsPerSecond float64
	Burst             int
	Retries           int
	TokenBudget       int
	Options           []GenerateOption
}

func NewOracle(params OracleParams) *Oracle {
	limit := rate.Inf
	if params.RequestsPerSecond > 0 {
		limit = rate.Limit(params.RequestsPerSecond)
	}
	burst := max(params.Burst, 1)
	return &Oracle{
		client:      params.Client,
		limiter:     rate.NewLimiter(limit, burst),
		retries:     max(params.Retries, 1),
		tokenBudget: params.TokenBudget,
		opts:        params.Options,
	}
}

type classifyResponse struct {
	Relationship string `json:"relationship" jsonschema:"enum=supports,enum=contradicts,enum=competing_framing,enum=orthogonal" jsonschema_description:"The relationship between the two claims."`
}

// Classify returns the relationship between a and b. Malformed output and
// transport errors that outlast the retries are recovered as orthogonal.
// Only a done ctx is returned as an error.
func (o *Oracle) Classify(ctx context.Context, a, b string) (common.Relationship, error) {
	prompt := fmt.Sprintf(ClassifyPrompt, a, b)
	var res classifyResponse
	err := o.generate(ctx, "claim_relationship", "Classify the relationship between two claims.", prompt, &res)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrMalformedOutput) {
			logger.Warn("[AI] Malformed classification, defaulting to orthogonal", "err", err)
		} else {
			logger.Warn("[AI] Classification failed, defaulting to orthogonal", "retries", o.retries, "err", err)
		}
		return common.RelationshipOrthogonal, nil
	}
	rel, ok := common.ParseRelationship(res.Relationship)
	if !ok {
		logger.Warn("[AI] Unknown relationship, defaulting to orthogonal", "relationship", res.Relationship)
		return common.RelationshipOrthogonal, nil
	}
	return rel, nil
}

// Label produces a label for the ranked texts. Output without a label is
// reported as ErrMalformedOutput.
func (o *Oracle) Label(ctx context.Context, texts []string) (LabelResult, error) {
	texts = TruncateTexts(texts, o.tokenBudget, nil)
	prompt := fmt.Sprintf(LabelPrompt, bulletList(texts))

	var res LabelResult
	if err := o.generate(ctx, "position_label", "Name the position shared by the claims.", prompt, &res); err != nil {
		return LabelResult{}, err
	}
	res.Label = strings.TrimSpace(res.Label)
	res.Summary = strings.TrimSpace(res.Summary)
	if res.Label == "" {
		return LabelResult{}, fmt.Errorf("%w: empty label", ErrMalformedOutput)
	}
	return res, nil
}

// Embed embeds text with the client's embedding model.
func (o *Oracle) Embed(ctx context.Context, text string) ([]float32, error) {
	return util.RetryWithContext(ctx, o.retries, func(ctx context.Context) ([]float32, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return o.client.GenerateEmbedding(ctx, []byte(text))
	})
}

// Question writes a neutral debate question for two positions.
func (o *Oracle) Question(ctx context.Context, a, b PositionBrief) (QuestionResult, error) {
	half := o.tokenBudget / 2
	prompt := fmt.Sprintf(
		QuestionPrompt,
		a.Label, bulletList(TruncateTexts(a.Claims, half, nil)),
		b.Label, bulletList(TruncateTexts(b.Claims, half, nil)),
	)

	var res QuestionResult
	if err := o.generate(ctx, "debate_question", "Write a neutral debate question.", prompt, &res); err != nil {
		return QuestionResult{}, err
	}
	res.Question = strings.TrimSpace(res.Question)
	if res.Question == "" {
		return QuestionResult{}, fmt.Errorf("%w: empty question", ErrMalformedOutput)
	}
	return res, nil
}

// Viewpoint narrates one side of a controversy.
func (o *Oracle) Viewpoint(ctx context.Context, in ViewpointInput) (ViewpointResult, error) {
	prompt := fmt.Sprintf(
		ViewpointPrompt,
		in.Question, in.Stance, in.PositionLabel,
		bulletList(TruncateTexts(in.Claims, o.tokenBudget, nil)),
	)

	var res ViewpointResult
	if err := o.generate(ctx, "viewpoint", "Describe one side of a debate.", prompt, &res); err != nil {
		return ViewpointResult{}, err
	}
	res.Title = strings.TrimSpace(res.Title)
	res.Summary = strings.TrimSpace(res.Summary)
	if res.Title == "" || res.Summary == "" {
		return ViewpointResult{}, fmt.Errorf("%w: empty viewpoint", ErrMalformedOutput)
	}
	return res, nil
}

func (o *Oracle) generate(ctx context.Context, name, description, prompt string, out any) error {
	return util.RetryErrWithContext(ctx, o.retries, func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		return o.client.GenerateCompletionWithFormat(ctx, name, description, prompt, out, o.opts...)
	})
}

func bulletList(texts []string) string {
	var b strings.Builder
	for _, t := range texts {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(t))
	}
	return b.String()
}
