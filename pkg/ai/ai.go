package ai

import (
	"context"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// Client is the model backend the oracles are built on. The openai and
// ollama packages implement it.
type Client interface {
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// Classifier judges the relationship between two claim texts.
type Classifier interface {
	Classify(ctx context.Context, a, b string) (common.Relationship, error)
}

// Labeler turns ranked representative claim texts into a label and summary.
type Labeler interface {
	Label(ctx context.Context, texts []string) (LabelResult, error)
}

// Embedder embeds free text into the claim embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QuestionWriter derives a neutral debate question from two positions.
type QuestionWriter interface {
	Question(ctx context.Context, a, b PositionBrief) (QuestionResult, error)
}

// ViewpointWriter narrates one side of a controversy.
type ViewpointWriter interface {
	Viewpoint(ctx context.Context, in ViewpointInput) (ViewpointResult, error)
}

// LabelResult is the output of a Labeler.
type LabelResult struct {
	Label   string `json:"label" jsonschema_description:"A short noun phrase naming the shared position, at most 12 words."`
	Summary string `json:"summary" jsonschema_description:"Two or three neutral sentences summarising what the claims assert together."`
}

// PositionBrief is what the question writer sees of one position.
type PositionBrief struct {
	Label  string
	Claims []string
}

// QuestionResult is the output of a QuestionWriter.
type QuestionResult struct {
	Question string `json:"question" jsonschema_description:"A neutral yes/no or open debate question both positions answer differently."`
	StanceA  string `json:"stance_a" jsonschema_description:"A short stance label for the first position."`
	StanceB  string `json:"stance_b" jsonschema_description:"A short stance label for the second position."`
}

// ViewpointInput is what the viewpoint writer sees of one side.
type ViewpointInput struct {
	Question      string
	Stance        string
	PositionLabel string
	Claims        []string
}

// ViewpointResult is the output of a ViewpointWriter.
type ViewpointResult struct {
	Title   string `json:"title" jsonschema_description:"A headline for this viewpoint, at most 10 words."`
	Summary string `json:"summary" jsonschema_description:"A neutral narrative of this side of the debate in one paragraph."`
}
