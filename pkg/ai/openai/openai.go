package openai

import (
	"sync"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// OpenAIClient is a client for the OpenAI API (or any compatible
// endpoint). It manages separate OpenAI clients for embeddings and
// chat/completion tasks.
//
// A OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	embeddingModel string
	chatModel      string

	chatURL string

	timeoutMin int64
	chatLock   *semaphore.Weighted
	embedLock  *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

var _ ai.Client = (*OpenAIClient)(nil)

// NewOpenAIClientParams defines the configuration parameters for
// creating a new OpenAIClient.
//
// EmbeddingURL and EmbeddingKey configure the embedding API endpoint.
// ChatURL and ChatKey configure the chat/completion API endpoint. An empty
// URL uses the OpenAI default.
type NewOpenAIClientParams struct {
	EmbeddingModel string
	ChatModel      string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
	TimeoutMin            int64
}

// NewOpenAIClient creates and returns a new OpenAIClient
// configured with the provided parameters.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingKey:   os.Getenv("AI_EMBED_KEY"),
//		ChatKey:        os.Getenv("AI_CHAT_KEY"),
//	})
func NewOpenAIClient(
	params NewOpenAIClientParams,
) *OpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)

	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = 5
	}
	timeout := params.TimeoutMin
	if timeout <= 0 {
		timeout = 5
	}

	return &OpenAIClient{
		embeddingModel: params.EmbeddingModel,
		chatModel:      params.ChatModel,

		chatURL: params.ChatURL,

		timeoutMin: timeout,
		chatLock:   semaphore.NewWeighted(parallel),
		embedLock:  semaphore.NewWeighted(parallel),

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
