package engine

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/stancemap/backend/internal/migrations"
	"github.com/OFFIS-RIT/stancemap/backend/internal/storage"
	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai/ollama"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/pipeline"
	pgstore "github.com/OFFIS-RIT/stancemap/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Engine holds everything a process needs to run pipeline steps.
type Engine struct {
	Pool   *pgxpool.Pool
	Client ai.Client
	Runner *pipeline.Runner
	Sink   *storage.GraphSink
	Tuning util.Tuning
}

// RequiredEnv lists the keys both binaries need before doing any work.
func RequiredEnv() []string {
	return append([]string{"DATABASE_URL"}, util.RequiredAIEnv()...)
}

// NewAIClient builds the model backend selected by AI_ADAPTER.
func NewAIClient(t util.Tuning) (ai.Client, error) {
	switch util.GetEnvString("AI_ADAPTER", "openai") {
	case "ollama":
		client, err := ollama.NewOllamaClient(ollama.NewOllamaClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   int(util.GetEnvNumeric("AI_EMBED_DIM", 1536)),
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(t.OracleConcurrency),
			TimeoutMin:            int64(util.GetEnvNumeric("AI_TIMEOUT_MIN", 5)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	default:
		chatKey := util.GetEnv("AI_CHAT_KEY")
		return openai.NewOpenAIClient(openai.NewOpenAIClientParams{
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnvString("AI_EMBED_KEY", chatKey),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      chatKey,

			MaxConcurrentRequests: int64(t.OracleConcurrency),
			TimeoutMin:            int64(util.GetEnvNumeric("AI_TIMEOUT_MIN", 5)),
		}), nil
	}
}

// OpenPool connects to url with the pgvector types registered on every
// connection.
func OpenPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// New migrates the schema and wires the pipeline runner.
func New(ctx context.Context) (*Engine, error) {
	if err := util.RequireEnv(RequiredEnv()...); err != nil {
		return nil, err
	}
	t, err := util.LoadTuning()
	if err != nil {
		return nil, err
	}

	dbURL := util.GetEnv("DATABASE_URL")
	if util.GetEnvBool("MIGRATE_ON_START", true) {
		if err := migrations.Up(dbURL); err != nil {
			return nil, err
		}
	}

	pool, err := OpenPool(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	client, err := NewAIClient(t)
	if err != nil {
		pool.Close()
		return nil, err
	}
	oracle := ai.NewOracle(ai.OracleParams{
		Client:            client,
		RequestsPerSecond: t.OracleRPS,
		Burst:             t.OracleConcurrency,
		Retries:           t.OracleRetries,
		TokenBudget:       t.LabelTokenBudget,
	})

	sink, err := storage.NewGraphSinkFromEnv(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Store:  pgstore.NewStorage(pool),
		Locker: leaselock.New(pool),
		Oracle: oracle,
	}
	if sink != nil {
		deps.Sink = sink
		logger.Info("[Engine] Uploading graphs to S3", "bucket", sink.Bucket())
	}

	return &Engine{
		Pool:   pool,
		Client: client,
		Runner: pipeline.NewRunner(deps, t),
		Sink:   sink,
		Tuning: t,
	}, nil
}

func (e *Engine) Close() {
	e.Pool.Close()
}
