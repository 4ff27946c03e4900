// Package app provides application initialization and dependency wiring.
//
// App is the container that builds every collaborator in order: Genkit,
// the database pool, the catalog, the embedding provider, the semantic
// index, the external source chain and the pipeline. Components degrade
// when optional backends are absent: no Postgres host selects the
// in-memory catalog, no Redis address disables the embedding cache.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/config"
	"github.com/shelfmate/shelfmate/internal/database"
	"github.com/shelfmate/shelfmate/internal/embed"
	"github.com/shelfmate/shelfmate/internal/external"
	"github.com/shelfmate/shelfmate/internal/index"
	"github.com/shelfmate/shelfmate/internal/ingest"
	"github.com/shelfmate/shelfmate/internal/intent"
	"github.com/shelfmate/shelfmate/internal/llm"
	"github.com/shelfmate/shelfmate/internal/log"
	"github.com/shelfmate/shelfmate/internal/narrator"
	"github.com/shelfmate/shelfmate/internal/pipeline"
	"github.com/shelfmate/shelfmate/internal/retrieval"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Catalog  book.Catalog
	Index    *index.Index
	Embedder embed.Provider
	LLM      *llm.Client
	Pipeline *pipeline.Pipeline
	Ingestor *ingest.Ingestor

	pool  *pgxpool.Pool // nil with the in-memory catalog
	redis *redis.Client // nil when caching is disabled
}

// Setup builds the full application from configuration.
// The returned App must be Closed when done.
func Setup(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	if cfg.GeminiAPIKey != "" {
		// Genkit's Google AI plugin reads the key from the environment.
		if err := os.Setenv("GEMINI_API_KEY", cfg.GeminiAPIKey); err != nil {
			return nil, fmt.Errorf("setting API key: %w", err)
		}
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}

	client, err := llm.NewClient(llm.ClientConfig{
		Genkit:    g,
		ModelName: cfg.ModelName,
		Timeout:   cfg.LLMTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Genkit: g,
		LLM:    client,
	}

	if err := a.setupCatalog(ctx); err != nil {
		return nil, err
	}
	a.setupEmbedder(g)

	a.Index = index.New(cfg.EmbedDimension)
	a.Ingestor = ingest.New(a.Catalog, a.Embedder, a.Index, logger)
	if _, err := a.Ingestor.RebuildIndex(ctx); err != nil {
		return nil, fmt.Errorf("building semantic index: %w", err)
	}

	source := external.NewChain(logger,
		external.NewOpenLibrary(cfg.ExternalTimeout),
		external.NewKnowledgeProvider(client, logger),
	)

	a.Pipeline = pipeline.New(
		intent.NewClassifier(client, logger),
		retrieval.New(a.Catalog, a.Index, a.Embedder, source,
			retrieval.Config{TopK: cfg.TopK, SimilarityFloor: cfg.SimilarityFloor}, logger),
		narrator.New(client, logger),
		pipeline.Config{MaxResults: cfg.MaxResults},
		logger,
	)

	return a, nil
}

func (a *App) setupCatalog(ctx context.Context) error {
	if a.Config.PostgresHost == "" {
		a.Logger.Info("no postgres host configured, using in-memory catalog")
		a.Catalog = book.NewMemoryCatalog()
		return nil
	}

	if err := database.Migrate(a.Config.ConnString()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Connect(ctx, a.Config.ConnString())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pool = pool
	a.Catalog = book.NewPostgresCatalog(pool, a.Logger)
	a.Logger.Info("postgres catalog connected", "host", a.Config.PostgresHost)
	return nil
}

func (a *App) setupEmbedder(g *genkit.Genkit) {
	var provider embed.Provider = embed.NewGenkitProvider(
		googlegenai.GoogleAIEmbedder(g, a.Config.EmbedderModel),
		a.Config.EmbedTimeout,
		a.Logger,
	)

	if a.Config.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
		provider = embed.NewCachedProvider(provider, a.redis, a.Config.CacheTTL, a.Logger)
		a.Logger.Info("embedding cache enabled", "addr", a.Config.RedisAddr)
	}
	a.Embedder = provider
}

// Ready reports whether backing stores are reachable, for the readiness
// probe. The in-memory catalog is always ready.
func (a *App) Ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases held connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
