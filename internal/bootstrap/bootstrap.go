package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/config"
	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
	"github.com/rayanical/dining-bot-publish/internal/core/usecase"
	"github.com/rayanical/dining-bot-publish/internal/infrastructure/embedding"
	"github.com/rayanical/dining-bot-publish/internal/infrastructure/llm/ollama"
	"github.com/rayanical/dining-bot-publish/internal/infrastructure/queue/nats"
	"github.com/rayanical/dining-bot-publish/internal/infrastructure/repository/postgres"
	"github.com/rayanical/dining-bot-publish/internal/infrastructure/resilience"
	"github.com/rayanical/dining-bot-publish/internal/infrastructure/vector/qdrant"
)

const (
	VectorBackendSnapshot = "snapshot"
	VectorBackendQdrant   = "qdrant"
	VectorBackendPGVector = "pgvector"

	StructuredBackendSnapshot = "snapshot"
	StructuredBackendPostgres = "postgres"
)

type App struct {
	Config config.Config

	Store *catalog.Store
	// Queue is nil when NATS_URL is unset; refreshes then run in-process.
	Queue ports.MessageQueue

	ChatUC    *usecase.ChatUseCase
	CatalogUC *usecase.CatalogRefreshUseCase
	IngestUC  *usecase.MenuIngestUseCase

	closeFn func()
}

// Options tweaks wiring per binary.
type Options struct {
	// NotifyRefreshed publishes catalog.refreshed after each local refresh.
	// Only the worker sets it so API replicas do not echo each other.
	NotifyRefreshed bool
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	vocab, err := config.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	menuRepo := postgres.NewCatalogRepository(db)
	profiles := postgres.NewProfileRepository(db)
	intake := postgres.NewIntakeRepository(db)

	executor := resilience.NewExecutor(cfg.Resilience())

	var queue ports.MessageQueue
	var natsQueue *nats.Queue
	if cfg.NATSURL != "" {
		natsQueue, err = nats.NewWithOptions(cfg.NATSURL, nats.Options{
			IngestedSubject:    cfg.NATSIngestedSubject,
			RefreshedSubject:   cfg.NATSRefreshedSubject,
			ResilienceExecutor: executor,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		queue = natsQueue
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, time.Duration(cfg.OllamaTimeoutSeconds)*time.Second)
	generator := ollama.NewGenerator(ollamaClient)
	embedder, err := embedding.NewService(ollama.NewEmbedder(ollamaClient), cfg.EmbeddingDimensions, cfg.EmbeddingCacheSize)
	if err != nil {
		closeAll(natsQueue, db.Close)
		return nil, fmt.Errorf("init embedding service: %w", err)
	}

	var (
		vectorIndex ports.VectorIndex
		indexer     ports.VectorIndexer
	)
	switch cfg.VectorBackend {
	case VectorBackendSnapshot, "":
		vectorIndex = catalog.InMemory{}
	case VectorBackendQdrant:
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, time.Duration(cfg.OllamaTimeoutSeconds)*time.Second)
		vectorIndex = client
		indexer = client
	case VectorBackendPGVector:
		vectorIndex = menuRepo
	default:
		closeAll(natsQueue, db.Close)
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}

	var structuredCatalog ports.StructuredCatalog
	switch cfg.StructuredBackend {
	case StructuredBackendSnapshot, "":
		structuredCatalog = catalog.InMemory{}
	case StructuredBackendPostgres:
		structuredCatalog = menuRepo
	default:
		closeAll(natsQueue, db.Close)
		return nil, fmt.Errorf("unknown STRUCTURED_BACKEND %q", cfg.StructuredBackend)
	}

	loc := cfg.Location()
	store := catalog.NewStore(cfg.EmbeddingDimensions)

	catalogUC := usecase.NewCatalogRefreshUseCase(menuRepo, embedder, indexer, store, queue, executor, vocab, usecase.CatalogRefreshConfig{
		WindowDays:      cfg.CatalogWindowDays,
		EmbedStale:      cfg.CatalogEmbedOnLoad,
		NotifyRefreshed: opts.NotifyRefreshed,
		Location:        loc,
	})
	ingestUC := usecase.NewMenuIngestUseCase(menuRepo, catalogUC, executor, vocab)

	router := usecase.NewIntentRouter(vocab, generator, executor, usecase.IntentRouterConfig{
		Mode:          usecase.RouterMode(cfg.RouterMode),
		MinConfidence: cfg.RouterMinConfidence,
	})
	structured := usecase.NewStructuredQueryGenerator(structuredCatalog, generator, executor, usecase.StructuredQueryConfig{
		PageSize:    cfg.StructuredPageSize,
		ModelAssist: cfg.StructuredModelAssist,
	})
	semantic := usecase.NewSemanticSearcher(embedder, vectorIndex, executor, usecase.SemanticSearchConfig{
		TopK:          cfg.SemanticTopK,
		Overfetch:     cfg.SemanticOverfetch,
		MinSimilarity: cfg.SemanticMinSimilarity,
	})
	chatUC := usecase.NewChatUseCase(store, router, structured, semantic, profiles, intake, generator, executor, usecase.ChatConfig{
		PromptMaxCandidates: cfg.PromptMaxCandidates,
		TokenBudget:         cfg.PromptTokenBudget,
		MaxHistoryTurns:     cfg.ChatHistoryTurns,
		Location:            loc,
	})

	return &App{
		Config: cfg,
		Store:  store,
		Queue:  queue,

		ChatUC:    chatUC,
		CatalogUC: catalogUC,
		IngestUC:  ingestUC,

		closeFn: func() {
			closeAll(natsQueue, db.Close)
		},
	}, nil
}

func closeAll(queue *nats.Queue, closeDB func() error) {
	if queue != nil {
		queue.Close()
	}
	_ = closeDB()
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
