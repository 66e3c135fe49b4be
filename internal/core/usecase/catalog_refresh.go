package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type CatalogRefreshConfig struct {
	// WindowDays is how many serving dates, starting today, are loaded.
	WindowDays int
	// EmbedStale re-embeds items whose vector no longer matches their
	// attributes. When false such items are published without a vector.
	EmbedStale     bool
	EmbedBatchSize int
	// NotifyRefreshed announces each new generation on the queue.
	NotifyRefreshed bool
	Location        *time.Location
}

// CatalogRefreshUseCase rebuilds the catalog snapshot from the menu
// repository and publishes it as a new generation.
type CatalogRefreshUseCase struct {
	repo      ports.MenuRepository
	embedder  ports.Embedder
	indexer   ports.VectorIndexer
	publisher ports.CatalogPublisher
	queue     ports.MessageQueue
	executor  ports.Executor
	vocab     domain.Vocabulary
	cfg       CatalogRefreshConfig
	now       func() time.Time
}

func NewCatalogRefreshUseCase(
	repo ports.MenuRepository,
	embedder ports.Embedder,
	indexer ports.VectorIndexer,
	publisher ports.CatalogPublisher,
	queue ports.MessageQueue,
	executor ports.Executor,
	vocab domain.Vocabulary,
	cfg CatalogRefreshConfig,
) *CatalogRefreshUseCase {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &CatalogRefreshUseCase{
		repo:      repo,
		embedder:  embedder,
		indexer:   indexer,
		publisher: publisher,
		queue:     queue,
		executor:  executor,
		vocab:     vocab,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (uc *CatalogRefreshUseCase) Info() catalog.Info {
	return uc.publisher.Current().Info()
}

// Refresh loads the serving window, brings embeddings up to date, mirrors
// vectors into the external index and publishes the result. A failure leaves
// the current snapshot in place.
func (uc *CatalogRefreshUseCase) Refresh(ctx context.Context) (catalog.Info, error) {
	items, err := uc.load(ctx)
	if err != nil {
		return catalog.Info{}, err
	}

	items, err = uc.embedStale(ctx, items)
	if err != nil {
		return catalog.Info{}, err
	}

	if err := uc.index(ctx, items); err != nil {
		return catalog.Info{}, err
	}

	snap := uc.publisher.Publish(items)
	info := snap.Info()
	uc.notify(ctx, info.Generation)
	return info, nil
}

// RequestRefresh hands the refresh to the worker when a queue is wired and
// runs it in-process otherwise.
func (uc *CatalogRefreshUseCase) RequestRefresh(ctx context.Context) (bool, catalog.Info, error) {
	if uc.queue == nil {
		info, err := uc.Refresh(ctx)
		return false, info, err
	}
	date := domain.DateOnly(uc.now().In(uc.cfg.Location)).Format(domain.DateLayout)
	if err := uc.queue.PublishMenuIngested(ctx, date); err != nil {
		return false, catalog.Info{}, fmt.Errorf("publish menu ingested: %w", err)
	}
	return true, uc.Info(), nil
}

func (uc *CatalogRefreshUseCase) load(ctx context.Context) ([]domain.MenuItem, error) {
	from := domain.DateOnly(uc.now().In(uc.cfg.Location))
	to := from.AddDate(0, 0, uc.cfg.WindowDays-1)

	items, err := uc.repo.LoadMenu(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load menu: %w", err)
	}
	for i := range items {
		items[i] = uc.normalize(items[i])
	}
	return items, nil
}

// normalize maps raw catalog spellings onto the vocabulary. Vectors are
// hashed over the normalized form, so this must run before any hash check.
func (uc *CatalogRefreshUseCase) normalize(item domain.MenuItem) domain.MenuItem {
	item.Name = strings.TrimSpace(item.Name)
	if hall, ok := uc.vocab.NormalizeHall(item.DiningHall); ok {
		item.DiningHall = hall
	} else {
		item.DiningHall = strings.TrimSpace(item.DiningHall)
	}
	if meal, ok := uc.vocab.NormalizeMeal(item.MealPeriod); ok {
		item.MealPeriod = meal
	} else {
		item.MealPeriod = strings.ToLower(strings.TrimSpace(item.MealPeriod))
	}
	item.DietTypes = uc.vocab.NormalizeDiets(item.DietTypes)
	item.ServingDate = domain.DateOnly(item.ServingDate)
	return item
}

func (uc *CatalogRefreshUseCase) embedStale(ctx context.Context, items []domain.MenuItem) ([]domain.MenuItem, error) {
	if !uc.cfg.EmbedStale || uc.embedder == nil {
		return items, nil
	}

	dims := uc.publisher.Current().Dimensions()
	stale := make([]int, 0)
	for i, item := range items {
		if !item.HasFreshEmbedding(dims) {
			stale = append(stale, i)
		}
	}
	if len(stale) == 0 {
		return items, nil
	}

	updated := make([]domain.MenuItem, 0, len(stale))
	for start := 0; start < len(stale); start += uc.cfg.EmbedBatchSize {
		end := min(start+uc.cfg.EmbedBatchSize, len(stale))
		batch := stale[start:end]

		texts := make([]string, 0, len(batch))
		for _, idx := range batch {
			texts = append(texts, items[idx].EmbeddingSource())
		}

		vectors, err := uc.embedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		for j, idx := range batch {
			items[idx].Embedding = vectors[j]
			items[idx].EmbeddingHash = items[idx].EmbeddingSourceHash()
			updated = append(updated, items[idx])
		}
	}

	saved, err := uc.repo.SaveEmbeddings(ctx, updated)
	if err != nil {
		return nil, fmt.Errorf("save embeddings: %w", err)
	}
	if saved < len(updated) {
		// Rows changed underneath us; the next refresh picks them up.
		slog.Warn("catalog_embeddings_superseded", "embedded", len(updated), "saved", saved)
	}
	slog.Info("catalog_items_embedded", "count", len(updated))
	return items, nil
}

func (uc *CatalogRefreshUseCase) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	call := func(ctx context.Context) error {
		out, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	}

	var err error
	if uc.executor != nil {
		err = uc.executor.Run(ctx, "catalog.embed_items", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("embed menu items: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed menu items",
			fmt.Errorf("vectors/items mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	return vectors, nil
}

func (uc *CatalogRefreshUseCase) index(ctx context.Context, items []domain.MenuItem) error {
	if uc.indexer == nil {
		return nil
	}
	dims := uc.publisher.Current().Dimensions()
	embedded := make([]domain.MenuItem, 0, len(items))
	for _, item := range items {
		if item.HasFreshEmbedding(dims) {
			embedded = append(embedded, item)
		}
	}
	if len(embedded) == 0 {
		return nil
	}

	call := func(ctx context.Context) error {
		return uc.indexer.IndexItems(ctx, embedded)
	}
	var err error
	if uc.executor != nil {
		err = uc.executor.Run(ctx, "catalog.index_items", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return fmt.Errorf("index menu items: %w", err)
	}
	return nil
}

func (uc *CatalogRefreshUseCase) notify(ctx context.Context, generation uint64) {
	if !uc.cfg.NotifyRefreshed || uc.queue == nil {
		return
	}
	if err := uc.queue.PublishCatalogRefreshed(ctx, generation); err != nil {
		slog.Warn("catalog_refresh_notify_failed", "generation", generation, "error", err)
	}
}
