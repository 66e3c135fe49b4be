package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

// maxIngestBatch bounds one ingestion request.
const maxIngestBatch = 2000

// MenuIngestUseCase validates scraped menu rows, stores them and asks for a
// catalog refresh so the new rows become servable.
type MenuIngestUseCase struct {
	writer   ports.MenuWriter
	catalog  ports.CatalogService
	executor ports.Executor
	vocab    domain.Vocabulary
}

func NewMenuIngestUseCase(writer ports.MenuWriter, catalog ports.CatalogService, executor ports.Executor, vocab domain.Vocabulary) *MenuIngestUseCase {
	return &MenuIngestUseCase{
		writer:   writer,
		catalog:  catalog,
		executor: executor,
		vocab:    vocab,
	}
}

func (uc *MenuIngestUseCase) Ingest(ctx context.Context, items []domain.MenuItem) (domain.IngestResult, error) {
	if len(items) == 0 {
		return domain.IngestResult{}, domain.WrapError(domain.ErrInvalidInput, "ingest menu", errors.New("no items"))
	}
	if len(items) > maxIngestBatch {
		return domain.IngestResult{}, domain.WrapError(domain.ErrInvalidInput, "ingest menu", fmt.Errorf("batch of %d exceeds %d items", len(items), maxIngestBatch))
	}

	clean := make([]domain.MenuItem, 0, len(items))
	for i, item := range items {
		normalized, err := uc.validate(item)
		if err != nil {
			return domain.IngestResult{}, domain.WrapError(domain.ErrInvalidInput, "ingest menu", fmt.Errorf("item %d: %w", i, err))
		}
		clean = append(clean, normalized)
	}

	var written int
	store := func(ctx context.Context) error {
		n, err := uc.writer.UpsertItems(ctx, clean)
		written = n
		return err
	}
	var err error
	if uc.executor != nil {
		err = uc.executor.Run(ctx, "catalog.upsert_items", store)
	} else {
		err = store(ctx)
	}
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("store menu items: %w", err)
	}

	result := domain.IngestResult{Written: written}
	if uc.catalog == nil {
		return result, nil
	}
	queued, info, err := uc.catalog.RequestRefresh(ctx)
	if err != nil {
		// Rows are stored; the next scheduled refresh will pick them up.
		slog.Warn("menu_ingest_refresh_failed", "written", written, "error", err)
		return result, nil
	}
	result.RefreshQueued = queued
	result.Generation = info.Generation

	slog.Info("menu_ingested", "written", written, "refresh_queued", queued, "catalog_generation", info.Generation)
	return result, nil
}

func (uc *MenuIngestUseCase) validate(item domain.MenuItem) (domain.MenuItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return item, errors.New("name is required")
	}
	hall, ok := uc.vocab.NormalizeHall(item.DiningHall)
	if !ok {
		return item, fmt.Errorf("unknown dining hall %q", item.DiningHall)
	}
	item.DiningHall = hall
	meal, ok := uc.vocab.NormalizeMeal(item.MealPeriod)
	if !ok {
		return item, fmt.Errorf("unknown meal period %q", item.MealPeriod)
	}
	item.MealPeriod = meal
	if item.ServingDate.IsZero() {
		return item, errors.New("serving_date is required")
	}
	item.ServingDate = domain.DateOnly(item.ServingDate)
	for _, v := range []*float64{item.Calories, item.ProteinG, item.CarbsG, item.FatG, item.SugarsG} {
		if v != nil && *v < 0 {
			return item, errors.New("nutrition values must be non-negative")
		}
	}
	item.DietTypes = uc.vocab.NormalizeDiets(item.DietTypes)
	// Ingestion never carries vectors; the refresh computes them.
	item.Embedding = nil
	item.EmbeddingHash = ""
	return item, nil
}
