package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

type fakeMenuWriter struct {
	items []domain.MenuItem
	err   error
}

func (f *fakeMenuWriter) UpsertItems(_ context.Context, items []domain.MenuItem) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.items = append(f.items, items...)
	return len(items), nil
}

type fakeCatalogService struct {
	requests int
	err      error
}

func (f *fakeCatalogService) Refresh(context.Context) (catalog.Info, error) {
	return catalog.Info{}, nil
}

func (f *fakeCatalogService) RequestRefresh(context.Context) (bool, catalog.Info, error) {
	f.requests++
	if f.err != nil {
		return false, catalog.Info{}, f.err
	}
	return true, catalog.Info{Generation: 4}, nil
}

func (f *fakeCatalogService) Info() catalog.Info { return catalog.Info{Generation: 4} }

func TestMenuIngestNormalizesStoresAndRequestsRefresh(t *testing.T) {
	writer := &fakeMenuWriter{}
	svc := &fakeCatalogService{}
	uc := NewMenuIngestUseCase(writer, svc, &passExecutor{}, domain.DefaultVocabulary())

	item := menuItem("  Vegan Chili ", "worcester", "Supper", 350, 18, []string{"Plant-Based"}, nil)
	item.Embedding = []float32{1, 0, 0}

	result, err := uc.Ingest(context.Background(), []domain.MenuItem{item})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Written != 1 || !result.RefreshQueued || result.Generation != 4 {
		t.Fatalf("unexpected result %+v", result)
	}
	stored := writer.items[0]
	if stored.Name != "Vegan Chili" || stored.DiningHall != "Worcester" || stored.MealPeriod != "dinner" {
		t.Fatalf("expected canonical values, got %s", stored)
	}
	if !stored.HasDiet("vegan") || stored.Embedding != nil {
		t.Fatalf("expected normalized diets and no vector, got %+v", stored)
	}
}

func TestMenuIngestRejectsInvalidRows(t *testing.T) {
	negative := menuItem("Soup", "Franklin", "lunch", -5, 1, nil, nil)
	unknownHall := menuItem("Soup", "Nowhere", "lunch", 100, 1, nil, nil)
	noDate := menuItem("Soup", "Franklin", "lunch", 100, 1, nil, nil)
	noDate.ServingDate = time.Time{}

	for name, items := range map[string][]domain.MenuItem{
		"empty":        nil,
		"negative":     {negative},
		"unknown hall": {unknownHall},
		"no name":      {menuItem(" ", "Franklin", "lunch", 100, 1, nil, nil)},
		"no date":      {noDate},
	} {
		writer := &fakeMenuWriter{}
		uc := NewMenuIngestUseCase(writer, nil, nil, domain.DefaultVocabulary())
		if _, err := uc.Ingest(context.Background(), items); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
		if len(writer.items) != 0 {
			t.Fatalf("%s: nothing may be stored", name)
		}
	}
}

func TestMenuIngestRefreshFailureStillReportsWrite(t *testing.T) {
	writer := &fakeMenuWriter{}
	uc := NewMenuIngestUseCase(writer, &fakeCatalogService{err: errors.New("nats down")}, nil, domain.DefaultVocabulary())

	result, err := uc.Ingest(context.Background(), []domain.MenuItem{menuItem("Soup", "Franklin", "lunch", 100, 1, nil, nil)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Written != 1 || result.RefreshQueued {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestMenuIngestStoreFailure(t *testing.T) {
	uc := NewMenuIngestUseCase(&fakeMenuWriter{err: errors.New("db down")}, nil, nil, domain.DefaultVocabulary())
	if _, err := uc.Ingest(context.Background(), []domain.MenuItem{menuItem("Soup", "Franklin", "lunch", 100, 1, nil, nil)}); err == nil {
		t.Fatalf("expected a store error")
	}
}
