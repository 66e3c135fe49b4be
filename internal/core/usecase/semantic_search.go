package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type SemanticSearchConfig struct {
	TopK          int
	Overfetch     int
	MinSimilarity float64
}

type SemanticSearcher struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	executor ports.Executor
	cfg      SemanticSearchConfig
}

func NewSemanticSearcher(embedder ports.Embedder, index ports.VectorIndex, executor ports.Executor, cfg SemanticSearchConfig) *SemanticSearcher {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Overfetch < 0 {
		cfg.Overfetch = 0
	}
	return &SemanticSearcher{
		embedder: embedder,
		index:    index,
		executor: executor,
		cfg:      cfg,
	}
}

// Search embeds the query text and returns up to TopK candidates inside the
// intent's hall/meal/date scope. Allergen items are removed before the
// result is cut to size, so exclusions never shrink the answer below what
// the index could supply.
func (s *SemanticSearcher) Search(
	ctx context.Context,
	snap *catalog.Snapshot,
	intent domain.QueryIntent,
	question string,
	allergies []string,
) ([]domain.RetrievalCandidate, error) {
	text := semanticQueryText(intent, question)
	if text == "" {
		return nil, nil
	}

	var vector []float32
	embed := func(ctx context.Context) error {
		v, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}
	var err error
	if s.executor != nil {
		err = s.executor.Run(ctx, "semantic.embed_query", embed)
	} else {
		err = embed(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scope := domain.SearchScope{
		DiningHalls:      intent.Slots.DiningHalls,
		MealPeriods:      intent.Slots.MealPeriods,
		ServingDate:      intent.Slots.ServingDate,
		ExcludeAllergens: domain.NormalizeAllergens(allergies),
	}
	hits, err := s.index.SearchItems(ctx, snap, vector, s.cfg.TopK+s.cfg.Overfetch, scope)
	if err != nil {
		return nil, fmt.Errorf("search vector index: %w", err)
	}

	kept := make([]catalog.ScoredItem, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < s.cfg.MinSimilarity {
			continue
		}
		if !catalog.InScope(hit.Item, scope) {
			continue
		}
		kept = append(kept, hit)
	}
	catalog.SortByScore(kept)
	if len(kept) > s.cfg.TopK {
		kept = kept[:s.cfg.TopK]
	}

	out := make([]domain.RetrievalCandidate, 0, len(kept))
	for i, hit := range kept {
		out = append(out, domain.RetrievalCandidate{
			Item:       hit.Item,
			Provenance: domain.ProvenanceSemantic,
			Rank:       i + 1,
			Score:      hit.Score,
		})
	}
	return out, nil
}

// semanticQueryText embeds the whole question for purely semantic turns and
// the free-text remainder otherwise.
func semanticQueryText(intent domain.QueryIntent, question string) string {
	if intent.Kind == domain.IntentSemantic || strings.TrimSpace(intent.Remainder) == "" {
		return strings.TrimSpace(question)
	}
	return strings.TrimSpace(intent.Remainder)
}
