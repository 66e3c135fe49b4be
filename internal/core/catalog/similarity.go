package catalog

import (
	"fmt"
	"sort"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

type ScoredItem struct {
	Item  domain.MenuItem
	Score float64
}

// Nearest returns up to limit items by descending cosine similarity to query,
// restricted to scope. Ties are broken by item key. Items without a vector
// are never returned.
func (s *Snapshot) Nearest(query []float32, limit int, scope domain.SearchScope) ([]ScoredItem, error) {
	if s.dimensions > 0 && len(query) != s.dimensions {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"snapshot nearest",
			fmt.Errorf("query dimension %d does not match catalog dimension %d", len(query), s.dimensions),
		)
	}
	if limit <= 0 {
		return nil, nil
	}

	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	scored := make([]ScoredItem, 0, limit)
	for i, item := range s.items {
		if s.norms[i] == 0 || len(item.Embedding) != len(query) {
			continue
		}
		if !InScope(item, scope) {
			continue
		}
		scored = append(scored, ScoredItem{
			Item:  item,
			Score: dot(query, item.Embedding) / (queryNorm * s.norms[i]),
		})
	}

	SortByScore(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SortByScore orders by descending score, then ascending item key.
func SortByScore(items []ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Item.Key() < items[j].Item.Key()
	})
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
