package catalog

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// Snapshot is an immutable, generation-numbered view of the menu catalog.
// Requests pin one snapshot and never observe a later publication.
type Snapshot struct {
	generation uint64
	builtAt    time.Time
	dimensions int

	items []domain.MenuItem
	index map[string]int
	norms []float64
}

type Info struct {
	Generation   uint64    `json:"generation"`
	BuiltAt      time.Time `json:"built_at"`
	Dimensions   int       `json:"dimensions"`
	Items        int       `json:"items"`
	Embedded     int       `json:"embedded"`
	DiningHalls  []string  `json:"dining_halls"`
	ServingDates []string  `json:"serving_dates"`
}

// NewSnapshot copies items into a new snapshot. Vectors that are stale or of
// the wrong dimension are dropped, leaving the item reachable only through
// structured queries. Duplicate keys keep the most recently updated record.
func NewSnapshot(generation uint64, items []domain.MenuItem, dimensions int, builtAt time.Time) *Snapshot {
	byKey := make(map[string]domain.MenuItem, len(items))
	for _, item := range items {
		item = cloneItem(item)
		item.ServingDate = domain.DateOnly(item.ServingDate)
		if !item.HasFreshEmbedding(dimensions) {
			item.Embedding = nil
			item.EmbeddingHash = ""
		}
		key := item.Key()
		if prev, ok := byKey[key]; ok && prev.UpdatedAt.After(item.UpdatedAt) {
			continue
		}
		byKey[key] = item
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	snap := &Snapshot{
		generation: generation,
		builtAt:    builtAt,
		dimensions: dimensions,
		items:      make([]domain.MenuItem, len(keys)),
		index:      make(map[string]int, len(keys)),
		norms:      make([]float64, len(keys)),
	}
	for i, key := range keys {
		item := byKey[key]
		snap.items[i] = item
		snap.index[key] = i
		snap.norms[i] = vectorNorm(item.Embedding)
	}
	return snap
}

func (s *Snapshot) Generation() uint64 { return s.generation }

func (s *Snapshot) Dimensions() int { return s.dimensions }

func (s *Snapshot) Len() int { return len(s.items) }

// Items returns the catalog ordered by item key.
func (s *Snapshot) Items() []domain.MenuItem {
	return slices.Clone(s.items)
}

func (s *Snapshot) Lookup(key string) (domain.MenuItem, bool) {
	i, ok := s.index[key]
	if !ok {
		return domain.MenuItem{}, false
	}
	return s.items[i], true
}

// Resolve maps hits produced by an external index onto snapshot items,
// dropping keys the snapshot does not know.
func (s *Snapshot) Resolve(hits []domain.ItemHit) []ScoredItem {
	out := make([]ScoredItem, 0, len(hits))
	for _, hit := range hits {
		item, ok := s.Lookup(hit.Key)
		if !ok {
			continue
		}
		out = append(out, ScoredItem{Item: item, Score: hit.Score})
	}
	return out
}

func (s *Snapshot) Info() Info {
	info := Info{
		Generation: s.generation,
		BuiltAt:    s.builtAt,
		Dimensions: s.dimensions,
		Items:      len(s.items),
	}
	halls := make(map[string]struct{})
	dates := make(map[string]struct{})
	for i, item := range s.items {
		if s.norms[i] > 0 {
			info.Embedded++
		}
		halls[item.DiningHall] = struct{}{}
		dates[item.ServingDate.Format(domain.DateLayout)] = struct{}{}
	}
	info.DiningHalls = sortedKeys(halls)
	info.ServingDates = sortedKeys(dates)
	return info
}

func cloneItem(item domain.MenuItem) domain.MenuItem {
	item.DietTypes = slices.Clone(item.DietTypes)
	item.Allergens = slices.Clone(item.Allergens)
	item.Ingredients = slices.Clone(item.Ingredients)
	item.Embedding = slices.Clone(item.Embedding)
	return item
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
