package catalog

import (
	"testing"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

func TestNearestOrdersByDescendingSimilarity(t *testing.T) {
	got, err := fixtureSnapshot().Nearest([]float32{1, 0}, 3, domain.SearchScope{})
	if err != nil {
		t.Fatalf("Nearest() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(got))
	}
	if got[0].Item.Name != "Peanut Noodles" {
		t.Fatalf("expected exact direction first, got %s", got[0].Item.Name)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("scores not descending at %d: %v", i, got)
		}
	}
}

func TestNearestRespectsScopeAndAllergens(t *testing.T) {
	got, err := fixtureSnapshot().Nearest([]float32{1, 0}, 10, domain.SearchScope{
		DiningHalls:      []string{"worcester"},
		MealPeriods:      []string{"dinner"},
		ServingDate:      testDate,
		ExcludeAllergens: []string{"peanuts"},
	})
	if err != nil {
		t.Fatalf("Nearest() error = %v", err)
	}
	for _, hit := range got {
		if hit.Item.DiningHall != "Worcester" || hit.Item.MealPeriod != "dinner" {
			t.Fatalf("hit outside scope: %s", hit.Item)
		}
		if hit.Item.Name == "Peanut Noodles" {
			t.Fatalf("allergen item must not be returned")
		}
	}
}

func TestNearestBreaksTiesByKey(t *testing.T) {
	a := withVector(testItem("Apple", "Worcester", "lunch", 80, nil, nil), 1, 0)
	b := withVector(testItem("Banana", "Franklin", "lunch", 90, nil, nil), 2, 0)
	snap := NewSnapshot(1, []domain.MenuItem{b, a}, 2, testDate)

	got, err := snap.Nearest([]float32{1, 0}, 2, domain.SearchScope{})
	if err != nil {
		t.Fatalf("Nearest() error = %v", err)
	}
	if got[0].Item.Key() > got[1].Item.Key() {
		t.Fatalf("expected key order on equal scores, got %s then %s", got[0].Item.Key(), got[1].Item.Key())
	}
}

func TestNearestRejectsDimensionMismatch(t *testing.T) {
	_, err := fixtureSnapshot().Nearest([]float32{1, 0, 0}, 3, domain.SearchScope{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestResolveDropsUnknownKeys(t *testing.T) {
	snap := fixtureSnapshot()
	known := snap.Items()[0]

	got := snap.Resolve([]domain.ItemHit{{Key: "nowhere|lunch|2026-03-02|ghost", Score: 0.99}, {Key: known.Key(), Score: 0.5}})
	if len(got) != 1 || got[0].Item.Key() != known.Key() {
		t.Fatalf("expected only the known key, got %v", got)
	}
}
