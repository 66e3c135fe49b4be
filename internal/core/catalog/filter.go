package catalog

import (
	"sort"
	"strings"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// Query evaluates a validated plan against the snapshot. Results follow the
// plan's order terms and fall back to item key, so identical plans over the
// same snapshot always return the same sequence.
func (s *Snapshot) Query(plan domain.QueryPlan) ([]domain.MenuItem, error) {
	if err := plan.Validate(domain.MaxPageSize); err != nil {
		return nil, err
	}

	matched := make([]domain.MenuItem, 0, plan.Limit)
	for _, item := range s.items {
		if matchesAll(item, plan.Predicates) {
			matched = append(matched, item)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		for _, term := range plan.OrderBy {
			if c := compareColumn(matched[i], matched[j], term.Column); c != 0 {
				if isNumericColumn(term.Column) && (numericValue(matched[i], term.Column) == nil || numericValue(matched[j], term.Column) == nil) {
					// NULLS LAST in either direction.
					return c < 0
				}
				if term.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return matched[i].Key() < matched[j].Key()
	})

	if len(matched) > plan.Limit {
		matched = matched[:plan.Limit]
	}
	return matched, nil
}

// InScope reports whether an item satisfies the hard structural part of a
// semantic search scope.
func InScope(item domain.MenuItem, scope domain.SearchScope) bool {
	if len(scope.DiningHalls) > 0 && !containsFold(scope.DiningHalls, item.DiningHall) {
		return false
	}
	if len(scope.MealPeriods) > 0 && !containsFold(scope.MealPeriods, item.MealPeriod) {
		return false
	}
	if !scope.ServingDate.IsZero() && !domain.DateOnly(item.ServingDate).Equal(domain.DateOnly(scope.ServingDate)) {
		return false
	}
	if _, hit := item.ViolatedAllergen(scope.ExcludeAllergens); hit {
		return false
	}
	return true
}

func matchesAll(item domain.MenuItem, predicates []domain.Predicate) bool {
	for _, pred := range predicates {
		if !matches(item, pred) {
			return false
		}
	}
	return true
}

func matches(item domain.MenuItem, pred domain.Predicate) bool {
	switch pred.Column {
	case domain.ColumnItemName:
		return matchText(item.Name, pred)
	case domain.ColumnDiningHall:
		return matchText(item.DiningHall, pred)
	case domain.ColumnMealPeriod:
		return matchText(item.MealPeriod, pred)
	case domain.ColumnServingDate:
		date, err := time.Parse(domain.DateLayout, pred.Values[0])
		if err != nil {
			return false
		}
		return domain.DateOnly(item.ServingDate).Equal(date)
	case domain.ColumnDietTypes:
		switch pred.Op {
		case domain.OpHasAll:
			for _, diet := range pred.Values {
				if !item.HasDiet(diet) {
					return false
				}
			}
			return true
		case domain.OpHasAny:
			for _, diet := range pred.Values {
				if item.HasDiet(diet) {
					return true
				}
			}
			return false
		}
	case domain.ColumnAllergens:
		_, violated := item.ViolatedAllergen(pred.Values)
		return !violated
	default:
		value := numericValue(item, pred.Column)
		if value == nil || pred.Number == nil {
			return false
		}
		switch pred.Op {
		case domain.OpGte:
			return *value >= *pred.Number
		case domain.OpLte:
			return *value <= *pred.Number
		}
	}
	return false
}

func matchText(value string, pred domain.Predicate) bool {
	switch pred.Op {
	case domain.OpEq, domain.OpIn:
		return containsFold(pred.Values, value)
	case domain.OpContains:
		haystack := strings.ToLower(value)
		return strings.Contains(haystack, strings.ToLower(strings.TrimSpace(pred.Values[0])))
	}
	return false
}

func compareColumn(a, b domain.MenuItem, column domain.Column) int {
	switch column {
	case domain.ColumnItemName:
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case domain.ColumnDiningHall:
		return strings.Compare(strings.ToLower(a.DiningHall), strings.ToLower(b.DiningHall))
	case domain.ColumnMealPeriod:
		return strings.Compare(strings.ToLower(a.MealPeriod), strings.ToLower(b.MealPeriod))
	}

	va, vb := numericValue(a, column), numericValue(b, column)
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return 1
	case vb == nil:
		return -1
	case *va < *vb:
		return -1
	case *va > *vb:
		return 1
	}
	return 0
}

func isNumericColumn(column domain.Column) bool {
	kind, _ := domain.ColumnKindOf(column)
	return kind == domain.KindNumber
}

func numericValue(item domain.MenuItem, column domain.Column) *float64 {
	return item.Number(column)
}

func containsFold(values []string, value string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}
