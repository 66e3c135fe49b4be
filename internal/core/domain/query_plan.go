package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	MenuItemsTable = "menu_items"
	// MaxPageSize caps every structured query.
	MaxPageSize = 50
)

type Column string

const (
	ColumnItemName    Column = "item_name"
	ColumnDiningHall  Column = "dining_hall"
	ColumnMealPeriod  Column = "meal_period"
	ColumnServingDate Column = "serving_date"
	ColumnCalories    Column = "calories"
	ColumnProtein     Column = "protein_g"
	ColumnCarbs       Column = "carbs_g"
	ColumnFat         Column = "fat_g"
	ColumnDietTypes   Column = "diet_types"
	ColumnAllergens   Column = "allergens"
)

type ColumnKind int

const (
	KindText ColumnKind = iota + 1
	KindNumber
	KindTextSet
	KindDate
)

type Operator string

const (
	OpEq       Operator = "eq"
	OpIn       Operator = "in"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpHasAll   Operator = "has_all"
	OpHasAny   Operator = "has_any"
	OpNotIn    Operator = "not_in"
)

type columnRule struct {
	kind      ColumnKind
	ops       []Operator
	orderable bool
}

var queryColumns = map[Column]columnRule{
	ColumnItemName:    {kind: KindText, ops: []Operator{OpEq, OpIn, OpContains}, orderable: true},
	ColumnDiningHall:  {kind: KindText, ops: []Operator{OpEq, OpIn}, orderable: true},
	ColumnMealPeriod:  {kind: KindText, ops: []Operator{OpEq, OpIn}, orderable: true},
	ColumnServingDate: {kind: KindDate, ops: []Operator{OpEq}},
	ColumnCalories:    {kind: KindNumber, ops: []Operator{OpGte, OpLte}, orderable: true},
	ColumnProtein:     {kind: KindNumber, ops: []Operator{OpGte, OpLte}, orderable: true},
	ColumnCarbs:       {kind: KindNumber, ops: []Operator{OpGte, OpLte}, orderable: true},
	ColumnFat:         {kind: KindNumber, ops: []Operator{OpGte, OpLte}, orderable: true},
	ColumnDietTypes:   {kind: KindTextSet, ops: []Operator{OpHasAll, OpHasAny}},
	ColumnAllergens:   {kind: KindTextSet, ops: []Operator{OpNotIn}},
}

const (
	maxPredicateValues = 32
	maxValueLength     = 96
)

// ColumnKindOf returns the kind of a whitelisted column.
func ColumnKindOf(c Column) (ColumnKind, bool) {
	rule, ok := queryColumns[c]
	return rule.kind, ok
}

type Predicate struct {
	Column Column   `json:"column"`
	Op     Operator `json:"op"`
	Values []string `json:"values,omitempty"`
	Number *float64 `json:"number,omitempty"`
}

type OrderTerm struct {
	Column Column `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// QueryPlan is a parameterized query over the menu item whitelist. Values are
// always bound as parameters, never spliced into query text.
type QueryPlan struct {
	Table      string      `json:"table"`
	Predicates []Predicate `json:"predicates"`
	OrderBy    []OrderTerm `json:"order_by"`
	Limit      int         `json:"limit"`
}

func (p QueryPlan) Validate(maxLimit int) error {
	fail := func(format string, args ...any) error {
		return WrapError(ErrQueryValidationFailed, "validate query plan", fmt.Errorf(format, args...))
	}

	if p.Table != MenuItemsTable {
		return fail("table %q is not allowed", p.Table)
	}
	if p.Limit <= 0 || (maxLimit > 0 && p.Limit > maxLimit) {
		return fail("limit %d outside 1..%d", p.Limit, maxLimit)
	}

	type bounds struct{ lo, hi *float64 }
	ranges := make(map[Column]bounds)

	for i, pred := range p.Predicates {
		rule, ok := queryColumns[pred.Column]
		if !ok {
			return fail("predicate %d: column %q is not allowed", i, pred.Column)
		}
		if !containsOp(rule.ops, pred.Op) {
			return fail("predicate %d: operator %q not allowed on %s", i, pred.Op, pred.Column)
		}

		switch rule.kind {
		case KindNumber:
			if pred.Number == nil {
				return fail("predicate %d: %s requires a number", i, pred.Column)
			}
			if *pred.Number < 0 {
				return fail("predicate %d: %s must be non-negative", i, pred.Column)
			}
			if len(pred.Values) > 0 {
				return fail("predicate %d: %s takes no text values", i, pred.Column)
			}
			b := ranges[pred.Column]
			if pred.Op == OpGte {
				if b.lo == nil || *pred.Number > *b.lo {
					b.lo = pred.Number
				}
			} else {
				if b.hi == nil || *pred.Number < *b.hi {
					b.hi = pred.Number
				}
			}
			ranges[pred.Column] = b
		case KindDate:
			if len(pred.Values) != 1 {
				return fail("predicate %d: %s requires exactly one date", i, pred.Column)
			}
			if _, err := time.Parse(DateLayout, pred.Values[0]); err != nil {
				return fail("predicate %d: invalid date %q", i, pred.Values[0])
			}
		default:
			if pred.Number != nil {
				return fail("predicate %d: %s takes no number", i, pred.Column)
			}
			if len(pred.Values) == 0 || len(pred.Values) > maxPredicateValues {
				return fail("predicate %d: %s requires 1..%d values", i, pred.Column, maxPredicateValues)
			}
			if pred.Op == OpEq && len(pred.Values) != 1 {
				return fail("predicate %d: eq requires exactly one value", i)
			}
			for _, v := range pred.Values {
				if err := validateValue(v); err != nil {
					return fail("predicate %d: %v", i, err)
				}
			}
		}
	}

	for column, b := range ranges {
		if b.lo != nil && b.hi != nil && *b.hi < *b.lo {
			return fail("%s range is inverted: max %.1f < min %.1f", column, *b.hi, *b.lo)
		}
	}

	for _, term := range p.OrderBy {
		rule, ok := queryColumns[term.Column]
		if !ok || !rule.orderable {
			return fail("order by %q is not allowed", term.Column)
		}
	}
	return nil
}

// ExcludedAllergens lists the values of every allergen exclusion predicate.
func (p QueryPlan) ExcludedAllergens() []string {
	var out []string
	for _, pred := range p.Predicates {
		if pred.Column == ColumnAllergens && pred.Op == OpNotIn {
			out = append(out, pred.Values...)
		}
	}
	return out
}

// AllergenExclusions turns a profile's allergy list into not_in predicates
// that always validate. Values are normalized, stripped of control
// characters and cut to the value length limit on a rune boundary; a shorter
// prefix only widens containment matching. Long lists are split across
// several predicates.
func AllergenExclusions(allergies []string) []Predicate {
	values := make([]string, 0, len(allergies))
	seen := make(map[string]struct{}, len(allergies))
	for _, a := range allergies {
		v := strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return ' '
			}
			return r
		}, a)
		v = truncateBytes(NormalizeAllergen(v), maxValueLength)
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	var out []Predicate
	for start := 0; start < len(values); start += maxPredicateValues {
		end := min(start+maxPredicateValues, len(values))
		out = append(out, Predicate{Column: ColumnAllergens, Op: OpNotIn, Values: values[start:end]})
	}
	return out
}

func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return strings.TrimSpace(s[:cut])
}

func containsOp(ops []Operator, op Operator) bool {
	for _, candidate := range ops {
		if candidate == op {
			return true
		}
	}
	return false
}

func validateValue(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("empty value")
	}
	if len(v) > maxValueLength {
		return fmt.Errorf("value longer than %d bytes", maxValueLength)
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return fmt.Errorf("value contains control characters")
		}
	}
	return nil
}
