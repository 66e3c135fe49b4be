package domain

import (
	"fmt"
	"time"
)

type IntentKind string

const (
	IntentStructured     IntentKind = "structured"
	IntentSemantic       IntentKind = "semantic"
	IntentHybrid         IntentKind = "hybrid"
	IntentConversational IntentKind = "conversational"
)

func (k IntentKind) Valid() bool {
	switch k {
	case IntentStructured, IntentSemantic, IntentHybrid, IntentConversational:
		return true
	default:
		return false
	}
}

func (k IntentKind) UsesStructured() bool {
	return k == IntentStructured || k == IntentHybrid
}

func (k IntentKind) UsesSemantic() bool {
	return k == IntentSemantic || k == IntentHybrid
}

type SortOrder string

const (
	SortNameAsc     SortOrder = "name_asc"
	SortProteinDesc SortOrder = "protein_desc"
	SortCaloriesAsc SortOrder = "calories_asc"
)

// Slots holds structured meaning extracted from a turn. Empty slices and nil
// pointers mean "unconstrained".
type Slots struct {
	DiningHalls []string  `json:"dining_halls,omitempty"`
	MealPeriods []string  `json:"meals,omitempty"`
	Diets       []string  `json:"diets,omitempty"`
	ServingDate time.Time `json:"serving_date"`

	MinCalories *float64 `json:"min_calories,omitempty"`
	MaxCalories *float64 `json:"max_calories,omitempty"`
	MinProtein  *float64 `json:"min_protein,omitempty"`
	MaxProtein  *float64 `json:"max_protein,omitempty"`

	Sort SortOrder `json:"sort,omitempty"`
}

// HasFilters reports whether any slot narrows the catalog beyond the date.
func (s Slots) HasFilters() bool {
	return len(s.DiningHalls) > 0 ||
		len(s.MealPeriods) > 0 ||
		len(s.Diets) > 0 ||
		s.MinCalories != nil ||
		s.MaxCalories != nil ||
		s.MinProtein != nil ||
		s.MaxProtein != nil
}

// ValidateRanges rejects negative bounds and inverted ranges.
func (s Slots) ValidateRanges() error {
	check := func(name string, lo, hi *float64) error {
		if lo != nil && *lo < 0 {
			return fmt.Errorf("min %s must be non-negative", name)
		}
		if hi != nil && *hi < 0 {
			return fmt.Errorf("max %s must be non-negative", name)
		}
		if lo != nil && hi != nil && *hi < *lo {
			return fmt.Errorf("max %s %.0f is below min %.0f", name, *hi, *lo)
		}
		return nil
	}
	if err := check("calories", s.MinCalories, s.MaxCalories); err != nil {
		return err
	}
	return check("protein", s.MinProtein, s.MaxProtein)
}

type IntentSource string

const (
	IntentSourceRules    IntentSource = "rules"
	IntentSourceModel    IntentSource = "model"
	IntentSourceFallback IntentSource = "fallback"
)

type QueryIntent struct {
	Kind      IntentKind   `json:"kind"`
	Slots     Slots        `json:"slots"`
	Remainder string       `json:"remainder,omitempty"`
	Source    IntentSource `json:"source"`
	Ambiguous bool         `json:"ambiguous,omitempty"`
}
