package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Vocabulary enumerates the values halls, meal periods and diet tags may take.
// Aliases map lower-cased spellings to canonical values.
type Vocabulary struct {
	DiningHalls []string          `yaml:"dining_halls"`
	MealAliases map[string]string `yaml:"meal_aliases"`
	DietAliases map[string]string `yaml:"diet_aliases"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		DiningHalls: []string{"Berkshire", "Franklin", "Hampshire", "Worcester"},
		MealAliases: map[string]string{
			"breakfast":   "breakfast",
			"brunch":      "brunch",
			"lunch":       "lunch",
			"dinner":      "dinner",
			"supper":      "dinner",
			"late night":  "late night",
			"late-night":  "late night",
			"latenight":   "late night",
			"grab n go":   "grab n go",
			"grab' n go":  "grab n go",
			"grab and go": "grab n go",
			"grab-n-go":   "grab n go",
		},
		DietAliases: map[string]string{
			"vegan":       "vegan",
			"plant based": "vegan",
			"plant-based": "vegan",
			"vegetarian":  "vegetarian",
			"veggie":      "vegetarian",
			"halal":       "halal",
			"kosher":      "kosher",
			"gluten-free": "gluten-free",
			"gluten free": "gluten-free",
			"glutenfree":  "gluten-free",
		},
	}
}

func (v Vocabulary) Validate() error {
	if len(v.DiningHalls) == 0 {
		return fmt.Errorf("vocabulary: at least one dining hall is required")
	}
	if len(v.MealAliases) == 0 {
		return fmt.Errorf("vocabulary: at least one meal period is required")
	}
	if len(v.DietAliases) == 0 {
		return fmt.Errorf("vocabulary: at least one diet is required")
	}
	for alias, canonical := range v.DietAliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(canonical) == "" {
			return fmt.Errorf("vocabulary: empty diet alias mapping %q -> %q", alias, canonical)
		}
	}
	return nil
}

func (v Vocabulary) NormalizeHall(s string) (string, bool) {
	needle := normalizeKeyPart(s)
	for _, hall := range v.DiningHalls {
		if normalizeKeyPart(hall) == needle {
			return hall, true
		}
	}
	return "", false
}

func (v Vocabulary) NormalizeMeal(s string) (string, bool) {
	canonical, ok := v.MealAliases[normalizeKeyPart(s)]
	return canonical, ok
}

func (v Vocabulary) NormalizeDiet(s string) (string, bool) {
	canonical, ok := v.DietAliases[normalizeKeyPart(s)]
	return canonical, ok
}

// NormalizeDiets maps raw catalog diet tags to canonical values, keeping
// unknown tags lower-cased so they are still visible in prompts.
func (v Vocabulary) NormalizeDiets(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		tag, ok := v.NormalizeDiet(raw)
		if !ok {
			tag = normalizeKeyPart(raw)
		}
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func (v Vocabulary) MealPeriods() []string {
	return uniqueSortedValues(v.MealAliases)
}

func (v Vocabulary) Diets() []string {
	return uniqueSortedValues(v.DietAliases)
}

// DietSpellings returns every lower-cased alias of a canonical diet,
// including the canonical value itself.
func (v Vocabulary) DietSpellings(canonical string) []string {
	out := []string{canonical}
	for alias, target := range v.DietAliases {
		if target == canonical && alias != canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out[1:])
	return out
}

// MealSpellings returns every lower-cased alias of a canonical meal period.
func (v Vocabulary) MealSpellings(canonical string) []string {
	out := []string{canonical}
	for alias, target := range v.MealAliases {
		if target == canonical && alias != canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out[1:])
	return out
}

func uniqueSortedValues(m map[string]string) []string {
	seen := make(map[string]struct{}, len(m))
	out := make([]string, 0, len(m))
	for _, v := range m {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
