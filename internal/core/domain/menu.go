package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type MenuItem struct {
	Name        string    `json:"name"`
	DiningHall  string    `json:"dining_hall"`
	MealPeriod  string    `json:"meal_period"`
	ServingDate time.Time `json:"serving_date"`

	Calories    *float64 `json:"calories,omitempty"`
	ProteinG    *float64 `json:"protein_g,omitempty"`
	CarbsG      *float64 `json:"carbs_g,omitempty"`
	FatG        *float64 `json:"fat_g,omitempty"`
	SugarsG     *float64 `json:"sugars_g,omitempty"`
	ServingSize string   `json:"serving_size,omitempty"`

	DietTypes   []string `json:"diet_types,omitempty"`
	Allergens   []string `json:"allergens,omitempty"`
	Ingredients []string `json:"ingredients,omitempty"`
	Description string   `json:"description,omitempty"`

	Embedding     []float32 `json:"-"`
	EmbeddingHash string    `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key is the identity tuple (hall, meal, date, name) in canonical form.
func (m MenuItem) Key() string {
	return ItemKey(m.DiningHall, m.MealPeriod, m.ServingDate, m.Name)
}

func ItemKey(hall, meal string, date time.Time, name string) string {
	return strings.Join([]string{
		normalizeKeyPart(hall),
		normalizeKeyPart(meal),
		DateOnly(date).Format(DateLayout),
		normalizeKeyPart(name),
	}, "|")
}

// DateOnly truncates t to its calendar date, expressed as UTC midnight.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EmbeddingSource is the exact text an item's vector is computed from.
func (m MenuItem) EmbeddingSource() string {
	parts := []string{strings.TrimSpace(m.Name)}
	if desc := strings.TrimSpace(m.Description); desc != "" {
		parts = append(parts, desc)
	}
	if len(m.DietTypes) > 0 {
		parts = append(parts, "Diet: "+strings.Join(m.DietTypes, ", "))
	}
	if len(m.Allergens) > 0 {
		parts = append(parts, "Allergens: "+strings.Join(m.Allergens, ", "))
	}
	if len(m.Ingredients) > 0 {
		parts = append(parts, "Ingredients: "+strings.Join(m.Ingredients, ", "))
	}
	return strings.Join(parts, " | ")
}

func (m MenuItem) EmbeddingSourceHash() string {
	sum := sha256.Sum256([]byte(m.EmbeddingSource()))
	return hex.EncodeToString(sum[:])
}

// HasFreshEmbedding reports whether the stored vector was computed from the
// item's current attributes and has the expected dimension.
func (m MenuItem) HasFreshEmbedding(dimensions int) bool {
	if len(m.Embedding) == 0 {
		return false
	}
	if dimensions > 0 && len(m.Embedding) != dimensions {
		return false
	}
	return m.EmbeddingHash == m.EmbeddingSourceHash()
}

// NormalizeAllergen lower-cases a tag or allergy, collapses whitespace and
// drops a trailing "allergy" word and plural "s", so "Peanut Allergy",
// "peanuts" and "Peanut" all become "peanut".
func NormalizeAllergen(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	for _, suffix := range []string{" allergies", " allergy"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return strings.TrimSuffix(s, "s")
}

func NormalizeAllergens(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		n := NormalizeAllergen(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// AllergenCovers reports whether allergy excludes an item tagged with tag.
// Matching is by containment of the normalized forms: "nuts" covers
// "Tree Nuts" and "fish" covers "Shellfish".
func AllergenCovers(allergy, tag string) bool {
	a := NormalizeAllergen(allergy)
	return a != "" && strings.Contains(NormalizeAllergen(tag), a)
}

// ViolatedAllergen returns the first hard exclusion covering one of the
// item's allergen tags.
func (m MenuItem) ViolatedAllergen(allergies []string) (string, bool) {
	if len(allergies) == 0 || len(m.Allergens) == 0 {
		return "", false
	}
	for _, allergy := range allergies {
		for _, tag := range m.Allergens {
			if AllergenCovers(allergy, tag) {
				return allergy, true
			}
		}
	}
	return "", false
}

// Number returns the item's value for a numeric column, nil when unknown or
// when column is not numeric.
func (m MenuItem) Number(column Column) *float64 {
	switch column {
	case ColumnCalories:
		return m.Calories
	case ColumnProtein:
		return m.ProteinG
	case ColumnCarbs:
		return m.CarbsG
	case ColumnFat:
		return m.FatG
	}
	return nil
}

func (m MenuItem) HasDiet(diet string) bool {
	for _, d := range m.DietTypes {
		if strings.EqualFold(d, diet) {
			return true
		}
	}
	return false
}

func (m MenuItem) String() string {
	return fmt.Sprintf("%s @ %s (%s, %s)", m.Name, m.DiningHall, m.MealPeriod, DateOnly(m.ServingDate).Format(DateLayout))
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func Float(v float64) *float64 {
	return &v
}

// IngestResult reports what an ingestion call stored and how the catalog
// refresh was scheduled.
type IngestResult struct {
	Written       int    `json:"written"`
	RefreshQueued bool   `json:"refresh_queued"`
	Generation    uint64 `json:"catalog_generation"`
}
