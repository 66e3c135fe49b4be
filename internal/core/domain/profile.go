package domain

import "strings"

// UserProfile is read once per request and never mutated by retrieval.
type UserProfile struct {
	UserID         string   `json:"user_id"`
	Diets          []string `json:"diets,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
	Goal           string   `json:"goal,omitempty"`
	LikedCuisines  []string `json:"liked_cuisines,omitempty"`
	Dislikes       []string `json:"dislikes,omitempty"`
	CaloriesTarget *float64 `json:"calories_target,omitempty"`
	ProteinTarget  *float64 `json:"protein_target,omitempty"`
	Anonymous      bool     `json:"anonymous"`
}

func AnonymousProfile(userID string) UserProfile {
	return UserProfile{UserID: userID, Anonymous: true}
}

func (p UserProfile) HasConstraints() bool {
	return len(p.Diets) > 0 || len(p.Allergies) > 0 || strings.TrimSpace(p.Goal) != ""
}

type NutritionTargets struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// TargetsForGoal maps a free-text goal label to daily macro targets.
func TargetsForGoal(goal string) NutritionTargets {
	g := strings.ToLower(goal)
	switch {
	case strings.Contains(g, "lose"):
		return NutritionTargets{Calories: 1800, ProteinG: 140, CarbsG: 150, FatG: 60}
	case strings.Contains(g, "maintain"):
		return NutritionTargets{Calories: 2200, ProteinG: 110, CarbsG: 275, FatG: 73}
	case strings.Contains(g, "gain") || strings.Contains(g, "muscle"):
		return NutritionTargets{Calories: 2600, ProteinG: 160, CarbsG: 300, FatG: 85}
	case strings.Contains(g, "bulk"):
		return NutritionTargets{Calories: 2800, ProteinG: 180, CarbsG: 330, FatG: 90}
	case strings.Contains(g, "cut"):
		return NutritionTargets{Calories: 1800, ProteinG: 160, CarbsG: 130, FatG: 55}
	default:
		return NutritionTargets{Calories: 2200, ProteinG: 100, CarbsG: 275, FatG: 73}
	}
}

type IntakeTotals struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
}

type DailyStatus struct {
	CaloriesTotal     float64 `json:"calories_total"`
	CaloriesTarget    float64 `json:"calories_target"`
	ProteinTotal      float64 `json:"protein_total"`
	ProteinTarget     float64 `json:"protein_target"`
	RemainingCalories float64 `json:"remaining_calories"`
	RemainingProtein  float64 `json:"remaining_protein"`
}

// NewDailyStatus combines consumed totals with the profile's explicit targets,
// falling back to the goal preset.
func NewDailyStatus(profile UserProfile, totals IntakeTotals) DailyStatus {
	targets := TargetsForGoal(profile.Goal)
	if profile.CaloriesTarget != nil && profile.ProteinTarget != nil {
		targets.Calories = *profile.CaloriesTarget
		targets.ProteinG = *profile.ProteinTarget
	}
	return DailyStatus{
		CaloriesTotal:     totals.Calories,
		CaloriesTarget:    targets.Calories,
		ProteinTotal:      totals.ProteinG,
		ProteinTarget:     targets.ProteinG,
		RemainingCalories: max(targets.Calories-totals.Calories, 0),
		RemainingProtein:  max(targets.ProteinG-totals.ProteinG, 0),
	}
}
