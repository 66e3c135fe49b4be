package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

type ProfileRepository struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

type constraintRow struct {
	Value string `db:"constraint_value"`
	Type  string `db:"constraint_type"`
}

type goalRow struct {
	Goal           string        `db:"goal"`
	CaloriesTarget sql.NullInt64 `db:"calories_target"`
	ProteinTarget  sql.NullInt64 `db:"protein_target"`
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, domain.WrapError(domain.ErrNotFound, "get profile", errors.New("empty user id"))
	}

	var exists string
	if err := r.db.GetContext(ctx, &exists, `SELECT id FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, domain.WrapError(domain.ErrNotFound, "get profile", fmt.Errorf("user %s", userID))
		}
		return domain.UserProfile{}, wrapDBError("get profile", err)
	}

	var constraints []constraintRow
	if err := r.db.SelectContext(ctx, &constraints, `
SELECT constraint_value, constraint_type
FROM dietary_constraints
WHERE user_id = $1
ORDER BY id
`, userID); err != nil {
		return domain.UserProfile{}, wrapDBError("list dietary constraints", err)
	}

	profile := domain.UserProfile{UserID: userID}
	for _, c := range constraints {
		value := strings.TrimSpace(c.Value)
		if value == "" {
			continue
		}
		switch strings.ToLower(c.Type) {
		case "preference", "diet":
			profile.Diets = append(profile.Diets, value)
		case "allergy":
			profile.Allergies = append(profile.Allergies, value)
		case "cuisine":
			profile.LikedCuisines = append(profile.LikedCuisines, value)
		case "dislike":
			profile.Dislikes = append(profile.Dislikes, value)
		}
	}

	var goal goalRow
	err := r.db.GetContext(ctx, &goal, `
SELECT goal, calories_target, protein_target
FROM goals
WHERE user_id = $1
ORDER BY id DESC
LIMIT 1
`, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.UserProfile{}, wrapDBError("get goal", err)
	default:
		profile.Goal = goal.Goal
		if goal.CaloriesTarget.Valid {
			profile.CaloriesTarget = domain.Float(float64(goal.CaloriesTarget.Int64))
		}
		if goal.ProteinTarget.Valid {
			profile.ProteinTarget = domain.Float(float64(goal.ProteinTarget.Int64))
		}
	}
	return profile, nil
}

type IntakeRepository struct {
	db *sqlx.DB
}

func NewIntakeRepository(db *sqlx.DB) *IntakeRepository {
	return &IntakeRepository{db: db}
}

func (r *IntakeRepository) DailyIntake(ctx context.Context, userID string, date time.Time) (domain.IntakeTotals, error) {
	var totals struct {
		Calories float64 `db:"calories"`
		ProteinG float64 `db:"protein_g"`
	}
	err := r.db.GetContext(ctx, &totals, `
SELECT COALESCE(SUM(calories), 0) AS calories, COALESCE(SUM(protein_g), 0) AS protein_g
FROM diet_history
WHERE user_id = $1 AND date = $2::date
`, userID, domain.DateOnly(date).Format(domain.DateLayout))
	if err != nil {
		return domain.IntakeTotals{}, wrapDBError("daily intake", err)
	}
	return domain.IntakeTotals{Calories: totals.Calories, ProteinG: totals.ProteinG}, nil
}
