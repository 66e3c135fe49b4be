package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

func TestGetProfileReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("SELECT id FROM users").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewProfileRepository(db).GetProfile(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetProfileGroupsConstraintsAndReadsLatestGoal(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("SELECT id FROM users").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))
	mock.ExpectQuery("FROM dietary_constraints").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_value", "constraint_type"}).
			AddRow("vegan", "preference").
			AddRow("Peanuts", "allergy").
			AddRow("thai", "cuisine").
			AddRow("mushrooms", "dislike").
			AddRow(" ", "allergy"))
	mock.ExpectQuery("FROM goals").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"goal", "calories_target", "protein_target"}).AddRow("gain muscle", int64(2500), nil))

	profile, err := NewProfileRepository(db).GetProfile(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if len(profile.Diets) != 1 || len(profile.Allergies) != 1 || profile.Allergies[0] != "Peanuts" {
		t.Fatalf("unexpected constraints %+v", profile)
	}
	if len(profile.LikedCuisines) != 1 || len(profile.Dislikes) != 1 {
		t.Fatalf("unexpected preferences %+v", profile)
	}
	if profile.Goal != "gain muscle" || profile.CaloriesTarget == nil || *profile.CaloriesTarget != 2500 || profile.ProteinTarget != nil {
		t.Fatalf("unexpected goal %+v", profile)
	}
	if profile.Anonymous {
		t.Fatalf("a stored profile is not anonymous")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDailyIntakeSumsDietHistory(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("FROM diet_history").
		WithArgs("u-1", "2026-03-02").
		WillReturnRows(sqlmock.NewRows([]string{"calories", "protein_g"}).AddRow(1250.0, 64.5))

	totals, err := NewIntakeRepository(db).DailyIntake(context.Background(), "u-1", menuDay)
	if err != nil {
		t.Fatalf("DailyIntake() error = %v", err)
	}
	if totals.Calories != 1250 || totals.ProteinG != 64.5 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}
