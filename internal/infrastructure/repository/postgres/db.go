package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// schemaLockID serializes bootstrap DDL across api and worker startups.
const schemaLockID int64 = 2026030201

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return sqlx.NewDb(db, "pgx"), nil
}

// EnsureSchema creates the menu catalog and the profile tables it reads.
// dimensions fixes the width of the embedding column.
func EnsureSchema(ctx context.Context, db *sqlx.DB, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("ensure schema: invalid embedding dimensions %d", dimensions)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS menu_items (
	id BIGSERIAL PRIMARY KEY,
	item_name TEXT NOT NULL,
	dining_hall TEXT NOT NULL,
	meal_period TEXT NOT NULL,
	serving_date DATE NOT NULL,
	calories DOUBLE PRECISION,
	protein_g DOUBLE PRECISION,
	carbs_g DOUBLE PRECISION,
	fat_g DOUBLE PRECISION,
	sugars_g DOUBLE PRECISION,
	serving_size TEXT,
	diet_types TEXT[] NOT NULL DEFAULT '{}',
	allergens TEXT[] NOT NULL DEFAULT '{}',
	ingredients TEXT[] NOT NULL DEFAULT '{}',
	description TEXT,
	embedding vector(%d),
	embedding_hash TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (dining_hall, meal_period, serving_date, item_name)
);

CREATE INDEX IF NOT EXISTS idx_menu_items_serving_date ON menu_items(serving_date);
CREATE INDEX IF NOT EXISTS idx_menu_items_embedding ON menu_items USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS goals (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	goal TEXT NOT NULL,
	calories_target INTEGER,
	protein_target INTEGER
);

CREATE TABLE IF NOT EXISTS dietary_constraints (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	constraint_value TEXT NOT NULL,
	constraint_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS diet_history (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	date DATE NOT NULL,
	item TEXT NOT NULL,
	mealtime TEXT NOT NULL,
	calories DOUBLE PRECISION NOT NULL,
	protein_g DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_diet_history_user_date ON diet_history(user_id, date);
`, dimensions)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
