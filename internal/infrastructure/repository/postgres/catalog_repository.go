package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// CatalogRepository is the authoritative menu store. It also serves
// structured plans and pgvector similarity search, resolving every row
// against the caller's pinned snapshot.
type CatalogRepository struct {
	db *sqlx.DB
}

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

type menuRow struct {
	Name          string           `db:"item_name"`
	DiningHall    string           `db:"dining_hall"`
	MealPeriod    string           `db:"meal_period"`
	ServingDate   time.Time        `db:"serving_date"`
	Calories      *float64         `db:"calories"`
	ProteinG      *float64         `db:"protein_g"`
	CarbsG        *float64         `db:"carbs_g"`
	FatG          *float64         `db:"fat_g"`
	SugarsG       *float64         `db:"sugars_g"`
	ServingSize   sql.NullString   `db:"serving_size"`
	DietTypes     pq.StringArray   `db:"diet_types"`
	Allergens     pq.StringArray   `db:"allergens"`
	Ingredients   pq.StringArray   `db:"ingredients"`
	Description   sql.NullString   `db:"description"`
	Embedding     *pgvector.Vector `db:"embedding"`
	EmbeddingHash sql.NullString   `db:"embedding_hash"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

func (r menuRow) toDomain() domain.MenuItem {
	item := domain.MenuItem{
		Name:          r.Name,
		DiningHall:    r.DiningHall,
		MealPeriod:    r.MealPeriod,
		ServingDate:   domain.DateOnly(r.ServingDate),
		Calories:      r.Calories,
		ProteinG:      r.ProteinG,
		CarbsG:        r.CarbsG,
		FatG:          r.FatG,
		SugarsG:       r.SugarsG,
		ServingSize:   r.ServingSize.String,
		DietTypes:     []string(r.DietTypes),
		Allergens:     []string(r.Allergens),
		Ingredients:   []string(r.Ingredients),
		Description:   r.Description.String,
		EmbeddingHash: r.EmbeddingHash.String,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Embedding != nil {
		item.Embedding = r.Embedding.Slice()
	}
	return item
}

const menuColumns = `item_name, dining_hall, meal_period, serving_date, calories, protein_g, carbs_g, fat_g, sugars_g,
	serving_size, diet_types, allergens, ingredients, description, embedding, embedding_hash, updated_at`

// LoadMenu returns every item served between from and to inclusive.
func (r *CatalogRepository) LoadMenu(ctx context.Context, from, to time.Time) ([]domain.MenuItem, error) {
	var rows []menuRow
	err := r.db.SelectContext(ctx, &rows, `
SELECT `+menuColumns+`
FROM menu_items
WHERE serving_date BETWEEN $1::date AND $2::date
ORDER BY serving_date, dining_hall, meal_period, item_name
`, domain.DateOnly(from).Format(domain.DateLayout), domain.DateOnly(to).Format(domain.DateLayout))
	if err != nil {
		return nil, wrapDBError("load menu", err)
	}

	items := make([]domain.MenuItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// UpsertItems writes attributes, vector and hash in one statement per item.
// An item without a vector keeps the stored one; its hash then no longer
// matches changed attributes, so the vector is treated as stale on load.
func (r *CatalogRepository) UpsertItems(ctx context.Context, items []domain.MenuItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapDBError("begin upsert tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PreparexContext(ctx, `
INSERT INTO menu_items (
	item_name, dining_hall, meal_period, serving_date, calories, protein_g, carbs_g, fat_g, sugars_g,
	serving_size, diet_types, allergens, ingredients, description, embedding, embedding_hash, updated_at
) VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (dining_hall, meal_period, serving_date, item_name) DO UPDATE SET
	calories = EXCLUDED.calories,
	protein_g = EXCLUDED.protein_g,
	carbs_g = EXCLUDED.carbs_g,
	fat_g = EXCLUDED.fat_g,
	sugars_g = EXCLUDED.sugars_g,
	serving_size = EXCLUDED.serving_size,
	diet_types = EXCLUDED.diet_types,
	allergens = EXCLUDED.allergens,
	ingredients = EXCLUDED.ingredients,
	description = EXCLUDED.description,
	embedding = COALESCE(EXCLUDED.embedding, menu_items.embedding),
	embedding_hash = CASE WHEN EXCLUDED.embedding IS NULL THEN menu_items.embedding_hash ELSE EXCLUDED.embedding_hash END,
	updated_at = EXCLUDED.updated_at
`)
	if err != nil {
		return 0, wrapDBError("prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	written := 0
	for _, item := range items {
		var vector any
		var hash any
		if len(item.Embedding) > 0 {
			vector = pgvector.NewVector(item.Embedding)
			hash = item.EmbeddingHash
		}
		updatedAt := item.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		_, err := stmt.ExecContext(ctx,
			item.Name, item.DiningHall, item.MealPeriod, domain.DateOnly(item.ServingDate).Format(domain.DateLayout),
			item.Calories, item.ProteinG, item.CarbsG, item.FatG, item.SugarsG,
			nullableString(item.ServingSize), pq.Array(nonNil(item.DietTypes)), pq.Array(nonNil(item.Allergens)),
			pq.Array(nonNil(item.Ingredients)), nullableString(item.Description), vector, hash, updatedAt,
		)
		if err != nil {
			return written, wrapDBError(fmt.Sprintf("upsert %s", item), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapDBError("commit upsert tx", err)
	}
	return written, nil
}

// SaveEmbeddings stores vectors computed from the loaded attributes. A row
// updated after it was loaded is skipped, so a concurrent attribute change
// wins over the older vector.
func (r *CatalogRepository) SaveEmbeddings(ctx context.Context, items []domain.MenuItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapDBError("begin embeddings tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PreparexContext(ctx, `
UPDATE menu_items
SET embedding = $1, embedding_hash = $2
WHERE dining_hall = $3 AND meal_period = $4 AND serving_date = $5::date AND item_name = $6 AND updated_at <= $7
`)
	if err != nil {
		return 0, wrapDBError("prepare embeddings update", err)
	}
	defer stmt.Close()

	saved := 0
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		result, err := stmt.ExecContext(ctx,
			pgvector.NewVector(item.Embedding), item.EmbeddingHash,
			item.DiningHall, item.MealPeriod, domain.DateOnly(item.ServingDate).Format(domain.DateLayout), item.Name,
			item.UpdatedAt,
		)
		if err != nil {
			return 0, wrapDBError(fmt.Sprintf("save embedding %s", item), err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, wrapDBError("embeddings rows affected", err)
		}
		saved += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapDBError("commit embeddings tx", err)
	}
	return saved, nil
}

type keyRow struct {
	Name        string    `db:"item_name"`
	DiningHall  string    `db:"dining_hall"`
	MealPeriod  string    `db:"meal_period"`
	ServingDate time.Time `db:"serving_date"`
	Score       float64   `db:"score"`
}

func (k keyRow) key() string {
	return domain.ItemKey(k.DiningHall, k.MealPeriod, k.ServingDate, k.Name)
}

// QueryItems runs a validated plan as parameterized SQL and returns the
// matching snapshot records in SQL order.
func (r *CatalogRepository) QueryItems(ctx context.Context, snap *catalog.Snapshot, plan domain.QueryPlan) ([]domain.MenuItem, error) {
	q, err := compilePlan(plan)
	if err != nil {
		return nil, err
	}
	limit := q.bind(plan.Limit)
	query := fmt.Sprintf(`
SELECT item_name, dining_hall, meal_period, serving_date, 0::float8 AS score
FROM menu_items
%s
ORDER BY %s
LIMIT %s
`, q.whereClause(), strings.Join(q.orderBy, ", "), limit)

	var rows []keyRow
	if err := r.db.SelectContext(ctx, &rows, query, q.args...); err != nil {
		return nil, wrapDBError("query items", err)
	}

	items := make([]domain.MenuItem, 0, len(rows))
	for _, row := range rows {
		if item, ok := snap.Lookup(row.key()); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// NearestItems ranks stored vectors by cosine similarity inside scope.
func (r *CatalogRepository) NearestItems(ctx context.Context, vector []float32, limit int, scope domain.SearchScope) ([]domain.ItemHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := &compiledQuery{}
	target := q.bind(pgvector.NewVector(vector))
	q.where = append(q.where, "embedding IS NOT NULL")
	if len(scope.DiningHalls) > 0 {
		q.where = append(q.where, fmt.Sprintf("lower(btrim(dining_hall)) = ANY(%s)", q.bind(pq.Array(lowerValues(scope.DiningHalls)))))
	}
	if len(scope.MealPeriods) > 0 {
		q.where = append(q.where, fmt.Sprintf("lower(btrim(meal_period)) = ANY(%s)", q.bind(pq.Array(lowerValues(scope.MealPeriods)))))
	}
	if !scope.ServingDate.IsZero() {
		q.where = append(q.where, fmt.Sprintf("serving_date = %s::date", q.bind(domain.DateOnly(scope.ServingDate).Format(domain.DateLayout))))
	}
	if allergens := domain.NormalizeAllergens(scope.ExcludeAllergens); len(allergens) > 0 {
		q.where = append(q.where, allergenExclusion("allergens", q.bind(pq.Array(allergens))))
	}
	query := fmt.Sprintf(`
SELECT item_name, dining_hall, meal_period, serving_date, 1 - (embedding <=> %[1]s) AS score
FROM menu_items
%[2]s
ORDER BY embedding <=> %[1]s, %[3]s
LIMIT %[4]s
`, target, q.whereClause(), keyOrder, q.bind(limit))

	var rows []keyRow
	if err := r.db.SelectContext(ctx, &rows, query, q.args...); err != nil {
		return nil, wrapDBError("nearest items", err)
	}
	hits := make([]domain.ItemHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, domain.ItemHit{Key: row.key(), Score: row.Score})
	}
	return hits, nil
}

// SearchItems resolves NearestItems against the pinned snapshot. Rows whose
// stored vector is stale have no vector in the snapshot and are dropped.
func (r *CatalogRepository) SearchItems(ctx context.Context, snap *catalog.Snapshot, vector []float32, limit int, scope domain.SearchScope) ([]catalog.ScoredItem, error) {
	hits, err := r.NearestItems(ctx, vector, limit, scope)
	if err != nil {
		return nil, err
	}
	resolved := snap.Resolve(hits)
	out := resolved[:0]
	for _, scored := range resolved {
		if len(scored.Item.Embedding) > 0 && catalog.InScope(scored.Item, scope) {
			out = append(out, scored)
		}
	}
	catalog.SortByScore(out)
	return out, nil
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
