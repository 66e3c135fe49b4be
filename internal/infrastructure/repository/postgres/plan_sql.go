package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// normalizedAllergen mirrors domain.NormalizeAllergen for a stored tag.
const normalizedAllergen = `regexp_replace(regexp_replace(lower(regexp_replace(btrim(a), '\s+', ' ', 'g')), ' allerg(y|ies)$', ''), 's$', '')`

// allergenExclusion keeps rows where no tag in col contains any of the
// normalized allergies bound at values. It mirrors domain.AllergenCovers.
func allergenExclusion(col, values string) string {
	return fmt.Sprintf(
		"NOT EXISTS (SELECT 1 FROM unnest(%s) AS a, unnest(%s::text[]) AS x WHERE strpos(%s, x) > 0)",
		col, values, normalizedAllergen,
	)
}

// keyOrder is the final tie-break. It follows the item key layout.
const keyOrder = "lower(dining_hall), lower(meal_period), serving_date, lower(item_name)"

var columnExpr = map[domain.Column]string{
	domain.ColumnItemName:    "item_name",
	domain.ColumnDiningHall:  "dining_hall",
	domain.ColumnMealPeriod:  "meal_period",
	domain.ColumnServingDate: "serving_date",
	domain.ColumnCalories:    "calories",
	domain.ColumnProtein:     "protein_g",
	domain.ColumnCarbs:       "carbs_g",
	domain.ColumnFat:         "fat_g",
	domain.ColumnDietTypes:   "diet_types",
	domain.ColumnAllergens:   "allergens",
}

// compiledQuery is parameterized SQL. Plan values only ever appear in args.
type compiledQuery struct {
	where   []string
	orderBy []string
	args    []any
}

func (q *compiledQuery) bind(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// compilePlan validates plan and turns it into WHERE and ORDER BY fragments
// over menu_items. Column names come from the whitelist, never from the plan.
func compilePlan(plan domain.QueryPlan) (*compiledQuery, error) {
	if err := plan.Validate(domain.MaxPageSize); err != nil {
		return nil, err
	}

	q := &compiledQuery{}
	for _, pred := range plan.Predicates {
		col := columnExpr[pred.Column]
		switch pred.Column {
		case domain.ColumnItemName, domain.ColumnDiningHall, domain.ColumnMealPeriod:
			if pred.Op == domain.OpContains {
				pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(pred.Values[0]))) + "%"
				q.where = append(q.where, fmt.Sprintf("lower(%s) LIKE %s", col, q.bind(pattern)))
				continue
			}
			q.where = append(q.where, fmt.Sprintf("lower(btrim(%s)) = ANY(%s)", col, q.bind(pq.Array(lowerValues(pred.Values)))))
		case domain.ColumnServingDate:
			q.where = append(q.where, fmt.Sprintf("%s = %s::date", col, q.bind(pred.Values[0])))
		case domain.ColumnDietTypes:
			op := "@>"
			if pred.Op == domain.OpHasAny {
				op = "&&"
			}
			q.where = append(q.where, fmt.Sprintf(
				"ARRAY(SELECT lower(d) FROM unnest(%s) AS d) %s %s", col, op, q.bind(pq.Array(lowerValues(pred.Values))),
			))
		case domain.ColumnAllergens:
			q.where = append(q.where, allergenExclusion(col, q.bind(pq.Array(domain.NormalizeAllergens(pred.Values)))))
		default:
			cmp := ">="
			if pred.Op == domain.OpLte {
				cmp = "<="
			}
			q.where = append(q.where, fmt.Sprintf("%s %s %s", col, cmp, q.bind(*pred.Number)))
		}
	}

	for _, term := range plan.OrderBy {
		col := columnExpr[term.Column]
		kind, _ := domain.ColumnKindOf(term.Column)
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		if kind == domain.KindNumber {
			q.orderBy = append(q.orderBy, fmt.Sprintf("%s %s NULLS LAST", col, dir))
			continue
		}
		q.orderBy = append(q.orderBy, fmt.Sprintf("lower(%s) %s", col, dir))
	}
	q.orderBy = append(q.orderBy, keyOrder)
	return q, nil
}

func (q *compiledQuery) whereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(q.where, " AND ")
}

func lowerValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
