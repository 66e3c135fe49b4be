package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type StructuredQueryConfig struct {
	PageSize    int
	ModelAssist bool
}

// StructuredQueryGenerator turns slots into a validated, parameterized plan
// and runs it against the structured side of the catalog.
type StructuredQueryGenerator struct {
	catalog  ports.StructuredCatalog
	model    ports.JSONGenerator
	executor ports.Executor
	cfg      StructuredQueryConfig
}

// StructuredOutcome reports how the executed plan was produced.
type StructuredOutcome struct {
	Plan               domain.QueryPlan
	ValidationFallback bool
}

// Only these columns may be narrowed by model assistance. Date, location and
// allergen predicates are owned by the generator.
var assistColumns = map[domain.Column]struct{}{
	domain.ColumnItemName:  {},
	domain.ColumnCalories:  {},
	domain.ColumnProtein:   {},
	domain.ColumnCarbs:     {},
	domain.ColumnFat:       {},
	domain.ColumnDietTypes: {},
}

func NewStructuredQueryGenerator(
	structured ports.StructuredCatalog,
	model ports.JSONGenerator,
	executor ports.Executor,
	cfg StructuredQueryConfig,
) *StructuredQueryGenerator {
	if cfg.PageSize <= 0 || cfg.PageSize > domain.MaxPageSize {
		cfg.PageSize = domain.MaxPageSize
	}
	return &StructuredQueryGenerator{
		catalog:  structured,
		model:    model,
		executor: executor,
		cfg:      cfg,
	}
}

func (g *StructuredQueryGenerator) Retrieve(
	ctx context.Context,
	snap *catalog.Snapshot,
	intent domain.QueryIntent,
	question string,
	allergies []string,
) ([]domain.RetrievalCandidate, StructuredOutcome, error) {
	if !intent.Slots.HasFilters() {
		return nil, StructuredOutcome{}, nil
	}

	outcome, err := g.Plan(ctx, intent, question, allergies)
	if err != nil {
		return nil, outcome, err
	}

	items, err := g.catalog.QueryItems(ctx, snap, outcome.Plan)
	if err != nil {
		return nil, outcome, fmt.Errorf("query structured catalog: %w", err)
	}

	scores := tieScores(items, outcome.Plan.OrderBy)
	out := make([]domain.RetrievalCandidate, 0, len(items))
	for i, item := range items {
		out = append(out, domain.RetrievalCandidate{
			Item:       item,
			Provenance: domain.ProvenanceStructured,
			Rank:       i + 1,
			Score:      scores[i],
		})
	}
	return out, outcome, nil
}

// Plan builds the final plan. Model additions that fail validation are
// discarded in favour of the slot-only plan. The date and allergy
// predicates are appended last, whatever produced the rest.
func (g *StructuredQueryGenerator) Plan(
	ctx context.Context,
	intent domain.QueryIntent,
	question string,
	allergies []string,
) (StructuredOutcome, error) {
	if err := intent.Slots.ValidateRanges(); err != nil {
		return StructuredOutcome{}, domain.WrapError(domain.ErrQueryValidationFailed, "build structured plan", err)
	}

	plan := g.slotPlan(intent.Slots)
	outcome := StructuredOutcome{}

	if g.cfg.ModelAssist && g.model != nil {
		assisted, err := g.assist(ctx, plan, question)
		switch {
		case err == nil:
			plan = assisted
		case ctx.Err() != nil:
			return StructuredOutcome{}, ctx.Err()
		default:
			slog.Warn("query_validation_failed", "stage", "model_assist", "error", err)
			outcome.ValidationFallback = true
		}
	}

	plan = withMandatoryPredicates(plan, intent.Slots, allergies)
	if err := plan.Validate(domain.MaxPageSize); err != nil {
		slog.Warn("query_validation_failed", "stage", "final", "error", err)
		return StructuredOutcome{ValidationFallback: true}, err
	}
	outcome.Plan = plan
	return outcome, nil
}

func (g *StructuredQueryGenerator) slotPlan(slots domain.Slots) domain.QueryPlan {
	plan := domain.QueryPlan{
		Table: domain.MenuItemsTable,
		Limit: g.cfg.PageSize,
	}
	if len(slots.DiningHalls) > 0 {
		plan.Predicates = append(plan.Predicates, domain.Predicate{
			Column: domain.ColumnDiningHall, Op: domain.OpIn, Values: slots.DiningHalls,
		})
	}
	if len(slots.MealPeriods) > 0 {
		plan.Predicates = append(plan.Predicates, domain.Predicate{
			Column: domain.ColumnMealPeriod, Op: domain.OpIn, Values: slots.MealPeriods,
		})
	}
	if len(slots.Diets) > 0 {
		plan.Predicates = append(plan.Predicates, domain.Predicate{
			Column: domain.ColumnDietTypes, Op: domain.OpHasAll, Values: slots.Diets,
		})
	}
	addRange := func(column domain.Column, lo, hi *float64) {
		if lo != nil {
			plan.Predicates = append(plan.Predicates, domain.Predicate{Column: column, Op: domain.OpGte, Number: lo})
		}
		if hi != nil {
			plan.Predicates = append(plan.Predicates, domain.Predicate{Column: column, Op: domain.OpLte, Number: hi})
		}
	}
	addRange(domain.ColumnCalories, slots.MinCalories, slots.MaxCalories)
	addRange(domain.ColumnProtein, slots.MinProtein, slots.MaxProtein)

	switch slots.Sort {
	case domain.SortProteinDesc:
		plan.OrderBy = append(plan.OrderBy, domain.OrderTerm{Column: domain.ColumnProtein, Desc: true})
	case domain.SortCaloriesAsc:
		plan.OrderBy = append(plan.OrderBy, domain.OrderTerm{Column: domain.ColumnCalories})
	}
	plan.OrderBy = append(plan.OrderBy,
		domain.OrderTerm{Column: domain.ColumnItemName},
		domain.OrderTerm{Column: domain.ColumnDiningHall},
		domain.OrderTerm{Column: domain.ColumnMealPeriod},
	)
	return plan
}

// tieScores scores ordered items so that items tied on the requested sort
// share a score. The first tie class scores 1 and each change of sort value
// lowers it. The item name and later terms only break ties and are ignored.
func tieScores(items []domain.MenuItem, order []domain.OrderTerm) []float64 {
	var sortColumns []domain.Column
	for _, term := range order {
		if term.Column == domain.ColumnItemName {
			break
		}
		sortColumns = append(sortColumns, term.Column)
	}

	scores := make([]float64, len(items))
	class := 0
	for i := range items {
		if i > 0 && !sameSortValues(items[i-1], items[i], sortColumns) {
			class++
		}
		scores[i] = 1 / float64(1+class)
	}
	return scores
}

func sameSortValues(a, b domain.MenuItem, columns []domain.Column) bool {
	for _, column := range columns {
		x, y := a.Number(column), b.Number(column)
		if (x == nil) != (y == nil) || (x != nil && *x != *y) {
			return false
		}
	}
	return true
}

func withMandatoryPredicates(plan domain.QueryPlan, slots domain.Slots, allergies []string) domain.QueryPlan {
	out := plan
	exclusions := domain.AllergenExclusions(allergies)
	out.Predicates = make([]domain.Predicate, 0, len(plan.Predicates)+1+len(exclusions))
	out.Predicates = append(out.Predicates, plan.Predicates...)

	if !slots.ServingDate.IsZero() {
		out.Predicates = append(out.Predicates, domain.Predicate{
			Column: domain.ColumnServingDate,
			Op:     domain.OpEq,
			Values: []string{domain.DateOnly(slots.ServingDate).Format(domain.DateLayout)},
		})
	}
	out.Predicates = append(out.Predicates, exclusions...)
	if out.Limit <= 0 || out.Limit > domain.MaxPageSize {
		out.Limit = domain.MaxPageSize
	}
	return out
}

type assistResponse struct {
	Predicates []domain.Predicate `json:"predicates"`
}

func (g *StructuredQueryGenerator) assist(ctx context.Context, base domain.QueryPlan, question string) (domain.QueryPlan, error) {
	prompt := buildAssistPrompt(base, question)

	var raw string
	call := func(ctx context.Context) error {
		out, err := g.model.GenerateJSON(ctx, prompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	}
	var err error
	if g.executor != nil {
		err = g.executor.Run(ctx, "structured.generate_json", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.QueryPlan{}, fmt.Errorf("query assist model: %w", err)
	}

	var resp assistResponse
	if err := decodeModelJSON(raw, &resp); err != nil {
		return domain.QueryPlan{}, domain.WrapError(domain.ErrQueryValidationFailed, "query assist", err)
	}
	return mergeAssistPredicates(base, resp.Predicates)
}

// mergeAssistPredicates appends model predicates to the slot plan after
// checking them against the assist whitelist and the plan schema.
func mergeAssistPredicates(base domain.QueryPlan, extra []domain.Predicate) (domain.QueryPlan, error) {
	for i, pred := range extra {
		if _, ok := assistColumns[pred.Column]; !ok {
			return domain.QueryPlan{}, domain.WrapError(
				domain.ErrQueryValidationFailed,
				"query assist",
				fmt.Errorf("predicate %d: column %q is not open to assistance", i, pred.Column),
			)
		}
	}

	out := base
	out.Predicates = make([]domain.Predicate, 0, len(base.Predicates)+len(extra))
	out.Predicates = append(out.Predicates, base.Predicates...)
	out.Predicates = append(out.Predicates, extra...)
	if err := out.Validate(domain.MaxPageSize); err != nil {
		return domain.QueryPlan{}, err
	}
	return out, nil
}

func buildAssistPrompt(base domain.QueryPlan, question string) string {
	var b strings.Builder
	b.WriteString(`You refine a menu search. Return ONE JSON object {"predicates": [...]} and nothing else.
Each predicate is {"column": ..., "op": ..., "values": [strings]} or {"column": ..., "op": ..., "number": n}.
Allowed columns and operators:
- item_name: eq, in, contains (values)
- calories, protein_g, carbs_g, fat_g: gte, lte (number, non-negative)
- diet_types: has_all, has_any (values)
Only add predicates the question states explicitly. Return {"predicates": []} when nothing applies.
`)
	if len(base.Predicates) > 0 {
		b.WriteString("\nFilters already applied:\n")
		for _, pred := range base.Predicates {
			if pred.Number != nil {
				fmt.Fprintf(&b, "- %s %s %g\n", pred.Column, pred.Op, *pred.Number)
				continue
			}
			fmt.Fprintf(&b, "- %s %s %s\n", pred.Column, pred.Op, strings.Join(pred.Values, ", "))
		}
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
