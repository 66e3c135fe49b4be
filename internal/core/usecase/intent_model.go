package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// modelIntent is the only shape accepted from the router model.
type modelIntent struct {
	Intent      string   `json:"intent"`
	DiningHalls []string `json:"dining_halls"`
	Meals       []string `json:"meals"`
	Diets       []string `json:"diets"`
	MinCalories *float64 `json:"min_calories"`
	MaxCalories *float64 `json:"max_calories"`
	MinProtein  *float64 `json:"min_protein"`
	MaxProtein  *float64 `json:"max_protein"`
	Sort        string   `json:"sort"`
	Date        string   `json:"date"`
	SearchQuery string   `json:"search_query"`
	Confidence  *float64 `json:"confidence"`
}

const routerHistoryTurns = 4

func (r *IntentRouter) routeWithModel(ctx context.Context, in RouteInput, today time.Time) (domain.QueryIntent, error) {
	prompt := r.buildRouterPrompt(in)

	var raw string
	call := func(ctx context.Context) error {
		out, err := r.model.GenerateJSON(ctx, prompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	}
	var err error
	if r.executor != nil {
		err = r.executor.Run(ctx, "router.generate_json", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.QueryIntent{}, fmt.Errorf("router model: %w", err)
	}

	var parsed modelIntent
	if err := decodeModelJSON(raw, &parsed); err != nil {
		return domain.QueryIntent{}, domain.WrapError(domain.ErrClassificationAmbiguous, "router model", err)
	}
	intent, err := r.validateModelIntent(parsed, in.Question, today)
	if err != nil {
		return domain.QueryIntent{}, domain.WrapError(domain.ErrClassificationAmbiguous, "router model", err)
	}
	return intent, nil
}

// validateModelIntent checks every field against the enumerated slot schema.
// Nothing is coerced: one bad field rejects the whole answer.
func (r *IntentRouter) validateModelIntent(m modelIntent, question string, today time.Time) (domain.QueryIntent, error) {
	kind := domain.IntentKind(strings.ToLower(strings.TrimSpace(m.Intent)))
	if !kind.Valid() {
		return domain.QueryIntent{}, fmt.Errorf("unknown intent %q", m.Intent)
	}
	if m.Confidence == nil || *m.Confidence < r.cfg.MinConfidence || *m.Confidence > 1 {
		return domain.QueryIntent{}, errors.New("confidence missing or below threshold")
	}

	slots := domain.Slots{
		MinCalories: m.MinCalories,
		MaxCalories: m.MaxCalories,
		MinProtein:  m.MinProtein,
		MaxProtein:  m.MaxProtein,
	}
	for _, raw := range m.DiningHalls {
		hall, ok := r.vocab.NormalizeHall(raw)
		if !ok {
			return domain.QueryIntent{}, fmt.Errorf("unknown dining hall %q", raw)
		}
		slots.DiningHalls = appendUnique(slots.DiningHalls, hall)
	}
	for _, raw := range m.Meals {
		meal, ok := r.vocab.NormalizeMeal(raw)
		if !ok {
			return domain.QueryIntent{}, fmt.Errorf("unknown meal %q", raw)
		}
		slots.MealPeriods = appendUnique(slots.MealPeriods, meal)
	}
	for _, raw := range m.Diets {
		diet, ok := r.vocab.NormalizeDiet(raw)
		if !ok {
			return domain.QueryIntent{}, fmt.Errorf("unknown diet %q", raw)
		}
		slots.Diets = appendUnique(slots.Diets, diet)
	}

	switch domain.SortOrder(m.Sort) {
	case "", domain.SortNameAsc, domain.SortProteinDesc, domain.SortCaloriesAsc:
		slots.Sort = domain.SortOrder(m.Sort)
	default:
		return domain.QueryIntent{}, fmt.Errorf("unknown sort %q", m.Sort)
	}

	switch strings.ToLower(strings.TrimSpace(m.Date)) {
	case "", "today":
		slots.ServingDate = today
	case "tomorrow":
		slots.ServingDate = today.AddDate(0, 0, 1)
	default:
		return domain.QueryIntent{}, fmt.Errorf("unknown date %q", m.Date)
	}

	if err := slots.ValidateRanges(); err != nil {
		return domain.QueryIntent{}, err
	}
	scaleProteinFloor(&slots)

	remainder := strings.TrimSpace(m.SearchQuery)
	if len(remainder) > 200 {
		return domain.QueryIntent{}, errors.New("search_query too long")
	}
	switch kind {
	case domain.IntentStructured:
		if !slots.HasFilters() {
			return domain.QueryIntent{}, errors.New("structured intent without filters")
		}
	case domain.IntentHybrid:
		if !slots.HasFilters() {
			kind = domain.IntentSemantic
		}
		if remainder == "" {
			remainder = question
		}
	}

	return domain.QueryIntent{
		Kind:      kind,
		Slots:     slots,
		Remainder: remainder,
		Source:    domain.IntentSourceModel,
	}, nil
}

// scaleProteinFloor keeps model protein targets from filtering out items that
// reach the goal over several portions.
func scaleProteinFloor(slots *domain.Slots) {
	if slots.MinProtein == nil {
		return
	}
	switch v := *slots.MinProtein; {
	case v >= 15:
		slots.MinProtein = domain.Float(10)
	case v < 8:
		slots.MinProtein = domain.Float(8)
	}
	if slots.MaxProtein != nil && *slots.MaxProtein < *slots.MinProtein {
		slots.MaxProtein = nil
	}
	if slots.Sort == "" {
		slots.Sort = domain.SortProteinDesc
	}
}

func (r *IntentRouter) buildRouterPrompt(in RouteInput) string {
	var b strings.Builder
	b.WriteString(`You route dining-hall menu questions. Return ONE JSON object and nothing else, with exactly these keys:
intent: "structured" | "semantic" | "hybrid" | "conversational"
dining_halls: array of `)
	b.WriteString(quoteList(r.vocab.DiningHalls))
	b.WriteString("\nmeals: array of ")
	b.WriteString(quoteList(r.vocab.MealPeriods()))
	b.WriteString("\ndiets: array of ")
	b.WriteString(quoteList(r.vocab.Diets()))
	b.WriteString(`
min_calories, max_calories, min_protein, max_protein: number or null
sort: "" | "name_asc" | "protein_desc" | "calories_asc"
date: "today" | "tomorrow"
search_query: the descriptive words that are not covered by the filters
confidence: number from 0 to 1

Rules:
- Only fill a filter when the user names it. Leave it empty otherwise.
- structured: the question is fully described by filters.
- semantic: a vibe or dish description with no filters ("something like mac and cheese").
- hybrid: filters plus a description ("spicy food at Worcester").
- conversational: greetings or thanks with no food request.
`)

	history := lastTurns(in.History, routerHistoryTurns)
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(in.Question)
	return b.String()
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, fmt.Sprintf("%q", v))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func lastTurns(turns []domain.ConversationTurn, n int) []domain.ConversationTurn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
