package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type RouterMode string

const (
	RouterModeRules RouterMode = "rules"
	RouterModeModel RouterMode = "model"
)

type IntentRouterConfig struct {
	Mode          RouterMode
	MinConfidence float64
}

// RouteInput is everything the router may look at for one turn.
type RouteInput struct {
	Question string
	Filters  domain.UIFilters
	History  []domain.ConversationTurn
	Today    time.Time
}

// IntentRouter turns the latest user turn into a QueryIntent. It only fills a
// slot when the turn or the UI filters name it outright.
type IntentRouter struct {
	vocab    domain.Vocabulary
	model    ports.JSONGenerator
	executor ports.Executor
	cfg      IntentRouterConfig

	halls []aliasPattern
	meals []aliasPattern
	diets []aliasPattern
}

type aliasPattern struct {
	re        *regexp.Regexp
	canonical string
}

var (
	reMaxCalories   = regexp.MustCompile(`\b(?:under|below|less than|fewer than|at most|no more than|up to|max(?:imum)?(?: of)?)\s*(\d{1,5})\s*(?:k?cals?|calories?)\b`)
	reMinCalories   = regexp.MustCompile(`\b(?:over|above|more than|at least|min(?:imum)?(?: of)?)\s*(\d{1,5})\s*(?:k?cals?|calories?)\b`)
	reBareCalories  = regexp.MustCompile(`\b(\d{1,5})\s*(?:k?cals?|calories?)\b`)
	reLowCalorie    = regexp.MustCompile(`\blow[\s-]*cal(?:orie)?s?\b`)
	reLeastCalorie  = regexp.MustCompile(`\b(?:lowest|fewest|least)\s+calories?\b`)
	reMaxProtein    = regexp.MustCompile(`\b(?:under|below|less than|at most)\s*(\d{1,3})\s*(?:g|grams?)\s*(?:of\s+)?protein\b`)
	reGramsProtein  = regexp.MustCompile(`\b(?:(?:at least|over|more than|min(?:imum)?)\s*)?(\d{1,3})\s*(?:g|grams?)\s*(?:of\s+)?protein\b`)
	reHighProtein   = regexp.MustCompile(`\b(?:high[\s-]*protein|protein[\s-]*(?:rich|packed))\b`)
	reBestProtein   = regexp.MustCompile(`\b(?:best|most|highest|max(?:imum)?)\s+protein\b`)
	reTomorrow      = regexp.MustCompile(`\btomorrow(?:'s)?\b`)
	reToday         = regexp.MustCompile(`\b(?:today(?:'s)?|tonight(?:'s)?|right now)\b`)
	reGreeting      = regexp.MustCompile(`^\s*(?:hi|hello|hey|yo|thanks|thank you|thx|good (?:morning|afternoon|evening)|bye|goodbye|ok(?:ay)?|cool|great)\b`)
	reNumberOnlyTok = regexp.MustCompile(`^\d+$`)
)

const (
	highProteinFloor = 20
	bestProteinFloor = 15
	lowCalorieCap    = 400
)

var routerStopWords = toSet(
	"a", "about", "all", "am", "an", "and", "any", "anything", "are", "around", "at", "available",
	"be", "can", "could", "dining", "dish", "dishes", "do", "does", "eat", "eating", "find", "food",
	"foods", "for", "from", "g", "get", "give", "good", "got", "grams", "hall", "halls", "has", "have",
	"hey", "hi", "hello", "how", "i", "i'm", "im", "in", "is", "it", "item", "items", "kind", "like", "list",
	"me", "meal", "meals", "menu", "my", "need", "of", "on", "option", "options", "or", "please",
	"recommend", "serve", "served", "serving", "show", "some", "something", "suggest", "tell", "that",
	"the", "their", "there", "these", "this", "to", "today", "tomorrow", "tonight", "want", "was",
	"what", "what's", "whats", "where", "which", "with", "would", "you", "thanks", "thank",
	"calorie", "calories", "protein", "cal", "cals", "kcal", "high", "low", "best", "top", "under",
	"over", "less", "than", "more", "least", "most", "also", "still", "right", "now",
	"ok", "okay", "cool", "great", "yo", "thx", "bye", "goodbye", "morning", "afternoon", "evening",
)

func NewIntentRouter(vocab domain.Vocabulary, model ports.JSONGenerator, executor ports.Executor, cfg IntentRouterConfig) *IntentRouter {
	if cfg.Mode == "" {
		cfg.Mode = RouterModeRules
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}

	r := &IntentRouter{
		vocab:    vocab,
		model:    model,
		executor: executor,
		cfg:      cfg,
	}
	hallAliases := make(map[string]string, len(vocab.DiningHalls))
	for _, hall := range vocab.DiningHalls {
		hallAliases[strings.ToLower(hall)] = hall
	}
	r.halls = compileAliases(hallAliases)
	r.meals = compileAliases(vocab.MealAliases)
	r.diets = compileAliases(vocab.DietAliases)
	return r
}

func (r *IntentRouter) Route(ctx context.Context, in RouteInput) (domain.QueryIntent, error) {
	filters, err := r.validateFilters(in.Filters)
	if err != nil {
		return domain.QueryIntent{}, err
	}
	today := domain.DateOnly(in.Today)

	var intent domain.QueryIntent
	if r.cfg.Mode == RouterModeModel && r.model != nil {
		intent, err = r.routeWithModel(ctx, in, today)
		if err != nil {
			if ctx.Err() != nil {
				return domain.QueryIntent{}, ctx.Err()
			}
			slog.Warn("intent_model_fallback", "error", err)
			intent = domain.QueryIntent{
				Kind:   domain.IntentSemantic,
				Slots:  domain.Slots{ServingDate: today},
				Source: domain.IntentSourceFallback,
			}
		}
	} else {
		intent = r.routeWithRules(in.Question, today, !filters.IsEmpty())
	}

	applyUIFilters(&intent.Slots, filters)
	if intent.Slots.ServingDate.IsZero() {
		intent.Slots.ServingDate = today
	}

	slog.Debug("intent_routed",
		"kind", intent.Kind,
		"source", intent.Source,
		"ambiguous", intent.Ambiguous,
		"halls", intent.Slots.DiningHalls,
		"meals", intent.Slots.MealPeriods,
		"diets", intent.Slots.Diets,
	)
	return intent, nil
}

// validateFilters maps caller filters onto canonical vocabulary values.
func (r *IntentRouter) validateFilters(f domain.UIFilters) (domain.UIFilters, error) {
	out := domain.UIFilters{}
	for _, raw := range f.DiningHalls {
		hall, ok := r.vocab.NormalizeHall(raw)
		if !ok {
			return domain.UIFilters{}, domain.WrapError(domain.ErrInvalidInput, "validate filters", fmt.Errorf("unknown dining hall %q", raw))
		}
		out.DiningHalls = appendUnique(out.DiningHalls, hall)
	}
	for _, raw := range f.MealPeriods {
		meal, ok := r.vocab.NormalizeMeal(raw)
		if !ok {
			return domain.UIFilters{}, domain.WrapError(domain.ErrInvalidInput, "validate filters", fmt.Errorf("unknown meal period %q", raw))
		}
		out.MealPeriods = appendUnique(out.MealPeriods, meal)
	}
	return out, nil
}

func (r *IntentRouter) routeWithRules(question string, today time.Time, hasUIFilters bool) domain.QueryIntent {
	text := " " + strings.ToLower(strings.TrimSpace(question)) + " "
	slots := domain.Slots{}

	if m := reMaxProtein.FindStringSubmatch(text); m != nil {
		slots.MaxProtein = parseSlotNumber(m[1])
		text = blank(text, reMaxProtein)
	}
	if m := reGramsProtein.FindStringSubmatch(text); m != nil {
		slots.MinProtein = parseSlotNumber(m[1])
		text = blank(text, reGramsProtein)
	}
	if reBestProtein.MatchString(text) {
		if slots.MinProtein == nil {
			slots.MinProtein = domain.Float(bestProteinFloor)
		}
		slots.Sort = domain.SortProteinDesc
		text = blank(text, reBestProtein)
	}
	if reHighProtein.MatchString(text) {
		if slots.MinProtein == nil {
			slots.MinProtein = domain.Float(highProteinFloor)
		}
		text = blank(text, reHighProtein)
	}

	if m := reMaxCalories.FindStringSubmatch(text); m != nil {
		slots.MaxCalories = parseSlotNumber(m[1])
		text = blank(text, reMaxCalories)
	}
	if m := reMinCalories.FindStringSubmatch(text); m != nil {
		slots.MinCalories = parseSlotNumber(m[1])
		text = blank(text, reMinCalories)
	}
	if slots.MaxCalories == nil && slots.MinCalories == nil {
		if m := reBareCalories.FindStringSubmatch(text); m != nil {
			slots.MaxCalories = parseSlotNumber(m[1])
			text = blank(text, reBareCalories)
		}
	}
	if reLeastCalorie.MatchString(text) {
		if slots.Sort == "" {
			slots.Sort = domain.SortCaloriesAsc
		}
		text = blank(text, reLeastCalorie)
	}
	if reLowCalorie.MatchString(text) {
		if slots.MaxCalories == nil {
			slots.MaxCalories = domain.Float(lowCalorieCap)
		}
		text = blank(text, reLowCalorie)
	}

	slots.DiningHalls, text = matchAliases(r.halls, text)
	slots.MealPeriods, text = matchAliases(r.meals, text)
	slots.Diets, text = matchAliases(r.diets, text)

	switch {
	case reTomorrow.MatchString(text):
		slots.ServingDate = today.AddDate(0, 0, 1)
	default:
		slots.ServingDate = today
	}
	text = blank(blank(text, reTomorrow), reToday)

	if slots.ValidateRanges() != nil {
		// Contradictory numbers are not an unambiguous request.
		slots.MinCalories, slots.MaxCalories = nil, nil
		slots.MinProtein, slots.MaxProtein = nil, nil
	}

	remainder := contentRemainder(text)
	intent := domain.QueryIntent{
		Slots:     slots,
		Remainder: remainder,
		Source:    domain.IntentSourceRules,
	}

	greeting := reGreeting.MatchString(strings.ToLower(question))
	switch {
	case slots.HasFilters() && remainder != "":
		intent.Kind = domain.IntentHybrid
	case slots.HasFilters():
		intent.Kind = domain.IntentStructured
	case remainder != "":
		intent.Kind = domain.IntentSemantic
	case greeting:
		intent.Kind = domain.IntentConversational
	case hasUIFilters:
		intent.Kind = domain.IntentStructured
	default:
		slog.Info("intent_ambiguous", "error", domain.ErrClassificationAmbiguous.Error())
		intent.Kind = domain.IntentSemantic
		intent.Ambiguous = true
	}
	return intent
}

func applyUIFilters(slots *domain.Slots, filters domain.UIFilters) {
	if len(filters.DiningHalls) > 0 {
		slots.DiningHalls = filters.DiningHalls
	}
	if len(filters.MealPeriods) > 0 {
		slots.MealPeriods = filters.MealPeriods
	}
}

func compileAliases(aliases map[string]string) []aliasPattern {
	keys := make([]string, 0, len(aliases))
	for alias := range aliases {
		keys = append(keys, alias)
	}
	// Longer spellings first so "late night" wins over any shorter alias.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	out := make([]aliasPattern, 0, len(keys))
	for _, alias := range keys {
		pattern := `\b` + strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(alias)), " ", `\s+`) + `\b`
		out = append(out, aliasPattern{re: regexp.MustCompile(pattern), canonical: aliases[alias]})
	}
	return out
}

func matchAliases(patterns []aliasPattern, text string) ([]string, string) {
	var found []string
	for _, p := range patterns {
		if p.re.MatchString(text) {
			found = appendUnique(found, p.canonical)
			text = blank(text, p.re)
		}
	}
	return found, text
}

func contentRemainder(text string) string {
	tokens := splitAlphaNumLower(text)
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := routerStopWords[token]; stop {
			continue
		}
		if len(token) < 2 || reNumberOnlyTok.MatchString(token) {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

func blank(text string, re *regexp.Regexp) string {
	return re.ReplaceAllString(text, " ")
}

func parseSlotNumber(raw string) *float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

func toSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
