package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

func newRulesRouter() *IntentRouter {
	return NewIntentRouter(domain.DefaultVocabulary(), nil, nil, IntentRouterConfig{Mode: RouterModeRules})
}

func TestRouteRulesFullyFilteredQuestionIsStructured(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "vegan dinner under 400 calories at Worcester",
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Kind != domain.IntentStructured {
		t.Fatalf("expected structured, got %s (remainder %q)", intent.Kind, intent.Remainder)
	}
	s := intent.Slots
	if !reflect.DeepEqual(s.DiningHalls, []string{"Worcester"}) {
		t.Fatalf("unexpected halls: %v", s.DiningHalls)
	}
	if !reflect.DeepEqual(s.MealPeriods, []string{"dinner"}) {
		t.Fatalf("unexpected meals: %v", s.MealPeriods)
	}
	if !reflect.DeepEqual(s.Diets, []string{"vegan"}) {
		t.Fatalf("unexpected diets: %v", s.Diets)
	}
	if s.MaxCalories == nil || *s.MaxCalories != 400 {
		t.Fatalf("expected max calories 400, got %v", s.MaxCalories)
	}
	if !s.ServingDate.Equal(testToday) {
		t.Fatalf("expected today, got %s", s.ServingDate)
	}
	if intent.Source != domain.IntentSourceRules {
		t.Fatalf("expected rules source, got %s", intent.Source)
	}
}

func TestRouteRulesDescriptionOnlyIsSemantic(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "something like mac and cheese",
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Kind != domain.IntentSemantic {
		t.Fatalf("expected semantic, got %s", intent.Kind)
	}
	if intent.Slots.HasFilters() {
		t.Fatalf("no slot was named, got %+v", intent.Slots)
	}
	if intent.Remainder != "mac cheese" {
		t.Fatalf("unexpected remainder %q", intent.Remainder)
	}
}

func TestRouteRulesFiltersPlusDescriptionIsHybrid(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "late night spicy snacks at Berkshire",
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Kind != domain.IntentHybrid {
		t.Fatalf("expected hybrid, got %s", intent.Kind)
	}
	if !reflect.DeepEqual(intent.Slots.MealPeriods, []string{"late night"}) {
		t.Fatalf("unexpected meals: %v", intent.Slots.MealPeriods)
	}
	if !reflect.DeepEqual(intent.Slots.DiningHalls, []string{"Berkshire"}) {
		t.Fatalf("unexpected halls: %v", intent.Slots.DiningHalls)
	}
	if intent.Remainder != "spicy snacks" {
		t.Fatalf("unexpected remainder %q", intent.Remainder)
	}
}

func TestRouteRulesProteinPhrases(t *testing.T) {
	cases := []struct {
		question string
		min      float64
		sort     domain.SortOrder
	}{
		{question: "high protein vegan options today", min: 20},
		{question: "at least 30g of protein for lunch", min: 30},
		{question: "what has the most protein at Franklin", min: 15, sort: domain.SortProteinDesc},
	}
	for _, tc := range cases {
		intent, err := newRulesRouter().Route(context.Background(), RouteInput{Question: tc.question, Today: testToday})
		if err != nil {
			t.Fatalf("%q: route: %v", tc.question, err)
		}
		if intent.Slots.MinProtein == nil || *intent.Slots.MinProtein != tc.min {
			t.Fatalf("%q: expected min protein %.0f, got %v", tc.question, tc.min, intent.Slots.MinProtein)
		}
		if intent.Slots.Sort != tc.sort {
			t.Fatalf("%q: expected sort %q, got %q", tc.question, tc.sort, intent.Slots.Sort)
		}
		if !intent.Kind.UsesStructured() {
			t.Fatalf("%q: expected the structured path, got %s", tc.question, intent.Kind)
		}
	}
}

func TestRouteRulesTomorrow(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "what's for breakfast tomorrow",
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !intent.Slots.ServingDate.Equal(testToday.AddDate(0, 0, 1)) {
		t.Fatalf("expected tomorrow, got %s", intent.Slots.ServingDate)
	}
	if intent.Kind != domain.IntentStructured {
		t.Fatalf("expected structured, got %s", intent.Kind)
	}
}

func TestRouteRulesContradictoryRangeIsDropped(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "over 600 calories and under 400 calories",
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Slots.MinCalories != nil || intent.Slots.MaxCalories != nil {
		t.Fatalf("inverted range must not survive, got %+v", intent.Slots)
	}
	if intent.Kind.UsesStructured() {
		t.Fatalf("expected no structured path, got %s", intent.Kind)
	}
}

func TestRouteRulesGreetingIsConversational(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{Question: "hi there!", Today: testToday})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Kind != domain.IntentConversational {
		t.Fatalf("expected conversational, got %s", intent.Kind)
	}
}

func TestRouteRulesNothingRecognizableIsAmbiguousSemantic(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{Question: "what is there", Today: testToday})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Kind != domain.IntentSemantic || !intent.Ambiguous {
		t.Fatalf("expected ambiguous semantic, got %+v", intent)
	}
}

func TestRouteUIFiltersOverrideAndStandAlone(t *testing.T) {
	intent, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "what is there",
		Filters:  domain.UIFilters{DiningHalls: []string{"franklin"}, MealPeriods: []string{"Supper"}},
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Kind != domain.IntentStructured {
		t.Fatalf("expected structured, got %s", intent.Kind)
	}
	if !reflect.DeepEqual(intent.Slots.DiningHalls, []string{"Franklin"}) {
		t.Fatalf("unexpected halls: %v", intent.Slots.DiningHalls)
	}
	if !reflect.DeepEqual(intent.Slots.MealPeriods, []string{"dinner"}) {
		t.Fatalf("unexpected meals: %v", intent.Slots.MealPeriods)
	}

	intent, err = newRulesRouter().Route(context.Background(), RouteInput{
		Question: "vegan food at Worcester",
		Filters:  domain.UIFilters{DiningHalls: []string{"Hampshire"}},
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !reflect.DeepEqual(intent.Slots.DiningHalls, []string{"Hampshire"}) {
		t.Fatalf("ui filter must override the turn, got %v", intent.Slots.DiningHalls)
	}
}

func TestRouteRejectsUnknownUIFilter(t *testing.T) {
	_, err := newRulesRouter().Route(context.Background(), RouteInput{
		Question: "lunch",
		Filters:  domain.UIFilters{DiningHalls: []string{"Hogwarts"}},
		Today:    testToday,
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRouteModelValidAnswer(t *testing.T) {
	model := &fakeJSONGenerator{responses: []string{
		"```json\n" + `{"intent":"hybrid","dining_halls":["worcester"],"meals":["dinner"],"diets":[],"min_calories":null,"max_calories":null,"min_protein":25,"max_protein":null,"sort":"","date":"tomorrow","search_query":"spicy","confidence":0.9}` + "\n```",
	}}
	router := NewIntentRouter(domain.DefaultVocabulary(), model, &passExecutor{}, IntentRouterConfig{Mode: RouterModeModel})

	intent, err := router.Route(context.Background(), RouteInput{Question: "spicy high protein dinner at worcester tomorrow", Today: testToday})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Source != domain.IntentSourceModel || intent.Kind != domain.IntentHybrid {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if !reflect.DeepEqual(intent.Slots.DiningHalls, []string{"Worcester"}) {
		t.Fatalf("hall must be canonicalized, got %v", intent.Slots.DiningHalls)
	}
	if intent.Slots.MinProtein == nil || *intent.Slots.MinProtein != 10 {
		t.Fatalf("expected portion-scaled protein floor 10, got %v", intent.Slots.MinProtein)
	}
	if intent.Slots.Sort != domain.SortProteinDesc {
		t.Fatalf("expected protein_desc sort, got %q", intent.Slots.Sort)
	}
	if !intent.Slots.ServingDate.Equal(testToday.AddDate(0, 0, 1)) {
		t.Fatalf("expected tomorrow, got %s", intent.Slots.ServingDate)
	}
	if intent.Remainder != "spicy" {
		t.Fatalf("unexpected remainder %q", intent.Remainder)
	}
}

func TestRouteModelInvalidOutputFallsBackToSemantic(t *testing.T) {
	cases := map[string]string{
		"not json":         "I think they want dinner",
		"unknown hall":     `{"intent":"structured","dining_halls":["Hogwarts"],"meals":[],"diets":[],"sort":"","date":"today","search_query":"","confidence":0.9}`,
		"low confidence":   `{"intent":"semantic","dining_halls":[],"meals":[],"diets":[],"sort":"","date":"today","search_query":"soup","confidence":0.2}`,
		"unknown field":    `{"intent":"semantic","confidence":0.9,"sql":"DROP TABLE menu_items"}`,
		"negative bound":   `{"intent":"structured","max_calories":-5,"date":"today","confidence":0.9}`,
		"structured empty": `{"intent":"structured","date":"today","confidence":0.9}`,
	}
	for name, raw := range cases {
		model := &fakeJSONGenerator{responses: []string{raw}}
		router := NewIntentRouter(domain.DefaultVocabulary(), model, &passExecutor{}, IntentRouterConfig{Mode: RouterModeModel})

		intent, err := router.Route(context.Background(), RouteInput{Question: "dinner ideas", Today: testToday})
		if err != nil {
			t.Fatalf("%s: route must not fail, got %v", name, err)
		}
		if intent.Kind != domain.IntentSemantic || intent.Source != domain.IntentSourceFallback {
			t.Fatalf("%s: expected semantic fallback, got %+v", name, intent)
		}
		if intent.Slots.HasFilters() {
			t.Fatalf("%s: fallback must not carry model slots, got %+v", name, intent.Slots)
		}
	}
}

func TestRouteModelFallbackKeepsUIFilters(t *testing.T) {
	model := &fakeJSONGenerator{err: domain.WrapError(domain.ErrServiceUnavailable, "generate", errors.New("down"))}
	router := NewIntentRouter(domain.DefaultVocabulary(), model, &passExecutor{}, IntentRouterConfig{Mode: RouterModeModel})

	intent, err := router.Route(context.Background(), RouteInput{
		Question: "anything warm",
		Filters:  domain.UIFilters{DiningHalls: []string{"Worcester"}},
		Today:    testToday,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if intent.Source != domain.IntentSourceFallback {
		t.Fatalf("expected fallback, got %s", intent.Source)
	}
	if !reflect.DeepEqual(intent.Slots.DiningHalls, []string{"Worcester"}) {
		t.Fatalf("ui filters must survive the fallback, got %v", intent.Slots.DiningHalls)
	}
}

func TestRouteModelCancelledContextIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeJSONGenerator{responses: []string{`{"intent":"semantic","confidence":0.9}`}}
	router := NewIntentRouter(domain.DefaultVocabulary(), model, &passExecutor{}, IntentRouterConfig{Mode: RouterModeModel})

	_, err := router.Route(ctx, RouteInput{Question: "soup", Today: testToday})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
