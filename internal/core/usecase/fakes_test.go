package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

var testToday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

const testDims = 3

func menuItem(name, hall, meal string, calories, protein float64, diets, allergens []string) domain.MenuItem {
	return domain.MenuItem{
		Name:        name,
		DiningHall:  hall,
		MealPeriod:  meal,
		ServingDate: testToday,
		Calories:    domain.Float(calories),
		ProteinG:    domain.Float(protein),
		DietTypes:   diets,
		Allergens:   allergens,
	}
}

func embedded(item domain.MenuItem, vector ...float32) domain.MenuItem {
	item.Embedding = vector
	item.EmbeddingHash = item.EmbeddingSourceHash()
	return item
}

// fixtureItems is a small Worcester/Franklin catalog. Vector axes are
// (comfort food, spicy, other).
func fixtureItems() []domain.MenuItem {
	return []domain.MenuItem{
		embedded(menuItem("Vegan Chili", "Worcester", "dinner", 350, 18, []string{"vegan"}, nil), 0.1, 0.9, 0.1),
		embedded(menuItem("Tofu Stir Fry", "Worcester", "dinner", 380, 22, []string{"vegan"}, []string{"soy"}), 0.1, 0.7, 0.3),
		embedded(menuItem("Lentil Curry", "Worcester", "dinner", 520, 20, []string{"vegan"}, nil), 0.2, 0.8, 0.1),
		embedded(menuItem("Roast Chicken", "Worcester", "dinner", 390, 35, nil, nil), 0.3, 0.1, 0.9),
		embedded(menuItem("Veggie Burger", "Franklin", "dinner", 300, 15, []string{"vegan"}, nil), 0.4, 0.1, 0.6),
		embedded(menuItem("Mac and Cheese", "Franklin", "lunch", 610, 19, []string{"vegetarian"}, []string{"milk", "wheat"}), 1, 0, 0),
		embedded(menuItem("Baked Ziti", "Worcester", "lunch", 540, 21, []string{"vegetarian"}, []string{"milk", "wheat"}), 0.9, 0.1, 0.1),
		embedded(menuItem("Cheesy Grits", "Berkshire", "breakfast", 330, 9, []string{"vegetarian"}, []string{"milk"}), 0.8, 0, 0.2),
		embedded(menuItem("Peanut Tempeh Bowl", "Worcester", "dinner", 360, 30, []string{"vegan"}, []string{"Peanuts", "soy"}), 0.1, 0.8, 0.2),
	}
}

func fixtureStore(items []domain.MenuItem) *catalog.Store {
	store := catalog.NewStore(testDims)
	store.Publish(items)
	return store
}

// passExecutor runs fn up to attempts times while it fails with a retryable
// error.
type passExecutor struct {
	attempts int

	mu    sync.Mutex
	calls map[string]int
}

func (e *passExecutor) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	attempts := e.attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		e.mu.Lock()
		if e.calls == nil {
			e.calls = make(map[string]int)
		}
		e.calls[operation]++
		e.mu.Unlock()

		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil || !domain.IsKind(err, domain.ErrServiceUnavailable) {
			return err
		}
	}
	return err
}

func (e *passExecutor) count(operation string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[operation]
}

type fakeEmbedder struct {
	err error

	mu      sync.Mutex
	queries []string
	batches [][]string
}

// keywordVector maps text onto the fixture axes.
func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "mac") || strings.Contains(lower, "cheese") || strings.Contains(lower, "comfort"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "spicy") || strings.Contains(lower, "chili"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, keywordVector(text))
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return keywordVector(text), nil
}

type fakeJSONGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeJSONGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "{}", nil
	}
	out := f.responses[0]
	f.responses = f.responses[1:]
	return out, nil
}

type fakeProfiles struct {
	profiles map[string]domain.UserProfile
	err      error
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (domain.UserProfile, error) {
	if f.err != nil {
		return domain.UserProfile{}, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return domain.UserProfile{}, domain.WrapError(domain.ErrNotFound, "get profile", errors.New(userID))
	}
	return p, nil
}

type fakeIntake struct {
	totals domain.IntakeTotals
	err    error
}

func (f *fakeIntake) DailyIntake(context.Context, string, time.Time) (domain.IntakeTotals, error) {
	return f.totals, f.err
}

// streamScript describes one StreamChat call: an open error, or chunks
// followed by an optional terminal error.
type streamScript struct {
	openErr error
	chunks  []string
	tailErr error
	// block makes Next wait for ctx cancellation after the chunks run out.
	block bool
}

type fakeChatGenerator struct {
	scripts []streamScript

	mu     sync.Mutex
	opened int
	turns  [][]domain.ConversationTurn
	closed int
}

func (f *fakeChatGenerator) StreamChat(_ context.Context, turns []domain.ConversationTurn) (ports.TextStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.opened
	f.opened++
	f.turns = append(f.turns, turns)
	script := streamScript{chunks: []string{"ok"}}
	if idx < len(f.scripts) {
		script = f.scripts[idx]
	}
	if script.openErr != nil {
		return nil, script.openErr
	}
	return &fakeTextStream{owner: f, script: script}, nil
}

type fakeTextStream struct {
	owner  *fakeChatGenerator
	script streamScript
	pos    int
}

func (s *fakeTextStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos < len(s.script.chunks) {
		chunk := s.script.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.script.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.script.tailErr != nil {
		return "", s.script.tailErr
	}
	return "", io.EOF
}

func (s *fakeTextStream) Close() error {
	s.owner.mu.Lock()
	s.owner.closed++
	s.owner.mu.Unlock()
	return nil
}

func drain(stream ports.AnswerStream) (string, error) {
	var b strings.Builder
	for {
		chunk, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

func candidateNames(candidates []domain.RetrievalCandidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Item.Name)
	}
	return out
}
