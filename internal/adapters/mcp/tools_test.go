package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type fakeStream struct {
	chunks []string
	err    error
}

func (s *fakeStream) Result() *domain.RetrievalResult { return &domain.RetrievalResult{} }

func (s *fakeStream) Next(context.Context) (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeChat struct {
	result *domain.RetrievalResult
	stream *fakeStream
	err    error
	got    domain.ChatRequest
}

func (f *fakeChat) Answer(_ context.Context, req domain.ChatRequest) (ports.AnswerStream, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func (f *fakeChat) Retrieve(_ context.Context, req domain.ChatRequest) (*domain.RetrievalResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCatalog struct{ info catalog.Info }

func (f fakeCatalog) Refresh(context.Context) (catalog.Info, error) { return f.info, nil }

func (f fakeCatalog) RequestRefresh(context.Context) (bool, catalog.Info, error) {
	return false, f.info, nil
}

func (f fakeCatalog) Info() catalog.Info { return f.info }

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestFindMenuItemsReturnsCandidates(t *testing.T) {
	chat := &fakeChat{result: &domain.RetrievalResult{
		Intent:     domain.QueryIntent{Kind: domain.IntentStructured},
		Generation: 5,
		Candidates: []domain.RetrievalCandidate{{
			Item:       domain.MenuItem{Name: "Grilled Chicken", DiningHall: "Franklin", MealPeriod: "lunch"},
			Provenance: domain.ProvenanceStructured,
			Rank:       1,
		}},
	}}
	tools := NewTools(chat, fakeCatalog{})

	res, err := tools.FindMenuItems(context.Background(), callRequest(map[string]any{
		"query":        "high protein lunch",
		"dining_halls": []any{"Franklin"},
		"date":         "2026-03-02",
	}))
	if err != nil {
		t.Fatalf("FindMenuItems() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error %s", resultText(t, res))
	}

	var out struct {
		Intent            string `json:"intent"`
		CatalogGeneration uint64 `json:"catalog_generation"`
		Items             []struct {
			Item struct {
				Name string `json:"name"`
			} `json:"item"`
			Provenance string `json:"provenance"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out.Intent != "structured" || out.CatalogGeneration != 5 || len(out.Items) != 1 || out.Items[0].Item.Name != "Grilled Chicken" {
		t.Fatalf("unexpected result %+v", out)
	}

	if len(chat.got.Messages) != 1 || chat.got.Messages[0].Content != "high protein lunch" {
		t.Fatalf("query must become the user turn, got %+v", chat.got.Messages)
	}
	if len(chat.got.Filters.DiningHalls) != 1 || chat.got.Filters.DiningHalls[0] != "Franklin" || chat.got.ServingDate != "2026-03-02" {
		t.Fatalf("filters must pass through, got %+v", chat.got)
	}
}

func TestFindMenuItemsRequiresQuery(t *testing.T) {
	chat := &fakeChat{}
	res, err := NewTools(chat, fakeCatalog{}).FindMenuItems(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("FindMenuItems() error = %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected a tool error for a missing query")
	}
}

func TestAskDiningBotCollectsAnswer(t *testing.T) {
	chat := &fakeChat{stream: &fakeStream{chunks: []string{"Franklin has ", "grilled chicken."}}}
	res, err := NewTools(chat, fakeCatalog{}).AskDiningBot(context.Background(), callRequest(map[string]any{"query": "protein?"}))
	if err != nil {
		t.Fatalf("AskDiningBot() error = %v", err)
	}
	if got := resultText(t, res); got != "Franklin has grilled chicken." {
		t.Fatalf("unexpected answer %q", got)
	}
}

func TestAskDiningBotReportsUnavailableAsToolError(t *testing.T) {
	chat := &fakeChat{stream: &fakeStream{
		chunks: []string{"partial"},
		err:    domain.WrapError(domain.ErrServiceUnavailable, "chat.generate", errors.New("connection reset")),
	}}
	res, err := NewTools(chat, fakeCatalog{}).AskDiningBot(context.Background(), callRequest(map[string]any{"query": "dinner?"}))
	if err != nil {
		t.Fatalf("AskDiningBot() error = %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected a tool error")
	}
	if got := resultText(t, res); got == "partial" {
		t.Fatalf("a failed stream must not be returned as an answer")
	}
}

func TestCatalogInfoTool(t *testing.T) {
	tools := NewTools(&fakeChat{}, fakeCatalog{info: catalog.Info{Generation: 9, Items: 40}})
	res, err := tools.CatalogInfo(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("CatalogInfo() error = %v", err)
	}
	var info catalog.Info
	if err := json.Unmarshal([]byte(resultText(t, res)), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Generation != 9 || info.Items != 40 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(NewTools(&fakeChat{}, fakeCatalog{}))
	tools := s.ListTools()
	for _, name := range []string{"find_menu_items", "ask_dining_bot", "catalog_info"} {
		if _, ok := tools[name]; !ok {
			t.Fatalf("tool %s is not registered", name)
		}
	}
}
