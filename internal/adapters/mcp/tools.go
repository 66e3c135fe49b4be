package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

const (
	serverName    = "dining-bot"
	serverVersion = "1.0.0"
)

// Tools exposes menu retrieval and grounded answers as MCP tools.
type Tools struct {
	chat    ports.ChatService
	catalog ports.CatalogService
}

func NewTools(chat ports.ChatService, catalog ports.CatalogService) *Tools {
	return &Tools{chat: chat, catalog: catalog}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("find_menu_items", requestOptions(
		"Find dining hall menu items matching a question. Returns the merged retrieval candidates as JSON.",
	)...), tools.FindMenuItems)

	s.AddTool(mcp.NewTool("ask_dining_bot", requestOptions(
		"Ask the dining assistant a question and get an answer grounded in today's menus.",
	)...), tools.AskDiningBot)

	s.AddTool(mcp.NewTool("catalog_info",
		mcp.WithDescription("Describe the published menu catalog: generation, item counts, halls and dates."),
	), tools.CatalogInfo)

	return s
}

func requestOptions(description string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The user's question, for example \"high protein vegan dinner at Worcester\""),
		),
		mcp.WithArray("dining_halls",
			mcp.Description("Restrict results to these dining halls"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("meals",
			mcp.Description("Restrict results to these meal periods"),
			mcp.WithStringItems(),
		),
		mcp.WithString("date",
			mcp.Description("Serving date as YYYY-MM-DD, defaults to today"),
		),
		mcp.WithString("user_id",
			mcp.Description("Applies the user's allergies, diets and goals when set"),
		),
	}
}

func chatRequestFrom(request mcp.CallToolRequest) (domain.ChatRequest, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return domain.ChatRequest{}, err
	}
	if strings.TrimSpace(query) == "" {
		return domain.ChatRequest{}, errors.New("query must not be empty")
	}
	return domain.ChatRequest{
		UserID:   request.GetString("user_id", ""),
		Messages: []domain.ConversationTurn{{Role: domain.RoleUser, Content: query}},
		Filters: domain.UIFilters{
			DiningHalls: request.GetStringSlice("dining_halls", nil),
			MealPeriods: request.GetStringSlice("meals", nil),
		},
		ServingDate: request.GetString("date", ""),
	}, nil
}

type findResult struct {
	Intent            domain.IntentKind           `json:"intent"`
	CatalogGeneration uint64                      `json:"catalog_generation"`
	Items             []domain.RetrievalCandidate `json:"items"`
}

func (t *Tools) FindMenuItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	req, err := chatRequestFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := t.chat.Retrieve(ctx, req)
	if err != nil {
		logToolCall("find_menu_items", start, err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}

	payload, err := json.Marshal(findResult{
		Intent:            result.Intent.Kind,
		CatalogGeneration: result.Generation,
		Items:             result.Candidates,
	})
	if err != nil {
		return nil, err
	}
	logToolCall("find_menu_items", start, nil)
	return mcp.NewToolResultText(string(payload)), nil
}

func (t *Tools) AskDiningBot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	req, err := chatRequestFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stream, err := t.chat.Answer(ctx, req)
	if err != nil {
		logToolCall("ask_dining_bot", start, err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logToolCall("ask_dining_bot", start, err)
			return mcp.NewToolResultError(toolErrorMessage(err)), nil
		}
		answer.WriteString(chunk)
	}

	logToolCall("ask_dining_bot", start, nil)
	return mcp.NewToolResultText(answer.String()), nil
}

func (t *Tools) CatalogInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(t.catalog.Info())
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return err.Error()
	case domain.IsKind(err, domain.ErrServiceUnavailable):
		return "the dining assistant is temporarily unavailable, retry shortly"
	default:
		return "the request failed"
	}
}

func logToolCall(tool string, start time.Time, err error) {
	attrs := []any{
		"tool", tool,
		"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if err != nil {
		slog.Warn("mcp_tool_failed", append(attrs, "error", err)...)
		return
	}
	slog.Info("mcp_tool_call", attrs...)
}
