package ports

import (
	"context"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// AnswerStream is returned once retrieval and prompt assembly are complete.
// Catalog resources are already released when it is handed out.
type AnswerStream interface {
	Result() *domain.RetrievalResult
	Next(ctx context.Context) (string, error)
	Close() error
}

// ChatService is the inbound contract for grounded menu answers.
type ChatService interface {
	Answer(ctx context.Context, req domain.ChatRequest) (AnswerStream, error)
	Retrieve(ctx context.Context, req domain.ChatRequest) (*domain.RetrievalResult, error)
}

// CatalogService reloads and describes the published catalog snapshot.
type CatalogService interface {
	Refresh(ctx context.Context) (catalog.Info, error)
	// RequestRefresh queues a refresh for the worker when one is wired and
	// refreshes in-process otherwise. queued reports which happened.
	RequestRefresh(ctx context.Context) (queued bool, info catalog.Info, err error)
	Info() catalog.Info
}

// MenuIngestService accepts scraped menu rows and schedules a catalog refresh.
type MenuIngestService interface {
	Ingest(ctx context.Context, items []domain.MenuItem) (domain.IngestResult, error)
}
