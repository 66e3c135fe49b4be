package ports

import (
	"context"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// MenuRepository is the authoritative catalog store written by ingestion.
type MenuRepository interface {
	LoadMenu(ctx context.Context, from, to time.Time) ([]domain.MenuItem, error)
	// SaveEmbeddings stores vectors together with their source hash. Rows whose
	// attributes changed since the vector was computed are left untouched.
	SaveEmbeddings(ctx context.Context, items []domain.MenuItem) (int, error)
}

// MenuWriter stores ingested menu rows.
type MenuWriter interface {
	UpsertItems(ctx context.Context, items []domain.MenuItem) (int, error)
}

// StructuredCatalog executes validated query plans. Results always reflect
// the pinned snapshot's records.
type StructuredCatalog interface {
	QueryItems(ctx context.Context, snap *catalog.Snapshot, plan domain.QueryPlan) ([]domain.MenuItem, error)
}

// VectorIndex performs scoped nearest-neighbour search.
type VectorIndex interface {
	SearchItems(ctx context.Context, snap *catalog.Snapshot, vector []float32, limit int, scope domain.SearchScope) ([]catalog.ScoredItem, error)
}

// VectorIndexer mirrors snapshot vectors into an external index.
type VectorIndexer interface {
	IndexItems(ctx context.Context, items []domain.MenuItem) error
}

// Embedder builds vectors for menu items and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ProfileRepository returns domain.ErrNotFound for unknown users.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// IntakeReader sums what a user logged as eaten on a date.
type IntakeReader interface {
	DailyIntake(ctx context.Context, userID string, date time.Time) (domain.IntakeTotals, error)
}

// TextStream is a lazy, finite sequence of generated text. Next returns
// io.EOF after the last chunk.
type TextStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// ChatGenerator streams a model answer for an assembled conversation.
type ChatGenerator interface {
	StreamChat(ctx context.Context, turns []domain.ConversationTurn) (TextStream, error)
}

// JSONGenerator asks the model for a single JSON object.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Executor runs an operation under retry and circuit breaking.
type Executor interface {
	Run(ctx context.Context, operation string, fn func(context.Context) error) error
}

// MessageQueue carries catalog lifecycle events between ingestion, the worker
// and API replicas.
type MessageQueue interface {
	PublishMenuIngested(ctx context.Context, servingDate string) error
	SubscribeMenuIngested(ctx context.Context, handler func(context.Context, string) error) error
	PublishCatalogRefreshed(ctx context.Context, generation uint64) error
	SubscribeCatalogRefreshed(ctx context.Context, handler func(context.Context, uint64) error) error
}

// SnapshotSource hands out the currently published catalog snapshot.
type SnapshotSource interface {
	Current() *catalog.Snapshot
}

// CatalogPublisher installs new catalog generations.
type CatalogPublisher interface {
	SnapshotSource
	Publish(items []domain.MenuItem) *catalog.Snapshot
}
