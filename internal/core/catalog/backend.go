package catalog

import (
	"context"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// InMemory serves structured and semantic queries straight from the pinned
// snapshot.
type InMemory struct{}

func (InMemory) QueryItems(ctx context.Context, snap *Snapshot, plan domain.QueryPlan) ([]domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap.Query(plan)
}

func (InMemory) SearchItems(ctx context.Context, snap *Snapshot, vector []float32, limit int, scope domain.SearchScope) ([]ScoredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap.Nearest(vector, limit, scope)
}
