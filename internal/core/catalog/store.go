package catalog

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// Store owns the current snapshot. Readers call Current and keep the result
// for the whole request; Publish swaps in a new generation atomically.
type Store struct {
	dimensions int
	now        func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewStore(dimensions int) *Store {
	s := &Store{
		dimensions: dimensions,
		now:        time.Now,
	}
	s.current.Store(NewSnapshot(0, nil, dimensions, s.now().UTC()))
	return s
}

func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

func (s *Store) Dimensions() int { return s.dimensions }

func (s *Store) Publish(items []domain.MenuItem) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := NewSnapshot(s.current.Load().Generation()+1, items, s.dimensions, s.now().UTC())
	s.current.Store(next)

	info := next.Info()
	slog.Info("catalog_snapshot_published",
		"generation", info.Generation,
		"items", info.Items,
		"embedded", info.Embedded,
	)
	return next
}
