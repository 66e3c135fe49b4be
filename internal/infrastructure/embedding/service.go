package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider is the raw model endpoint.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service enforces a fixed vector dimension over a provider. Blank text maps
// to the zero vector without a provider call, and query vectors are cached.
type Service struct {
	provider   Provider
	dimensions int
	queries    *lru.Cache[string, []float32]
}

func NewService(provider Provider, dimensions, cacheSize int) (*Service, error) {
	if provider == nil {
		return nil, errors.New("embedding: provider is nil")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive, got %d", dimensions)
	}
	s := &Service{provider: provider, dimensions: dimensions}
	if cacheSize > 0 {
		cache, err := lru.New[string, []float32](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedding: create query cache: %w", err)
		}
		s.queries = cache
	}
	return s, nil
}

func (s *Service) Dimensions() int { return s.dimensions }

func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, s.dimensions)
			continue
		}
		pending = append(pending, text)
		positions = append(positions, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	vectors, err := s.provider.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vectors), len(pending))
	}
	for j, vector := range vectors {
		if len(vector) != s.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimensions)
		}
		out[positions[j]] = vector
	}
	return out, nil
}

func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if key == "" {
		return make([]float32, s.dimensions), nil
	}
	if s.queries != nil {
		if cached, ok := s.queries.Get(key); ok {
			return cloneVector(cached), nil
		}
	}

	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vector := vectors[0]
	if s.queries != nil {
		s.queries.Add(key, cloneVector(vector))
	}
	return vector, nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
