package itemstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/memtopo/internal/vectors"
)

// MemoryStore is an in-memory Store used by tests and ephemeral setups.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]Item
	order      []string
	vectorSize int
}

// NewMemoryStore returns an empty in-memory store with a fixed embedding
// dimension.
func NewMemoryStore(vectorSize int) *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]Item),
		vectorSize: vectorSize,
	}
}

func (s *MemoryStore) PutItems(_ context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if item.ID == "" {
			return ErrEmptyItemID
		}
		if len(item.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, item.ID)
		}
		if len(item.Embedding) != s.vectorSize {
			return fmt.Errorf("%w: item %s has %d dimensions, want %d",
				ErrDimensionMismatch, item.ID, len(item.Embedding), s.vectorSize)
		}
		if _, exists := s.items[item.ID]; !exists {
			s.order = append(s.order, item.ID)
		}
		s.items[item.ID] = item
	}
	return nil
}

func (s *MemoryStore) ItemsByIDs(_ context.Context, ids []string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *MemoryStore) EmbeddingOf(_ context.Context, id string) ([]float32, error) {
	if id == "" {
		return nil, ErrEmptyItemID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return item.Embedding, nil
}

func (s *MemoryStore) ListItems(_ context.Context, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Item, 0, n)
	for _, id := range s.order[:n] {
		out = append(out, s.items[id])
	}
	return out, nil
}

func (s *MemoryStore) Query(_ context.Context, embedding []float32, k int) ([]Neighbor, error) {
	if len(embedding) != s.vectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(embedding), s.vectorSize)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	neighbors := make([]Neighbor, 0, len(s.items))
	for _, id := range s.order {
		sim, err := vectors.CosineSimilarity(embedding, s.items[id].Embedding)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, Neighbor{ID: id, Similarity: sim})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})
	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
