package itemstore

import (
	"context"
	"errors"
)

// Common errors for item store operations.
var (
	ErrEmptyItemID       = errors.New("item ID cannot be empty")
	ErrMissingEmbedding  = errors.New("item has no embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Item is a stored semantic item with its embedding.
type Item struct {
	ID        string    `json:"id"`
	Content   string    `json:"content,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Neighbor is a similarity query result.
type Neighbor struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Store is the item persistence collaborator consumed by the engine.
//
// Lookups on unknown ids skip silently or return nil; only persistence
// failures surface as errors.
type Store interface {
	// PutItems stores items, replacing any existing item with the same id.
	// Every item must carry an embedding of the store's configured dimension.
	PutItems(ctx context.Context, items []Item) error

	// ItemsByIDs returns the items found for the given ids, preserving
	// request order. Unknown ids are skipped.
	ItemsByIDs(ctx context.Context, ids []string) ([]Item, error)

	// EmbeddingOf returns an item's embedding, nil when the item is unknown.
	EmbeddingOf(ctx context.Context, id string) ([]float32, error)

	// ListItems returns up to limit stored items in unspecified order.
	// limit <= 0 means all.
	ListItems(ctx context.Context, limit int) ([]Item, error)

	// Query returns up to k items nearest to the embedding by cosine
	// similarity, most similar first.
	Query(ctx context.Context, embedding []float32, k int) ([]Neighbor, error)

	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)

	// Close releases underlying resources.
	Close() error
}
