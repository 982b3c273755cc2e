package itemstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const metadataTagsKey = "tags"

// ChromemStore implements Store on an embedded chromem-go collection.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	vectorSize int
	logger     *zap.Logger
}

// OpenChromem opens (or creates) a persistent chromem-go database at path
// and binds the named collection. vectorSize fixes the embedding dimension
// for every item written through this store.
func OpenChromem(path, collection string, vectorSize int, compress bool, logger *zap.Logger) (*ChromemStore, error) {
	if path == "" {
		return nil, fmt.Errorf("item store path cannot be empty")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", vectorSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening item database: %w", err)
	}

	// Items always arrive with embeddings attached, so the embedding
	// function must never run.
	col, err := db.GetOrCreateCollection(collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collection, err)
	}

	logger.Debug("item store opened",
		zap.String("path", path),
		zap.String("collection", collection),
		zap.Int("vector_size", vectorSize))

	return &ChromemStore{db: db, collection: col, vectorSize: vectorSize, logger: logger}, nil
}

func rejectEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("item store does not generate embeddings")
}

// PutItems stores items, replacing existing items with the same id.
func (s *ChromemStore) PutItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(items))
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

		metadata := map[string]string{}
		if len(item.Tags) > 0 {
			tagsJSON, err := json.Marshal(item.Tags)
			if err != nil {
				return fmt.Errorf("encoding tags for %s: %w", item.ID, err)
			}
			metadata[metadataTagsKey] = string(tagsJSON)
		}

		docs = append(docs, chromem.Document{
			ID:        item.ID,
			Content:   item.Content,
			Metadata:  metadata,
			Embedding: item.Embedding,
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("storing items: %w", err)
	}
	return nil
}

// ItemsByIDs returns the items found for the given ids in request order.
func (s *ChromemStore) ItemsByIDs(ctx context.Context, ids []string) ([]Item, error) {
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		doc, err := s.collection.GetByID(ctx, id)
		if err != nil {
			// chromem reports unknown ids as errors; skip them.
			continue
		}
		item, err := docToItem(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// EmbeddingOf returns an item's embedding, nil when the item is unknown.
func (s *ChromemStore) EmbeddingOf(ctx context.Context, id string) ([]float32, error) {
	if id == "" {
		return nil, ErrEmptyItemID
	}
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return nil, nil
	}
	return doc.Embedding, nil
}

// ListItems returns up to limit stored items.
//
// chromem has no enumeration API, so this queries against a unit basis
// vector with k equal to the collection size. Ordering is by similarity to
// that vector and carries no meaning to callers.
func (s *ChromemStore) ListItems(ctx context.Context, limit int) ([]Item, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	k := count
	if limit > 0 && limit < k {
		k = limit
	}

	probe := make([]float32, s.vectorSize)
	probe[0] = 1

	results, err := s.collection.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	out := make([]Item, 0, k)
	for _, res := range results[:min(k, len(results))] {
		item, err := docToItem(chromem.Document{
			ID:        res.ID,
			Content:   res.Content,
			Metadata:  res.Metadata,
			Embedding: res.Embedding,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Query returns up to k nearest items by cosine similarity.
func (s *ChromemStore) Query(ctx context.Context, embedding []float32, k int) ([]Neighbor, error) {
	if len(embedding) != s.vectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(embedding), s.vectorSize)
	}
	count := s.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}

	out := make([]Neighbor, 0, len(results))
	for _, res := range results {
		out = append(out, Neighbor{ID: res.ID, Similarity: float64(res.Similarity)})
	}
	return out, nil
}

// Count returns the number of stored items.
func (s *ChromemStore) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op for chromem; writes land on disk as they happen.
func (s *ChromemStore) Close() error {
	return nil
}

func docToItem(doc chromem.Document) (Item, error) {
	item := Item{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: doc.Embedding,
	}
	if tagsJSON, ok := doc.Metadata[metadataTagsKey]; ok && tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
			return Item{}, fmt.Errorf("decoding tags for %s: %w", doc.ID, err)
		}
	}
	return item, nil
}

var _ Store = (*ChromemStore)(nil)
