package graphstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex keeps vectors in process with chromem-go.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

var _ VectorIndex = (*ChromemIndex)(nil)

// NewChromemIndex opens a persistent index at path, or an in-memory one
// when path is empty.
func NewChromemIndex(path string, compress bool) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem at %s: %w", path, err)
		}
	}
	return &ChromemIndex{db: db, collections: map[string]*chromem.Collection{}}, nil
}

// noEmbed rejects text queries; the store always supplies vectors.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index requires precomputed embeddings")
}

func (c *ChromemIndex) EnsureIndex(_ context.Context, spec IndexSpec) error {
	col, err := c.db.GetOrCreateCollection(spec.Name, map[string]string{"label": spec.Label}, noEmbed)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", spec.Name, err)
	}
	c.mu.Lock()
	c.collections[spec.Name] = col
	c.mu.Unlock()
	return nil
}

func (c *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, name)
	}
	return col, nil
}

// Upsert replaces any previous vector stored under id.
func (c *ChromemIndex) Upsert(ctx context.Context, index, id string, embedding []float32) error {
	col, err := c.collection(index)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: embedding,
	})
}

func (c *ChromemIndex) Query(ctx context.Context, index string, embedding []float32, k int) ([]VectorHit, error) {
	col, err := c.collection(index)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", index, err)
	}

	hits := make([]VectorHit, len(results))
	for i, r := range results {
		hits[i] = VectorHit{ID: r.ID, Score: r.Similarity}
	}
	return hits, nil
}

// Close is a no-op; persistent chromem writes through on every change.
func (c *ChromemIndex) Close() error { return nil }
