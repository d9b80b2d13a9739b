package graphstore

import "context"

// VectorHit is a raw nearest-neighbour result.
type VectorHit struct {
	ID    string
	Score float32
}

// VectorIndex stores embeddings for similarity search. Scores are cosine
// similarities, higher is closer.
type VectorIndex interface {
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	Upsert(ctx context.Context, index, id string, embedding []float32) error
	Query(ctx context.Context, index string, embedding []float32, k int) ([]VectorHit, error)
	Close() error
}
