package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"go.uber.org/zap"
)

// SimilarityLinker connects a memory to its nearest neighbours.
type SimilarityLinker struct {
	store  GraphStore
	logger *zap.Logger
}

// NewSimilarityLinker creates a SimilarityLinker.
func NewSimilarityLinker(store GraphStore, logger *zap.Logger) (*SimilarityLinker, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimilarityLinker{store: store, logger: logger}, nil
}

// Link adds SIMILAR_TO edges from the memory to up to MaxSimilarityLinks
// other memories with similarity above SimilarityLinkThreshold, recording
// the score on each edge. It returns the number of links made.
func (l *SimilarityLinker) Link(ctx context.Context, memoryID string) (int, error) {
	node, err := l.store.GetNode(ctx, memoryID)
	if err != nil {
		return 0, fmt.Errorf("reading memory %s: %w", memoryID, err)
	}
	if len(node.Embedding) == 0 {
		return 0, fmt.Errorf("memory %s: %w: no embedding", memoryID, graphstore.ErrInvalidData)
	}

	// One extra hit since the memory finds itself.
	hits, err := l.store.VectorSearch(ctx, MemoryIndex, node.Embedding, MaxSimilarityLinks+1)
	if err != nil {
		return 0, fmt.Errorf("searching neighbours: %w", err)
	}

	linked := 0
	for _, h := range hits {
		if linked == MaxSimilarityLinks {
			break
		}
		if h.Node.ID == memoryID || h.Score <= SimilarityLinkThreshold {
			continue
		}
		_, err := l.store.MergeEdge(ctx, EdgeSimilarTo, memoryID, h.Node.ID, map[string]any{"score": float64(h.Score)})
		if errors.Is(err, graphstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return linked, fmt.Errorf("linking %s: %w", h.Node.ID, err)
		}
		linked++
	}

	l.logger.Debug("similarity links created", zap.String("memory_id", memoryID), zap.Int("links", linked))
	return linked, nil
}
