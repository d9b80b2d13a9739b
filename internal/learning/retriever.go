package learning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Retriever finds prior high-quality memories similar to a question.
type Retriever struct {
	store    GraphStore
	embedder Embedder
	logger   *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store GraphStore, embedder Embedder, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store: %w", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}, nil
}

// Similar returns up to k memories nearest to question whose overall score
// exceeds RetrieveQualityThreshold, by descending similarity. It makes one
// attempt and returns an empty slice on any failure.
func (r *Retriever) Similar(ctx context.Context, question string, k int) []Memory {
	if k <= 0 {
		k = DefaultRetrieveK
	}
	memories := []Memory{}
	if strings.TrimSpace(question) == "" {
		return memories
	}

	emb, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		r.logger.Warn("embedding question for retrieval failed", zap.Error(err))
		return memories
	}

	hits, err := r.store.VectorSearch(ctx, MemoryIndex, emb, k)
	if err != nil {
		r.logger.Warn("memory vector search failed", zap.Error(err))
		return memories
	}

	for _, h := range hits {
		m, err := memoryFromNode(h.Node)
		if err != nil {
			r.logger.Warn("skipping undecodable memory", zap.String("id", h.Node.ID), zap.Error(err))
			continue
		}
		if m.OverallScore <= RetrieveQualityThreshold {
			continue
		}
		m.Similarity = float64(h.Score)
		memories = append(memories, m)
	}

	r.logger.Debug("retrieved priming memories",
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
		zap.Int("returned", len(memories)))
	return memories
}

// FormatExamples renders memories as numbered examples for an answering
// prompt. It returns "" for no memories.
func FormatExamples(memories []Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Previously successful answers to similar questions:\n")
	for i, m := range memories {
		fmt.Fprintf(&sb, "\nExample %d (score %.2f)\n", i+1, m.OverallScore)
		fmt.Fprintf(&sb, "Question: %s\n", m.Question)
		if len(m.Queries) > 0 {
			sb.WriteString("Queries:\n")
			for _, q := range m.Queries {
				fmt.Fprintf(&sb, "  %s\n", q)
			}
		}
		fmt.Fprintf(&sb, "Answer: %s\n", m.Answer)
	}
	return sb.String()
}
