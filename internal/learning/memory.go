package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memoryNamespace seeds deterministic memory ids.
var memoryNamespace = uuid.MustParse("3b9d6c1e-5f0a-4d7c-9e21-8a4f6b2c7d10")

// MemoryID derives the memory id for an interaction. Re-delivered
// interactions map to the same memory.
func MemoryID(interactionID string) string {
	return uuid.NewSHA1(memoryNamespace, []byte(interactionID)).String()
}

// MemoryWriter persists graded interactions as Memory nodes.
type MemoryWriter struct {
	store    GraphStore
	embedder Embedder
	logger   *zap.Logger
}

// NewMemoryWriter creates a MemoryWriter.
func NewMemoryWriter(store GraphStore, embedder Embedder, logger *zap.Logger) (*MemoryWriter, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store: %w", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryWriter{store: store, embedder: embedder, logger: logger}, nil
}

// Write creates the Memory for in and links its evidence. When the
// interaction cites nothing, the citations of the most similar prior memory
// are inherited. Writing an interaction twice returns the existing id.
func (w *MemoryWriter) Write(ctx context.Context, in Interaction, eval Evaluation) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	id := MemoryID(in.InteractionID)

	emb, err := w.embedder.EmbedQuery(ctx, in.Question)
	if err != nil {
		return "", fmt.Errorf("embedding question: %w", err)
	}
	if dim := w.embedder.Dimension(); len(emb) != dim {
		return "", fmt.Errorf("%w: embedder returned %d, want %d", graphstore.ErrDimensionMismatch, len(emb), dim)
	}

	mem := Memory{
		InteractionID: in.InteractionID,
		Question:      in.Question,
		Answer:        in.Answer,
		Queries:       in.Queries,
		EvidenceIDs:   in.EvidenceIDs,
		PrimedBy:      in.PrimingMemoryIDs,
		ElapsedMs:     in.ElapsedMs,
		Scores:        eval.Scores,
		OverallScore:  eval.Scores.Overall(),
		Notes:         eval.Notes,
	}
	if len(mem.EvidenceIDs) == 0 {
		mem.EvidenceIDs, mem.EvidenceInheritedFrom = w.inheritEvidence(ctx, id, emb)
	}

	props, err := graphstore.EncodeProperties(mem)
	if err != nil {
		return "", err
	}
	err = w.store.CreateNode(ctx, &graphstore.Node{
		ID:         id,
		Labels:     []string{MemoryLabel},
		Properties: props,
		Embedding:  emb,
	})
	switch {
	case errors.Is(err, graphstore.ErrAlreadyExists):
		w.logger.Info("memory already written",
			zap.String("memory_id", id),
			zap.String("interaction_id", in.InteractionID))
		if err := w.store.IndexNode(ctx, id); err != nil {
			return "", fmt.Errorf("re-indexing memory %s: %w", id, err)
		}
		existing, err := w.store.GetNode(ctx, id)
		if err != nil {
			return "", fmt.Errorf("reading memory %s: %w", id, err)
		}
		if prev, err := memoryFromNode(existing); err == nil {
			mem = prev
		}
	case err != nil:
		return "", fmt.Errorf("creating memory: %w", err)
	}

	linked, err := w.LinkEvidence(ctx, id, mem.EvidenceIDs)
	if err != nil {
		return "", err
	}

	w.logger.Info("memory written",
		zap.String("memory_id", id),
		zap.String("interaction_id", in.InteractionID),
		zap.Float64("overall_score", mem.OverallScore),
		zap.Int("evidence_links", linked))
	return id, nil
}

// LinkEvidence adds a CITES edge from the memory to each evidence node.
// Missing evidence nodes are skipped. It returns the number linked.
func (w *MemoryWriter) LinkEvidence(ctx context.Context, memoryID string, evidenceIDs []string) (int, error) {
	linked := 0
	for _, eid := range evidenceIDs {
		if eid == "" || eid == memoryID {
			continue
		}
		_, err := w.store.MergeEdge(ctx, EdgeCites, memoryID, eid, nil)
		if errors.Is(err, graphstore.ErrNotFound) {
			w.logger.Warn("evidence node not found, skipping",
				zap.String("memory_id", memoryID),
				zap.String("evidence_id", eid))
			continue
		}
		if err != nil {
			return linked, fmt.Errorf("linking evidence %s: %w", eid, err)
		}
		linked++
	}
	return linked, nil
}

// inheritEvidence returns the citation targets of the most similar prior
// memory, and that memory's id. A nearest memory at or below
// EvidenceInheritThreshold, or any failure, yields no evidence.
func (w *MemoryWriter) inheritEvidence(ctx context.Context, selfID string, emb []float32) ([]string, string) {
	hits, err := w.store.VectorSearch(ctx, MemoryIndex, emb, 2)
	if err != nil {
		w.logger.Debug("evidence inheritance search failed", zap.Error(err))
		return nil, ""
	}
	for _, h := range hits {
		if h.Node.ID == selfID {
			continue
		}
		if h.Score <= EvidenceInheritThreshold {
			return nil, ""
		}
		edges, err := w.store.OutgoingEdges(ctx, h.Node.ID, EdgeCites)
		if err != nil {
			w.logger.Debug("reading prior citations failed", zap.String("memory_id", h.Node.ID), zap.Error(err))
			return nil, ""
		}
		if len(edges) == 0 {
			return nil, ""
		}
		ids := make([]string, 0, len(edges))
		for _, e := range edges {
			ids = append(ids, e.To)
		}
		return ids, h.Node.ID
	}
	return nil, ""
}
