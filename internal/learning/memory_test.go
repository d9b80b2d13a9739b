package learning

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wrongDimEmbedder struct{}

func (wrongDimEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (wrongDimEmbedder) Dimension() int { return testDim }

func seedEvidence(t *testing.T, s *graphstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateNode(context.Background(), &graphstore.Node{
			ID:         id,
			Labels:     []string{"Objective"},
			Properties: map[string]any{"year": 3},
		}))
	}
}

func TestMemoryWriter_Write(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvidence(t, s, "obj-1")
	emb := &fakeEmbedder{vectors: map[string][]float32{testInteraction.Question: {1, 0, 0}}}

	w, err := NewMemoryWriter(s, emb, nil)
	require.NoError(t, err)

	eval := Evaluation{Scores: Scores{Grounding: 1, Accuracy: 1, Completeness: 0.5, DomainAppropriateness: 0.5, Clarity: 0.5}, Overall: 0.2, Notes: "ok"}
	id, err := w.Write(ctx, testInteraction, eval)
	require.NoError(t, err)
	assert.Equal(t, MemoryID(testInteraction.InteractionID), id)

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	assert.True(t, n.HasLabel(MemoryLabel))
	assert.Len(t, n.Embedding, testDim)

	m, err := memoryFromNode(n)
	require.NoError(t, err)
	assert.Equal(t, testInteraction.Question, m.Question)
	assert.Equal(t, testInteraction.Queries, m.Queries)
	// Stored overall always derives from the stored scores.
	assert.InDelta(t, m.Scores.Overall(), m.OverallScore, 1e-9)
	assert.InDelta(t, 0.8, m.OverallScore, 1e-9)

	edges, err := s.OutgoingEdges(ctx, id, EdgeCites)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "obj-1", edges[0].To)
}

func TestMemoryWriter_WriteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvidence(t, s, "obj-1")
	w, err := NewMemoryWriter(s, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	first, err := w.Write(ctx, testInteraction, DefaultEvaluation("x"))
	require.NoError(t, err)
	second, err := w.Write(ctx, testInteraction, DefaultEvaluation("x"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := s.CountByLabel(ctx, MemoryLabel)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	edges, err := s.OutgoingEdges(ctx, first, EdgeCites)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestMemoryWriter_SkipsMissingEvidence(t *testing.T) {
	s := newTestStore(t)
	seedEvidence(t, s, "obj-1")
	w, err := NewMemoryWriter(s, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	in := testInteraction
	in.EvidenceIDs = []string{"missing", "obj-1", ""}
	id, err := w.Write(context.Background(), in, DefaultEvaluation("x"))
	require.NoError(t, err)

	edges, err := s.OutgoingEdges(context.Background(), id, EdgeCites)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "obj-1", edges[0].To)
}

func TestMemoryWriter_InheritsEvidenceFromNearestMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvidence(t, s, "obj-7")
	seedMemory(t, s, "prior", 0.9, []float32{1, 0, 0})
	_, err := s.MergeEdge(ctx, EdgeCites, "prior", "obj-7", nil)
	require.NoError(t, err)

	in := testInteraction
	in.EvidenceIDs = nil
	emb := &fakeEmbedder{vectors: map[string][]float32{in.Question: {0.9, 0.1, 0}}}
	w, err := NewMemoryWriter(s, emb, nil)
	require.NoError(t, err)

	id, err := w.Write(ctx, in, DefaultEvaluation("x"))
	require.NoError(t, err)

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	m, err := memoryFromNode(n)
	require.NoError(t, err)
	assert.Equal(t, []string{"obj-7"}, m.EvidenceIDs)
	assert.Equal(t, "prior", m.EvidenceInheritedFrom)

	edges, err := s.OutgoingEdges(ctx, id, EdgeCites)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "obj-7", edges[0].To)
}

func TestMemoryWriter_UnrelatedMemoryLendsNoEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvidence(t, s, "obj-7")
	seedMemory(t, s, "prior", 0.9, []float32{1, 0, 0})
	_, err := s.MergeEdge(ctx, EdgeCites, "prior", "obj-7", nil)
	require.NoError(t, err)

	in := testInteraction
	in.EvidenceIDs = nil
	emb := &fakeEmbedder{vectors: map[string][]float32{in.Question: {0, 1, 0}}}
	w, err := NewMemoryWriter(s, emb, nil)
	require.NoError(t, err)

	id, err := w.Write(ctx, in, DefaultEvaluation("x"))
	require.NoError(t, err)

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	m, err := memoryFromNode(n)
	require.NoError(t, err)
	assert.Empty(t, m.EvidenceIDs)
	assert.Empty(t, m.EvidenceInheritedFrom)

	edges, err := s.OutgoingEdges(ctx, id, EdgeCites)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestMemoryWriter_RejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	w, err := NewMemoryWriter(s, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	_, err = w.Write(context.Background(), Interaction{Question: "q"}, Evaluation{})
	assert.ErrorIs(t, err, ErrInvalidInteraction)

	w, err = NewMemoryWriter(s, &fakeEmbedder{err: errBoom}, nil)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), testInteraction, Evaluation{})
	assert.ErrorIs(t, err, errBoom)

	w, err = NewMemoryWriter(s, wrongDimEmbedder{}, nil)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), testInteraction, Evaluation{})
	assert.ErrorIs(t, err, graphstore.ErrDimensionMismatch)

	count, err := s.CountByLabel(context.Background(), MemoryLabel)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryID_Deterministic(t *testing.T) {
	assert.Equal(t, MemoryID("a"), MemoryID("a"))
	assert.NotEqual(t, MemoryID("a"), MemoryID("b"))
}
