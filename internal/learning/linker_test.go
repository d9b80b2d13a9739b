package learning

import (
	"context"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarityLinker_Link(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, "self", 0.9, []float32{1, 0, 0})
	for i := 0; i < 7; i++ {
		seedMemory(t, s, fmt.Sprintf("near-%d", i), 0.9, unitWith(0.99-float64(i)*0.01, 1))
	}
	seedMemory(t, s, "far", 0.9, unitWith(0.5, 2))

	l, err := NewSimilarityLinker(s, nil)
	require.NoError(t, err)

	n, err := l.Link(ctx, "self")
	require.NoError(t, err)
	assert.Equal(t, MaxSimilarityLinks, n)

	edges, err := s.OutgoingEdges(ctx, "self", EdgeSimilarTo)
	require.NoError(t, err)
	require.Len(t, edges, MaxSimilarityLinks)
	for _, e := range edges {
		assert.NotEqual(t, "self", e.To)
		assert.NotEqual(t, "far", e.To)
		score, ok := e.Properties["score"].(float64)
		require.True(t, ok)
		assert.Greater(t, score, SimilarityLinkThreshold)
	}

	// Re-linking does not duplicate edges.
	_, err = l.Link(ctx, "self")
	require.NoError(t, err)
	edges, err = s.OutgoingEdges(ctx, "self", EdgeSimilarTo)
	require.NoError(t, err)
	assert.Len(t, edges, MaxSimilarityLinks)
}

func TestSimilarityLinker_NoNeighbours(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "alone", 0.9, []float32{1, 0, 0})
	seedMemory(t, s, "other", 0.9, []float32{0, 1, 0})

	l, err := NewSimilarityLinker(s, nil)
	require.NoError(t, err)
	n, err := l.Link(context.Background(), "alone")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSimilarityLinker_Errors(t *testing.T) {
	s := newTestStore(t)
	l, err := NewSimilarityLinker(s, nil)
	require.NoError(t, err)

	_, err = l.Link(context.Background(), "missing")
	assert.ErrorIs(t, err, graphstore.ErrNotFound)

	require.NoError(t, s.CreateNode(context.Background(), &graphstore.Node{ID: "bare", Labels: []string{MemoryLabel}}))
	_, err = l.Link(context.Background(), "bare")
	assert.ErrorIs(t, err, graphstore.ErrInvalidData)
}
