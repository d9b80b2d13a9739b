package graphstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIndex = "memory_embeddings"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	vec, err := NewChromemIndex("", false)
	require.NoError(t, err)

	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(context.Background(), Options{
		InMemory: true,
		Vector:   vec,
		Indexes:  []IndexSpec{{Name: testIndex, Label: "Memory", Dimension: 3}},
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{
		ID:         "m1",
		Labels:     []string{"Memory"},
		Properties: map[string]any{"question": "What is a fraction?"},
		Embedding:  []float32{1, 0, 0},
	}
	require.NoError(t, s.CreateNode(ctx, n))

	got, err := s.GetNode(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "What is a fraction?", got.Properties["question"])
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateNode(ctx, &Node{ID: "m1", Labels: []string{"Memory"}})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.CreateNode(ctx, &Node{}), ErrInvalidID)
	assert.ErrorIs(t, s.CreateNode(ctx, nil), ErrInvalidData)
}

func TestStore_DimensionMismatchRejectedBeforeWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateNode(ctx, &Node{ID: "bad", Labels: []string{"Memory"}, Embedding: []float32{1, 2}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.GetNode(ctx, "bad")
	assert.ErrorIs(t, err, ErrNotFound)

	// Unindexed labels accept any embedding length.
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "free", Labels: []string{"Note"}, Embedding: []float32{1, 2}}))
}

func TestStore_PutNodeKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutNode(ctx, &Node{ID: "stats:rolling", Labels: []string{"Stats"}, Properties: map[string]any{"count": 1}}))
	first, err := s.GetNode(ctx, "stats:rolling")
	require.NoError(t, err)

	require.NoError(t, s.PutNode(ctx, &Node{ID: "stats:rolling", Labels: []string{"Stats"}, Properties: map[string]any{"count": 2}}))
	second, err := s.GetNode(ctx, "stats:rolling")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.EqualValues(t, 2, second.Properties["count"])
}

func TestStore_MergeNodeConcurrentCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.MergeNode(ctx, "pattern:o:objective", []string{"Pattern"},
				func(n *Node) error {
					n.Properties["success_count"] = float64(1)
					return nil
				},
				func(n *Node) error {
					n.Properties["success_count"] = n.Properties["success_count"].(float64) + 1
					return nil
				})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.GetNode(ctx, "pattern:o:objective")
	require.NoError(t, err)
	assert.EqualValues(t, workers, n.Properties["success_count"])

	count, err := s.CountByLabel(ctx, "Pattern")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_MergeNodeReportsCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, created, err := s.MergeNode(ctx, "p", []string{"Pattern"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.MergeNode(ctx, "p", []string{"Pattern"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestStore_MergeEdgeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, &Node{ID: "a", Labels: []string{"Memory"}}))
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "b", Labels: []string{"Memory"}}))

	_, err := s.MergeEdge(ctx, "SIMILAR_TO", "a", "b", map[string]any{"score": 0.9})
	require.NoError(t, err)
	e, err := s.MergeEdge(ctx, "SIMILAR_TO", "a", "b", map[string]any{"score": 0.95})
	require.NoError(t, err)
	assert.Equal(t, "SIMILAR_TO:a:b", e.ID)

	out, err := s.OutgoingEdges(ctx, "a", "SIMILAR_TO")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.95, out[0].Properties["score"])

	in, err := s.IncomingEdges(ctx, "b", "")
	require.NoError(t, err)
	assert.Len(t, in, 1)

	none, err := s.OutgoingEdges(ctx, "a", "CITES")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_MergeEdgeMissingEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, &Node{ID: "a", Labels: []string{"Memory"}}))
	_, err := s.MergeEdge(ctx, "CITES", "a", "ghost", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	out, err := s.OutgoingEdges(ctx, "a", "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStore_MergeNodeFromLinksOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "a", Labels: []string{"Memory"}}))

	bump := func(n *Node) error {
		c, _ := n.Properties["count"].(float64)
		n.Properties["count"] = c + 1
		return nil
	}
	create := func(n *Node) error {
		n.Properties["count"] = float64(1)
		return nil
	}

	n, linked, err := s.MergeNodeFrom(ctx, "USES", "a", "p", []string{"Pattern"}, create, bump)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.EqualValues(t, 1, n.Properties["count"])

	n, linked, err = s.MergeNodeFrom(ctx, "USES", "a", "p", []string{"Pattern"}, create, bump)
	require.NoError(t, err)
	assert.False(t, linked)
	assert.EqualValues(t, 1, n.Properties["count"])

	require.NoError(t, s.CreateNode(ctx, &Node{ID: "b", Labels: []string{"Memory"}}))
	n, linked, err = s.MergeNodeFrom(ctx, "USES", "b", "p", []string{"Pattern"}, create, bump)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.EqualValues(t, 2, n.Properties["count"])

	in, err := s.IncomingEdges(ctx, "p", "USES")
	require.NoError(t, err)
	assert.Len(t, in, 2)
}

func TestStore_MergeNodeFromMissingSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.MergeNodeFrom(ctx, "USES", "ghost", "p", []string{"Pattern"}, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetNode(ctx, "p")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.MergeNodeFrom(ctx, "", "a", "p", nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestStore_NodesByLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateNode(ctx, &Node{ID: fmt.Sprintf("m%d", i), Labels: []string{"Memory"}}))
	}
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "p0", Labels: []string{"Pattern"}}))

	mems, err := s.NodesByLabel(ctx, "Memory")
	require.NoError(t, err)
	assert.Len(t, mems, 3)

	// Labels are case-insensitive in the index.
	count, err := s.CountByLabel(ctx, "memory")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStore_VectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, &Node{ID: "near", Labels: []string{"Memory"}, Embedding: []float32{1, 0.1, 0}}))
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "mid", Labels: []string{"Memory"}, Embedding: []float32{1, 1, 0}}))
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "far", Labels: []string{"Memory"}, Embedding: []float32{0, 0, 1}}))

	results, err := s.VectorSearch(ctx, testIndex, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "near", results[0].Node.ID)
	assert.Equal(t, "mid", results[1].Node.ID)
	assert.Equal(t, "far", results[2].Node.ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	results, err = s.VectorSearch(ctx, testIndex, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = s.VectorSearch(ctx, "nope", []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrUnknownIndex)

	_, err = s.VectorSearch(ctx, testIndex, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStore_VectorSearchEmptyIndex(t *testing.T) {
	s := newTestStore(t)
	results, err := s.VectorSearch(context.Background(), testIndex, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_Reindex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, &Node{ID: "m1", Labels: []string{"Memory"}, Embedding: []float32{0, 1, 0}}))
	require.NoError(t, s.CreateNode(ctx, &Node{ID: "m2", Labels: []string{"Memory"}}))

	fresh, err := NewChromemIndex("", false)
	require.NoError(t, err)
	require.NoError(t, fresh.EnsureIndex(ctx, s.indexes[testIndex]))
	s.vector = fresh

	count, err := s.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := s.VectorSearch(ctx, testIndex, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Node.ID)
}

func TestStore_Closed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.GetNode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStorageClosed)
	assert.NoError(t, s.Close())
}

func TestOpen_IndexWithoutBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{
		InMemory: true,
		Indexes:  []IndexSpec{{Name: "x", Label: "Memory", Dimension: 3}},
	})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestProperties_RoundTrip(t *testing.T) {
	type record struct {
		Question string   `json:"question"`
		Score    float64  `json:"score"`
		Queries  []string `json:"queries"`
	}
	in := record{Question: "q", Score: 0.91, Queries: []string{"MATCH (n) RETURN n"}}

	props, err := EncodeProperties(in)
	require.NoError(t, err)
	assert.Equal(t, "q", props["question"])

	var out record
	require.NoError(t, DecodeProperties(props, &out))
	assert.Equal(t, in, out)
}
