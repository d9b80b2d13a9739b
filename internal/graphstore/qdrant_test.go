package graphstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID(t *testing.T) {
	id := uuid.New().String()
	assert.Equal(t, id, pointID(id))

	a := pointID("pattern:o:objective")
	assert.Equal(t, a, pointID("pattern:o:objective"))
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestQdrantIndex_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_TEST_HOST")
	if host == "" {
		t.Skip("QDRANT_TEST_HOST not set")
	}

	idx, err := NewQdrantIndex(QdrantConfig{Host: host}, nil)
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	spec := IndexSpec{Name: "learnloop_test_" + uuid.NewString()[:8], Label: "Memory", Dimension: 3}
	require.NoError(t, idx.EnsureIndex(ctx, spec))
	require.NoError(t, idx.EnsureIndex(ctx, spec))

	require.NoError(t, idx.Upsert(ctx, spec.Name, "m1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, spec.Name, "m2", []float32{0, 1, 0}))

	hits, err := idx.Query(ctx, spec.Name, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].ID)

	_ = idx.client.DeleteCollection(ctx, spec.Name)
}
