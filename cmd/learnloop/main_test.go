package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/fyrsmithlabs/learnloop/internal/config"
	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// isolate points configuration at an empty home and an in-memory graph.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GRAPH_IN_MEMORY", "true")
	t.Setenv("LOGGING_LEVEL", "error")
	configPath = ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:     unknown")
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "stats", "reindex", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestStatsRefreshCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "stats", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Memories:        0")
	assert.Contains(t, out, "Patterns:        0")
}

func TestReindexCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "Reindexed 0 nodes into chromem")
}

func TestCommand_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("VECTOR_PROVIDER", "faiss")

	_, err := execute(t, "stats", "refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vector provider")
}

func TestRefreshStats_SeededStore(t *testing.T) {
	cfg := config.Default()
	cfg.Graph.InMemory = true
	cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	ctx := context.Background()

	store, err := openStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	emb := make([]float32, 384)
	emb[0] = 1
	for i, overall := range []float64{0.9, 0.7} {
		m := learning.Memory{Question: "q", Answer: "a", OverallScore: overall}
		props, err := graphstore.EncodeProperties(m)
		require.NoError(t, err)
		require.NoError(t, store.CreateNode(ctx, &graphstore.Node{
			ID:         learning.MemoryID(string(rune('a' + i))),
			Labels:     []string{learning.MemoryLabel},
			Properties: props,
			Embedding:  emb,
		}))
	}

	cmd := newStatsCmd()
	cmd.SetContext(ctx)
	var out bytes.Buffer
	require.NoError(t, refreshStats(cmd, store, zap.NewNop(), &out))
	assert.Contains(t, out.String(), "Memories:        2")
	assert.Contains(t, out.String(), "Average overall: 0.800")

	n, err := store.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
