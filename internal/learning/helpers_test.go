package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/stretchr/testify/require"
)

const testDim = 3

func newTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	vec, err := graphstore.NewChromemIndex("", false)
	require.NoError(t, err)

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := graphstore.Open(context.Background(), graphstore.Options{
		InMemory: true,
		Vector:   vec,
		Indexes:  []graphstore.IndexSpec{MemoryIndexSpec(testDim)},
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

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return testDim }

// fakeJudge returns a canned reply.
type fakeJudge struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeJudge) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

var errBoom = errors.New("boom")

func uniformScores(v float64) Scores {
	return Scores{Grounding: v, Accuracy: v, Completeness: v, DomainAppropriateness: v, Clarity: v}
}

// seedMemory stores a memory node directly.
func seedMemory(t *testing.T, s *graphstore.Store, id string, overall float64, emb []float32) {
	t.Helper()
	props, err := graphstore.EncodeProperties(Memory{
		InteractionID: "seed-" + id,
		Question:      "question " + id,
		Answer:        "answer " + id,
		Scores:        uniformScores(overall),
		OverallScore:  overall,
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateNode(context.Background(), &graphstore.Node{
		ID:         id,
		Labels:     []string{MemoryLabel},
		Properties: props,
		Embedding:  emb,
	}))
}
