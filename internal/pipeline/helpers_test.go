package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/events"
	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testDim   = 3
	testQuery = "MATCH (o:Objective {year: 3}) RETURN o"
)

func newTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	vec, err := graphstore.NewChromemIndex("", false)
	require.NoError(t, err)
	s, err := graphstore.Open(context.Background(), graphstore.Options{
		InMemory: true,
		Vector:   vec,
		Indexes:  []graphstore.IndexSpec{learning.MemoryIndexSpec(testDim)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type staticEmbedder struct{}

func (staticEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (staticEmbedder) Dimension() int { return testDim }

type stubJudge struct {
	reply string
	err   error
}

func (j stubJudge) Complete(context.Context, string) (string, error) {
	return j.reply, j.err
}

const gradeReply = `{"grounding": 0.91, "accuracy": 0.91, "completeness": 0.91,
"domain_appropriateness": 0.91, "clarity": 0.91, "strengths": ["cites objectives"]}`

func testInteraction(id string) learning.Interaction {
	return learning.Interaction{
		InteractionID: id,
		Question:      "Which objectives cover year 3 fractions?",
		Answer:        "Objectives obj-1 and obj-2 cover year 3 fractions.",
		Queries:       []string{testQuery},
		EvidenceIDs:   []string{"obj-1"},
		ElapsedMs:     1200,
	}
}

func uniformEvaluation(v float64) learning.Evaluation {
	s := learning.Scores{Grounding: v, Accuracy: v, Completeness: v, DomainAppropriateness: v, Clarity: v}
	return learning.Evaluation{Scores: s, Overall: s.Overall()}
}

// newRealActivities wires the learning components on an in-memory store.
func newRealActivities(t *testing.T, judge stubJudge) (*Activities, *graphstore.Store, *events.MemoryBus) {
	t.Helper()
	store := newTestStore(t)
	logger := zap.NewNop()

	evaluator, err := learning.NewEvaluator(judge, logger)
	require.NoError(t, err)
	writer, err := learning.NewMemoryWriter(store, staticEmbedder{}, logger)
	require.NoError(t, err)
	patterns, err := learning.NewPatternExtractor(store, logger)
	require.NoError(t, err)
	linker, err := learning.NewSimilarityLinker(store, logger)
	require.NoError(t, err)
	stats, err := learning.NewStatsAggregator(store, logger)
	require.NoError(t, err)

	bus := events.NewMemoryBus(3, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return &Activities{
		Evaluator: evaluator,
		Writer:    writer,
		Patterns:  patterns,
		Linker:    linker,
		Stats:     stats,
		Bus:       bus,
		Logger:    logger,
	}, store, bus
}

// collector records messages delivered to a subscription.
type collector struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (c *collector) handle(_ context.Context, msg events.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) first() events.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[0]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
