package learning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScores_Overall(t *testing.T) {
	tests := []struct {
		name   string
		scores Scores
		want   float64
	}{
		{"all ones", uniformScores(1), 1},
		{"all zeros", uniformScores(0), 0},
		{"uniform", uniformScores(0.5), 0.5},
		{
			name:   "weighted",
			scores: Scores{Grounding: 1, Accuracy: 0.5, Completeness: 0.5, DomainAppropriateness: 0, Clarity: 1},
			want:   0.30 + 0.15 + 0.10 + 0 + 0.10,
		},
		{
			name:   "grounding only",
			scores: Scores{Grounding: 1},
			want:   0.30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.scores.Overall(), 1e-9)
		})
	}
}

func TestScores_OverallClamped(t *testing.T) {
	assert.Equal(t, 1.0, uniformScores(3).Overall())
	assert.Equal(t, 0.0, uniformScores(-1).Overall())
	assert.Equal(t, 0.0, Scores{Grounding: math.NaN()}.Overall())
}

func TestScores_Validate(t *testing.T) {
	assert.NoError(t, uniformScores(0).Validate())
	assert.NoError(t, uniformScores(1).Validate())
	assert.ErrorIs(t, Scores{Accuracy: 1.2}.Validate(), ErrScoreOutOfRange)
	assert.ErrorIs(t, Scores{Clarity: -0.1}.Validate(), ErrScoreOutOfRange)
	assert.ErrorIs(t, Scores{Grounding: math.NaN()}.Validate(), ErrScoreOutOfRange)

	// Several bad dimensions always report the first in rubric order.
	bad := Scores{Grounding: 0.5, Accuracy: 2, Completeness: -1, DomainAppropriateness: 0.5, Clarity: 3}
	for i := 0; i < 20; i++ {
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accuracy=2")
	}
}

func TestDefaultEvaluation(t *testing.T) {
	e := DefaultEvaluation("judge unavailable")
	assert.True(t, e.Failed)
	assert.Equal(t, uniformScores(DefaultScore), e.Scores)
	assert.InDelta(t, 0.5, e.Overall, 1e-9)
	assert.Contains(t, e.Notes, "judge unavailable")
}

func TestBoundFeedback(t *testing.T) {
	long := make([]rune, maxFeedbackLen+10)
	for i := range long {
		long[i] = 'é'
	}
	got := boundFeedback([]string{"a", "", string(long), "b", "c", "d", "e"})
	assert.Len(t, got, 4)
	assert.Len(t, []rune(got[1]), maxFeedbackLen)
}
