package learning

import (
	"errors"
	"fmt"
	"math"
)

// Rubric weights. Grounding and accuracy dominate because an answer that
// cannot be traced to evidence is not worth learning from.
const (
	WeightGrounding             = 0.30
	WeightAccuracy              = 0.30
	WeightCompleteness          = 0.20
	WeightDomainAppropriateness = 0.10
	WeightClarity               = 0.10

	// DefaultScore is substituted for every dimension when grading fails.
	DefaultScore = 0.5

	maxFeedbackItems = 5
	maxFeedbackLen   = 500
)

// ErrScoreOutOfRange is returned when a dimension score leaves [0,1].
var ErrScoreOutOfRange = errors.New("score out of range")

// Scores holds the five rubric dimensions, each in [0,1].
type Scores struct {
	Grounding             float64 `json:"grounding"`
	Accuracy              float64 `json:"accuracy"`
	Completeness          float64 `json:"completeness"`
	DomainAppropriateness float64 `json:"domain_appropriateness"`
	Clarity               float64 `json:"clarity"`
}

// Validate rejects scores outside [0,1], reporting the first offending
// dimension in rubric order.
func (s Scores) Validate() error {
	for _, d := range []struct {
		name string
		v    float64
	}{
		{"grounding", s.Grounding},
		{"accuracy", s.Accuracy},
		{"completeness", s.Completeness},
		{"domain_appropriateness", s.DomainAppropriateness},
		{"clarity", s.Clarity},
	} {
		if d.v < 0 || d.v > 1 || math.IsNaN(d.v) {
			return fmt.Errorf("%w: %s=%v", ErrScoreOutOfRange, d.name, d.v)
		}
	}
	return nil
}

// Overall is the weighted sum of the dimensions, clamped to [0,1].
func (s Scores) Overall() float64 {
	sum := WeightGrounding*s.Grounding +
		WeightAccuracy*s.Accuracy +
		WeightCompleteness*s.Completeness +
		WeightDomainAppropriateness*s.DomainAppropriateness +
		WeightClarity*s.Clarity
	return clamp01(sum)
}

// Evaluation is the graded result for one interaction.
type Evaluation struct {
	Scores      Scores   `json:"scores"`
	Overall     float64  `json:"overall_score"`
	Strengths   []string `json:"strengths,omitempty"`
	Weaknesses  []string `json:"weaknesses,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	// Failed marks a substituted default evaluation.
	Failed bool `json:"failed,omitempty"`
}

// DefaultEvaluation is used when the judge cannot produce a grade.
func DefaultEvaluation(reason string) Evaluation {
	s := Scores{
		Grounding:             DefaultScore,
		Accuracy:              DefaultScore,
		Completeness:          DefaultScore,
		DomainAppropriateness: DefaultScore,
		Clarity:               DefaultScore,
	}
	return Evaluation{
		Scores:  s,
		Overall: s.Overall(),
		Notes:   "evaluation failed: " + reason,
		Failed:  true,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// boundFeedback trims a model-supplied list to the stored limits.
func boundFeedback(items []string) []string {
	if len(items) > maxFeedbackItems {
		items = items[:maxFeedbackItems]
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if r := []rune(it); len(r) > maxFeedbackLen {
			it = string(r[:maxFeedbackLen])
		}
		if it != "" {
			out = append(out, it)
		}
	}
	return out
}
