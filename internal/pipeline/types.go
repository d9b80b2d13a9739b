package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/learning"
)

// DefaultStepTimeout bounds one activity attempt.
const DefaultStepTimeout = 2 * time.Minute

// StateQuery is the query name returning a workflow's current State.
const StateQuery = "state"

// State is a pipeline position for one interaction.
type State string

const (
	StateTriggered        State = "triggered"
	StateEvaluating       State = "evaluating"
	StateEvaluationFailed State = "evaluation_failed"
	StateDefaultApplied   State = "default_applied"
	StateEvaluated        State = "evaluated"
	StateEnriching        State = "enriching"
	StateComplete         State = "complete"
	// StateDropped means the memory write exhausted its retries and this
	// interaction's learning is lost.
	StateDropped State = "dropped"
)

// EvaluateWorkflowID is the workflow id grading an interaction.
func EvaluateWorkflowID(interactionID string) string {
	return "evaluate-" + interactionID
}

// EnrichWorkflowID is the workflow id enriching an interaction.
func EnrichWorkflowID(interactionID string) string {
	return "enrich-" + interactionID
}

// EvaluationInput starts EvaluationWorkflow.
type EvaluationInput struct {
	Interaction learning.Interaction
	StepTimeout time.Duration
}

// EvaluationResult is returned by EvaluationWorkflow.
type EvaluationResult struct {
	InteractionID  string
	Evaluation     learning.Evaluation
	State          State
	DefaultApplied bool
	Published      bool
	Errors         []string
}

// EnrichmentInput starts EnrichmentWorkflow.
type EnrichmentInput struct {
	Interaction learning.Interaction
	Evaluation  learning.Evaluation
	StepTimeout time.Duration
}

// EnrichmentResult is returned by EnrichmentWorkflow.
type EnrichmentResult struct {
	InteractionID string
	MemoryID      string
	PatternKey    string
	SimilarLinks  int
	Stats         *learning.Stats
	State         State
	Errors        []string
}

// PublishEvaluationInput is the PublishEvaluation activity input.
type PublishEvaluationInput struct {
	Interaction learning.Interaction
	Evaluation  learning.Evaluation
}

// ExtractPatternInput is the ExtractPattern activity input.
type ExtractPatternInput struct {
	MemoryID string
	Queries  []string
	Overall  float64
}
