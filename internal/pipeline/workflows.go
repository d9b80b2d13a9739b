// Package pipeline runs the learning loop as two chained Temporal
// workflows. EvaluationWorkflow grades an interaction and publishes the
// evaluation; EnrichmentWorkflow turns it into a memory, a query pattern,
// similarity links and refreshed statistics. The Coordinator starts them
// from bus events, one workflow id per interaction and stage.
package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Step retry policy.
const (
	retryInitialInterval = time.Second
	retryBackoff         = 2.0
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 3

	// PublishRetryWindow bounds how long a failing publish is retried.
	PublishRetryWindow = 24 * time.Hour
)

var a *Activities

// RetryPolicy is applied to every pipeline step.
func RetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        retryInitialInterval,
		BackoffCoefficient:     retryBackoff,
		MaximumInterval:        retryMaxInterval,
		MaximumAttempts:        retryMaxAttempts,
		NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
	}
}

func stepContext(ctx workflow.Context, timeout time.Duration) workflow.Context {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         RetryPolicy(),
	})
}

// publishContext retries until PublishRetryWindow elapses. The grade is
// already decided, and losing it here would lose the interaction.
func publishContext(ctx workflow.Context, timeout time.Duration) workflow.Context {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	policy := RetryPolicy()
	policy.MaximumAttempts = 0
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    timeout,
		ScheduleToCloseTimeout: PublishRetryWindow,
		RetryPolicy:            policy,
	})
}

// EvaluationWorkflow grades an interaction and publishes the result.
//
// If the Evaluate step itself exhausts its retries, the default
// evaluation is substituted so enrichment still runs. Publishing is
// retried for PublishRetryWindow; only then does this workflow fail.
func EvaluationWorkflow(ctx workflow.Context, in EvaluationInput) (*EvaluationResult, error) {
	logger := workflow.GetLogger(ctx)
	id := in.Interaction.InteractionID
	result := &EvaluationResult{InteractionID: id, State: StateTriggered}

	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (State, error) {
		return result.State, nil
	}); err != nil {
		return nil, err
	}

	publishCtx := publishContext(ctx, in.StepTimeout)
	ctx = stepContext(ctx, in.StepTimeout)

	result.State = StateEvaluating
	logger.Info("Evaluating interaction", "interaction_id", id)
	var eval learning.Evaluation
	if err := workflow.ExecuteActivity(ctx, a.Evaluate, in).Get(ctx, &eval); err != nil {
		result.State = StateEvaluationFailed
		logger.Warn("Evaluate step failed, applying default evaluation", "interaction_id", id, "error", err)
		result.Errors = append(result.Errors, FormatErrorForResult("evaluate", err))
		eval = learning.DefaultEvaluation(err.Error())
		result.DefaultApplied = true
		result.State = StateDefaultApplied
	}
	result.Evaluation = eval
	result.State = StateEvaluated

	err := workflow.ExecuteActivity(publishCtx, a.PublishEvaluation, PublishEvaluationInput{
		Interaction: in.Interaction,
		Evaluation:  eval,
	}).Get(publishCtx, nil)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("publish_evaluation", err))
		return result, NewStepError("publish_evaluation", SeverityCritical, err, id)
	}
	result.Published = true

	logger.Info("Interaction evaluated",
		"interaction_id", id,
		"overall_score", eval.Overall,
		"default_applied", result.DefaultApplied)
	return result, nil
}

// EnrichmentWorkflow records a graded interaction as learned state.
//
// WriteMemory is critical: when it exhausts its retries the workflow fails
// and the interaction is dropped. Pattern extraction, similarity linking
// and the statistics refresh are attempted in turn and their failures are
// only recorded in the result.
func EnrichmentWorkflow(ctx workflow.Context, in EnrichmentInput) (*EnrichmentResult, error) {
	logger := workflow.GetLogger(ctx)
	id := in.Interaction.InteractionID
	result := &EnrichmentResult{InteractionID: id, State: StateEvaluated}

	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (State, error) {
		return result.State, nil
	}); err != nil {
		return nil, err
	}

	ctx = stepContext(ctx, in.StepTimeout)
	result.State = StateEnriching

	var memoryID string
	if err := workflow.ExecuteActivity(ctx, a.WriteMemory, in).Get(ctx, &memoryID); err != nil {
		result.State = StateDropped
		result.Errors = append(result.Errors, FormatErrorForResult("write_memory", err))
		logger.Error("Memory write failed, dropping interaction", "interaction_id", id, "error", err)
		return result, NewStepError("write_memory", SeverityCritical, err, id)
	}
	result.MemoryID = memoryID

	var key string
	err := workflow.ExecuteActivity(ctx, a.ExtractPattern, ExtractPatternInput{
		MemoryID: memoryID,
		Queries:  in.Interaction.Queries,
		Overall:  in.Evaluation.Scores.Overall(),
	}).Get(ctx, &key)
	if err != nil {
		logger.Warn("Pattern extraction failed", "memory_id", memoryID, "error", err)
		result.Errors = append(result.Errors, FormatErrorForResult("extract_pattern", err))
	}
	result.PatternKey = key

	var links int
	if err := workflow.ExecuteActivity(ctx, a.LinkSimilar, memoryID).Get(ctx, &links); err != nil {
		logger.Warn("Similarity linking failed", "memory_id", memoryID, "error", err)
		result.Errors = append(result.Errors, FormatErrorForResult("link_similar", err))
	}
	result.SimilarLinks = links

	var stats learning.Stats
	if err := workflow.ExecuteActivity(ctx, a.RefreshStats).Get(ctx, &stats); err != nil {
		logger.Warn("Statistics refresh failed", "error", err)
		result.Errors = append(result.Errors, FormatErrorForResult("refresh_stats", err))
	} else {
		result.Stats = &stats
	}

	result.State = StateComplete
	logger.Info("Interaction enriched",
		"interaction_id", id,
		"memory_id", memoryID,
		"pattern_key", key,
		"similar_links", links,
		"errors", len(result.Errors))
	return result, nil
}
