package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/events"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// Evaluator grades an interaction and never fails.
type Evaluator interface {
	Evaluate(ctx context.Context, in learning.Interaction) learning.Evaluation
}

// MemoryWriter persists a graded interaction.
type MemoryWriter interface {
	Write(ctx context.Context, in learning.Interaction, eval learning.Evaluation) (string, error)
}

// PatternExtractor records query patterns.
type PatternExtractor interface {
	Extract(ctx context.Context, memoryID string, queries []string, overall float64) (string, error)
}

// SimilarityLinker links a memory to its neighbours.
type SimilarityLinker interface {
	Link(ctx context.Context, memoryID string) (int, error)
}

// StatsRefresher recomputes rolling statistics.
type StatsRefresher interface {
	Refresh(ctx context.Context) (learning.Stats, error)
}

// Activities holds the pipeline steps. Register a value with a worker;
// workflows refer to the methods through a nil *Activities.
type Activities struct {
	Evaluator Evaluator
	Writer    MemoryWriter
	Patterns  PatternExtractor
	Linker    SimilarityLinker
	Stats     StatsRefresher
	Bus       events.Bus
	Metrics   *Metrics
	Logger    *zap.Logger
}

// Validate checks that every step has an implementation.
func (a *Activities) Validate() error {
	var errs []error
	if a.Evaluator == nil {
		errs = append(errs, errors.New("evaluator is required"))
	}
	if a.Writer == nil {
		errs = append(errs, errors.New("memory writer is required"))
	}
	if a.Patterns == nil {
		errs = append(errs, errors.New("pattern extractor is required"))
	}
	if a.Linker == nil {
		errs = append(errs, errors.New("similarity linker is required"))
	}
	if a.Stats == nil {
		errs = append(errs, errors.New("stats refresher is required"))
	}
	if a.Bus == nil {
		errs = append(errs, errors.New("event bus is required"))
	}
	return errors.Join(errs...)
}

func (a *Activities) logger(ctx context.Context) *zap.Logger {
	l := a.Logger
	if l == nil {
		l = zap.NewNop()
	}
	if activity.IsActivity(ctx) {
		info := activity.GetInfo(ctx)
		l = l.With(
			zap.String("workflow_id", info.WorkflowExecution.ID),
			zap.String("activity", info.ActivityType.Name),
			zap.Int32("attempt", info.Attempt))
	}
	return l
}

func invalidInput(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
}

// Evaluate grades the interaction. Grading problems yield the default
// evaluation rather than an error.
func (a *Activities) Evaluate(ctx context.Context, in EvaluationInput) (learning.Evaluation, error) {
	if err := in.Interaction.Validate(); err != nil {
		return learning.Evaluation{}, invalidInput(err)
	}
	start := time.Now()
	eval := a.Evaluator.Evaluate(ctx, in.Interaction)
	a.Metrics.recordStep(ctx, "evaluate", start, nil)
	if eval.Failed {
		a.Metrics.recordFallback(ctx)
	}
	a.logger(ctx).Debug("interaction evaluated",
		zap.String("interaction_id", in.Interaction.InteractionID),
		zap.Float64("overall_score", eval.Overall),
		zap.Bool("default", eval.Failed))
	return eval, nil
}

// PublishEvaluation emits the evaluation-finished event that starts
// enrichment. The enrichment workflow id doubles as the dedup id.
func (a *Activities) PublishEvaluation(ctx context.Context, in PublishEvaluationInput) error {
	start := time.Now()
	err := a.Bus.Publish(ctx, events.SubjectEvaluationFinished, EnrichWorkflowID(in.Interaction.InteractionID),
		events.EvaluationFinished{Interaction: in.Interaction, Evaluation: in.Evaluation})
	a.Metrics.recordStep(ctx, "publish_evaluation", start, err)
	return err
}

// WriteMemory creates the memory for the interaction.
func (a *Activities) WriteMemory(ctx context.Context, in EnrichmentInput) (string, error) {
	if err := in.Interaction.Validate(); err != nil {
		return "", invalidInput(err)
	}
	start := time.Now()
	id, err := a.Writer.Write(ctx, in.Interaction, in.Evaluation)
	a.Metrics.recordStep(ctx, "write_memory", start, err)
	if err != nil {
		a.logger(ctx).Warn("memory write failed",
			zap.String("interaction_id", in.Interaction.InteractionID),
			zap.Error(err))
		return "", err
	}
	return id, nil
}

// ExtractPattern records the query pattern of a successful interaction.
func (a *Activities) ExtractPattern(ctx context.Context, in ExtractPatternInput) (string, error) {
	start := time.Now()
	key, err := a.Patterns.Extract(ctx, in.MemoryID, in.Queries, in.Overall)
	a.Metrics.recordStep(ctx, "extract_pattern", start, err)
	return key, err
}

// LinkSimilar links the memory to similar memories.
func (a *Activities) LinkSimilar(ctx context.Context, memoryID string) (int, error) {
	start := time.Now()
	n, err := a.Linker.Link(ctx, memoryID)
	a.Metrics.recordStep(ctx, "link_similar", start, err)
	return n, err
}

// RefreshStats recomputes the cached statistics.
func (a *Activities) RefreshStats(ctx context.Context) (learning.Stats, error) {
	start := time.Now()
	stats, err := a.Stats.Refresh(ctx)
	a.Metrics.recordStep(ctx, "refresh_stats", start, err)
	return stats, err
}
