package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/events"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/fyrsmithlabs/learnloop/internal/logging"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// DefaultConsumerGroup is the queue group coordinators share.
const DefaultConsumerGroup = "learnloop-coordinator"

// workflowStarter is the part of client.Client the coordinator uses.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	TaskQueue   string
	Group       string
	StepTimeout time.Duration
}

// Coordinator turns bus events into workflow executions. Each interaction
// gets at most one evaluation and one enrichment workflow; re-delivered
// events whose workflow already exists are acknowledged.
type Coordinator struct {
	starter workflowStarter
	bus     events.Bus
	cfg     CoordinatorConfig
	metrics *Metrics
	logger  *zap.Logger

	mu   sync.Mutex
	subs []events.Subscription
}

// NewCoordinator creates a Coordinator. starter is usually a client.Client.
func NewCoordinator(starter workflowStarter, bus events.Bus, cfg CoordinatorConfig, metrics *Metrics, logger *zap.Logger) (*Coordinator, error) {
	if starter == nil {
		return nil, errors.New("workflow starter cannot be nil")
	}
	if bus == nil {
		return nil, errors.New("event bus cannot be nil")
	}
	if cfg.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	if cfg.Group == "" {
		cfg.Group = DefaultConsumerGroup
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{starter: starter, bus: bus, cfg: cfg, metrics: metrics, logger: logger}, nil
}

// Start subscribes to both pipeline subjects.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	handlers := []struct {
		subject string
		h       events.Handler
	}{
		{events.SubjectInteractionFinished, c.HandleInteractionFinished},
		{events.SubjectEvaluationFinished, c.HandleEvaluationFinished},
	}
	for _, s := range handlers {
		sub, err := c.bus.Subscribe(ctx, s.subject, c.cfg.Group, s.h)
		if err != nil {
			for _, prev := range c.subs {
				_ = prev.Close()
			}
			c.subs = nil
			return fmt.Errorf("subscribing to %s: %w", s.subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	c.logger.Info("pipeline coordinator started",
		zap.String("task_queue", c.cfg.TaskQueue),
		zap.String("group", c.cfg.Group))
	return nil
}

// Stop closes the subscriptions.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, s := range c.subs {
		errs = append(errs, s.Close())
	}
	c.subs = nil
	return errors.Join(errs...)
}

// Run starts the coordinator and blocks until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.logger.Info("pipeline coordinator stopping")
	return c.Stop()
}

// HandleInteractionFinished starts the evaluation workflow.
func (c *Coordinator) HandleInteractionFinished(ctx context.Context, msg events.Message) error {
	var ev events.InteractionFinished
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Interaction.Validate(); err != nil {
		return events.Permanent(err)
	}
	id := ev.Interaction.InteractionID
	in := EvaluationInput{
		Interaction: ev.Interaction,
		StepTimeout: c.cfg.StepTimeout,
	}
	// A failed evaluation never published, so a redelivery may run it again.
	return c.start(logging.WithInteractionID(ctx, id), "evaluation", EvaluateWorkflowID(id),
		enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY, EvaluationWorkflow, in)
}

// HandleEvaluationFinished starts the enrichment workflow.
func (c *Coordinator) HandleEvaluationFinished(ctx context.Context, msg events.Message) error {
	var ev events.EvaluationFinished
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	if err := ev.Interaction.Validate(); err != nil {
		return events.Permanent(err)
	}
	id := ev.Interaction.InteractionID
	in := EnrichmentInput{
		Interaction: ev.Interaction,
		Evaluation:  ev.Evaluation,
		StepTimeout: c.cfg.StepTimeout,
	}
	return c.start(logging.WithInteractionID(ctx, id), "enrichment", EnrichWorkflowID(id),
		enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE, EnrichmentWorkflow, in)
}

func (c *Coordinator) start(ctx context.Context, name, workflowID string, reuse enumspb.WorkflowIdReusePolicy, wf interface{}, arg interface{}) error {
	opts := client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                c.cfg.TaskQueue,
		WorkflowIDReusePolicy:                    reuse,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	logger := c.logger.With(logging.ContextFields(ctx)...).With(zap.String("workflow_id", workflowID))

	run, err := c.starter.ExecuteWorkflow(ctx, opts, wf, arg)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	switch {
	case errors.As(err, &started):
		c.metrics.recordStart(ctx, name, outcomeDuplicate)
		logger.Debug("workflow already exists, acknowledging")
		return nil
	case err != nil:
		c.metrics.recordStart(ctx, name, outcomeError)
		logger.Warn("failed to start workflow", zap.Error(err))
		return fmt.Errorf("starting %s workflow: %w", name, err)
	}

	c.metrics.recordStart(ctx, name, outcomeStarted)
	logger.Info("workflow started", zap.String("run_id", run.GetRunID()))
	return nil
}

// Publisher hands finished interactions to the pipeline.
type Publisher struct {
	bus events.Bus
}

// NewPublisher creates a Publisher on bus.
func NewPublisher(bus events.Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Submit publishes the interaction-finished event. The evaluation workflow
// id doubles as the dedup id.
func (p *Publisher) Submit(ctx context.Context, in learning.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return p.bus.Publish(ctx, events.SubjectInteractionFinished, EvaluateWorkflowID(in.InteractionID),
		events.InteractionFinished{Interaction: in})
}
