package pipeline

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker creates a worker on taskQueue with both pipeline workflows and
// the activities registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities, opts worker.Options) (worker.Worker, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client cannot be nil")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}
	if acts == nil {
		return nil, fmt.Errorf("activities cannot be nil")
	}
	if err := acts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid activities: %w", err)
	}

	w := worker.New(c, taskQueue, opts)
	Register(w, acts)
	return w, nil
}

// registry is satisfied by worker.Worker and the workflow test environment.
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// Register adds the pipeline workflows and activities to r.
func Register(r registry, acts *Activities) {
	r.RegisterWorkflow(EvaluationWorkflow)
	r.RegisterWorkflow(EnrichmentWorkflow)
	r.RegisterActivity(acts)
}
