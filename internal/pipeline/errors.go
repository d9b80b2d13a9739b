package pipeline

import (
	"fmt"
)

// Severity classifies how a step failure affects its workflow.
type Severity string

const (
	// SeverityCritical fails the workflow.
	SeverityCritical Severity = "critical"
	// SeverityHigh is recorded in the result; the workflow continues.
	SeverityHigh Severity = "high"
	// SeverityLow is logged only.
	SeverityLow Severity = "low"
)

// ErrTypeInvalidInput is the application error type for inputs that no
// retry can fix.
const ErrTypeInvalidInput = "InvalidInput"

// StepError is a structured pipeline step failure.
type StepError struct {
	Operation string // e.g. "write_memory"
	Severity  Severity
	Err       error
	Context   string // usually the interaction id
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed (%s): %s (%s)", e.Operation, e.Severity, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Operation, e.Severity, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to see the cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a StepError.
func NewStepError(operation string, severity Severity, err error, context string) *StepError {
	return &StepError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// FormatErrorForResult formats a step failure for a result's Errors list.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

// Error handling by step:
//
// CRITICAL (fail the workflow, after the step's own retries):
//   - write_memory in enrichment; without a memory nothing else can attach
//   - publish_evaluation in evaluation; enrichment would never start
//
// HIGH (record in result.Errors, continue):
//   - extract_pattern, link_similar, refresh_stats
//   - evaluate, which is replaced by the default evaluation
//
// LOW (log only):
//   - per-item evidence or neighbour links to missing nodes
