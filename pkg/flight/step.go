package flight

import "context"

// Status is the three-way outcome of a step attempt. It is the only error
// vocabulary the orchestrator understands; steps translate provider and
// store failures into it at their boundary.
type Status string

const (
	// StatusSuccess means the step completed; the flight checkpoints and
	// advances.
	StatusSuccess Status = "SUCCESS"

	// StatusRetry means a transient condition (throttling, 5xx, network
	// timeout); the step's retry rule decides whether to re-attempt.
	StatusRetry Status = "FAILURE_RETRY"

	// StatusFatal means retrying cannot fix the failure; the flight flips
	// to reverse compensation immediately.
	StatusFatal Status = "FAILURE_FATAL"
)

// Result is the structured outcome of a Do or Undo invocation.
type Result struct {
	// Status is the three-way outcome.
	Status Status

	// Err is the cause for non-success outcomes.
	Err error
}

// Success returns a successful result.
func Success() Result { return Result{Status: StatusSuccess} }

// Retry returns a transient-failure result.
func Retry(err error) Result { return Result{Status: StatusRetry, Err: err} }

// Fatal returns a non-retryable failure result.
func Fatal(err error) Result { return Result{Status: StatusFatal, Err: err} }

// Step is the atomic, independently retryable unit of a flight.
//
// Do performs one forward action. It must be safe to invoke again with
// identical inputs when a prior invocation's outcome is unknown. Undo
// reverses a successful Do; it is invoked only for steps whose Do completed
// in this flight, in strict reverse order, and must not fail on
// "nothing to undo" conditions. Side effects are confined to the target
// cloud, the metadata store, and the flight's own working map.
type Step interface {
	// Name identifies the step in logs and checkpoints.
	Name() string

	// Do performs the forward action.
	Do(ctx context.Context, fc *Context) Result

	// Undo reverses the effect of a successful Do.
	Undo(ctx context.Context, fc *Context) Result
}

// StepEntry pairs a step with its retry rule. Rules attach per step, not
// per flight: a cheap metadata write uses RetryNone while a cloud creation
// in the same flight uses the cloud default.
type StepEntry struct {
	Step  Step
	Retry RetryRule
}
