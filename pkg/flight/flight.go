package flight

import (
	"encoding/json"
	"fmt"
	"sync"
)

// State is the execution state of a flight instance.
type State string

const (
	// StateRunningForward means steps are executing in declared order.
	StateRunningForward State = "RUNNING_FORWARD"

	// StateRunningBackward means the flight is compensating: undoing the
	// completed prefix in reverse order.
	StateRunningBackward State = "RUNNING_BACKWARD"

	// StateSuccess means every step completed.
	StateSuccess State = "SUCCESS"

	// StateError means compensation fully completed; the original cause is
	// preserved for the caller. This is the clean failure outcome.
	StateError State = "ERROR"

	// StateFatal means compensation itself failed. The cloud and the
	// metadata store may be mutually inconsistent; an operator must
	// intervene. Rare and loud, never silent.
	StateFatal State = "FATAL"
)

// Active reports whether the flight still has work to do.
func (s State) Active() bool {
	return s == StateRunningForward || s == StateRunningBackward
}

// Flight is an ordered step sequence bound to a flight id. Steps are
// rebuilt from the flight class and input parameters on resume; only the
// class, inputs, working map and cursor are persisted.
type Flight struct {
	// ID is the durable flight id.
	ID string

	// Class names the flight shape, e.g. "create-resource". The registry
	// maps it back to a builder on resume.
	Class string

	// Steps is the declared order of execution.
	Steps []StepEntry
}

// Builder assembles the step list for a flight class from its input
// parameters. Builders run both at submission and at resume, so they must
// be deterministic over the inputs.
type Builder func(inputs map[string]json.RawMessage) ([]StepEntry, error)

// Registry maps flight classes to builders. Classes register at startup;
// an unknown class in the store means a code/schema version mismatch and is
// an invariant error, not an operational fault.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty flight registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder for a flight class. Duplicate registration is a
// programming error.
func (r *Registry) Register(class string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[class]; dup {
		panic("flight: duplicate class registration: " + class)
	}
	r.builders[class] = b
}

// Build assembles a flight for the given class, id and inputs.
func (r *Registry) Build(class, id string, inputs map[string]json.RawMessage) (*Flight, error) {
	r.mu.RLock()
	b, ok := r.builders[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown flight class %q", class)
	}
	steps, err := b(inputs)
	if err != nil {
		return nil, fmt.Errorf("building flight class %q: %w", class, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("flight class %q produced no steps", class)
	}
	for i, e := range steps {
		if e.Step == nil {
			return nil, fmt.Errorf("flight class %q: step %d is nil", class, i)
		}
		if e.Retry == nil {
			steps[i].Retry = RetryNone()
		}
	}
	return &Flight{ID: id, Class: class, Steps: steps}, nil
}
