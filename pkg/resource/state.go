package resource

// State is the lifecycle status of a controlled resource. It is independent
// of any flight's execution status: a resource can be CREATING while several
// steps of its provisioning flight have already completed.
type State string

const (
	// StateNotExists denotes the absence of a metadata row. It is never
	// persisted.
	StateNotExists State = "NOT_EXISTS"

	// StateCreating means a provisioning flight is building the resource.
	StateCreating State = "CREATING"

	// StateReady means the resource is fully provisioned and usable.
	StateReady State = "READY"

	// StateUpdating means an update flight is mutating the resource.
	StateUpdating State = "UPDATING"

	// StateDeleting means a delete flight is tearing the resource down.
	StateDeleting State = "DELETING"

	// StateBroken means a create or update flight failed and left the row
	// behind for operator inspection.
	StateBroken State = "BROKEN"
)

// validTransitions is the adjacency table of legal lifecycle transitions.
// Anything outside this table is a programming error, not an operational
// fault.
var validTransitions = map[State][]State{
	StateNotExists: {StateCreating},
	StateCreating:  {StateBroken, StateReady},
	StateReady:     {StateUpdating, StateDeleting},
	StateUpdating:  {StateBroken, StateReady},
	StateBroken:    {StateDeleting},
	StateDeleting:  {StateNotExists},
}

// IsValidTransition reports whether from -> to is a legal lifecycle
// transition. Pure function, no I/O; used as a guard before any
// state-changing store write.
func IsValidTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Busy reports whether the state indicates an operation in progress. A new
// flight against a busy resource is rejected at submission time.
func (s State) Busy() bool {
	return s == StateCreating || s == StateUpdating || s == StateDeleting
}

// Terminal reports whether the state admits no further transitions other
// than deletion recovery.
func (s State) Terminal() bool {
	return s == StateNotExists
}

// StateRule selects what a failed creation leaves behind. It is a
// deployment-level configuration input to the orchestrator, not a per-call
// choice.
type StateRule string

const (
	// StateRuleDeleteOnFailure removes the metadata row when a create
	// flight's undo pass runs.
	StateRuleDeleteOnFailure StateRule = "DELETE_ON_FAILURE"

	// StateRuleBrokenOnFailure leaves the row in BROKEN for operator
	// inspection and manual cleanup.
	StateRuleBrokenOnFailure StateRule = "BROKEN_ON_FAILURE"
)

// Valid reports whether the rule is one of the known values.
func (r StateRule) Valid() bool {
	return r == StateRuleDeleteOnFailure || r == StateRuleBrokenOnFailure
}
