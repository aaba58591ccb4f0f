// Package flight implements the durable step-orchestration engine. A flight
// is one execution of an ordered step sequence, checkpointed to the flight
// store after every step so it can resume after a process crash. Forward
// execution runs each step's Do with a per-step retry rule; a fatal failure
// flips the flight into reverse compensation, running Undo over the
// successfully completed prefix in strict reverse order. A flight ends in
// SUCCESS, ERROR (compensation completed, original cause preserved) or
// FATAL (compensation itself failed and an operator must intervene).
//
// Because step outcomes are checkpointed before advancing, re-running the
// same flight after a crash re-invokes at most one step's Do twice: the one
// in flight at crash time. Steps must therefore tolerate a second
// invocation with identical inputs, treating "already exists" and "already
// gone" as success where the underlying API lets them detect it.
package flight
