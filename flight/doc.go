// Package flight defines the public contracts of the Stairway engine: the
// Step interface with its do/undo compensation pair, the ordered step list a
// flight registers, the parameter maps threaded through execution, retry
// rules, hooks, fault-injection descriptors, and the filter model used to
// enumerate flights.
//
// A flight is one invocation of a user-defined workflow. The engine owns the
// Context for the duration of a run; step bodies read and write the working
// map through it and report outcomes as StepResult values.
package flight
