package flight

// DebugInfo is an optional fault-injection descriptor attached at submission
// and never mutated afterward. The runner consumes it to synthesize step
// results for failure testing. Each armed entry fires at most once per
// runner instantiation, so a resumed flight re-arms its injections.
//
// When several knobs target the same attempt, precedence is step index, then
// step class, then last-step failure.
type DebugInfo struct {
	// RestartEachStep forces the flight out to be re-queued after every
	// journaled step, exercising recovery at each boundary.
	RestartEachStep bool `json:"restart_each_step,omitempty"`
	// LastStepFailure forces FAILURE_FATAL after the final do-step.
	LastStepFailure bool `json:"last_step_failure,omitempty"`
	// DoStepFailures forces a result by step index while doing.
	DoStepFailures map[int]StepStatus `json:"do_step_failures,omitempty"`
	// UndoStepFailures forces a result by step index while undoing.
	UndoStepFailures map[int]StepStatus `json:"undo_step_failures,omitempty"`
	// DoClassFailures forces a result by step name while doing.
	DoClassFailures map[string]StepStatus `json:"do_class_failures,omitempty"`
	// UndoClassFailures forces a result by step name while undoing.
	UndoClassFailures map[string]StepStatus `json:"undo_class_failures,omitempty"`
}

// Empty reports whether no injection is configured.
func (d *DebugInfo) Empty() bool {
	if d == nil {
		return true
	}
	return !d.RestartEachStep && !d.LastStepFailure &&
		len(d.DoStepFailures) == 0 && len(d.UndoStepFailures) == 0 &&
		len(d.DoClassFailures) == 0 && len(d.UndoClassFailures) == 0
}
