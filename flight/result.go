package flight

// StepStatus tags the outcome of a single step attempt.
type StepStatus string

const (
	StepSuccess       StepStatus = "SUCCESS"
	StepRerun         StepStatus = "RERUN"
	StepWait          StepStatus = "WAIT"
	StepStop          StepStatus = "STOP"
	StepRestartFlight StepStatus = "RESTART_FLIGHT"
	StepFailureRetry  StepStatus = "FAILURE_RETRY"
	StepFailureFatal  StepStatus = "FAILURE_FATAL"
)

// Success reports whether the status is a non-failure outcome. WAIT, STOP and
// RESTART_FLIGHT count as successes: they yield the flight without
// triggering compensation.
func (s StepStatus) Success() bool {
	return s != StepFailureRetry && s != StepFailureFatal
}

// StepResult is the value returned by a step attempt: a status tag plus an
// optional error carried on failure outcomes.
type StepResult struct {
	Status StepStatus
	Err    error
}

func ResultSuccess() StepResult       { return StepResult{Status: StepSuccess} }
func ResultRerun() StepResult         { return StepResult{Status: StepRerun} }
func ResultWait() StepResult          { return StepResult{Status: StepWait} }
func ResultStop() StepResult          { return StepResult{Status: StepStop} }
func ResultRestartFlight() StepResult { return StepResult{Status: StepRestartFlight} }

// ResultRetry reports a transient failure to be consumed by the step's retry
// rule.
func ResultRetry(err error) StepResult {
	return StepResult{Status: StepFailureRetry, Err: err}
}

// ResultFatal reports a failure that triggers the undo leg.
func ResultFatal(err error) StepResult {
	return StepResult{Status: StepFailureFatal, Err: err}
}

// Success reports whether the result is a non-failure outcome.
func (r StepResult) Success() bool { return r.Status.Success() }
