package flight

import (
	"context"
	"fmt"
	"strings"
)

// Step is one unit of a flight. Do makes forward progress; Undo compensates.
// The contract: Do followed by Undo must leave observable external state
// equivalent to never having run the step. Undo runs only if Do at least
// started; retries and reruns may invoke either multiple times, so side
// effects must be idempotent at the step author's discretion.
type Step interface {
	Do(ctx context.Context, fc *Context) StepResult
	Undo(ctx context.Context, fc *Context) StepResult
}

// StepRegistration pairs a step with its retry rule and display name.
type StepRegistration struct {
	Name string
	Step Step
	Rule RetryRule
}

// StepName derives a registration name from the step's Go type.
func StepName(s Step) string {
	name := fmt.Sprintf("%T", s)
	return strings.TrimPrefix(name, "*")
}
