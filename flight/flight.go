package flight

// Flight is the ordered step list a workflow registers. Factories must build
// the same list deterministically from the same inputs; recovery depends on
// it (a divergent list corrupts restart positions).
type Flight struct {
	steps []StepRegistration
}

func New() *Flight {
	return &Flight{}
}

// AddStep appends a step under its derived type name with the given retry
// rule. A nil rule means no retries.
func (f *Flight) AddStep(step Step, rule RetryRule) *Flight {
	return f.AddNamedStep(StepName(step), step, rule)
}

// AddNamedStep appends a step under an explicit name. The name appears in
// logs, diagnostic context, and class-keyed fault injection.
func (f *Flight) AddNamedStep(name string, step Step, rule RetryRule) *Flight {
	if rule == nil {
		rule = RetryRuleNone{}
	}
	f.steps = append(f.steps, StepRegistration{Name: name, Step: step, Rule: rule})
	return f
}

// Steps returns the registered list in order.
func (f *Flight) Steps() []StepRegistration {
	out := make([]StepRegistration, len(f.steps))
	copy(out, f.steps)
	return out
}
