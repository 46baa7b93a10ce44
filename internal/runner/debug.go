package runner

import (
	"fmt"

	"github.com/yungbote/stairway/flight"
)

// debugState tracks which fault injections have fired during this runner
// pass. Each armed entry fires at most once per pass; a resumed flight gets
// a fresh state and re-arms its injections.
type debugState struct {
	info *flight.DebugInfo

	firedDoStep    map[int]bool
	firedUndoStep  map[int]bool
	firedDoClass   map[string]bool
	firedUndoClass map[string]bool
	firedLastStep  bool
}

func newDebugState(info *flight.DebugInfo) *debugState {
	return &debugState{
		info:           info,
		firedDoStep:    map[int]bool{},
		firedUndoStep:  map[int]bool{},
		firedDoClass:   map[string]bool{},
		firedUndoClass: map[string]bool{},
	}
}

// inject returns the forced result for the attempt that just returned, when
// one is armed. Precedence: step index, then step class, then last-step.
func (d *debugState) inject(fc *flight.Context, reg flight.StepRegistration) (flight.StepResult, bool) {
	if d.info.Empty() {
		return flight.StepResult{}, false
	}
	doing := fc.Direction.Doing()

	if doing {
		if tag, ok := d.info.DoStepFailures[fc.StepIndex]; ok && !d.firedDoStep[fc.StepIndex] {
			d.firedDoStep[fc.StepIndex] = true
			return forcedResult(tag, fc, reg), true
		}
		if tag, ok := d.info.DoClassFailures[reg.Name]; ok && !d.firedDoClass[reg.Name] {
			d.firedDoClass[reg.Name] = true
			return forcedResult(tag, fc, reg), true
		}
		if d.info.LastStepFailure && !d.firedLastStep && fc.StepIndex == len(fc.Steps)-1 {
			d.firedLastStep = true
			return forcedResult(flight.StepFailureFatal, fc, reg), true
		}
		return flight.StepResult{}, false
	}

	if tag, ok := d.info.UndoStepFailures[fc.StepIndex]; ok && !d.firedUndoStep[fc.StepIndex] {
		d.firedUndoStep[fc.StepIndex] = true
		return forcedResult(tag, fc, reg), true
	}
	if tag, ok := d.info.UndoClassFailures[reg.Name]; ok && !d.firedUndoClass[reg.Name] {
		d.firedUndoClass[reg.Name] = true
		return forcedResult(tag, fc, reg), true
	}
	return flight.StepResult{}, false
}

func forcedResult(tag flight.StepStatus, fc *flight.Context, reg flight.StepRegistration) flight.StepResult {
	res := flight.StepResult{Status: tag}
	if !tag.Success() {
		res.Err = fmt.Errorf("injected %s at step %d (%s)", tag, fc.StepIndex, reg.Name)
	}
	return res
}
