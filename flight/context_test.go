package flight

import (
	"context"
	"testing"
)

type noopStep struct{}

func (noopStep) Do(context.Context, *Context) StepResult   { return ResultSuccess() }
func (noopStep) Undo(context.Context, *Context) StepResult { return ResultSuccess() }

func contextWithSteps(n int) *Context {
	fl := New()
	for i := 0; i < n; i++ {
		fl.AddStep(noopStep{}, nil)
	}
	fc := NewContext("f-1", "test.flight", nil, nil)
	fc.Steps = fl.Steps()
	return fc
}

func TestAdvanceForward(t *testing.T) {
	fc := contextWithSteps(3)

	fc.Advance()
	if fc.Direction != DirectionDo || fc.StepIndex != 0 {
		t.Fatalf("after start: dir=%s idx=%d", fc.Direction, fc.StepIndex)
	}
	fc.Advance()
	fc.Advance()
	if fc.StepIndex != 2 || !fc.HaveStepToDo() {
		t.Fatalf("at last step: idx=%d have=%v", fc.StepIndex, fc.HaveStepToDo())
	}
	fc.Advance()
	if fc.HaveStepToDo() {
		t.Fatalf("leg should be complete at idx=%d", fc.StepIndex)
	}
}

func TestAdvanceRerunPins(t *testing.T) {
	fc := contextWithSteps(3)
	fc.Advance()
	fc.Advance() // idx 1

	fc.Rerun = true
	fc.Advance()
	if fc.StepIndex != 1 || fc.Direction != DirectionDo {
		t.Fatalf("rerun moved position: dir=%s idx=%d", fc.Direction, fc.StepIndex)
	}
	fc.Rerun = false
	fc.Advance()
	if fc.StepIndex != 2 {
		t.Fatalf("cleared rerun did not advance: idx=%d", fc.StepIndex)
	}
}

func TestAdvanceUndoLeg(t *testing.T) {
	fc := contextWithSteps(3)
	fc.Advance()
	fc.Advance() // failing at idx 1
	fc.Direction = DirectionSwitch

	// SWITCH: same index, now undoing.
	fc.Advance()
	if fc.StepIndex != 1 || !fc.Direction.Undoing() {
		t.Fatalf("switch advance: dir=%s idx=%d", fc.Direction, fc.StepIndex)
	}
	fc.Direction = DirectionUndo
	fc.Advance()
	if fc.StepIndex != 0 || !fc.HaveStepToDo() {
		t.Fatalf("undo advance: idx=%d have=%v", fc.StepIndex, fc.HaveStepToDo())
	}
	fc.Advance()
	if fc.HaveStepToDo() {
		t.Fatalf("undo leg should be complete at idx=%d", fc.StepIndex)
	}
}

func TestNewContextSealsInputCopy(t *testing.T) {
	in := NewFlightMap()
	if err := in.Put("order", "o-9"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	fc := NewContext("f-2", "test.flight", in, nil)

	if !fc.Input.Sealed() {
		t.Fatalf("input map not sealed")
	}
	// The original stays usable; the context holds a copy.
	if err := in.Put("later", true); err != nil {
		t.Fatalf("caller map mutated: %v", err)
	}
	if _, ok := fc.Input.GetRaw("later"); ok {
		t.Fatalf("post-submit write leaked into the flight input")
	}
}

func TestSetProgressFlushes(t *testing.T) {
	fc := NewContext("f-3", "test.flight", nil, nil)

	var flushedID string
	var flushed map[string]string
	fc.SetFlusher(func(_ context.Context, flightID string, values map[string]string) error {
		flushedID = flightID
		flushed = values
		return nil
	})

	if err := fc.SetProgress(context.Background(), "done", 7); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if flushedID != "f-3" {
		t.Fatalf("flushed id = %q", flushedID)
	}
	if flushed["done"] != "7" {
		t.Fatalf("flushed values = %v", flushed)
	}

	var done int
	if ok, err := fc.GetProgress("done", &done); !ok || err != nil || done != 7 {
		t.Fatalf("GetProgress: ok=%v err=%v done=%d", ok, err, done)
	}
}

func TestCurrentStepOutOfRange(t *testing.T) {
	fc := contextWithSteps(1)
	fc.StepIndex = 5
	if _, err := fc.CurrentStep(); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
