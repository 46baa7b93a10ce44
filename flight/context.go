package flight

import (
	"context"
	"fmt"
)

// StateFlusher writes the persisted map through to durable storage. The
// engine wires it to the journal when it hands a context to a runner.
type StateFlusher func(ctx context.Context, flightID string, values map[string]string) error

// Context is the in-memory state of one running flight. It is owned by a
// single runner goroutine for the duration of execution; no synchronization.
type Context struct {
	FlightID  string
	ClassName string
	// OwnerID is the engine instance executing the flight; empty when the
	// flight is unowned.
	OwnerID string

	// Input is sealed at creation. Working is snapshotted with every log
	// entry; Persisted flushes independently through the flusher.
	Input     *FlightMap
	Working   *FlightMap
	Persisted *FlightMap

	StepIndex int
	Direction Direction
	Rerun     bool
	Result    StepResult
	Status    Status

	Steps []StepRegistration
	Debug *DebugInfo

	// AppContext is the caller's application object, passed through to
	// factories and step bodies untouched.
	AppContext any

	flusher StateFlusher
}

// NewContext builds a fresh context for submission. Inputs are copied into a
// sealed map sharing the codec.
func NewContext(flightID, className string, input *FlightMap, codec ObjectCodec) *Context {
	if input == nil {
		input = NewFlightMapWithCodec(codec)
	}
	in := RestoreFlightMap(input.Snapshot(), codec)
	in.Seal()
	return &Context{
		FlightID:  flightID,
		ClassName: className,
		Input:     in,
		Working:   NewFlightMapWithCodec(codec),
		Persisted: NewFlightMapWithCodec(codec),
		StepIndex: 0,
		Direction: DirectionStart,
		Result:    ResultSuccess(),
		Status:    StatusRunning,
	}
}

// SetFlusher attaches the journal write-through for the persisted map.
func (c *Context) SetFlusher(f StateFlusher) { c.flusher = f }

// Advance moves direction and index one step. A pending rerun pins both.
func (c *Context) Advance() {
	if c.Rerun {
		return
	}
	switch c.Direction {
	case DirectionStart:
		c.Direction = DirectionDo
		c.StepIndex = 0
	case DirectionDo:
		c.StepIndex++
	case DirectionUndo:
		c.StepIndex--
	case DirectionSwitch:
		// undo the current step; index unchanged
	}
}

// HaveStepToDo reports whether execution has steps left in the current
// direction: doing finishes past the last index, undoing below zero.
func (c *Context) HaveStepToDo() bool {
	if c.Direction.Doing() {
		return c.StepIndex < len(c.Steps)
	}
	return c.StepIndex >= 0
}

// CurrentStep returns the registration at the current index.
func (c *Context) CurrentStep() (StepRegistration, error) {
	if c.StepIndex < 0 || c.StepIndex >= len(c.Steps) {
		return StepRegistration{}, fmt.Errorf("step index %d out of range [0,%d)", c.StepIndex, len(c.Steps))
	}
	return c.Steps[c.StepIndex], nil
}

// SetProgress upserts a progress meter into the persisted map and flushes it
// to the journal immediately, independent of step logging.
func (c *Context) SetProgress(ctx context.Context, key string, value any) error {
	if err := c.Persisted.Put(key, value); err != nil {
		return err
	}
	if c.flusher == nil {
		return nil
	}
	return c.flusher(ctx, c.FlightID, c.Persisted.Snapshot())
}

// GetProgress reads a progress meter back from the persisted map.
func (c *Context) GetProgress(key string, dest any) (bool, error) {
	return c.Persisted.Get(key, dest)
}
