package flight

import "context"

// HookAction is returned by hook callbacks. Only Continue has defined
// semantics today; anything else is logged and ignored.
type HookAction int

const (
	ActionContinue HookAction = iota
)

// Hook receives engine callbacks at defined points. Errors are caught and
// logged, never failing a flight. Embed BaseHook to implement a subset.
type Hook interface {
	StartFlight(ctx context.Context, fc *Context) (HookAction, error)
	EndFlight(ctx context.Context, fc *Context) (HookAction, error)
	StartStep(ctx context.Context, fc *Context) (HookAction, error)
	EndStep(ctx context.Context, fc *Context) (HookAction, error)
	StateTransition(ctx context.Context, fc *Context, to Status) (HookAction, error)
}

// DynamicHook is produced per flight or per step by a factory hook; End fires
// at the matching end point.
type DynamicHook interface {
	Start(ctx context.Context, fc *Context) (HookAction, error)
	End(ctx context.Context, fc *Context) (HookAction, error)
}

// FlightHookFactory is implemented by hooks that want a per-flight dynamic
// hook. Consulted at startFlight; the returned hook's End fires at endFlight.
type FlightHookFactory interface {
	FlightHook(fc *Context) (DynamicHook, bool)
}

// StepHookFactory is the per-step analogue, consulted at startStep.
type StepHookFactory interface {
	StepHook(fc *Context) (DynamicHook, bool)
}

// BaseHook is a no-op Hook for embedding.
type BaseHook struct{}

func (BaseHook) StartFlight(context.Context, *Context) (HookAction, error) {
	return ActionContinue, nil
}
func (BaseHook) EndFlight(context.Context, *Context) (HookAction, error) {
	return ActionContinue, nil
}
func (BaseHook) StartStep(context.Context, *Context) (HookAction, error) {
	return ActionContinue, nil
}
func (BaseHook) EndStep(context.Context, *Context) (HookAction, error) {
	return ActionContinue, nil
}
func (BaseHook) StateTransition(context.Context, *Context, Status) (HookAction, error) {
	return ActionContinue, nil
}
