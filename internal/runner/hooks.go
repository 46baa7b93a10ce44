package runner

import (
	"context"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/pkg/logger"
)

// hookState fans engine callbacks out to the configured hooks plus any
// dynamic hooks their factories produce for this flight. Hook errors are
// logged and swallowed; a hook never fails a flight.
type hookState struct {
	hooks []flight.Hook
	log   *logger.Logger

	flightHooks []flight.DynamicHook
	stepHooks   []flight.DynamicHook
}

func newHookState(hooks []flight.Hook, log *logger.Logger) *hookState {
	return &hookState{hooks: hooks, log: log}
}

func (h *hookState) observe(name string, action flight.HookAction, err error) {
	if err != nil {
		h.log.Warn("hook returned error", "hook_point", name, "error", err)
		return
	}
	if action != flight.ActionContinue {
		h.log.Warn("ignoring unsupported hook action", "hook_point", name, "action", action)
	}
}

func (h *hookState) startFlight(ctx context.Context, fc *flight.Context) {
	for _, hk := range h.hooks {
		action, err := hk.StartFlight(ctx, fc)
		h.observe("startFlight", action, err)
		if f, ok := hk.(flight.FlightHookFactory); ok {
			if dyn, want := f.FlightHook(fc); want {
				h.flightHooks = append(h.flightHooks, dyn)
				action, err := dyn.Start(ctx, fc)
				h.observe("flightHook.start", action, err)
			}
		}
	}
}

func (h *hookState) endFlight(ctx context.Context, fc *flight.Context) {
	for _, dyn := range h.flightHooks {
		action, err := dyn.End(ctx, fc)
		h.observe("flightHook.end", action, err)
	}
	h.flightHooks = nil
	for _, hk := range h.hooks {
		action, err := hk.EndFlight(ctx, fc)
		h.observe("endFlight", action, err)
	}
}

func (h *hookState) startStep(ctx context.Context, fc *flight.Context) {
	h.stepHooks = h.stepHooks[:0]
	for _, hk := range h.hooks {
		action, err := hk.StartStep(ctx, fc)
		h.observe("startStep", action, err)
		if f, ok := hk.(flight.StepHookFactory); ok {
			if dyn, want := f.StepHook(fc); want {
				h.stepHooks = append(h.stepHooks, dyn)
				action, err := dyn.Start(ctx, fc)
				h.observe("stepHook.start", action, err)
			}
		}
	}
}

func (h *hookState) endStep(ctx context.Context, fc *flight.Context) {
	for _, dyn := range h.stepHooks {
		action, err := dyn.End(ctx, fc)
		h.observe("stepHook.end", action, err)
	}
	h.stepHooks = h.stepHooks[:0]
	for _, hk := range h.hooks {
		action, err := hk.EndStep(ctx, fc)
		h.observe("endStep", action, err)
	}
}

func (h *hookState) stateTransition(ctx context.Context, fc *flight.Context, to flight.Status) {
	for _, hk := range h.hooks {
		action, err := hk.StateTransition(ctx, fc, to)
		h.observe("stateTransition", action, err)
	}
}
