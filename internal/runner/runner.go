package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/pkg/ctxutil"
	"github.com/yungbote/stairway/pkg/logger"
)

// exitTimeout bounds the final journal write after the worker context is
// gone. Without it a forced shutdown could lose the disposition entirely.
const exitTimeout = 30 * time.Second

// Journal is the slice of the persistence layer the runner needs.
type Journal interface {
	Step(ctx context.Context, fc *flight.Context) error
	Exit(ctx context.Context, fc *flight.Context) error
}

// Runner drives one flight at a time through the do/undo state machine,
// journaling every step boundary. A Runner is stateless across flights and
// safe to share; per-flight mutable state lives on the context and in a
// per-run debug tracker.
type Runner struct {
	journal  Journal
	log      *logger.Logger
	hooks    []flight.Hook
	quieting func() bool
	tracer   trace.Tracer
}

func New(j Journal, baseLog *logger.Logger, hooks []flight.Hook, quieting func() bool) *Runner {
	if quieting == nil {
		quieting = func() bool { return false }
	}
	return &Runner{
		journal:  j,
		log:      baseLog.With("component", "Runner"),
		hooks:    hooks,
		quieting: quieting,
		tracer:   otel.Tracer("github.com/yungbote/stairway/internal/runner"),
	}
}

// Run executes the flight to its next parking point and journals the exit
// disposition. The context carries the worker's cancellation: a cancel
// observed at a step boundary parks the flight READY for another instance.
func (r *Runner) Run(ctx context.Context, fc *flight.Context) {
	log := r.log.With("flight_id", fc.FlightID, "flight_class", fc.ClassName)
	hooks := newHookState(r.hooks, log)
	hooks.startFlight(ctx, fc)

	if r.quieting() {
		// Refuse to start stepping; the flight was claimed but not begun.
		fc.Status = flight.StatusReady
	} else {
		r.fly(ctx, fc, hooks, log)
	}

	// The exit write must survive worker cancellation.
	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exitTimeout)
	defer cancel()
	if err := r.journal.Exit(exitCtx, fc); err != nil {
		log.Error("failed to journal flight exit",
			"status", fc.Status,
			"error", err,
		)
	} else {
		hooks.stateTransition(exitCtx, fc, fc.Status)
	}
	hooks.endFlight(exitCtx, fc)
}

// fly walks the do leg and, on failure, the undo leg, leaving the final
// status on the context.
func (r *Runner) fly(ctx context.Context, fc *flight.Context, hooks *hookState, log *logger.Logger) {
	debug := newDebugState(fc.Debug)

	if fc.Direction.Doing() {
		res, err := r.runSteps(ctx, fc, hooks, debug)
		if err != nil {
			fc.Status = r.interruptStatus(ctx, log, err)
			return
		}
		switch res.Status {
		case flight.StepSuccess:
			fc.Status = flight.StatusSuccess
			return
		case flight.StepStop:
			fc.Status = flight.StatusReady
			return
		case flight.StepWait:
			fc.Status = flight.StatusWaiting
			return
		case flight.StepRestartFlight:
			fc.Status = flight.StatusReadyToRestart
			return
		}
		// A failed do-step flips the flight into compensation. The failed
		// attempt is journaled under SWITCH so a crash resumes into the undo
		// of this same step.
		log.Warn("flight step failed, compensating",
			"step_index", fc.StepIndex,
			"step_status", res.Status,
			"error", res.Err,
		)
		fc.Rerun = false
		fc.Direction = flight.DirectionSwitch
		if err := r.journal.Step(ctx, fc); err != nil {
			fc.Status = r.interruptStatus(ctx, log, err)
			return
		}
	}

	// Undo leg. The result journaled at the switch point carries the failure
	// that put us here.
	origFailure := fc.Result
	res, err := r.runSteps(ctx, fc, hooks, debug)
	if err != nil {
		fc.Status = r.interruptStatus(ctx, log, err)
		return
	}
	switch res.Status {
	case flight.StepSuccess:
		// Compensation finished cleanly; surface the original failure.
		fc.Result = origFailure
		fc.Status = flight.StatusError
	case flight.StepStop:
		fc.Status = flight.StatusReady
	case flight.StepWait:
		fc.Status = flight.StatusWaiting
	case flight.StepRestartFlight:
		fc.Status = flight.StatusReadyToRestart
	default:
		// An undo step failed: external state is neither done nor undone.
		// The failed attempt is journaled so the log tail records where the
		// compensation broke; the earlier do-failure stays at the switch
		// point.
		log.Error("compensation failed, flight is fatal",
			"step_index", fc.StepIndex,
			"error", res.Err,
		)
		fc.Rerun = false
		if err := r.journal.Step(ctx, fc); err != nil {
			fc.Status = r.interruptStatus(ctx, log, err)
			return
		}
		fc.Status = flight.StatusFatal
	}
}

// runSteps executes steps in the current direction until the leg completes,
// a step yields the flight, or a failure demands the other leg. A returned
// error is an interruption: the attempt is not journaled and the flight
// parks READY.
func (r *Runner) runSteps(ctx context.Context, fc *flight.Context, hooks *hookState, debug *debugState) (flight.StepResult, error) {
	for {
		fc.Advance()
		if !fc.HaveStepToDo() {
			fc.Result = flight.ResultSuccess()
			return fc.Result, nil
		}
		res, err := r.stepWithRetry(ctx, fc, hooks, debug)
		fc.Result = res
		if err != nil {
			return res, err
		}
		// The switch point is journaled as UNDO: the undo of the failed step
		// has now been attempted.
		if fc.Direction == flight.DirectionSwitch {
			fc.Direction = flight.DirectionUndo
		}
		switch res.Status {
		case flight.StepSuccess:
			fc.Rerun = false
			if err := r.journal.Step(ctx, fc); err != nil {
				return res, err
			}
			if fc.Debug != nil && fc.Debug.RestartEachStep {
				fc.Result = flight.ResultRestartFlight()
				return fc.Result, nil
			}
			if r.quieting() {
				// Quiet-down yields at the boundary after journaling, so the
				// finished step is never redone.
				fc.Result = flight.ResultStop()
				return fc.Result, nil
			}
		case flight.StepRerun:
			fc.Rerun = true
			if err := r.journal.Step(ctx, fc); err != nil {
				return res, err
			}
			if r.quieting() {
				fc.Result = flight.ResultStop()
				return fc.Result, nil
			}
		case flight.StepWait, flight.StepStop, flight.StepRestartFlight:
			fc.Rerun = false
			if err := r.journal.Step(ctx, fc); err != nil {
				return res, err
			}
			return res, nil
		default:
			// Failures are journaled by the caller: do-failures at the switch
			// point, undo-failures as the fatal log tail.
			return res, nil
		}
	}
}

// stepWithRetry runs one step attempt, feeding FAILURE_RETRY outcomes to the
// step's retry rule until it gives up or succeeds.
func (r *Runner) stepWithRetry(ctx context.Context, fc *flight.Context, hooks *hookState, debug *debugState) (flight.StepResult, error) {
	reg, err := fc.CurrentStep()
	if err != nil {
		return flight.ResultFatal(err), nil
	}
	rule := reg.Rule
	if rule == nil {
		rule = flight.RetryRuleNone{}
	}
	rule.Initialize()
	for {
		res := r.executeStep(ctx, fc, reg, hooks, debug)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if res.Status != flight.StepFailureRetry {
			return res, nil
		}
		if r.quieting() {
			// Do not burn the retry budget during shutdown; the attempt
			// failed, so re-running the step after resume is safe.
			return flight.ResultStop(), nil
		}
		retry, sleepErr := rule.SleepAndDecide(ctx)
		if sleepErr != nil {
			return res, sleepErr
		}
		if !retry {
			return res, nil
		}
		r.log.Debug("retrying step",
			"flight_id", fc.FlightID,
			"step", reg.Name,
			"step_index", fc.StepIndex,
		)
	}
}

// executeStep invokes Do or Undo with panic recovery, tracing and step
// hooks. Debug injections replace the result only on a normal return.
func (r *Runner) executeStep(ctx context.Context, fc *flight.Context, reg flight.StepRegistration, hooks *hookState, debug *debugState) (out flight.StepResult) {
	spanName := "step." + reg.Name
	if fc.Direction.Undoing() {
		spanName = "undo." + reg.Name
	}
	ctx, span := r.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("stairway.flight_id", fc.FlightID),
		attribute.String("stairway.flight_class", fc.ClassName),
		attribute.Int("stairway.step_index", fc.StepIndex),
		attribute.String("stairway.direction", string(fc.Direction)),
	))
	defer span.End()

	// Step bodies and hooks log against a context that identifies the step,
	// not just the flight.
	ctx = ctxutil.WithDiag(ctx, ctxutil.Diag{
		"step_class":     reg.Name,
		"step_direction": string(fc.Direction),
		"step_index":     strconv.Itoa(fc.StepIndex),
	})

	hooks.startStep(ctx, fc)
	defer hooks.endStep(ctx, fc)

	panicked := true
	defer func() {
		if !panicked {
			return
		}
		p := recover()
		if p == nil {
			return
		}
		err, ok := p.(error)
		if !ok {
			err = fmt.Errorf("step panic: %v", p)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "step panicked")
		r.log.Error("recovered step panic",
			"flight_id", fc.FlightID,
			"step", reg.Name,
			"step_index", fc.StepIndex,
			"error", err,
		)
		if errors.Is(err, flight.ErrRetry) {
			out = flight.ResultRetry(err)
		} else {
			out = flight.ResultFatal(err)
		}
	}()

	if fc.Direction.Undoing() {
		out = reg.Step.Undo(ctx, fc)
	} else {
		out = reg.Step.Do(ctx, fc)
	}
	panicked = false

	if injected, ok := debug.inject(fc, reg); ok {
		out = injected
	}
	if !out.Success() {
		span.SetStatus(codes.Error, string(out.Status))
		if out.Err != nil {
			span.RecordError(out.Err)
		}
	}
	return out
}

// interruptStatus maps a step-boundary error to an exit status: a cancelled
// context parks the flight for another instance; anything else is a storage
// failure we cannot journal around.
func (r *Runner) interruptStatus(ctx context.Context, log *logger.Logger, err error) flight.Status {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info("flight interrupted, releasing ownership", "error", err)
		return flight.StatusReady
	}
	log.Error("flight aborted on journal failure", "error", err)
	return flight.StatusFatal
}
