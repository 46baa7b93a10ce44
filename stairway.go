package stairway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/internal/journal"
	iqueue "github.com/yungbote/stairway/internal/queue"
	"github.com/yungbote/stairway/internal/runner"
	"github.com/yungbote/stairway/pkg/ctxutil"
	"github.com/yungbote/stairway/pkg/logger"
)

// Stairway is one engine instance. A fleet of instances shares the same
// database and transport; the journal's ownership protocol guarantees each
// flight executes on exactly one instance at a time.
type Stairway struct {
	cfg      Config
	log      *logger.Logger
	registry *flight.Registry

	journal   *journal.Journal
	runner    *runner.Runner
	pool      *workerPool
	manager   *iqueue.Manager
	retention *retentionLoop

	instanceID string

	quieting    atomic.Bool
	initialized bool
	started     bool
	mu          sync.Mutex
}

// SubmitRequest describes one flight submission.
type SubmitRequest struct {
	// FlightID is the caller-chosen unique id; reuse fails with
	// flight.ErrDuplicateFlightID.
	FlightID  string
	ClassName string
	Input     *flight.FlightMap
	// Queue forces the submission onto the transport even when local
	// capacity exists.
	Queue bool
	// Debug optionally arms fault injection for this flight.
	Debug *flight.DebugInfo
}

// FlightPage is one enumeration page plus the cursor resuming after it.
type FlightPage struct {
	States        []*flight.State
	NextPageToken string
}

// New builds an engine instance. No I/O happens until Initialize.
func New(cfg Config) (*Stairway, error) {
	full, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Stairway{
		cfg:      full,
		log:      full.Logger.With("component", "Stairway", "instance", full.InstanceName),
		registry: flight.NewRegistry(),
	}, nil
}

// RegisterFlight binds a class name to its factory. Registration must finish
// before RecoverAndStart; resumed flights of unknown classes go FATAL.
func (s *Stairway) RegisterFlight(className string, f flight.Factory) error {
	return s.registry.Register(className, f)
}

// InstanceName returns the registered name of this instance.
func (s *Stairway) InstanceName() string { return s.cfg.InstanceName }

// Initialize prepares storage and internal machinery and returns the
// instance names found in the shared store, so the caller can decide which
// are obsolete and pass them to RecoverAndStart. forceClean drops all engine
// tables and purges the transport; migrate applies the schema.
func (s *Stairway) Initialize(ctx context.Context, forceClean, migrate bool) ([]string, error) {
	ctx = ctxutil.Default(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil, fmt.Errorf("stairway: already initialized")
	}

	if forceClean {
		s.log.Warn("force-clean: dropping engine tables and purging the transport")
		if err := journal.DropAll(s.cfg.DB); err != nil {
			return nil, fmt.Errorf("drop tables: %w", err)
		}
		if s.cfg.Transport != nil {
			if err := s.cfg.Transport.Purge(ctx); err != nil {
				return nil, fmt.Errorf("purge transport: %w", err)
			}
		}
	}
	if migrate || forceClean {
		if err := journal.Migrate(s.cfg.DB); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	s.journal = journal.New(s.cfg.DB, s.cfg.Logger, s.cfg.ObjectCodec, s.cfg.ExceptionCodec)
	s.runner = runner.New(s.journal, s.cfg.Logger, s.cfg.Hooks, s.quieting.Load)
	s.pool = newWorkerPool(s.cfg.MaxParallelFlights, s.cfg.MaxQueuedFlights, s.cfg.Logger)
	if s.cfg.Transport != nil {
		s.manager = iqueue.NewManager(s.cfg.Transport, s.resumeFromQueue, s.pool.spaceAvailable, s.cfg.Logger)
	}
	if s.cfg.CompletedFlightRetention > 0 {
		s.retention = newRetentionLoop(s.journal, s.cfg.CompletedFlightRetention, s.cfg.RetentionCheckInterval, s.cfg.Logger)
	}
	s.initialized = true

	instances, err := s.journal.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// RecoverAndStart releases flights owned by the named obsolete instances,
// registers this instance, redistributes unowned READY work, and starts the
// queue listener and retention sweep.
func (s *Stairway) RecoverAndStart(ctx context.Context, obsoleteInstances []string) error {
	ctx = ctxutil.Default(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("stairway: RecoverAndStart before Initialize")
	}
	if s.started {
		return fmt.Errorf("stairway: already started")
	}

	for _, name := range obsoleteInstances {
		released, err := s.journal.DisownRecovery(ctx, name)
		if err != nil {
			return fmt.Errorf("recover instance %s: %w", name, err)
		}
		if released > 0 {
			s.log.Info("released flights from obsolete instance",
				"obsolete_instance", name,
				"released", released,
			)
		}
	}

	id, err := s.journal.FindOrCreateInstance(ctx, s.cfg.InstanceName)
	if err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	s.instanceID = id

	ready, err := s.journal.GetReadyFlights(ctx)
	if err != nil {
		return fmt.Errorf("list ready flights: %w", err)
	}
	for _, flightID := range ready {
		if s.manager != nil {
			if err := s.enqueueReady(ctx, flightID); err != nil {
				s.log.Warn("failed to enqueue ready flight; recovery will retry",
					"flight_id", flightID,
					"error", err,
				)
			}
			continue
		}
		if _, err := s.resumeFromQueue(ctx, flightID); err != nil {
			s.log.Warn("failed to resume ready flight", "flight_id", flightID, "error", err)
		}
	}

	if s.manager != nil {
		s.manager.Start(context.Background())
	}
	if s.retention != nil {
		s.retention.start(context.Background())
	}
	s.started = true
	s.log.Info("stairway started",
		"max_parallel", s.cfg.MaxParallelFlights,
		"queued_transport", s.cfg.Transport != nil,
	)
	return nil
}

// SubmitFlight durably creates a flight and executes it, locally when
// capacity allows, otherwise through the transport. The flight exists in the
// store once SubmitFlight returns nil.
func (s *Stairway) SubmitFlight(ctx context.Context, req SubmitRequest) error {
	ctx = ctxutil.Default(ctx)
	if s.quieting.Load() {
		return flight.ErrShuttingDown
	}
	if !s.initialized {
		return fmt.Errorf("stairway: SubmitFlight before Initialize")
	}
	if req.FlightID == "" {
		return fmt.Errorf("stairway: flight id is required")
	}
	if !s.registry.Known(req.ClassName) {
		return fmt.Errorf("stairway: unknown flight class %s", req.ClassName)
	}

	fc := flight.NewContext(req.FlightID, req.ClassName, req.Input, s.cfg.ObjectCodec)
	fc.Debug = req.Debug
	fc.AppContext = s.cfg.AppContext

	if s.cfg.Transport != nil && (req.Queue || !s.pool.spaceAvailable()) {
		// Queue path: create unowned READY, publish, then mark QUEUED. A
		// crash between any two writes leaves the flight discoverable by
		// recovery.
		fc.Status = flight.StatusReady
		fc.OwnerID = ""
		if err := s.journal.Create(ctx, fc); err != nil {
			return err
		}
		if err := s.enqueueReady(ctx, req.FlightID); err != nil {
			return fmt.Errorf("flight %s created but not enqueued: %w", req.FlightID, err)
		}
		return nil
	}

	// Local path: create owned RUNNING and launch.
	fl, err := s.registry.New(req.ClassName, fc.Input, s.cfg.AppContext)
	if err != nil {
		return fmt.Errorf("build flight %s: %w", req.FlightID, err)
	}
	fc.Steps = fl.Steps()
	fc.Status = flight.StatusRunning
	fc.OwnerID = s.ownerID()
	if err := s.journal.Create(ctx, fc); err != nil {
		return err
	}
	s.notifyTransition(ctx, fc, flight.StatusRunning)
	fc.SetFlusher(s.journal.StorePersistedState)
	s.launch(ctx, fc)
	return nil
}

// notifyTransition fires the state-transition hooks for transitions the
// façade performs itself (claims to RUNNING, and exits written outside the
// runner). Runs after the journal transaction commits; hook errors are logged
// and swallowed.
func (s *Stairway) notifyTransition(ctx context.Context, fc *flight.Context, to flight.Status) {
	for _, h := range s.cfg.Hooks {
		action, err := h.StateTransition(ctx, fc, to)
		if err != nil {
			s.log.Warn("state-transition hook returned error",
				"flight_id", fc.FlightID,
				"status", to,
				"error", err,
			)
			continue
		}
		if action != flight.ActionContinue {
			s.log.Warn("ignoring unsupported hook action",
				"flight_id", fc.FlightID,
				"action", action,
			)
		}
	}
}

func (s *Stairway) ownerID() string {
	if s.instanceID != "" {
		return s.instanceID
	}
	return s.cfg.InstanceName
}

func (s *Stairway) enqueueReady(ctx context.Context, flightID string) error {
	if err := s.manager.Enqueue(ctx, flightID); err != nil {
		return err
	}
	return s.journal.SetQueued(ctx, flightID)
}

// resumeFromQueue claims an unowned resumable flight and launches it. took
// is false when another instance won the claim.
func (s *Stairway) resumeFromQueue(ctx context.Context, flightID string) (bool, error) {
	if s.quieting.Load() {
		return false, flight.ErrShuttingDown
	}
	fc, took, err := s.journal.Resume(ctx, s.ownerID(), flightID)
	if err != nil || !took {
		return false, err
	}
	s.notifyTransition(ctx, fc, flight.StatusRunning)
	fc.AppContext = s.cfg.AppContext

	fl, err := s.registry.New(fc.ClassName, fc.Input, s.cfg.AppContext)
	if err != nil {
		// Unknown or broken class on this instance; the flight cannot run
		// anywhere that lacks the factory, so fail it rather than bounce it.
		s.log.Error("flight factory failed on resume; failing flight",
			"flight_id", flightID,
			"flight_class", fc.ClassName,
			"error", err,
		)
		fc.Status = flight.StatusFatal
		fc.Result = flight.ResultFatal(err)
		if exitErr := s.journal.Exit(ctx, fc); exitErr != nil {
			return true, exitErr
		}
		s.notifyTransition(ctx, fc, flight.StatusFatal)
		return true, nil
	}
	fc.Steps = fl.Steps()
	fc.SetFlusher(s.journal.StorePersistedState)
	s.launch(ctx, fc)
	return true, nil
}

func (s *Stairway) launch(submitCtx context.Context, fc *flight.Context) {
	diag := ctxutil.Snapshot(submitCtx)
	diag["flight_id"] = fc.FlightID
	diag["flight_class"] = fc.ClassName
	s.pool.launch(diag,
		func(ctx context.Context) {
			s.runner.Run(ctx, fc)
		},
		func() {
			// Never started: release ownership so another instance picks the
			// flight up. The pool context is gone, so write on a fresh one.
			fc.Status = flight.StatusReady
			exitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.journal.Exit(exitCtx, fc); err != nil {
				s.log.Error("failed to release unstarted flight", "flight_id", fc.FlightID, "error", err)
				return
			}
			s.notifyTransition(exitCtx, fc, flight.StatusReady)
		},
	)
}

// QuietDown stops accepting work and lets running flights yield at their
// next step boundary, then waits for them to park. The engine cannot be
// restarted afterward.
func (s *Stairway) QuietDown(ctx context.Context) error {
	s.quieting.Store(true)
	if s.manager != nil {
		s.manager.Stop()
	}
	if s.retention != nil {
		s.retention.stop()
	}

	ctx = ctxutil.Default(ctx)
	done := make(chan struct{})
	go func() {
		if s.pool != nil {
			s.pool.wait()
		}
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.log.Info("stairway quieted down")
		return nil
	}
}

// Terminate interrupts running flights immediately. Each parks READY at its
// current journal position; in-flight step bodies finish or are abandoned by
// their own context handling.
func (s *Stairway) Terminate(ctx context.Context) error {
	s.quieting.Store(true)
	if s.manager != nil {
		s.manager.Stop()
	}
	if s.retention != nil {
		s.retention.stop()
	}
	if s.pool != nil {
		s.pool.terminate()
	}

	ctx = ctxutil.Default(ctx)
	done := make(chan struct{})
	go func() {
		if s.pool != nil {
			s.pool.wait()
		}
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.log.Info("stairway terminated")
		return nil
	}
}

// GetFlightState reads the current state of one flight.
func (s *Stairway) GetFlightState(ctx context.Context, flightID string) (*flight.State, error) {
	return s.journal.GetFlightState(ctxutil.Default(ctx), flightID)
}

// GetFlights enumerates flights matching the filter in submit-time order,
// one page at a time.
func (s *Stairway) GetFlights(ctx context.Context, f *flight.Filter, pageSize int, pageToken string) (*FlightPage, error) {
	page, err := s.journal.GetFlights(ctxutil.Default(ctx), f, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	return &FlightPage{States: page.States, NextPageToken: page.NextPageToken}, nil
}

// CountFlights counts flights matching the filter.
func (s *Stairway) CountFlights(ctx context.Context, f *flight.Filter) (int64, error) {
	return s.journal.CountFlights(ctxutil.Default(ctx), f)
}

// DeleteFlight removes a flight and all its journaled state. Deleting a
// running flight is the caller's mistake; prefer terminal flights only.
func (s *Stairway) DeleteFlight(ctx context.Context, flightID string) error {
	return s.journal.Delete(ctxutil.Default(ctx), flightID)
}

// DeleteCompletedFlights removes terminal flights completed before
// olderThan, returning the count removed.
func (s *Stairway) DeleteCompletedFlights(ctx context.Context, olderThan time.Time) (int, error) {
	return s.journal.DeleteCompleted(ctxutil.Default(ctx), olderThan)
}

// WakeFlight re-dispatches a WAITING (or otherwise parked, unowned) flight.
// Steps that returned WAIT rely on the application calling this once the
// external condition clears.
func (s *Stairway) WakeFlight(ctx context.Context, flightID string) error {
	ctx = ctxutil.Default(ctx)
	if s.quieting.Load() {
		return flight.ErrShuttingDown
	}
	took, err := s.resumeFromQueue(ctx, flightID)
	if err != nil {
		return err
	}
	if !took {
		return fmt.Errorf("%w or not resumable: %s", flight.ErrFlightNotFound, flightID)
	}
	return nil
}

// WaitForFlight polls until the flight reaches a terminal status or ctx
// expires. Poll interval defaults to one second.
func (s *Stairway) WaitForFlight(ctx context.Context, flightID string, poll time.Duration) (*flight.State, error) {
	ctx = ctxutil.Default(ctx)
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		state, err := s.journal.GetFlightState(ctx, flightID)
		if err != nil && !errors.Is(err, flight.ErrFlightNotFound) {
			return nil, err
		}
		if state != nil && state.Terminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}
