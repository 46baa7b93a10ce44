package stairway

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/pkg/logger"
	"github.com/yungbote/stairway/queue"
)

func TestNewRequiresDB(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("New without DB succeeded")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{DB: &gorm.DB{}}
	full, err := cfg.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	if full.MaxParallelFlights != defaultMaxParallelFlights {
		t.Fatalf("MaxParallelFlights = %d", full.MaxParallelFlights)
	}
	if full.MaxQueuedFlights != defaultMaxQueuedFlights {
		t.Fatalf("MaxQueuedFlights = %d", full.MaxQueuedFlights)
	}
	if !strings.HasPrefix(full.InstanceName, "stairway-") {
		t.Fatalf("InstanceName = %q", full.InstanceName)
	}
	if full.ObjectCodec == nil || full.ExceptionCodec == nil || full.Logger == nil {
		t.Fatalf("defaults missing: %+v", full)
	}
}

func TestConfigNegativeQueuedFlightsMeansNoBacklog(t *testing.T) {
	cfg := Config{DB: &gorm.DB{}, MaxQueuedFlights: -1}
	full, err := cfg.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	if full.MaxQueuedFlights != 0 {
		t.Fatalf("MaxQueuedFlights = %d, want 0", full.MaxQueuedFlights)
	}
}

func TestRegisterFlightRejectsDuplicates(t *testing.T) {
	s, err := New(Config{DB: &gorm.DB{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	factory := func(*flight.FlightMap, any) (*flight.Flight, error) { return flight.New(), nil }
	if err := s.RegisterFlight("x", factory); err != nil {
		t.Fatalf("RegisterFlight: %v", err)
	}
	if err := s.RegisterFlight("x", factory); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
}

// ---- end-to-end tests against a real store ----

type recordingStep struct {
	name    string
	fail    bool
	does    *atomic.Int64
	undoes  *atomic.Int64
	results chan string
}

func (s *recordingStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	s.does.Add(1)
	if s.fail {
		return flight.ResultFatal(errors.New(s.name + " exploded"))
	}
	if err := fc.SetProgress(ctx, s.name, "done"); err != nil {
		return flight.ResultFatal(err)
	}
	return flight.ResultSuccess()
}

func (s *recordingStep) Undo(context.Context, *flight.Context) flight.StepResult {
	s.undoes.Add(1)
	return flight.ResultSuccess()
}

func newTestEngine(t *testing.T, transport queue.Transport, hooks ...flight.Hook) (*Stairway, *atomic.Int64, *atomic.Int64) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}

	s, err := New(Config{
		DB:        db,
		Transport: transport,
		Hooks:     hooks,
		Logger:    logger.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	does := &atomic.Int64{}
	undoes := &atomic.Int64{}
	err = s.RegisterFlight("test.twostep", func(*flight.FlightMap, any) (*flight.Flight, error) {
		return flight.New().
			AddNamedStep("first", &recordingStep{name: "first", does: does, undoes: undoes}, nil).
			AddNamedStep("second", &recordingStep{name: "second", does: does, undoes: undoes}, nil), nil
	})
	if err != nil {
		t.Fatalf("RegisterFlight: %v", err)
	}
	err = s.RegisterFlight("test.failing", func(*flight.FlightMap, any) (*flight.Flight, error) {
		return flight.New().
			AddNamedStep("first", &recordingStep{name: "first", does: does, undoes: undoes}, nil).
			AddNamedStep("bomb", &recordingStep{name: "bomb", fail: true, does: does, undoes: undoes}, nil), nil
	})
	if err != nil {
		t.Fatalf("RegisterFlight: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Initialize(ctx, true, true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.RecoverAndStart(ctx, nil); err != nil {
		t.Fatalf("RecoverAndStart: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Terminate(ctx)
	})
	return s, does, undoes
}

func TestEngineRunsFlightToSuccess(t *testing.T) {
	s, does, undoes := newTestEngine(t, nil)
	ctx := context.Background()

	err := s.SubmitFlight(ctx, SubmitRequest{FlightID: "e2e-ok", ClassName: "test.twostep"})
	if err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	state, err := s.WaitForFlight(waitCtx, "e2e-ok", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForFlight: %v", err)
	}
	if state.Status != flight.StatusSuccess {
		t.Fatalf("status = %s", state.Status)
	}
	if does.Load() != 2 || undoes.Load() != 0 {
		t.Fatalf("does=%d undoes=%d", does.Load(), undoes.Load())
	}
	if state.Progress["first"] == "" || state.Progress["second"] == "" {
		t.Fatalf("progress = %v", state.Progress)
	}
}

func TestEngineCompensatesOnFailure(t *testing.T) {
	s, _, undoes := newTestEngine(t, nil)
	ctx := context.Background()

	err := s.SubmitFlight(ctx, SubmitRequest{FlightID: "e2e-fail", ClassName: "test.failing"})
	if err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	state, err := s.WaitForFlight(waitCtx, "e2e-fail", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForFlight: %v", err)
	}
	if state.Status != flight.StatusError {
		t.Fatalf("status = %s", state.Status)
	}
	if state.Exception == nil || !strings.Contains(state.Exception.Error(), "bomb exploded") {
		t.Fatalf("exception = %v", state.Exception)
	}
	// Both the failed step and the finished one were compensated.
	if undoes.Load() != 2 {
		t.Fatalf("undoes = %d", undoes.Load())
	}
}

func TestEngineDuplicateSubmit(t *testing.T) {
	s, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	req := SubmitRequest{FlightID: "e2e-dup", ClassName: "test.twostep"}
	if err := s.SubmitFlight(ctx, req); err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}
	if err := s.SubmitFlight(ctx, req); !errors.Is(err, flight.ErrDuplicateFlightID) {
		t.Fatalf("duplicate submit: %v", err)
	}
}

func TestEngineUnknownClass(t *testing.T) {
	s, _, _ := newTestEngine(t, nil)
	err := s.SubmitFlight(context.Background(), SubmitRequest{FlightID: "x", ClassName: "nope"})
	if err == nil {
		t.Fatalf("unknown class accepted")
	}
}

func TestEngineQueuePath(t *testing.T) {
	s, does, _ := newTestEngine(t, queue.NewMemoryTransport())
	ctx := context.Background()

	err := s.SubmitFlight(ctx, SubmitRequest{
		FlightID:  "e2e-queued",
		ClassName: "test.twostep",
		Queue:     true,
	})
	if err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	state, err := s.WaitForFlight(waitCtx, "e2e-queued", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForFlight: %v", err)
	}
	if state.Status != flight.StatusSuccess {
		t.Fatalf("status = %s", state.Status)
	}
	if does.Load() != 2 {
		t.Fatalf("does = %d", does.Load())
	}
}

func TestEngineQuietDownRejectsSubmissions(t *testing.T) {
	s, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	quietCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.QuietDown(quietCtx); err != nil {
		t.Fatalf("QuietDown: %v", err)
	}
	err := s.SubmitFlight(ctx, SubmitRequest{FlightID: "late", ClassName: "test.twostep"})
	if !errors.Is(err, flight.ErrShuttingDown) {
		t.Fatalf("submit during shutdown: %v", err)
	}
}

type transitionHook struct {
	flight.BaseHook
	mu   sync.Mutex
	seen []flight.Status
}

func (h *transitionHook) StateTransition(_ context.Context, _ *flight.Context, to flight.Status) (flight.HookAction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, to)
	return flight.ActionContinue, nil
}

func (h *transitionHook) snapshot() []flight.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]flight.Status(nil), h.seen...)
}

func TestEngineNotifiesRunningTransition(t *testing.T) {
	h := &transitionHook{}
	s, _, _ := newTestEngine(t, nil, h)
	ctx := context.Background()

	err := s.SubmitFlight(ctx, SubmitRequest{FlightID: "e2e-transitions", ClassName: "test.twostep"})
	if err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.WaitForFlight(waitCtx, "e2e-transitions", 50*time.Millisecond); err != nil {
		t.Fatalf("WaitForFlight: %v", err)
	}

	// The exit hook fires just after the terminal row commits; allow for it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := h.snapshot()
		if len(got) >= 2 && got[0] == flight.StatusRunning && got[len(got)-1] == flight.StatusSuccess {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transitions = %v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineDebugInjectionEndToEnd(t *testing.T) {
	s, _, undoes := newTestEngine(t, nil)
	ctx := context.Background()

	err := s.SubmitFlight(ctx, SubmitRequest{
		FlightID:  "e2e-debug",
		ClassName: "test.twostep",
		Debug: &flight.DebugInfo{
			DoStepFailures: map[int]flight.StepStatus{1: flight.StepFailureFatal},
		},
	})
	if err != nil {
		t.Fatalf("SubmitFlight: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	state, err := s.WaitForFlight(waitCtx, "e2e-debug", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForFlight: %v", err)
	}
	if state.Status != flight.StatusError {
		t.Fatalf("status = %s", state.Status)
	}
	if undoes.Load() != 2 {
		t.Fatalf("undoes = %d", undoes.Load())
	}
}
