package stairway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/stairway/pkg/ctxutil"
	"github.com/yungbote/stairway/pkg/logger"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	p := newWorkerPool(2, 1, logger.NewNop())
	var ran atomic.Int64
	done := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		p.launch(nil, func(context.Context) {
			ran.Add(1)
			done <- struct{}{}
		}, func() { t.Errorf("task rejected") })
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("task %d never ran", i)
		}
	}
	p.wait()
	if ran.Load() != 3 {
		t.Fatalf("ran = %d", ran.Load())
	}
}

func TestWorkerPoolSpaceAvailable(t *testing.T) {
	p := newWorkerPool(1, 1, logger.NewNop())
	if !p.spaceAvailable() {
		t.Fatalf("fresh pool reports no space")
	}

	block := make(chan struct{})
	started := make(chan struct{})
	// Occupy the only slot.
	p.launch(nil, func(context.Context) {
		close(started)
		<-block
	}, nil)
	<-started
	// One waiter fills the queue allowance.
	p.launch(nil, func(context.Context) {}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for p.spaceAvailable() {
		if time.Now().After(deadline) {
			t.Fatalf("full pool still reports space")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	p.wait()
	if !p.spaceAvailable() {
		t.Fatalf("drained pool reports no space")
	}
}

func TestWorkerPoolZeroBacklog(t *testing.T) {
	p := newWorkerPool(1, 0, logger.NewNop())
	block := make(chan struct{})
	started := make(chan struct{})
	p.launch(nil, func(context.Context) {
		close(started)
		<-block
	}, nil)
	<-started

	// One busy worker and no backlog allowance: every submission deflects.
	if p.spaceAvailable() {
		t.Fatalf("busy pool with zero backlog reports space")
	}
	close(block)
	p.wait()
	if !p.spaceAvailable() {
		t.Fatalf("drained pool reports no space")
	}
}

func TestWorkerPoolTerminateRejectsWaiters(t *testing.T) {
	p := newWorkerPool(1, 1, logger.NewNop())
	block := make(chan struct{})
	started := make(chan struct{})
	p.launch(nil, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}, nil)
	<-started

	rejected := make(chan struct{})
	p.launch(nil, func(context.Context) {
		t.Errorf("waiter ran after terminate")
	}, func() { close(rejected) })

	p.terminate()
	select {
	case <-rejected:
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter not rejected")
	}
	close(block)
	p.wait()
}

func TestWorkerPoolInstallsDiag(t *testing.T) {
	p := newWorkerPool(1, 1, logger.NewNop())
	got := make(chan ctxutil.Diag, 1)
	p.launch(ctxutil.Diag{"flight_id": "f-1"}, func(ctx context.Context) {
		got <- ctxutil.Snapshot(ctx)
	}, nil)

	select {
	case d := <-got:
		if d["flight_id"] != "f-1" {
			t.Fatalf("diag = %v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("task never ran")
	}
	p.wait()
}
