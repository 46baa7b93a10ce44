package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newRedisTransport(t *testing.T) *RedisTransport {
	t.Helper()
	srv := miniredis.RunT(t)
	tr, err := NewRedisTransport(context.Background(), RedisTransportConfig{
		Addr:     srv.Addr(),
		Consumer: "test-consumer",
	})
	if err != nil {
		t.Fatalf("NewRedisTransport: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRedisTransportRoundTrip(t *testing.T) {
	tr := newRedisTransport(t)
	ctx := context.Background()

	if err := tr.Enqueue(ctx, `{"flight_id":"f-1"}`); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, err := tr.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != `{"flight_id":"f-1"}` {
		t.Fatalf("dequeued %v", msgs)
	}
	if err := msgs[0].Ack(ctx, true); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	msgs, err = tr.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue after ack: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("acked message redelivered: %v", msgs)
	}
}

func TestRedisTransportEmptyDequeue(t *testing.T) {
	tr := newRedisTransport(t)
	msgs, err := tr.Dequeue(context.Background(), 2)
	if err != nil {
		t.Fatalf("Dequeue on empty stream: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages from empty stream: %v", msgs)
	}
}

func TestRedisTransportPurge(t *testing.T) {
	tr := newRedisTransport(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tr.Enqueue(ctx, "body"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := tr.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	msgs, err := tr.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue after purge: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived purge: %v", msgs)
	}

	// The group is recreated; the transport still accepts work.
	if err := tr.Enqueue(ctx, "fresh"); err != nil {
		t.Fatalf("Enqueue after purge: %v", err)
	}
	msgs, err = tr.Dequeue(ctx, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Dequeue after purge: %v %v", msgs, err)
	}
}
