package queue

import (
	"context"
	"strconv"
	"sync"
)

// MemoryTransport is a process-local Transport for single-instance
// deployments and tests. Unprocessed messages requeue at the tail.
type MemoryTransport struct {
	mu      sync.Mutex
	entries []memoryEntry
	nextID  int
	closed  bool
}

type memoryEntry struct {
	id   string
	body string
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (t *MemoryTransport) Enqueue(_ context.Context, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.entries = append(t.entries, memoryEntry{id: strconv.Itoa(t.nextID), body: body})
	return nil
}

func (t *MemoryTransport) Dequeue(_ context.Context, max int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := min(max, len(t.entries))
	if n == 0 {
		return nil, nil
	}
	taken := make([]memoryEntry, n)
	copy(taken, t.entries[:n])
	t.entries = t.entries[n:]

	out := make([]*Message, 0, n)
	for _, e := range taken {
		e := e
		out = append(out, &Message{
			ID:   e.id,
			Body: e.body,
			ack: func(_ context.Context, processed bool) error {
				if processed {
					return nil
				}
				t.mu.Lock()
				defer t.mu.Unlock()
				if !t.closed {
					t.entries = append(t.entries, e)
				}
				return nil
			},
		})
	}
	return out, nil
}

func (t *MemoryTransport) Purge(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = nil
	return nil
}

// Len reports pending messages. Test helper.
func (t *MemoryTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
