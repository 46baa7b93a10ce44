// Package queue provides the work-queue transports the engine uses to hand
// READY flights between instances. The engine works against the Transport
// interface; Redis Streams backs production deployments and the in-memory
// transport backs single-process use and tests.
package queue

import "context"

// Message is one delivered queue entry. Ack acknowledges it; relevant reports
// whether processing succeeded, and a transport may redeliver on false.
type Message struct {
	// ID is the transport-assigned delivery id.
	ID string
	// Body is the opaque payload as enqueued.
	Body string

	ack func(ctx context.Context, processed bool) error
}

// Ack settles the delivery. processed=false asks the transport to redeliver.
func (m *Message) Ack(ctx context.Context, processed bool) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx, processed)
}

// Transport moves opaque messages between engine instances. Implementations
// must tolerate duplicate deliveries; the journal's claim predicate makes
// duplicates harmless.
type Transport interface {
	// Enqueue appends a message.
	Enqueue(ctx context.Context, body string) error
	// Dequeue fetches up to max messages, blocking at most the transport's
	// poll interval. An empty slice means no work.
	Dequeue(ctx context.Context, max int) ([]*Message, error)
	// Purge discards all pending messages. Used by force-clean
	// initialization only.
	Purge(ctx context.Context) error
	// Close releases transport resources.
	Close() error
}
