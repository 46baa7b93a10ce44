package ctxutil

import "context"

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type diagKey struct{}

// Diag is the keyed diagnostic map propagated across worker-pool boundaries.
// The engine snapshots the submitter's map, installs a copy on the worker
// goroutine's context, and augments it with flight and step identifiers.
type Diag map[string]string

// WithDiag returns a context carrying a copy of m merged over any diagnostic
// values already present.
func WithDiag(ctx context.Context, m Diag) context.Context {
	merged := Snapshot(ctx)
	for k, v := range m {
		merged[k] = v
	}
	return context.WithValue(Default(ctx), diagKey{}, merged)
}

// Snapshot returns a copy of the diagnostic map on ctx. Never nil.
func Snapshot(ctx context.Context) Diag {
	out := Diag{}
	if ctx == nil {
		return out
	}
	if d, ok := ctx.Value(diagKey{}).(Diag); ok {
		for k, v := range d {
			out[k] = v
		}
	}
	return out
}

// Fields flattens the diagnostic map into keysAndValues for the logger.
func Fields(ctx context.Context) []interface{} {
	d := Snapshot(ctx)
	out := make([]interface{}, 0, len(d)*2)
	for k, v := range d {
		out = append(out, k, v)
	}
	return out
}
