package interfaces

import "context"

// Registry tracks how many live connections are attached to each
// session. In multi-process deployments it must be backed by shared,
// atomically-mutable storage; an in-process map is correct only when a
// single process serves all connections.
type Registry interface {
	// Increment records one more attached connection and returns the new
	// count.
	Increment(ctx context.Context, sessionID string) (int64, error)

	// Decrement records one detached connection and returns the new
	// count, floored at zero. The tracking entry is removed when the
	// count reaches zero.
	Decrement(ctx context.Context, sessionID string) (int64, error)
}
