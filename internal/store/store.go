// Package store wraps the real-time key-path store the poll engine runs
// against. Values are opaque JSON documents addressed by slash-separated
// paths. The contract mirrors a hosted realtime database: whole-value
// reads and writes, subscriptions that replay the current value on attach,
// and optimistic read-modify-write transactions.
package store

import (
	"context"
)

// UpdateFunc is the read-modify-write body of a transaction. It receives
// the current value at the path, or nil if the path is absent, and returns
// the replacement value. It must be pure with respect to its input: under
// contention it is re-invoked with the latest committed value, possibly
// several times. Returning an error aborts the transaction without retry.
type UpdateFunc func(current []byte) ([]byte, error)

// Snapshot is one full-value observation of a path. Snapshots replace
// prior state entirely; they are never diffs.
type Snapshot struct {
	Path   string
	Value  []byte
	Exists bool
}

// Store is the adapter boundary. Controllers receive a Store instance
// explicitly; nothing in the engine reaches for a shared global client.
type Store interface {
	// Read returns the current value at path, or CodeNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces the value at path, last writer wins, and notifies
	// subscribers.
	Write(ctx context.Context, path string, value []byte) error

	// Delete removes the path. Subscribers observe the absence.
	Delete(ctx context.Context, path string) error

	// Subscribe delivers the current value at path immediately, then every
	// committed change in commit order. The caller owns the subscription
	// and must Close it.
	Subscribe(ctx context.Context, path string) (*Subscription, error)

	// Transact applies fn against the value current at commit time,
	// retrying on conflicting commits. It returns the committed value, or
	// CodeAborted once retries are exhausted.
	Transact(ctx context.Context, path string, fn UpdateFunc) ([]byte, error)
}

// Subscription is a cancellable stream of full-value snapshots for one
// path. The snapshot channel is closed on Close, on context cancellation,
// or when the consumer falls too far behind; a closed stream tells the
// consumer to resubscribe rather than silently missing an update.
type Subscription struct {
	snaps chan Snapshot
	stop  func()
}

// Snapshots returns the stream. Consumers must treat each snapshot as
// replacing, not patching, prior state.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.snaps
}

// Close cancels the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.stop()
}
