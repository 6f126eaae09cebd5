// Package store defines the two abstract store contracts the engine is
// built on: a MetaStore for small, CAS-mutable records and a BlobStore for
// large, immutable, idempotently-written payloads. Every mutating call
// carries the writer's current fencing token; a backend that cannot offer
// true compare-and-swap or a partial-failure-free write is not a conforming
// implementation of these contracts (a gateway must be added in front of
// it, per the design's store-contract section).
package store

import (
	"context"
	"errors"

	"github.com/chainidx/finalidx/core"
)

// CASOutcome is the discriminant of a compare-and-swap result.
type CASOutcome int

const (
	Applied CASOutcome = iota
	NotApplied
)

// CASResult is the outcome of a MetaStore mutation. When Outcome is
// NotApplied, CurrentValue/CurrentVersion report what is actually stored so
// the caller can decide whether to reload and retry.
type CASResult struct {
	Outcome        CASOutcome
	NewVersion     uint64
	CurrentValue   []byte
	CurrentVersion uint64
	CurrentExists  bool
}

// ErrIteratorClosed is returned by Iterator methods called after Close.
var ErrIteratorClosed = errors.New("store: iterator closed")

// Iterator walks the key/value pairs under a prefix in key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Version() uint64
	Err() error
	Close() error
}

// MetaStore holds small mutable records: meta/state, manifests, manifest
// segments, tail checkpoints, and topic0 mode/stats. All mutation goes
// through compare-and-swap; there is no read-check-write path in a
// conforming backend.
type MetaStore interface {
	// Get returns the current value and version of key, or found=false if
	// it does not exist.
	Get(ctx context.Context, key []byte) (value []byte, version uint64, found bool, err error)

	// PutIfAbsent creates key with value if it does not yet exist. Used for
	// canonical writes (logs, block_meta, block_hash_to_num) where replay
	// with identical bytes must be accepted (checked by the caller) and
	// replay with differing bytes is a hard error.
	PutIfAbsent(ctx context.Context, key, value []byte, fence uint64) (CASResult, error)

	// PutIfVersion updates key to value only if its current version equals
	// expectedVersion (expectedVersion==0 means "must not exist yet").
	PutIfVersion(ctx context.Context, key, value []byte, expectedVersion, fence uint64) (CASResult, error)

	// DeleteIfVersion deletes key only if its current version equals
	// expectedVersion.
	DeleteIfVersion(ctx context.Context, key []byte, expectedVersion, fence uint64) (CASResult, error)

	// ListPrefix iterates all keys with the given prefix in ascending key
	// order.
	ListPrefix(ctx context.Context, prefix []byte) (Iterator, error)
}

// BlobStore holds large immutable payloads: chunk blobs. Writes are
// idempotent by deterministic key: writing the same bytes to an existing
// key is a no-op, writing different bytes to an existing key is a hard
// error (it indicates a codec or sealing bug, not a legitimate retry).
type BlobStore interface {
	Put(ctx context.Context, key []byte, value []byte) error
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	// Delete is best-effort: deleting an absent key is success.
	Delete(ctx context.Context, key []byte) error
}

// CheckFence is a helper store adapters use to enforce the monotone-fencing
// rule: a write is accepted if its epoch is greater than or equal to the
// highest epoch the store has ever seen (the store then advances to that
// epoch), and rejected if it carries a stale, lower epoch. This is the same
// fencing-token discipline used by lease-based CAS systems generally: a
// newly acquired lease's first write establishes the new epoch as current
// without requiring an out-of-band handshake.
func CheckFence(supplied, current uint64) error {
	if supplied < current {
		return &core.FenceRejectedError{Supplied: supplied, Current: current}
	}
	return nil
}
