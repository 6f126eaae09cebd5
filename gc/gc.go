// Package gc reclaims storage the publish protocol leaves behind: chunk
// blobs abandoned by a manifest-CAS retry, and (backend permitting) stale
// tail checkpoint versions and superseded manifest segments. Orphan chunk
// candidates are kept in a map and copied into an ordered skiplist at each
// sweep, so every sweep drains them in deterministic key order.
package gc

import (
	"bytes"
	"context"
	"sync"

	"github.com/INLOpen/skiplist"

	"github.com/chainidx/finalidx/store"
)

// Action is the operator policy applied when a guardrail counter exceeds
// its configured cap.
type Action string

const (
	ActionThrottle   Action = "Throttle"
	ActionFailClosed Action = "FailClosed"
)

// Policy holds the guardrail caps from config.GCConfig, duplicated here to
// keep this package free of a config import.
type Policy struct {
	MaxOrphanChunkBytes       uint64
	MaxOrphanManifestSegments uint64
	MaxStaleTailKeys          uint64
	Action                    Action
}

// Counters are the runtime guardrail counters named in §4.9.
type Counters struct {
	OrphanChunkBytes       uint64
	OrphanManifestSegments uint64
	StaleTailKeys          uint64
}

type orphanEntry struct {
	size int
}

func compareKeys(a, b string) int { return bytes.Compare([]byte(a), []byte(b)) }

// Worker is the GC task: one per engine, driven by a periodic Sweep call
// from the embedding service's maintenance timer.
type Worker struct {
	mu       sync.Mutex
	policy   Policy
	blobs    store.BlobStore
	pending  map[string]orphanEntry
	counters Counters
}

func NewWorker(policy Policy, blobs store.BlobStore) *Worker {
	return &Worker{
		policy:  policy,
		blobs:   blobs,
		pending: make(map[string]orphanEntry),
	}
}

// ObserveOrphanChunk implements chunk.OrphanSink: a blob key that will
// never be referenced by any future manifest. Reporting the same key twice
// (a retry of the same failed attempt) does not double-count bytes.
func (w *Worker) ObserveOrphanChunk(key []byte, size int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := string(key)
	if _, ok := w.pending[k]; ok {
		return
	}
	w.pending[k] = orphanEntry{size: size}
	w.counters.OrphanChunkBytes += uint64(size)
}

// ObserveStaleTailKey records a tail checkpoint key whose version is known
// stale. Most CAS-overwrite MetaStore backends retain no history to reclaim
// here (the old version is gone the instant the new one lands); this hook
// exists for backends that keep versioned history behind the same
// MetaStore contract.
func (w *Worker) ObserveStaleTailKey() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters.StaleTailKeys++
}

// ObserveSupersededManifestSegment mirrors ObserveStaleTailKey for manifest
// segments; a no-op source for a deployment that keeps manifests
// unsegmented (chunk_refs carried directly in the header, the valid
// alternative per the manifest entity's own "chunk_refs[] or segment
// pointer" definition).
func (w *Worker) ObserveSupersededManifestSegment() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters.OrphanManifestSegments++
}

// Counters returns a snapshot of the current guardrail counters.
func (w *Worker) Counters() Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}

// Exceeded reports whether any guardrail counter has crossed its configured
// cap, and the policy action to take if so.
func (w *Worker) Exceeded() (bool, Action) {
	w.mu.Lock()
	c := w.counters
	w.mu.Unlock()

	if w.policy.MaxOrphanChunkBytes > 0 && c.OrphanChunkBytes > w.policy.MaxOrphanChunkBytes {
		return true, w.policy.Action
	}
	if w.policy.MaxOrphanManifestSegments > 0 && c.OrphanManifestSegments > w.policy.MaxOrphanManifestSegments {
		return true, w.policy.Action
	}
	if w.policy.MaxStaleTailKeys > 0 && c.StaleTailKeys > w.policy.MaxStaleTailKeys {
		return true, w.policy.Action
	}
	return false, ""
}

// Sweep deletes every pending orphan chunk blob in ascending key order and
// drains the matching guardrail counter. The ordered skiplist snapshot
// makes the sweep order deterministic even though the underlying pending
// set is an unordered map. Best-effort: a delete failure aborts the sweep,
// leaving already-deleted entries reclaimed.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	w.mu.Lock()
	ordered := skiplist.NewWithComparator[string, int](compareKeys)
	for key, entry := range w.pending {
		ordered.Insert(key, entry.size)
	}
	w.mu.Unlock()

	reclaimed := 0
	it := ordered.NewIterator()
	for ok := it.First(); ok; ok = it.Next() {
		key, size := it.Key(), it.Value()
		if err := w.blobs.Delete(ctx, []byte(key)); err != nil {
			return reclaimed, err
		}

		w.mu.Lock()
		delete(w.pending, key)
		if w.counters.OrphanChunkBytes >= uint64(size) {
			w.counters.OrphanChunkBytes -= uint64(size)
		} else {
			w.counters.OrphanChunkBytes = 0
		}
		w.mu.Unlock()
		reclaimed++
	}
	return reclaimed, nil
}

// PendingOrphans reports how many orphan chunk blobs are queued for the
// next sweep, for health reporting.
func (w *Worker) PendingOrphans() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
