// Package tail holds the mutable, not-yet-sealed portion of every stream:
// a roaring32 bitmap plus a dirty flag, checkpointed to the MetaStore at
// the end of every ingested block. FlushDue checkpoints streams left dirty
// past an interval; no timer in this module calls it.
package tail

import (
	"context"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

// streamTail is the in-memory state for one stream's tail.
type streamTail struct {
	bitmap       *roaring.Bitmap
	dirty        bool
	version      uint64 // version of the tail record as last persisted, 0 if never
	lastFlushed  time.Time
}

// Manager owns every stream's in-memory tail and persists checkpoints.
// There is exactly one Manager per writer, matching the single-writer
// invariant the rest of the engine assumes.
type Manager struct {
	mu     sync.Mutex
	meta   store.MetaStore
	clock  clock.Clock
	tails  map[string]*streamTail
}

func NewManager(meta store.MetaStore, c clock.Clock) *Manager {
	if c == nil {
		c = clock.System
	}
	return &Manager{
		meta:  meta,
		clock: c,
		tails: make(map[string]*streamTail),
	}
}

// Append is a set-insert into a stream's tail: idempotent, in-memory, never
// suspends. local is the lower 32 bits of the value being appended (a
// global_log_id for log-level streams, a block_num for block-level ones).
func (m *Manager) Append(id core.StreamID, local uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.getOrCreateLocked(id)
	if !t.bitmap.Contains(local) {
		t.bitmap.Add(local)
		t.dirty = true
	}
}

// Contains reports whether local is present in the stream's in-memory tail.
func (m *Manager) Contains(id core.StreamID, local uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tails[string(id)]
	if !ok {
		return false
	}
	return t.bitmap.Contains(local)
}

// Snapshot returns a cloned bitmap of the stream's current tail, safe for
// the caller to read without holding the manager's lock.
func (m *Manager) Snapshot(id core.StreamID) *roaring.Bitmap {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tails[string(id)]
	if !ok {
		return roaring.New()
	}
	return t.bitmap.Clone()
}

// Clear removes values up to and including maxLocal from a stream's tail,
// called by the chunk manager after those values have been sealed into a
// chunk and the manifest CAS referencing that chunk has succeeded.
func (m *Manager) Clear(id core.StreamID, maxLocal uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tails[string(id)]
	if !ok {
		return
	}
	toRemove := roaring.New()
	toRemove.AddRange(0, uint64(maxLocal)+1)
	t.bitmap.AndNot(toRemove)
	t.dirty = true
}

func (m *Manager) getOrCreateLocked(id core.StreamID) *streamTail {
	key := string(id)
	t, ok := m.tails[key]
	if !ok {
		t = &streamTail{bitmap: roaring.New()}
		m.tails[key] = t
	}
	return t
}

// DirtyStreams returns the stream ids touched since their last checkpoint.
func (m *Manager) DirtyStreams() []core.StreamID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.StreamID
	for k, t := range m.tails {
		if t.dirty {
			out = append(out, core.StreamID(k))
		}
	}
	return out
}

// FlushAll checkpoints every dirty stream to the MetaStore, conditioned on
// the supplied writer fence. A NotApplied result is a store-level invariant
// violation under single-writer correctness and is surfaced as a
// FenceRejectedError (the caller is expected to abort and degrade).
func (m *Manager) FlushAll(ctx context.Context, fence uint64) error {
	for _, id := range m.DirtyStreams() {
		if err := m.flushOne(ctx, id, fence); err != nil {
			return err
		}
	}
	return nil
}

// FlushDue checkpoints dirty streams whose last flush predates the
// given interval. Nothing in this module invokes it periodically.
func (m *Manager) FlushDue(ctx context.Context, fence uint64, interval time.Duration) error {
	now := m.clock.Now()
	var due []core.StreamID
	m.mu.Lock()
	for k, t := range m.tails {
		if t.dirty && now.Sub(t.lastFlushed) >= interval {
			due = append(due, core.StreamID(k))
		}
	}
	m.mu.Unlock()
	for _, id := range due {
		if err := m.flushOne(ctx, id, fence); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) flushOne(ctx context.Context, id core.StreamID, fence uint64) error {
	m.mu.Lock()
	t, ok := m.tails[string(id)]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	snapshot := t.bitmap.Clone()
	expected := t.version
	m.mu.Unlock()

	payload, err := codec.EncodeTail(snapshot)
	if err != nil {
		return err
	}

	var res store.CASResult
	key := core.KeyTail(id)
	if expected == 0 {
		res, err = m.meta.PutIfAbsent(ctx, key, payload, fence)
	} else {
		res, err = m.meta.PutIfVersion(ctx, key, payload, expected, fence)
	}
	if err != nil {
		return err
	}
	if res.Outcome == store.NotApplied {
		return &core.FenceRejectedError{Supplied: fence, Current: res.CurrentVersion}
	}

	m.mu.Lock()
	t.version = res.NewVersion
	t.dirty = false
	t.lastFlushed = m.clock.Now()
	m.mu.Unlock()
	return nil
}

// Load hydrates a stream's in-memory tail from the MetaStore; EnsureHydrated
// uses it when the write path first touches a stream.
func Load(ctx context.Context, meta store.MetaStore, id core.StreamID) (*roaring.Bitmap, uint64, error) {
	value, version, found, err := meta.Get(ctx, core.KeyTail(id))
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return roaring.New(), 0, nil
	}
	bm, err := codec.DecodeTail(value)
	if err != nil {
		return nil, 0, err
	}
	return bm, version, nil
}

// Hydrate installs a previously-loaded bitmap as a stream's tail state,
// used by the writer to resume a stream it already has a checkpoint for.
func (m *Manager) Hydrate(id core.StreamID, bm *roaring.Bitmap, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tails[string(id)] = &streamTail{bitmap: bm, version: version, lastFlushed: m.clock.Now()}
}

// EnsureHydrated loads a stream's persisted checkpoint on its first touch
// this process, before the write path appends to it. Without this, a
// restarted writer's in-memory tail starts empty at version 0: any values
// checkpointed by the previous process but not yet sealed into a chunk
// are silently lost, and the next checkpoint flush takes the
// put_if_absent branch against a key that already exists, which the store
// reports NotApplied and the caller maps to a fence rejection. Streams
// with no prior checkpoint hydrate to an empty tail at version 0, which is
// exactly today's genesis-touch behavior.
func (m *Manager) EnsureHydrated(ctx context.Context, id core.StreamID) error {
	m.mu.Lock()
	_, ok := m.tails[string(id)]
	m.mu.Unlock()
	if ok {
		return nil
	}

	bm, version, err := Load(ctx, m.meta, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tails[string(id)]; !ok {
		m.tails[string(id)] = &streamTail{bitmap: bm, version: version, lastFlushed: m.clock.Now()}
	}
	return nil
}
