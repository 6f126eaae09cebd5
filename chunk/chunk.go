// Package chunk seals a stream's tail into an immutable chunk blob and
// publishes it by CAS-updating the stream's manifest. Readers only observe
// a sealed chunk once the manifest CAS succeeds; until then the values
// remain visible through the tail.
package chunk

import (
	"context"
	"fmt"
	"time"

	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
	"github.com/chainidx/finalidx/tail"
)

// Policy controls when a tail is sealed into a chunk (§4.4).
type Policy struct {
	TargetEntries           int
	TargetBytes             int64
	MaintenanceSealInterval time.Duration
	RetryBudget             int
}

// sealState tracks, per stream, when it was last sealed for the
// maintenance-interval trigger.
type sealState struct {
	lastSeal time.Time
}

// OrphanSink receives chunk blob keys that were written but, because a
// manifest CAS attempt lost its chunk_seq to a later retry, can never be
// referenced by any manifest again. A GcWorker is the usual implementation.
type OrphanSink interface {
	ObserveOrphanChunk(key []byte, size int)
}

// Manager seals tails and publishes chunk blobs plus manifest updates.
type Manager struct {
	policy Policy
	meta   store.MetaStore
	blobs  store.BlobStore
	tails  *tail.Manager
	clock  clock.Clock

	headers map[string]*core.ManifestHeader
	seals   map[string]*sealState
	orphans OrphanSink
}

// SetOrphanSink wires a GC observer into the sealing path. Optional; nil
// (the default) means orphaned blobs are never reported, only ever written.
func (m *Manager) SetOrphanSink(sink OrphanSink) { m.orphans = sink }

func NewManager(policy Policy, meta store.MetaStore, blobs store.BlobStore, tails *tail.Manager, c clock.Clock) *Manager {
	if c == nil {
		c = clock.System
	}
	if policy.RetryBudget <= 0 {
		policy.RetryBudget = 8
	}
	return &Manager{
		policy:  policy,
		meta:    meta,
		blobs:   blobs,
		tails:   tails,
		clock:   c,
		headers: make(map[string]*core.ManifestHeader),
		seals:   make(map[string]*sealState),
	}
}

// ShouldSeal reports whether the stream's current tail size or elapsed time
// since the last seal crosses one of the configured thresholds.
func (m *Manager) ShouldSeal(id core.StreamID, entryCount int, serializedBytes int64) bool {
	if entryCount >= m.policy.TargetEntries {
		return true
	}
	if m.policy.TargetBytes > 0 && serializedBytes >= m.policy.TargetBytes {
		return true
	}
	st, ok := m.seals[string(id)]
	if !ok {
		return false
	}
	return m.clock.Now().Sub(st.lastSeal) >= m.policy.MaintenanceSealInterval
}

// Seal runs the strict four-step publish sequence for one stream: blob put,
// manifest CAS (with bounded retry), tail clear, tail checkpoint. It is
// idempotent on retry because the blob key is deterministic and the
// manifest CAS is itself retried against the latest version.
func (m *Manager) Seal(ctx context.Context, id core.StreamID, fence uint64) error {
	snapshot := m.tails.Snapshot(id)
	if snapshot.IsEmpty() {
		return nil
	}

	minLocal, maxLocal := snapshot.Minimum(), snapshot.Maximum()
	count := uint32(snapshot.GetCardinality())

	header, version, err := m.loadHeader(ctx, id)
	if err != nil {
		return err
	}

	blob, err := codec.EncodeChunk(minLocal, maxLocal, count, snapshot)
	if err != nil {
		return fmt.Errorf("chunk: encode: %w", err)
	}

	chunkSeq := nextChunkSeq(header)
	blobKey := core.KeyChunk(id, chunkSeq)
	if err := m.blobs.Put(ctx, blobKey, blob); err != nil {
		return fmt.Errorf("chunk: put blob: %w", err)
	}

	for attempt := 0; attempt < m.policy.RetryBudget; attempt++ {
		ref := core.ChunkRef{ChunkSeq: chunkSeq, MinLocal: minLocal, MaxLocal: maxLocal, Count: count}
		newHeader := &core.ManifestHeader{
			Version:      header.Version + 1,
			LastChunkSeq: chunkSeq,
			ChunkRefs:    append(append([]core.ChunkRef(nil), header.ChunkRefs...), ref),
			ApproxCount:  header.ApproxCount + uint64(count),
		}
		payload := codec.EncodeManifest(newHeader)
		key := core.KeyManifest(id)

		var res store.CASResult
		if version == 0 {
			res, err = m.meta.PutIfAbsent(ctx, key, payload, fence)
		} else {
			res, err = m.meta.PutIfVersion(ctx, key, payload, version, fence)
		}
		if err != nil {
			return err
		}
		if res.Outcome == store.Applied {
			m.headers[string(id)] = newHeader
			m.seals[string(id)] = &sealState{lastSeal: m.clock.Now()}
			m.tails.Clear(id, maxLocal)
			return m.tails.FlushAll(ctx, fence)
		}

		// NotApplied: another publish raced (defensive only — impossible
		// under the single-writer invariant). Reload and retry; if the
		// reloaded header now claims a different next chunk_seq, the blob
		// already written under the old seq can never be referenced.
		header, version, err = m.reloadHeader(ctx, id, res)
		if err != nil {
			return err
		}
		next := nextChunkSeq(header)
		if next != chunkSeq {
			if m.orphans != nil {
				m.orphans.ObserveOrphanChunk(blobKey, len(blob))
			}
			chunkSeq = next
			blobKey = core.KeyChunk(id, chunkSeq)
			if err := m.blobs.Put(ctx, blobKey, blob); err != nil {
				return fmt.Errorf("chunk: put blob: %w", err)
			}
		}
	}
	return fmt.Errorf("chunk: manifest CAS retry budget exhausted for stream %s", id)
}

// nextChunkSeq computes the chunk_seq a new chunk for this stream should
// take given the currently known header.
func nextChunkSeq(header *core.ManifestHeader) uint32 {
	if len(header.ChunkRefs) > 0 || header.ApproxCount > 0 {
		return header.LastChunkSeq + 1
	}
	return header.LastChunkSeq
}

func (m *Manager) loadHeader(ctx context.Context, id core.StreamID) (*core.ManifestHeader, uint64, error) {
	value, version, found, err := m.meta.Get(ctx, core.KeyManifest(id))
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return &core.ManifestHeader{}, 0, nil
	}
	header, err := codec.DecodeManifest(value)
	if err != nil {
		return nil, 0, err
	}
	return header, version, nil
}

func (m *Manager) reloadHeader(ctx context.Context, id core.StreamID, res store.CASResult) (*core.ManifestHeader, uint64, error) {
	if !res.CurrentExists {
		return &core.ManifestHeader{}, 0, nil
	}
	header, err := codec.DecodeManifest(res.CurrentValue)
	if err != nil {
		return nil, 0, err
	}
	return header, res.CurrentVersion, nil
}

// Header returns the last known manifest header for a stream, loading it
// from the MetaStore on first touch.
func (m *Manager) Header(ctx context.Context, id core.StreamID) (*core.ManifestHeader, error) {
	if h, ok := m.headers[string(id)]; ok {
		return h, nil
	}
	h, _, err := m.loadHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	m.headers[string(id)] = h
	return h, nil
}

// DecodeChunkBlob is a thin pass-through used by the query executor to turn
// a fetched chunk blob back into a bitmap plus its declared bounds.
func DecodeChunkBlob(data []byte) (*codec.DecodedChunk, error) {
	return codec.DecodeChunk(data)
}
