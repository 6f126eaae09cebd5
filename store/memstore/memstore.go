// Package memstore is an in-memory reference implementation of
// store.MetaStore and store.BlobStore. It is not meant for production use;
// it exists so the engine's tests can exercise the exact CAS and
// idempotent-write semantics the store contracts require without standing
// up a real backend, and so RecoveryBootstrap, IngestEngine and QueryEngine
// can all be driven end to end in-process.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

type record struct {
	value   []byte
	version uint64
}

// MetaStore is a mutex-protected, versioned map satisfying store.MetaStore.
type MetaStore struct {
	mu      sync.RWMutex
	records map[string]record
	epoch   uint64
}

func NewMetaStore() *MetaStore {
	return &MetaStore{records: make(map[string]record)}
}

// SetEpoch installs the writer epoch this store currently honors (used by
// tests; the lease manager does not call it). A mutating call carrying a
// lower fence is rejected; an accepted higher fence advances the epoch.
func (s *MetaStore) SetEpoch(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = epoch
}

func (s *MetaStore) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *MetaStore) Get(_ context.Context, key []byte) ([]byte, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[string(key)]
	if !ok {
		return nil, 0, false, nil
	}
	return append([]byte(nil), rec.value...), rec.version, true, nil
}

func (s *MetaStore) PutIfAbsent(_ context.Context, key, value []byte, fence uint64) (store.CASResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.CheckFence(fence, s.epoch); err != nil {
		return store.CASResult{}, err
	}
	rec, exists := s.records[string(key)]
	if exists {
		return store.CASResult{Outcome: store.NotApplied, CurrentValue: append([]byte(nil), rec.value...), CurrentVersion: rec.version, CurrentExists: true}, nil
	}
	newRec := record{value: append([]byte(nil), value...), version: 1}
	s.records[string(key)] = newRec
	s.advanceEpochLocked(fence)
	return store.CASResult{Outcome: store.Applied, NewVersion: newRec.version}, nil
}

func (s *MetaStore) PutIfVersion(_ context.Context, key, value []byte, expectedVersion, fence uint64) (store.CASResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.CheckFence(fence, s.epoch); err != nil {
		return store.CASResult{}, err
	}
	rec, exists := s.records[string(key)]
	currentVersion := rec.version
	if (expectedVersion == 0 && exists) || (expectedVersion != 0 && (!exists || rec.version != expectedVersion)) {
		return store.CASResult{Outcome: store.NotApplied, CurrentValue: append([]byte(nil), rec.value...), CurrentVersion: currentVersion, CurrentExists: exists}, nil
	}
	newRec := record{value: append([]byte(nil), value...), version: currentVersion + 1}
	s.records[string(key)] = newRec
	s.advanceEpochLocked(fence)
	return store.CASResult{Outcome: store.Applied, NewVersion: newRec.version}, nil
}

func (s *MetaStore) DeleteIfVersion(_ context.Context, key []byte, expectedVersion, fence uint64) (store.CASResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.CheckFence(fence, s.epoch); err != nil {
		return store.CASResult{}, err
	}
	rec, exists := s.records[string(key)]
	if !exists || rec.version != expectedVersion {
		return store.CASResult{Outcome: store.NotApplied, CurrentValue: append([]byte(nil), rec.value...), CurrentVersion: rec.version, CurrentExists: exists}, nil
	}
	delete(s.records, string(key))
	s.advanceEpochLocked(fence)
	return store.CASResult{Outcome: store.Applied}, nil
}

// advanceEpochLocked records fence as the highest epoch observed so far,
// the same monotone ratchet a real fencing backend applies on every
// accepted write. Callers must hold s.mu.
func (s *MetaStore) advanceEpochLocked(fence uint64) {
	if fence > s.epoch {
		s.epoch = fence
	}
}

func (s *MetaStore) ListPrefix(_ context.Context, prefix []byte) (store.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.records {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]entry, len(keys))
	for i, k := range keys {
		rec := s.records[k]
		entries[i] = entry{key: []byte(k), value: append([]byte(nil), rec.value...), version: rec.version}
	}
	return &iterator{entries: entries, pos: -1}, nil
}

type entry struct {
	key     []byte
	value   []byte
	version uint64
}

type iterator struct {
	entries []entry
	pos     int
}

func (it *iterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

func (it *iterator) Key() []byte     { return it.entries[it.pos].key }
func (it *iterator) Value() []byte   { return it.entries[it.pos].value }
func (it *iterator) Version() uint64 { return it.entries[it.pos].version }
func (it *iterator) Err() error      { return nil }
func (it *iterator) Close() error    { return nil }

// BlobStore is a mutex-protected map satisfying store.BlobStore with the
// required idempotent-put semantics.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

func (b *BlobStore) Put(_ context.Context, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.data[string(key)]; ok {
		if bytes.Equal(existing, value) {
			return nil
		}
		return &core.CorruptionError{Message: "blob put: differing bytes at existing key", Key: string(key)}
	}
	b.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (b *BlobStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *BlobStore) Delete(_ context.Context, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, string(key))
	return nil
}
