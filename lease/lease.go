// Package lease implements the single-writer fencing lease: a renewable
// record in the MetaStore whose holder is reflected as meta/state's
// writer_epoch. Acquisition bumps the epoch by CAS; every subsequent
// mutating write carries that epoch as its fence.
package lease

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

// Manager owns the writer's current epoch and its renewal.
type Manager struct {
	meta       store.MetaStore
	holderID   string
	epoch      atomic.Uint64
	stateVersion atomic.Uint64
	lost       atomic.Bool
}

func NewManager(meta store.MetaStore, holderID string) *Manager {
	return &Manager{meta: meta, holderID: holderID}
}

// Acquire bumps meta/state.writer_epoch by one via CAS and installs the new
// epoch as this manager's fence. If meta/state does not exist yet, it is
// created with epoch 1. Fails if another holder's Acquire raced first
// (impossible in a correctly-configured single-writer deployment, but the
// CAS makes the failure explicit rather than silently overlapping writers).
func (m *Manager) Acquire(ctx context.Context) (uint64, error) {
	value, version, found, err := m.meta.Get(ctx, []byte(core.KeyMetaState))
	if err != nil {
		return 0, err
	}

	var state core.MetaState
	if found {
		decoded, err := codec.DecodeMetaState(value)
		if err != nil {
			return 0, err
		}
		state = *decoded
	}

	newEpoch := state.WriterEpoch + 1
	state.WriterEpoch = newEpoch
	payload := codec.EncodeMetaState(&state)

	var res store.CASResult
	if found {
		res, err = m.meta.PutIfVersion(ctx, []byte(core.KeyMetaState), payload, version, newEpoch)
	} else {
		res, err = m.meta.PutIfAbsent(ctx, []byte(core.KeyMetaState), payload, newEpoch)
	}
	if err != nil {
		return 0, err
	}
	if res.Outcome == store.NotApplied {
		return 0, fmt.Errorf("lease: acquire raced with a concurrent writer, current version %d", res.CurrentVersion)
	}

	m.epoch.Store(newEpoch)
	m.stateVersion.Store(res.NewVersion)
	m.lost.Store(false)
	return newEpoch, nil
}

// Epoch returns the currently held fencing epoch, or 0 if none is held.
func (m *Manager) Epoch() uint64 {
	if m.lost.Load() {
		return 0
	}
	return m.epoch.Load()
}

// Held reports whether this manager currently believes it holds the lease.
func (m *Manager) Held() bool {
	return !m.lost.Load() && m.epoch.Load() != 0
}

// MarkLost is called by the ingest engine when a mutating call returns
// FenceRejected, signalling the epoch has moved underneath this holder.
func (m *Manager) MarkLost() {
	m.lost.Store(true)
}

// RunRenewal starts a best-effort renewal loop that re-reads meta/state on
// the given interval to detect an epoch bump by another process (this
// should never happen under single-writer deployment discipline, but a
// renewal loop is standard practice for lease-based fencing and lets the
// engine notice a misconfiguration quickly instead of writing blind).
func (m *Manager) RunRenewal(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkEpoch(ctx)
		}
	}
}

func (m *Manager) checkEpoch(ctx context.Context) {
	value, _, found, err := m.meta.Get(ctx, []byte(core.KeyMetaState))
	if err != nil || !found {
		return
	}
	state, err := codec.DecodeMetaState(value)
	if err != nil {
		return
	}
	if state.WriterEpoch != m.epoch.Load() {
		m.MarkLost()
	}
}
