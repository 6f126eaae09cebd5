// Package topic0 implements the hybrid indexing policy for event
// signatures: a rolling 50,000-block bit-ring per signature tracks how
// often it appears, with hysteresis thresholds deciding whether the
// signature also gets a log-level index (topic0_log) on top of its
// always-on block-level index (topic0_block).
package topic0

import (
	"context"

	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

const (
	DefaultWindowLen   = 50_000
	DefaultEnableRate  = 0.001
	DefaultDisableRate = 0.010
)

// Policy holds the hysteresis thresholds.
type Policy struct {
	WindowLen   uint32
	EnableRate  float64
	DisableRate float64
}

func DefaultPolicy() Policy {
	return Policy{WindowLen: DefaultWindowLen, EnableRate: DefaultEnableRate, DisableRate: DefaultDisableRate}
}

// ring is the in-memory rolling state for one signature.
type ring struct {
	stats        core.Topic0Stats
	mode         core.Topic0Mode
	statsExists  bool
	modeExists   bool
	statsVersion uint64
	modeVersion  uint64
}

func newRing(windowLen uint32) *ring {
	bitLen := (windowLen + 7) / 8
	return &ring{
		stats: core.Topic0Stats{WindowLen: windowLen, RingBits: make([]byte, bitLen)},
	}
}

func (r *ring) bitSet(i uint32) bool {
	return r.stats.RingBits[i/8]&(1<<(i%8)) != 0
}

func (r *ring) setBit(i uint32, v bool) {
	if v {
		r.stats.RingBits[i/8] |= 1 << (i % 8)
	} else {
		r.stats.RingBits[i/8] &^= 1 << (i % 8)
	}
}

// Tracker holds the per-signature rolling windows and mode decisions, with
// lazy load from and persist to the MetaStore.
type Tracker struct {
	policy Policy
	meta   store.MetaStore
	rings  map[[32]byte]*ring
}

func NewTracker(policy Policy, meta store.MetaStore) *Tracker {
	if policy.WindowLen == 0 {
		policy = DefaultPolicy()
	}
	return &Tracker{policy: policy, meta: meta, rings: make(map[[32]byte]*ring)}
}

// Observe advances sig's rolling window by one block, recording whether the
// signature appeared in that block, and returns whether the mode flipped as
// a result (and, if so, the new mode to persist). blockNum is the block
// being ingested; on an enable transition, enabled_from_block is set to
// blockNum+1 so the transition never retroactively applies to the block
// that triggered it.
func (t *Tracker) Observe(ctx context.Context, sig [32]byte, blockNum uint64, present bool, fence uint64) (core.Topic0Mode, bool, error) {
	r, err := t.loadRing(ctx, sig)
	if err != nil {
		return core.Topic0Mode{}, false, err
	}

	cursor := r.stats.RingCursor
	if r.bitSet(cursor) {
		r.stats.BlocksSeenInWindow--
	}
	r.setBit(cursor, present)
	if present {
		r.stats.BlocksSeenInWindow++
	}
	r.stats.RingCursor = (cursor + 1) % r.stats.WindowLen

	rate := float64(r.stats.BlocksSeenInWindow) / float64(r.stats.WindowLen)

	changed := false
	newMode := r.mode
	if !r.mode.LogEnabled && rate < t.policy.EnableRate {
		newMode = core.Topic0Mode{LogEnabled: true, EnabledFromBlock: blockNum + 1}
		changed = true
	} else if r.mode.LogEnabled && rate > t.policy.DisableRate {
		newMode = core.Topic0Mode{LogEnabled: false, EnabledFromBlock: 0}
		changed = true
	}

	if err := t.persistStats(ctx, sig, r, fence); err != nil {
		return core.Topic0Mode{}, false, err
	}
	if changed {
		if err := t.persistMode(ctx, sig, newMode, r, fence); err != nil {
			return core.Topic0Mode{}, false, err
		}
		r.mode = newMode
	}
	return r.mode, changed, nil
}

// Mode returns the currently known mode for sig without mutating state,
// loading it lazily if not yet cached.
func (t *Tracker) Mode(ctx context.Context, sig [32]byte) (core.Topic0Mode, error) {
	r, err := t.loadRing(ctx, sig)
	if err != nil {
		return core.Topic0Mode{}, err
	}
	return r.mode, nil
}

func (t *Tracker) loadRing(ctx context.Context, sig [32]byte) (*ring, error) {
	if r, ok := t.rings[sig]; ok {
		return r, nil
	}
	r := newRing(t.policy.WindowLen)

	statsVal, statsVersion, found, err := t.meta.Get(ctx, core.KeyTopic0Stats(sig))
	if err != nil {
		return nil, err
	}
	if found {
		stats, err := codec.DecodeTopic0Stats(statsVal)
		if err != nil {
			return nil, err
		}
		r.stats = *stats
		r.statsExists = true
		r.statsVersion = statsVersion
	}

	modeVal, modeVersion, found, err := t.meta.Get(ctx, core.KeyTopic0Mode(sig))
	if err != nil {
		return nil, err
	}
	if found {
		mode, err := codec.DecodeTopic0Mode(modeVal)
		if err != nil {
			return nil, err
		}
		r.mode = *mode
		r.modeExists = true
		r.modeVersion = modeVersion
	}

	t.rings[sig] = r
	return r, nil
}

func (t *Tracker) persistStats(ctx context.Context, sig [32]byte, r *ring, fence uint64) error {
	payload := codec.EncodeTopic0Stats(&r.stats)
	key := core.KeyTopic0Stats(sig)
	var res store.CASResult
	var err error
	if r.statsExists {
		res, err = t.meta.PutIfVersion(ctx, key, payload, r.statsVersion, fence)
	} else {
		res, err = t.meta.PutIfAbsent(ctx, key, payload, fence)
		r.statsExists = true
	}
	if err != nil {
		return err
	}
	if res.Outcome == store.NotApplied {
		return &core.FenceRejectedError{Supplied: fence, Current: res.CurrentVersion}
	}
	r.statsVersion = res.NewVersion
	return nil
}

func (t *Tracker) persistMode(ctx context.Context, sig [32]byte, mode core.Topic0Mode, r *ring, fence uint64) error {
	payload := codec.EncodeTopic0Mode(&mode)
	key := core.KeyTopic0Mode(sig)
	var res store.CASResult
	var err error
	if r.modeExists {
		res, err = t.meta.PutIfVersion(ctx, key, payload, r.modeVersion, fence)
	} else {
		res, err = t.meta.PutIfAbsent(ctx, key, payload, fence)
		r.modeExists = true
	}
	if err != nil {
		return err
	}
	if res.Outcome == store.NotApplied {
		return &core.FenceRejectedError{Supplied: fence, Current: res.CurrentVersion}
	}
	r.modeVersion = res.NewVersion
	return nil
}
