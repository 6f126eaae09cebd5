// Package ingest implements the single-writer per-block pipeline: validate
// ordering and parent linkage, write canonical tables, drive stream
// appends into the tail/chunk managers and the topic0 tracker, then
// atomically advance meta/state as the sole visibility barrier.
package ingest

import (
	"context"
	"fmt"

	"github.com/chainidx/finalidx/chunk"
	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/lease"
	"github.com/chainidx/finalidx/store"
	"github.com/chainidx/finalidx/tail"
	"github.com/chainidx/finalidx/topic0"
)

// Outcome is the per-call result of IngestBlock.
type Outcome int

const (
	Applied Outcome = iota
	AlreadyIngested
)

func (o Outcome) String() string {
	if o == AlreadyIngested {
		return "AlreadyIngested"
	}
	return "Applied"
}

// Engine is the single writer for the index. An Engine instance must not be
// shared across goroutines calling IngestBlock concurrently; the pipeline
// itself assumes exactly one in-flight block at a time.
type Engine struct {
	meta    store.MetaStore
	blobs   store.BlobStore
	lease   *lease.Manager
	tails   *tail.Manager
	chunks  *chunk.Manager
	topics  *topic0.Tracker
	degraded bool
}

func NewEngine(meta store.MetaStore, blobs store.BlobStore, leaseMgr *lease.Manager, tails *tail.Manager, chunks *chunk.Manager, topics *topic0.Tracker) *Engine {
	return &Engine{meta: meta, blobs: blobs, lease: leaseMgr, tails: tails, chunks: chunks, topics: topics}
}

// Degraded reports whether the engine has collapsed to the fail-closed
// state after a non-recoverable error. Degraded is permanent for the life
// of the Engine value; recovery is an explicit operator action (constructing
// a fresh Engine after verifying/repairing state out of band).
func (e *Engine) Degraded() bool { return e.degraded }

// IngestBlock runs the ten-step pipeline for one finalized block. It is
// safe to retry the exact same block after any failure prior to the final
// meta/state CAS: every intermediate write is deterministically keyed and
// therefore idempotent.
func (e *Engine) IngestBlock(ctx context.Context, block *core.FinalizedBlock) (Outcome, error) {
	if e.degraded {
		return 0, &core.LeaseLostError{Message: "engine is degraded, ingest refused"}
	}

	fence := e.lease.Epoch()
	if !e.lease.Held() {
		return 0, &core.LeaseLostError{Message: "writer lease not held"}
	}

	state, stateVersion, bootstrapped, err := e.readState(ctx)
	if err != nil {
		return 0, err
	}

	if !bootstrapped {
		// first block this engine has ever ingested: only the configured
		// genesis height is acceptable.
		if block.BlockNum != 0 {
			return 0, &core.OrderingViolationError{Message: "first ingest must be the genesis block", Expected: 0, Got: block.BlockNum}
		}
	} else if block.BlockNum <= state.IndexedFinalizedHead {
		existing, found, err := e.loadBlockMeta(ctx, block.BlockNum)
		if err != nil {
			return 0, err
		}
		switch {
		case found && existing.BlockHash == block.BlockHash && block.BlockNum == state.IndexedFinalizedHead:
			return AlreadyIngested, nil
		default:
			e.degraded = true
			have := core.Hash{}
			if found {
				have = existing.BlockHash
			}
			return 0, &core.FinalityViolationError{BlockNum: block.BlockNum, Have: have, Got: block.BlockHash}
		}
	} else if block.BlockNum != state.IndexedFinalizedHead+1 {
		return 0, &core.OrderingViolationError{
			Message:  "block presented out of order",
			Expected: state.IndexedFinalizedHead + 1,
			Got:      block.BlockNum,
		}
	}

	if err := e.checkParentLinkage(ctx, block, bootstrapped, state); err != nil {
		e.degraded = true
		return 0, err
	}

	firstLogID := state.NextLogID

	if err := e.writeCanonical(ctx, block, firstLogID, fence); err != nil {
		return 0, err
	}

	touched, err := e.appendStreams(ctx, block, firstLogID, fence)
	if err != nil {
		return 0, err
	}

	if err := e.sealDue(ctx, touched, fence); err != nil {
		return 0, err
	}

	if err := e.tails.FlushAll(ctx, fence); err != nil {
		return 0, err
	}

	newState := core.MetaState{
		IndexedFinalizedHead: block.BlockNum,
		NextLogID:            firstLogID + uint64(len(block.Logs)),
		WriterEpoch:           fence,
	}
	if err := e.publishState(ctx, &newState, stateVersion, fence); err != nil {
		return 0, err
	}

	return Applied, nil
}

func (e *Engine) readState(ctx context.Context) (core.MetaState, uint64, bool, error) {
	value, version, found, err := e.meta.Get(ctx, []byte(core.KeyMetaState))
	if err != nil {
		return core.MetaState{}, 0, false, err
	}
	if !found {
		return core.MetaState{}, 0, false, nil
	}
	state, err := codec.DecodeMetaState(value)
	if err != nil {
		return core.MetaState{}, 0, false, err
	}
	if state.IndexedFinalizedHead == 0 {
		// lease acquisition creates meta/state before any block exists, so a
		// head of 0 only counts as ingested once block_meta/0 is present.
		_, genesisFound, err := e.loadBlockMeta(ctx, 0)
		if err != nil {
			return core.MetaState{}, 0, false, err
		}
		if !genesisFound {
			return *state, version, false, nil
		}
	}
	return *state, version, true, nil
}

func (e *Engine) loadBlockMeta(ctx context.Context, blockNum uint64) (*core.BlockMeta, bool, error) {
	value, _, found, err := e.meta.Get(ctx, core.KeyBlockMeta(blockNum))
	if err != nil || !found {
		return nil, found, err
	}
	bm, err := codec.DecodeBlockMeta(value)
	if err != nil {
		return nil, false, err
	}
	return bm, true, nil
}

func (e *Engine) checkParentLinkage(ctx context.Context, block *core.FinalizedBlock, bootstrapped bool, state core.MetaState) error {
	if !bootstrapped {
		// genesis: no prior block_meta to check against. Accept whatever
		// parent_hash the caller supplied as the configured genesis base.
		return nil
	}
	prev, found, err := e.loadBlockMeta(ctx, state.IndexedFinalizedHead)
	if err != nil {
		return err
	}
	if !found {
		return &core.CorruptionError{Message: "missing block_meta for indexed_finalized_head", Key: fmt.Sprintf("block_meta/%d", state.IndexedFinalizedHead)}
	}
	if block.ParentHash != prev.BlockHash {
		return &core.OrderingViolationError{
			Message: fmt.Sprintf("parent hash mismatch: block %d's parent_hash does not match block %d's hash", block.BlockNum, state.IndexedFinalizedHead),
		}
	}
	return nil
}

func (e *Engine) writeCanonical(ctx context.Context, block *core.FinalizedBlock, firstLogID uint64, fence uint64) error {
	for i, in := range block.Logs {
		log := &core.Log{
			GlobalLogID: firstLogID + uint64(i),
			Address:     in.Address,
			Topics:      in.Topics,
			Data:        in.Data,
			BlockNum:    block.BlockNum,
			TxIndex:     in.TxIndex,
			LogIndex:    in.LogIndex,
			BlockHash:   block.BlockHash,
		}
		if err := e.putIfAbsentIdempotent(ctx, core.KeyLog(log.GlobalLogID), codec.EncodeLog(log), fence); err != nil {
			return err
		}
	}

	bm := &core.BlockMeta{
		BlockNum:   block.BlockNum,
		BlockHash:  block.BlockHash,
		ParentHash: block.ParentHash,
		FirstLogID: firstLogID,
		Count:      uint32(len(block.Logs)),
	}
	if err := e.putIfAbsentIdempotent(ctx, core.KeyBlockMeta(block.BlockNum), codec.EncodeBlockMeta(bm), fence); err != nil {
		return err
	}

	return e.putIfAbsentIdempotent(ctx, core.KeyBlockHashToNum(block.BlockHash), blockNumBytes(block.BlockNum), fence)
}

func blockNumBytes(n uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

// putIfAbsentIdempotent accepts a replay with identical bytes at an
// existing key (step 5's "on replay, identical values are accepted") and
// raises Corruption on differing bytes at an existing key.
func (e *Engine) putIfAbsentIdempotent(ctx context.Context, key, value []byte, fence uint64) error {
	res, err := e.meta.PutIfAbsent(ctx, key, value, fence)
	if err != nil {
		return err
	}
	if res.Outcome == store.Applied {
		return nil
	}
	if string(res.CurrentValue) == string(value) {
		return nil
	}
	return &core.CorruptionError{Message: "replay wrote differing bytes at existing canonical key", Key: string(key)}
}

// appendStreams appends this block's values into every stream it touches
// and returns that touched set, so sealDue can run the seal policy over
// exactly the streams that grew without recomputing the same topic0
// eligibility logic. Each stream is hydrated from its persisted checkpoint
// on first touch this process (see tail.Manager.EnsureHydrated) before any
// append, so a restarted writer resumes the tail a prior process left
// behind instead of silently starting over from empty.
func (e *Engine) appendStreams(ctx context.Context, block *core.FinalizedBlock, firstLogID uint64, fence uint64) (map[string]core.StreamID, error) {
	seenTopic0InBlock := make(map[[32]byte]bool)
	touched := make(map[string]core.StreamID)

	for i, in := range block.Logs {
		logID := firstLogID + uint64(i)
		shardHi32 := core.ShardOf(logID)
		local := core.LocalOf(logID)

		addrID := core.NewAddrStreamID(in.Address, shardHi32)
		if err := e.tails.EnsureHydrated(ctx, addrID); err != nil {
			return nil, err
		}
		e.tails.Append(addrID, local)
		touched[string(addrID)] = addrID

		for idx := 1; idx <= 3 && idx < len(in.Topics); idx++ {
			kind := topicKind(idx)
			if kind == 0 {
				continue
			}
			topicID := core.NewTopicStreamID(kind, in.Topics[idx], shardHi32)
			if err := e.tails.EnsureHydrated(ctx, topicID); err != nil {
				return nil, err
			}
			e.tails.Append(topicID, local)
			touched[string(topicID)] = topicID
		}

		if len(in.Topics) > 0 {
			sig := in.Topics[0]
			seenTopic0InBlock[sig] = true

			mode, err := e.topics.Mode(ctx, sig)
			if err != nil {
				return nil, err
			}
			if mode.LogEnabled && block.BlockNum >= mode.EnabledFromBlock {
				sigID := core.NewTopicStreamID(core.KindTopic0Log, sig, shardHi32)
				if err := e.tails.EnsureHydrated(ctx, sigID); err != nil {
					return nil, err
				}
				e.tails.Append(sigID, local)
				touched[string(sigID)] = sigID
			}
		}
	}

	blockShard := core.ShardOf(block.BlockNum)
	blockLocal := core.LocalOf(block.BlockNum)
	for sig := range seenTopic0InBlock {
		blockID := core.NewTopicStreamID(core.KindTopic0Block, sig, blockShard)
		if err := e.tails.EnsureHydrated(ctx, blockID); err != nil {
			return nil, err
		}
		e.tails.Append(blockID, blockLocal)
		touched[string(blockID)] = blockID
	}

	for sig := range seenTopic0InBlock {
		if _, _, err := e.topics.Observe(ctx, sig, block.BlockNum, true, fence); err != nil {
			return nil, err
		}
	}

	return touched, nil
}

func topicKind(idx int) core.IndexKind {
	switch idx {
	case 1:
		return core.KindTopic1
	case 2:
		return core.KindTopic2
	case 3:
		return core.KindTopic3
	default:
		return 0
	}
}

// sealDue runs the chunk-sealing policy for every stream touched by this
// block (addr, topic1-3, topic0_block, and topic0_log where enabled),
// reading each stream's current cardinality and serialized size from a
// snapshot of its tail.
func (e *Engine) sealDue(ctx context.Context, touched map[string]core.StreamID, fence uint64) error {
	for _, id := range touched {
		snapshot := e.tails.Snapshot(id)
		if e.chunks.ShouldSeal(id, int(snapshot.GetCardinality()), int64(snapshot.GetSerializedSizeInBytes())) {
			if err := e.chunks.Seal(ctx, id, fence); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) publishState(ctx context.Context, newState *core.MetaState, expectedVersion, fence uint64) error {
	payload := codec.EncodeMetaState(newState)
	var res store.CASResult
	var err error
	if expectedVersion == 0 {
		res, err = e.meta.PutIfAbsent(ctx, []byte(core.KeyMetaState), payload, fence)
	} else {
		res, err = e.meta.PutIfVersion(ctx, []byte(core.KeyMetaState), payload, expectedVersion, fence)
	}
	if err != nil {
		return err
	}
	if res.Outcome == store.NotApplied {
		// state moved underneath a single writer: impossible under the
		// fencing invariant unless this holder's lease was already lost.
		e.lease.MarkLost()
		e.degraded = true
		return &core.FenceRejectedError{Supplied: fence, Current: res.CurrentVersion}
	}
	return nil
}
