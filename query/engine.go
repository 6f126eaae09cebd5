// Package query implements the read path: snapshot meta/state, plan
// clause selectivity with overlap-aware cardinality estimates, then execute
// by intersecting per-shard log-level bitmaps, applying block-level
// clauses late, and exact-filtering surviving candidates before sorting
// and truncating to max_results.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/chainidx/finalidx/cache"
	"github.com/chainidx/finalidx/chunk"
	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

// GuardrailAction mirrors config.GuardrailAction without importing config,
// keeping this package's dependency surface narrow; the embedding service
// threads its chosen policy in at construction time.
type GuardrailAction string

const (
	ActionError     GuardrailAction = "Error"
	ActionBlockScan GuardrailAction = "BlockScan"
)

// shardSet is the executor's candidate representation: per-shard roaring32
// bitmaps of local offsets, exactly as the spec's "per-shard candidate
// bitmap" describes. Global ids are only reconstructed (shard<<32 | local)
// once a candidate set is ready for point reads.
type shardSet map[uint32]*roaring.Bitmap

func (s shardSet) and(other shardSet) shardSet {
	out := make(shardSet)
	for shard, bm := range s {
		o, ok := other[shard]
		if !ok {
			continue
		}
		inter := roaring.And(bm, o)
		if !inter.IsEmpty() {
			out[shard] = inter
		}
	}
	return out
}

func (s shardSet) orInto(shard uint32, bm *roaring.Bitmap) {
	if existing, ok := s[shard]; ok {
		existing.Or(bm)
	} else {
		s[shard] = bm.Clone()
	}
}

func (s shardSet) isEmpty() bool {
	for _, bm := range s {
		if !bm.IsEmpty() {
			return false
		}
	}
	return true
}

func (s shardSet) globalIDs() []uint64 {
	var out []uint64
	for shard, bm := range s {
		it := bm.Iterator()
		for it.HasNext() {
			out = append(out, (uint64(shard)<<32)|uint64(it.Next()))
		}
	}
	return out
}

// Engine is the lock-free reader: every call snapshots meta/state and reads
// from shared, version-invalidated caches; there is no writer-side mutable
// state it can race with.
type Engine struct {
	meta  store.MetaStore
	blobs store.BlobStore

	manifests *cache.CoalescingLoader
	tails     *cache.CoalescingLoader
	chunks    *cache.CoalescingLoader

	maxOrTerms      int
	guardrailAction GuardrailAction
}

func NewEngine(meta store.MetaStore, blobs store.BlobStore, manifestCacheSize, tailCacheSize, chunkCacheSize, maxOrTerms int, action GuardrailAction) *Engine {
	return &Engine{
		meta:            meta,
		blobs:           blobs,
		manifests:       cache.NewCoalescingLoader(cache.NewLRU(manifestCacheSize)),
		tails:           cache.NewCoalescingLoader(cache.NewLRU(tailCacheSize)),
		chunks:          cache.NewCoalescingLoader(cache.NewLRU(chunkCacheSize)),
		maxOrTerms:      maxOrTerms,
		guardrailAction: action,
	}
}

// Query runs the full plan/execute pipeline for one filter against the
// current finalized snapshot.
func (e *Engine) Query(ctx context.Context, f *Filter) ([]*core.Log, error) {
	state, err := e.snapshotState(ctx)
	if err != nil {
		return nil, err
	}

	rangeLo, rangeHi, err := e.resolveRange(ctx, f, state)
	if err != nil {
		return nil, err
	}
	if rangeLo > rangeHi {
		return nil, nil
	}

	clauses, blockClauses := e.buildClauses(f)

	for _, c := range append(append([]clausePlan{}, clauses...), blockClauses...) {
		if e.maxOrTerms > 0 && len(c.values) > e.maxOrTerms {
			if e.guardrailAction == ActionBlockScan {
				return e.blockDrivenScan(ctx, f, rangeLo, rangeHi, state)
			}
			return nil, &core.QueryTooBroadError{Clause: c.name, Size: len(c.values), Limit: e.maxOrTerms}
		}
	}

	if state.NextLogID == 0 {
		return nil, nil // no log has been ingested yet
	}

	l0, l1, err := e.logIDRange(ctx, rangeLo, rangeHi)
	if err != nil {
		return nil, err
	}

	if len(clauses) == 0 && len(blockClauses) == 0 {
		return e.scanRangeExact(ctx, f, rangeLo, rangeHi, state)
	}
	if len(clauses) == 0 {
		return e.blockDrivenScan(ctx, f, rangeLo, rangeHi, state)
	}

	{
		g, gctx := errgroup.WithContext(ctx)
		for i := range clauses {
			i := i
			g.Go(func() error {
				est, err := e.estimateClause(gctx, clauses[i], l0, l1)
				if err != nil {
					return err
				}
				clauses[i].estimate = est
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	sort.Slice(clauses, func(i, j int) bool { return clauses[i].estimate < clauses[j].estimate })

	candidates, err := e.materializeClause(ctx, clauses[0], l0, l1)
	if err != nil {
		return nil, err
	}

	rest := clauses[1:]
	bitmaps := make([]shardSet, len(rest))
	{
		g, gctx := errgroup.WithContext(ctx)
		for i := range rest {
			i := i
			g.Go(func() error {
				bm, err := e.materializeClause(gctx, rest[i], l0, l1)
				if err != nil {
					return err
				}
				bitmaps[i] = bm
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	for _, bm := range bitmaps {
		candidates = candidates.and(bm)
		if candidates.isEmpty() {
			return nil, nil
		}
	}

	if len(blockClauses) > 0 {
		candidates, err = e.applyBlockClausesLate(ctx, blockClauses[0], candidates, rangeLo, rangeHi)
		if err != nil {
			return nil, err
		}
	}

	return e.materializeResults(ctx, f, candidates, state)
}

// WarmManifest loads one stream's manifest header into cache ahead of its
// first query touch; used by recovery.Bootstrap's optional warm list.
func (e *Engine) WarmManifest(ctx context.Context, id core.StreamID) error {
	_, err := e.loadManifest(ctx, id)
	return err
}

// HeadSnapshot reports indexed_finalized_head.
func (e *Engine) HeadSnapshot(ctx context.Context) (uint64, error) {
	state, err := e.snapshotState(ctx)
	if err != nil {
		return 0, err
	}
	return state.IndexedFinalizedHead, nil
}

func (e *Engine) snapshotState(ctx context.Context) (core.MetaState, error) {
	value, _, found, err := e.meta.Get(ctx, []byte(core.KeyMetaState))
	if err != nil {
		return core.MetaState{}, err
	}
	if !found {
		return core.MetaState{}, nil
	}
	state, err := codec.DecodeMetaState(value)
	if err != nil {
		return core.MetaState{}, err
	}
	return *state, nil
}

// resolveRange implements planner steps 2-3: blockHash exclusivity,
// tag/numeric resolution clipped to [0, Hf].
func (e *Engine) resolveRange(ctx context.Context, f *Filter, state core.MetaState) (uint64, uint64, error) {
	if f.BlockHash != nil {
		if f.FromBlock != nil || f.ToBlock != nil {
			return 0, 0, &core.InvalidParamsError{Message: "blockHash cannot be combined with fromBlock/toBlock"}
		}
		value, _, found, err := e.meta.Get(ctx, core.KeyBlockHashToNum(*f.BlockHash))
		if err != nil {
			return 0, 0, err
		}
		if !found {
			return 0, 0, &core.NotFoundError{Message: "blockHash not indexed"}
		}
		num := decodeU64(value)
		bm, err := e.loadBlockMeta(ctx, num)
		if err != nil {
			return 0, 0, err
		}
		if bm.BlockHash != *f.BlockHash {
			return 0, 0, &core.NotFoundError{Message: "blockHash does not match indexed block at that height"}
		}
		return num, num, nil
	}

	lo := uint64(0)
	hi := state.IndexedFinalizedHead
	if f.FromBlock != nil {
		lo = *f.FromBlock
	}
	if f.ToBlock != nil {
		hi = *f.ToBlock
	}
	if hi > state.IndexedFinalizedHead {
		hi = state.IndexedFinalizedHead
	}
	return lo, hi, nil
}

// logIDRange implements planner step 4: resolve [B0,B1] to a log-id
// interval via block_meta endpoints.
func (e *Engine) logIDRange(ctx context.Context, b0, b1 uint64) (uint64, uint64, error) {
	lo, err := e.loadBlockMeta(ctx, b0)
	if err != nil {
		return 0, 0, err
	}
	hi, err := e.loadBlockMeta(ctx, b1)
	if err != nil {
		return 0, 0, err
	}
	l0 := lo.FirstLogID
	l1 := hi.FirstLogID + uint64(hi.Count)
	if l1 > 0 {
		l1--
	}
	return l0, l1, nil
}

func (e *Engine) loadBlockMeta(ctx context.Context, blockNum uint64) (*core.BlockMeta, error) {
	value, _, found, err := e.meta.Get(ctx, core.KeyBlockMeta(blockNum))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &core.NotFoundError{Message: fmt.Sprintf("missing block_meta for block %d", blockNum)}
	}
	return codec.DecodeBlockMeta(value)
}

func decodeU64(b []byte) uint64 {
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n
}

func addrTo32(a core.Address) [32]byte {
	var out [32]byte
	copy(out[12:], a[:])
	return out
}

func addrFrom32(v [32]byte) core.Address {
	var a core.Address
	copy(a[:], v[12:])
	return a
}

// buildClauses splits a Filter into log-level clauses (address, topic1-3)
// that get materialized and intersected, and the block-level topic0 clause
// that is applied late.
func (e *Engine) buildClauses(f *Filter) ([]clausePlan, []clausePlan) {
	var clauses, blockClauses []clausePlan

	if len(f.Addresses) > 0 {
		values := make([][32]byte, len(f.Addresses))
		for i, a := range f.Addresses {
			values[i] = addrTo32(a)
		}
		clauses = append(clauses, clausePlan{name: "address", kind: core.KindAddr, values: values, logLevel: true})
	}

	for i, clause := range f.Topics {
		if len(clause) == 0 {
			continue
		}
		if i == 0 {
			blockClauses = append(blockClauses, clausePlan{name: "topic0", kind: core.KindTopic0Block, values: clause})
			continue
		}
		clauses = append(clauses, clausePlan{name: fmt.Sprintf("topic%d", i), kind: topicKindFor(i), values: clause, logLevel: true})
	}

	return clauses, blockClauses
}

func topicKindFor(i int) core.IndexKind {
	switch i {
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

// streamIDFor builds the stream id for one clause value in one shard.
func streamIDFor(kind core.IndexKind, value [32]byte, shard uint32) core.StreamID {
	if kind == core.KindAddr {
		return core.NewAddrStreamID(addrFrom32(value), shard)
	}
	return core.NewTopicStreamID(kind, value, shard)
}

func shardLocalBounds(shard, loShard, hiShard uint32, l0, l1 uint64) (uint32, uint32) {
	lo, hi := uint32(0), ^uint32(0)
	if shard == loShard {
		lo = core.LocalOf(l0)
	}
	if shard == hiShard {
		hi = core.LocalOf(l1)
	}
	return lo, hi
}

// forEachShard calls fn once per shard in [loShard, hiShard] inclusive,
// guarding against uint32 wraparound at the top of the range.
func forEachShard(loShard, hiShard uint32, fn func(shard uint32) error) error {
	shard := loShard
	for {
		if err := fn(shard); err != nil {
			return err
		}
		if shard == hiShard {
			return nil
		}
		shard++
	}
}

// estimateClause implements planner step 6: sum over values and shards of
// ChunkRef overlap counts plus in-range tail cardinality.
func (e *Engine) estimateClause(ctx context.Context, c clausePlan, l0, l1 uint64) (uint64, error) {
	loShard, hiShard := core.ShardOf(l0), core.ShardOf(l1)
	var total uint64
	for _, v := range c.values {
		err := forEachShard(loShard, hiShard, func(shard uint32) error {
			id := streamIDFor(c.kind, v, shard)
			shardLo, shardHi := shardLocalBounds(shard, loShard, hiShard, l0, l1)

			header, err := e.loadManifest(ctx, id)
			if err != nil {
				return err
			}
			for _, ref := range header.ChunkRefs {
				if ref.Overlaps(shardLo, shardHi) {
					total += uint64(ref.Count)
				}
			}

			tailBM, err := e.loadTail(ctx, id)
			if err != nil {
				return err
			}
			total += rangeCardinality(tailBM, shardLo, shardHi)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

func rangeCardinality(bm *roaring.Bitmap, lo, hi uint32) uint64 {
	r := roaring.New()
	r.AddRange(uint64(lo), uint64(hi)+1)
	r.And(bm)
	return r.GetCardinality()
}

// materializeClause implements executor steps 1-2 for one clause: union the
// OR-list's per-shard bitmaps (restricted to the queried local range) into
// a shardSet.
func (e *Engine) materializeClause(ctx context.Context, c clausePlan, l0, l1 uint64) (shardSet, error) {
	loShard, hiShard := core.ShardOf(l0), core.ShardOf(l1)
	result := make(shardSet)

	for _, v := range c.values {
		err := forEachShard(loShard, hiShard, func(shard uint32) error {
			id := streamIDFor(c.kind, v, shard)
			shardLo, shardHi := shardLocalBounds(shard, loShard, hiShard, l0, l1)

			bm, err := e.streamBitmap(ctx, id)
			if err != nil {
				return err
			}
			windowed := roaring.New()
			windowed.AddRange(uint64(shardLo), uint64(shardHi)+1)
			windowed.And(bm)
			if !windowed.IsEmpty() {
				result.orInto(shard, windowed)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// streamBitmap returns the union of a stream's sealed chunks and its
// current tail: everything ever appended to that stream, regardless of
// range.
func (e *Engine) streamBitmap(ctx context.Context, id core.StreamID) (*roaring.Bitmap, error) {
	header, err := e.loadManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	result := roaring.New()
	for _, ref := range header.ChunkRefs {
		bm, err := e.loadChunk(ctx, id, ref.ChunkSeq)
		if err != nil {
			return nil, err
		}
		result.Or(bm)
	}
	tailBM, err := e.loadTail(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Or(tailBM)
	return result, nil
}

// loadManifest always re-reads meta/{manifests/{id}} to learn its current
// version, then asks the cache for that exact version: manifests are
// CAS-updated on the write path, so a cache entry from a version the
// store has since moved past is a miss, not a hit, and gets re-decoded.
func (e *Engine) loadManifest(ctx context.Context, id core.StreamID) (*core.ManifestHeader, error) {
	value, version, found, err := e.meta.Get(ctx, core.KeyManifest(id))
	if err != nil {
		return nil, err
	}
	v, err := e.manifests.GetOrLoadVersioned(ctx, string(id), version, func(context.Context) (any, error) {
		if !found {
			return &core.ManifestHeader{}, nil
		}
		return codec.DecodeManifest(value)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.ManifestHeader), nil
}

// loadTail always re-reads meta/{tails/{id}} to learn its current version,
// for the same reason as loadManifest: tail checkpoints are CAS-updated on
// every flush, so the cache must re-validate rather than serve the first
// bitmap it ever decoded for a stream.
func (e *Engine) loadTail(ctx context.Context, id core.StreamID) (*roaring.Bitmap, error) {
	value, version, found, err := e.meta.Get(ctx, core.KeyTail(id))
	if err != nil {
		return nil, err
	}
	v, err := e.tails.GetOrLoadVersioned(ctx, string(id), version, func(context.Context) (any, error) {
		if !found {
			return roaring.New(), nil
		}
		return codec.DecodeTail(value)
	})
	if err != nil {
		return nil, err
	}
	return v.(*roaring.Bitmap), nil
}

func (e *Engine) loadChunk(ctx context.Context, id core.StreamID, seq uint32) (*roaring.Bitmap, error) {
	key := core.KeyChunk(id, seq)
	v, err := e.chunks.GetOrLoad(ctx, string(key), func(ctx context.Context) (any, error) {
		blob, found, err := e.blobs.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &core.CorruptionError{Message: "manifest references missing chunk blob", Key: string(key)}
		}
		decoded, err := chunk.DecodeChunkBlob(blob)
		if err != nil {
			return nil, err
		}
		return decoded.Bitmap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*roaring.Bitmap), nil
}
