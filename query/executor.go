package query

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
)

type blockBoundary struct {
	firstLogID uint64
	blockNum   uint64
}

// buildBlockIndex loads block_meta for every block in [lo, hi] and returns
// a sorted boundary list so candidate global ids can be mapped back to
// their owning block by binary search (executor step 3).
func (e *Engine) buildBlockIndex(ctx context.Context, lo, hi uint64) ([]blockBoundary, error) {
	out := make([]blockBoundary, 0, hi-lo+1)
	for b := lo; b <= hi; b++ {
		bm, err := e.loadBlockMeta(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, blockBoundary{firstLogID: bm.FirstLogID, blockNum: b})
		if b == hi {
			break
		}
	}
	return out, nil
}

func blockNumForLogID(index []blockBoundary, globalID uint64) uint64 {
	i := sort.Search(len(index), func(i int) bool { return index[i].firstLogID > globalID })
	if i == 0 {
		return index[0].blockNum
	}
	return index[i-1].blockNum
}

// applyBlockClausesLate implements executor step 3: admit only candidates
// whose owning block is a member of the topic0_block bitmap, without ever
// materializing a dense per-log mask for the block-level clause.
func (e *Engine) applyBlockClausesLate(ctx context.Context, blockClause clausePlan, candidates shardSet, rangeLo, rangeHi uint64) (shardSet, error) {
	blockMatches, err := e.materializeClause(ctx, blockClause, rangeLo, rangeHi)
	if err != nil {
		return nil, err
	}
	if blockMatches.isEmpty() {
		return make(shardSet), nil
	}

	index, err := e.buildBlockIndex(ctx, rangeLo, rangeHi)
	if err != nil {
		return nil, err
	}

	out := make(shardSet)
	for _, global := range candidates.globalIDs() {
		blockNum := blockNumForLogID(index, global)
		shard := core.ShardOf(blockNum)
		local := core.LocalOf(blockNum)
		if bm, ok := blockMatches[shard]; ok && bm.Contains(local) {
			out.orIntoSingle(core.ShardOf(global), core.LocalOf(global))
		}
	}
	return out, nil
}

// orIntoSingle adds a single local id to the shard's bitmap, creating it if
// needed.
func (s shardSet) orIntoSingle(shard, local uint32) {
	bm, ok := s[shard]
	if !ok {
		bm = roaring.New()
		s[shard] = bm
	}
	bm.Add(local)
}

// materializeResults implements executor steps 4-6: point-read each
// candidate, exact-filter, sort by (block_num, tx_idx, log_idx), and
// truncate to max_results.
func (e *Engine) materializeResults(ctx context.Context, f *Filter, candidates shardSet, state core.MetaState) ([]*core.Log, error) {
	var logs []*core.Log
	for _, global := range candidates.globalIDs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if global >= state.NextLogID {
			continue // never emit logs outside the snapshot taken at query start
		}
		log, err := e.readLog(ctx, global)
		if err != nil {
			return nil, err
		}
		if !exactMatch(log, f) {
			continue
		}
		logs = append(logs, log)
	}

	sort.Slice(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if a.BlockNum != b.BlockNum {
			return a.BlockNum < b.BlockNum
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.LogIndex < b.LogIndex
	})

	if f.MaxResults > 0 && len(logs) > f.MaxResults {
		logs = logs[:f.MaxResults]
	}
	return logs, nil
}

func (e *Engine) readLog(ctx context.Context, globalID uint64) (*core.Log, error) {
	value, _, found, err := e.meta.Get(ctx, core.KeyLog(globalID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &core.CorruptionError{Message: "bitmap referenced a log that does not exist", Key: string(core.KeyLog(globalID))}
	}
	return codec.DecodeLog(value)
}

// exactMatch re-verifies every clause against the fully decoded log. This
// is load-bearing for topic0 (the block-level index only proves the block
// contains a matching log, not that this one does) and is a cheap
// correctness backstop for every other clause.
func exactMatch(log *core.Log, f *Filter) bool {
	if len(f.Addresses) > 0 {
		match := false
		for _, a := range f.Addresses {
			if a == log.Address {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	for i, clause := range f.Topics {
		if len(clause) == 0 {
			continue
		}
		topic := log.Topic(i)
		if topic == nil {
			return false
		}
		match := false
		for _, v := range clause {
			if v == *topic {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// scanRangeExact handles the degenerate filter with no address or topic
// clauses at all: every log in the range matches.
func (e *Engine) scanRangeExact(ctx context.Context, f *Filter, lo, hi uint64, state core.MetaState) ([]*core.Log, error) {
	l0, l1, err := e.logIDRange(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	var logs []*core.Log
	for id := l0; id <= l1; id++ {
		if id >= state.NextLogID {
			break
		}
		log, err := e.readLog(ctx, id)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
		if f.MaxResults > 0 && len(logs) >= f.MaxResults {
			break
		}
		if id == l1 {
			break
		}
	}
	return logs, nil
}

// blockDrivenScan implements §4.6.1: union topic0_block bitmaps across
// values and shards, then exact-filter every log in each matching block.
// Used when the query is topic0-only or when an OR-list guardrail is
// exceeded under the BlockScan policy.
func (e *Engine) blockDrivenScan(ctx context.Context, f *Filter, lo, hi uint64, state core.MetaState) ([]*core.Log, error) {
	clauses, blockClauses := e.buildClauses(f)

	var matchBlocks shardSet
	if len(blockClauses) > 0 {
		bm, err := e.materializeClause(ctx, blockClauses[0], lo, hi)
		if err != nil {
			return nil, err
		}
		matchBlocks = bm
	}

	var logs []*core.Log
	for b := lo; b <= hi; b++ {
		if matchBlocks != nil {
			shard, local := core.ShardOf(b), core.LocalOf(b)
			bm, ok := matchBlocks[shard]
			if !ok || !bm.Contains(local) {
				if b == hi {
					break
				}
				continue
			}
		}
		bmeta, err := e.loadBlockMeta(ctx, b)
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < bmeta.Count; i++ {
			globalID := bmeta.FirstLogID + uint64(i)
			if globalID >= state.NextLogID {
				continue
			}
			log, err := e.readLog(ctx, globalID)
			if err != nil {
				return nil, err
			}
			if !matchesLogLevelClauses(log, clauses) || !exactMatch(log, f) {
				continue
			}
			logs = append(logs, log)
		}
		if b == hi {
			break
		}
	}

	sort.Slice(logs, func(i, j int) bool {
		a, c := logs[i], logs[j]
		if a.BlockNum != c.BlockNum {
			return a.BlockNum < c.BlockNum
		}
		if a.TxIndex != c.TxIndex {
			return a.TxIndex < c.TxIndex
		}
		return a.LogIndex < c.LogIndex
	})
	if f.MaxResults > 0 && len(logs) > f.MaxResults {
		logs = logs[:f.MaxResults]
	}
	return logs, nil
}

func matchesLogLevelClauses(log *core.Log, clauses []clausePlan) bool {
	for _, c := range clauses {
		switch c.kind {
		case core.KindAddr:
			match := false
			for _, v := range c.values {
				if addrFrom32(v) == log.Address {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		default:
			idx := topicIndexFor(c.kind)
			topic := log.Topic(idx)
			if topic == nil {
				return false
			}
			match := false
			for _, v := range c.values {
				if v == *topic {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		}
	}
	return true
}

func topicIndexFor(kind core.IndexKind) int {
	switch kind {
	case core.KindTopic1:
		return 1
	case core.KindTopic2:
		return 2
	case core.KindTopic3:
		return 3
	default:
		return 0
	}
}
