package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/chunk"
	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/ingest"
	"github.com/chainidx/finalidx/lease"
	"github.com/chainidx/finalidx/store/memstore"
	"github.com/chainidx/finalidx/tail"
	"github.com/chainidx/finalidx/topic0"
)

func newTestStack(t *testing.T) (*ingest.Engine, *Engine, *memstore.MetaStore, *memstore.BlobStore) {
	t.Helper()
	ms := memstore.NewMetaStore()
	bs := memstore.NewBlobStore()
	lm := lease.NewManager(ms, "writer-1")
	_, err := lm.Acquire(context.Background())
	require.NoError(t, err)

	tm := tail.NewManager(ms, clock.System)
	cm := chunk.NewManager(chunk.Policy{TargetEntries: 1950, MaintenanceSealInterval: 0}, ms, bs, tm, clock.System)
	tr := topic0.NewTracker(topic0.DefaultPolicy(), ms)

	eng := ingest.NewEngine(ms, bs, lm, tm, cm, tr)
	qe := NewEngine(ms, bs, 64, 64, 64, 16, ActionError)
	return eng, qe, ms, bs
}

func b32(b byte) [32]byte {
	var v [32]byte
	v[31] = b
	return v
}

func TestQuerySingleBlockSingleLogByAddressAndTopic(t *testing.T) {
	eng, qe, _, _ := newTestStack(t)
	addr := core.Address{1}
	sig := b32(0xaa)

	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: addr, Topics: [][32]byte{sig}},
		},
	}
	_, err := eng.IngestBlock(context.Background(), block)
	require.NoError(t, err)

	logs, err := qe.Query(context.Background(), &Filter{
		Addresses: []core.Address{addr},
		Topics:    [4]TopicClause{{sig}},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, addr, logs[0].Address)
}

func TestQueryORAcrossAddresses(t *testing.T) {
	eng, qe, _, _ := newTestStack(t)
	a1 := core.Address{1}
	a2 := core.Address{2}

	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: a1, Topics: [][32]byte{b32(1)}},
			{Address: a2, Topics: [][32]byte{b32(2)}},
		},
	}
	_, err := eng.IngestBlock(context.Background(), block)
	require.NoError(t, err)

	logs, err := qe.Query(context.Background(), &Filter{Addresses: []core.Address{a1, a2}})
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestQueryBlockHashExclusiveWithRange(t *testing.T) {
	qe := NewEngine(memstore.NewMetaStore(), memstore.NewBlobStore(), 4, 4, 4, 16, ActionError)
	from := uint64(0)
	hash := core.Hash{1}
	_, err := qe.Query(context.Background(), &Filter{FromBlock: &from, BlockHash: &hash})
	require.Error(t, err)
	require.True(t, core.IsInvalidParams(err))
}

func TestQueryTopic0OnlyUsesBlockDrivenScan(t *testing.T) {
	eng, qe, _, _ := newTestStack(t)
	sig := b32(0xaa)
	addr := core.Address{7}

	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: addr, Topics: [][32]byte{sig}},
		},
	}
	_, err := eng.IngestBlock(context.Background(), block)
	require.NoError(t, err)

	logs, err := qe.Query(context.Background(), &Filter{Topics: [4]TopicClause{{sig}}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestQueryOrGuardrailExceeded(t *testing.T) {
	eng, _, ms, bs := newTestStack(t)
	_ = eng
	qe := NewEngine(ms, bs, 4, 4, 4, 2, ActionError)

	values := make(TopicClause, 3)
	for i := range values {
		values[i] = b32(byte(i))
	}
	_, err := qe.Query(context.Background(), &Filter{Topics: [4]TopicClause{{}, values}})
	require.Error(t, err)
	require.True(t, core.IsQueryTooBroad(err))
}

func TestQueryOrGuardrailBlockScanFallback(t *testing.T) {
	eng, _, ms, bs := newTestStack(t)
	addr := core.Address{3}
	sig := b32(0x01)
	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: addr, Topics: [][32]byte{sig, b32(0x11)}},
		},
	}
	_, err := eng.IngestBlock(context.Background(), block)
	require.NoError(t, err)

	qe := NewEngine(ms, bs, 4, 4, 4, 2, ActionBlockScan)
	values := TopicClause{b32(0x11), b32(0x22), b32(0x33)}
	logs, err := qe.Query(context.Background(), &Filter{Topics: [4]TopicClause{{}, values}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestQueryNoClausesScansExactRange(t *testing.T) {
	eng, qe, _, _ := newTestStack(t)
	addr := core.Address{4}
	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: addr, Topics: [][32]byte{b32(1)}},
			{Address: addr, Topics: [][32]byte{b32(2)}},
		},
	}
	_, err := eng.IngestBlock(context.Background(), block)
	require.NoError(t, err)

	logs, err := qe.Query(context.Background(), &Filter{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestQueryResultsSortedByPosition(t *testing.T) {
	eng, qe, _, _ := newTestStack(t)
	addr := core.Address{5}
	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: addr, Topics: [][32]byte{b32(1)}, TxIndex: 1, LogIndex: 0},
			{Address: addr, Topics: [][32]byte{b32(1)}, TxIndex: 0, LogIndex: 0},
		},
	}
	_, err := eng.IngestBlock(context.Background(), block)
	require.NoError(t, err)

	logs, err := qe.Query(context.Background(), &Filter{Addresses: []core.Address{addr}})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, uint32(0), logs[0].TxIndex)
	require.Equal(t, uint32(1), logs[1].TxIndex)
}

func TestQueryHeadSnapshotAdvancesWithIngest(t *testing.T) {
	eng, qe, _, _ := newTestStack(t)
	_, err := eng.IngestBlock(context.Background(), &core.FinalizedBlock{BlockNum: 0, BlockHash: core.Hash{1}})
	require.NoError(t, err)
	_, err = eng.IngestBlock(context.Background(), &core.FinalizedBlock{BlockNum: 1, BlockHash: core.Hash{2}, ParentHash: core.Hash{1}})
	require.NoError(t, err)

	head, err := qe.HeadSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), head)
}
