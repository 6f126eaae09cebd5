package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/chunk"
	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/lease"
	"github.com/chainidx/finalidx/store/memstore"
	"github.com/chainidx/finalidx/tail"
	"github.com/chainidx/finalidx/topic0"
)

func newTestEngine(t *testing.T) (*Engine, *lease.Manager) {
	t.Helper()
	ms := memstore.NewMetaStore()
	bs := memstore.NewBlobStore()
	lm := lease.NewManager(ms, "writer-1")
	_, err := lm.Acquire(context.Background())
	require.NoError(t, err)

	tm := tail.NewManager(ms, clock.System)
	cm := chunk.NewManager(chunk.Policy{TargetEntries: 1950, MaintenanceSealInterval: 0}, ms, bs, tm, clock.System)
	tr := topic0.NewTracker(topic0.DefaultPolicy(), ms)

	return NewEngine(ms, bs, lm, tm, cm, tr), lm
}

func block(num uint64, hash, parent core.Hash, logs ...core.LogInput) *core.FinalizedBlock {
	return &core.FinalizedBlock{BlockNum: num, BlockHash: hash, ParentHash: parent, Logs: logs}
}

func TestIngestSingleBlockSingleLog(t *testing.T) {
	eng, _ := newTestEngine(t)
	addr := core.Address{1}
	t0 := [32]byte{0xaa}
	t1 := [32]byte{0xbb}

	b0 := block(0, core.Hash{1}, core.Hash{}, core.LogInput{Address: addr, Topics: [][32]byte{t0, t1}})
	outcome, err := eng.IngestBlock(context.Background(), b0)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	b0 := block(0, core.Hash{1}, core.Hash{})
	_, err := eng.IngestBlock(context.Background(), b0)
	require.NoError(t, err)

	outcome, err := eng.IngestBlock(context.Background(), b0)
	require.NoError(t, err)
	require.Equal(t, AlreadyIngested, outcome)
}

func TestIngestOrderingViolation(t *testing.T) {
	eng, _ := newTestEngine(t)
	b0 := block(0, core.Hash{1}, core.Hash{})
	_, err := eng.IngestBlock(context.Background(), b0)
	require.NoError(t, err)

	b2 := block(2, core.Hash{3}, core.Hash{1})
	_, err = eng.IngestBlock(context.Background(), b2)
	require.Error(t, err)
	require.True(t, core.IsOrderingViolation(err))
}

func TestIngestFinalityViolationDegradesEngine(t *testing.T) {
	eng, _ := newTestEngine(t)
	b0 := block(0, core.Hash{1}, core.Hash{})
	_, err := eng.IngestBlock(context.Background(), b0)
	require.NoError(t, err)

	conflicting := block(0, core.Hash{0xff}, core.Hash{})
	_, err = eng.IngestBlock(context.Background(), conflicting)
	require.Error(t, err)
	require.True(t, core.IsFinalityViolation(err))
	require.True(t, eng.Degraded())

	_, err = eng.IngestBlock(context.Background(), block(1, core.Hash{2}, core.Hash{1}))
	require.Error(t, err)
}

func TestIngestAdvancesHeadAndNextLogID(t *testing.T) {
	eng, _ := newTestEngine(t)
	addr := core.Address{2}
	b0 := block(0, core.Hash{1}, core.Hash{},
		core.LogInput{Address: addr, Topics: [][32]byte{{1}}},
		core.LogInput{Address: addr, Topics: [][32]byte{{2}}},
	)
	_, err := eng.IngestBlock(context.Background(), b0)
	require.NoError(t, err)

	b1 := block(1, core.Hash{2}, core.Hash{1}, core.LogInput{Address: addr, Topics: [][32]byte{{3}}})
	outcome, err := eng.IngestBlock(context.Background(), b1)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)

	state, _, _, err := eng.readState(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), state.IndexedFinalizedHead)
	require.Equal(t, uint64(3), state.NextLogID)
}

func TestIngestRefusedWithoutLease(t *testing.T) {
	ms := memstore.NewMetaStore()
	bs := memstore.NewBlobStore()
	lm := lease.NewManager(ms, "writer-1") // never acquired
	tm := tail.NewManager(ms, clock.System)
	cm := chunk.NewManager(chunk.Policy{TargetEntries: 1950}, ms, bs, tm, clock.System)
	tr := topic0.NewTracker(topic0.DefaultPolicy(), ms)
	eng := NewEngine(ms, bs, lm, tm, cm, tr)

	_, err := eng.IngestBlock(context.Background(), block(0, core.Hash{1}, core.Hash{}))
	require.Error(t, err)
	require.True(t, core.IsLeaseLost(err))
}
