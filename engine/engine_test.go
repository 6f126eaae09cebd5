package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/query"
	"github.com/chainidx/finalidx/store/memstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(context.Background(), Options{
		Meta:     memstore.NewMetaStore(),
		Blobs:    memstore.NewBlobStore(),
		WriterID: "writer-1",
	})
	require.NoError(t, err)
	return eng
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(context.Background(), Options{WriterID: "writer-1"})
	require.Error(t, err)
}

func TestIngestQueryRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	addr := core.Address{9}
	sig := [32]byte{0xaa}

	block := &core.FinalizedBlock{
		BlockNum:  0,
		BlockHash: core.Hash{1},
		Logs: []core.LogInput{
			{Address: addr, Topics: [][32]byte{sig}},
		},
	}
	outcome, err := eng.IngestFinalizedBlock(context.Background(), block)
	require.NoError(t, err)
	require.Equal(t, 0, int(outcome))

	head, err := eng.IndexedFinalizedHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)

	logs, err := eng.QueryFinalized(context.Background(), &query.Filter{Addresses: []core.Address{addr}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestHealthReflectsLeaseHeld(t *testing.T) {
	eng := newTestEngine(t)
	report, err := eng.Health(context.Background())
	require.NoError(t, err)
	require.True(t, report.LeaseHeld)
	require.False(t, eng.Degraded())
}

func TestSweepRunsWithNoOrphans(t *testing.T) {
	eng := newTestEngine(t)
	n, err := eng.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
