package tail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store/memstore"
)

func testStreamID() core.StreamID {
	return core.NewAddrStreamID(core.Address{1, 2, 3}, 0)
}

func TestAppendIsIdempotent(t *testing.T) {
	m := NewManager(memstore.NewMetaStore(), clock.System)
	id := testStreamID()
	m.Append(id, 5)
	m.Append(id, 5)
	require.True(t, m.Contains(id, 5))
	require.Equal(t, uint64(1), m.Snapshot(id).GetCardinality())
}

func TestFlushAllPersistsAndClearsDirty(t *testing.T) {
	ms := memstore.NewMetaStore()
	m := NewManager(ms, clock.System)
	id := testStreamID()
	m.Append(id, 1)
	m.Append(id, 2)

	require.NoError(t, m.FlushAll(context.Background(), 0))
	require.Empty(t, m.DirtyStreams())

	bm, version, err := Load(context.Background(), ms, id)
	require.NoError(t, err)
	require.True(t, version > 0)
	require.True(t, bm.Contains(1))
	require.True(t, bm.Contains(2))
}

func TestClearRemovesSealedRange(t *testing.T) {
	m := NewManager(memstore.NewMetaStore(), clock.System)
	id := testStreamID()
	m.Append(id, 1)
	m.Append(id, 2)
	m.Append(id, 100)

	m.Clear(id, 2)
	snap := m.Snapshot(id)
	require.False(t, snap.Contains(1))
	require.False(t, snap.Contains(2))
	require.True(t, snap.Contains(100))
}

func TestFlushAllFenceRejected(t *testing.T) {
	ms := memstore.NewMetaStore()
	ms.SetEpoch(7)
	m := NewManager(ms, clock.System)
	id := testStreamID()
	m.Append(id, 1)

	err := m.FlushAll(context.Background(), 1)
	require.Error(t, err)
	require.True(t, core.IsFenceRejected(err))
}
