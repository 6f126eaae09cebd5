package chunk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store/memstore"
	"github.com/chainidx/finalidx/tail"
)

func TestSealPublishesChunkAndClearsTail(t *testing.T) {
	ms := memstore.NewMetaStore()
	bs := memstore.NewBlobStore()
	tm := tail.NewManager(ms, clock.System)
	cm := NewManager(Policy{TargetEntries: 10, MaintenanceSealInterval: time.Hour}, ms, bs, tm, clock.System)

	id := core.NewAddrStreamID(core.Address{9}, 0)
	for i := uint32(0); i < 5; i++ {
		tm.Append(id, i)
	}

	require.NoError(t, cm.Seal(context.Background(), id, 0))

	header, err := cm.Header(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, header.ChunkRefs, 1)
	require.Equal(t, uint32(5), header.ChunkRefs[0].Count)
	require.True(t, tm.Snapshot(id).IsEmpty())

	blobKey := core.KeyChunk(id, header.ChunkRefs[0].ChunkSeq)
	blob, found, err := bs.Get(context.Background(), blobKey)
	require.NoError(t, err)
	require.True(t, found)

	decoded, err := DecodeChunkBlob(blob)
	require.NoError(t, err)
	require.Equal(t, uint32(5), decoded.Count)
}

func TestSealOnEmptyTailIsNoop(t *testing.T) {
	ms := memstore.NewMetaStore()
	bs := memstore.NewBlobStore()
	tm := tail.NewManager(ms, clock.System)
	cm := NewManager(Policy{TargetEntries: 10}, ms, bs, tm, clock.System)

	id := core.NewAddrStreamID(core.Address{1}, 0)
	require.NoError(t, cm.Seal(context.Background(), id, 0))

	header, err := cm.Header(context.Background(), id)
	require.NoError(t, err)
	require.Empty(t, header.ChunkRefs)
}

func TestShouldSealOnEntryThreshold(t *testing.T) {
	cm := NewManager(Policy{TargetEntries: 3, MaintenanceSealInterval: time.Hour}, nil, nil, nil, clock.System)
	id := core.NewAddrStreamID(core.Address{1}, 0)
	require.False(t, cm.ShouldSeal(id, 2, 0))
	require.True(t, cm.ShouldSeal(id, 3, 0))
}
