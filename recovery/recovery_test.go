package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store/memstore"
)

type fakeWarmer struct {
	warmed []core.StreamID
	fail   map[string]bool
}

func (w *fakeWarmer) WarmManifest(ctx context.Context, id core.StreamID) error {
	if w.fail[string(id)] {
		return context.DeadlineExceeded
	}
	w.warmed = append(w.warmed, id)
	return nil
}

func TestBootstrapFreshStoreIsNotBootstrapped(t *testing.T) {
	ms := memstore.NewMetaStore()
	report, err := Bootstrap(context.Background(), ms, nil, nil)
	require.NoError(t, err)
	require.False(t, report.Bootstrapped)
}

func TestBootstrapReadsState(t *testing.T) {
	ms := memstore.NewMetaStore()
	state := &core.MetaState{IndexedFinalizedHead: 5, NextLogID: 42, WriterEpoch: 3}
	_, err := ms.PutIfAbsent(context.Background(), []byte(core.KeyMetaState), codec.EncodeMetaState(state), 3)
	require.NoError(t, err)

	report, err := Bootstrap(context.Background(), ms, nil, nil)
	require.NoError(t, err)
	require.True(t, report.Bootstrapped)
	require.Equal(t, uint64(5), report.IndexedHead)
	require.Equal(t, uint64(42), report.NextLogID)
}

func TestBootstrapWarmsConfiguredStreams(t *testing.T) {
	ms := memstore.NewMetaStore()
	state := &core.MetaState{IndexedFinalizedHead: 1, NextLogID: 2, WriterEpoch: 1}
	_, err := ms.PutIfAbsent(context.Background(), []byte(core.KeyMetaState), codec.EncodeMetaState(state), 1)
	require.NoError(t, err)

	id1 := core.NewAddrStreamID(core.Address{1}, 0)
	id2 := core.NewAddrStreamID(core.Address{2}, 0)
	warmer := &fakeWarmer{fail: map[string]bool{string(id2): true}}

	report, err := Bootstrap(context.Background(), ms, warmer, []core.StreamID{id1, id2})
	require.NoError(t, err)
	require.Equal(t, 1, report.WarmedStreams)
	require.Equal(t, 1, report.WarmupFailures)
}
