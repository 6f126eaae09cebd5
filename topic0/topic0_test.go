package topic0

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/store/memstore"
)

func TestHysteresisEnablesThenDisables(t *testing.T) {
	ms := memstore.NewMetaStore()
	tr := NewTracker(Policy{WindowLen: 1000, EnableRate: 0.001, DisableRate: 0.010}, ms)
	sig := [32]byte{1}

	// fill the window with the signature never present (rate 0 < 0.001)
	var lastMode = false
	for b := uint64(0); b < 1000; b++ {
		present := false // one presence in 1000 blocks would be exactly 0.001, not under it
		m, _, err := tr.Observe(context.Background(), sig, b, present, 0)
		require.NoError(t, err)
		lastMode = m.LogEnabled
	}
	require.True(t, lastMode, "expected sig to become log_enabled once rate stays under enable threshold")

	// now push a much higher rate to trigger disable
	for b := uint64(1000); b < 2000; b++ {
		present := b%10 == 0 // 10% rate, above disable threshold
		m, _, err := tr.Observe(context.Background(), sig, b, present, 0)
		require.NoError(t, err)
		lastMode = m.LogEnabled
	}
	require.False(t, lastMode, "expected sig to become log_disabled once rate exceeds disable threshold")
}

func TestObserveIsFenceChecked(t *testing.T) {
	ms := memstore.NewMetaStore()
	ms.SetEpoch(3)
	tr := NewTracker(DefaultPolicy(), ms)
	_, _, err := tr.Observe(context.Background(), [32]byte{2}, 0, true, 1)
	require.Error(t, err)
}
