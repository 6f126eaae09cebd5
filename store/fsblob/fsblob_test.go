package fsblob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/core"
)

func TestPutGetIdempotentAndDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	key := []byte("chunks/deadbeef/0")
	require.NoError(t, s.Put(ctx, key, []byte("payload")))
	require.NoError(t, s.Put(ctx, key, []byte("payload"))) // idempotent

	val, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), val)

	err = s.Put(ctx, key, []byte("different"))
	require.Error(t, err)
	require.True(t, core.IsCorruption(err))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key)) // best-effort

	_, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}
