package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

func TestMetaStorePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore()
	s.SetEpoch(1)

	res, err := s.PutIfAbsent(ctx, []byte("k"), []byte("v1"), 1)
	require.NoError(t, err)
	require.Equal(t, store.Applied, res.Outcome)

	res, err = s.PutIfAbsent(ctx, []byte("k"), []byte("v2"), 1)
	require.NoError(t, err)
	require.Equal(t, store.NotApplied, res.Outcome)
	require.Equal(t, []byte("v1"), res.CurrentValue)
}

func TestMetaStorePutIfVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore()
	s.SetEpoch(1)

	res, err := s.PutIfVersion(ctx, []byte("k"), []byte("v1"), 0, 1)
	require.NoError(t, err)
	require.Equal(t, store.Applied, res.Outcome)
	require.EqualValues(t, 1, res.NewVersion)

	res, err = s.PutIfVersion(ctx, []byte("k"), []byte("v2"), 1, 1)
	require.NoError(t, err)
	require.Equal(t, store.Applied, res.Outcome)
	require.EqualValues(t, 2, res.NewVersion)

	// stale version is rejected without mutating state.
	res, err = s.PutIfVersion(ctx, []byte("k"), []byte("v3"), 1, 1)
	require.NoError(t, err)
	require.Equal(t, store.NotApplied, res.Outcome)

	val, ver, ok, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), val)
	require.EqualValues(t, 2, ver)
}

func TestMetaStoreFenceRejection(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore()
	s.SetEpoch(5)

	_, err := s.PutIfVersion(ctx, []byte("k"), []byte("v"), 0, 4)
	require.Error(t, err)
	require.True(t, core.IsFenceRejected(err))
}

func TestMetaStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore()
	s.SetEpoch(1)
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		_, err := s.PutIfAbsent(ctx, []byte(k), []byte(k), 1)
		require.NoError(t, err)
	}

	it, err := s.ListPrefix(ctx, []byte("a/"))
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, []string{"a/1", "a/2"}, got)
}

func TestBlobStoreIdempotentPut(t *testing.T) {
	ctx := context.Background()
	b := NewBlobStore()
	require.NoError(t, b.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, b.Put(ctx, []byte("k"), []byte("v"))) // identical bytes, no-op

	err := b.Put(ctx, []byte("k"), []byte("different"))
	require.Error(t, err)
	require.True(t, core.IsCorruption(err))

	val, ok, err := b.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)
}

func TestBlobStoreDeleteBestEffort(t *testing.T) {
	ctx := context.Background()
	b := NewBlobStore()
	require.NoError(t, b.Delete(ctx, []byte("absent")))
}
