package cache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRU(2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a"

	_, ok := c.Get("a")
	require.False(t, ok)
	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestLRUInvalidate(t *testing.T) {
	c := NewLRU(4)
	c.Put("a", 1)
	c.Invalidate("a")
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestCoalescingLoaderSingleFlight(t *testing.T) {
	c := NewCoalescingLoader(NewLRU(4))
	var calls int64

	load := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		return "value", nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, "value", v)

	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, "value", v)
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
}
