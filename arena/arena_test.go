package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocGetRelease(t *testing.T) {
	a := New[string]()
	h1 := a.Alloc("a")
	h2 := a.Alloc("b")
	require.Equal(t, "a", a.Get(h1))
	require.Equal(t, "b", a.Get(h2))
	require.Equal(t, 2, a.Live())

	a.Set(h1, "aa")
	require.Equal(t, "aa", a.Get(h1))

	require.NoError(t, a.Release(h1))
	require.False(t, a.Valid(h1))
	require.Equal(t, 1, a.Live())
	require.NoError(t, a.Release(h2))
	require.NoError(t, a.Close())
}

func TestDoubleReleaseIsChecked(t *testing.T) {
	a := New[int]()
	h := a.Alloc(1)
	require.NoError(t, a.Release(h))
	err := a.Release(h)
	require.ErrorIs(t, err, ErrStaleHandle)
	require.Equal(t, 0, a.Live())
}

func TestReusedSlotInvalidatesOldHandle(t *testing.T) {
	a := New[int]()
	h1 := a.Alloc(1)
	require.NoError(t, a.Release(h1))
	h2 := a.Alloc(2)
	require.Equal(t, h1.index, h2.index)
	require.False(t, a.Valid(h1))
	require.True(t, a.Valid(h2))
	require.Error(t, a.Release(h1))
	require.Equal(t, 2, a.Get(h2))
	require.Panics(t, func() {
		a.Get(h1)
	})
}

func TestZeroHandleInvalid(t *testing.T) {
	a := New[int]()
	var h Handle
	require.True(t, h.IsZero())
	require.False(t, a.Valid(h))
	require.Error(t, a.Release(h))
}

func TestCloseWithLiveHandles(t *testing.T) {
	a := New[int]()
	a.Alloc(1)
	a.Alloc(2)
	require.Error(t, a.Close())
	a.Reset()
	require.Equal(t, 0, a.Live())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.Panics(t, func() {
		a.Alloc(3)
	})
}
