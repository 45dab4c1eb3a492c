package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLen(t *testing.T) {
	require.Equal(t, 1, Len(1))
	require.Equal(t, 1, Len(8))
	require.Equal(t, 2, Len(9))
	require.Equal(t, 4, Len(32))
	require.Equal(t, 5, Len(33))
}

func TestSetClearTest(t *testing.T) {
	b := New(Len(20))
	require.False(t, b.Test(17))
	b.Set(17)
	require.True(t, b.Test(17))
	b.Clear(17)
	require.False(t, b.Test(17))
}

func TestOrIntoAndAndNotInto(t *testing.T) {
	a := New(2)
	b := New(2)
	a.Set(3)
	b.Set(10)
	OrInto(a, b)
	require.True(t, a.Test(3))
	require.True(t, a.Test(10))

	AndNotInto(a, b)
	require.True(t, a.Test(3))
	require.False(t, a.Test(10))
}

func TestInvert(t *testing.T) {
	src := New(1)
	src.Set(0)
	dst := New(1)
	Invert(dst, src)
	require.False(t, dst.Test(0))
	require.True(t, dst.Test(1))
}

func TestContainsMask(t *testing.T) {
	b := New(1)
	mask := New(1)
	mask.Set(0)
	mask.Set(1)
	require.False(t, ContainsMask(b, mask))
	b.Set(0)
	require.False(t, ContainsMask(b, mask))
	b.Set(1)
	require.True(t, ContainsMask(b, mask))
}

func TestPopcountAndClone(t *testing.T) {
	b := New(2)
	b.Set(0)
	b.Set(1)
	b.Set(15)
	require.Equal(t, 3, b.Popcount())

	c := b.Clone()
	require.True(t, Equal(b, c))
	c.Clear(0)
	require.False(t, Equal(b, c))
}
