package bitmap_test

import (
	"testing"

	"github.com/iamNilotpal/ignite/pkg/bitmap"
	"github.com/stretchr/testify/require"
)

func TestRankSelectRoundTrip(t *testing.T) {
	b := bitmap.New()
	for _, i := range []uint32{1, 3, 4, 7} {
		b.Set(i)
	}
	require.True(t, b.Test(3))
	require.False(t, b.Test(2))
	require.Equal(t, uint64(4), b.Count())

	// rank1(5) = number of set bits in [0,5) = {1,3,4} = 3
	require.Equal(t, uint64(3), b.Rank1(5))
	// rank0(5) = 5 - 3 = 2 (bits 0 and 2 are unset)
	require.Equal(t, uint64(2), b.Rank0(5))

	pos, ok := b.Select1(0)
	require.True(t, ok)
	require.Equal(t, uint32(1), pos)

	pos, ok = b.Select1(2)
	require.True(t, ok)
	require.Equal(t, uint32(4), pos)

	_, ok = b.Select1(10)
	require.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := bitmap.New()
	for _, i := range []uint32{0, 2, 99, 1000} {
		b.Set(i)
	}
	data, err := b.Bytes()
	require.NoError(t, err)

	loaded, err := bitmap.FromBytes(data)
	require.NoError(t, err)
	require.Equal(t, b.Count(), loaded.Count())
	for _, i := range []uint32{0, 2, 99, 1000} {
		require.True(t, loaded.Test(i))
	}
	require.False(t, loaded.Test(3))
}

func TestZeroSeqLength(t *testing.T) {
	b := bitmap.New()
	// bit 0 marks start of a run; bits 1,2 belong to the same run (unset).
	b.Set(0)
	b.Set(3)
	require.Equal(t, uint32(2), b.ZeroSeqLength(1, 10))
}
