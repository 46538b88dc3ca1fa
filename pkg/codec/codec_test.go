package codec_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/iamNilotpal/ignite/pkg/codec"
	"github.com/stretchr/testify/require"
)

func TestInt64RoundTripAndOrder(t *testing.T) {
	values := []int64{math_MinInt64(), -1000, -1, 0, 1, 42, 1000, math_MaxInt64()}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = codec.EncodeInt64(v, nil)
		require.Equal(t, v, codec.DecodeInt64(encoded[i]))
		require.Len(t, encoded[i], 8)
	}
	for i := 1; i < len(encoded); i++ {
		require.True(t, bytes.Compare(encoded[i-1], encoded[i]) < 0, "encoding must preserve order at index %d", i)
	}
}

func TestFloat64RoundTripAndOrder(t *testing.T) {
	values := []float64{-100.5, -1.0, -0.0, 0.0, 0.5, 1.0, 100.25}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = codec.EncodeFloat64(v, nil)
		require.InDelta(t, v, codec.DecodeFloat64(encoded[i]), 1e-9)
	}
	sorted := make([][]byte, len(encoded))
	copy(sorted, encoded)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	require.Equal(t, encoded, sorted)
}

func TestCompareMatchesBytesCompare(t *testing.T) {
	a := []byte("abc")
	b := []byte("abd")
	require.Equal(t, bytes.Compare(a, b), codec.Compare(a, b))
	require.Equal(t, 0, codec.Compare(a, a))
}

func math_MinInt64() int64 { return -9223372036854775808 }
func math_MaxInt64() int64 { return 9223372036854775807 }
