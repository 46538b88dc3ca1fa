package kvindex_test

import (
	"strings"
	"testing"

	"github.com/iamNilotpal/ignite/internal/index/kvindex"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/stretchr/testify/require"
)

func TestUniqueInsertRejectsDuplicate(t *testing.T) {
	idx := kvindex.New("by_email", schema.IndexUnique)
	require.NoError(t, idx.Insert([]byte("a@x.com"), 1))
	err := idx.Insert([]byte("a@x.com"), 2)
	require.Error(t, err)
}

func TestDuplicableInsertAccumulates(t *testing.T) {
	idx := kvindex.New("by_status", schema.IndexDuplicable)
	require.NoError(t, idx.Insert([]byte("active"), 1))
	require.NoError(t, idx.Insert([]byte("active"), 2))

	ids, err := idx.Exact([]byte("active"))
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestRemoveDeletesEmptyKey(t *testing.T) {
	idx := kvindex.New("by_status", schema.IndexDuplicable)
	require.NoError(t, idx.Insert([]byte("active"), 1))
	require.NoError(t, idx.Remove([]byte("active"), 1))
	require.False(t, idx.KeyExists([]byte("active")))
}

func TestSeekLowerBoundOrdering(t *testing.T) {
	idx := kvindex.New("by_name", schema.IndexUnique)
	for i, k := range []string{"banana", "apple", "cherry"} {
		require.NoError(t, idx.Insert([]byte(k), int64(i)))
	}

	c := idx.SeekLowerBound([]byte("b"))
	var got []string
	for c.Valid() {
		got = append(got, string(c.Key()))
		c.Next()
	}
	require.Equal(t, []string{"banana", "cherry"}, got)
}

func TestSeekUpperBoundThenPrevWalksBackward(t *testing.T) {
	idx := kvindex.New("by_name", schema.IndexUnique)
	for i, k := range []string{"banana", "apple", "cherry"} {
		require.NoError(t, idx.Insert([]byte(k), int64(i)))
	}

	c := idx.SeekUpperBound([]byte("banana"))
	require.True(t, c.Prev())
	var got []string
	for c.Valid() {
		got = append(got, string(c.Key()))
		c.Prev()
	}
	require.Equal(t, []string{"banana", "apple"}, got)
}

func TestSeekMaxPrefix(t *testing.T) {
	idx := kvindex.New("by_name", schema.IndexUnique)
	for i, k := range []string{"user-1", "user-2", "admin-1"} {
		require.NoError(t, idx.Insert([]byte(k), int64(i)))
	}

	lo, _ := idx.SeekMaxPrefix([]byte("user-"))
	var got []string
	for lo.Valid() && strings.HasPrefix(string(lo.Key()), "user-") {
		got = append(got, string(lo.Key()))
		lo.Next()
	}
	require.ElementsMatch(t, []string{"user-1", "user-2"}, got)
}
