package trie_test

import (
	"regexp"
	"testing"

	"github.com/iamNilotpal/ignite/internal/trie"
	"github.com/stretchr/testify/require"
)

func keys(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestLookupAndBounds(t *testing.T) {
	tr, err := trie.Build(keys("apple", "banana", "cherry", "date"))
	require.NoError(t, err)
	require.Equal(t, 4, tr.NumKeys())

	id, ok := tr.Lookup([]byte("banana"))
	require.True(t, ok)
	require.Equal(t, int64(1), id)

	_, ok = tr.Lookup([]byte("blueberry"))
	require.False(t, ok)

	require.Equal(t, int64(1), tr.LowerBound([]byte("banana")))
	require.Equal(t, int64(2), tr.UpperBound([]byte("banana")))
}

func TestSeekMaxPrefix(t *testing.T) {
	tr, err := trie.Build(keys("ab", "abc", "abd", "b"))
	require.NoError(t, err)

	lo, hi := tr.SeekMaxPrefix([]byte("ab"))
	require.Equal(t, int64(0), lo)
	require.Equal(t, int64(3), hi)
}

func TestMatchRegex(t *testing.T) {
	tr, err := trie.Build(keys("user-1", "user-2", "admin-1"))
	require.NoError(t, err)

	ids, err := tr.MatchRegex(regexp.MustCompile(`^user-`), 1<<20)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{0, 1}, ids)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tr, err := trie.Build(keys("a", "ab", "abc"))
	require.NoError(t, err)

	data := tr.Save()
	loaded, err := trie.Load(data)
	require.NoError(t, err)
	require.Equal(t, tr.NumKeys(), loaded.NumKeys())

	id, ok := loaded.Lookup([]byte("ab"))
	require.True(t, ok)
	require.Equal(t, int64(1), id)
}
