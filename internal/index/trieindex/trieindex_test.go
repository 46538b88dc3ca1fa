package trieindex_test

import (
	"regexp"
	"testing"

	"github.com/iamNilotpal/ignite/internal/index/trieindex"
	"github.com/iamNilotpal/ignite/internal/schema"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestExactUnique(t *testing.T) {
	idx, err := trieindex.Build("by_email", schema.IndexUnique, false, []trieindex.Entry{
		{Key: []byte("a@x.com"), ID: 3},
		{Key: []byte("b@x.com"), ID: 7},
	})
	require.NoError(t, err)

	ids, err := idx.Exact([]byte("a@x.com"))
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids)
}

func TestExactDuplicable(t *testing.T) {
	idx, err := trieindex.Build("by_status", schema.IndexDuplicable, false, []trieindex.Entry{
		{Key: []byte("active"), ID: 1},
		{Key: []byte("active"), ID: 2},
		{Key: []byte("closed"), ID: 5},
	})
	require.NoError(t, err)

	ids, err := idx.Exact([]byte("active"))
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, ids)

	ids, err = idx.Exact([]byte("closed"))
	require.NoError(t, err)
	require.Equal(t, []int64{5}, ids)
}

func TestBuildRejectsDuplicateUniqueKey(t *testing.T) {
	_, err := trieindex.Build("by_email", schema.IndexUnique, false, []trieindex.Entry{
		{Key: []byte("a@x.com"), ID: 1},
		{Key: []byte("a@x.com"), ID: 2},
	})
	require.Error(t, err)
}

func TestMatchRegexRequiresEnabled(t *testing.T) {
	idx, err := trieindex.Build("by_name", schema.IndexUnique, true, []trieindex.Entry{
		{Key: []byte("user-1"), ID: 1},
		{Key: []byte("user-2"), ID: 2},
		{Key: []byte("admin-1"), ID: 3},
	})
	require.NoError(t, err)

	ids, err := idx.MatchRegex(regexp.MustCompile(`^user-`), 1<<20)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, ids)

	disabled, err := trieindex.Build("by_name", schema.IndexUnique, false, []trieindex.Entry{
		{Key: []byte("user-1"), ID: 1},
	})
	require.NoError(t, err)
	_, err = disabled.MatchRegex(regexp.MustCompile(`^user-`), 1<<20)
	require.ErrorIs(t, err, ierrors.ErrStoreInternal)
}

func TestCursorWalksInOrder(t *testing.T) {
	idx, err := trieindex.Build("by_name", schema.IndexUnique, false, []trieindex.Entry{
		{Key: []byte("apple"), ID: 1},
		{Key: []byte("banana"), ID: 2},
		{Key: []byte("cherry"), ID: 3},
	})
	require.NoError(t, err)

	c := idx.SeekLowerBound([]byte("banana"))
	var got []string
	for c.Valid() {
		got = append(got, string(c.Key()))
		c.Next()
	}
	require.Equal(t, []string{"banana", "cherry"}, got)
}
