package triestore_test

import (
	"context"
	"testing"

	"github.com/iamNilotpal/ignite/internal/triestore"
	"github.com/stretchr/testify/require"
)

func TestBuildDedupesAndPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	rows := [][]byte{[]byte("active"), []byte("inactive"), []byte("active"), []byte("active")}

	s, err := triestore.Build(dir, rows)
	require.NoError(t, err)

	require.Equal(t, int64(4), s.NumRows())
	for i, want := range rows {
		v, err := s.GetValueAppend(context.Background(), int64(i), nil)
		require.NoError(t, err)
		require.Equal(t, string(want), string(v))
	}
}

func TestReopenAfterBuild(t *testing.T) {
	dir := t.TempDir()
	rows := [][]byte{[]byte("x"), []byte("y"), []byte("x")}
	_, err := triestore.Build(dir, rows)
	require.NoError(t, err)

	reopened, err := triestore.Open(dir)
	require.NoError(t, err)
	require.Equal(t, int64(3), reopened.NumRows())

	v, err := reopened.GetValueAppend(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Equal(t, "x", string(v))
}
